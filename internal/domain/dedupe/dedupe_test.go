package dedupe_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/okian/dreamscore/internal/domain/dedupe"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInMemoryDeduper(t *testing.T) {
	ctx := context.Background()

	Convey("Given a new InMemoryDeduper", t, func() {
		Convey("When recording submissions", func() {
			d := dedupe.NewInMemoryDeduper()

			Convey("And the submission is new", func() {
				seen := d.SeenAndRecord(ctx, "sub-1")

				Convey("Then it should return false and record it", func() {
					So(seen, ShouldBeFalse)
					So(d.Size(), ShouldEqual, 1)
				})
			})

			Convey("And the submission was already seen", func() {
				d.SeenAndRecord(ctx, "sub-1")
				seen := d.SeenAndRecord(ctx, "sub-1")

				Convey("Then it should return true without growing", func() {
					So(seen, ShouldBeTrue)
					So(d.Size(), ShouldEqual, 1)
				})
			})
		})

		Convey("When unrecording submissions", func() {
			d := dedupe.NewInMemoryDeduper()
			d.SeenAndRecord(ctx, "sub-1")
			d.SeenAndRecord(ctx, "sub-2")

			d.Unrecord(ctx, "sub-1")
			d.Unrecord(ctx, "missing")

			Convey("Then only the known id should be forgotten", func() {
				So(d.Size(), ShouldEqual, 1)
				So(d.SeenAndRecord(ctx, "sub-1"), ShouldBeFalse)
				So(d.SeenAndRecord(ctx, "sub-2"), ShouldBeTrue)
			})
		})

		Convey("When using bounded mode at capacity", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(3))
			for _, id := range []string{"a", "b", "c"} {
				d.SeenAndRecord(ctx, id)
			}
			d.SeenAndRecord(ctx, "d")

			Convey("Then the oldest id should be evicted", func() {
				So(d.Size(), ShouldEqual, 3)
				So(d.SeenAndRecord(ctx, "d"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "c"), ShouldBeTrue)
				So(d.SeenAndRecord(ctx, "a"), ShouldBeFalse)
			})
		})

		Convey("When an unrecorded id frees a slot", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(2))
			d.SeenAndRecord(ctx, "a")
			d.SeenAndRecord(ctx, "b")
			d.Unrecord(ctx, "a")
			d.SeenAndRecord(ctx, "c")

			Convey("Then nothing else should be evicted", func() {
				So(d.Size(), ShouldEqual, 2)
				So(d.SeenAndRecord(ctx, "b"), ShouldBeTrue)
			})
		})

		Convey("When using unbounded mode", func() {
			d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(0))
			for i := range 1000 {
				d.SeenAndRecord(ctx, fmt.Sprintf("sub-%d", i))
			}

			Convey("Then nothing should be evicted", func() {
				So(d.Size(), ShouldEqual, 1000)
				So(d.SeenAndRecord(ctx, "sub-0"), ShouldBeTrue)
			})
		})
	})

	Convey("Given a deduper with concurrent access", t, func() {
		d := dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(-1))

		Convey("When goroutines race on the same ids", func() {
			var wg sync.WaitGroup
			var mu sync.Mutex
			fresh := 0
			for g := range 8 {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := range 100 {
						if !d.SeenAndRecord(ctx, fmt.Sprintf("sub-%d", (i+g)%100)) {
							mu.Lock()
							fresh++
							mu.Unlock()
						}
					}
				}(g)
			}
			wg.Wait()

			Convey("Then each id should be new exactly once", func() {
				So(fresh, ShouldEqual, 100)
				So(d.Size(), ShouldEqual, 100)
			})
		})
	})
}
