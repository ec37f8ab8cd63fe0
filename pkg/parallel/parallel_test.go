package parallel_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/okian/dreamscore/pkg/parallel"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMap(t *testing.T) {
	Convey("Given an index function", t, func() {
		square := func(_ context.Context, i int) (int, error) { return i * i, nil }

		Convey("When run serially and in parallel", func() {
			serial, errS := parallel.Map(context.Background(), 1000, 1, square)
			par, errP := parallel.Map(context.Background(), 1000, 8, square)

			Convey("Then both should return every result in index order", func() {
				So(errS, ShouldBeNil)
				So(errP, ShouldBeNil)
				So(len(par), ShouldEqual, 1000)
				So(par, ShouldResemble, serial)
				So(par[999], ShouldEqual, 999*999)
			})
		})

		Convey("When there are more workers than items", func() {
			out, err := parallel.Map(context.Background(), 3, 64, square)
			So(err, ShouldBeNil)
			So(out, ShouldResemble, []int{0, 1, 4})
		})

		Convey("When n is zero", func() {
			out, err := parallel.Map(context.Background(), 0, 4, square)
			So(err, ShouldBeNil)
			So(out, ShouldBeEmpty)
		})
	})

	Convey("Given a function that fails", t, func() {
		boom := errors.New("boom")
		var calls atomic.Int64
		fn := func(_ context.Context, i int) (int, error) {
			calls.Add(1)
			if i == 5 {
				return 0, boom
			}
			return i, nil
		}

		Convey("When run serially", func() {
			_, err := parallel.Map(context.Background(), 100, 1, fn)

			Convey("Then it should stop at the failing index", func() {
				So(errors.Is(err, boom), ShouldBeTrue)
				So(calls.Load(), ShouldEqual, 6)
			})
		})

		Convey("When run in parallel", func() {
			_, err := parallel.Map(context.Background(), 100, 4, fn)
			So(errors.Is(err, boom), ShouldBeTrue)
		})
	})

	Convey("Given a cancelled context", t, func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := parallel.Map(ctx, 10, 1, func(_ context.Context, i int) (int, error) { return i, nil })
		So(errors.Is(err, context.Canceled), ShouldBeTrue)
	})
}
