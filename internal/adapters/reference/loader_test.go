package reference_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/dreamscore/internal/adapters/reference"
	"github.com/okian/dreamscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func writeFile(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoader(t *testing.T) {
	Convey("Given a directory of reference files", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "gold.csv", "SUBJECTID,SHEDDING_SC1\na,1\nb,0\n")
		writeFile(t, dir, "tpl.csv", "SUBJECTID,SHEDDING_SC1\na,\nb,\n")
		l := reference.NewLoader(dir)
		defer func() { _ = l.Close() }()
		ctx := context.Background()

		Convey("When loading the gold standard twice", func() {
			first, err1 := l.Standard(ctx, model.SC1, "gold.csv")
			second, err2 := l.Standard(ctx, model.SC1, "gold.csv")

			Convey("Then the second call should come from the cache", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldPointTo, second)
				So(first.Len(), ShouldEqual, 2)
				So(l.Cached(), ShouldEqual, 1)
			})
		})

		Convey("When loading a template", func() {
			ids, err := l.Template(ctx, model.SC1, "tpl.csv")

			Convey("Then placeholder outcomes should be accepted", func() {
				So(err, ShouldBeNil)
				So(ids.IDs(), ShouldResemble, []string{"a", "b"})
			})
		})

		Convey("When the file is invalidated explicitly", func() {
			_, _ = l.Standard(ctx, model.SC1, "gold.csv")
			writeFile(t, dir, "gold.csv", "SUBJECTID,SHEDDING_SC1\na,1\nb,0\nc,1\n")
			n := l.Invalidate("gold.csv")
			std, err := l.Standard(ctx, model.SC1, "gold.csv")

			Convey("Then the new content should be read", func() {
				So(n, ShouldEqual, 1)
				So(err, ShouldBeNil)
				So(std.Len(), ShouldEqual, 3)
			})
		})

		Convey("When the file is missing", func() {
			_, err := l.Standard(ctx, model.SC3, "nope.csv")
			So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
		})

		Convey("When the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := l.Standard(cctx, model.SC1, "gold.csv")
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})

		Convey("When caching is disabled", func() {
			nc := reference.NewLoader(dir, reference.WithCache(false))
			a, _ := nc.Standard(ctx, model.SC1, "gold.csv")
			b, _ := nc.Standard(ctx, model.SC1, "gold.csv")
			So(a, ShouldNotPointTo, b)
			So(nc.Cached(), ShouldEqual, 0)
		})
	})
}

func TestLoaderWatch(t *testing.T) {
	Convey("Given a watched reference directory", t, func() {
		dir := t.TempDir()
		writeFile(t, dir, "gold.csv", "SUBJECTID,LOGSYMPTSCORE_SC3\na,1\nb,2\n")
		l := reference.NewLoader(dir)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		defer func() { _ = l.Close() }()

		So(l.Watch(ctx), ShouldBeNil)
		So(errors.Is(l.Watch(ctx), reference.ErrWatching), ShouldBeTrue)

		_, err := l.Standard(ctx, model.SC3, "gold.csv")
		So(err, ShouldBeNil)
		So(l.Cached(), ShouldEqual, 1)

		Convey("When the file is rewritten", func() {
			writeFile(t, dir, "gold.csv", "SUBJECTID,LOGSYMPTSCORE_SC3\na,1\nb,2\nc,3\n")

			Convey("Then the cache entry should be dropped", func() {
				deadline := time.Now().Add(5 * time.Second)
				for l.Cached() > 0 && time.Now().Before(deadline) {
					time.Sleep(10 * time.Millisecond)
				}
				So(l.Cached(), ShouldEqual, 0)
				std, err := l.Standard(ctx, model.SC3, "gold.csv")
				So(err, ShouldBeNil)
				So(std.Len(), ShouldEqual, 3)
			})
		})
	})
}
