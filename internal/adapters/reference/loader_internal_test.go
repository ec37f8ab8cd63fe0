package reference

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/dreamscore/internal/domain/gold"
	"github.com/okian/dreamscore/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestInvalidateDuringRead(t *testing.T) {
	Convey("Given a file that changes while it is being read", t, func() {
		dir := t.TempDir()
		path := filepath.Join(dir, "gold.csv")
		So(os.WriteFile(path, []byte("SUBJECTID,SHEDDING_SC1\na,1\nb,0\n"), 0o600), ShouldBeNil)
		l := NewLoader(dir)
		ctx := context.Background()
		key := cacheKey{kind: kindStandard, question: model.SC1.Key}

		e, err := l.get(ctx, key, "gold.csv", func(f *os.File) (entry, error) {
			std, err := gold.Load(f, model.SC1)
			l.Invalidate(path)
			return entry{standard: std}, err
		})

		Convey("Then the read result should be returned but not cached", func() {
			So(err, ShouldBeNil)
			So(e.standard, ShouldNotBeNil)
			So(l.Cached(), ShouldEqual, 0)
		})

		Convey("Then the next read should be cached again", func() {
			_, err := l.Standard(ctx, model.SC1, "gold.csv")
			So(err, ShouldBeNil)
			So(l.Cached(), ShouldEqual, 1)
		})
	})
}
