package table_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/okian/dreamscore/internal/domain/table"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("Given CSV input", t, func() {
		Convey("When the file is well formed", func() {
			tbl, err := table.Parse(strings.NewReader("SUBJECTID, SHEDDING_SC1\ns1,0.5\ns2,1\n"))

			Convey("Then header names should be trimmed and rows kept", func() {
				So(err, ShouldBeNil)
				So(tbl.Columns(), ShouldResemble, []string{"SUBJECTID", "SHEDDING_SC1"})
				So(tbl.Has("SHEDDING_SC1"), ShouldBeTrue)
				So(tbl.Len(), ShouldEqual, 2)
				col, ok := tbl.Column("SHEDDING_SC1")
				So(ok, ShouldBeTrue)
				So(col, ShouldResemble, []string{"0.5", "1"})
			})
		})

		Convey("When the file starts with a byte order mark", func() {
			tbl, err := table.Parse(strings.NewReader("\ufeffSUBJECTID,X\na,1\n"))

			Convey("Then the first column should still be found", func() {
				So(err, ShouldBeNil)
				So(tbl.Has("SUBJECTID"), ShouldBeTrue)
			})
		})

		Convey("When a row is short", func() {
			tbl, err := table.Parse(strings.NewReader("SUBJECTID,X\na\n"))

			Convey("Then it should be padded with an empty cell", func() {
				So(err, ShouldBeNil)
				col, _ := tbl.Column("X")
				So(col, ShouldResemble, []string{""})
			})
		})

		Convey("When a row has more fields than the header", func() {
			_, err := table.Parse(strings.NewReader("SUBJECTID,X\na,1,2\n"))

			Convey("Then it should be malformed", func() {
				So(errors.Is(err, table.ErrMalformed), ShouldBeTrue)
			})
		})

		Convey("When the input is empty", func() {
			_, err := table.Parse(strings.NewReader(""))
			So(errors.Is(err, table.ErrMalformed), ShouldBeTrue)
		})

		Convey("When quoting is broken", func() {
			_, err := table.Parse(strings.NewReader("SUBJECTID,X\n\"a,1\n"))
			So(errors.Is(err, table.ErrMalformed), ShouldBeTrue)
		})

		Convey("When an unknown column is requested", func() {
			tbl, _ := table.Parse(strings.NewReader("A\n1\n"))
			_, ok := tbl.Column("B")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestWriteCSV(t *testing.T) {
	Convey("Given a table built in memory", t, func() {
		tbl, err := table.New([]string{"SUBJECTID", "X"}, [][]string{{"a", "1"}, {"b"}})
		So(err, ShouldBeNil)

		Convey("When writing it out and reading it back", func() {
			var buf bytes.Buffer
			So(tbl.WriteCSV(&buf), ShouldBeNil)
			back, err := table.Parse(&buf)

			Convey("Then the content should survive", func() {
				So(err, ShouldBeNil)
				So(back.Len(), ShouldEqual, 2)
				col, _ := back.Column("X")
				So(col, ShouldResemble, []string{"1", ""})
			})
		})
	})
}

func TestCells(t *testing.T) {
	Convey("Given cell values", t, func() {
		Convey("Missing tokens should be detected", func() {
			for _, cell := range []string{"", " ", "NA", "NaN", "nan", "N/A", "NULL", "null", "None", "-NaN", "#N/A"} {
				So(table.IsMissing(cell), ShouldBeTrue)
			}
			So(table.IsMissing("0"), ShouldBeFalse)
			So(table.IsMissing("abc"), ShouldBeFalse)
		})

		Convey("Numbers should parse when finite", func() {
			v, ok := table.ParseNumber(" 1e-3 ")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, 0.001)
			_, ok = table.ParseNumber("7")
			So(ok, ShouldBeTrue)
			v, ok = table.ParseNumber("-2.5E+2")
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, -250)
			for _, cell := range []string{"yes", "Inf", "-inf", "NaN", "1,5", "0x1p-2", "0X10", "1_0", "Infinity"} {
				_, ok = table.ParseNumber(cell)
				So(ok, ShouldBeFalse)
			}
		})
	})
}
