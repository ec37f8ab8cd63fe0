// Package table parses the comma-delimited files exchanged with participants.
package table

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed is returned when the input cannot be read as a delimited table.
var ErrMalformed = errors.New("submission must be a comma-delimited file")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Tokens read as missing values, matching the usual dataframe NA set.
var missingTokens = map[string]struct{}{ //nolint:gochecknoglobals // lookup table
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// Table is a parsed CSV file with a header row. Cells are kept as text.
type Table struct {
	header []string
	index  map[string]int
	rows   [][]string
}

// Parse reads a header row followed by data rows. Rows shorter than the
// header are padded with empty cells; longer rows make the file malformed.
func Parse(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(prefix, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err) //nolint:errorlint // csv error is detail only
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err) //nolint:errorlint // csv error is detail only
		}
		if len(record) > len(header) {
			line, _ := reader.FieldPos(0)
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", ErrMalformed, line, len(record), len(header))
		}
		rows = append(rows, record)
	}
	return New(header, rows)
}

// New builds a table from a header and rows.
func New(header []string, rows [][]string) (*Table, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: missing header", ErrMalformed)
	}
	t := &Table{
		header: make([]string, len(header)),
		index:  make(map[string]int, len(header)),
		rows:   make([][]string, 0, len(rows)),
	}
	for i, h := range header {
		name := strings.TrimSpace(h)
		t.header[i] = name
		if _, dup := t.index[name]; !dup {
			t.index[name] = i
		}
	}
	for _, row := range rows {
		if len(row) > len(header) {
			return nil, fmt.Errorf("%w: row has %d fields, header has %d", ErrMalformed, len(row), len(header))
		}
		padded := make([]string, len(header))
		copy(padded, row)
		t.rows = append(t.rows, padded)
	}
	return t, nil
}

// Columns returns the header names in file order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.header))
	copy(out, t.header)
	return out
}

// Has reports whether the named column exists.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Column returns the cells of the named column.
func (t *Table) Column(name string) ([]string, bool) {
	idx, ok := t.index[name]
	if !ok {
		return nil, false
	}
	out := make([]string, len(t.rows))
	for i, row := range t.rows {
		out[i] = row[idx]
	}
	return out, true
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// WriteCSV writes the table back out with its header.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	return nil
}

// IsMissing reports whether a cell holds no value.
func IsMissing(cell string) bool {
	_, ok := missingTokens[strings.TrimSpace(cell)]
	return ok
}

// ParseNumber parses a finite decimal integer or floating point cell. Go-only
// literal forms such as hex floats and digit separators are not numbers here.
func ParseNumber(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if strings.IndexFunc(cell, notDecimal) >= 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func notDecimal(r rune) bool {
	return !strings.ContainsRune("0123456789+-.eE", r)
}
