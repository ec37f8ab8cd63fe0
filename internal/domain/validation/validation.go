// Package validation checks submitted tables against a question's reference subjects.
package validation

import (
	"fmt"
	"io"
	"strings"

	"github.com/okian/dreamscore/internal/domain/model"
	"github.com/okian/dreamscore/internal/domain/table"
)

// Reference is the identifier universe a submission must match.
type Reference interface {
	IDs() []string
	Has(id string) bool
}

// Parse reads a submission. Unreadable input fails the parse check and
// unwraps to table.ErrMalformed.
func Parse(r io.Reader) (*table.Table, error) {
	t, err := table.Parse(r)
	if err != nil {
		return nil, &Error{Check: CheckParse, Message: table.ErrMalformed.Error(), cause: err}
	}
	return t, nil
}

// Validate applies every rule in order and stops at the first failure.
func Validate(sub *table.Table, ref Reference, q model.Question) (bool, error) {
	columns := strings.Join(sub.Columns(), ",")

	ids, ok := sub.Column(model.IDColumn)
	if !ok {
		return false, &Error{
			Check:   CheckIDColumn,
			Message: fmt.Sprintf("%s must be one of the column headers\nYour column headers= %s", model.IDColumn, columns),
			Values:  sub.Columns(),
		}
	}
	cells, ok := sub.Column(q.OutcomeColumn)
	if !ok {
		return false, &Error{
			Check:   CheckOutcomeColumn,
			Message: fmt.Sprintf("%s must be one of the column headers for %s\nYour column headers= %s", q.OutcomeColumn, q.Key, columns),
			Values:  sub.Columns(),
		}
	}

	if dups := duplicates(ids); len(dups) > 0 {
		return false, &Error{
			Check:   CheckDuplicateIDs,
			Message: fmt.Sprintf("No duplicate %s allowed.\nDuplicated values=%s", model.IDColumn, strings.Join(dups, ",")),
			Values:  dups,
		}
	}

	var unknown []string
	submitted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		submitted[id] = struct{}{}
		if !ref.Has(id) {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return false, &Error{
			Check:   CheckUnknownIDs,
			Message: fmt.Sprintf("Must have all %ss.\n%s not part of template %ss", model.IDColumn, strings.Join(unknown, ","), model.IDColumn),
			Values:  unknown,
		}
	}

	var missing []string
	for _, id := range ref.IDs() {
		if _, ok := submitted[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return false, &Error{
			Check:   CheckMissingIDs,
			Message: fmt.Sprintf("Can't have %ss that don't exist in the template.\nYou are missing %s", model.IDColumn, strings.Join(missing, ",")),
			Values:  missing,
		}
	}

	var empty []string
	for i, cell := range cells {
		if table.IsMissing(cell) {
			empty = append(empty, ids[i])
		}
	}
	if len(empty) > 0 {
		return false, &Error{Check: CheckMissingValues, Message: "NA values are not allowed", Values: empty}
	}

	var nonNumeric []string
	for i, cell := range cells {
		if _, ok := table.ParseNumber(cell); !ok {
			nonNumeric = append(nonNumeric, ids[i])
		}
	}
	if len(nonNumeric) > 0 {
		return false, &Error{Check: CheckNumeric, Message: "Submissions must be numerical values", Values: nonNumeric}
	}
	return true, nil
}

// duplicates lists each repeated identifier once, in order of first repeat.
func duplicates(ids []string) []string {
	seen := make(map[string]int, len(ids))
	var out []string
	for _, id := range ids {
		seen[id]++
		if seen[id] == 2 {
			out = append(out, id)
		}
	}
	return out
}
