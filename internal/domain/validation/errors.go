package validation

import "errors"

// ErrInvalid matches every validation failure through errors.Is.
var ErrInvalid = errors.New("submission failed validation")

// Check names one validation rule.
type Check string

// Rules in the order they are applied.
const (
	CheckParse         Check = "parse"
	CheckIDColumn      Check = "id_column"
	CheckOutcomeColumn Check = "outcome_column"
	CheckDuplicateIDs  Check = "duplicate_ids"
	CheckUnknownIDs    Check = "unknown_ids"
	CheckMissingIDs    Check = "missing_ids"
	CheckMissingValues Check = "missing_values"
	CheckNumeric       Check = "numeric"
)

// Error is a failed check with a message fit for the submitter.
type Error struct {
	Check   Check
	Message string
	// Values holds the offending identifiers or column names.
	Values []string
	cause  error
}

func (e *Error) Error() string { return e.Message }

// Is makes every *Error match ErrInvalid.
func (e *Error) Is(target error) bool { return target == ErrInvalid }

func (e *Error) Unwrap() error { return e.cause }
