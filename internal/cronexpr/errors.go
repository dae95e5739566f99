package cronexpr

import (
	"errors"
	"strconv"
)

// ErrInvalidExpression is the sentinel every parse error unwraps to.
var ErrInvalidExpression = errors.New("invalid cron expression")

// Error describes why an expression failed to parse.
type Error struct {
	// Expression is the full input as given to Parse.
	Expression string
	// Field is the offending position. It is negative for structural
	// errors such as a wrong field count.
	Field Field
	// Value is the offending token.
	Value  string
	Reason string
}

func fieldError(f Field, value, reason string) *Error {
	return &Error{Field: f, Value: value, Reason: reason}
}

// Error implements error.
func (e *Error) Error() string {
	if e.Field < 0 {
		return "cronexpr: invalid expression " + strconv.Quote(e.Expression) + ": " + e.Reason
	}
	return "cronexpr: invalid " + e.Field.String() + " value " + strconv.Quote(e.Value) +
		" in " + strconv.Quote(e.Expression) + ": " + e.Reason
}

// Unwrap returns ErrInvalidExpression.
func (e *Error) Unwrap() error { return ErrInvalidExpression }
