// Package stats fits a decay model to a daily case-count series and
// forecasts moving averages, spread, and threshold-crossing dates.
// This is part of the Functional Core - all functions are pure with no I/O.
package stats

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// CSV parsing errors
	ErrEmptyCSV       = errors.New("case series CSV is empty")
	ErrInvalidCSV     = errors.New("invalid CSV syntax")
	ErrMissingColumns = errors.New("case series CSV must have Date and Cases columns")
	ErrNoData         = errors.New("case series CSV has no data rows")

	// Series validation errors
	ErrLengthMismatch = errors.New("dates and cases must have the same length")
	ErrNotDescending  = errors.New("case series must be ordered newest first")

	// Analysis errors
	ErrNilSeries      = errors.New("case series is nil")
	ErrSeriesTooShort = errors.New("case series is too short")
	ErrNoTrigger      = errors.New("moving average never falls below threshold within horizon")
)

// ParseError wraps errors with context about where CSV parsing failed.
type ParseError struct {
	Row     int // 1-based row number, 0 when unknown
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return e.Message
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// NewParseError creates a new ParseError.
func NewParseError(row int, message string, err error) *ParseError {
	return &ParseError{
		Row:     row,
		Message: message,
		Err:     err,
	}
}
