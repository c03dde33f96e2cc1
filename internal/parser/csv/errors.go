package csv

import (
	"errors"
	"fmt"
	"strings"

	"chemviz/internal/schema"
)

// ErrorKind classifies a ValidationError.
type ErrorKind string

const (
	KindParse          ErrorKind = "parse"
	KindEmpty          ErrorKind = "empty"
	KindMissingColumns ErrorKind = "missing_columns"
	KindNoRows         ErrorKind = "no_rows"
	KindEncoding       ErrorKind = "encoding"
)

// ValidationError reports a user-fixable problem with an uploaded CSV.
//
// Message is safe to show to end users verbatim. For KindMissingColumns,
// Missing lists every absent canonical field (in schema.Fields order) and Found
// echoes the original header row so alias mismatches are easy to spot.
type ValidationError struct {
	Kind    ErrorKind
	Message string

	Missing []schema.Field
	Found   []string
}

func (e *ValidationError) Error() string { return e.Message }

// IsValidationError reports whether err (or anything it wraps) is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NewEncodingError is used by upload decoders that reject non-UTF-8 input
// before the validator runs.
func NewEncodingError() *ValidationError {
	return &ValidationError{
		Kind:    KindEncoding,
		Message: "File encoding error. Please upload a UTF-8 encoded CSV.",
	}
}

func parseError(err error) *ValidationError {
	return &ValidationError{
		Kind:    KindParse,
		Message: fmt.Sprintf("Failed to parse CSV: %v", err),
	}
}

func emptyError() *ValidationError {
	return &ValidationError{
		Kind:    KindEmpty,
		Message: "CSV file is empty or contains no data rows.",
	}
}

func missingColumnsError(missing []schema.Field, found []string) *ValidationError {
	names := make([]string, len(missing))
	for i, f := range missing {
		names[i] = string(f)
	}
	return &ValidationError{
		Kind: KindMissingColumns,
		Message: fmt.Sprintf(
			"Missing required columns: %s. Found columns: %s",
			strings.Join(names, ", "), strings.Join(found, ", "),
		),
		Missing: missing,
		Found:   append([]string(nil), found...),
	}
}

func noRowsError(reason string) *ValidationError {
	return &ValidationError{
		Kind:    KindNoRows,
		Message: fmt.Sprintf("No valid data rows remain after removing rows with %s.", reason),
	}
}
