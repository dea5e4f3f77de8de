package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidResponseFormat marks provider text that holds no decodable JSON object.
	ErrInvalidResponseFormat = errors.New("model response is not valid JSON")
	// ErrSchemaValidation marks a decodable response that matches neither schema.
	ErrSchemaValidation = errors.New("model response failed schema validation")
)

const maxExcerpt = 200

// InvalidFormatError carries an excerpt of the undecodable text.
type InvalidFormatError struct {
	Excerpt string
}

func (e *InvalidFormatError) Error() string {
	if e.Excerpt == "" {
		return ErrInvalidResponseFormat.Error()
	}
	return fmt.Sprintf("%s: %q", ErrInvalidResponseFormat, e.Excerpt)
}

func (e *InvalidFormatError) Unwrap() error {
	return ErrInvalidResponseFormat
}

// SchemaError carries the strict-schema diagnostic.
type SchemaError struct {
	Diagnostic string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSchemaValidation, e.Diagnostic)
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaValidation
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
