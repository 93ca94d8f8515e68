package patient

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("patient not found")
	ErrAlreadyExists    = errors.New("patient already exists")
	ErrStoreUnavailable = errors.New("record store unavailable")
)

// FieldError names one offending field or query parameter.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+" "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

func (e *ValidationError) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

// merge appends the fields of other that are not already reported.
func (e *ValidationError) merge(other *ValidationError) {
	for _, f := range other.Fields {
		if !e.Has(f.Field) {
			e.Fields = append(e.Fields, f)
		}
	}
}

// OrNil returns nil when nothing was recorded, so callers can return the
// result directly as an error.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Field: field, Message: message}}}
}
