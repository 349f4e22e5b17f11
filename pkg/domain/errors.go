package domain

import (
	"errors"
	"fmt"
)

// ErrEmptyGeneration is returned when the model output does not even
// contain the echoed prompt.
var ErrEmptyGeneration = errors.New("generation returned fewer tokens than the prompt")

// ValidationError describes a rejected request field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err (or anything it wraps) is a ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
