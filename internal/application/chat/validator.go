package chat

import (
	"fmt"

	"github.com/aescanero/chatd/pkg/domain"
)

// Validator validates chat requests
type Validator struct{}

// NewValidator creates a new chat request validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate validates a chat request
func (v *Validator) Validate(req *domain.ChatRequest) error {
	if req == nil {
		return &domain.ValidationError{Message: "request is nil"}
	}

	if len(req.Messages) == 0 {
		return &domain.ValidationError{
			Field:   "messages",
			Message: "at least one message is required",
		}
	}

	for i, msg := range req.Messages {
		if err := v.validateMessage(i, msg); err != nil {
			return err
		}
	}

	if req.MaxTokens < 1 {
		return &domain.ValidationError{
			Field:   "max_tokens",
			Message: fmt.Sprintf("must be at least 1, got %d", req.MaxTokens),
		}
	}

	if req.Temperature < 0 {
		return &domain.ValidationError{
			Field:   "temperature",
			Message: fmt.Sprintf("must not be negative, got %g", req.Temperature),
		}
	}

	return nil
}

// validateMessage validates a single message
func (v *Validator) validateMessage(index int, msg domain.Message) error {
	field := fmt.Sprintf("messages[%d].role", index)

	if msg.Role == "" {
		return &domain.ValidationError{Field: field, Message: "role is required"}
	}

	if !msg.Role.Valid() {
		return &domain.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("unknown role %q (must be user, assistant, or system)", msg.Role),
		}
	}

	if msg.Content == nil {
		return &domain.ValidationError{
			Field:   fmt.Sprintf("messages[%d].content", index),
			Message: "content is required",
		}
	}

	return nil
}
