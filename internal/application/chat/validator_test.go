package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/aescanero/chatd/pkg/domain"
)

func TestValidator_Validate(t *testing.T) {
	valid := func() *domain.ChatRequest {
		return &domain.ChatRequest{
			Messages: []domain.Message{
				domain.NewMessage(domain.RoleSystem, "be brief"),
				domain.NewMessage(domain.RoleUser, "Hello"),
				domain.NewMessage(domain.RoleAssistant, "Hi"),
				domain.NewMessage(domain.RoleUser, ""),
			},
			MaxTokens:   domain.DefaultMaxTokens,
			Temperature: domain.DefaultTemperature,
		}
	}

	tests := []struct {
		name      string
		mutate    func(r *domain.ChatRequest)
		wantField string
	}{
		{name: "valid", mutate: func(r *domain.ChatRequest) {}},
		{name: "zero temperature", mutate: func(r *domain.ChatRequest) { r.Temperature = 0 }},
		{name: "no messages", mutate: func(r *domain.ChatRequest) { r.Messages = nil }, wantField: "messages"},
		{name: "unknown role", mutate: func(r *domain.ChatRequest) { r.Messages[2].Role = "system2" }, wantField: "messages[2].role"},
		{name: "missing role", mutate: func(r *domain.ChatRequest) { r.Messages[0].Role = "" }, wantField: "messages[0].role"},
		{name: "missing content", mutate: func(r *domain.ChatRequest) { r.Messages[1].Content = nil }, wantField: "messages[1].content"},
		{name: "zero max tokens", mutate: func(r *domain.ChatRequest) { r.MaxTokens = 0 }, wantField: "max_tokens"},
		{name: "negative temperature", mutate: func(r *domain.ChatRequest) { r.Temperature = -0.1 }, wantField: "temperature"},
	}

	v := NewValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(req)

			err := v.Validate(req)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}

			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, ve.Field)
			}
		})
	}
}

func TestValidator_NilRequest(t *testing.T) {
	if err := NewValidator().Validate(nil); !domain.IsValidationError(err) {
		t.Errorf("expected ValidationError for nil request, got %v", err)
	}
}

func TestValidator_DecodedMissingContent(t *testing.T) {
	req := domain.NewChatRequest(domain.DefaultMaxTokens, domain.DefaultTemperature)
	if err := json.Unmarshal([]byte(`{"messages":[{"role":"user"}]}`), req); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	var ve *domain.ValidationError
	if err := NewValidator().Validate(req); !errors.As(err, &ve) || ve.Field != "messages[0].content" {
		t.Errorf("expected messages[0].content error, got %v", err)
	}
}
