// Package domain holds the chat request/response model shared by the API,
// the chat service and the backend adapters.
package domain

import (
	"bytes"
	"encoding/json"
)

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

const (
	DefaultMaxTokens   = 512
	DefaultTemperature = 0.8
)

// Message is a single chat turn. Content is a pointer so an absent field
// can be told apart from an empty string.
type Message struct {
	Role    Role    `json:"role"`
	Content *string `json:"content" binding:"required"`
}

// NewMessage builds a message with content set
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: &content}
}

// Text returns the message content, or "" when it is unset
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// ChatRequest is the body accepted by POST /chat
type ChatRequest struct {
	Messages    []Message `json:"messages" binding:"required,dive"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Thinking    bool      `json:"thinking"`
}

// NewChatRequest returns a request pre-filled with defaults. Decoding JSON
// into it only overrides the fields present in the body.
func NewChatRequest(maxTokens int, temperature float64) *ChatRequest {
	return &ChatRequest{
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// nullableFields lists the body fields that may be omitted but not sent as null
var nullableFields = []string{"messages", "max_tokens", "temperature", "thinking"}

// UnmarshalJSON rejects explicit nulls. Absent fields keep their current
// value so defaults set by NewChatRequest survive decoding.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type plain ChatRequest

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, name := range nullableFields {
		if raw, ok := fields[name]; ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return &ValidationError{Field: name, Message: "must not be null"}
		}
	}

	return json.Unmarshal(data, (*plain)(r))
}

// ChatResponse is the body returned by POST /chat
type ChatResponse struct {
	Reply string `json:"reply"`
}
