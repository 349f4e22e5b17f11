// Package ports defines the interfaces the chat core depends on. Adapters
// under pkg/adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/chatd/pkg/domain"
)

// TemplateOptions selects the chat template variant
type TemplateOptions struct {
	// Thinking selects the reasoning variant of the template
	Thinking bool
	// AddGenerationPrompt appends the marker that opens an assistant turn
	AddGenerationPrompt bool
}

// Tokenizer is the pretrained tokenizer loaded at startup
type Tokenizer interface {
	ApplyChatTemplate(ctx context.Context, messages []domain.Message, opts TemplateOptions) (string, error)
	Encode(ctx context.Context, text string) ([]int, error)
	// Decode turns ids back into text with special tokens removed
	Decode(ctx context.Context, ids []int) (string, error)
	EOSTokenID() int
}

// GenerateParams bounds a single generation call
type GenerateParams struct {
	InputIDs     []int
	MaxNewTokens int
	Temperature  float64
	EOSTokenID   int
}

// Model is the pretrained generative model loaded at startup
type Model interface {
	// Generate blocks until generation stops and returns the input ids
	// followed by the newly generated ids.
	Generate(ctx context.Context, params GenerateParams) ([]int, error)
}

// Backend is a loaded tokenizer/model pair with an explicit lifecycle
type Backend interface {
	Tokenizer
	Model
	Load(ctx context.Context) error
	Health(ctx context.Context) error
	Close() error
}

// EventHandler processes a published event
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus carries chat lifecycle events to observers
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// MetricsCollector records chat service metrics
type MetricsCollector interface {
	RecordChatRequest(status string)
	RecordTokens(prompt, completion int)
	ObserveGenerationDuration(duration time.Duration)
	SetBackendUp(up bool)
}
