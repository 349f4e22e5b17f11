package llm

import (
	"testing"

	"github.com/aescanero/chatd/pkg/adapters/llm/llamacpp"
)

func TestNewBackend(t *testing.T) {
	b, err := NewBackend(&Config{Provider: "llamacpp", BaseURL: "http://localhost:8081", EOSTokenID: -1})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	if _, ok := b.(*llamacpp.Client); !ok {
		t.Errorf("expected *llamacpp.Client, got %T", b)
	}
}

func TestNewBackend_UnknownProvider(t *testing.T) {
	if _, err := NewBackend(&Config{Provider: "anthropic"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}
