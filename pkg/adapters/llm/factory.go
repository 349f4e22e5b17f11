package llm

import (
	"fmt"
	"time"

	"github.com/aescanero/chatd/pkg/adapters/llm/llamacpp"
	"github.com/aescanero/chatd/pkg/ports"
	"go.uber.org/zap"
)

// Config holds model backend configuration
type Config struct {
	Provider      string
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	AddSpecial    bool
	EOSTokenID    int
	ThinkingKwarg string
	SpecialTokens []string
	Logger        *zap.Logger
}

// NewBackend creates a new model backend based on provider
func NewBackend(cfg *Config) (ports.Backend, error) {
	switch cfg.Provider {
	case "llamacpp":
		client, err := llamacpp.NewClient(&llamacpp.Config{
			BaseURL:       cfg.BaseURL,
			APIKey:        cfg.APIKey,
			Timeout:       cfg.Timeout,
			AddSpecial:    cfg.AddSpecial,
			EOSTokenID:    cfg.EOSTokenID,
			ThinkingKwarg: cfg.ThinkingKwarg,
			SpecialTokens: cfg.SpecialTokens,
			Logger:        cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported backend provider: %s", cfg.Provider)
	}
}
