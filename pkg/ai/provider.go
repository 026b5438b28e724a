package ai

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ProviderConfig selects and configures a Model implementation.
type ProviderConfig struct {
	Provider    string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// NewModel constructs the Model named by cfg.Provider.
func NewModel(cfg ProviderConfig) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", providerGemini:
		return NewGeminiModel(GeminiConfig{
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Logger:      cfg.Logger,
		}), nil
	case providerOpenAI:
		return NewOpenAIModel(OpenAIConfig{
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Logger:      cfg.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}
