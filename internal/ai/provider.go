// Package ai wraps the generative text providers behind the reply classifier
// and the follow-up writer.
package ai

import (
	"context"
	"fmt"
)

// Provider generates text from a single prompt.
type Provider interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Name() string
}

// GenerateOptions tunes sampling. Zero values leave the provider default.
type GenerateOptions struct {
	Temperature float32
	TopP        float32
}

// ProviderType selects which provider the factory builds.
type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
	ProviderOpenAI ProviderType = "openai"
	ProviderAuto   ProviderType = "auto"
)

// Config holds AI provider configuration.
type Config struct {
	Provider ProviderType

	GeminiAPIKey string
	GeminiModel  string

	// OpenAI-compatible endpoint: OpenAI itself, Ollama, Moonshot, ...
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
}

func (c Config) openAIConfigured() bool {
	return c.OpenAIAPIKey != "" || c.OpenAIBaseURL != ""
}

// NewProvider builds the configured provider. Auto prefers Gemini and falls
// back to the OpenAI-compatible endpoint when both are configured.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderGemini:
		if cfg.GeminiAPIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for Gemini provider")
		}
		return NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)

	case ProviderOpenAI:
		if !cfg.openAIConfigured() {
			return nil, fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required for OpenAI provider")
		}
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil

	default:
		var primary, secondary Provider
		if cfg.GeminiAPIKey != "" {
			g, err := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
			if err != nil {
				return nil, err
			}
			primary = g
		}
		if cfg.openAIConfigured() {
			secondary = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		}
		switch {
		case primary != nil && secondary != nil:
			return NewFallbackProvider(primary, secondary), nil
		case primary != nil:
			return primary, nil
		case secondary != nil:
			return secondary, nil
		}
		return nil, fmt.Errorf("no AI provider configured")
	}
}
