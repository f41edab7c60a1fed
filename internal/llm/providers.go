package llm

import (
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/rahul/autopilot/internal/observability"
	"github.com/rahul/autopilot/pkg/config"
)

var defaultModels = map[string]string{
	"openai":     "gpt-4o-mini",
	"openrouter": "openai/gpt-4o-mini",
	"anthropic":  "claude-sonnet-4-5",
	"claude":     "claude-sonnet-4-5",
	"ollama":     "llama3.1",
}

// NewModel builds the langchaingo model for a configured provider.
func NewModel(name string, p config.ProviderConfig) (llms.Model, error) {
	model := p.Model
	if model == "" {
		model = defaultModels[name]
	}

	switch name {
	case "openai", "openrouter", "gpt":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		} else if name == "openrouter" {
			opts = append(opts, openai.WithBaseURL("https://openrouter.ai/api/v1"))
		}
		return openai.New(opts...)
	case "anthropic", "claude":
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s not supported", name)
	}
}

// NewFromConfig returns the retrying querier for the default provider.
func NewFromConfig(cfg *config.Config, logger *observability.Logger) (Querier, string, error) {
	name, p := cfg.GetDefaultProvider()
	if name == "" {
		return nil, "", fmt.Errorf("no enabled provider found in config")
	}
	model, err := NewModel(name, p)
	if err != nil {
		return nil, name, fmt.Errorf("init provider %s: %w", name, err)
	}
	q := WithRetry(NewLangchainQuerier(model, name, logger), RetryConfig{
		MaxAttempts:       cfg.LLM.MaxAttempts,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
	})
	return q, name, nil
}
