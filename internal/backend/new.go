package backend

import (
	"fmt"

	"TypeChat/internal/config"
)

// New builds the endpoint selected by cfg.Backend
func New(cfg config.Config, opts Options) (Endpoint, error) {
	switch cfg.Backend {
	case config.BackendTypeAI:
		return NewTypeAI(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout, opts), nil
	case config.BackendOllama:
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.RequestTimeout, opts), nil
	case config.BackendAnthropic:
		return NewAnthropic(cfg.AnthropicURL, cfg.AnthropicKey, cfg.AnthropicModel, cfg.MaxTokens, cfg.RequestTimeout, opts), nil
	case config.BackendOpenAI:
		return NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIKey, cfg.OpenAIModel, cfg.MaxTokens, cfg.RequestTimeout, opts), nil
	case config.BackendGrok:
		return NewGrok(cfg.GrokBaseURL, cfg.GrokKey, cfg.GrokModel, cfg.MaxTokens, cfg.RequestTimeout, opts), nil
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}
}
