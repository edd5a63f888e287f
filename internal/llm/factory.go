package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/scrypster/capsule/internal/config"
)

// NewChatGenerator creates the ChatGenerator selected by cfg.Provider.
func NewChatGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (ChatGenerator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("provider", cfg.Provider))

	switch cfg.Provider {
	case "gemini", "":
		return NewGeminiClient(ctx, GeminiConfig{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		})
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			BaseURL: cfg.OpenAIBaseURL,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
			Logger:  logger,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}
