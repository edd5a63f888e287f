package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey  string
	Model   string        // default: gpt-4o-mini
	BaseURL string        // optional, for OpenAI-compatible servers (e.g. http://localhost:8000/v1/)
	Timeout time.Duration // default: 60s
	Logger  *zap.Logger
}

// OpenAIClient implements ChatGenerator using the OpenAI chat completions API.
type OpenAIClient struct {
	cfg            OpenAIConfig
	client         openai.Client
	circuitBreaker *CircuitBreaker
}

// NewOpenAIClient creates a new OpenAI client with the given configuration.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		// The breaker owns failure handling; the SDK must not retry on its own.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		cfg:            cfg,
		client:         openai.NewClient(opts...),
		circuitBreaker: NewCircuitBreaker("openai", cfg.Logger),
	}
}

// Generate sends the prompt to OpenAI and returns the response text.
func (c *OpenAIClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return c.circuitBreaker.generate(ctx, "openai", func() (string, error) {
		return c.generate(ctx, prompt)
	})
}

func (c *OpenAIClient) generate(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(prompt.History)+2)
	if prompt.System != "" {
		messages = append(messages, openai.SystemMessage(prompt.System))
	}
	for _, t := range prompt.History {
		if t.Role == ProviderRoleModel {
			messages = append(messages, openai.AssistantMessage(t.Content))
		} else {
			messages = append(messages, openai.UserMessage(t.Content))
		}
	}
	messages = append(messages, openai.UserMessage(prompt.Message))

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.cfg.Model,
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

// GetModel returns the configured model name.
func (c *OpenAIClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ ChatGenerator = (*OpenAIClient)(nil)
