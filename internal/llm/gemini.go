package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey  string
	Model   string        // default: gemini-2.0-flash
	BaseURL string        // optional endpoint override
	Timeout time.Duration // default: 60s
	Logger  *zap.Logger
}

// GeminiClient implements ChatGenerator using the Google Gen AI SDK.
type GeminiClient struct {
	cfg            GeminiConfig
	client         *genai.Client
	circuitBreaker *CircuitBreaker
}

// NewGeminiClient creates a Gemini client. An API key is required.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		cfg:            cfg,
		client:         client,
		circuitBreaker: NewCircuitBreaker("gemini", cfg.Logger),
	}, nil
}

// Generate sends the prompt to Gemini and returns the response text.
func (c *GeminiClient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	return c.circuitBreaker.generate(ctx, "gemini", func() (string, error) {
		return c.generate(ctx, prompt)
	})
}

func (c *GeminiClient) generate(ctx context.Context, prompt Prompt) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var config *genai.GenerateContentConfig
	if prompt.System != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		}
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.cfg.Model, geminiContents(prompt), config)
	if err != nil {
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini returned empty content")
	}
	return text, nil
}

// geminiContents converts history and the new message into Gemini contents.
// Turn roles already use the Gemini vocabulary (user / model). Gemini rejects
// a conversation that opens with a model turn, so leading model turns are skipped.
func geminiContents(prompt Prompt) []*genai.Content {
	history := prompt.History
	for len(history) > 0 && history[0].Role == ProviderRoleModel {
		history = history[1:]
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		role := genai.Role(genai.RoleUser)
		if t.Role == ProviderRoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Content, role))
	}
	contents = append(contents, genai.NewContentFromText(prompt.Message, genai.RoleUser))
	return contents
}

// GetModel returns the configured model name.
func (c *GeminiClient) GetModel() string {
	return c.cfg.Model
}

// Compile-time assertion.
var _ ChatGenerator = (*GeminiClient)(nil)
