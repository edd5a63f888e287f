package llm

import (
	"context"

	"github.com/scrypster/capsule/pkg/types"
)

// ChatGenerator is the interface for multi-turn chat completion.
// Journal replies, past-self replies and tag extraction all go through it.
type ChatGenerator interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
	GetModel() string
}

// Provider-facing role labels.
const (
	ProviderRoleUser  = "user"
	ProviderRoleModel = "model"
)

// Turn is one history message in provider vocabulary.
type Turn struct {
	Role    string `json:"role"` // ProviderRoleUser or ProviderRoleModel
	Content string `json:"content"`
}

// Prompt is a fully assembled request: system instruction, prior turns in
// chronological order, and the new user message.
type Prompt struct {
	System  string `json:"system"`
	History []Turn `json:"history"`
	Message string `json:"message"`
}

// ProviderRole maps a conversation role onto the provider vocabulary.
func ProviderRole(r types.Role) string {
	if r == types.RoleAssistant {
		return ProviderRoleModel
	}
	return ProviderRoleUser
}

// TurnsFromMessages converts session messages into provider turns, keeping
// order and content untouched.
func TurnsFromMessages(msgs []types.Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: ProviderRole(m.Role), Content: m.Content})
	}
	return turns
}

// SingleTurn wraps a standalone instruction as a prompt with no history.
func SingleTurn(message string) Prompt {
	return Prompt{Message: message}
}
