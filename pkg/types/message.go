package types

import "fmt"

// Role identifies who authored a conversation message.
type Role int

const (
	RoleUser Role = iota
	RoleAssistant
)

// String returns the internal role label.
func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAssistant:
		return "assistant"
	default:
		return "unknown"
	}
}

// MarshalText encodes the role as its label.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role label.
func (r *Role) UnmarshalText(text []byte) error {
	switch string(text) {
	case "user":
		*r = RoleUser
	case "assistant":
		*r = RoleAssistant
	default:
		return fmt.Errorf("unknown role %q", text)
	}
	return nil
}

// Message is one turn of an in-session conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage creates a message authored by the user.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage creates a message authored by the AI companion.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}
