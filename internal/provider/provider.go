// Package provider defines the message model shared by every component and the
// Provider interface that each LLM adapter (openai.go, anthropic.go) implements.
// Adapters normalize their streaming responses into a common Event sequence.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
)

// ── Message model ─────────────────────────────────────────────────────────────

// Role is the closed set of speakers a Message can have.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole validates s against the known roles.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleSystem, RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", fmt.Errorf("invalid role %q", s)
	}
}

func (r Role) String() string { return string(r) }

// UnmarshalJSON rejects unknown roles so a corrupt transcript fails at load
// time rather than when it reaches the provider.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is one entry of a conversation. Name is an optional speaker tag;
// when present the provider omits the role token.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// NewMessage builds a validated message.
func NewMessage(role Role, content string) (Message, error) {
	if _, err := ParseRole(string(role)); err != nil {
		return Message{}, err
	}
	return Message{Role: role, Content: content}, nil
}

// NewNamedMessage builds a validated message carrying a speaker name.
func NewNamedMessage(role Role, name, content string) (Message, error) {
	msg, err := NewMessage(role, content)
	if err != nil {
		return Message{}, err
	}
	msg.Name = name
	return msg, nil
}

// SystemMessage, UserMessage and AssistantMessage are shorthands for the
// always-valid roles.
func SystemMessage(content string) Message    { return Message{Role: RoleSystem, Content: content} }
func UserMessage(content string) Message      { return Message{Role: RoleUser, Content: content} }
func AssistantMessage(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Conversation is an ordered message list. Index 0 is conventionally the
// system prompt; higher indices are newer.
type Conversation []Message

// Clone returns an independent copy.
func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	out := make(Conversation, len(c))
	copy(out, c)
	return out
}

// HasSystemPrompt reports whether index 0 is a system message.
func (c Conversation) HasSystemPrompt() bool {
	return len(c) > 0 && c[0].Role == RoleSystem
}

// FirstRemovable returns the index of the oldest message that may be dropped:
// 1 when the conversation is anchored by a system prompt, 0 otherwise.
func (c Conversation) FirstRemovable() int {
	if c.HasSystemPrompt() {
		return 1
	}
	return 0
}

// ── Requests ──────────────────────────────────────────────────────────────────

// ChatRequest is the provider-neutral request.
type ChatRequest struct {
	Model     string
	Messages  Conversation
	MaxTokens int
}

// ── Streaming events ──────────────────────────────────────────────────────────

type EventType int

const (
	// EventTextDelta carries an incremental chunk of the reply.
	EventTextDelta EventType = iota

	// EventDone ends the reply and carries the provider's usage figures.
	EventDone

	// EventError ends the stream with an error (see errors.go for the taxonomy).
	EventError
)

// Event is one item of a provider stream.
type Event struct {
	Type      EventType
	TextDelta string
	Usage     *Usage
	Error     error
}

// Usage is the provider's authoritative token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Total returns TotalTokens, falling back to prompt+completion for providers
// that do not report a total.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.PromptTokens + u.CompletionTokens
}

// ── Provider interface ────────────────────────────────────────────────────────

// Provider is implemented by every LLM adapter. Implementations convert the
// ChatRequest into their wire format, stream the reply as Events, and map
// their API errors onto ErrRateLimited / ErrContextLengthExceeded / *Error.
type Provider interface {
	// Chat starts a streaming completion. The returned channel emits events
	// until EventDone or EventError and is then closed. Callers must drain it.
	Chat(ctx context.Context, req *ChatRequest) (<-chan Event, error)

	// Name returns the provider identifier, e.g. "openai", "anthropic".
	Name() string

	// DefaultModel returns the model used when the request names none.
	DefaultModel() string
}
