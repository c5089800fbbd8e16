package domain

import (
	"encoding/json"
	"time"
)

// Message roles understood by the minimizer.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// RawSession is a chat session as read from the ephemeral store, after the
// total parse step. It never carries undecoded JSON strings for known fields.
type RawSession struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"createdAt"`
	UserID    string            `json:"userId"`
	Messages  []RawMessage      `json:"messages"`
	Model     string            `json:"model,omitempty"`
	UpdatedAt *time.Time        `json:"updatedAt,omitempty"`
	Key       string            `json:"_key"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// RawMessage is one message of a RawSession. Content is usually a JSON string
// but newer clients store an array of parts, so it is kept undecoded.
type RawMessage struct {
	Role         string          `json:"role"`
	Content      json.RawMessage `json:"content,omitempty"`
	FunctionCall Payload         `json:"function_call,omitempty"`
	ToolCalls    Payload         `json:"tool_calls,omitempty"`
}

// Text returns the message content when it is a JSON string or absent.
// ok is false for structured content such as an array of parts.
func (m RawMessage) Text() (text string, ok bool) {
	if len(m.Content) == 0 || string(m.Content) == "null" {
		return "", true
	}
	if err := json.Unmarshal(m.Content, &text); err != nil {
		return "", false
	}
	return text, true
}
