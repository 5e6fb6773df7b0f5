// Package types defines the shared message model for the mnemo memory engine.
package types

import (
	"time"
)

// MessageRole identifies the author of a message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// ToolCall is the payload attached to a message that requested a tool invocation.
type ToolCall struct {
	ID        string `json:"id,omitempty"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// Message is a single conversational turn. Messages are immutable once
// created; mutation happens only through explicit store updates.
type Message struct {
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Name      string      `json:"name,omitempty"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
}

// NewSystemMessage creates a system-role message.
func NewSystemMessage(content string) *Message {
	return &Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user-role message.
func NewUserMessage(content string) *Message {
	return &Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant-role message.
func NewAssistantMessage(content string) *Message {
	return &Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool-role message carrying a tool result.
func NewToolMessage(name, content string) *Message {
	return &Message{Role: RoleTool, Content: content, Name: name}
}

// WithName sets the optional participant name and returns the message for chaining.
func (m *Message) WithName(name string) *Message {
	m.Name = name
	return m
}

// WithToolCall appends a tool-call entry and returns the message for chaining.
func (m *Message) WithToolCall(tc ToolCall) *Message {
	m.ToolCalls = append(m.ToolCalls, tc)
	return m
}

// StoredMessage is a Message as committed to a store: stamped with an id,
// owning conversation, and creation time, optionally carrying a precomputed
// token count, an embedding vector, and free-form metadata.
type StoredMessage struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Message        Message        `json:"message"`
	CreatedAt      time.Time      `json:"created_at"`
	TokenCount     int            `json:"token_count,omitempty"`
	Embedding      []float32      `json:"embedding,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Clone returns a deep copy. Stores hand out clones so callers can never
// mutate persisted state through a returned pointer.
func (s *StoredMessage) Clone() *StoredMessage {
	out := *s
	if s.Embedding != nil {
		out.Embedding = append([]float32(nil), s.Embedding...)
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.Message.ToolCalls != nil {
		out.Message.ToolCalls = append([]ToolCall(nil), s.Message.ToolCalls...)
	}
	return &out
}

// ConversationContext is the projection handed to the model caller: the
// ordered messages to send, an optional rolling summary, and accounting
// totals. It is derived on every read and never persisted.
type ConversationContext struct {
	Messages     []*Message
	Summary      string
	TokenCount   int
	MessageCount int
}
