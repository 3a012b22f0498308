// Package models provides the domain types shared by the Gambiarra
// orchestration server and workspace client.
package models

import (
	"time"
)

// Role identifies who produced a conversation message.
type Role string

const (
	// RoleUser marks a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant marks a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem marks the system prompt and other out-of-band instructions.
	RoleSystem Role = "system"
	// RoleToolCall marks a record of a tool invocation.
	RoleToolCall Role = "tool_call"
	// RoleToolResult marks a record of a tool's output.
	RoleToolResult Role = "tool_result"
)

// messageTokenOverhead accounts for role markers and framing that the
// character heuristic does not see.
const messageTokenOverhead = 10

// ConversationMessage is one entry in a session's ordered history.
// Messages are append-only; compaction may replace runs of tool messages
// with a summary but never reorders survivors.
type ConversationMessage struct {
	Role            Role           `json:"role"`
	Content         string         `json:"content"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	EstimatedTokens int            `json:"estimated_tokens"`
}

// NewMessage creates a message with its token estimate filled in.
func NewMessage(role Role, content string) ConversationMessage {
	return ConversationMessage{
		Role:            role,
		Content:         content,
		Timestamp:       time.Now(),
		EstimatedTokens: EstimateTokens(content),
	}
}

// EstimateTokens approximates the token cost of a piece of content.
// Approximation: ~4 characters per token plus a fixed per-message overhead.
func EstimateTokens(content string) int {
	return (len(content)+3)/4 + messageTokenOverhead
}
