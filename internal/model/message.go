// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations, messages,
// and model descriptors.
package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/polychat/internal/util"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// STATUS TYPE
// =============================================================================

// Status represents the lifecycle state of an assistant message.
//
// Only assistant messages carry a status; user messages are always final.
// Valid transitions: pending -> complete, pending -> failed, and
// (via retry) complete/failed -> pending.
type Status string

const (
	// StatusPending means the completion request is still in flight.
	StatusPending Status = "pending"

	// StatusComplete means the backend returned content successfully.
	StatusComplete Status = "complete"

	// StatusFailed means the request settled with an error.
	StatusFailed Status = "failed"
)

// =============================================================================
// USAGE TYPE
// =============================================================================

// Usage holds token-count metadata reported by the backend.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// IsZero returns true if no usage was reported.
func (u Usage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
//
// The identity fields (ID, Role, ModelID, CreatedAt) are set once at
// creation and never mutated. The outcome fields (Status, Content,
// ErrorDetail, Usage) are mutated exactly as a request settles:
// a complete message never carries ErrorDetail, and a failed message
// never carries Usage.
type Message struct {
	// Identity (immutable)
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	ModelID   string    `json:"model_id,omitempty"` // assistant messages only
	CreatedAt time.Time `json:"created_at"`

	// Outcome
	Content     string `json:"content"`
	Status      Status `json:"status,omitempty"` // assistant messages only
	ErrorDetail string `json:"error_detail,omitempty"`
	Usage       *Usage `json:"usage,omitempty"`
}

// NewUserMessage creates a user message with a generated ID.
func NewUserMessage(content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewPendingMessage creates an assistant placeholder for the given model.
// Content is empty until the completion request settles.
func NewPendingMessage(modelID string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		ModelID:   modelID,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
}

// =============================================================================
// MESSAGE METHODS
// =============================================================================

// IsPending returns true if the message is an unresolved placeholder.
func (m *Message) IsPending() bool {
	return m.Role == RoleAssistant && m.Status == StatusPending
}

// IsComplete returns true if the message settled successfully.
func (m *Message) IsComplete() bool {
	return m.Role == RoleAssistant && m.Status == StatusComplete
}

// IsFailed returns true if the message settled with an error.
func (m *Message) IsFailed() bool {
	return m.Role == RoleAssistant && m.Status == StatusFailed
}

// MarkComplete records a successful outcome.
// Clears any earlier error detail so a retried message carries no
// stale failure state.
func (m *Message) MarkComplete(content string, usage *Usage) {
	m.Status = StatusComplete
	m.Content = content
	m.ErrorDetail = ""
	m.Usage = usage
}

// MarkFailed records a failed outcome. The content becomes a
// human-readable error string; the raw detail is kept separately.
func (m *Message) MarkFailed(detail string) {
	m.Status = StatusFailed
	m.Content = "Error: " + detail
	m.ErrorDetail = detail
	m.Usage = nil
}

// MarkPending resets the message for a retry.
func (m *Message) MarkPending() {
	m.Status = StatusPending
	m.Content = ""
	m.ErrorDetail = ""
	m.Usage = nil
}

// Preview returns a truncated preview of the message content.
// Uses rune-based truncation to handle Unicode correctly.
func (m *Message) Preview(maxLen int) string {
	return util.TruncateRunes(m.Content, maxLen)
}
