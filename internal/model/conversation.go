// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// TitleMaxRunes is the display length a derived conversation title is
// truncated to.
const TitleMaxRunes = 50

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered message sequence plus metadata.
//
// A conversation with an empty ID exists only in memory; it acquires a
// durable identity on first save and keeps it across updates.
type Conversation struct {
	// Identity
	ID            string    `json:"id,omitempty"`
	Title         string    `json:"title"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`

	// Messages
	Messages []*Message `json:"messages"`

	// The model set active when the conversation was last saved.
	SelectedModels []string `json:"selected_models,omitempty"`
}

// NewConversation creates an empty, unsaved conversation.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		CreatedAt:     now,
		LastUpdatedAt: now,
		Messages:      make([]*Message, 0),
	}
}

// IsSaved returns true once the conversation has a durable identity.
func (c *Conversation) IsSaved() bool {
	return c.ID != ""
}

// IsEmpty returns true if there are no messages.
func (c *Conversation) IsEmpty() bool {
	return len(c.Messages) == 0
}

// MessageCount returns the number of messages.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// GetMessageByID returns a message by its ID, or nil.
func (c *Conversation) GetMessageByID(id string) *Message {
	for _, msg := range c.Messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// =============================================================================
// TITLE MANAGEMENT
// =============================================================================

// DeriveTitle returns the title to persist: the explicit title if set,
// otherwise the first user message truncated to TitleMaxRunes runes.
func (c *Conversation) DeriveTitle() string {
	if c.Title != "" {
		return c.Title
	}
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			content := strings.TrimSpace(msg.Content)
			runes := []rune(content)
			if len(runes) <= TitleMaxRunes {
				return content
			}
			return string(runes[:TitleMaxRunes]) + "..."
		}
	}
	return "New Conversation"
}

// SetTitle explicitly sets the conversation title, overriding derivation.
func (c *Conversation) SetTitle(title string) {
	c.Title = title
	c.LastUpdatedAt = time.Now()
}

// =============================================================================
// METADATA
// =============================================================================

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	MessageCount  int       `json:"message_count"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
	Preview       string    `json:"preview"`
}

// Meta returns metadata about the conversation.
func (c *Conversation) Meta() ConversationMeta {
	preview := ""
	for _, msg := range c.Messages {
		if msg.Role == RoleUser && msg.Content != "" {
			preview = msg.Preview(80)
			break
		}
	}
	return ConversationMeta{
		ID:            c.ID,
		Title:         c.DeriveTitle(),
		MessageCount:  len(c.Messages),
		CreatedAt:     c.CreatedAt,
		LastUpdatedAt: c.LastUpdatedAt,
		Preview:       preview,
	}
}

// Clone creates a deep copy of the conversation.
func (c *Conversation) Clone() *Conversation {
	clone := &Conversation{
		ID:            c.ID,
		Title:         c.Title,
		CreatedAt:     c.CreatedAt,
		LastUpdatedAt: c.LastUpdatedAt,
		Messages:      make([]*Message, len(c.Messages)),
	}
	if c.SelectedModels != nil {
		clone.SelectedModels = append([]string(nil), c.SelectedModels...)
	}
	for i, msg := range c.Messages {
		msgCopy := *msg
		if msg.Usage != nil {
			usageCopy := *msg.Usage
			msgCopy.Usage = &usageCopy
		}
		clone.Messages[i] = &msgCopy
	}
	return clone
}
