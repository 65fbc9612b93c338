// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"time"

	"github.com/jeranaias/polychat/internal/model"
)

// Document is the portable export of all non-secret state. The
// credential is deliberately excluded so exported files are safe to
// share.
type Document struct {
	Conversations  []*model.Conversation `json:"conversations"`
	Preferences    model.Preferences     `json:"preferences"`
	SelectedModels []string              `json:"selectedModels"`
	ExportDate     time.Time             `json:"exportDate"`
}

// Export snapshots the store into a portable document.
func (s *Store) Export() Document {
	return Document{
		Conversations:  s.Conversations(),
		Preferences:    s.Preferences(),
		SelectedModels: s.SelectedModels(),
		ExportDate:     time.Now(),
	}
}

// Import replaces the stored state with the document's contents.
// The document is validated up front and nothing is written unless it
// passes, so a bad import leaves the store untouched.
func (s *Store) Import(doc Document) error {
	// Documents from builds that predate preferences carry a zero
	// struct; treat that as the defaults rather than rejecting.
	if (doc.Preferences == model.Preferences{}) {
		doc.Preferences = model.DefaultPreferences()
	}
	if err := validateDocument(doc); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conversations := doc.Conversations
	if conversations == nil {
		conversations = []*model.Conversation{}
	}
	sortNewestFirst(conversations)
	if s.MaxConversations > 0 && len(conversations) > s.MaxConversations {
		conversations = conversations[:s.MaxConversations]
	}

	if err := s.writeJSON(conversationsFile, conversations); err != nil {
		return err
	}
	if err := s.writeJSON(preferencesFile, doc.Preferences); err != nil {
		return err
	}
	selected := doc.SelectedModels
	if selected == nil {
		selected = []string{}
	}
	return s.writeJSON(selectedModelsFile, selected)
}

// validateDocument rejects documents that would corrupt the store.
func validateDocument(doc Document) error {
	if err := doc.Preferences.Validate(); err != nil {
		return ErrInvalidDocument
	}
	seen := make(map[string]bool, len(doc.Conversations))
	for _, conv := range doc.Conversations {
		if conv == nil || conv.ID == "" {
			return ErrInvalidDocument
		}
		if seen[conv.ID] {
			return ErrInvalidDocument
		}
		seen[conv.ID] = true
		for _, msg := range conv.Messages {
			if msg == nil || msg.ID == "" {
				return ErrInvalidDocument
			}
			if msg.Role != model.RoleUser && msg.Role != model.RoleAssistant {
				return ErrInvalidDocument
			}
		}
	}
	return nil
}
