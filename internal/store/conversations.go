// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/polychat/internal/model"
)

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// SaveConversation persists a conversation and returns its ID.
//
// Saving is idempotent by id: an existing entry is replaced in place
// with its original CreatedAt preserved, a new one gets a generated id
// and joins the collection. The collection stays sorted newest-first
// and is trimmed to MaxConversations.
func (s *Store) SaveConversation(conv *model.Conversation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := conv.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	stored.Title = conv.DeriveTitle()
	stored.LastUpdatedAt = time.Now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = stored.LastUpdatedAt
	}

	conversations := s.loadConversations()

	replaced := false
	for i, existing := range conversations {
		if existing.ID == stored.ID {
			// Keep the original creation time on update
			stored.CreatedAt = existing.CreatedAt
			conversations[i] = stored
			replaced = true
			break
		}
	}
	if !replaced {
		conversations = append(conversations, stored)
	}

	sortNewestFirst(conversations)

	if s.MaxConversations > 0 && len(conversations) > s.MaxConversations {
		conversations = conversations[:s.MaxConversations]
	}

	if err := s.writeJSON(conversationsFile, conversations); err != nil {
		return "", err
	}

	// Reflect the assigned identity back to the caller
	conv.ID = stored.ID
	conv.Title = stored.Title
	conv.CreatedAt = stored.CreatedAt
	conv.LastUpdatedAt = stored.LastUpdatedAt

	return stored.ID, nil
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Conversations returns the stored collection, newest-first. A missing
// or corrupt collection file reads as empty.
func (s *Store) Conversations() []*model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadConversations()
}

// ConversationMetas returns listing metadata for the collection.
func (s *Store) ConversationMetas() []model.ConversationMeta {
	conversations := s.Conversations()
	metas := make([]model.ConversationMeta, 0, len(conversations))
	for _, conv := range conversations {
		metas = append(metas, conv.Meta())
	}
	return metas
}

// LoadConversation retrieves a conversation by ID.
func (s *Store) LoadConversation(id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, conv := range s.loadConversations() {
		if conv.ID == id {
			return conv, nil
		}
	}
	return nil, ErrConversationNotFound
}

// MostRecentConversation returns the newest stored conversation, or
// nil when the collection is empty.
func (s *Store) MostRecentConversation() *model.Conversation {
	conversations := s.Conversations()
	if len(conversations) == 0 {
		return nil
	}
	return conversations[0]
}

// =============================================================================
// SEARCH
// =============================================================================

// SearchConversations finds conversations whose title or first user
// message contains the query (case-insensitive). An empty query
// returns the whole collection.
func (s *Store) SearchConversations(query string) []model.ConversationMeta {
	all := s.ConversationMetas()
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return all
	}

	var results []model.ConversationMeta
	for _, meta := range all {
		if strings.Contains(strings.ToLower(meta.Title), query) ||
			strings.Contains(strings.ToLower(meta.Preview), query) {
			results = append(results, meta)
		}
	}
	return results
}

// =============================================================================
// DELETE OPERATIONS
// =============================================================================

// DeleteConversation removes a conversation by ID.
func (s *Store) DeleteConversation(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conversations := s.loadConversations()
	filtered := conversations[:0]
	found := false
	for _, conv := range conversations {
		if conv.ID == id {
			found = true
			continue
		}
		filtered = append(filtered, conv)
	}
	if !found {
		return ErrConversationNotFound
	}

	return s.writeJSON(conversationsFile, filtered)
}

// ClearConversations removes the whole collection.
func (s *Store) ClearConversations() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(conversationsFile)
}

// =============================================================================
// HELPERS
// =============================================================================

// loadConversations reads the collection file. Callers hold s.mu.
func (s *Store) loadConversations() []*model.Conversation {
	var conversations []*model.Conversation
	if !s.readJSON(conversationsFile, &conversations) {
		return []*model.Conversation{}
	}
	return conversations
}

func sortNewestFirst(conversations []*model.Conversation) {
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].LastUpdatedAt.After(conversations[j].LastUpdatedAt)
	})
}
