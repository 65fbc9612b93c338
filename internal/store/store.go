// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/jeranaias/polychat/internal/util"
)

// File names for each persisted key.
const (
	conversationsFile  = "conversations.json"
	preferencesFile    = "preferences.json"
	credentialFile     = "credential"
	selectedModelsFile = "selected_models.json"
)

// DefaultMaxConversations caps the stored collection; saves beyond the
// cap evict the oldest conversations.
const DefaultMaxConversations = 100

// Store persists application state as one JSON file per key under a
// single directory. Reads of missing or corrupt files return typed
// defaults so a fresh or damaged state directory behaves like an empty
// one. All writes go through the atomic writer.
type Store struct {
	// Dir is the state directory. Default: ~/.polychat/state/
	Dir string

	// MaxConversations limits stored conversations (0 = unlimited).
	MaxConversations int

	// Serializes read-modify-write cycles on the collection files.
	mu sync.Mutex
}

// New creates a store rooted at the given directory.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Store{
		Dir:              dir,
		MaxConversations: DefaultMaxConversations,
	}, nil
}

// NewDefault creates a store in the default state directory.
func NewDefault() (*Store, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return New(filepath.Join(homeDir, ".polychat", "state"))
}

// filePath returns the path for a state file.
func (s *Store) filePath(name string) string {
	return filepath.Join(s.Dir, name)
}

// readJSON loads a state file into out. Missing or corrupt files
// report false and leave out untouched; callers substitute defaults.
func (s *Store) readJSON(name string, out interface{}) bool {
	data, err := os.ReadFile(s.filePath(name))
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false
	}
	return true
}

// writeJSON persists a state file atomically.
func (s *Store) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return util.AtomicWriteFile(s.filePath(name), data, 0644)
}

// remove deletes a state file, tolerating absence.
func (s *Store) remove(name string) error {
	err := os.Remove(s.filePath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// =============================================================================
// STORAGE INFO
// =============================================================================

// Info reports on-disk usage per key plus the conversation count.
type Info struct {
	ConversationsSize  int64 `json:"conversationsSize"`
	PreferencesSize    int64 `json:"preferencesSize"`
	SelectedModelsSize int64 `json:"selectedModelsSize"`
	TotalConversations int   `json:"totalConversations"`
}

// StorageInfo returns the current usage figures. Missing files count
// as zero bytes.
func (s *Store) StorageInfo() Info {
	info := Info{
		ConversationsSize:  s.fileSize(conversationsFile),
		PreferencesSize:    s.fileSize(preferencesFile),
		SelectedModelsSize: s.fileSize(selectedModelsFile),
	}
	info.TotalConversations = len(s.Conversations())
	return info
}

func (s *Store) fileSize(name string) int64 {
	fi, err := os.Stat(s.filePath(name))
	if err != nil {
		return 0
	}
	return fi.Size()
}

// ClearAll removes every persisted key, returning the store to its
// fresh state.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{conversationsFile, preferencesFile, credentialFile, selectedModelsFile} {
		if err := s.remove(name); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &StoreError{Message: "conversation not found"}

// ErrInvalidDocument is returned when an imported document fails validation.
var ErrInvalidDocument = &StoreError{Message: "invalid import document"}

// StoreError represents a persistence-related error.
// It implements the error interface and can be compared using errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
