// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"encoding/base64"
	"os"
	"strings"

	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/util"
)

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences returns the stored preferences, or the defaults when
// nothing valid is on disk.
func (s *Store) Preferences() model.Preferences {
	prefs := model.DefaultPreferences()
	s.readJSON(preferencesFile, &prefs)
	return prefs
}

// SavePreferences persists the full preferences struct.
func (s *Store) SavePreferences(prefs model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(preferencesFile, prefs)
}

// =============================================================================
// CREDENTIAL
// =============================================================================

// Credential returns the stored API key, or empty when none is set or
// the stored value does not decode.
//
// The key is kept base64-encoded on disk. This is reversible
// obfuscation, not encryption: it keeps the raw key out of casual
// directory greps and nothing more.
func (s *Store) Credential() string {
	data, err := os.ReadFile(s.filePath(credentialFile))
	if err != nil {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return ""
	}
	return string(decoded)
}

// SaveCredential stores the API key, or removes it when empty.
func (s *Store) SaveCredential(apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if apiKey == "" {
		return s.remove(credentialFile)
	}
	encoded := base64.StdEncoding.EncodeToString([]byte(apiKey))
	// SECURITY: Owner-only permissions on the credential file
	return util.AtomicWriteFile(s.filePath(credentialFile), []byte(encoded), 0600)
}

// ClearCredential removes the stored API key.
func (s *Store) ClearCredential() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(credentialFile)
}

// =============================================================================
// SELECTED MODELS
// =============================================================================

// SelectedModels returns the persisted model selection, empty when
// none was saved.
func (s *Store) SelectedModels() []string {
	var ids []string
	if !s.readJSON(selectedModelsFile, &ids) {
		return []string{}
	}
	return ids
}

// SaveSelectedModels persists the model selection.
func (s *Store) SaveSelectedModels(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ids == nil {
		ids = []string{}
	}
	return s.writeJSON(selectedModelsFile, ids)
}
