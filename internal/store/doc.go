// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides local persistence for application state.
//
// State lives as one JSON file per key in a single directory
// (~/.polychat/state/ by default): the conversation collection, user
// preferences, the selected model ids, and the API credential. Writes
// are atomic (temp file, fsync, rename) so a crash never leaves a key
// half-written. Reads of missing or corrupt files yield typed defaults
// instead of errors, which lets a fresh install and a damaged state
// directory behave identically.
//
// The conversation collection is capped at 100 entries, newest-first;
// saving past the cap evicts the oldest. The credential is stored
// base64-encoded with owner-only file permissions.
//
// # Key Types
//
//   - Store: the state directory handle
//   - Document: the portable export/import format (credential excluded)
//   - StoreError: typed persistence error, supports errors.Is
//
// # Usage
//
//	st, err := store.NewDefault()
//	if err != nil {
//		return err
//	}
//	id, err := st.SaveConversation(conv)
//	prefs := st.Preferences() // defaults when nothing stored
package store
