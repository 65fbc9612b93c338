// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package index provides SQLite-backed content search over stored
// conversations.
//
// The conversation collection on disk stays the source of truth; the
// index holds a flat searchable copy of user prompts and complete
// assistant responses, keyed by conversation id. Saves and deletes
// keep it incrementally in sync, imports and clears rebuild it from
// scratch.
//
// # Usage
//
//	idx, err := index.Open(filepath.Join(dataDir, "search.db"))
//	if err != nil {
//		return err
//	}
//	defer idx.Close()
//	ids, err := idx.Search("goroutines")
package index
