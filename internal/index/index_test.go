// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package index

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/polychat/internal/model"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "search.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func indexedConversation(id, prompt, answer string) *model.Conversation {
	conv := model.NewConversation()
	conv.ID = id
	conv.Messages = append(conv.Messages, model.NewUserMessage(prompt))
	resp := model.NewPendingMessage("model/a")
	resp.MarkComplete(answer, nil)
	conv.Messages = append(conv.Messages, resp)
	return conv
}

func TestIndex_ReindexAndSearch(t *testing.T) {
	idx := newTestIndex(t)

	require.NoError(t, idx.Reindex(indexedConversation("c1", "explain goroutines", "they are lightweight threads")))
	require.NoError(t, idx.Reindex(indexedConversation("c2", "bread recipe", "flour and water")))

	ids, err := idx.Search("GOROUTINES")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids, "search is case-insensitive")

	// Assistant content is searchable too
	ids, err = idx.Search("lightweight threads")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	ids, err = idx.Search("quantum")
	require.NoError(t, err)
	assert.Empty(t, ids)

	ids, err = idx.Search("   ")
	require.NoError(t, err)
	assert.Empty(t, ids, "blank query matches nothing")
}

func TestIndex_ReindexReplaces(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Reindex(indexedConversation("c1", "old topic", "old answer")))
	require.NoError(t, idx.Reindex(indexedConversation("c1", "new topic", "new answer")))

	ids, err := idx.Search("old topic")
	require.NoError(t, err)
	assert.Empty(t, ids, "stale rows replaced on reindex")

	ids, err = idx.Search("new topic")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)
}

func TestIndex_SkipsUnsettledMessages(t *testing.T) {
	idx := newTestIndex(t)

	conv := model.NewConversation()
	conv.ID = "c1"
	conv.Messages = append(conv.Messages, model.NewUserMessage("a question"))
	pending := model.NewPendingMessage("model/a")
	conv.Messages = append(conv.Messages, pending)
	failed := model.NewPendingMessage("model/b")
	failed.MarkFailed("upstream exploded")
	conv.Messages = append(conv.Messages, failed)
	require.NoError(t, idx.Reindex(conv))

	ids, err := idx.Search("upstream exploded")
	require.NoError(t, err)
	assert.Empty(t, ids, "failure text is not searchable content")

	n, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the user message indexed")
}

func TestIndex_RemoveAndRebuild(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Reindex(indexedConversation("c1", "keep", "kept")))
	require.NoError(t, idx.Reindex(indexedConversation("c2", "drop", "dropped")))

	require.NoError(t, idx.Remove("c2"))
	ids, err := idx.Search("drop")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, idx.Rebuild([]*model.Conversation{
		indexedConversation("c3", "fresh start", "rebuilt"),
	}))
	ids, err = idx.Search("keep")
	require.NoError(t, err)
	assert.Empty(t, ids, "rebuild wipes prior rows")
	ids, err = idx.Search("fresh start")
	require.NoError(t, err)
	assert.Equal(t, []string{"c3"}, ids)
}

func TestIndex_LikeWildcardsAreLiteral(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Reindex(indexedConversation("c1", "usage is 100% certain", "ok")))
	require.NoError(t, idx.Reindex(indexedConversation("c2", "nothing relevant", "ok")))

	ids, err := idx.Search("100%")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids, "%% in the query must not act as a wildcard")
}

func TestIndex_ClosedErrors(t *testing.T) {
	idx := newTestIndex(t)
	require.NoError(t, idx.Close())

	_, err := idx.Search("anything")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, idx.Remove("c1"), ErrClosed)
}
