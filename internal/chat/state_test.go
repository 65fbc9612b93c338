// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/jeranaias/polychat/internal/model"
)

func TestState_AppendPreservesOrder(t *testing.T) {
	s := NewState()
	s.Append(model.NewUserMessage("one"))
	s.Append(model.NewPendingMessage("model/a"), model.NewPendingMessage("model/b"))

	msgs := s.Snapshot()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[1].ModelID != "model/a" || msgs[2].ModelID != "model/b" {
		t.Errorf("placeholder order not preserved: %s, %s", msgs[1].ModelID, msgs[2].ModelID)
	}
}

func TestState_UpdateUnknownIdIsNoOp(t *testing.T) {
	s := NewState()
	s.Append(model.NewUserMessage("only"))

	called := false
	s.Update("ghost", func(m *model.Message) { called = true })

	if called {
		t.Error("mutator ran for an unknown id")
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestState_SnapshotIsDeepCopy(t *testing.T) {
	s := NewState()
	msg := model.NewPendingMessage("model/a")
	msg.MarkComplete("original", &model.Usage{TotalTokens: 9})
	s.Append(msg)

	snap := s.Snapshot()
	snap[0].Content = "mutated"
	snap[0].Usage.TotalTokens = 99

	fresh := s.Snapshot()
	if fresh[0].Content != "original" {
		t.Error("snapshot mutation leaked into state content")
	}
	if fresh[0].Usage.TotalTokens != 9 {
		t.Error("snapshot mutation leaked into state usage")
	}
}

func TestState_ResetAndReplaceAll(t *testing.T) {
	s := NewState()
	s.Append(model.NewUserMessage("a"), model.NewUserMessage("b"))

	s.Reset()
	if s.Len() != 0 {
		t.Fatalf("Len after Reset = %d", s.Len())
	}

	replacement := []*model.Message{model.NewUserMessage("c")}
	s.ReplaceAll(replacement)
	if s.Len() != 1 || s.Snapshot()[0].Content != "c" {
		t.Error("ReplaceAll did not install the new list")
	}
}

func TestState_ConcurrentUpdates(t *testing.T) {
	s := NewState()
	var ids []string
	for i := 0; i < 16; i++ {
		msg := model.NewPendingMessage(fmt.Sprintf("model/%d", i))
		ids = append(ids, msg.ID)
		s.Append(msg)
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			s.Update(id, func(m *model.Message) {
				m.MarkComplete(fmt.Sprintf("done %d", i), nil)
			})
		}(i, id)
	}
	wg.Wait()

	for i, msg := range s.Snapshot() {
		if !msg.IsComplete() {
			t.Errorf("message %d did not settle", i)
		}
		if msg.Content != fmt.Sprintf("done %d", i) {
			t.Errorf("message %d content = %q", i, msg.Content)
		}
	}
}
