// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sync"

	"github.com/jeranaias/polychat/internal/model"
)

// State is the ordered message list of the active conversation.
//
// Concurrent completions settle into it from their own goroutines, so
// every access goes through the mutex. Messages handed out by Snapshot
// are deep copies; mutation happens only inside Update under the lock.
type State struct {
	mu       sync.Mutex
	messages []*model.Message
}

// NewState creates an empty message state.
func NewState() *State {
	return &State{}
}

// Append adds messages to the end of the list in the given order.
func (s *State) Append(msgs ...*model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msgs...)
}

// Update applies the mutator to the message with the given id under
// the lock. Unknown ids are a no-op: a settling completion whose
// conversation was cleared mid-flight must not resurrect its slot.
func (s *State) Update(id string, mutate func(*model.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			mutate(msg)
			return
		}
	}
}

// ReplaceAll swaps the whole list for the given messages.
func (s *State) ReplaceAll(msgs []*model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make([]*model.Message, len(msgs))
	copy(s.messages, msgs)
}

// Reset clears the list.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Snapshot returns a deep copy of the current list.
func (s *State) Snapshot() []*model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.Message, len(s.messages))
	for i, msg := range s.messages {
		copied := *msg
		if msg.Usage != nil {
			usage := *msg.Usage
			copied.Usage = &usage
		}
		out[i] = &copied
	}
	return out
}

// Get returns a copy of the message with the given id, or nil.
func (s *State) Get(id string) *model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.messages {
		if msg.ID == id {
			copied := *msg
			if msg.Usage != nil {
				usage := *msg.Usage
				copied.Usage = &usage
			}
			return &copied
		}
	}
	return nil
}

// Len returns the number of messages.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
