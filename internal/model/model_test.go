// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"testing"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("hello")

	if msg.ID == "" {
		t.Error("ID should be generated")
	}
	if msg.Role != RoleUser {
		t.Errorf("Role = %q, want %q", msg.Role, RoleUser)
	}
	if msg.ModelID != "" {
		t.Error("user messages should not carry a model id")
	}
	if msg.Status != "" {
		t.Error("user messages should not carry a status")
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestNewPendingMessage(t *testing.T) {
	msg := NewPendingMessage("openai/gpt-4o")

	if !msg.IsPending() {
		t.Error("new placeholder should be pending")
	}
	if msg.Content != "" {
		t.Errorf("Content = %q, want empty", msg.Content)
	}
	if msg.ModelID != "openai/gpt-4o" {
		t.Errorf("ModelID = %q, want openai/gpt-4o", msg.ModelID)
	}
}

func TestMessage_Transitions(t *testing.T) {
	msg := NewPendingMessage("modelA")

	msg.MarkComplete("4", &Usage{TotalTokens: 3})
	if !msg.IsComplete() {
		t.Error("message should be complete")
	}
	if msg.ErrorDetail != "" {
		t.Error("complete message should not carry error detail")
	}
	if msg.Usage == nil || msg.Usage.TotalTokens != 3 {
		t.Error("usage should be recorded on completion")
	}

	msg.MarkFailed("rate limited")
	if !msg.IsFailed() {
		t.Error("message should be failed")
	}
	if msg.Usage != nil {
		t.Error("failed message should not carry usage")
	}
	if msg.ErrorDetail != "rate limited" {
		t.Errorf("ErrorDetail = %q, want 'rate limited'", msg.ErrorDetail)
	}
	if !strings.Contains(msg.Content, "rate limited") {
		t.Errorf("Content = %q, want the failure detail embedded", msg.Content)
	}

	msg.MarkPending()
	if !msg.IsPending() || msg.Content != "" || msg.ErrorDetail != "" || msg.Usage != nil {
		t.Error("MarkPending should reset the outcome fields")
	}
}

func TestMessage_Preview(t *testing.T) {
	tests := []struct {
		name    string
		content string
		maxLen  int
		want    string
	}{
		{"short", "hi", 10, "hi"},
		{"exact", "hello", 5, "hello"},
		{"truncated", "hello world", 8, "hello..."},
		{"unicode", "héllo wörld", 8, "héllo..."},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			msg := NewUserMessage(tc.content)
			if got := msg.Preview(tc.maxLen); got != tc.want {
				t.Errorf("Preview(%d) = %q, want %q", tc.maxLen, got, tc.want)
			}
		})
	}
}

// =============================================================================
// CONVERSATION TESTS
// =============================================================================

func TestConversation_DeriveTitle(t *testing.T) {
	conv := NewConversation()
	if got := conv.DeriveTitle(); got != "New Conversation" {
		t.Errorf("empty conversation title = %q, want 'New Conversation'", got)
	}

	conv.Messages = append(conv.Messages, NewUserMessage(strings.Repeat("a", 60)))
	title := conv.DeriveTitle()
	if len([]rune(title)) != TitleMaxRunes+3 {
		t.Errorf("derived title length = %d runes, want %d + ellipsis", len([]rune(title)), TitleMaxRunes)
	}
	if !strings.HasSuffix(title, "...") {
		t.Errorf("long title should be truncated with ellipsis, got %q", title)
	}

	conv.SetTitle("Custom")
	if got := conv.DeriveTitle(); got != "Custom" {
		t.Errorf("explicit title should win, got %q", got)
	}
}

func TestConversation_Clone(t *testing.T) {
	conv := NewConversation()
	conv.SelectedModels = []string{"modelA", "modelB"}
	msg := NewPendingMessage("modelA")
	msg.MarkComplete("done", &Usage{TotalTokens: 5})
	conv.Messages = append(conv.Messages, msg)

	clone := conv.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Messages[0].Usage.TotalTokens = 99
	clone.SelectedModels[0] = "other"

	if conv.Messages[0].Content != "done" {
		t.Error("clone mutation leaked into original message content")
	}
	if conv.Messages[0].Usage.TotalTokens != 5 {
		t.Error("clone mutation leaked into original usage")
	}
	if conv.SelectedModels[0] != "modelA" {
		t.Error("clone mutation leaked into original selected models")
	}
}

func TestConversation_Meta(t *testing.T) {
	conv := NewConversation()
	conv.Messages = append(conv.Messages, NewUserMessage("what is the capital of France?"))
	conv.Messages = append(conv.Messages, NewPendingMessage("modelA"))

	meta := conv.Meta()
	if meta.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", meta.MessageCount)
	}
	if meta.Preview != "what is the capital of France?" {
		t.Errorf("Preview = %q, want the first user message", meta.Preview)
	}
}

// =============================================================================
// CLASSIFICATION TESTS
// =============================================================================

func TestIsFreeID(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		prompt     float64
		completion float64
		want       bool
	}{
		{"explicit free suffix", "meta-llama/llama-3.1-8b-instruct:free", 0, 0, true},
		{"free keyword", "google/gemma-2-9b-it", 0.01, 0.01, true},
		{"zero pricing", "example/unknown-model", 0, 0, true},
		{"dust pricing", "example/unknown-model", 0.0000000001, 0.0000000001, true},
		{"paid model", "anthropic/claude-3.5-sonnet", 0.000003, 0.000015, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFreeID(tc.id, tc.prompt, tc.completion); got != tc.want {
				t.Errorf("IsFreeID(%q) = %v, want %v", tc.id, got, tc.want)
			}
		})
	}
}

func TestCategoryForID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"openai/gpt-4o", "OpenAI"},
		{"anthropic/claude-3-haiku", "Anthropic"},
		{"google/gemini-pro-1.5", "Google"},
		{"meta-llama/llama-3.1-405b-instruct", "Meta"},
		{"mistralai/mistral-large", "Mistral"},
		{"cohere/command-r", "Cohere"},
		{"qwen/qwen-2-72b", "Alibaba"},
		{"somevendor/somemodel", "Other"},
	}

	for _, tc := range tests {
		if got := CategoryForID(tc.id); got != tc.want {
			t.Errorf("CategoryForID(%q) = %q, want %q", tc.id, got, tc.want)
		}
	}
}

func TestFormatModelName(t *testing.T) {
	if got := FormatModelName("meta-llama/llama-3-8b"); got != "Llama 3 8b" {
		t.Errorf("FormatModelName = %q, want 'Llama 3 8b'", got)
	}
}

func TestFallbackModels(t *testing.T) {
	models := FallbackModels()
	if len(models) == 0 {
		t.Fatal("fallback catalog should not be empty")
	}

	var free, paid int
	for _, m := range models {
		if m.ID == "" || m.Name == "" {
			t.Errorf("fallback model missing id/name: %+v", m)
		}
		if m.IsFree {
			free++
			if m.PromptPrice != 0 || m.CompletionPrice != 0 {
				t.Errorf("free model %q should have zero pricing", m.ID)
			}
		} else {
			paid++
			if m.PromptPrice <= 0 {
				t.Errorf("paid model %q should have positive prompt price", m.ID)
			}
		}
	}
	if free == 0 || paid == 0 {
		t.Errorf("fallback catalog should span tiers, got %d free / %d paid", free, paid)
	}
}
