// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/jeranaias/polychat/internal/cloud"
	"github.com/jeranaias/polychat/internal/model"
)

// Dispatch precondition and retry errors. Each precondition fails
// before any state changes, so a rejected dispatch leaves no trace.
var (
	// ErrEmptyPrompt indicates the prompt was empty after trimming.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrNoModelsSelected indicates no models are selected.
	ErrNoModelsSelected = errors.New("no models selected")

	// ErrNoCredential indicates no validated API key is available.
	ErrNoCredential = errors.New("no validated API key")

	// ErrMessageNotFound indicates the retry target does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotRetryable indicates the retry target is not an assistant response.
	ErrNotRetryable = errors.New("only assistant responses can be retried")
)

// Round is the settled result of one dispatch: the user message plus
// one response slot per selected model, in selection order.
type Round struct {
	ConversationID string           `json:"conversation_id"`
	UserMessage    *model.Message   `json:"user_message"`
	Responses      []*model.Message `json:"responses"`
}

// Dispatch sends one prompt to every selected model concurrently and
// blocks until all completions settle.
//
// The user message and one pending placeholder per model are appended
// synchronously, in selection order, then persisted once so a crash
// mid-round cannot lose the prompt. Each model's completion settles
// its own placeholder; a failure marks only that slot and never
// touches siblings. After the last completion settles the
// conversation is persisted again.
func (a *App) Dispatch(ctx context.Context, prompt string) (*Round, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	a.mu.Lock()
	selected := append([]string(nil), a.selectedModels...)
	keyValid := a.keyValid
	prefs := a.preferences
	a.mu.Unlock()

	if len(selected) == 0 {
		return nil, ErrNoModelsSelected
	}
	if !keyValid {
		return nil, ErrNoCredential
	}

	userMsg := model.NewUserMessage(prompt)
	placeholders := make([]*model.Message, len(selected))
	for i, modelID := range selected {
		placeholders[i] = model.NewPendingMessage(modelID)
	}

	a.state.Append(userMsg)
	history := assembleHistory(a.state.Snapshot())
	a.state.Append(placeholders...)

	// Durability save: prompt and placeholders survive a crash. A
	// failed write must not strand the round, so the fan-out proceeds
	// and the failure is only logged.
	if _, err := a.SaveActive(); err != nil {
		log.Printf("dispatch: durability save failed: %v", err)
	}

	params := cloud.Params{
		Temperature: prefs.DefaultTemperature,
		MaxTokens:   prefs.DefaultMaxTokens,
	}

	var wg sync.WaitGroup
	for i, modelID := range selected {
		wg.Add(1)
		go func(id, modelID string) {
			defer wg.Done()
			a.settle(ctx, id, modelID, history, params)
		}(placeholders[i].ID, modelID)
	}
	wg.Wait()

	// The round has settled; a failed save must not discard it.
	if _, err := a.SaveActive(); err != nil {
		log.Printf("dispatch: post-round save failed: %v", err)
	}

	round := &Round{UserMessage: a.state.Get(userMsg.ID)}
	for _, p := range placeholders {
		round.Responses = append(round.Responses, a.state.Get(p.ID))
	}
	a.mu.Lock()
	round.ConversationID = a.activeID
	a.mu.Unlock()
	return round, nil
}

// Retry reissues a single failed (or stale) assistant response. The
// target resets to pending, history reassembles from the current
// state, and exactly one completion settles it. Nothing is persisted;
// the next round or explicit save picks the change up.
func (a *App) Retry(ctx context.Context, messageID string) error {
	target := a.state.Get(messageID)
	if target == nil {
		return ErrMessageNotFound
	}
	if target.Role != model.RoleAssistant {
		return ErrNotRetryable
	}

	a.mu.Lock()
	keyValid := a.keyValid
	prefs := a.preferences
	a.mu.Unlock()
	if !keyValid {
		return ErrNoCredential
	}

	a.state.Update(messageID, func(m *model.Message) {
		m.MarkPending()
	})

	history := assembleHistory(a.state.Snapshot())
	params := cloud.Params{
		Temperature: prefs.DefaultTemperature,
		MaxTokens:   prefs.DefaultMaxTokens,
	}

	a.settle(ctx, messageID, target.ModelID, history, params)
	return nil
}

// settle runs one completion and applies the result to its slot.
func (a *App) settle(ctx context.Context, messageID, modelID string, history []cloud.ChatMessage, params cloud.Params) {
	a.mu.Lock()
	credentialed := a.credential != ""
	a.mu.Unlock()
	if !credentialed {
		// Credential cleared after dispatch started; fail the slot
		a.state.Update(messageID, func(m *model.Message) {
			m.MarkFailed("no API key configured")
		})
		return
	}

	outcome, err := a.gateway.Complete(ctx, modelID, history, params)
	a.state.Update(messageID, func(m *model.Message) {
		switch {
		case err != nil:
			m.MarkFailed(err.Error())
		case outcome.Success:
			m.MarkComplete(outcome.Content, &model.Usage{
				PromptTokens:     outcome.Usage.PromptTokens,
				CompletionTokens: outcome.Usage.CompletionTokens,
				TotalTokens:      outcome.Usage.TotalTokens,
			})
		default:
			m.MarkFailed(outcome.ErrorDetail)
		}
	})
}

// assembleHistory builds the shared history for a round: user messages
// plus complete, non-empty assistant responses, in order. Pending and
// failed slots never leak into a prompt.
func assembleHistory(msgs []*model.Message) []cloud.ChatMessage {
	var history []cloud.ChatMessage
	for _, msg := range msgs {
		switch {
		case msg.Role == model.RoleUser:
			history = append(history, cloud.NewUserMessage(msg.Content))
		case msg.Role == model.RoleAssistant && msg.IsComplete() && msg.Content != "":
			history = append(history, cloud.NewAssistantMessage(msg.Content))
		}
	}
	return history
}
