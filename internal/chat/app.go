// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/polychat/internal/cloud"
	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/store"
)

// Gateway is the outbound surface the app depends on. cloud.Client
// implements it; tests substitute fakes.
type Gateway interface {
	Complete(ctx context.Context, modelID string, history []cloud.ChatMessage, params cloud.Params) (cloud.Outcome, error)
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
	ValidateKey(ctx context.Context, apiKey string) bool
	SetKey(apiKey string)
}

// SearchIndex indexes conversation messages for content search. The
// app tolerates a nil index by falling back to title search.
type SearchIndex interface {
	Reindex(conv *model.Conversation) error
	Remove(convID string) error
	Rebuild(convs []*model.Conversation) error
	Search(query string) ([]string, error)
}

// App holds the whole application state: credential, model catalog,
// selection, preferences, the conversation collection, and the active
// conversation. All mutation goes through its methods; reads hand out
// copies.
type App struct {
	mu      sync.Mutex
	gateway Gateway
	store   *store.Store
	index   SearchIndex

	credential      string
	keyValid        bool
	availableModels []model.ModelInfo
	selectedModels  []string
	preferences     model.Preferences

	// Active conversation identity; its messages live in state.
	activeID      string
	activeTitle   string
	activeCreated time.Time

	state *State
}

// NewApp wires an app over its gateway, store, and optional search
// index, loading the persisted settings.
func NewApp(gateway Gateway, st *store.Store, idx SearchIndex) *App {
	gateway.SetKey(st.Credential())
	return &App{
		gateway:        gateway,
		store:          st,
		index:          idx,
		credential:     st.Credential(),
		selectedModels: st.SelectedModels(),
		preferences:    st.Preferences(),
		state:          NewState(),
	}
}

// Bootstrap validates the stored credential, populates the model
// catalog, and restores the most recent conversation. Called once at
// startup; failures degrade to the fallback catalog rather than abort.
func (a *App) Bootstrap(ctx context.Context) {
	a.mu.Lock()
	credential := a.credential
	a.mu.Unlock()

	valid := false
	if credential != "" {
		valid = a.gateway.ValidateKey(ctx, credential)
	}

	a.mu.Lock()
	a.keyValid = valid
	a.mu.Unlock()

	a.RefreshModels(ctx)

	if a.state.Len() == 0 {
		a.LoadMostRecent()
	}
}

// =============================================================================
// CREDENTIAL
// =============================================================================

// SetCredential stores and validates a new API key. An empty key
// clears the stored credential. The reported bool is the validation
// verdict; persistence errors surface separately.
func (a *App) SetCredential(ctx context.Context, apiKey string) (bool, error) {
	apiKey = strings.TrimSpace(apiKey)

	if apiKey == "" {
		if err := a.store.ClearCredential(); err != nil {
			return false, err
		}
		a.gateway.SetKey("")
		a.mu.Lock()
		a.credential = ""
		a.keyValid = false
		a.mu.Unlock()
		a.RefreshModels(ctx)
		return false, nil
	}

	if err := a.store.SaveCredential(apiKey); err != nil {
		return false, err
	}

	a.gateway.SetKey(apiKey)
	valid := a.gateway.ValidateKey(ctx, apiKey)

	a.mu.Lock()
	a.credential = apiKey
	a.keyValid = valid
	a.mu.Unlock()

	a.RefreshModels(ctx)
	return valid, nil
}

// CredentialStatus reports whether a key is stored and whether it
// validated.
func (a *App) CredentialStatus() (configured, valid bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.credential != "", a.keyValid
}

// =============================================================================
// MODEL CATALOG AND SELECTION
// =============================================================================

// RefreshModels repopulates the catalog from the gateway. Without a
// valid key, or when the listing fails, the fixed fallback catalog is
// used so selection always has options. This boundary never errors.
func (a *App) RefreshModels(ctx context.Context) {
	a.mu.Lock()
	valid := a.keyValid
	a.mu.Unlock()

	models := model.FallbackModels()
	if valid {
		if listed, err := a.gateway.ListModels(ctx); err == nil && len(listed) > 0 {
			models = listed
		}
	}

	a.mu.Lock()
	a.availableModels = models
	a.mu.Unlock()
}

// Models returns the current catalog.
func (a *App) Models() []model.ModelInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ModelInfo, len(a.availableModels))
	copy(out, a.availableModels)
	return out
}

// SetSelectedModels persists and applies a new model selection.
func (a *App) SetSelectedModels(ids []string) error {
	if err := a.store.SaveSelectedModels(ids); err != nil {
		return err
	}
	a.mu.Lock()
	a.selectedModels = append([]string(nil), ids...)
	a.mu.Unlock()
	return nil
}

// SelectedModels returns the current selection.
func (a *App) SelectedModels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.selectedModels...)
}

// =============================================================================
// PREFERENCES
// =============================================================================

// UpdatePreferences validates, persists, and applies new preferences.
func (a *App) UpdatePreferences(prefs model.Preferences) error {
	if err := prefs.Validate(); err != nil {
		return err
	}
	if err := a.store.SavePreferences(prefs); err != nil {
		return err
	}
	a.mu.Lock()
	a.preferences = prefs
	a.mu.Unlock()
	return nil
}

// Preferences returns the current preferences.
func (a *App) Preferences() model.Preferences {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preferences
}

// =============================================================================
// ACTIVE CONVERSATION
// =============================================================================

// Messages returns a snapshot of the active conversation's messages.
func (a *App) Messages() []*model.Message {
	return a.state.Snapshot()
}

// ActiveConversation assembles a snapshot of the active conversation.
func (a *App) ActiveConversation() *model.Conversation {
	a.mu.Lock()
	conv := &model.Conversation{
		ID:             a.activeID,
		Title:          a.activeTitle,
		CreatedAt:      a.activeCreated,
		SelectedModels: append([]string(nil), a.selectedModels...),
	}
	a.mu.Unlock()
	conv.Messages = a.state.Snapshot()
	return conv
}

// SaveActive persists the active conversation and returns its id.
// An empty conversation is not saved and reports an empty id.
func (a *App) SaveActive() (string, error) {
	conv := a.ActiveConversation()
	if conv.IsEmpty() {
		return "", nil
	}

	id, err := a.store.SaveConversation(conv)
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	a.activeID = conv.ID
	a.activeTitle = conv.Title
	a.activeCreated = conv.CreatedAt
	a.mu.Unlock()

	if a.index != nil {
		if err := a.index.Reindex(conv); err != nil {
			return id, err
		}
	}
	return id, nil
}

// LoadConversation makes a stored conversation the active one,
// restoring its messages and model selection.
func (a *App) LoadConversation(id string) error {
	conv, err := a.store.LoadConversation(id)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.activeID = conv.ID
	a.activeTitle = conv.Title
	a.activeCreated = conv.CreatedAt
	if len(conv.SelectedModels) > 0 {
		a.selectedModels = append([]string(nil), conv.SelectedModels...)
	}
	a.mu.Unlock()

	a.state.ReplaceAll(conv.Messages)
	return nil
}

// LoadMostRecent restores the newest stored conversation. Reports
// whether anything was loaded.
func (a *App) LoadMostRecent() bool {
	conv := a.store.MostRecentConversation()
	if conv == nil {
		return false
	}
	return a.LoadConversation(conv.ID) == nil
}

// NewConversation resets the active conversation to empty.
func (a *App) NewConversation() {
	a.mu.Lock()
	a.activeID = ""
	a.activeTitle = ""
	a.activeCreated = time.Time{}
	a.mu.Unlock()
	a.state.Reset()
}

// DeleteConversation removes a stored conversation. Deleting the
// active one resets the active state to empty.
func (a *App) DeleteConversation(id string) error {
	if err := a.store.DeleteConversation(id); err != nil {
		return err
	}
	if a.index != nil {
		if err := a.index.Remove(id); err != nil {
			return err
		}
	}

	a.mu.Lock()
	wasActive := a.activeID == id
	a.mu.Unlock()
	if wasActive {
		a.NewConversation()
	}
	return nil
}

// Conversations lists the stored collection, newest-first.
func (a *App) Conversations() []model.ConversationMeta {
	return a.store.ConversationMetas()
}

// SearchConversations finds stored conversations matching the query.
// With an index attached the search spans full message content,
// otherwise it covers titles and previews.
func (a *App) SearchConversations(query string) ([]model.ConversationMeta, error) {
	metas := a.store.SearchConversations(query)
	if a.index == nil || strings.TrimSpace(query) == "" {
		return metas, nil
	}

	ids, err := a.index.Search(query)
	if err != nil {
		return metas, nil // degraded search, not a failure
	}

	matched := make(map[string]bool, len(ids))
	for _, id := range ids {
		matched[id] = true
	}
	for _, meta := range metas {
		matched[meta.ID] = true
	}

	// Preserve the collection's newest-first order
	var results []model.ConversationMeta
	for _, meta := range a.store.ConversationMetas() {
		if matched[meta.ID] {
			results = append(results, meta)
		}
	}
	return results, nil
}

// ClearConversations removes all stored conversations and resets the
// active one.
func (a *App) ClearConversations() error {
	if err := a.store.ClearConversations(); err != nil {
		return err
	}
	if a.index != nil {
		if err := a.index.Rebuild(nil); err != nil {
			return err
		}
	}
	a.NewConversation()
	return nil
}

// ClearAll wipes every persisted key and resets the app to its fresh
// state: no credential, default preferences, empty selection, empty
// active conversation, fallback catalog.
func (a *App) ClearAll(ctx context.Context) error {
	if err := a.store.ClearAll(); err != nil {
		return err
	}
	if a.index != nil {
		if err := a.index.Rebuild(nil); err != nil {
			return err
		}
	}

	a.gateway.SetKey("")
	a.mu.Lock()
	a.credential = ""
	a.keyValid = false
	a.selectedModels = nil
	a.preferences = model.DefaultPreferences()
	a.mu.Unlock()

	a.NewConversation()
	a.RefreshModels(ctx)
	return nil
}

// =============================================================================
// EXPORT / IMPORT
// =============================================================================

// Export snapshots all non-secret state.
func (a *App) Export() store.Document {
	return a.store.Export()
}

// Import replaces the stored state with the document and reloads the
// in-memory settings from it. The active conversation resets because
// its identity may not survive the import.
func (a *App) Import(doc store.Document) error {
	if err := a.store.Import(doc); err != nil {
		return err
	}

	a.mu.Lock()
	a.preferences = a.store.Preferences()
	a.selectedModels = a.store.SelectedModels()
	a.mu.Unlock()

	if a.index != nil {
		if err := a.index.Rebuild(a.store.Conversations()); err != nil {
			return err
		}
	}

	a.NewConversation()
	return nil
}

// StorageInfo reports on-disk usage.
func (a *App) StorageInfo() store.Info {
	return a.store.StorageInfo()
}
