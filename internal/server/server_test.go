// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/polychat/internal/chat"
	"github.com/jeranaias/polychat/internal/cloud"
	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/store"
)

// stubGateway is a scripted Gateway for handler tests.
type stubGateway struct {
	mu       sync.Mutex
	key      string
	keyValid bool
	outcomes map[string]cloud.Outcome
}

func newStubGateway() *stubGateway {
	return &stubGateway{keyValid: true, outcomes: map[string]cloud.Outcome{}}
}

func (g *stubGateway) Complete(ctx context.Context, modelID string, history []cloud.ChatMessage, params cloud.Params) (cloud.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if out, ok := g.outcomes[modelID]; ok {
		return out, nil
	}
	return cloud.Outcome{ModelID: modelID, Success: true, Content: "response from " + modelID}, nil
}

func (g *stubGateway) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	return []model.ModelInfo{
		{ID: "mistralai/mistral-7b-instruct:free", Name: "Mistral 7B", IsFree: true},
		{ID: "openai/gpt-4o", Name: "GPT-4o"},
	}, nil
}

func (g *stubGateway) ValidateKey(ctx context.Context, apiKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.keyValid
}

func (g *stubGateway) SetKey(apiKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = apiKey
}

// newTestServer builds a Server over a real store in a temp dir,
// bootstrapped with a valid key and one selected model.
func newTestServer(t *testing.T) (*Server, *stubGateway, *chat.App) {
	t.Helper()

	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := st.SaveCredential("sk-or-" + strings.Repeat("a", 40)); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveSelectedModels([]string{"openai/gpt-4o"}); err != nil {
		t.Fatal(err)
	}

	gw := newStubGateway()
	app := chat.NewApp(gw, st, nil)
	app.Bootstrap(context.Background())

	return NewServer(app, 0), gw, app
}

func doRequest(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

// ============================================================================
// CHAT
// ============================================================================

func TestChat_Success(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	round := decodeBody[chat.Round](t, rec)
	if round.UserMessage == nil || round.UserMessage.Content != "hello" {
		t.Errorf("user message = %+v", round.UserMessage)
	}
	if len(round.Responses) != 1 {
		t.Fatalf("responses = %d, want 1", len(round.Responses))
	}
	if round.Responses[0].Status != model.StatusComplete {
		t.Errorf("response status = %s", round.Responses[0].Status)
	}
	if round.ConversationID == "" {
		t.Error("round should carry the persisted conversation id")
	}
}

func TestChat_PartialFailureStillOK(t *testing.T) {
	s, gw, app := newTestServer(t)
	if err := app.SetSelectedModels([]string{"openai/gpt-4o", "anthropic/claude-3-haiku"}); err != nil {
		t.Fatal(err)
	}
	gw.outcomes["anthropic/claude-3-haiku"] = cloud.Outcome{
		ModelID:     "anthropic/claude-3-haiku",
		Success:     false,
		ErrorDetail: "rate limited, try again shortly",
	}

	rec := doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "compare"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, partial failure must not fail the round", rec.Code)
	}

	round := decodeBody[chat.Round](t, rec)
	if len(round.Responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(round.Responses))
	}
	if round.Responses[0].Status != model.StatusComplete {
		t.Errorf("first response status = %s", round.Responses[0].Status)
	}
	if round.Responses[1].Status != model.StatusFailed {
		t.Errorf("second response status = %s", round.Responses[1].Status)
	}
}

func TestChat_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(*stubGateway, *chat.App)
		message    string
		wantStatus int
	}{
		{
			name:       "empty prompt",
			setup:      func(*stubGateway, *chat.App) {},
			message:    "   ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "no models selected",
			setup: func(_ *stubGateway, app *chat.App) {
				if err := app.SetSelectedModels(nil); err != nil {
					t.Fatal(err)
				}
			},
			message:    "hello",
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "no credential",
			setup: func(gw *stubGateway, app *chat.App) {
				gw.mu.Lock()
				gw.keyValid = false
				gw.mu.Unlock()
				if _, err := app.SetCredential(context.Background(), ""); err != nil {
					t.Fatal(err)
				}
			},
			message:    "hello",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, gw, app := newTestServer(t)
			tt.setup(gw, app)

			rec := doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: tt.message})
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}
}

func TestChat_MalformedBody(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestRetry(t *testing.T) {
	s, gw, _ := newTestServer(t)
	gw.outcomes["openai/gpt-4o"] = cloud.Outcome{
		ModelID:     "openai/gpt-4o",
		Success:     false,
		ErrorDetail: "server error, try again",
	}

	rec := doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "hello"})
	round := decodeBody[chat.Round](t, rec)
	failedID := round.Responses[0].ID

	// Retry after the backend recovers
	gw.mu.Lock()
	delete(gw.outcomes, "openai/gpt-4o")
	gw.mu.Unlock()

	rec = doRequest(t, s, http.MethodPost, "/api/chat/retry", RetryRequest{MessageID: failedID})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	msg := decodeBody[model.Message](t, rec)
	if msg.Status != model.StatusComplete {
		t.Errorf("retried message status = %s, want complete", msg.Status)
	}
}

func TestRetry_UnknownMessage(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/chat/retry", RetryRequest{MessageID: "nope"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMessagesSnapshot(t *testing.T) {
	s, _, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "hello"})

	rec := doRequest(t, s, http.MethodGet, "/api/messages", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	snap := decodeBody[MessagesResponse](t, rec)
	if len(snap.Messages) != 2 {
		t.Errorf("messages = %d, want user + one response", len(snap.Messages))
	}
	if snap.ConversationID == "" {
		t.Error("snapshot should carry the conversation id after the round persisted")
	}
}

// ============================================================================
// MODELS, KEY, PREFERENCES
// ============================================================================

func TestModels(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/models", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decodeBody[ModelsResponse](t, rec)
	if len(resp.Models) == 0 {
		t.Error("model catalog should never be empty")
	}
	if len(resp.Selected) != 1 || resp.Selected[0] != "openai/gpt-4o" {
		t.Errorf("selected = %v", resp.Selected)
	}
}

func TestSelectModels(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/models/selected",
		SelectModelsRequest{Models: []string{"a", "b"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	resp := decodeBody[map[string][]string](t, rec)
	if len(resp["selected"]) != 2 {
		t.Errorf("selected = %v", resp["selected"])
	}
}

func TestKeyStatusAndSet(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/key", nil)
	status := decodeBody[KeyStatusResponse](t, rec)
	if !status.Configured || !status.Valid {
		t.Errorf("key status = %+v, want configured and valid", status)
	}
	if strings.Contains(rec.Body.String(), "sk-or-") {
		t.Error("key material must never appear in a response")
	}

	// Clearing the key
	rec = doRequest(t, s, http.MethodPost, "/api/key", KeySetRequest{APIKey: ""})
	status = decodeBody[KeyStatusResponse](t, rec)
	if status.Configured || status.Valid {
		t.Errorf("after clear, key status = %+v", status)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/api/preferences", nil)
	prefs := decodeBody[model.Preferences](t, rec)
	if prefs.DefaultTemperature != 0.7 {
		t.Errorf("default temperature = %g", prefs.DefaultTemperature)
	}

	prefs.Theme = "dark"
	prefs.DefaultTemperature = 1.1
	rec = doRequest(t, s, http.MethodPost, "/api/preferences", prefs)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/api/preferences", nil)
	prefs = decodeBody[model.Preferences](t, rec)
	if prefs.Theme != "dark" || prefs.DefaultTemperature != 1.1 {
		t.Errorf("preferences = %+v", prefs)
	}
}

func TestPreferencesValidation(t *testing.T) {
	s, _, _ := newTestServer(t)

	bad := model.DefaultPreferences()
	bad.DefaultTemperature = 5.0

	rec := doRequest(t, s, http.MethodPost, "/api/preferences", bad)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ============================================================================
// CONVERSATIONS
// ============================================================================

func TestConversationLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	// A round persists the conversation
	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "first topic"})

	rec := doRequest(t, s, http.MethodGet, "/api/conversations", nil)
	metas := decodeBody[[]model.ConversationMeta](t, rec)
	if len(metas) != 1 {
		t.Fatalf("conversations = %d, want 1", len(metas))
	}
	id := metas[0].ID

	// New conversation resets the active state
	doRequest(t, s, http.MethodPost, "/api/conversations/new", nil)
	rec = doRequest(t, s, http.MethodGet, "/api/messages", nil)
	snap := decodeBody[MessagesResponse](t, rec)
	if len(snap.Messages) != 0 {
		t.Errorf("after new, messages = %d, want 0", len(snap.Messages))
	}

	// Load restores it
	rec = doRequest(t, s, http.MethodPost, "/api/conversations/"+id+"/load", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("load status = %d", rec.Code)
	}
	snap = decodeBody[MessagesResponse](t, rec)
	if len(snap.Messages) != 2 {
		t.Errorf("after load, messages = %d, want 2", len(snap.Messages))
	}

	// Delete removes it
	rec = doRequest(t, s, http.MethodDelete, "/api/conversations/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/conversations", nil)
	metas = decodeBody[[]model.ConversationMeta](t, rec)
	if len(metas) != 0 {
		t.Errorf("after delete, conversations = %d, want 0", len(metas))
	}
}

func TestLoadUnknownConversation(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodPost, "/api/conversations/missing/load", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestSearchConversations(t *testing.T) {
	s, _, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "quantum computing"})
	doRequest(t, s, http.MethodPost, "/api/conversations/new", nil)
	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "gardening tips"})

	rec := doRequest(t, s, http.MethodGet, "/api/conversations/search?q=quantum", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	metas := decodeBody[[]model.ConversationMeta](t, rec)
	if len(metas) != 1 {
		t.Errorf("results = %d, want 1", len(metas))
	}
}

func TestClearConversations(t *testing.T) {
	s, _, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "hello"})

	rec := doRequest(t, s, http.MethodDelete, "/api/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodGet, "/api/conversations", nil)
	metas := decodeBody[[]model.ConversationMeta](t, rec)
	if len(metas) != 0 {
		t.Errorf("conversations = %d, want 0", len(metas))
	}
}

// ============================================================================
// EXPORT / IMPORT
// ============================================================================

func TestExportImport(t *testing.T) {
	s, _, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "export me"})

	rec := doRequest(t, s, http.MethodGet, "/api/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "attachment") {
		t.Error("export should set a download disposition")
	}
	if strings.Contains(rec.Body.String(), "sk-or-") {
		t.Error("export must never contain the API key")
	}

	doc := decodeBody[store.Document](t, rec)
	if len(doc.Conversations) != 1 {
		t.Fatalf("exported conversations = %d, want 1", len(doc.Conversations))
	}

	// A fresh server imports the document
	s2, _, _ := newTestServer(t)
	rec = doRequest(t, s2, http.MethodPost, "/api/import", doc)
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s2, http.MethodGet, "/api/conversations", nil)
	metas := decodeBody[[]model.ConversationMeta](t, rec)
	if len(metas) != 1 {
		t.Errorf("imported conversations = %d, want 1", len(metas))
	}
}

func TestImportInvalidDocument(t *testing.T) {
	s, _, _ := newTestServer(t)

	doc := store.Document{
		Conversations: []*model.Conversation{{ID: ""}},
	}

	rec := doRequest(t, s, http.MethodPost, "/api/import", doc)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// ============================================================================
// HEALTH, STATS, MIDDLEWARE
// ============================================================================

func TestHealth(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	health := decodeBody[HealthResponse](t, rec)
	if health.Status != "ok" {
		t.Errorf("health status = %s", health.Status)
	}
	if !health.KeyConfigured || !health.KeyValid {
		t.Errorf("health key state = %+v", health)
	}
}

func TestStats(t *testing.T) {
	s, _, _ := newTestServer(t)

	doRequest(t, s, http.MethodPost, "/api/chat", ChatRequest{Message: "hello"})

	rec := doRequest(t, s, http.MethodGet, "/stats", nil)
	stats := decodeBody[StatsResponse](t, rec)
	if stats.RoundsDispatched != 1 {
		t.Errorf("rounds = %d, want 1", stats.RoundsDispatched)
	}
	if stats.ResponsesOK != 1 {
		t.Errorf("responses ok = %d, want 1", stats.ResponsesOK)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.WithAllowedOrigin("http://localhost:5173")

	req := httptest.NewRequest(http.MethodOptions, "/api/chat", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:5173" {
		t.Errorf("allow-origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSDeniedOrigin(t *testing.T) {
	s, _, _ := newTestServer(t)
	s.WithAllowedOrigin("http://localhost:5173")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("disallowed origin must not receive CORS headers")
	}
}

func TestSecurityHeaders(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doRequest(t, s, http.MethodGet, "/health", nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing nosniff header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing frame-options header")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("fourth request should be rejected")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other IPs are limited independently")
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct connection", "203.0.113.9:1234", "", "203.0.113.9"},
		{"untrusted proxy ignored", "203.0.113.9:1234", "10.0.0.5", "203.0.113.9"},
		{"trusted proxy honored", "127.0.0.1:1234", "203.0.113.9", "203.0.113.9"},
		{"invalid forwarded ip", "127.0.0.1:1234", "not-an-ip", "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	panicky := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	handler := RecoveryMiddleware()(panicky)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	handler := Chain(mw("first"), mw("second"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	want := fmt.Sprintf("%v", []string{"first", "second", "handler"})
	if got := fmt.Sprintf("%v", order); got != want {
		t.Errorf("order = %v, want %v", got, want)
	}
}
