// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the HTTP API for the browser client.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/polychat/internal/chat"
	"github.com/jeranaias/polychat/internal/cloud"
	"github.com/jeranaias/polychat/internal/model"
	"github.com/jeranaias/polychat/internal/store"
	"github.com/jeranaias/polychat/internal/util"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// DefaultPort is the default port for the HTTP server.
	DefaultPort = 8090

	// MaxPromptLength is the maximum length for a prompt to prevent DoS.
	MaxPromptLength = 100000

	// MaxRequestBodySize is the maximum size for request bodies (1MB).
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxImportBodySize is the maximum size for import documents (32MB).
	// Imports carry the full conversation history and need more room
	// than regular API calls.
	MaxImportBodySize = 32 * 1024 * 1024

	// Version is the server version.
	Version = "0.1.0"
)

// ============================================================================
// SERVER STATS
// ============================================================================

// ServerStats tracks server usage statistics.
type ServerStats struct {
	TotalRequests    int64     `json:"total_requests"`
	RoundsDispatched int64     `json:"rounds_dispatched"`
	Retries          int64     `json:"retries"`
	ResponsesOK      int64     `json:"responses_ok"`
	ResponsesFailed  int64     `json:"responses_failed"`
	StartTime        time.Time `json:"start_time"`
}

// NewServerStats creates a new ServerStats instance.
func NewServerStats() *ServerStats {
	return &ServerStats{
		StartTime: time.Now(),
	}
}

// RecordRequest records one API request.
func (s *ServerStats) RecordRequest() {
	atomic.AddInt64(&s.TotalRequests, 1)
}

// RecordRound records a settled dispatch round.
func (s *ServerStats) RecordRound(round *chat.Round) {
	atomic.AddInt64(&s.RoundsDispatched, 1)
	for _, resp := range round.Responses {
		if resp.Status == model.StatusFailed {
			atomic.AddInt64(&s.ResponsesFailed, 1)
		} else {
			atomic.AddInt64(&s.ResponsesOK, 1)
		}
	}
}

// RecordRetry records a retry attempt.
func (s *ServerStats) RecordRetry() {
	atomic.AddInt64(&s.Retries, 1)
}

// Snapshot returns a copy of the current stats.
func (s *ServerStats) Snapshot() ServerStats {
	return ServerStats{
		TotalRequests:    atomic.LoadInt64(&s.TotalRequests),
		RoundsDispatched: atomic.LoadInt64(&s.RoundsDispatched),
		Retries:          atomic.LoadInt64(&s.Retries),
		ResponsesOK:      atomic.LoadInt64(&s.ResponsesOK),
		ResponsesFailed:  atomic.LoadInt64(&s.ResponsesFailed),
		StartTime:        s.StartTime,
	}
}

// Uptime returns the server uptime duration.
func (s *ServerStats) Uptime() time.Duration {
	return time.Since(s.StartTime)
}

// ============================================================================
// SERVER
// ============================================================================

// Server is the HTTP API server for the browser client.
type Server struct {
	port          int
	allowedOrigin string
	router        *http.ServeMux
	server        *http.Server

	app   *chat.App
	stats *ServerStats

	mu          sync.RWMutex
	handler     http.Handler
	handlerOnce sync.Once
}

// NewServer creates a new Server backed by the given application.
// If port is 0, the default port (8090) is used.
func NewServer(app *chat.App, port int) *Server {
	if port == 0 {
		port = DefaultPort
	}

	s := &Server{
		port:   port,
		router: http.NewServeMux(),
		app:    app,
		stats:  NewServerStats(),
	}

	s.setupRoutes()
	return s
}

// WithAllowedOrigin sets the origin allowed for cross-origin requests.
func (s *Server) WithAllowedOrigin(origin string) *Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowedOrigin = origin
	return s
}

// Port returns the server port.
func (s *Server) Port() int {
	return s.port
}

// Stats returns the server's usage counters.
func (s *Server) Stats() *ServerStats {
	return s.stats
}

// ============================================================================
// ROUTES
// ============================================================================

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	// Chat endpoints
	s.router.HandleFunc("POST /api/chat", s.handleChat)
	s.router.HandleFunc("POST /api/chat/retry", s.handleRetry)
	s.router.HandleFunc("GET /api/messages", s.handleMessages)

	// Model catalog and selection
	s.router.HandleFunc("GET /api/models", s.handleModels)
	s.router.HandleFunc("POST /api/models/selected", s.handleSelectModels)

	// Credential management
	s.router.HandleFunc("GET /api/key", s.handleKeyStatus)
	s.router.HandleFunc("POST /api/key", s.handleKeySet)

	// Preferences
	s.router.HandleFunc("GET /api/preferences", s.handlePreferencesGet)
	s.router.HandleFunc("POST /api/preferences", s.handlePreferencesSet)

	// Conversation lifecycle
	s.router.HandleFunc("GET /api/conversations", s.handleConversations)
	s.router.HandleFunc("GET /api/conversations/search", s.handleSearch)
	s.router.HandleFunc("POST /api/conversations/save", s.handleSave)
	s.router.HandleFunc("POST /api/conversations/new", s.handleNew)
	s.router.HandleFunc("POST /api/conversations/{id}/load", s.handleLoad)
	s.router.HandleFunc("DELETE /api/conversations/{id}", s.handleDelete)
	s.router.HandleFunc("DELETE /api/conversations", s.handleClearConversations)

	// Export and import
	s.router.HandleFunc("GET /api/export", s.handleExport)
	s.router.HandleFunc("POST /api/import", s.handleImport)

	// Health and stats
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /stats", s.handleStats)
}

// Handler returns the complete HTTP handler with middleware applied.
// Built once; WithAllowedOrigin must be called before the first request.
func (s *Server) Handler() http.Handler {
	s.handlerOnce.Do(func() {
		s.mu.RLock()
		origin := s.allowedOrigin
		s.mu.RUnlock()

		s.handler = Chain(
			RecoveryMiddleware(),
			SecurityHeadersMiddleware(),
			LoggingMiddleware(log.Default()),
			CORSMiddleware(origin),
			RateLimitMiddleware(DefaultRateLimiter()),
			BodyLimitMiddleware(MaxImportBodySize),
		)(s.router)
	})
	return s.handler
}

// ============================================================================
// CHAT HANDLERS
// ============================================================================

// ChatRequest is the dispatch request body.
type ChatRequest struct {
	Message string `json:"message"`
}

// RetryRequest identifies the response to retry.
type RetryRequest struct {
	MessageID string `json:"message_id"`
}

// handleChat handles POST /api/chat. It blocks until every selected
// model's completion settles and returns the full round.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.decodeError(w, err)
		return
	}

	if util.RuneLen(req.Message) > MaxPromptLength {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Message exceeds maximum length of %d", MaxPromptLength))
		return
	}

	round, err := s.app.Dispatch(r.Context(), req.Message)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyPrompt):
			s.writeError(w, http.StatusBadRequest, "Message must not be empty")
		case errors.Is(err, chat.ErrNoModelsSelected):
			s.writeError(w, http.StatusBadRequest, "No models selected")
		case errors.Is(err, chat.ErrNoCredential):
			s.writeError(w, http.StatusUnauthorized, "A validated API key is required")
		default:
			log.Printf("DISPATCH_ERROR | error=%v", err)
			s.writeError(w, http.StatusInternalServerError, "Request processing failed. Please try again.")
		}
		return
	}

	s.stats.RecordRound(round)
	s.writeJSON(w, http.StatusOK, round)
}

// handleRetry handles POST /api/chat/retry. It blocks until the retried
// completion settles and returns the updated message.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.decodeError(w, err)
		return
	}

	if err := s.app.Retry(r.Context(), req.MessageID); err != nil {
		switch {
		case errors.Is(err, chat.ErrMessageNotFound):
			s.writeError(w, http.StatusNotFound, "Message not found")
		case errors.Is(err, chat.ErrNotRetryable):
			s.writeError(w, http.StatusBadRequest, "Only assistant responses can be retried")
		case errors.Is(err, chat.ErrNoCredential):
			s.writeError(w, http.StatusUnauthorized, "A validated API key is required")
		default:
			log.Printf("RETRY_ERROR | message=%s error=%v", req.MessageID, err)
			s.writeError(w, http.StatusInternalServerError, "Request processing failed. Please try again.")
		}
		return
	}

	s.stats.RecordRetry()

	for _, msg := range s.app.Messages() {
		if msg.ID == req.MessageID {
			s.writeJSON(w, http.StatusOK, msg)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "Message not found")
}

// MessagesResponse is the active conversation snapshot.
type MessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Title          string           `json:"title"`
	Messages       []*model.Message `json:"messages"`
}

// handleMessages handles GET /api/messages. Clients poll this while a
// round is in flight to observe placeholders settling one by one.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	conv := s.app.ActiveConversation()
	s.writeJSON(w, http.StatusOK, MessagesResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Messages:       conv.Messages,
	})
}

// ============================================================================
// MODEL HANDLERS
// ============================================================================

// ModelsResponse lists the catalog and the current selection.
type ModelsResponse struct {
	Models   []model.ModelInfo `json:"models"`
	Selected []string          `json:"selected"`
}

// SelectModelsRequest sets the selected models.
type SelectModelsRequest struct {
	Models []string `json:"models"`
}

// handleModels handles GET /api/models.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	models := s.app.Models()
	if len(models) == 0 {
		s.app.RefreshModels(r.Context())
		models = s.app.Models()
	}

	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Models:   models,
		Selected: s.app.SelectedModels(),
	})
}

// handleSelectModels handles POST /api/models/selected.
func (s *Server) handleSelectModels(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req SelectModelsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.decodeError(w, err)
		return
	}

	if err := s.app.SetSelectedModels(req.Models); err != nil {
		log.Printf("SELECT_MODELS_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save model selection")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string][]string{"selected": s.app.SelectedModels()})
}

// ============================================================================
// CREDENTIAL HANDLERS
// ============================================================================

// KeyStatusResponse reports whether a credential is stored and usable.
// The key itself never leaves the server.
type KeyStatusResponse struct {
	Configured  bool   `json:"configured"`
	Valid       bool   `json:"valid"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// KeySetRequest carries a new API key. An empty key clears the stored
// credential.
type KeySetRequest struct {
	APIKey string `json:"api_key"`
}

// handleKeyStatus handles GET /api/key.
func (s *Server) handleKeyStatus(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	configured, valid := s.app.CredentialStatus()
	s.writeJSON(w, http.StatusOK, KeyStatusResponse{
		Configured: configured,
		Valid:      valid,
	})
}

// handleKeySet handles POST /api/key.
func (s *Server) handleKeySet(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req KeySetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.decodeError(w, err)
		return
	}

	valid, err := s.app.SetCredential(r.Context(), req.APIKey)
	if err != nil {
		log.Printf("KEY_SET_ERROR | fingerprint=%s error=%v", fingerprintOf(req.APIKey), err)
		s.writeError(w, http.StatusInternalServerError, "Failed to store API key")
		return
	}

	configured, _ := s.app.CredentialStatus()
	s.writeJSON(w, http.StatusOK, KeyStatusResponse{
		Configured: configured,
		Valid:      valid,
	})
}

// fingerprintOf returns a loggable identifier for a key without
// revealing any part of it.
func fingerprintOf(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	if cloud.ValidateKeyFormat(apiKey) {
		return "wellformed"
	}
	return "malformed"
}

// ============================================================================
// PREFERENCES HANDLERS
// ============================================================================

// handlePreferencesGet handles GET /api/preferences.
func (s *Server) handlePreferencesGet(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	s.writeJSON(w, http.StatusOK, s.app.Preferences())
}

// handlePreferencesSet handles POST /api/preferences.
func (s *Server) handlePreferencesSet(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var prefs model.Preferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		s.decodeError(w, err)
		return
	}

	if err := prefs.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.app.UpdatePreferences(prefs); err != nil {
		log.Printf("PREFERENCES_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save preferences")
		return
	}

	s.writeJSON(w, http.StatusOK, s.app.Preferences())
}

// ============================================================================
// CONVERSATION HANDLERS
// ============================================================================

// handleConversations handles GET /api/conversations.
func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	metas := s.app.Conversations()
	if metas == nil {
		metas = []model.ConversationMeta{}
	}
	s.writeJSON(w, http.StatusOK, metas)
}

// handleSearch handles GET /api/conversations/search?q=term.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	query := r.URL.Query().Get("q")
	metas, err := s.app.SearchConversations(query)
	if err != nil {
		log.Printf("SEARCH_ERROR | error=%v", err)
	}
	if metas == nil {
		metas = []model.ConversationMeta{}
	}
	s.writeJSON(w, http.StatusOK, metas)
}

// handleSave handles POST /api/conversations/save.
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	id, err := s.app.SaveActive()
	if err != nil {
		log.Printf("SAVE_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to save conversation")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

// handleNew handles POST /api/conversations/new.
func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	s.app.NewConversation()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLoad handles POST /api/conversations/{id}/load.
func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	id := r.PathValue("id")
	if err := s.app.LoadConversation(id); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		log.Printf("LOAD_ERROR | id=%s error=%v", id, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	conv := s.app.ActiveConversation()
	s.writeJSON(w, http.StatusOK, MessagesResponse{
		ConversationID: conv.ID,
		Title:          conv.Title,
		Messages:       conv.Messages,
	})
}

// handleDelete handles DELETE /api/conversations/{id}.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	id := r.PathValue("id")
	if err := s.app.DeleteConversation(id); err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			s.writeError(w, http.StatusNotFound, "Conversation not found")
			return
		}
		log.Printf("DELETE_ERROR | id=%s error=%v", id, err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClearConversations handles DELETE /api/conversations.
func (s *Server) handleClearConversations(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	if err := s.app.ClearConversations(); err != nil {
		log.Printf("CLEAR_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to clear conversations")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// EXPORT / IMPORT HANDLERS
// ============================================================================

// handleExport handles GET /api/export. The exported document never
// contains the API key.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	doc := s.app.Export()
	filename := fmt.Sprintf("polychat-export-%s.json", doc.ExportDate.Format("2006-01-02"))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	s.writeJSON(w, http.StatusOK, doc)
}

// handleImport handles POST /api/import. The document is validated in
// full before anything is written, so a rejected import leaves the
// store untouched.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	s.stats.RecordRequest()

	var doc store.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.decodeError(w, err)
		return
	}

	if err := s.app.Import(doc); err != nil {
		if errors.Is(err, store.ErrInvalidDocument) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Printf("IMPORT_ERROR | error=%v", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to import data")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ============================================================================
// HEALTH AND STATS HANDLERS
// ============================================================================

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	KeyConfigured bool   `json:"key_configured"`
	KeyValid      bool   `json:"key_valid"`
	Conversations int    `json:"conversations"`
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	configured, valid := s.app.CredentialStatus()
	info := s.app.StorageInfo()

	health := HealthResponse{
		Status:        "ok",
		Version:       Version,
		KeyConfigured: configured,
		KeyValid:      valid,
		Conversations: info.TotalConversations,
	}
	if !valid {
		health.Status = "degraded"
	}

	s.writeJSON(w, http.StatusOK, health)
}

// StatsResponse represents the usage statistics response.
type StatsResponse struct {
	TotalRequests    int64      `json:"total_requests"`
	RoundsDispatched int64      `json:"rounds_dispatched"`
	Retries          int64      `json:"retries"`
	ResponsesOK      int64      `json:"responses_ok"`
	ResponsesFailed  int64      `json:"responses_failed"`
	UptimeSeconds    int64      `json:"uptime_seconds"`
	Storage          store.Info `json:"storage"`
}

// handleStats handles GET /stats.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.stats.Snapshot()

	s.writeJSON(w, http.StatusOK, StatsResponse{
		TotalRequests:    stats.TotalRequests,
		RoundsDispatched: stats.RoundsDispatched,
		Retries:          stats.Retries,
		ResponsesOK:      stats.ResponsesOK,
		ResponsesFailed:  stats.ResponsesFailed,
		UptimeSeconds:    int64(s.stats.Uptime().Seconds()),
		Storage:          s.app.StorageInfo(),
	})
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("SERVER_START | addr=%s version=%s", addr, Version)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Printf("SERVER_SHUTDOWN | starting graceful shutdown")
	return s.server.Shutdown(ctx)
}

// ============================================================================
// HELPERS
// ============================================================================

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}

// decodeError maps a request body decode failure to a response.
// SECURITY: Full details are logged internally, the client gets a
// generic message.
func (s *Server) decodeError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxErr.Limit))
		return
	}
	log.Printf("Invalid request body: %v", err)
	s.writeError(w, http.StatusBadRequest, "Invalid request format")
}
