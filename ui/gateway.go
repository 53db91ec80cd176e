package ui

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"rapport/app"
	"rapport/internal"
	"rapport/internal/errors"
	"rapport/models"
)

// Gateway is the JSON API surface over the practice service.
type Gateway struct {
	router   *chi.Mux
	practice *app.PracticeService
	logger   *internal.Logger
}

// NewGateway creates the API gateway
func NewGateway(practice *app.PracticeService, logger *internal.Logger) *Gateway {
	g := &Gateway{
		router:   chi.NewRouter(),
		practice: practice,
		logger:   logger,
	}

	g.setupMiddleware()
	g.setupRoutes()

	return g
}

func (g *Gateway) setupMiddleware() {
	g.router.Use(middleware.RequestID)
	g.router.Use(middleware.RealIP)
	g.router.Use(middleware.Logger)
	g.router.Use(middleware.Recoverer)
	g.router.Use(middleware.Heartbeat("/healthz"))
}

func (g *Gateway) setupRoutes() {
	g.router.Route("/api", func(r chi.Router) {
		r.Post("/sessions", g.handleStartSession)
		r.Post("/sessions/{id}/messages", g.handleExchange)
		r.Post("/sessions/{id}/turns", g.handleAppendTurn)
		r.Get("/sessions/{id}/history", g.handleHistory)
		r.Post("/sessions/{id}/end", g.handleEndSession)
		r.Get("/sessions/{id}", g.handleSessionDetail)
		r.Get("/sessions/{id}/usage", g.handleSessionUsage)

		r.Get("/users/{id}/progress", g.handleProgress)
		r.Get("/users/{id}/summary", g.handleSummary)
		r.Get("/users/{id}/sessions", g.handleUserSessions)

		r.Get("/scenarios", g.handleScenarios)
	})
}

// Router exposes the handler tree for the HTTP server and for tests.
func (g *Gateway) Router() http.Handler {
	return g.router
}

type startSessionRequest struct {
	UserID   string `json:"user_id"`
	Scenario string `json:"scenario"`
}

type startSessionResponse struct {
	Session     *models.Session `json:"session"`
	OpeningLine string          `json:"opening_line"`
}

func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "user_id must be a UUID")
		return
	}

	result, err := g.practice.Start(r.Context(), userID, req.Scenario)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, startSessionResponse{
		Session:     result.Session,
		OpeningLine: result.OpeningLine,
	})
}

type exchangeRequest struct {
	Content string `json:"content"`
}

type exchangeResponse struct {
	Reply     string `json:"reply"`
	TurnCount int    `json:"turn_count"`
}

func (g *Gateway) handleExchange(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.sessionID(w, r)
	if !ok {
		return
	}

	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeAPIError(w, http.StatusBadRequest, "content is required")
		return
	}

	result, err := g.practice.Exchange(r.Context(), sessionID, req.Content)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exchangeResponse{
		Reply:     result.Reply,
		TurnCount: result.TurnCount,
	})
}

type appendTurnRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (g *Gateway) handleAppendTurn(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.sessionID(w, r)
	if !ok {
		return
	}

	var req appendTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	role := models.Role(req.Role)
	if role != models.RoleCounselor && role != models.RoleClient {
		writeAPIError(w, http.StatusBadRequest, "role must be counselor or client")
		return
	}
	if req.Content == "" {
		writeAPIError(w, http.StatusBadRequest, "content is required")
		return
	}

	count, err := g.practice.SendTurn(r.Context(), sessionID, role, req.Content)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"turn_count": count})
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.sessionID(w, r)
	if !ok {
		return
	}

	turns, err := g.practice.History(r.Context(), sessionID)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      turns,
	})
}

type endSessionResponse struct {
	Session    *models.Session `json:"session"`
	Transcript []models.Turn   `json:"transcript"`
	DurationMs int64           `json:"duration_ms"`
	Feedback   string          `json:"feedback"`
	Score      int             `json:"score"`
}

func (g *Gateway) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.sessionID(w, r)
	if !ok {
		return
	}

	result, err := g.practice.End(r.Context(), sessionID)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, endSessionResponse{
		Session:    result.Session,
		Transcript: result.Transcript,
		DurationMs: result.DurationMs,
		Feedback:   result.Feedback,
		Score:      result.Score,
	})
}

func (g *Gateway) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.sessionID(w, r)
	if !ok {
		return
	}

	sess, turns, err := g.practice.SessionDetail(r.Context(), sessionID)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"turns":   turns,
	})
}

func (g *Gateway) handleSessionUsage(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := g.sessionID(w, r)
	if !ok {
		return
	}

	summary, err := g.practice.SessionUsage(r.Context(), sessionID)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (g *Gateway) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.userID(w, r)
	if !ok {
		return
	}

	prog, err := g.practice.Progress(r.Context(), userID)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, prog)
}

func (g *Gateway) handleSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.userID(w, r)
	if !ok {
		return
	}

	summary, err := g.practice.Summary(r.Context(), userID)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (g *Gateway) handleUserSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := g.userID(w, r)
	if !ok {
		return
	}

	sessions, err := g.practice.UserSessions(r.Context(), userID, 50)
	if err != nil {
		g.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

func (g *Gateway) handleScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenarios": g.practice.Scenarios(),
	})
}

func (g *Gateway) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (g *Gateway) userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "user id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps domain error codes to HTTP statuses.
func (g *Gateway) writeError(w http.ResponseWriter, err error) {
	code := errors.GetCode(err)
	status := http.StatusInternalServerError

	switch code {
	case errors.CodeAlreadyInitialized, errors.CodeNotActive:
		status = http.StatusConflict
	case errors.CodeNotFound:
		status = http.StatusNotFound
	case errors.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.CodeStorageUnavailable, errors.CodeAggregationConflict:
		status = http.StatusServiceUnavailable
	case errors.CodeUpstreamUnavailable:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		g.logger.Error("[Gateway] unhandled error: %v", err)
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
