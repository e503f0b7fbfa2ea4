package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/game-alerts/internal/domain"
	"github.com/game-alerts/internal/metrics"
	"github.com/game-alerts/internal/service"
	"github.com/game-alerts/internal/websocket"
	"github.com/game-alerts/internal/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// NotificationProcessor runs one notification cycle on demand
type NotificationProcessor interface {
	ProcessNotifications(ctx context.Context) (domain.CycleSummary, error)
}

// Pinger reports whether a backing dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuditReader reads back the notification audit log
type AuditReader interface {
	GameEvents(ctx context.Context, gameID string, limit int) ([]domain.NotificationEvent, error)
	DeliveryStats(ctx context.Context, gameID string) (map[domain.DeliveryOutcome]int64, error)
}

// WorkerReporter exposes the background poll loop's state
type WorkerReporter interface {
	IsRunning() bool
	Status() worker.Status
}

// Handler provides HTTP handlers for the game alerts API
type Handler struct {
	subscriptions *service.SubscriptionService
	processor     NotificationProcessor
	hub           *websocket.Hub
	metrics       *metrics.Recorder
	store         Pinger
	audit         AuditReader
	worker        WorkerReporter
	corsOrigins   []string
	logger        *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	subscriptions *service.SubscriptionService,
	processor NotificationProcessor,
	hub *websocket.Hub,
	recorder *metrics.Recorder,
	store Pinger,
	corsOrigins []string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		subscriptions: subscriptions,
		processor:     processor,
		hub:           hub,
		metrics:       recorder,
		store:         store,
		corsOrigins:   corsOrigins,
		logger:        logger,
	}
}

// WithAudit enables the game history endpoint
func (h *Handler) WithAudit(audit AuditReader) *Handler {
	h.audit = audit
	return h
}

// WithWorker enables the poll worker status endpoint
func (h *Handler) WithWorker(w WorkerReporter) *Handler {
	h.worker = w
	return h
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.New(cors.Options{
		AllowedOrigins: h.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
	}).Handler)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
	if h.hub != nil {
		r.Get("/ws", h.HandleWebSocket)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.Subscribe)

			r.Route("/{subscriptionID}", func(r chi.Router) {
				r.Get("/", h.GetSubscription)
				r.Delete("/", h.UnsubscribeAll)
				r.Delete("/games/{gameID}", h.Unsubscribe)
				r.Put("/games/{gameID}/preferences", h.UpdatePreferences)
			})
		})

		r.Get("/games/active", h.ActiveGames)
		if h.audit != nil {
			r.Get("/games/{gameID}/history", h.GameHistory)
		}
		r.Post("/notifications/process", h.ProcessNotifications)
		if h.worker != nil {
			r.Get("/worker/status", h.GetWorkerStatus)
		}

		if h.hub != nil {
			r.Get("/ws/stats", h.GetWebSocketStats)
		}
	})

	return r
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeServiceError maps domain errors onto status codes
func (h *Handler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case domain.IsNotFoundError(err):
		h.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrUnknownLeague):
		h.writeError(w, http.StatusBadRequest, err)
	case domain.IsStoreError(err):
		h.logger.Error(op+" failed", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, domain.ErrInternalError)
	default:
		h.logger.Error(op+" failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.logger, w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.TotalConnections(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck reports ready once the state store answers
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			h.writeError(w, http.StatusServiceUnavailable, errors.New("state store unavailable"))
			return
		}
	}
	h.writeSuccess(w, map[string]string{"status": "ready"})
}

// Subscribe registers a push endpoint for a game
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req domain.SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sub, err := h.subscriptions.Subscribe(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "subscribe", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, APIResponse{
		Success: true,
		Data:    sub,
	})
}

// GetSubscription returns a subscription record
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	sub, err := h.subscriptions.GetSubscription(r.Context(), subscriptionID)
	if err != nil {
		h.writeServiceError(w, "get subscription", err)
		return
	}

	h.writeSuccess(w, sub)
}

// Unsubscribe removes one game from a subscription
func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	gameID := chi.URLParam(r, "gameID")
	if strings.TrimSpace(gameID) == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.subscriptions.Unsubscribe(r.Context(), subscriptionID, gameID); err != nil {
		h.writeServiceError(w, "unsubscribe", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "unsubscribed"})
}

// UnsubscribeAll removes a subscription and every game it follows
func (h *Handler) UnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")

	if err := h.subscriptions.UnsubscribeAll(r.Context(), subscriptionID); err != nil {
		h.writeServiceError(w, "unsubscribe all", err)
		return
	}

	h.writeSuccess(w, map[string]string{"status": "deleted"})
}

// UpdatePreferences replaces the event preferences of one game subscription
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	subscriptionID := chi.URLParam(r, "subscriptionID")
	gameID := chi.URLParam(r, "gameID")

	var prefs domain.EventPreferences
	if err := json.NewDecoder(r.Body).Decode(&prefs); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	sub, err := h.subscriptions.UpdatePreferences(r.Context(), subscriptionID, gameID, prefs)
	if err != nil {
		h.writeServiceError(w, "update preferences", err)
		return
	}

	h.writeSuccess(w, sub)
}

// ActiveGames lists games with at least one subscriber
func (h *Handler) ActiveGames(w http.ResponseWriter, r *http.Request) {
	games, err := h.subscriptions.ActiveGames(r.Context())
	if err != nil {
		h.writeServiceError(w, "list active games", err)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"games": games,
		"count": len(games),
	})
}

// GameHistory returns recorded events and delivery counts for a game
func (h *Handler) GameHistory(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}

	events, err := h.audit.GameEvents(r.Context(), gameID, limit)
	if err != nil {
		h.logger.Error("failed to read game events", "game_id", gameID, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	stats, err := h.audit.DeliveryStats(r.Context(), gameID)
	if err != nil {
		h.logger.Error("failed to read delivery stats", "game_id", gameID, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, map[string]interface{}{
		"game_id":    gameID,
		"events":     events,
		"deliveries": stats,
	})
}

// ProcessNotifications runs one notification cycle synchronously
func (h *Handler) ProcessNotifications(w http.ResponseWriter, r *http.Request) {
	summary, err := h.processor.ProcessNotifications(r.Context())
	if err != nil {
		h.logger.Error("notification cycle failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}

	h.writeSuccess(w, summary)
}

// GetWorkerStatus reports whether the poll loop runs and how its last cycles went
func (h *Handler) GetWorkerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"running": h.worker.IsRunning(),
		"status":  h.worker.Status(),
	})
}
