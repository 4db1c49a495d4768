// Package webhook is the inbound HTTP surface: alert ingestion from the
// upstream monitoring source, and a chat-command callback endpoint that
// forwards recognised commands into the chat adapter's Ingest path.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/metrics"
	"github.com/w3f/ack-escalation/internal/store"
)

// AlertBatch is the fixed wire format for the alert ingestion endpoint.
type AlertBatch struct {
	Alerts []alertmodel.Alert `json:"alerts" validate:"required,dive"`
}

// ChatInbound is the fixed wire format of the chat-command callback.
type ChatInbound struct {
	Room string `json:"room" validate:"required"`
	User string `json:"user" validate:"required"`
	Text string `json:"text" validate:"required"`
}

// ChatIngester is the subset of chat.Adapter the callback handler needs,
// kept as an interface so the webhook package doesn't import the chat
// adapter concretely.
type ChatIngester interface {
	Ingest(room string, user alertmodel.User, text string) (ok bool, err error)
}

// Handler serves the alert ingestion and chat-callback HTTP endpoints.
type Handler struct {
	store    store.AlertStore
	chat     ChatIngester
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *metrics.HTTPMetrics
}

// HandlerConfig is the constructor input, validated by New.
type HandlerConfig struct {
	Store   store.AlertStore
	Chat    ChatIngester // optional: nil disables the chat-callback endpoint
	Logger  *slog.Logger
	Metrics *metrics.HTTPMetrics
}

// New builds a Handler requiring a non-nil store.
func New(cfg HandlerConfig) (*Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("webhook: handler requires a non-nil store")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewHTTPMetrics()
	}
	return &Handler{
		store:    cfg.Store,
		chat:     cfg.Chat,
		validate: validator.New(),
		logger:   cfg.Logger.With("component", "webhook"),
		metrics:  cfg.Metrics,
	}, nil
}

// Router builds the gorilla/mux router serving every endpoint, wrapped
// in the request-id/logging/metrics middleware chain.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/webhook", h.handleAlerts).Methods(http.MethodPost)
	r.HandleFunc("/chat/callback", h.handleChatCallback).Methods(http.MethodPost)
	r.HandleFunc("/healthz", h.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)

	var handler http.Handler = r
	handler = h.metrics.Middleware(handler)
	handler = requestIDMiddleware(handler)
	handler = loggingMiddleware(h.logger, handler)
	return handler
}

// handleAlerts parses and validates a batch of alerts and inserts them
// into the store, responding 200 on success, 400 on a malformed body,
// and 500 on a storage failure.
func (h *Handler) handleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var batch AlertBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		h.logger.WarnContext(ctx, "malformed webhook payload", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "malformed payload"})
		return
	}

	if err := h.validate.Struct(batch); err != nil {
		h.logger.WarnContext(ctx, "webhook payload failed validation", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "validation failed: " + err.Error()})
		return
	}

	ids, err := h.store.Insert(ctx, batch.Alerts)
	if err != nil {
		h.logger.ErrorContext(ctx, "alert insert failed", slog.String("error", err.Error()), slog.Int("inserted", len(ids)))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "storage error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "inserted": len(ids)})
}

// handleChatCallback forwards a raw chat message into the chat adapter's
// Ingest path. Disabled (404) when no ChatIngester was configured.
func (h *Handler) handleChatCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.chat == nil {
		http.NotFound(w, r)
		return
	}

	var in ChatInbound
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "malformed payload"})
		return
	}
	if err := h.validate.Struct(in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "validation failed: " + err.Error()})
		return
	}

	ok, err := h.chat.Ingest(in.Room, alertmodel.ChatUser(in.User), in.Text)
	if err != nil {
		h.logger.WarnContext(ctx, "chat ingest failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid command"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"accepted": ok})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestIDFromContext returns the request id stashed by requestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.InfoContext(r.Context(), "handled request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.Duration("duration", time.Since(start)))
	})
}
