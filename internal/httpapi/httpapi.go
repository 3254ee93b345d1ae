// Package httpapi serves the publisher's local status endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"cloudpico-publisher/internal/types"
)

const (
	defaultLimit = 20
	maxLimit     = 500
)

// History is the read side of the publish journal.
type History interface {
	Latest(ctx context.Context, limit int) ([]types.Publish, error)
	Ping(ctx context.Context) error
}

// StateFunc reports the publisher state, e.g. "connecting" or "publishing".
type StateFunc func() string

type handlers struct {
	history History
	state   StateFunc
}

// NewRouter wires the endpoints. history may be nil when the journal is
// disabled; /publishes then answers 404.
func NewRouter(history History, state StateFunc) http.Handler {
	h := &handlers{history: history, state: state}

	r := chi.NewRouter()
	r.Use(requestLogger)
	r.Get("/healthz", h.healthz)
	if history != nil {
		r.Get("/publishes", h.publishes)
	}
	return r
}

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok", "state": h.state()}
	if h.history != nil {
		if err := h.history.Ping(r.Context()); err != nil {
			slog.Error("journal ping failed", "error", err)
			body["status"] = "degraded"
			body["journal"] = "unavailable"
			writeJSON(w, http.StatusServiceUnavailable, body)
			return
		}
		body["journal"] = "ok"
	}
	writeJSON(w, http.StatusOK, body)
}

type publishDTO struct {
	Sequence   int       `json:"sequence"`
	Timestamp  time.Time `json:"timestamp"`
	Value      float64   `json:"value"`
	Status     int       `json:"status"`
	EntryID    *int64    `json:"entry_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

func (h *handlers) publishes(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}

	pubs, err := h.history.Latest(r.Context(), limit)
	if err != nil {
		slog.Error("read publishes", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read publishes")
		return
	}

	out := make([]publishDTO, 0, len(pubs))
	for _, p := range pubs {
		dto := publishDTO{
			Sequence:   p.Sequence,
			Timestamp:  p.Timestamp,
			Value:      p.Value,
			Status:     p.Status,
			DurationMS: p.Duration.Milliseconds(),
		}
		if p.EntryID != 0 {
			id := p.EntryID
			dto.EntryID = &id
		}
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	})
}
