package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/rickgao/sessionmux/internal/broadcast"
	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/model"
	"github.com/rickgao/sessionmux/internal/writer"
)

// channelView is the read side of the session manager.
type channelView interface {
	Summary() connection.Summary
	State(channelID string) (connection.State, bool)
	LastMessage(channelID string) (model.Message, bool)
	UnackedCount(channelID string) int
	HubStats() broadcast.HubStats
}

type pinger interface {
	Ping(ctx context.Context) error
}

type catalogView interface {
	Desired() []string
	LastSyncAt() time.Time
}

type pollerView interface {
	Polling() []string
}

type writerView interface {
	Stats() writer.WriterMetrics
}

// statusServer serves the health and channel endpoints. Optional
// components are nil when disabled.
type statusServer struct {
	channels    channelView
	db          pinger
	catalog     catalogView
	poller      pollerView
	writer      writerView
	metrics     http.Handler
	metricsPath string
	logger      *slog.Logger
}

func (s *statusServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.StripSlashes)

	r.Get("/health", s.health)
	r.Route("/channels", func(r chi.Router) {
		r.Get("/", s.listChannels)
		r.Get("/{id}", s.getChannel)
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, s.metricsPath, s.metrics)
	}

	return r
}

func (s *statusServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := struct {
		Status     string         `json:"status"`
		Components map[string]any `json:"components"`
	}{
		Status:     "healthy",
		Components: make(map[string]any),
	}

	summary := s.channels.Summary()
	health.Components["connections"] = map[string]any{
		"total":     summary.TotalConnections,
		"connected": len(summary.ConnectedChannels),
	}
	if len(summary.States) > 0 && !summary.AnyConnected {
		health.Status = "degraded"
	}

	if s.db != nil {
		if err := s.db.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["archive"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["archive"] = "connected"
		}
	}

	if s.catalog != nil {
		c := map[string]any{"desired": len(s.catalog.Desired())}
		if at := s.catalog.LastSyncAt(); !at.IsZero() {
			c["last_sync_at"] = at.UTC().Format(time.RFC3339)
		}
		health.Components["catalog"] = c
	}

	if s.poller != nil {
		health.Components["fallback"] = map[string]any{"polling": s.poller.Polling()}
	}

	if s.writer != nil {
		health.Components["writer"] = s.writer.Stats()
	}

	status := http.StatusOK
	if health.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, health)
}

type channelStatus struct {
	ID       string           `json:"id"`
	State    connection.State `json:"state"`
	Unacked  int              `json:"unacked"`
	LastType string           `json:"last_type,omitempty"`
	LastAt   *time.Time       `json:"last_at,omitempty"`
}

func (s *statusServer) listChannels(w http.ResponseWriter, r *http.Request) {
	summary := s.channels.Summary()

	ids := make([]string, 0, len(summary.States))
	for id := range summary.States {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	channels := make([]channelStatus, 0, len(ids))
	for _, id := range ids {
		channels = append(channels, s.status(id, summary.States[id]))
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"summary":  summary,
		"channels": channels,
		"hub":      s.channels.HubStats(),
	})
}

func (s *statusServer) getChannel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, ok := s.channels.State(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown channel"})
		return
	}

	resp := struct {
		channelStatus
		LastMessage json.RawMessage `json:"last_message,omitempty"`
	}{channelStatus: s.status(id, state)}
	if msg, ok := s.channels.LastMessage(id); ok {
		resp.LastMessage = msg.Payload
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *statusServer) status(id string, state connection.State) channelStatus {
	cs := channelStatus{
		ID:      id,
		State:   state,
		Unacked: s.channels.UnackedCount(id),
	}
	if msg, ok := s.channels.LastMessage(id); ok {
		cs.LastType = msg.Type
		at := msg.ReceivedAt
		cs.LastAt = &at
	}
	return cs
}

func (s *statusServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response failed", "error", err)
	}
}
