package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rickgao/sessionmux/internal/broadcast"
	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/model"
	"github.com/rickgao/sessionmux/internal/writer"
)

type fakeChannels struct {
	states  map[string]connection.State
	last    map[string]model.Message
	unacked map[string]int
}

func (f *fakeChannels) Summary() connection.Summary {
	s := connection.Summary{States: f.states}
	for id, st := range f.states {
		if st == connection.StateConnected {
			s.ConnectedChannels = append(s.ConnectedChannels, id)
		}
	}
	s.TotalConnections = len(s.ConnectedChannels)
	s.AnyConnected = s.TotalConnections > 0
	return s
}

func (f *fakeChannels) State(id string) (connection.State, bool) {
	st, ok := f.states[id]
	return st, ok
}

func (f *fakeChannels) LastMessage(id string) (model.Message, bool) {
	m, ok := f.last[id]
	return m, ok
}

func (f *fakeChannels) UnackedCount(id string) int { return f.unacked[id] }

func (f *fakeChannels) HubStats() broadcast.HubStats { return broadcast.HubStats{Handlers: 1} }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fakeWriter struct{}

func (fakeWriter) Stats() writer.WriterMetrics { return writer.WriterMetrics{Inserts: 7} }

func newTestStatus(ch *fakeChannels) *statusServer {
	return &statusServer{
		channels:    ch,
		metrics:     http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("metrics")) }),
		metricsPath: "/metrics",
		logger:      slog.Default(),
	}
}

func testChannels() *fakeChannels {
	return &fakeChannels{
		states: map[string]connection.State{
			"s1": connection.StateConnected,
			"s2": connection.StateError,
		},
		last: map[string]model.Message{
			"s1": {
				Type:       model.TypePhotoUploaded,
				ChannelID:  "s1",
				Payload:    json.RawMessage(`{"type":"photo_uploaded","sequence":3}`),
				ReceivedAt: time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			},
		},
		unacked: map[string]int{"s1": 2},
	}
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("GET %s: invalid JSON: %v", path, err)
		}
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		states     map[string]connection.State
		db         pinger
		wantCode   int
		wantStatus string
	}{
		{
			name:       "connected",
			states:     map[string]connection.State{"s1": connection.StateConnected},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "no channels",
			states:     map[string]connection.State{},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
		{
			name:       "nothing connected",
			states:     map[string]connection.State{"s1": connection.StateError},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "archive down",
			states:     map[string]connection.State{"s1": connection.StateConnected},
			db:         fakePinger{err: errors.New("connection refused")},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "unhealthy",
		},
		{
			name:       "archive up",
			states:     map[string]connection.State{"s1": connection.StateConnected},
			db:         fakePinger{},
			wantCode:   http.StatusOK,
			wantStatus: "healthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStatus(&fakeChannels{states: tt.states})
			s.db = tt.db

			rec, body := get(t, s.routes(), "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if body["status"] != tt.wantStatus {
				t.Errorf("status = %v, want %s", body["status"], tt.wantStatus)
			}
		})
	}
}

func TestHealth_Writer(t *testing.T) {
	s := newTestStatus(testChannels())
	s.writer = fakeWriter{}

	_, body := get(t, s.routes(), "/health")
	components := body["components"].(map[string]any)
	w, ok := components["writer"].(map[string]any)
	if !ok {
		t.Fatalf("components = %v, want writer stats", components)
	}
	if w["Inserts"] != float64(7) {
		t.Errorf("writer inserts = %v, want 7", w["Inserts"])
	}
}

func TestListChannels(t *testing.T) {
	s := newTestStatus(testChannels())

	for _, path := range []string{"/channels", "/channels/"} {
		rec, body := get(t, s.routes(), path)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s code = %d, want 200", path, rec.Code)
		}

		channels := body["channels"].([]any)
		if len(channels) != 2 {
			t.Fatalf("channels = %d, want 2", len(channels))
		}
		first := channels[0].(map[string]any)
		if first["id"] != "s1" || first["state"] != "connected" || first["unacked"] != float64(2) {
			t.Errorf("first = %v", first)
		}
		if first["last_type"] != model.TypePhotoUploaded {
			t.Errorf("last_type = %v", first["last_type"])
		}
		second := channels[1].(map[string]any)
		if second["id"] != "s2" || second["state"] != "error" {
			t.Errorf("second = %v", second)
		}

		summary := body["summary"].(map[string]any)
		if summary["total_connections"] != float64(1) || summary["any_connected"] != true {
			t.Errorf("summary = %v", summary)
		}
	}
}

func TestGetChannel(t *testing.T) {
	s := newTestStatus(testChannels())

	rec, body := get(t, s.routes(), "/channels/s1")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if body["state"] != "connected" {
		t.Errorf("state = %v", body["state"])
	}
	last := body["last_message"].(map[string]any)
	if last["sequence"] != float64(3) {
		t.Errorf("last_message = %v", last)
	}

	rec, body = get(t, s.routes(), "/channels/s2")
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if _, ok := body["last_message"]; ok {
		t.Errorf("unexpected last_message for s2: %v", body)
	}

	rec, _ = get(t, s.routes(), "/channels/missing")
	if rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestStatus(testChannels())

	rec, _ := get(t, s.routes(), "/metrics")
	if rec.Code != http.StatusOK || rec.Body.String() != "metrics" {
		t.Errorf("GET /metrics = %d %q", rec.Code, rec.Body.String())
	}
}
