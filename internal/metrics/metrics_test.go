package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/sessionmux/internal/broadcast"
	"github.com/rickgao/sessionmux/internal/connection"
)

var (
	_ connection.Metrics = (*Collector)(nil)
	_ broadcast.Metrics  = (*Collector)(nil)
)

func TestCollector_PoolEvents(t *testing.T) {
	c := NewCollector()

	c.StateChanged("s1", connection.StateDisconnected, connection.StateConnecting)
	c.StateChanged("s1", connection.StateConnecting, connection.StateConnected)
	c.StateChanged("s2", connection.StateConnecting, connection.StateConnected)
	c.Evicted("s1")
	c.ReconnectScheduled("s2", 2*time.Second)
	c.AckSent("s2")
	c.AckSent("s2")
	c.AckReceived("s2")
	c.MessageReceived("s2")
	c.DecodeFailed("s2")

	if got := testutil.ToFloat64(c.transitions.WithLabelValues("connecting", "connected")); got != 2 {
		t.Errorf("connecting->connected = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.evictions); got != 1 {
		t.Errorf("evictions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.reconnects); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.acksSent); got != 2 {
		t.Errorf("acks sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.acksReceived); got != 1 {
		t.Errorf("acks received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.messagesReceived.WithLabelValues("s2")); got != 1 {
		t.Errorf("messages received = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.decodeFailures.WithLabelValues("s2")); got != 1 {
		t.Errorf("decode failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(c.reconnectDelay); got != 1 {
		t.Errorf("reconnect delay series = %d, want 1", got)
	}
}

func TestCollector_HubEvents(t *testing.T) {
	c := NewCollector()

	c.MessageBroadcast("s1")
	c.MessageBroadcast("s1")
	c.HandlerFailed("panic")

	if got := testutil.ToFloat64(c.broadcasts.WithLabelValues("s1")); got != 2 {
		t.Errorf("broadcasts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.handlerFailures.WithLabelValues("panic")); got != 1 {
		t.Errorf("handler failures = %v, want 1", got)
	}
}

func TestCollector_ObserveSummary(t *testing.T) {
	c := NewCollector()

	c.ObserveSummary(connection.Summary{States: map[string]connection.State{
		"a": connection.StateConnected,
		"b": connection.StateConnected,
		"c": connection.StateError,
	}})

	if got := testutil.ToFloat64(c.channels.WithLabelValues("connected")); got != 2 {
		t.Errorf("connected = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.channels.WithLabelValues("error")); got != 1 {
		t.Errorf("error = %v, want 1", got)
	}

	// A later summary replaces, not accumulates.
	c.ObserveSummary(connection.Summary{States: map[string]connection.State{
		"a": connection.StateConnected,
	}})
	if got := testutil.ToFloat64(c.channels.WithLabelValues("connected")); got != 1 {
		t.Errorf("connected = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.channels.WithLabelValues("error")); got != 0 {
		t.Errorf("error = %v, want 0", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.TrackOutstanding(func() map[string]int {
		return map[string]int{"s1": 2, "s2": 3}
	})
	c.AckSent("s1")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"sessionmux_acks_sent_total 1",
		"sessionmux_acks_outstanding 5",
		`sessionmux_channels{state="connected"} 0`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
