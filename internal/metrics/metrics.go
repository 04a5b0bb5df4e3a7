package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/sessionmux/internal/connection"
)

const namespace = "sessionmux"

var allStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
	connection.StateError,
}

// Collector records pool and hub events.
type Collector struct {
	registry *prometheus.Registry

	channels         *prometheus.GaugeVec
	transitions      *prometheus.CounterVec
	evictions        prometheus.Counter
	reconnects       prometheus.Counter
	reconnectDelay   prometheus.Histogram
	acksSent         prometheus.Counter
	acksReceived     prometheus.Counter
	messagesReceived *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec
}

// NewCollector creates a Collector registered on a fresh registry together
// with the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		channels: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "channels",
			Help:      "Tracked channels by connection state.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Channel state transitions.",
		}, []string{"from", "to"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Connections closed to make room for a higher priority channel.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Reconnect attempts scheduled after an unexpected close.",
		}),
		reconnectDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each scheduled reconnect.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
		}),
		acksSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_sent_total",
			Help:      "Acknowledgements written to the server.",
		}),
		acksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "acks_received_total",
			Help:      "Acknowledgements received from the server.",
		}),
		messagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Frames received per channel.",
		}, []string{"channel"}),
		decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Frames that were not JSON objects.",
		}, []string{"channel"}),
		broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_broadcast_total",
			Help:      "Messages delivered to the broadcast hub per channel.",
		}, []string{"channel"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handler_failures_total",
			Help:      "Message handler invocations that failed.",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		c.channels,
		c.transitions,
		c.evictions,
		c.reconnects,
		c.reconnectDelay,
		c.acksSent,
		c.acksReceived,
		c.messagesReceived,
		c.decodeFailures,
		c.broadcasts,
		c.handlerFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	for _, s := range allStates {
		c.channels.WithLabelValues(s.String())
	}

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TrackOutstanding exposes the total of pending acknowledgements reported by fn.
func (c *Collector) TrackOutstanding(fn func() map[string]int) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "acks_outstanding",
		Help:      "Received sequences that still expect an acknowledgement.",
	}, func() float64 {
		total := 0
		for _, n := range fn() {
			total += n
		}
		return float64(total)
	}))
}

// ObserveSummary sets the per-state channel gauge from a pool summary.
func (c *Collector) ObserveSummary(s connection.Summary) {
	counts := make(map[connection.State]int, len(allStates))
	for _, st := range s.States {
		counts[st]++
	}
	for _, st := range allStates {
		c.channels.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// connection.Metrics

func (c *Collector) StateChanged(_ string, from, to connection.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

func (c *Collector) Evicted(string) {
	c.evictions.Inc()
}

func (c *Collector) ReconnectScheduled(_ string, delay time.Duration) {
	c.reconnects.Inc()
	c.reconnectDelay.Observe(delay.Seconds())
}

func (c *Collector) AckSent(string)     { c.acksSent.Inc() }
func (c *Collector) AckReceived(string) { c.acksReceived.Inc() }

func (c *Collector) MessageReceived(channelID string) {
	c.messagesReceived.WithLabelValues(channelID).Inc()
}

func (c *Collector) DecodeFailed(channelID string) {
	c.decodeFailures.WithLabelValues(channelID).Inc()
}

// broadcast.Metrics

func (c *Collector) MessageBroadcast(channelID string) {
	c.broadcasts.WithLabelValues(channelID).Inc()
}

func (c *Collector) HandlerFailed(reason string) {
	c.handlerFailures.WithLabelValues(reason).Inc()
}
