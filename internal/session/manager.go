package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/sessionmux/internal/ack"
	"github.com/rickgao/sessionmux/internal/broadcast"
	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/model"
)

// Channel is one connect request. A nil Priority is ranked by list position.
type Channel struct {
	ID       string `yaml:"id" json:"id"`
	Priority *int   `yaml:"priority,omitempty" json:"priority,omitempty"`
}

// Result is the outcome of connecting one channel.
type Result struct {
	ChannelID string
	Priority  int
	Err       error
}

// Ranking assigns default priorities by list position: Base - index*Step.
type Ranking struct {
	Base int
	Step int
}

// DefaultRanking yields 100, 90, 80, ...
func DefaultRanking() Ranking {
	return Ranking{Base: 100, Step: 10}
}

// Priority returns the priority for position index.
func (r Ranking) Priority(index int) int {
	return r.Base - index*r.Step
}

// Config configures a Manager.
type Config struct {
	Pool    connection.PoolConfig
	Ranking Ranking
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPoolMetrics instruments the pool.
func WithPoolMetrics(pm connection.Metrics) Option {
	return func(m *Manager) { m.poolMetrics = pm }
}

// WithHubMetrics instruments the broadcast hub.
func WithHubMetrics(hm broadcast.Metrics) Option {
	return func(m *Manager) { m.hubMetrics = hm }
}

// Manager owns the pool, the broadcast hub and the acknowledgement tracker.
type Manager struct {
	cfg         Config
	logger      *slog.Logger
	poolMetrics connection.Metrics
	hubMetrics  broadcast.Metrics

	pool *connection.Pool
	hub  *broadcast.Hub
	acks *ack.Tracker

	summaryMu   sync.Mutex
	summaryFns  map[int]func(connection.Summary)
	nextSummary int
	stopObserve func()
}

// New creates a Manager that dials channels through factory.
func New(cfg Config, factory connection.ClientFactory, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		logger:     slog.Default(),
		summaryFns: make(map[int]func(connection.Summary)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.Ranking == (Ranking{}) {
		m.cfg.Ranking = DefaultRanking()
	}

	m.acks = ack.NewTracker()
	m.hub = broadcast.NewHub(m.logger.With("component", "hub"), m.hubMetrics)

	poolOpts := []connection.PoolOption{
		connection.WithSink(m.hub),
		connection.WithAckTracker(m.acks),
		connection.WithLogger(m.logger.With("component", "pool")),
	}
	if m.poolMetrics != nil {
		poolOpts = append(poolOpts, connection.WithMetrics(m.poolMetrics))
	}
	m.pool = connection.NewPool(cfg.Pool, factory, poolOpts...)
	m.stopObserve = m.pool.OnStateChange(m.publishSummary)

	return m
}

// Start begins managing connections.
func (m *Manager) Start(ctx context.Context) error {
	return m.pool.Start(ctx)
}

// Stop disconnects every channel.
func (m *Manager) Stop(ctx context.Context) error {
	err := m.pool.Close(ctx)
	m.stopObserve()
	return err
}

// ConnectToChannels connects every channel concurrently and waits for all
// attempts to settle. It never fails as a whole; per-channel errors are in
// the results, which follow the input order.
func (m *Manager) ConnectToChannels(ctx context.Context, channels []Channel) []Result {
	results := make([]Result, len(channels))

	var g errgroup.Group
	for i, ch := range channels {
		prio := m.cfg.Ranking.Priority(i)
		if ch.Priority != nil {
			prio = *ch.Priority
		}
		results[i] = Result{ChannelID: ch.ID, Priority: prio}

		g.Go(func() error {
			if err := m.pool.Connect(ctx, ch.ID, prio); err != nil {
				results[i].Err = err
				m.logger.Warn("channel connect failed", "channel", ch.ID, "priority", prio, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	return results
}

// Reconcile makes the desired set the connected set: channels not listed are
// disconnected, listed ones are connected (or re-prioritized).
func (m *Manager) Reconcile(ctx context.Context, channels []Channel) []Result {
	wanted := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		wanted[ch.ID] = struct{}{}
	}

	for id := range m.pool.Summary().States {
		if _, ok := wanted[id]; !ok {
			m.logger.Info("channel no longer wanted", "channel", id)
			m.pool.Disconnect(id)
		}
	}

	return m.ConnectToChannels(ctx, channels)
}

// Connect connects one channel. A nil priority uses the pool default.
func (m *Manager) Connect(ctx context.Context, channelID string, priority *int) error {
	prio := m.cfg.Pool.DefaultPriority
	if priority != nil {
		prio = *priority
	}
	return m.pool.Connect(ctx, channelID, prio)
}

// Disconnect closes one channel. Idempotent.
func (m *Manager) Disconnect(channelID string) {
	m.pool.Disconnect(channelID)
}

// DisconnectAll closes every channel and drops all handlers and pending acks.
func (m *Manager) DisconnectAll() {
	m.pool.DisconnectAll()
}

// Send writes a raw frame to a connected channel.
func (m *Manager) Send(channelID string, data []byte) error {
	return m.pool.Send(channelID, data)
}

// AddMessageHandler registers fn for every non-ack message.
func (m *Manager) AddMessageHandler(fn broadcast.Handler) (remove func()) {
	return m.hub.AddHandler(fn)
}

// Subscribe returns a queued message consumer.
func (m *Manager) Subscribe(bufferSize int) *broadcast.Subscription {
	return m.hub.Subscribe(bufferSize)
}

// Publish broadcasts a locally produced message as if it had arrived on its channel.
func (m *Manager) Publish(msg model.Message) error {
	if msg.ChannelID == "" {
		return errors.New("publish: message has no channel")
	}
	if msg.Kind == model.KindAck {
		return errors.New("publish: ack messages are not broadcast")
	}
	m.hub.Broadcast(msg)
	return nil
}

// LastMessage returns the most recent message seen on channelID.
func (m *Manager) LastMessage(channelID string) (model.Message, bool) {
	return m.hub.LastMessage(channelID)
}

// UnackedCount returns channelID's pending acknowledgement count.
func (m *Manager) UnackedCount(channelID string) int {
	return m.acks.Pending(channelID)
}

// Outstanding returns pending acknowledgement counts per channel.
func (m *Manager) Outstanding() map[string]int {
	return m.acks.Outstanding()
}

// State returns one channel's state.
func (m *Manager) State(channelID string) (connection.State, bool) {
	return m.pool.State(channelID)
}

// Summary returns the current connection summary.
func (m *Manager) Summary() connection.Summary {
	return m.pool.Summary()
}

// HubStats returns broadcast statistics.
func (m *Manager) HubStats() broadcast.HubStats {
	return m.hub.Stats()
}

// OnStateChange registers fn for raw per-channel transitions.
func (m *Manager) OnStateChange(fn func(connection.StateChange)) (remove func()) {
	return m.pool.OnStateChange(fn)
}

// OnSummary registers fn to receive a fresh summary after every state
// transition. fn must not block.
func (m *Manager) OnSummary(fn func(connection.Summary)) (remove func()) {
	m.summaryMu.Lock()
	id := m.nextSummary
	m.nextSummary++
	m.summaryFns[id] = fn
	m.summaryMu.Unlock()

	return func() {
		m.summaryMu.Lock()
		delete(m.summaryFns, id)
		m.summaryMu.Unlock()
	}
}

func (m *Manager) publishSummary(connection.StateChange) {
	m.summaryMu.Lock()
	fns := make([]func(connection.Summary), 0, len(m.summaryFns))
	for _, fn := range m.summaryFns {
		fns = append(fns, fn)
	}
	m.summaryMu.Unlock()

	if len(fns) == 0 {
		return
	}
	s := m.pool.Summary()
	for _, fn := range fns {
		fn(s)
	}
}
