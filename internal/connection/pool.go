package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rickgao/sessionmux/internal/ack"
	"github.com/rickgao/sessionmux/internal/model"
)

// Sink receives decoded non-ack messages and per-channel cleanup calls.
type Sink interface {
	Broadcast(msg model.Message)
	ClearChannel(channelID string)
	Reset()
}

type nopSink struct{}

func (nopSink) Broadcast(model.Message) {}
func (nopSink) ClearChannel(string)     {}
func (nopSink) Reset()                  {}

// conn is the pool's entity for one channel. All fields are guarded by Pool.mu.
type conn struct {
	id           string
	state        State
	client       Client // set while connected
	priority     int
	connectedSeq uint64 // admission order, lower = earlier
	failures     int    // consecutive failed reconnect attempts
	wanted       bool   // cleared by Disconnect and eviction

	// gen changes whenever an in-flight dial, read loop or timer must be
	// considered stale.
	gen        uint64
	timer      *time.Timer
	cancelDial context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithSink sets the destination of decoded messages.
func WithSink(s Sink) PoolOption {
	return func(p *Pool) { p.sink = s }
}

// WithAckTracker shares an acknowledgement tracker with the pool.
func WithAckTracker(t *ack.Tracker) PoolOption {
	return func(p *Pool) { p.acks = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) PoolOption {
	return func(p *Pool) { p.metrics = m }
}

// Pool maintains at most MaxConnections connected channels, evicting the
// lowest-priority channel when a new one is admitted.
type Pool struct {
	cfg     PoolConfig
	factory ClientFactory
	sink    Sink
	acks    *ack.Tracker
	metrics Metrics
	logger  *slog.Logger
	backoff Backoff
	now     func() time.Time

	mu      sync.Mutex
	conns   map[string]*conn
	seq     uint64
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Coalesces concurrent connects per channel.
	group singleflight.Group

	observerMu   sync.Mutex
	observers    map[uint64]func(StateChange)
	nextObserver uint64
}

// NewPool creates a pool. Call Start before Connect.
func NewPool(cfg PoolConfig, factory ClientFactory, opts ...PoolOption) *Pool {
	p := &Pool{
		cfg:       cfg,
		factory:   factory,
		sink:      nopSink{},
		metrics:   nopMetrics{},
		logger:    slog.Default(),
		now:       time.Now,
		conns:     make(map[string]*conn),
		observers: make(map[uint64]func(StateChange)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.acks == nil {
		p.acks = ack.NewTracker()
	}
	if p.cfg.MaxConnections < 1 {
		p.cfg.MaxConnections = 1
	}
	if p.cfg.ReconnectMaxDelay <= 0 {
		p.cfg.ReconnectMaxDelay = DefaultPoolConfig().ReconnectMaxDelay
	}
	p.backoff = Backoff{Base: p.cfg.ReconnectBaseDelay, Max: p.cfg.ReconnectMaxDelay}
	return p
}

// Start binds the pool to ctx. Background work stops when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if p.started {
		return errors.New("pool already started")
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.started = true

	p.logger.Info("connection pool started",
		"max_connections", p.cfg.MaxConnections,
		"reconnect_base", p.cfg.ReconnectBaseDelay,
		"reconnect_max", p.cfg.ReconnectMaxDelay,
	)
	return nil
}

// Close disconnects every channel and waits for read loops to exit or ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	clients, changes := p.detachAllLocked()
	cancel := p.cancel
	p.mu.Unlock()

	p.logger.Info("stopping connection pool", "channels", len(clients))

	for id, c := range clients {
		if c != nil {
			c.Close()
		}
		p.sink.ClearChannel(id)
	}
	p.acks.Reset()
	p.notify(changes)

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("connection pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("connection pool stop timed out")
		return ctx.Err()
	}
}

// Connect admits channelID at priority and waits for the handshake.
//
// An already connected channel only has its priority updated. Concurrent
// calls for one channel share a single attempt; ctx bounds only the caller's
// wait, not the attempt itself.
func (p *Pool) Connect(ctx context.Context, channelID string, priority int) error {
	if channelID == "" {
		return errors.New("connect: empty channel id")
	}

	p.mu.Lock()
	if !p.started || p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	c, ok := p.conns[channelID]
	if !ok {
		c = &conn{id: channelID, state: StateDisconnected}
		p.conns[channelID] = c
	}
	c.priority = priority
	c.wanted = true
	if c.state == StateConnected {
		p.mu.Unlock()
		return nil
	}
	if c.state == StateError {
		// Explicit request supersedes a pending reconnect.
		c.cancelTimerLocked()
	}
	p.mu.Unlock()

	ch := p.group.DoChan(channelID, func() (any, error) {
		return nil, p.dial(channelID, false)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dial runs one connect attempt for channelID. reconnect marks attempts made
// by the scheduler; only those are rescheduled on failure.
func (p *Pool) dial(channelID string, reconnect bool) error {
	var changes []StateChange

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	c, ok := p.conns[channelID]
	if !ok || !c.wanted {
		p.mu.Unlock()
		return ErrDisconnected
	}
	if c.state == StateConnected {
		p.mu.Unlock()
		return nil
	}
	c.cancelTimerLocked()

	// Only connected entries count toward the cap; pending handshakes may
	// still fail.
	var evicted []detached
	if p.connectedLocked(c) >= p.cfg.MaxConnections {
		if victim := p.victimLocked(c); victim != nil {
			evicted = append(evicted, p.evictLocked(victim, &changes))
		}
	}

	c.gen++
	gen := c.gen
	dialCtx, cancel := context.WithCancel(p.ctx)
	c.cancelDial = cancel
	changes = p.transitionLocked(changes, c, StateConnecting, nil)
	priority := c.priority
	p.mu.Unlock()

	p.finishDetach(evicted)
	p.notify(changes)
	changes = nil

	p.logger.Debug("connecting", "channel", channelID, "priority", priority, "reconnect", reconnect)

	client, err := p.factory(channelID)
	if err == nil {
		err = client.Connect(dialCtx)
	}
	cancel()

	p.mu.Lock()
	if cur, ok := p.conns[channelID]; !ok || cur != c || c.gen != gen || p.closed {
		p.mu.Unlock()
		if client != nil {
			client.Close()
		}
		p.logger.Debug("discarding handshake for removed channel", "channel", channelID)
		return ErrDisconnected
	}
	c.cancelDial = nil

	if err != nil {
		hsErr := asHandshakeError(channelID, err)
		changes = p.transitionLocked(changes, c, StateError, hsErr)
		if reconnect {
			c.failures++
			p.scheduleLocked(c)
		}
		p.mu.Unlock()

		if client != nil {
			client.Close()
		}
		p.notify(changes)
		p.logger.Warn("handshake failed", "channel", channelID, "reconnect", reconnect, "error", hsErr)
		return hsErr
	}

	// Concurrent admissions may have filled the pool during the handshake.
	evicted = nil
	if p.connectedLocked(c) >= p.cfg.MaxConnections {
		if victim := p.victimLocked(c); victim != nil {
			evicted = append(evicted, p.evictLocked(victim, &changes))
		}
	}

	p.seq++
	c.connectedSeq = p.seq
	c.failures = 0
	c.client = client
	changes = p.transitionLocked(changes, c, StateConnected, nil)

	p.wg.Add(1)
	go p.readLoop(c, gen, client)
	p.mu.Unlock()

	p.finishDetach(evicted)
	p.notify(changes)

	p.logger.Info("channel connected", "channel", channelID, "priority", priority)
	return nil
}

func asHandshakeError(channelID string, err error) error {
	var hs *HandshakeError
	if errors.As(err, &hs) {
		if hs.ChannelID == "" {
			hs.ChannelID = channelID
		}
		return hs
	}
	return &HandshakeError{ChannelID: channelID, Err: err}
}

// connectedLocked counts connected entries other than self.
func (p *Pool) connectedLocked(self *conn) int {
	n := 0
	for _, c := range p.conns {
		if c != self && c.state == StateConnected {
			n++
		}
	}
	return n
}

// victimLocked picks the connected entry with the lowest priority, earliest
// admission first on ties.
func (p *Pool) victimLocked(self *conn) *conn {
	var victim *conn
	for _, c := range p.conns {
		if c == self || c.state != StateConnected {
			continue
		}
		if victim == nil ||
			c.priority < victim.priority ||
			(c.priority == victim.priority && c.connectedSeq < victim.connectedSeq) {
			victim = c
		}
	}
	return victim
}

// detached is a removed entity whose transport still has to be closed.
type detached struct {
	id     string
	client Client
}

func (p *Pool) evictLocked(victim *conn, changes *[]StateChange) detached {
	p.logger.Info("evicting lowest-priority channel",
		"channel", victim.id,
		"priority", victim.priority,
	)
	p.metrics.Evicted(victim.id)
	return p.detachLocked(victim, changes)
}

// detachLocked removes c from the pool and invalidates its dial, read loop and timer.
func (p *Pool) detachLocked(c *conn, changes *[]StateChange) detached {
	delete(p.conns, c.id)
	c.wanted = false
	c.gen++
	c.cancelTimerLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	client := c.client
	c.client = nil
	*changes = p.transitionLocked(*changes, c, StateDisconnected, nil)

	// Later connects must not join a flight that is being torn down.
	p.group.Forget(c.id)

	return detached{id: c.id, client: client}
}

func (p *Pool) detachAllLocked() (map[string]Client, []StateChange) {
	var changes []StateChange
	clients := make(map[string]Client, len(p.conns))
	for _, c := range p.conns {
		d := p.detachLocked(c, &changes)
		clients[d.id] = d.client
	}
	return clients, changes
}

// finishDetach closes transports and drops per-channel state. Runs without p.mu.
func (p *Pool) finishDetach(list []detached) {
	for _, d := range list {
		if d.client != nil {
			d.client.Close()
		}
		p.acks.Clear(d.id)
		p.sink.ClearChannel(d.id)
	}
}

// Disconnect closes channelID with a normal closure and forgets it.
// Pending reconnects and in-flight handshakes are cancelled. Idempotent.
func (p *Pool) Disconnect(channelID string) {
	var changes []StateChange

	p.mu.Lock()
	c, ok := p.conns[channelID]
	if !ok {
		p.mu.Unlock()
		p.finishDetach([]detached{{id: channelID}})
		return
	}
	d := p.detachLocked(c, &changes)
	p.mu.Unlock()

	p.finishDetach([]detached{d})
	p.notify(changes)

	p.logger.Info("channel disconnected", "channel", channelID)
}

// DisconnectAll disconnects every channel and resets the sink and ack state.
func (p *Pool) DisconnectAll() {
	p.mu.Lock()
	clients, changes := p.detachAllLocked()
	p.mu.Unlock()

	for _, c := range clients {
		if c != nil {
			c.Close()
		}
	}
	p.acks.Reset()
	p.sink.Reset()
	p.notify(changes)

	p.logger.Info("all channels disconnected", "count", len(clients))
}

// Send writes data to a connected channel.
func (p *Pool) Send(channelID string, data []byte) error {
	p.mu.Lock()
	c, ok := p.conns[channelID]
	var client Client
	if ok && c.state == StateConnected {
		client = c.client
	}
	p.mu.Unlock()

	if client == nil {
		return fmt.Errorf("send to %s: %w", channelID, ErrNotConnected)
	}
	if err := client.Send(data); err != nil {
		return fmt.Errorf("send to %s: %w", channelID, err)
	}
	return nil
}

// Summary returns a snapshot of the pool. It never blocks on I/O.
func (p *Pool) Summary() Summary {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Summary{
		TotalConnections:  len(p.conns),
		ConnectedChannels: make([]string, 0, len(p.conns)),
		States:            make(map[string]State, len(p.conns)),
	}
	for id, c := range p.conns {
		s.States[id] = c.state
		if c.state == StateConnected {
			s.ConnectedChannels = append(s.ConnectedChannels, id)
		}
	}
	sort.Strings(s.ConnectedChannels)
	s.AnyConnected = len(s.ConnectedChannels) > 0
	return s
}

// State returns channelID's state and whether the pool knows it.
func (p *Pool) State(channelID string) (State, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[channelID]
	if !ok {
		return StateDisconnected, false
	}
	return c.state, true
}

// Priority returns channelID's current priority.
func (p *Pool) Priority(channelID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.conns[channelID]
	if !ok {
		return 0, false
	}
	return c.priority, true
}

// Acks returns the pool's acknowledgement tracker.
func (p *Pool) Acks() *ack.Tracker {
	return p.acks
}

// OnStateChange registers fn for every state transition. fn runs outside the
// pool lock and may call back into the pool.
func (p *Pool) OnStateChange(fn func(StateChange)) (remove func()) {
	p.observerMu.Lock()
	id := p.nextObserver
	p.nextObserver++
	p.observers[id] = fn
	p.observerMu.Unlock()

	return func() {
		p.observerMu.Lock()
		delete(p.observers, id)
		p.observerMu.Unlock()
	}
}

// transitionLocked sets c's state and appends the change when it differs.
func (p *Pool) transitionLocked(changes []StateChange, c *conn, to State, err error) []StateChange {
	from := c.state
	if from == to {
		return changes
	}
	c.state = to
	p.metrics.StateChanged(c.id, from, to)
	return append(changes, StateChange{
		ChannelID: c.id,
		From:      from,
		To:        to,
		Priority:  c.priority,
		Err:       err,
	})
}

func (p *Pool) notify(changes []StateChange) {
	if len(changes) == 0 {
		return
	}

	p.observerMu.Lock()
	fns := make([]func(StateChange), 0, len(p.observers))
	for _, fn := range p.observers {
		fns = append(fns, fn)
	}
	p.observerMu.Unlock()

	for _, change := range changes {
		for _, fn := range fns {
			fn(change)
		}
	}
}
