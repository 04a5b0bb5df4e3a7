package catalog

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/rickgao/sessionmux/internal/api"
	"github.com/rickgao/sessionmux/internal/model"
	"github.com/rickgao/sessionmux/internal/session"
)

// Lister fetches the user's sessions.
type Lister interface {
	ListUserSessions(ctx context.Context) ([]api.APISession, error)
}

// Reconciler makes a desired channel list the open set.
type Reconciler interface {
	Reconcile(ctx context.Context, channels []session.Channel) []session.Result
}

// Config holds catalog configuration.
type Config struct {
	Interval time.Duration
	Limit    int               // newest sessions to keep open
	Pinned   []session.Channel // always first, regardless of the session list
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: 30 * time.Second,
		Limit:    3,
	}
}

// Catalog tracks the user's sessions and drives reconciliation.
type Catalog struct {
	cfg    Config
	rest   Lister
	target Reconciler
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	sessions   map[string]model.Session
	desired    []string
	lastSyncAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a catalog.
func New(cfg Config, rest Lister, target Reconciler, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	return &Catalog{
		cfg:      cfg,
		rest:     rest,
		target:   target,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]model.Session),
	}
}

// Start runs the initial sync and then reconciles in the background.
func (c *Catalog) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	// Initial sync (blocking).
	if err := c.sync(c.ctx); err != nil {
		c.cancel()
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconciliationLoop(c.ctx)
	}()

	c.logger.Info("session catalog started",
		"sessions", len(c.Sessions()),
		"desired", len(c.Desired()),
		"interval", c.cfg.Interval,
	)

	return nil
}

// Stop gracefully shuts down.
func (c *Catalog) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("session catalog stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sessions returns the sessions from the last sync, newest first.
func (c *Catalog) Sessions() []model.Session {
	c.mu.RLock()
	out := make([]model.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		out = append(out, s)
	}
	c.mu.RUnlock()

	sortNewestFirst(out)
	return out
}

// Session returns one session from the last sync.
func (c *Catalog) Session(id string) (model.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Desired returns the channel ids most recently handed to the reconciler.
func (c *Catalog) Desired() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.desired)
}

// LastSyncAt returns when the session list was last fetched successfully.
func (c *Catalog) LastSyncAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSyncAt
}
