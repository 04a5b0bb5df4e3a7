package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/sessionmux/internal/api"
	"github.com/rickgao/sessionmux/internal/connection"
	"github.com/rickgao/sessionmux/internal/model"
)

// PhotoSource lists a session's photos.
type PhotoSource interface {
	GetSessionPhotos(ctx context.Context, sessionID string) ([]api.APIPhoto, error)
}

// Target exposes channel states and accepts synthesized messages.
type Target interface {
	Summary() connection.Summary
	Publish(msg model.Message) error
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 15s)
	Concurrency int           // Max concurrent requests (default: 4)
	Timeout     time.Duration // Per-request timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    15 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Poller polls photo counts for channels without a live connection.
type Poller struct {
	cfg    Config
	client PhotoSource
	target Target
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	baseline map[string]int // photo count at the last poll
	polling  []string       // channels polled in the last cycle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, client PhotoSource, target Target, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Poller{
		cfg:      cfg,
		client:   client,
		target:   target,
		logger:   logger,
		now:      time.Now,
		baseline: make(map[string]int),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"concurrency", p.cfg.Concurrency,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Polling returns the channels polled in the last cycle.
func (p *Poller) Polling() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.polling...)
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll polls every channel that is tracked but not connected.
func (p *Poller) pollAll() {
	start := time.Now()

	down := p.downChannels()
	if len(down) == 0 {
		p.logger.Debug("all channels connected, nothing to poll")
		return
	}

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var polled, published, failed atomic.Int64

	for _, id := range down {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()

			// Acquire semaphore slot.
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			sent, err := p.pollChannel(channelID)
			if err != nil {
				p.logger.Warn("failed to poll channel",
					"channel", channelID,
					"error", err,
				)
				failed.Add(1)
				return
			}
			polled.Add(1)
			if sent {
				published.Add(1)
			}
		}(id)
	}

	wg.Wait()

	p.logger.Debug("poll cycle complete",
		"channels", len(down),
		"polled", polled.Load(),
		"published", published.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

// downChannels returns tracked channels in the error or disconnected state
// and drops baselines for channels that are connected or gone.
func (p *Poller) downChannels() []string {
	sum := p.target.Summary()

	var down []string
	for id, st := range sum.States {
		if st == connection.StateError || st == connection.StateDisconnected {
			down = append(down, id)
		}
	}
	sort.Strings(down)

	p.mu.Lock()
	for id := range p.baseline {
		if st, ok := sum.States[id]; !ok || st == connection.StateConnected {
			delete(p.baseline, id)
		}
	}
	p.polling = down
	p.mu.Unlock()

	return down
}

// pollChannel fetches one channel's photos and publishes when the count grew.
// The first poll of a channel only records the baseline.
func (p *Poller) pollChannel(channelID string) (bool, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	photos, err := p.client.GetSessionPhotos(ctx, channelID)
	if err != nil {
		if api.IsNotFound(err) {
			p.mu.Lock()
			delete(p.baseline, channelID)
			p.mu.Unlock()
		}
		return false, err
	}
	count := len(photos)

	p.mu.Lock()
	prev, seen := p.baseline[channelID]
	p.baseline[channelID] = count
	p.mu.Unlock()

	if !seen || count <= prev {
		return false, nil
	}

	added := count - prev
	noun := "photo"
	if added > 1 {
		noun = "photos"
	}
	msg, err := model.NewMessage(channelID, model.TypePhotoUploaded, map[string]any{
		"session_id":   channelID,
		"message":      fmt.Sprintf("%d new %s uploaded", added, noun),
		"upload_count": count,
		"new_photos":   added,
		"uploaded_by":  "Unknown user",
	}, p.now())
	if err != nil {
		return false, err
	}
	if err := p.target.Publish(msg); err != nil {
		return false, fmt.Errorf("publish %s: %w", channelID, err)
	}

	p.logger.Info("fallback detected new photos",
		"channel", channelID,
		"new_photos", added,
		"upload_count", count,
	)
	return true, nil
}
