package connection

import (
	"math"
	"time"
)

// Backoff computes reconnect delays: Base doubled per consecutive failure,
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns the wait before attempt number failures (0-based).
func (b Backoff) Delay(failures int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := b.Base
	for i := 0; i < failures; i++ {
		if d > math.MaxInt64/2 {
			d = math.MaxInt64
			break
		}
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}

// scheduleLocked arms a reconnect timer for c. Must be called with p.mu held
// and c in StateError.
func (p *Pool) scheduleLocked(c *conn) {
	if !c.wanted || p.closed {
		return
	}
	if max := p.cfg.ReconnectMaxAttempts; max > 0 && c.failures >= max {
		p.logger.Warn("reconnect attempts exhausted",
			"channel", c.id,
			"attempts", c.failures,
		)
		return
	}

	delay := p.backoff.Delay(c.failures)
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, func() { p.fireReconnect(c, gen) })

	p.metrics.ReconnectScheduled(c.id, delay)
	p.logger.Info("reconnect scheduled",
		"channel", c.id,
		"delay", delay,
		"attempt", c.failures+1,
	)
}

// fireReconnect runs on the timer goroutine. A timer whose entity was
// removed, replaced or reconnected in the meantime is a no-op.
func (p *Pool) fireReconnect(c *conn, gen uint64) {
	p.mu.Lock()
	current, ok := p.conns[c.id]
	stale := !ok || current != c || c.gen != gen || !c.wanted || c.state != StateError || p.closed
	if !stale {
		c.timer = nil
	}
	p.mu.Unlock()

	if stale {
		return
	}

	p.logger.Info("attempting reconnection", "channel", c.id, "attempt", c.failures+1)

	// Failures are logged and rescheduled inside dial. Sharing the flight
	// lets an explicit Connect wait on this attempt.
	p.group.Do(c.id, func() (any, error) {
		return nil, p.dial(c.id, true)
	})
}

// cancelTimerLocked stops c's pending reconnect, if any.
func (c *conn) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
