package catalog

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rickgao/sessionmux/internal/api"
	"github.com/rickgao/sessionmux/internal/model"
	"github.com/rickgao/sessionmux/internal/session"
)

// reconciliationLoop periodically syncs with the REST API.
func (c *Catalog) reconciliationLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.sync(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("session reconciliation failed", "error", err)
			}
		}
	}
}

// sync fetches the session list and reconciles when the desired list changed.
func (c *Catalog) sync(ctx context.Context) error {
	start := c.now()

	list, err := c.rest.ListUserSessions(ctx)
	if err != nil {
		return fmt.Errorf("sync sessions: %w", err)
	}
	sessions := api.ToSessions(list)

	wanted := c.selectActive(sessions, start)
	channels := c.desiredChannels(wanted)
	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}

	c.mu.Lock()
	changed := !slices.Equal(c.desired, ids)
	added, removed := diff(c.desired, ids)
	c.sessions = make(map[string]model.Session, len(sessions))
	for _, s := range sessions {
		c.sessions[s.SessionID] = s
	}
	c.desired = ids
	c.lastSyncAt = start
	c.mu.Unlock()

	if !changed {
		c.logger.Debug("session list unchanged",
			"sessions", len(sessions),
			"duration", time.Since(start),
		)
		return nil
	}

	c.logger.Info("desired channels changed",
		"added", added,
		"removed", removed,
		"desired", ids,
	)

	var failed int
	for _, r := range c.target.Reconcile(ctx, channels) {
		if r.Err != nil {
			failed++
		}
	}
	c.logger.Info("reconciliation complete",
		"channels", len(channels),
		"failed", failed,
		"duration", time.Since(start),
	)

	return nil
}

// selectActive keeps active, unexpired sessions, newest first, up to Limit.
func (c *Catalog) selectActive(sessions []model.Session, now time.Time) []model.Session {
	var out []model.Session
	for _, s := range sessions {
		if !s.IsActive {
			continue
		}
		if !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt) {
			continue
		}
		out = append(out, s)
	}

	sortNewestFirst(out)
	if c.cfg.Limit > 0 && len(out) > c.cfg.Limit {
		out = out[:c.cfg.Limit]
	}
	return out
}

// desiredChannels puts pinned channels first, then sessions without
// explicit priority so the manager ranks them by position.
func (c *Catalog) desiredChannels(sessions []model.Session) []session.Channel {
	out := make([]session.Channel, 0, len(c.cfg.Pinned)+len(sessions))
	seen := make(map[string]bool, cap(out))

	for _, ch := range c.cfg.Pinned {
		if seen[ch.ID] {
			continue
		}
		seen[ch.ID] = true
		out = append(out, ch)
	}
	for _, s := range sessions {
		if seen[s.SessionID] {
			continue
		}
		seen[s.SessionID] = true
		out = append(out, session.Channel{ID: s.SessionID})
	}
	return out
}

func sortNewestFirst(sessions []model.Session) {
	slices.SortStableFunc(sessions, func(a, b model.Session) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
}

func diff(before, after []string) (added, removed []string) {
	for _, id := range after {
		if !slices.Contains(before, id) {
			added = append(added, id)
		}
	}
	for _, id := range before {
		if !slices.Contains(after, id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}
