package ack

import (
	"slices"
	"sync"
	"time"
)

// Tracker holds pending acknowledgement sequences per channel.
// It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]map[uint64]time.Time // channel → sequence → first tracked
	now     func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[string]map[uint64]time.Time),
		now:     time.Now,
	}
}

// Track records seq as pending for channelID. Returns false if it was already pending.
func (t *Tracker) Track(channelID string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.pending[channelID]
	if !ok {
		set = make(map[uint64]time.Time)
		t.pending[channelID] = set
	}
	if _, dup := set[seq]; dup {
		return false
	}
	set[seq] = t.now()
	return true
}

// Acknowledge removes seq from channelID's pending set. Unknown entries are a no-op.
func (t *Tracker) Acknowledge(channelID string, seq uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.pending[channelID]
	if !ok {
		return false
	}
	if _, ok := set[seq]; !ok {
		return false
	}
	delete(set, seq)
	if len(set) == 0 {
		delete(t.pending, channelID)
	}
	return true
}

// Pending returns the number of unconfirmed sequences for channelID.
func (t *Tracker) Pending(channelID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending[channelID])
}

// Sequences returns channelID's pending sequences in ascending order.
func (t *Tracker) Sequences(channelID string) []uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.pending[channelID]
	seqs := make([]uint64, 0, len(set))
	for seq := range set {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	return seqs
}

// Oldest returns the time the oldest pending sequence for channelID was tracked.
func (t *Tracker) Oldest(channelID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest time.Time
	for _, at := range t.pending[channelID] {
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	return oldest, !oldest.IsZero()
}

// Outstanding returns pending counts for every channel with at least one entry.
func (t *Tracker) Outstanding() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]int, len(t.pending))
	for ch, set := range t.pending {
		out[ch] = len(set)
	}
	return out
}

// Total returns the number of pending sequences across all channels.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, set := range t.pending {
		n += len(set)
	}
	return n
}

// Clear drops all pending entries for channelID.
func (t *Tracker) Clear(channelID string) {
	t.mu.Lock()
	delete(t.pending, channelID)
	t.mu.Unlock()
}

// Reset drops all pending entries.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.pending = make(map[string]map[uint64]time.Time)
	t.mu.Unlock()
}
