package broadcast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/sessionmux/internal/model"
)

// Handler receives every non-ack message from every channel.
type Handler func(msg model.Message) error

// Metrics receives hub events. Implementations must be safe for concurrent use.
type Metrics interface {
	MessageBroadcast(channelID string)
	HandlerFailed(reason string)
}

type nopMetrics struct{}

func (nopMetrics) MessageBroadcast(string) {}
func (nopMetrics) HandlerFailed(string)    {}

// HubStats contains runtime statistics.
type HubStats struct {
	Handlers        int
	Channels        int // channels with a stored last message
	Received        int64
	Delivered       int64
	HandlerFailures int64
}

type handlerEntry struct {
	id       uuid.UUID
	fn       Handler
	removed  atomic.Bool
	onRemove func()

	// Held for reading across the removed check and the call, so remove can
	// wait out invocations that already passed the check.
	mu sync.RWMutex
}

// Hub is the handler registry plus per-channel last message store.
type Hub struct {
	logger  *slog.Logger
	metrics Metrics

	mu       sync.RWMutex
	handlers []*handlerEntry
	last     map[string]model.Message

	received  atomic.Int64
	delivered atomic.Int64
	failures  atomic.Int64
}

// NewHub creates an empty hub. A nil metrics disables instrumentation.
func NewHub(logger *slog.Logger, metrics Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Hub{
		logger:  logger,
		metrics: metrics,
		last:    make(map[string]model.Message),
	}
}

// AddHandler registers fn and returns a function that removes it.
// Once the remove function returns, fn is not invoked again: remove waits for
// invocations already running on other goroutines. fn may remove other
// handlers but must not call its own remove function. Removing twice is a no-op.
func (h *Hub) AddHandler(fn Handler) (remove func()) {
	return h.add(fn, nil)
}

func (h *Hub) add(fn Handler, onRemove func()) func() {
	entry := &handlerEntry{id: uuid.New(), fn: fn, onRemove: onRemove}

	h.mu.Lock()
	h.handlers = append(h.handlers, entry)
	h.mu.Unlock()

	h.logger.Debug("handler added", "handler", entry.id)

	return func() { h.remove(entry) }
}

func (h *Hub) remove(entry *handlerEntry) {
	if entry.removed.Swap(true) {
		return
	}
	// Wait for in-flight invocations.
	entry.mu.Lock()
	entry.mu.Unlock()

	h.mu.Lock()
	for i, e := range h.handlers {
		if e == entry {
			h.handlers = append(h.handlers[:i:i], h.handlers[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if entry.onRemove != nil {
		entry.onRemove()
	}
	h.logger.Debug("handler removed", "handler", entry.id)
}

// Broadcast stores msg as its channel's last message and invokes every handler.
func (h *Hub) Broadcast(msg model.Message) {
	h.received.Add(1)

	h.mu.Lock()
	h.last[msg.ChannelID] = msg
	handlers := h.handlers
	h.mu.Unlock()

	h.metrics.MessageBroadcast(msg.ChannelID)

	for _, entry := range handlers {
		h.invoke(entry, msg)
	}
}

func (h *Hub) invoke(entry *handlerEntry, msg model.Message) {
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	if entry.removed.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			h.failures.Add(1)
			h.metrics.HandlerFailed("panic")
			h.logger.Error("message handler panicked",
				"handler", entry.id,
				"channel", msg.ChannelID,
				"panic", fmt.Sprint(r),
			)
		}
	}()

	if err := entry.fn(msg); err != nil {
		h.failures.Add(1)
		h.metrics.HandlerFailed("error")
		h.logger.Warn("message handler failed",
			"handler", entry.id,
			"channel", msg.ChannelID,
			"type", msg.Type,
			"error", err,
		)
		return
	}
	h.delivered.Add(1)
}

// LastMessage returns the most recent message broadcast for channelID.
func (h *Hub) LastMessage(channelID string) (model.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, ok := h.last[channelID]
	return msg, ok
}

// ClearChannel forgets channelID's last message.
func (h *Hub) ClearChannel(channelID string) {
	h.mu.Lock()
	delete(h.last, channelID)
	h.mu.Unlock()
}

// Reset removes every handler and every stored last message.
// Open subscriptions are closed. Unlike a handler's remove function, Reset
// does not wait for running invocations, so handlers may call it.
func (h *Hub) Reset() {
	h.mu.Lock()
	handlers := h.handlers
	h.handlers = nil
	h.last = make(map[string]model.Message)
	h.mu.Unlock()

	for _, entry := range handlers {
		if entry.removed.Swap(true) {
			continue
		}
		if entry.onRemove != nil {
			entry.onRemove()
		}
	}

	h.logger.Debug("hub reset", "handlers", len(handlers))
}

// Stats returns current statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	handlers, channels := len(h.handlers), len(h.last)
	h.mu.RUnlock()

	return HubStats{
		Handlers:        handlers,
		Channels:        channels,
		Received:        h.received.Load(),
		Delivered:       h.delivered.Load(),
		HandlerFailures: h.failures.Load(),
	}
}

// Subscription is a queued consumer registered on a Hub.
type Subscription struct {
	buf    *GrowableBuffer[model.Message]
	remove func()
}

// Subscribe registers a queue-backed handler with the given initial capacity.
// The queue grows as needed, so the broadcast path never blocks on it.
func (h *Hub) Subscribe(bufferSize int) *Subscription {
	buf := NewGrowableBuffer[model.Message](bufferSize)
	sub := &Subscription{buf: buf}
	sub.remove = h.add(func(msg model.Message) error {
		if !buf.Send(msg) {
			return errSubscriptionClosed
		}
		return nil
	}, buf.Close)
	return sub
}

var errSubscriptionClosed = errors.New("subscription closed")

// Receive blocks for the next message. The bool is false once the
// subscription is closed and drained, or ctx is done.
func (s *Subscription) Receive(ctx context.Context) (model.Message, bool) {
	return s.buf.Receive(ctx)
}

// Buffer exposes the underlying queue for batch consumers.
func (s *Subscription) Buffer() *GrowableBuffer[model.Message] {
	return s.buf
}

// Close removes the subscription from its hub. Queued messages stay readable.
func (s *Subscription) Close() {
	s.remove()
}
