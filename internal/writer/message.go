package writer

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/sessionmux/internal/broadcast"
	"github.com/rickgao/sessionmux/internal/model"
)

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	InstanceID    string
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     500,
		FlushInterval: time.Second,
	}
}

// WriterMetrics counts writer activity.
type WriterMetrics struct {
	Received  int64
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
}

// BatchSender executes a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// messageRow is one channel_messages row.
type messageRow struct {
	ChannelID  string
	Sequence   *int64
	Type       string
	Kind       string
	Source     string
	Payload    []byte
	ReceivedAt time.Time
}

var errNoDatabase = errors.New("writer has no database")

const insertMessage = `
	INSERT INTO channel_messages (instance_id, channel_id, sequence, type, kind, source, payload, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (channel_id, sequence) WHERE sequence IS NOT NULL DO NOTHING
`

// MessageWriter consumes broadcast messages and writes them to channel_messages.
type MessageWriter struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the broadcast hub
	input *broadcast.Subscription

	// Database
	db BatchSender

	// Batching
	batch       []messageRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// NewMessageWriter creates a new MessageWriter.
func NewMessageWriter(
	cfg WriterConfig,
	input *broadcast.Subscription,
	db BatchSender,
	logger *slog.Logger,
) *MessageWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &MessageWriter{
		cfg:    cfg,
		input:  input,
		db:     db,
		logger: logger,
		batch:  make([]messageRow, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *MessageWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("message writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the writer down, drains queued messages and flushes the rest
// within ctx.
func (w *MessageWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping message writer")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("message writer stopped")
	case <-ctx.Done():
		w.logger.Warn("message writer stop timed out")
	}

	// Messages still queued in the subscription.
	if w.input != nil {
		for _, msg := range w.input.Buffer().DrainTo(0) {
			w.add(msg)
		}
	}

	// Final flush
	w.flush(ctx)

	return nil
}

// Stats returns current metrics.
func (w *MessageWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the subscription and accumulates batches.
func (w *MessageWriter) consumeLoop() {
	defer w.wg.Done()

	if w.input == nil {
		<-w.ctx.Done()
		return
	}

	for {
		msg, ok := w.input.Receive(w.ctx)
		if !ok {
			return
		}
		w.handleMessage(msg)
	}
}

// flushLoop periodically flushes the batch.
func (w *MessageWriter) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleMessage transforms and adds a message to the batch.
func (w *MessageWriter) handleMessage(msg model.Message) {
	if w.add(msg) {
		w.flush(w.ctx)
	}
}

// add appends msg and reports whether the batch is full.
func (w *MessageWriter) add(msg model.Message) bool {
	row := w.transform(msg)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	w.metrics.Received++
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// transform converts a Message to a messageRow.
func (w *MessageWriter) transform(msg model.Message) messageRow {
	row := messageRow{
		ChannelID:  msg.ChannelID,
		Type:       msg.Type,
		Kind:       msg.Kind.String(),
		Source:     msg.Source,
		Payload:    msg.Payload,
		ReceivedAt: msg.ReceivedAt.UTC(),
	}
	// sequence is a BIGINT column. Larger values are stored as NULL, which
	// also exempts them from redelivery dedup.
	switch {
	case !msg.HasSequence:
	case msg.Sequence > math.MaxInt64:
		w.logger.Warn("sequence out of range for archive, storing without it",
			"channel", msg.ChannelID,
			"sequence", msg.Sequence,
		)
	default:
		seq := int64(msg.Sequence)
		row.Sequence = &seq
	}
	if len(row.Payload) == 0 {
		row.Payload = []byte("{}")
	}
	if row.Source == "" {
		row.Source = model.SourceWS
	}
	if msg.ReceivedAt.IsZero() {
		row.ReceivedAt = time.Now().UTC()
	}
	return row
}

// flush writes the current batch to the database.
func (w *MessageWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]messageRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed messages",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *MessageWriter) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	if w.db == nil {
		return 0, errNoDatabase
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertMessage,
			w.cfg.InstanceID, r.ChannelID, r.Sequence, r.Type, r.Kind, r.Source, string(r.Payload), r.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
