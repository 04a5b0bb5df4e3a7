// Package writer archives broadcast messages into PostgreSQL.
//
// The message writer consumes a hub subscription, batches rows and inserts
// them with pgx.Batch. Inserts are append-only. A message redelivered with a
// sequence already stored for its channel is counted as a conflict and
// skipped, so at-least-once delivery is stored once.
package writer
