// Package connection implements the multiplexed channel connection pool.
//
// The pool:
//   - Keeps at most MaxConnections channels connected (default 3)
//   - Evicts the lowest-priority channel to admit a new one, earliest admitted first on ties
//   - Coalesces concurrent connects for one channel into a single handshake
//   - Reconnects unexpectedly closed channels with capped exponential backoff
//   - Acknowledges ack_required messages before broadcasting them
//   - Reports every state transition to registered observers
//
// Transports are pluggable through Client; gorilla/websocket is the default
// driver and coder/websocket is available as "coder".
package connection
