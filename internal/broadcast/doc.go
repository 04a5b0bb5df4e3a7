// Package broadcast fans inbound channel messages out to registered handlers.
//
// Handlers run synchronously in registration order on the goroutine of the
// connection that received the message, so messages from one channel reach a
// handler in arrival order. Messages from different channels may reach the
// same handler concurrently. A handler error or panic is logged and counted
// and never affects other handlers or the connection.
//
// Subscribe offers a queued alternative for consumers that run on their own
// goroutine.
package broadcast
