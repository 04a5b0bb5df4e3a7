// Package poller implements the REST fallback for channels whose live
// connection is down.
//
// The Fallback Poller:
//   - Every interval, lists channels the pool holds in the error or disconnected state
//   - Fetches GET /sessions/{id}/photos for each, with bounded concurrency
//   - Publishes a synthesized photo_uploaded message when the count grows
//   - Forgets a channel's baseline once it is connected again
package poller
