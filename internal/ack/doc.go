// Package ack tracks sequences that were acknowledged to a channel peer but
// not yet confirmed by an ack frame coming back.
//
// Entries are keyed by channel. A channel's entries are dropped when the
// channel is torn down; Reset drops everything.
package ack
