// Package session is the public surface of sessionmux: connect a set of
// channels, register message handlers, and read or subscribe to the
// connection summary.
package session
