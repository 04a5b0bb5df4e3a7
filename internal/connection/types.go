package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Errors
var (
	ErrHandshakeFailed = errors.New("handshake failed")
	ErrUnexpectedClose = errors.New("unexpected close")
	ErrDisconnected    = errors.New("channel disconnected")
	ErrPoolClosed      = errors.New("pool closed")
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// HandshakeError reports a failed connect attempt for one channel.
type HandshakeError struct {
	ChannelID  string
	StatusCode int // HTTP status of the upgrade response, 0 if none
	Err        error
}

func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("handshake %s: status %d: %v", e.ChannelID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("handshake %s: %v", e.ChannelID, e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// Is matches ErrHandshakeFailed.
func (e *HandshakeError) Is(target error) bool { return target == ErrHandshakeFailed }

// Close codes used on the wire.
const (
	CloseNormalClosure = 1000
	CloseGoingAway     = 1001
	CloseAbnormal      = 1006
)

// CloseError is a transport closure with the peer's close code.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("closed with code %d", e.Code)
	}
	return fmt.Sprintf("closed with code %d: %s", e.Code, e.Reason)
}

// Is matches ErrUnexpectedClose for every code except normal closure.
func (e *CloseError) Is(target error) bool {
	return target == ErrUnexpectedClose && e.Code != CloseNormalClosure
}

// IsNormalClosure reports whether err is a close with code 1000.
func IsNormalClosure(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce) && ce.Code == CloseNormalClosure
}

// State is the lifecycle state of one channel connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from the transport
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Transport drivers.
const (
	DriverGorilla = "gorilla"
	DriverCoder   = "coder"
)

// ClientConfig configures a single transport client.
type ClientConfig struct {
	URL              string        // Full channel URL, credential already applied
	Header           http.Header   // Extra handshake headers
	Driver           string        // "gorilla" (default) or "coder"
	HandshakeTimeout time.Duration // Upper bound on the upgrade handshake
	PingInterval     time.Duration // Keepalive ping period, 0 disables heartbeat
	PingTimeout      time.Duration // Max time without ping/pong/data before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
	ReadLimit        int64         // Max inbound frame size, 0 = driver default
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Driver:           DriverGorilla,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      60 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
		ReadLimit:        4 * 1024 * 1024,
	}
}

// PoolConfig configures the connection pool.
type PoolConfig struct {
	MaxConnections       int           // Upper bound on connected channels
	DefaultPriority      int           // Priority used when a caller passes none
	ReconnectBaseDelay   time.Duration // First reconnect delay
	ReconnectMaxDelay    time.Duration // Cap on reconnect delay
	ReconnectMaxAttempts int           // Consecutive failed attempts before giving up, 0 = unlimited
}

// DefaultPoolConfig returns sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:       3,
		DefaultPriority:      50,
		ReconnectBaseDelay:   3 * time.Second,
		ReconnectMaxDelay:    60 * time.Second,
		ReconnectMaxAttempts: 0,
	}
}

// Summary is a point-in-time view of the pool.
type Summary struct {
	TotalConnections  int              `json:"total_connections"`
	ConnectedChannels []string         `json:"connected_channels"`
	AnyConnected      bool             `json:"any_connected"`
	States            map[string]State `json:"states"`
}

// StateChange describes one transition of one channel.
type StateChange struct {
	ChannelID string
	From      State
	To        State
	Priority  int
	Err       error // Cause of a transition to StateError
}

// Metrics receives pool events. Implementations must be safe for concurrent use.
type Metrics interface {
	StateChanged(channelID string, from, to State)
	Evicted(channelID string)
	ReconnectScheduled(channelID string, delay time.Duration)
	AckSent(channelID string)
	AckReceived(channelID string)
	MessageReceived(channelID string)
	DecodeFailed(channelID string)
}

type nopMetrics struct{}

func (nopMetrics) StateChanged(string, State, State)        {}
func (nopMetrics) Evicted(string)                           {}
func (nopMetrics) ReconnectScheduled(string, time.Duration) {}
func (nopMetrics) AckSent(string)                           {}
func (nopMetrics) AckReceived(string)                       {}
func (nopMetrics) MessageReceived(string)                   {}
func (nopMetrics) DecodeFailed(string)                      {}
