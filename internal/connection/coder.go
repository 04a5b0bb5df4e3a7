package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// coderClient implements Client on coder/websocket.
type coderClient struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn *websocket.Conn

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{}

	// Cancels reads and pings when the client closes.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	connected  bool
	lastSeenAt time.Time
	closed     bool
}

func newCoderClient(cfg ClientConfig, logger *slog.Logger) *coderClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &coderClient{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *coderClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{
		HTTPHeader: c.cfg.Header.Clone(),
	})
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &HandshakeError{StatusCode: status, Err: err}
	}
	if c.cfg.ReadLimit > 0 {
		conn.SetReadLimit(c.cfg.ReadLimit)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.CloseNow()
		return ErrAlreadyClosed
	}
	c.conn = conn
	c.connected = true
	c.lastSeenAt = time.Now()
	c.mu.Unlock()

	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "driver", DriverCoder)
	return nil
}

func (c *coderClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	defer c.cancel()

	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "")
}

func (c *coderClient) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout(c.cfg))
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (c *coderClient) Messages() <-chan TimestampedMessage { return c.messages }
func (c *coderClient) Errors() <-chan error                { return c.errors }
func (c *coderClient) Done() <-chan struct{}               { return c.done }

func (c *coderClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *coderClient) touch() {
	c.mu.Lock()
	c.lastSeenAt = time.Now()
	c.mu.Unlock()
}

func (c *coderClient) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		receivedAt := time.Now()

		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(normalizeCoderError(err))
			}
			return
		}

		c.touch()

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

func (c *coderClient) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.errors <- err:
	default:
	}
}

// heartbeatLoop relies on the concurrent readLoop to receive pongs.
func (c *coderClient) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			timeout := c.cfg.PingTimeout
			if timeout <= 0 {
				timeout = c.cfg.PingInterval
			}
			ctx, cancel := context.WithTimeout(c.ctx, timeout)
			err := c.conn.Ping(ctx)
			cancel()

			if err == nil {
				c.touch()
				continue
			}

			select {
			case <-c.done:
				return
			default:
			}

			c.logger.Warn("no pong received, connection stale", "timeout", timeout, "error", err)
			c.fail(ErrStaleConnection)
			return
		}
	}
}

func normalizeCoderError(err error) error {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return &CloseError{Code: CloseAbnormal, Reason: err.Error()}
}
