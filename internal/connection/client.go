package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// controlWriteTimeout bounds pong and close control frames.
const controlWriteTimeout = time.Second

// Client represents a single WebSocket connection to the feed.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// Send writes raw bytes to the connection.
	Send(data []byte) error

	// Messages returns a channel of raw frames, each stamped with its local
	// receive time.
	Messages() <-chan TimestampedMessage

	// Errors returns a channel carrying the error that ended the connection.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client is one dial of the feed. It is not reused after Close.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	messages chan TimestampedMessage
	errors   chan error
	done     chan struct{} // closed by Close
	readDone chan struct{} // closed when readLoop exits

	mu        sync.RWMutex
	connected bool
	closed    bool

	lastSeen atomic.Int64 // UnixNano of the last inbound frame, ping or pong
	dropped  atomic.Int64
}

// NewClient creates a new WebSocket client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		messages: make(chan TimestampedMessage, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

// Connect performs the opening handshake, bounded by ctx and by
// HandshakeTimeout, then starts the read and heartbeat loops.
func (c *client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return err
	}
	if c.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(c.cfg.MaxMessageSize)
	}

	conn.SetPingHandler(func(data string) error {
		c.seen()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(controlWriteTimeout))
	})
	conn.SetPongHandler(func(string) error {
		c.seen()
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.seen()

	go c.readLoop()
	if c.cfg.HeartbeatInterval > 0 {
		go c.heartbeatLoop()
	}

	c.logger.Debug("websocket connected", "url", c.cfg.URL)
	return nil
}

// Close sends a normal-closure frame and closes the socket. Safe to call
// more than once.
func (c *client) Close() error {
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
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(controlWriteTimeout))
	c.writeMu.Unlock()

	if n := c.dropped.Load(); n > 0 {
		c.logger.Warn("websocket closed with dropped frames", "dropped", n)
	}
	return conn.Close()
}

// Send writes a text frame.
func (c *client) Send(data []byte) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) Messages() <-chan TimestampedMessage { return c.messages }

func (c *client) Errors() <-chan error { return c.errors }

func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *client) seen() {
	c.lastSeen.Store(time.Now().UnixNano())
}

func (c *client) idle() time.Duration {
	return time.Since(time.Unix(0, c.lastSeen.Load()))
}

// fail reports err once and marks the client disconnected.
func (c *client) fail(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	select {
	case c.errors <- err:
	default:
	}
}

func (c *client) readLoop() {
	defer close(c.readDone)

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(err)
			}
			return
		}
		c.lastSeen.Store(receivedAt.UnixNano())

		select {
		case c.messages <- TimestampedMessage{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		default:
			// Log the first drop and every 1000th after it.
			if n := c.dropped.Add(1); n%1000 == 1 {
				c.logger.Warn("message buffer full, dropping frame", "dropped", n)
			}
		}
	}
}

// heartbeatLoop pings on every tick and fails the connection once nothing
// has arrived for PingTimeout.
func (c *client) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.readDone:
			return
		case <-ticker.C:
		}

		if !c.IsConnected() {
			return
		}
		c.ping()

		if c.cfg.PingTimeout > 0 && c.idle() > c.cfg.PingTimeout {
			c.logger.Warn("no traffic from server, connection stale",
				"idle", c.idle().Round(time.Millisecond),
				"timeout", c.cfg.PingTimeout,
			)
			c.fail(ErrStaleConnection)
			// Unblock the reader so the owner sees a closed connection.
			c.conn.Close()
			return
		}
	}
}

// ping sends a protocol ping and the optional application keepalive frame.
func (c *client) ping() {
	c.writeMu.Lock()
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout))
	c.writeMu.Unlock()
	if err != nil {
		c.logger.Debug("failed to send ping", "error", err)
	}

	if c.cfg.KeepaliveMessage == "" {
		return
	}
	if err := c.Send([]byte(c.cfg.KeepaliveMessage)); err != nil {
		c.logger.Debug("failed to send keepalive", "error", err)
	}
}
