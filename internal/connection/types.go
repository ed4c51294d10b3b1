package connection

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is a message from Connection Manager to Event Router.
type RawMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when WS Client received message
	SessionID  uuid.UUID // Identifies the connection session the frame arrived on
}

// ReconnectEvent is emitted after every successful open except the first.
type ReconnectEvent struct {
	SessionID uuid.UUID     // New session
	Attempt   int           // Dial attempts it took to get back
	Downtime  time.Duration // Time between losing the previous session and opening this one
}

// State is the connection state machine position.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL               string        // WebSocket URL (e.g., wss://feed.example.com/ws)
	Token             string        // Bearer token (empty = public feed only)
	HandshakeTimeout  time.Duration // Upper bound on the opening handshake
	HeartbeatInterval time.Duration // Ping period while open
	KeepaliveMessage  string        // Optional text frame sent with every ping
	PingTimeout       time.Duration // Max time without inbound traffic before the connection is stale (0 = never)
	WriteTimeout      time.Duration // Write deadline for sends
	BufferSize        int           // Message channel buffer size
	MaxMessageSize    int64         // Read limit per frame in bytes (0 = unlimited)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		PingTimeout:       90 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client            ClientConfig
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
	ReconnectJitter   float64       // Random spread applied to each wait (0 = none)
	MessageBufferSize int           // Buffer size for output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		MessageBufferSize: 10000,
	}
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State           State
	SessionID       uuid.UUID
	Connects        int64 // Successful opens, including the first
	Reconnects      int64 // Successful opens after the first
	FailedDials     int64
	MessagesRelayed int64
	MessagesDropped int64
}
