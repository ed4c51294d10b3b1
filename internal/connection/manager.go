package connection

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/marketsync/internal/backoff"
)

// Manager owns the single push-feed connection.
type Manager interface {
	// Start begins connecting. Calling Start while running is a no-op.
	Start(ctx context.Context) error

	// Stop tears down the connection and stops reconnecting.
	Stop(ctx context.Context) error

	// Send writes a frame on the open connection.
	Send(data []byte) error

	// Messages returns channel of raw messages for the Event Router.
	Messages() <-chan RawMessage

	// Reconnects returns a channel that receives one event per successful
	// reconnection. The first connect is not reported.
	Reconnects() <-chan ReconnectEvent

	// State returns the current state machine position.
	State() State

	// Stats returns current connection statistics.
	Stats() ManagerStats
}

// ClientFactory builds a Client. Tests substitute their own.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// manager implements the Manager interface.
type manager struct {
	cfg       ManagerConfig
	logger    *slog.Logger
	newClient ClientFactory

	// Output channels
	router     chan RawMessage
	reconnects chan ReconnectEvent

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	lifeMu  sync.Mutex
	started bool
	stopped bool

	// Current session
	mu        sync.RWMutex
	state     State
	client    Client
	sessionID uuid.UUID

	// Stats
	connects    atomic.Int64
	reconnected atomic.Int64
	failedDials atomic.Int64
	relayed     atomic.Int64
	dropped     atomic.Int64
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, logger *slog.Logger) Manager {
	return newManager(cfg, NewClient, logger)
}

func newManager(cfg ManagerConfig, factory ClientFactory, logger *slog.Logger) *manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = DefaultManagerConfig().MessageBufferSize
	}

	return &manager{
		cfg:        cfg,
		logger:     logger,
		newClient:  factory,
		router:     make(chan RawMessage, cfg.MessageBufferSize),
		reconnects: make(chan ReconnectEvent, 16),
		state:      StateConnecting,
	}
}

// Start begins the connection loop.
func (m *manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.stopped {
		return ErrAlreadyClosed
	}
	if m.started {
		m.logger.Debug("connection manager already started")
		return nil
	}
	m.started = true

	m.ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(1)
	go m.run()

	m.logger.Info("connection manager started", "url", m.cfg.Client.URL)
	return nil
}

// Stop gracefully shuts down. A dial still in its handshake is not aborted;
// it is closed as soon as it completes.
func (m *manager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	if m.stopped || !m.started {
		m.stopped = true
		m.lifeMu.Unlock()
		return nil
	}
	m.stopped = true
	m.lifeMu.Unlock()

	m.logger.Info("stopping connection manager")
	m.cancel()

	// Wait for goroutines with timeout
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		close(m.router)
		close(m.reconnects)
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, connection loop still finishing handshake")
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Send writes a frame on the current connection.
func (m *manager) Send(data []byte) error {
	m.mu.RLock()
	c := m.client
	m.mu.RUnlock()

	if c == nil {
		return ErrNotConnected
	}
	return c.Send(data)
}

// Messages returns the output channel for the Event Router.
func (m *manager) Messages() <-chan RawMessage {
	return m.router
}

// Reconnects returns the reconnect event channel.
func (m *manager) Reconnects() <-chan ReconnectEvent {
	return m.reconnects
}

// State returns the current state.
func (m *manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.RLock()
	state, session := m.state, m.sessionID
	m.mu.RUnlock()

	return ManagerStats{
		State:           state,
		SessionID:       session,
		Connects:        m.connects.Load(),
		Reconnects:      m.reconnected.Load(),
		FailedDials:     m.failedDials.Load(),
		MessagesRelayed: m.relayed.Load(),
		MessagesDropped: m.dropped.Load(),
	}
}

func (m *manager) setState(s State) {
	m.mu.Lock()
	prev := m.state
	m.state = s
	m.mu.Unlock()

	if prev != s {
		m.logger.Debug("connection state", "from", prev, "to", s)
	}
}

// run is the state machine loop. It exits only when the manager is stopped.
func (m *manager) run() {
	defer m.wg.Done()
	defer m.setState(StateClosed)

	bo := backoff.New(m.cfg.ReconnectBaseWait, m.cfg.ReconnectMaxWait, m.cfg.ReconnectJitter)

	var (
		everOpened bool
		lostAt     time.Time
		dials      int
	)

	for {
		if m.ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		dials++

		client, err := m.dial()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.failedDials.Add(1)
			wait := bo.Next()
			m.logger.Warn("connect failed, retrying",
				"attempt", bo.Attempt(),
				"wait", wait,
				"error", err,
			)
			if !m.sleep(wait) {
				return
			}
			continue
		}

		// Stopped while the handshake was in flight: the connection is
		// fully open now, so it is safe to close.
		if m.ctx.Err() != nil {
			client.Close()
			return
		}

		bo.Reset()
		session := uuid.New()

		m.mu.Lock()
		m.client = client
		m.sessionID = session
		m.state = StateOpen
		m.mu.Unlock()
		m.connects.Add(1)

		if everOpened {
			m.reconnected.Add(1)
			ev := ReconnectEvent{
				SessionID: session,
				Attempt:   dials,
				Downtime:  time.Since(lostAt),
			}
			m.logger.Info("reconnected",
				"session", session,
				"attempt", ev.Attempt,
				"downtime", ev.Downtime,
			)
			select {
			case m.reconnects <- ev:
			default:
				m.logger.Warn("reconnect event dropped, consumer not keeping up")
			}
		} else {
			m.logger.Info("connected", "session", session)
		}
		everOpened = true
		dials = 0

		err = m.pump(client, session)

		m.mu.Lock()
		m.client = nil
		m.mu.Unlock()
		client.Close()

		if m.ctx.Err() != nil {
			return
		}

		lostAt = time.Now()
		m.setState(StateReconnecting)
		wait := bo.Next()
		m.logger.Warn("connection lost, reconnecting",
			"session", session,
			"wait", wait,
			"error", err,
		)
		if !m.sleep(wait) {
			return
		}
	}
}

// dial opens a client. The handshake is deliberately not bound to the
// manager context, so Stop cannot interrupt a connection mid-handshake.
func (m *manager) dial() (Client, error) {
	timeout := m.cfg.Client.HandshakeTimeout
	if timeout <= 0 {
		timeout = DefaultClientConfig().HandshakeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client := m.newClient(m.cfg.Client, m.logger)
	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// pump relays frames until the connection fails or the manager stops.
// Returns the error that ended the session (nil on stop).
func (m *manager) pump(client Client, session uuid.UUID) error {
	for {
		select {
		case <-m.ctx.Done():
			return nil

		case err := <-client.Errors():
			// Frames read before the failure are still valid.
			for {
				select {
				case msg := <-client.Messages():
					m.relay(msg, session)
				default:
					return err
				}
			}

		case msg := <-client.Messages():
			m.relay(msg, session)
		}
	}
}

func (m *manager) relay(msg TimestampedMessage, session uuid.UUID) {
	raw := RawMessage{
		Data:       msg.Data,
		ReceivedAt: msg.ReceivedAt,
		SessionID:  session,
	}

	select {
	case m.router <- raw:
		m.relayed.Add(1)
	default:
		m.dropped.Add(1)
		m.logger.Warn("message buffer full, dropping", "session", session)
	}
}

// sleep waits for d or until the manager stops. Returns false on stop.
func (m *manager) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
