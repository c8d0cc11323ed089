package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned when writing without an open socket
	ErrNotConnected = errors.New("live socket not connected")

	// ErrLiveDisabled is returned by Open when live tagging is switched off
	ErrLiveDisabled = errors.New("live tagging disabled")

	// ErrAlreadyOpen is returned by Open when a socket is open or opening
	ErrAlreadyOpen = errors.New("live socket already open")
)

// Handlers receive socket lifecycle callbacks. Callbacks run on the
// manager's connection goroutine and must not call Close.
type Handlers struct {
	OnOpen    func()
	OnMessage func(data []byte)
	OnClose   func(err error)
}

// Transport is the socket contract a Channel drives
type Transport interface {
	SetHandlers(h Handlers)
	Open() error
	Close()
	IsConnected() bool
	Send(data []byte) error
}

// ConnOptions configures a ConnectionManager
type ConnOptions struct {
	// Endpoint is the URL template; the pairing token is appended to it
	Endpoint string
	Token    string

	// Enabled reports whether live tagging is on. Nil means always on.
	Enabled func() bool

	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
	PingInterval time.Duration
	Logger       *slog.Logger
}

// ConnectionManager owns the live websocket
type ConnectionManager struct {
	url          string
	enabled      func() bool
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	pingInterval time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	state    ReadyState
	cancel   context.CancelFunc
	done     chan struct{}
	handlers Handlers

	// Frames are written by one goroutine at a time
	writeMu sync.Mutex
}

// NewConnectionManager creates a manager for endpoint+token
func NewConnectionManager(opts ConnOptions) *ConnectionManager {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	enabled := opts.Enabled
	if enabled == nil {
		enabled = func() bool { return true }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ConnectionManager{
		url:          opts.Endpoint + opts.Token,
		enabled:      enabled,
		dialer:       dialer,
		writeTimeout: writeTimeout,
		pingInterval: pingInterval,
		logger:       logger.With("component", "live.conn"),
	}
}

// URL returns the socket URL
func (m *ConnectionManager) URL() string {
	return m.url
}

// SetHandlers replaces the lifecycle callbacks
func (m *ConnectionManager) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

// Open dials the endpoint in the background. It does nothing (and reports
// why) when live tagging is disabled or a socket is already open or opening.
func (m *ConnectionManager) Open() error {
	if !m.enabled() {
		return ErrLiveDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateClosed {
		return ErrAlreadyOpen
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.state = StateOpening
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	return nil
}

// Close closes the socket, or abandons a dial in progress, and waits for
// the close callback to run. It is a no-op when nothing is open.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	conn := m.conn
	done := m.done
	m.mu.Unlock()

	cancel()
	if conn != nil {
		deadline := time.Now().Add(m.writeTimeout)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			m.logger.Debug("close frame not sent", "error", err)
		}
		conn.Close()
	}

	<-done
}

// IsConnected reports whether the socket exists and is open
func (m *ConnectionManager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil && m.state == StateOpen
}

// ReadyState returns the transport state
func (m *ConnectionManager) ReadyState() ReadyState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send writes one text frame. Writes are serialized.
func (m *ConnectionManager) Send(data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()

	if conn == nil || !open {
		return ErrNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(m.writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write live frame: %w", err)
	}
	return nil
}

// run dials, then reads until the socket goes away
func (m *ConnectionManager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.logger.Debug("dialing", "url", m.url)
	conn, _, err := m.dialer.DialContext(ctx, m.url, nil)
	if err != nil {
		m.logger.Info("live socket dial failed", "url", m.url, "error", err)
		m.finish(nil, err)
		return
	}

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		conn.Close()
		m.finish(nil, ctx.Err())
		return
	}
	m.conn = conn
	m.state = StateOpen
	onOpen := m.handlers.OnOpen
	m.mu.Unlock()

	m.logger.Info("live socket open", "url", m.url)
	if onOpen != nil {
		onOpen()
	}

	stopPing := m.keepalive(conn)
	err = m.readLoop(conn)
	stopPing()

	m.finish(conn, err)
}

// readLoop delivers incoming frames until the socket fails
func (m *ConnectionManager) readLoop(conn *websocket.Conn) error {
	pongWait := 2 * m.pingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.Info("live socket closed unexpectedly", "error", err)
			}
			return err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		m.mu.Lock()
		onMessage := m.handlers.OnMessage
		m.mu.Unlock()
		if onMessage != nil {
			onMessage(data)
		}
	}
}

// keepalive pings the peer until the returned stop func is called
func (m *ConnectionManager) keepalive(conn *websocket.Conn) func() {
	stop := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(m.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(m.writeTimeout)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	return func() {
		close(stop)
		<-stopped
	}
}

// finish resets the manager and reports the close
func (m *ConnectionManager) finish(conn *websocket.Conn, err error) {
	if conn != nil {
		conn.Close()
	}

	m.mu.Lock()
	m.conn = nil
	m.state = StateClosed
	m.cancel = nil
	onClose := m.handlers.OnClose
	m.mu.Unlock()

	m.logger.Debug("live socket closed", "error", err)
	if onClose != nil {
		onClose(err)
	}
}
