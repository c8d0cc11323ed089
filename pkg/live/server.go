package live

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPath is the route prefix the Receiver serves. Devices connect to
// DefaultPath + token.
const DefaultPath = "/live/"

// ReceiverOptions configures a Receiver
type ReceiverOptions struct {
	// Path is the route prefix; the remainder of the URL path is the token
	Path string

	// AutoAccept pairs with a device as soon as its beacon arrives
	AutoAccept bool

	// OnMessage is called for every frame a device sends
	OnMessage func(s *Session, msg Message, raw []byte)

	// OnSession is called when a device connects or reconnects
	OnSession func(s *Session)

	Logger *slog.Logger
}

// Receiver is the debugger end of the live socket. It accepts device
// connections and records the frames they send.
type Receiver struct {
	upgrader   websocket.Upgrader
	path       string
	autoAccept bool
	onMessage  func(s *Session, msg Message, raw []byte)
	onSession  func(s *Session)
	logger     *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	notify   chan struct{}
}

// Session is one paired-or-pairing device connection
type Session struct {
	ID string

	mu        sync.RWMutex
	conn      *websocket.Conn
	sendChan  chan []byte
	closeChan chan struct{}
	messages  [][]byte
	paired    bool
	logger    *slog.Logger
}

// NewReceiver creates a new live receiver
func NewReceiver(opts ReceiverOptions) *Receiver {
	path := opts.Path
	if path == "" {
		path = DefaultPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Receiver{
		upgrader: websocket.Upgrader{
			// Devices are not browsers; there is no origin to check
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		path:       path,
		autoAccept: opts.AutoAccept,
		onMessage:  opts.OnMessage,
		onSession:  opts.OnSession,
		logger:     logger.With("component", "live.receiver"),
		sessions:   make(map[string]*Session),
		notify:     make(chan struct{}, 1),
	}
}

// ServeHTTP upgrades a device connection
func (r *Receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !strings.HasPrefix(req.URL.Path, r.path) {
		http.NotFound(w, req)
		return
	}
	token := strings.TrimPrefix(req.URL.Path, r.path)
	if token == "" {
		http.Error(w, "Pairing token required", http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	session := r.getOrCreateSession(token, conn)
	if r.onSession != nil {
		r.onSession(session)
	}
	go r.handleConnection(session, conn)
}

// getOrCreateSession attaches conn to the session for token
func (r *Receiver) getOrCreateSession(token string, conn *websocket.Conn) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.sessions[token]; exists {
		session.mu.Lock()
		if session.conn != nil {
			session.conn.Close()
		}
		session.conn = conn
		session.sendChan = make(chan []byte, 256)
		session.closeChan = make(chan struct{})
		session.paired = false
		session.mu.Unlock()
		return session
	}

	session := &Session{
		ID:        token,
		conn:      conn,
		sendChan:  make(chan []byte, 256),
		closeChan: make(chan struct{}),
		logger:    r.logger.With("session", token),
	}
	r.sessions[token] = session
	return session
}

// Session retrieves a session by token
func (r *Receiver) Session(token string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, exists := r.sessions[token]
	return session, exists
}

// Sessions returns every known session
func (r *Receiver) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Updated receives a value whenever any session records a frame.
// Signals coalesce.
func (r *Receiver) Updated() <-chan struct{} {
	return r.notify
}

// WaitMessages blocks until the session for token has recorded at least n
// frames, or ctx is done.
func (r *Receiver) WaitMessages(ctx context.Context, token string, n int) ([][]byte, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s, ok := r.Session(token); ok {
			if msgs := s.Messages(); len(msgs) >= n {
				return msgs, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-r.notify:
		case <-ticker.C:
		}
	}
}

// handleConnection reads frames from a device until it disconnects
func (r *Receiver) handleConnection(s *Session, conn *websocket.Conn) {
	s.mu.RLock()
	sendChan, closeChan := s.sendChan, s.closeChan
	s.mu.RUnlock()

	var closeOnce sync.Once
	cleanup := func() {
		closeOnce.Do(func() {
			conn.Close()
			close(closeChan)
		})
	}
	defer cleanup()

	go s.writer(conn, sendChan, closeChan)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Info("unexpected close", "error", err)
			}
			return
		}

		s.mu.Lock()
		s.messages = append(s.messages, data)
		s.mu.Unlock()

		select {
		case r.notify <- struct{}{}:
		default:
		}

		msg, err := Decode(data)
		if err != nil {
			s.logger.Debug("undecodable frame", "error", err)
			continue
		}

		if msg.Event == EventAskingForLive && r.autoAccept && !s.Paired() {
			s.Accept()
		}

		if r.onMessage != nil {
			r.onMessage(s, msg, data)
		}
	}
}

// writer handles writing frames to the device
func (s *Session) writer(conn *websocket.Conn, sendChan chan []byte, closeChan chan struct{}) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case message := <-sendChan:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				s.logger.Debug("failed to write frame", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-closeChan:
			return
		}
	}
}

// Send queues a frame for the device. It returns false if the buffer is full.
func (s *Session) Send(data []byte) bool {
	s.mu.RLock()
	sendChan := s.sendChan
	s.mu.RUnlock()

	select {
	case sendChan <- data:
		return true
	default:
		s.logger.Warn("send buffer full, dropping frame")
		return false
	}
}

// Accept pairs with the device
func (s *Session) Accept() {
	s.mu.Lock()
	s.paired = true
	s.mu.Unlock()
	s.Send(EncodeControl(EventAcceptedLive))
}

// Stop ends pairing but keeps the socket open
func (s *Session) Stop() {
	s.mu.Lock()
	s.paired = false
	s.mu.Unlock()
	s.Send(EncodeControl(EventStoppedLive))
}

// Refuse declines to pair
func (s *Session) Refuse() {
	s.Send(EncodeControl(EventRefusedLive))
}

// Disconnect closes the device socket
func (s *Session) Disconnect() {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// Paired reports whether the session accepted the device
func (s *Session) Paired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paired
}

// Messages returns the frames recorded so far, in arrival order
func (s *Session) Messages() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, len(s.messages))
	copy(out, s.messages)
	return out
}

// Events returns the event tags of the recorded frames
func (s *Session) Events() []string {
	msgs := s.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = EventName(m)
	}
	return out
}
