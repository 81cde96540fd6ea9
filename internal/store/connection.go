package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"segclient/internal/wsclient"
)

// MaxMessageLog bounds the inbound message log.
const MaxMessageLog = 100

// Conn is the duplex client the connection store drives. *wsclient.Client
// satisfies it.
type Conn interface {
	Connect(ctx context.Context, resumeID string) error
	Disconnect()
	Send(m wsclient.Message) error
	IsConnected() bool
	State() wsclient.State
	ConnectionID() string
	ReconnectPending() bool
	Exhausted() bool
	OnMessage(fn func(wsclient.Message)) func()
	OnOpen(fn func()) func()
	OnClose(fn func(wsclient.CloseEvent)) func()
	OnError(fn func(error)) func()
}

// ConnectionState is a value copy of the connection store. Messages are
// kept as typed values and are not serialized.
type ConnectionState struct {
	IsConnected     bool               `json:"is_connected"`
	ConnectionID    string             `json:"connection_id,omitempty"`
	LastMessageType string             `json:"last_message_type,omitempty"`
	Error           string             `json:"error,omitempty"`
	LastMessage     wsclient.Message   `json:"-"`
	MessageLog      []wsclient.Message `json:"-"`
}

// ConnectionStore mirrors the duplex client into observable state and adds
// a slower retry on top of the client's own backoff. The retry only fires
// when the client is idle: no reconnect pending, no dial in flight and not
// given up.
type ConnectionStore struct {
	base
	conn       Conn
	retryDelay time.Duration

	mu       sync.Mutex
	st       ConnectionState
	lastID   string
	attached bool
	unsub    []func()
	retry    wsclient.Timer
	retryGen uint64
}

// NewConnectionStore wraps conn. A zero retryDelay disables the store-level
// retry.
func NewConnectionStore(conn Conn, retryDelay time.Duration, o Options) *ConnectionStore {
	s := &ConnectionStore{conn: conn, retryDelay: retryDelay}
	s.init("connection", "", o)
	return s
}

func (s *ConnectionStore) attach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return
	}
	s.attached = true
	s.unsub = append(s.unsub,
		s.conn.OnOpen(s.handleOpen),
		s.conn.OnClose(s.handleClose),
		s.conn.OnError(s.handleError),
		s.conn.OnMessage(s.handleMessage),
	)
}

// Ensure attaches to the client and connects when neither connected nor in
// an error state. Repeated calls are cheap.
func (s *ConnectionStore) Ensure(ctx context.Context) error {
	s.attach()
	s.mu.Lock()
	skip := s.st.Error != ""
	s.mu.Unlock()
	if skip || s.conn.IsConnected() {
		return nil
	}
	return s.conn.Connect(ctx, "")
}

func (s *ConnectionStore) handleOpen() {
	s.mu.Lock()
	s.st.IsConnected = true
	s.st.Error = ""
	s.stopRetryLocked()
	if id := s.conn.ConnectionID(); id != "" {
		s.st.ConnectionID = id
		s.lastID = id
	}
	s.mu.Unlock()
	s.log.Info().Msg("connected")
	s.emit("connected", nil)
}

func (s *ConnectionStore) handleClose(ev wsclient.CloseEvent) {
	s.mu.Lock()
	s.st.IsConnected = false
	s.mu.Unlock()
	s.emit("disconnected", map[string]any{"code": ev.Code, "reason": ev.Reason, "manual": ev.Manual})
}

func (s *ConnectionStore) handleError(err error) {
	s.mu.Lock()
	s.st.Error = err.Error()
	s.scheduleRetryLocked()
	s.mu.Unlock()
	s.log.Warn().Err(err).Msg("connection error")
	s.emit("error", map[string]any{"error": err.Error(), "exhausted": errors.Is(err, wsclient.ErrReconnectExhausted)})
}

func (s *ConnectionStore) handleMessage(m wsclient.Message) {
	s.mu.Lock()
	s.st.LastMessage = m
	s.st.LastMessageType = m.Type()
	s.st.MessageLog = append(s.st.MessageLog, m)
	if n := len(s.st.MessageLog); n > MaxMessageLog {
		s.st.MessageLog = append([]wsclient.Message(nil), s.st.MessageLog[n-MaxMessageLog:]...)
	}
	if ce, ok := m.(wsclient.ConnectionEstablished); ok && ce.ConnectionID != "" {
		s.st.ConnectionID = ce.ConnectionID
		s.lastID = ce.ConnectionID
	}
	s.mu.Unlock()
	s.emit("message", map[string]any{"type": m.Type()})
}

func (s *ConnectionStore) scheduleRetryLocked() {
	if s.retryDelay <= 0 || s.st.IsConnected || s.retry != nil {
		return
	}
	s.retryGen++
	gen := s.retryGen
	s.retry = s.sched.AfterFunc(s.retryDelay, func() { s.fireRetry(gen) })
}

func (s *ConnectionStore) stopRetryLocked() {
	if s.retry != nil {
		s.retry.Stop()
		s.retry = nil
	}
	s.retryGen++
}

func (s *ConnectionStore) fireRetry(gen uint64) {
	s.mu.Lock()
	if gen != s.retryGen {
		s.mu.Unlock()
		return
	}
	s.retry = nil
	if s.conn.IsConnected() || s.conn.State() == wsclient.StateConnecting || s.conn.ReconnectPending() || s.conn.Exhausted() {
		s.mu.Unlock()
		s.log.Debug().Msg("store retry skipped, transport owns reconnection")
		return
	}
	s.st.Error = ""
	id := s.lastID
	s.mu.Unlock()
	s.log.Info().Str("connection_id", id).Msg("store retry")
	s.emit("retry", map[string]any{"connection_id": id})
	_ = s.conn.Connect(context.Background(), id)
}

// Send forwards m when connected. Offline it records the error and returns
// ErrNotConnected without queueing.
func (s *ConnectionStore) Send(m wsclient.Message) error {
	if !s.conn.IsConnected() {
		s.mu.Lock()
		s.st.Error = "not connected"
		s.mu.Unlock()
		s.log.Warn().Str("type", m.Type()).Msg("send while disconnected")
		return ErrNotConnected
	}
	if err := s.conn.Send(m); err != nil {
		s.mu.Lock()
		s.st.Error = err.Error()
		s.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the connection and resets the connection state. Any
// store retry is cancelled.
func (s *ConnectionStore) Disconnect() {
	s.mu.Lock()
	s.stopRetryLocked()
	s.mu.Unlock()
	s.conn.Disconnect()
	s.mu.Lock()
	s.st.IsConnected = false
	s.st.ConnectionID = ""
	s.st.Error = ""
	s.lastID = ""
	s.mu.Unlock()
	s.emit("disconnected", map[string]any{"manual": true})
}

func (s *ConnectionStore) ClearError() {
	s.mu.Lock()
	s.st.Error = ""
	s.mu.Unlock()
}

// ClearHistory empties the message log.
func (s *ConnectionStore) ClearHistory() {
	s.mu.Lock()
	s.st.MessageLog = nil
	s.mu.Unlock()
}

// OnMessage subscribes fn to inbound messages.
func (s *ConnectionStore) OnMessage(fn func(wsclient.Message)) func() {
	return s.conn.OnMessage(fn)
}

func (s *ConnectionStore) IsConnected() bool { return s.conn.IsConnected() }

// State returns a copy of the connection state.
func (s *ConnectionStore) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.st
	st.MessageLog = append([]wsclient.Message(nil), s.st.MessageLog...)
	return st
}

// Close detaches from the client and cancels the store retry. The
// connection itself is left alone.
func (s *ConnectionStore) Close() {
	s.mu.Lock()
	s.stopRetryLocked()
	unsub := s.unsub
	s.unsub = nil
	s.attached = false
	s.mu.Unlock()
	for _, u := range unsub {
		u()
	}
}
