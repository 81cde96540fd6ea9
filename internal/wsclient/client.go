// Package wsclient maintains the duplex connection to the segmentation
// backend: connect and resume, heartbeat, reconnect with exponential
// backoff, typed inbound dispatch and a guarded send.
//
// Files:
//   - client.go: connection lifecycle and the reconnect policy
//   - messages.go: typed envelopes, Encode and Decode
//   - transport.go: Dialer/Conn/Scheduler seams and the gorilla defaults
//   - subscribers.go: subscriber lists with unsubscribe funcs
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"segclient/internal/metrics"
)

var (
	// ErrNotConnected is returned by Send when the transport is not open.
	ErrNotConnected = errors.New("wsclient: not connected")
	// ErrReconnectExhausted is published to error subscribers when the
	// reconnect attempt cap is reached.
	ErrReconnectExhausted = errors.New("wsclient: reconnect attempts exhausted")
	// ErrClosed is returned by Connect when Disconnect ran while dialing.
	ErrClosed = errors.New("wsclient: closed during connect")
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateErrored:
		return "errored"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// CloseEvent describes a finished connection.
type CloseEvent struct {
	Code   int
	Reason string
	// Manual is true for Disconnect and clean server closes; no reconnect
	// follows them.
	Manual bool
}

const (
	defaultReconnectBase = time.Second
	defaultMaxAttempts   = 5
	defaultHeartbeat     = 30 * time.Second
	defaultDialTimeout   = 10 * time.Second
	writeWait            = 10 * time.Second

	manualCloseReason = "Manual disconnect"
	wsPath            = "/api/v1/ws"
)

// Config configures a Client. Zero values take the defaults above.
type Config struct {
	// BaseURL is the ws:// or wss:// origin of the backend.
	BaseURL       string
	ReconnectBase time.Duration
	// MaxReconnectAttempts caps backoff reconnects. Negative disables
	// transport-level reconnects entirely.
	MaxReconnectAttempts int
	Heartbeat            time.Duration
	DialTimeout          time.Duration

	Dialer    Dialer
	Scheduler Scheduler
	Logger    *zerolog.Logger
	Now       func() time.Time
}

// Client owns one logical duplex connection.
type Client struct {
	cfg Config
	log zerolog.Logger

	mu       sync.Mutex
	state    State
	conn     Conn
	gen      uint64
	connID   string
	attempts int
	manual   bool
	retry    Timer
	retrySeq uint64
	beat     Timer

	writeMu sync.Mutex

	onMessage subscribers[Message]
	onOpen    subscribers[struct{}]
	onClose   subscribers[CloseEvent]
	onError   subscribers[error]
}

// New returns a disconnected client.
func New(cfg Config) *Client {
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxAttempts
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Dialer == nil {
		cfg.Dialer = NewGorillaDialer(nil)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = RealScheduler{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &Client{cfg: cfg, log: log.With().Str("component", "wsclient").Logger()}
}

// Endpoint returns the URL dialed for resumeID ("" for a new connection).
func (c *Client) Endpoint(resumeID string) string {
	u := strings.TrimRight(c.cfg.BaseURL, "/") + wsPath
	if resumeID != "" {
		u += "/" + url.PathEscape(resumeID)
	}
	return u
}

// Connect dials the backend, resuming resumeID when non-empty. It returns
// once the transport is open. A failed dial is treated like an abnormal
// close, so a reconnect is scheduled and the caller need not retry.
//
// The attempt counter only restarts after the client gave up or was
// disconnected; a Connect during a reconnect cycle counts against the cap.
func (c *Client) Connect(ctx context.Context, resumeID string) error {
	c.mu.Lock()
	if c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateErrored {
		c.attempts = 0
	}
	c.mu.Unlock()
	return c.connect(ctx, resumeID)
}

func (c *Client) connect(ctx context.Context, resumeID string) error {
	c.mu.Lock()
	c.stopRetryLocked()
	c.manual = false
	if resumeID != "" {
		c.connID = resumeID
	}
	c.gen++
	gen := c.gen
	c.state = StateConnecting
	endpoint := c.Endpoint(c.connID)
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	conn, err := c.cfg.Dialer.Dial(dctx, endpoint)
	cancel()
	metrics.ConnectAttempt(err == nil)
	if err != nil {
		c.log.Warn().Err(err).Str("url", endpoint).Msg("connect failed")
		c.mu.Lock()
		stale := gen != c.gen || c.manual
		if !stale {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		if !stale {
			c.onError.emit(err)
			c.onClose.emit(CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()})
			c.scheduleReconnect()
		}
		return fmt.Errorf("wsclient: connect: %w", err)
	}

	c.mu.Lock()
	if gen != c.gen || c.manual {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	c.armHeartbeatLocked(gen)
	c.mu.Unlock()

	metrics.SetConnected(true)
	c.log.Info().Str("url", endpoint).Msg("connected")
	go c.readLoop(conn, gen)
	c.onOpen.emit(struct{}{})
	return nil
}

// Disconnect closes the connection cleanly, cancels any pending reconnect and
// forgets the resume id.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manual = true
	c.stopRetryLocked()
	c.attempts = 0
	c.connID = ""
	conn := c.conn
	wasOpen := conn != nil
	if wasOpen {
		c.state = StateClosing
		c.stopHeartbeatLocked()
		c.conn = nil
		c.gen++
	}
	c.mu.Unlock()

	if wasOpen {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, manualCloseReason)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
		metrics.SetConnected(false)
	}

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	if wasOpen {
		c.onClose.emit(CloseEvent{Code: websocket.CloseNormalClosure, Reason: manualCloseReason, Manual: true})
	}
}

// Send writes m when connected. Otherwise m is dropped and ErrNotConnected
// returned; nothing is queued.
func (c *Client) Send(m Message) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !open {
		metrics.DroppedSend(m.Type())
		c.log.Warn().Str("type", m.Type()).Msg("not connected, message dropped")
		return ErrNotConnected
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	err = conn.WriteMessage(websocket.TextMessage, data)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("wsclient: send %s: %w", m.Type(), err)
	}
	metrics.MessageOut(m.Type())
	return nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is open.
func (c *Client) IsConnected() bool { return c.State() == StateConnected }

// ConnectionID returns the resume id assigned by the server, if any.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// ReconnectPending reports whether a backoff timer is armed.
func (c *Client) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry != nil
}

// Exhausted reports whether reconnection gave up.
func (c *Client) Exhausted() bool { return c.State() == StateErrored }

// Attempts returns the reconnect attempts scheduled since the last open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

func (c *Client) OnMessage(fn func(Message)) func()  { return c.onMessage.add(fn) }
func (c *Client) OnOpen(fn func()) func()            { return c.onOpen.add(func(struct{}) { fn() }) }
func (c *Client) OnClose(fn func(CloseEvent)) func() { return c.onClose.add(fn) }
func (c *Client) OnError(fn func(error)) func()      { return c.onError.add(fn) }

// backoff returns the delay for the given 1-based attempt.
func (c *Client) backoff(attempt int) time.Duration {
	return c.cfg.ReconnectBase * time.Duration(1<<uint(attempt-1))
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manual {
		c.mu.Unlock()
		return
	}
	if c.cfg.MaxReconnectAttempts < 0 {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = StateErrored
		attempts := c.attempts
		c.mu.Unlock()
		c.log.Error().Int("attempts", attempts).Msg("giving up on reconnect")
		c.onError.emit(ErrReconnectExhausted)
		return
	}
	c.attempts++
	attempt := c.attempts
	delay := c.backoff(attempt)
	c.retrySeq++
	seq := c.retrySeq
	c.retry = c.cfg.Scheduler.AfterFunc(delay, func() { c.fireRetry(seq) })
	c.mu.Unlock()

	metrics.ReconnectScheduled()
	c.log.Info().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
}

func (c *Client) fireRetry(seq uint64) {
	c.mu.Lock()
	if c.manual || c.retry == nil || c.retrySeq != seq {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	resume := c.connID
	c.mu.Unlock()
	_ = c.connect(context.Background(), resume)
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.beat != nil {
		c.beat.Stop()
		c.beat = nil
	}
}

func (c *Client) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, gen, err)
			return
		}
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	m, err := Decode(data)
	if err != nil {
		metrics.ParseError()
		c.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed message")
		return
	}
	metrics.MessageIn(m.Type())
	switch v := m.(type) {
	case Ping:
		ts := v.Timestamp
		if ts == 0 {
			ts = c.cfg.Now().UnixMilli()
		}
		if err := c.Send(Pong{Timestamp: ts}); err != nil {
			c.log.Debug().Err(err).Msg("pong not sent")
		}
		return
	case ConnectionEstablished:
		c.mu.Lock()
		c.connID = v.ConnectionID
		c.mu.Unlock()
		c.log.Debug().Str("connection_id", v.ConnectionID).Msg("connection established")
	}
	c.onMessage.emit(m)
}

func (c *Client) handleClose(conn Conn, gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	c.conn = nil
	c.state = StateDisconnected
	manual := c.manual
	c.mu.Unlock()
	_ = conn.Close()
	metrics.SetConnected(false)

	ev := CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: err.Error()}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		ev.Code, ev.Reason = ce.Code, ce.Text
	} else {
		c.onError.emit(err)
	}
	ev.Manual = manual || ev.Code == websocket.CloseNormalClosure
	c.log.Info().Int("code", ev.Code).Str("reason", ev.Reason).Bool("manual", ev.Manual).Msg("connection closed")
	c.onClose.emit(ev)
	if !ev.Manual {
		c.scheduleReconnect()
	}
}

// armHeartbeatLocked schedules the next ping for connection gen.
func (c *Client) armHeartbeatLocked(gen uint64) {
	c.beat = c.cfg.Scheduler.AfterFunc(c.cfg.Heartbeat, func() { c.heartbeat(gen) })
}

func (c *Client) heartbeat(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateConnected || c.beat == nil {
		c.mu.Unlock()
		return
	}
	c.armHeartbeatLocked(gen)
	c.mu.Unlock()
	if err := c.Send(Ping{Timestamp: c.cfg.Now().UnixMilli()}); err != nil {
		c.log.Debug().Err(err).Msg("heartbeat not sent")
	}
}
