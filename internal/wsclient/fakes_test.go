package wsclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	data []byte
	err  error
}

type fakeConn struct {
	in   chan frame
	done chan struct{}
	once sync.Once

	mu      sync.Mutex
	written [][]byte
	control [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan frame, 16), done: make(chan struct{})}
}

func (c *fakeConn) push(s string)  { c.in <- frame{data: []byte(s)} }
func (c *fakeConn) fail(err error) { c.in <- frame{err: err} }

func (c *fakeConn) closeAbnormally() {
	c.fail(&websocket.CloseError{Code: websocket.CloseAbnormalClosure, Text: "gone"})
}

func (c *fakeConn) closeNormally() {
	c.fail(&websocket.CloseError{Code: websocket.CloseNormalClosure, Text: "bye"})
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		if f.err != nil {
			return 0, nil, f.err
		}
		return websocket.TextMessage, f.data, nil
	case <-c.done:
		return 0, nil, errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(_ int, data []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.control = append(c.control, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.written))
	for i, w := range c.written {
		out[i] = string(w)
	}
	return out
}

// fakeDialer hands out queued connections; an empty queue refuses.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
}

var errRefused = errors.New("connection refused")

func (d *fakeDialer) queue(c *fakeConn) {
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.conns) == 0 {
		return nil, errRefused
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dials() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

// fakeScheduler records delays; tests fire timers by index. Timers armed
// with the heartbeat interval are kept apart so reconnect indexes stay
// stable.
type fakeScheduler struct {
	heartbeat time.Duration

	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	timers []*fakeTimer

	beatFuncs  []func()
	beatTimers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	if s.heartbeat != 0 && d == s.heartbeat {
		s.beatFuncs = append(s.beatFuncs, f)
		s.beatTimers = append(s.beatTimers, t)
		return t
	}
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

// fire runs timer i unless it was stopped, like time.AfterFunc would.
func (s *fakeScheduler) fire(i int) {
	s.mu.Lock()
	f, t := s.funcs[i], s.timers[i]
	s.mu.Unlock()
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if !stopped {
		f()
	}
}

func (s *fakeScheduler) stopped(i int) bool {
	s.mu.Lock()
	t := s.timers[i]
	s.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (s *fakeScheduler) beats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.beatTimers)
}

// fireBeat runs heartbeat timer i unless it was stopped.
func (s *fakeScheduler) fireBeat(i int) {
	s.mu.Lock()
	f, t := s.beatFuncs[i], s.beatTimers[i]
	s.mu.Unlock()
	t.mu.Lock()
	stopped := t.stopped
	t.mu.Unlock()
	if !stopped {
		f()
	}
}

func (s *fakeScheduler) beatStopped(i int) bool {
	s.mu.Lock()
	t := s.beatTimers[i]
	s.mu.Unlock()
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}
