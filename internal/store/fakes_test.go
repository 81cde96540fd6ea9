package store

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"segclient/internal/eventbus"
	"segclient/internal/persist"
	"segclient/internal/wsclient"
	"segclient/pkg/types"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

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

// fakeScheduler records timers; tests fire them by index.
type fakeScheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	funcs  []func()
	timers []*fakeTimer
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) wsclient.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{}
	s.delays = append(s.delays, d)
	s.funcs = append(s.funcs, f)
	s.timers = append(s.timers, t)
	return t
}

func (s *fakeScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.funcs)
}

func (s *fakeScheduler) delay(i int) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delays[i]
}

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

type fixture struct {
	backend *persist.Memory
	events  *eventbus.Memory
	sched   *fakeScheduler
	now     time.Time
}

func newFixture() *fixture {
	return &fixture{
		backend: persist.NewMemory(),
		events:  eventbus.NewMemory(),
		sched:   &fakeScheduler{},
		now:     time.Date(2025, 9, 21, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) options() Options {
	return Options{
		Persist:   f.backend,
		Events:    f.events,
		Scheduler: f.sched,
		Now:       func() time.Time { return f.now },
	}
}

// fakeUploader returns queued responses in order and records calls.
type fakeUploader struct {
	mu    sync.Mutex
	calls int
	resp  []*types.ImageUploadResponse
	err   error
	// gate, when set, blocks each call until a value arrives.
	gate chan struct{}
}

func (u *fakeUploader) UploadImage(ctx context.Context, filename, _ string, r io.Reader, progress func(int)) (*types.ImageUploadResponse, error) {
	u.mu.Lock()
	u.calls++
	n := u.calls
	gate := u.gate
	u.mu.Unlock()
	if gate != nil {
		<-gate
	}
	_, _ = io.Copy(io.Discard, r)
	if progress != nil {
		progress(0)
		progress(50)
	}
	if u.err != nil {
		return nil, u.err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if n-1 < len(u.resp) {
		if progress != nil {
			progress(100)
		}
		return u.resp[n-1], nil
	}
	return nil, errors.New("no response queued")
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func uploaded(id, name string) *types.ImageUploadResponse {
	return &types.ImageUploadResponse{Success: true, Image: &types.ImageInfo{ID: id, OriginalFilename: name}}
}

// fakeSegAPI answers ListAlgorithms and Segment.
type fakeSegAPI struct {
	mu       sync.Mutex
	algos    []types.AlgorithmInfo
	listErr  error
	segCalls int
	requests []types.SegmentationRequest
	segment  func(n int, req types.SegmentationRequest) (*types.SegmentationResponse, error)
}

func (a *fakeSegAPI) ListAlgorithms(context.Context) ([]types.AlgorithmInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.algos, a.listErr
}

func (a *fakeSegAPI) Segment(_ context.Context, req types.SegmentationRequest) (*types.SegmentationResponse, error) {
	a.mu.Lock()
	a.segCalls++
	n := a.segCalls
	a.requests = append(a.requests, req)
	fn := a.segment
	a.mu.Unlock()
	return fn(n, req)
}

func (a *fakeSegAPI) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.segCalls
}

// fakeConn is a scripted duplex client.
type fakeConn struct {
	mu         sync.Mutex
	connected  bool
	id         string
	pending    bool
	connecting bool
	exhausted  bool
	connectErr error
	connects   []string
	sent       []wsclient.Message
	msgSubs    []func(wsclient.Message)
	openSubs   []func()
	closeSubs  []func(wsclient.CloseEvent)
	errSubs    []func(error)
	unsubCalls int
}

func (c *fakeConn) Connect(_ context.Context, resumeID string) error {
	c.mu.Lock()
	c.connects = append(c.connects, resumeID)
	err := c.connectErr
	if err == nil {
		c.connected = true
		if resumeID != "" {
			c.id = resumeID
		}
	}
	c.mu.Unlock()
	if err != nil {
		c.emitError(err)
		return err
	}
	c.emitOpen()
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	was := c.connected
	c.connected = false
	c.id = ""
	c.mu.Unlock()
	if was {
		c.emitClose(wsclient.CloseEvent{Code: 1000, Manual: true})
	}
}

func (c *fakeConn) Send(m wsclient.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return wsclient.ErrNotConnected
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) State() wsclient.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.connected:
		return wsclient.StateConnected
	case c.connecting:
		return wsclient.StateConnecting
	case c.exhausted:
		return wsclient.StateErrored
	}
	return wsclient.StateDisconnected
}

func (c *fakeConn) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *fakeConn) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *fakeConn) Exhausted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exhausted
}

func (c *fakeConn) unsub() func() {
	return func() {
		c.mu.Lock()
		c.unsubCalls++
		c.mu.Unlock()
	}
}

func (c *fakeConn) OnMessage(fn func(wsclient.Message)) func() {
	c.mu.Lock()
	c.msgSubs = append(c.msgSubs, fn)
	c.mu.Unlock()
	return c.unsub()
}

func (c *fakeConn) OnOpen(fn func()) func() {
	c.mu.Lock()
	c.openSubs = append(c.openSubs, fn)
	c.mu.Unlock()
	return c.unsub()
}

func (c *fakeConn) OnClose(fn func(wsclient.CloseEvent)) func() {
	c.mu.Lock()
	c.closeSubs = append(c.closeSubs, fn)
	c.mu.Unlock()
	return c.unsub()
}

func (c *fakeConn) OnError(fn func(error)) func() {
	c.mu.Lock()
	c.errSubs = append(c.errSubs, fn)
	c.mu.Unlock()
	return c.unsub()
}

func (c *fakeConn) emitOpen() {
	c.mu.Lock()
	subs := append([]func(){}, c.openSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		f()
	}
}

func (c *fakeConn) emitClose(ev wsclient.CloseEvent) {
	c.mu.Lock()
	subs := append([]func(wsclient.CloseEvent){}, c.closeSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		f(ev)
	}
}

func (c *fakeConn) emitError(err error) {
	c.mu.Lock()
	subs := append([]func(error){}, c.errSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		f(err)
	}
}

func (c *fakeConn) deliver(m wsclient.Message) {
	c.mu.Lock()
	subs := append([]func(wsclient.Message){}, c.msgSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		f(m)
	}
}

// drop simulates an abnormal close.
func (c *fakeConn) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.emitClose(wsclient.CloseEvent{Code: 1006})
}

func (c *fakeConn) connectCalls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.connects...)
}

func (c *fakeConn) set(fn func(c *fakeConn)) {
	c.mu.Lock()
	fn(c)
	c.mu.Unlock()
}
