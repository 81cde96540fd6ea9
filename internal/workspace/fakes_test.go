package workspace

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"segclient/internal/wsclient"
	"segclient/pkg/types"
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

// fireAll runs every timer armed with delay d that has not been stopped.
func (s *fakeScheduler) fireAll(d time.Duration) {
	s.mu.Lock()
	var run []func()
	for i, f := range s.funcs {
		t := s.timers[i]
		t.mu.Lock()
		live := !t.stopped && s.delays[i] == d
		if live {
			t.stopped = true
		}
		t.mu.Unlock()
		if live {
			run = append(run, f)
		}
	}
	s.mu.Unlock()
	for _, f := range run {
		f()
	}
}

type fakeAPI struct {
	mu       sync.Mutex
	uploads  int
	requests []types.SegmentationRequest
	segErr   error
}

func (a *fakeAPI) UploadImage(_ context.Context, filename, contentType string, r io.Reader, progress func(int)) (*types.ImageUploadResponse, error) {
	b, _ := io.ReadAll(r)
	a.mu.Lock()
	a.uploads++
	n := a.uploads
	a.mu.Unlock()
	if progress != nil {
		progress(100)
	}
	return &types.ImageUploadResponse{Success: true, Image: &types.ImageInfo{
		ID:               fmt.Sprintf("img-%d", n),
		OriginalFilename: filename,
		ContentType:      contentType,
		Size:             int64(len(b)),
	}}, nil
}

func (a *fakeAPI) ListAlgorithms(context.Context) ([]types.AlgorithmInfo, error) {
	return nil, fmt.Errorf("offline")
}

func (a *fakeAPI) Segment(_ context.Context, req types.SegmentationRequest) (*types.SegmentationResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	if a.segErr != nil {
		return nil, a.segErr
	}
	resp := &types.SegmentationResponse{RequestID: fmt.Sprintf("req-%d", len(a.requests)), ViewMode: req.ViewMode}
	for _, alg := range req.Algorithms {
		resp.Results = append(resp.Results, types.SegmentationResult{
			AlgorithmName:  alg.Name,
			ParametersUsed: alg.Parameters,
			SegmentsCount:  10,
			CreatedAt:      fmt.Sprintf("t%d", len(a.requests)),
		})
	}
	return resp, nil
}

func (a *fakeAPI) segmentRequests() []types.SegmentationRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.SegmentationRequest(nil), a.requests...)
}

// fakeConn connects on demand and records sends.
type fakeConn struct {
	mu       sync.Mutex
	up       bool
	fail     bool
	sent     []wsclient.Message
	msgSubs  []func(wsclient.Message)
	openSubs []func()
}

func (c *fakeConn) Connect(context.Context, string) error {
	c.mu.Lock()
	if c.fail {
		c.mu.Unlock()
		return fmt.Errorf("refused")
	}
	c.up = true
	subs := append([]func(){}, c.openSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		f()
	}
	return nil
}

func (c *fakeConn) Disconnect() {
	c.mu.Lock()
	c.up = false
	c.mu.Unlock()
}

func (c *fakeConn) Send(m wsclient.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.up {
		return wsclient.ErrNotConnected
	}
	c.sent = append(c.sent, m)
	return nil
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *fakeConn) State() wsclient.State {
	if c.IsConnected() {
		return wsclient.StateConnected
	}
	return wsclient.StateDisconnected
}

func (c *fakeConn) ConnectionID() string   { return "" }
func (c *fakeConn) ReconnectPending() bool { return false }
func (c *fakeConn) Exhausted() bool        { return false }

func (c *fakeConn) OnMessage(fn func(wsclient.Message)) func() {
	c.mu.Lock()
	i := len(c.msgSubs)
	c.msgSubs = append(c.msgSubs, fn)
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.msgSubs[i] = nil
		c.mu.Unlock()
	}
}

func (c *fakeConn) OnOpen(fn func()) func() {
	c.mu.Lock()
	c.openSubs = append(c.openSubs, fn)
	c.mu.Unlock()
	return func() {}
}

func (c *fakeConn) OnClose(func(wsclient.CloseEvent)) func() { return func() {} }
func (c *fakeConn) OnError(func(error)) func()                { return func() {} }

func (c *fakeConn) deliver(m wsclient.Message) {
	c.mu.Lock()
	subs := append([]func(wsclient.Message){}, c.msgSubs...)
	c.mu.Unlock()
	for _, f := range subs {
		if f != nil {
			f(m)
		}
	}
}

func (c *fakeConn) sentMessages() []wsclient.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wsclient.Message(nil), c.sent...)
}
