package workspace

import (
	"sync"
	"time"

	"segclient/internal/wsclient"
)

// debouncer runs the last function submitted for a key once the key has
// been quiet for the window.
type debouncer struct {
	window time.Duration
	sched  wsclient.Scheduler

	mu      sync.Mutex
	pending map[string]*pendingCall
}

type pendingCall struct {
	timer wsclient.Timer
	fn    func()
}

func newDebouncer(window time.Duration, sched wsclient.Scheduler) *debouncer {
	return &debouncer{window: window, sched: sched, pending: make(map[string]*pendingCall)}
}

// Do schedules fn for key, replacing and cancelling any earlier call.
func (d *debouncer) Do(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.pending[key]; ok {
		p.timer.Stop()
	}
	p := &pendingCall{fn: fn}
	p.timer = d.sched.AfterFunc(d.window, func() { d.fire(key, p) })
	d.pending[key] = p
}

func (d *debouncer) fire(key string, p *pendingCall) {
	d.mu.Lock()
	if d.pending[key] != p {
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()
	p.fn()
}

// Flush runs every pending call now.
func (d *debouncer) Flush() {
	d.mu.Lock()
	calls := make([]func(), 0, len(d.pending))
	for key, p := range d.pending {
		p.timer.Stop()
		calls = append(calls, p.fn)
		delete(d.pending, key)
	}
	d.mu.Unlock()
	for _, fn := range calls {
		fn()
	}
}

// Pending returns the number of calls waiting.
func (d *debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
