package eventbus

import "sync"

// Memory records events in order for tests and for the CLI's summaries.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (p *Memory) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (p *Memory) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Names returns recorded event names, optionally filtered by store.
func (p *Memory) Names(store string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if store == "" || e.Store == store {
			out = append(out, e.Name)
		}
	}
	return out
}

// Reset forgets recorded events.
func (p *Memory) Reset() {
	p.mu.Lock()
	p.events = nil
	p.mu.Unlock()
}
