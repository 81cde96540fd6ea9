// Package eventbus carries store change notifications to observers.
package eventbus

import "time"

// Event is a store change notification: the store that changed, what
// happened, and optional details.
type Event struct {
	Name   string         `json:"name"`
	Store  string         `json:"store"`
	Fields map[string]any `json:"fields,omitempty"`
	At     time.Time      `json:"at"`
}

// Publisher receives events from the stores. Implementations should be
// lightweight; Publish must not panic and must not call back into the
// publishing store synchronously.
type Publisher interface {
	Publish(Event)
}

// Nop drops events.
type Nop struct{}

func (Nop) Publish(Event) {}

// Func adapts a function to a Publisher.
type Func func(Event)

func (f Func) Publish(e Event) { f(e) }

// Multi fans an event out to several publishers in order.
type Multi []Publisher

func (m Multi) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// OrNop returns p, or Nop when p is nil.
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}
