package wsclient

import "sync"

type subscriber[T any] struct {
	id int
	fn func(T)
}

// subscribers is an ordered callback list. Callbacks run outside the lock
// in registration order.
type subscribers[T any] struct {
	mu   sync.Mutex
	next int
	list []subscriber[T]
}

func (s *subscribers[T]) add(fn func(T)) func() {
	s.mu.Lock()
	s.next++
	id := s.next
	s.list = append(s.list, subscriber[T]{id: id, fn: fn})
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.list {
				if sub.id == id {
					s.list = append(s.list[:i:i], s.list[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers[T]) emit(v T) {
	s.mu.Lock()
	snap := make([]subscriber[T], len(s.list))
	copy(snap, s.list)
	s.mu.Unlock()
	for _, sub := range snap {
		sub.fn(v)
	}
}

func (s *subscribers[T]) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}
