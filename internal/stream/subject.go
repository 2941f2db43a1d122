package stream

import (
	"sync"

	"github.com/notifyhub/actionqueue/internal/domain"
)

// Subject holds a current value and pushes every later value to its
// listeners. New listeners do not receive the current value.
type Subject[T any] struct {
	mu        sync.Mutex
	value     T
	listeners map[uint64]*Pipe[T]
	nextID    uint64
	closed    bool
}

func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		value:     initial,
		listeners: make(map[uint64]*Pipe[T]),
	}
}

// Value returns the latest value.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Send stores v and delivers it to every listener registered at the time of
// the call. It returns domain.ErrClosed after Close.
func (s *Subject[T]) Send(v T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrClosed
	}
	s.value = v
	for id, p := range s.listeners {
		if err := p.Send(v); err != nil {
			delete(s.listeners, id)
		}
	}
	return nil
}

// Subscribe registers a listener for future values.
func (s *Subject[T]) Subscribe() *Subscription[T] {
	p := NewPipe[T]()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		p.Close()
		return newSubscription(p)
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = p
	s.mu.Unlock()

	return newSubscription(p)
}

// Close closes every listener. The last value stays readable.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, p := range listeners {
		p.Close()
	}
}
