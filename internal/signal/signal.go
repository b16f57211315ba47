// Package signal provides the typed notification primitive the sync core
// fans changes out with.
package signal

import "sync"

// Signal is a typed multi-subscriber notification. Emission is synchronous:
// handlers run on the emitting goroutine, in subscription order, before
// Emit returns. There is no buffering; subscribers registered after an
// emission never see it.
type Signal[T any] struct {
	mu   sync.Mutex
	next int
	subs []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Token identifies one subscription for later removal.
type Token struct {
	id int
}

// New creates an empty signal.
func New[T any]() *Signal[T] {
	return &Signal[T]{}
}

// Subscribe registers a handler and returns its token.
func (s *Signal[T]) Subscribe(fn func(T)) Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.subs = append(s.subs, subscriber[T]{id: s.next, fn: fn})
	return Token{id: s.next}
}

// Unsubscribe removes the subscription for tok. Unknown tokens are ignored.
func (s *Signal[T]) Unsubscribe(tok Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, sub := range s.subs {
		if sub.id == tok.id {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers v to every handler subscribed at the moment of the call.
// The subscriber list is snapshotted first, so a handler may subscribe or
// unsubscribe (itself or others) during delivery; such changes take effect
// from the next emission.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]subscriber[T], len(s.subs))
	copy(snapshot, s.subs)
	s.mu.Unlock()

	for _, sub := range snapshot {
		sub.fn(v)
	}
}

// Len reports the current number of subscribers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Invocations queues emissions raised while a store transaction is open so
// they can be flushed after the commit. Notifications must never precede
// the durable write becoming visible.
type Invocations struct {
	mu  sync.Mutex
	fns []func()
}

// Add appends one pending emission.
func (q *Invocations) Add(fn func()) {
	q.mu.Lock()
	q.fns = append(q.fns, fn)
	q.mu.Unlock()
}

// Len reports how many emissions are queued.
func (q *Invocations) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fns)
}

// Flush runs the queued emissions in order and clears the queue.
func (q *Invocations) Flush() {
	q.mu.Lock()
	fns := q.fns
	q.fns = nil
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
