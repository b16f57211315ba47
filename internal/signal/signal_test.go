package signal

import (
	"sync"
	"testing"
)

func TestEmitDeliversInSubscriptionOrder(t *testing.T) {
	s := New[int]()
	var order []string

	s.Subscribe(func(v int) { order = append(order, "first") })
	s.Subscribe(func(v int) { order = append(order, "second") })
	s.Subscribe(func(v int) { order = append(order, "third") })

	s.Emit(1)

	if len(order) != 3 || order[0] != "first" || order[1] != "second" || order[2] != "third" {
		t.Errorf("delivery order = %v", order)
	}
}

func TestEmitIsSynchronous(t *testing.T) {
	s := New[string]()
	var got string
	s.Subscribe(func(v string) { got = v })

	s.Emit("hello")

	// No waiting: the handler ran before Emit returned.
	if got != "hello" {
		t.Errorf("got %q immediately after Emit, want hello", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	s := New[int]()
	calls := 0
	tok := s.Subscribe(func(int) { calls++ })

	s.Emit(1)
	s.Unsubscribe(tok)
	s.Emit(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}

	// Unknown token is a no-op.
	s.Unsubscribe(Token{id: 99})
}

func TestHandlerMayUnsubscribeItselfDuringEmission(t *testing.T) {
	s := New[int]()
	calls := 0
	var tok Token
	tok = s.Subscribe(func(int) {
		calls++
		s.Unsubscribe(tok)
	})

	s.Emit(1)
	s.Emit(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (handler removed itself)", calls)
	}
}

func TestHandlerMayUnsubscribeOthersDuringEmission(t *testing.T) {
	s := New[int]()
	var order []string
	var second Token

	s.Subscribe(func(int) {
		order = append(order, "first")
		s.Unsubscribe(second)
	})
	second = s.Subscribe(func(int) { order = append(order, "second") })

	// The snapshot was taken before emission, so the second handler still
	// runs this time; the removal takes effect on the next emission.
	s.Emit(1)
	s.Emit(2)

	want := []string{"first", "second", "first"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestNoDeliveryToLateSubscribers(t *testing.T) {
	s := New[int]()
	s.Emit(1)

	called := false
	s.Subscribe(func(int) { called = true })
	if called {
		t.Error("late subscriber must not receive earlier emissions")
	}
}

func TestConcurrentSubscribeEmit(t *testing.T) {
	s := New[int]()
	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Subscribe(func(int) {
				mu.Lock()
				total++
				mu.Unlock()
			})
			s.Emit(1)
		}()
	}
	wg.Wait()

	if s.Len() != 16 {
		t.Errorf("Len = %d, want 16", s.Len())
	}
}

func TestInvocationsFlushInOrder(t *testing.T) {
	var q Invocations
	var order []int

	q.Add(func() { order = append(order, 1) })
	q.Add(func() { order = append(order, 2) })
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}

	q.Flush()

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("order = %v, want [1 2]", order)
	}
	if q.Len() != 0 {
		t.Errorf("Len after flush = %d, want 0", q.Len())
	}

	// Flush clears: a second flush runs nothing.
	q.Flush()
	if len(order) != 2 {
		t.Errorf("second flush re-ran emissions: %v", order)
	}
}
