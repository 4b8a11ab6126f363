package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestPublishFanOut(t *testing.T) {
	r := NewRegistry[string]("test", nil)

	var a, b []string
	r.Subscribe(func(v string) error { a = append(a, v); return nil })
	r.Subscribe(func(v string) error { b = append(b, v); return nil })

	if n := r.Publish("x"); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(a) != 1 || len(b) != 1 || a[0] != "x" || b[0] != "x" {
		t.Fatalf("unexpected deliveries: a=%v b=%v", a, b)
	}
}

func TestUnsubscribe(t *testing.T) {
	r := NewRegistry[int]("test", nil)

	calls := 0
	h := r.Subscribe(func(int) error { calls++; return nil })
	if h.IsZero() {
		t.Fatalf("expected a non-zero handle")
	}
	r.Publish(1)
	if !r.Unsubscribe(h) {
		t.Fatalf("Unsubscribe should report a live handle")
	}
	if r.Unsubscribe(h) {
		t.Fatalf("second Unsubscribe should report false")
	}
	r.Publish(2)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if r.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", r.Len())
	}
}

func TestFailingSubscriberIsRemoved(t *testing.T) {
	r := NewRegistry[int]("test", nil)

	var good int
	r.Subscribe(func(int) error { return errors.New("boom") })
	r.Subscribe(func(int) error { panic("kaboom") })
	r.Subscribe(func(int) error { good++; return nil })

	if n := r.Publish(1); n != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", n)
	}
	if r.Len() != 1 {
		t.Fatalf("dead subscribers should be removed, %d left", r.Len())
	}
	r.Publish(2)
	if good != 2 {
		t.Fatalf("healthy subscriber missed deliveries: %d", good)
	}
}

func TestSelfUnsubscribe(t *testing.T) {
	r := NewRegistry[int]("test", nil)

	var h Handle
	calls := 0
	h = r.Subscribe(func(int) error {
		calls++
		r.Unsubscribe(h)
		return nil
	})
	r.Publish(1)
	r.Publish(2)
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	stopped := 0
	r.Subscribe(func(int) error { stopped++; return ErrStop })
	r.Publish(3)
	r.Publish(4)
	if stopped != 1 || r.Len() != 0 {
		t.Fatalf("ErrStop should unsubscribe, calls=%d len=%d", stopped, r.Len())
	}
}

func TestConcurrentSubscribePublish(t *testing.T) {
	r := NewRegistry[int]("test", nil)
	var total atomic.Int64

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.Subscribe(func(v int) error { total.Add(int64(v)); return nil })
			for j := 0; j < 100; j++ {
				r.Publish(1)
			}
			r.Unsubscribe(h)
		}()
	}
	wg.Wait()

	if r.Len() != 0 {
		t.Fatalf("expected all subscribers gone, got %d", r.Len())
	}
	if total.Load() == 0 {
		t.Fatalf("expected some deliveries")
	}
}
