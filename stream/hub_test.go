package stream

import "testing"

func TestSubscribeReceivesPublishes(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(1)
	h.Publish(2)

	if got := <-ch; got != 1 {
		t.Fatalf("got %d, want 1", got)
	}
	if got := <-ch; got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
}

func TestLateSubscriberPrimedWithLast(t *testing.T) {
	h := NewHub[string]()
	h.Publish("a")
	h.Publish("b")

	ch, cancel := h.Subscribe()
	defer cancel()

	if got := <-ch; got != "b" {
		t.Fatalf("got %q, want b", got)
	}
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe()
	defer cancel()

	// Overflow the buffer; publisher must not block.
	for i := 0; i < defaultBuffer+5; i++ {
		h.Publish(i)
	}

	// The newest value must still be in the channel somewhere.
	var last int
	for {
		select {
		case v := <-ch:
			last = v
			continue
		default:
		}
		break
	}
	if last != defaultBuffer+4 {
		t.Fatalf("newest value lost: got %d, want %d", last, defaultBuffer+4)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	h := NewHub[int]()
	ch, cancel := h.Subscribe()
	cancel()
	cancel() // idempotent

	h.Publish(7)
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel after cancel")
	}
}

func TestLast(t *testing.T) {
	h := NewHub[int]()
	if _, ok := h.Last(); ok {
		t.Fatal("expected no last value before publish")
	}
	h.Publish(42)
	if v, ok := h.Last(); !ok || v != 42 {
		t.Fatalf("got %d/%v, want 42/true", v, ok)
	}
}
