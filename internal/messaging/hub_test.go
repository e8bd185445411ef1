package messaging

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// recorder collects payloads delivered to a handler.
type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handle(data []byte) {
	r.mu.Lock()
	r.msgs = append(r.msgs, string(data))
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestHub_NoSelfDelivery(t *testing.T) {
	hub := NewHub()
	var a, b recorder
	chA, _ := hub.Open("room", a.handle)
	chB, _ := hub.Open("room", b.handle)
	defer chA.Close()
	defer chB.Close()

	if err := chA.Post([]byte("hello")); err != nil {
		t.Fatalf("Post: %v", err)
	}

	waitFor(t, func() bool { return len(b.snapshot()) == 1 })
	// Give a stray self-delivery time to show up.
	time.Sleep(20 * time.Millisecond)
	if got := a.snapshot(); len(got) != 0 {
		t.Errorf("expected sender to receive nothing, got %v", got)
	}
}

func TestHub_FIFOPerSender(t *testing.T) {
	hub := NewHub()
	var rx recorder
	sender, _ := hub.Open("room", func([]byte) {})
	receiver, _ := hub.Open("room", rx.handle)
	defer sender.Close()
	defer receiver.Close()

	const n = 100
	for i := 0; i < n; i++ {
		_ = sender.Post([]byte(fmt.Sprintf("%d", i)))
	}

	waitFor(t, func() bool { return len(rx.snapshot()) == n })
	for i, got := range rx.snapshot() {
		if got != fmt.Sprintf("%d", i) {
			t.Fatalf("position %d: expected %d, got %s", i, i, got)
		}
	}
}

func TestHub_ChannelsAreIsolatedByName(t *testing.T) {
	hub := NewHub()
	var other recorder
	a, _ := hub.Open("room-a", func([]byte) {})
	b, _ := hub.Open("room-b", other.handle)
	defer a.Close()
	defer b.Close()

	_ = a.Post([]byte("x"))
	time.Sleep(20 * time.Millisecond)
	if got := other.snapshot(); len(got) != 0 {
		t.Errorf("expected no cross-channel delivery, got %v", got)
	}
}

func TestHub_CloseUnsubscribes(t *testing.T) {
	hub := NewHub()
	a, _ := hub.Open("room", func([]byte) {})
	b, _ := hub.Open("room", func([]byte) {})

	if hub.Subscribers("room") != 2 {
		t.Fatalf("expected 2 subscribers, got %d", hub.Subscribers("room"))
	}
	_ = b.Close()
	_ = b.Close() // idempotent
	if hub.Subscribers("room") != 1 {
		t.Errorf("expected 1 subscriber, got %d", hub.Subscribers("room"))
	}
	if err := b.Post([]byte("late")); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	_ = a.Close()
	if hub.Subscribers("room") != 0 {
		t.Errorf("expected 0 subscribers, got %d", hub.Subscribers("room"))
	}
}

func TestHub_PostBeforeCloseIsDelivered(t *testing.T) {
	hub := NewHub()
	var rx recorder
	sender, _ := hub.Open("room", func([]byte) {})
	receiver, _ := hub.Open("room", rx.handle)
	defer receiver.Close()

	_ = sender.Post([]byte("bye"))
	_ = sender.Close()

	waitFor(t, func() bool { return len(rx.snapshot()) == 1 })
	if rx.snapshot()[0] != "bye" {
		t.Errorf("expected bye, got %v", rx.snapshot())
	}
}
