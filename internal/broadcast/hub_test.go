package broadcast

import (
	"testing"
	"time"

	"github.com/choptalini/chatbot/internal/store"
)

func TestHub_FiltersByTenant(t *testing.T) {
	hub := New()
	ch, unsub := hub.Subscribe(1)
	defer unsub()

	hub.Publish(Event{Type: EventMessageIncoming, TenantID: 2})
	hub.Publish(Event{Type: EventMessageIncoming, TenantID: 1})

	select {
	case ev := <-ch:
		if ev.TenantID != 1 {
			t.Errorf("received event for tenant %d, want 1", ev.TenantID)
		}
	case <-time.After(time.Second):
		t.Fatal("expected to receive the tenant-1 event")
	}

	select {
	case ev := <-ch:
		t.Fatalf("unexpected second event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_DropsSlowSubscriberOnOverflow(t *testing.T) {
	hub := New()
	ch, _ := hub.Subscribe(1)

	for i := 0; i < subscriberBuffer+10; i++ {
		hub.Publish(Event{Type: EventMessageIncoming, TenantID: 1})
	}

	// Give the async drop goroutine a moment to run.
	time.Sleep(50 * time.Millisecond)

	if hub.Count() != 0 {
		t.Errorf("expected overflowed subscriber to be dropped, got %d still subscribed", hub.Count())
	}

	// Channel should eventually be closed, not leak.
	drained := 0
	for range ch {
		drained++
		if drained > subscriberBuffer+10 {
			t.Fatal("channel did not close")
		}
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := New()
	_, unsub := hub.Subscribe(store.TenantID(5))
	if hub.Count() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Count())
	}
	unsub()
	if hub.Count() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", hub.Count())
	}
}
