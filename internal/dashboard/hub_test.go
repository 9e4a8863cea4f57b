package dashboard

import (
	"io"
	"log/slog"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClientWantsRespectsSubscription(t *testing.T) {
	t.Parallel()

	all := &client{}
	if !all.wants(eventSnapshot) || !all.wants(eventAlert) {
		t.Fatal("nil subscription should pass every event type")
	}

	snapshotOnly := &client{subscribe: map[string]bool{eventSnapshot: true}}
	if !snapshotOnly.wants(eventSnapshot) {
		t.Fatal("expected snapshot subscriber to want snapshot events")
	}
	if snapshotOnly.wants(eventAlert) {
		t.Fatal("expected snapshot-only subscriber to reject alert events")
	}
}

func TestHubDeliverCoalescesSnapshots(t *testing.T) {
	t.Parallel()

	h := newHub(testLogger())
	c := &client{hub: h, snapshot: make(chan []byte, 1), alert: make(chan []byte, alertQueueDepth)}

	h.mu.RLock()
	h.deliver(c, publishedEvent{eventType: eventSnapshot, payload: []byte(`{"seq":1}`)})
	h.deliver(c, publishedEvent{eventType: eventSnapshot, payload: []byte(`{"seq":2}`)})
	h.mu.RUnlock()

	select {
	case msg := <-c.snapshot:
		if string(msg) != `{"seq":2}` {
			t.Fatalf("queued snapshot = %s, want the newest one coalesced in", msg)
		}
	default:
		t.Fatal("expected a coalesced snapshot to be queued")
	}

	select {
	case extra := <-c.snapshot:
		t.Fatalf("expected only one coalesced snapshot queued, got extra %s", extra)
	default:
	}
}

func TestHubDeliverNeverCoalescesAlerts(t *testing.T) {
	t.Parallel()

	h := newHub(testLogger())
	c := &client{hub: h, snapshot: make(chan []byte, 1), alert: make(chan []byte, alertQueueDepth)}

	h.mu.RLock()
	h.deliver(c, publishedEvent{eventType: eventAlert, payload: []byte(`{"seq":1}`)})
	h.deliver(c, publishedEvent{eventType: eventAlert, payload: []byte(`{"seq":2}`)})
	h.mu.RUnlock()

	first := <-c.alert
	second := <-c.alert
	if string(first) != `{"seq":1}` || string(second) != `{"seq":2}` {
		t.Fatalf("alert lane dropped or reordered messages: got %s, %s", first, second)
	}
}
