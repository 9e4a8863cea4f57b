package adapter

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFeed() *Feed {
	return &Feed{
		exchange: "binance",
		symbol:   "BTC-PERP",
		events:   make(chan MarketEvent, 8),
		logger:   testLogger(),
	}
}

func TestWatchdogTriggerAfterFloor(t *testing.T) {
	w := NewWatchdog(newTestFeed(), 1000, testLogger())
	if got := w.triggerAfter(); got != 6000*time.Millisecond {
		t.Fatalf("triggerAfter() = %v, want 6000ms floor for staleMs=1000", got)
	}

	w2 := NewWatchdog(newTestFeed(), 5000, testLogger())
	if got := w2.triggerAfter(); got != 10000*time.Millisecond {
		t.Fatalf("triggerAfter() = %v, want 10000ms for staleMs=5000", got)
	}
}

func TestWatchdogNoKickBeforeFeedConnects(t *testing.T) {
	feed := newTestFeed()
	w := NewWatchdog(feed, 1000, testLogger())
	if w.Check(time.Now()) {
		t.Fatal("expected no kick when feed has never connected")
	}
}

func TestWatchdogKicksAfterStale(t *testing.T) {
	feed := newTestFeed()
	feed.emit(MarketEvent{Kind: EventBBO})
	w := NewWatchdog(feed, 1000, testLogger())

	now := feed.LastEventAt().Add(7 * time.Second)
	if !w.Check(now) {
		t.Fatal("expected kick once silence exceeds the 6s floor")
	}
}

func TestWatchdogRespectsCooldown(t *testing.T) {
	feed := newTestFeed()
	feed.emit(MarketEvent{Kind: EventBBO})
	w := NewWatchdog(feed, 1000, testLogger())

	now := feed.LastEventAt().Add(7 * time.Second)
	if !w.Check(now) {
		t.Fatal("expected first kick")
	}
	if w.Check(now.Add(5 * time.Second)) {
		t.Fatal("expected no second kick within cooldown window")
	}
	if !w.Check(now.Add(16 * time.Second)) {
		t.Fatal("expected kick to be allowed again after cooldown elapses")
	}
}
