package adapter

import (
	"log/slog"
	"time"
)

// kickCooldown is the minimum time between forced reconnects, preventing a
// flapping feed from being kicked continuously.
const kickCooldown = 15 * time.Second

// Watchdog monitors a Feed's last-event time and forces a reconnect when the
// feed has gone silent for longer than max(2×staleMs, 6000)ms. Grounded on
// internal/exchange/ws.go's exponential-backoff reconnect loop; the
// watchdog adds the trigger/cooldown policy on top of that reconnect
// mechanism rather than reimplementing it.
type Watchdog struct {
	feed       *Feed
	staleMs    int64
	logger     *slog.Logger
	lastKickAt time.Time
}

// NewWatchdog constructs a Watchdog for feed, triggering after staleMs of
// silence (subject to a max(2×staleMs, 6000)ms floor).
func NewWatchdog(feed *Feed, staleMs int64, logger *slog.Logger) *Watchdog {
	return &Watchdog{feed: feed, staleMs: staleMs, logger: logger.With("component", "watchdog")}
}

// triggerAfter returns the silence duration that triggers a reconnect.
func (w *Watchdog) triggerAfter() time.Duration {
	ms := 2 * w.staleMs
	if ms < 6000 {
		ms = 6000
	}
	return time.Duration(ms) * time.Millisecond
}

// Check inspects the feed's last-event time against now and forces a
// reconnect if the feed is stale and the cooldown has elapsed. Returns true
// if it kicked. Intended to be called once per tick by the executor.
func (w *Watchdog) Check(now time.Time) bool {
	last := w.feed.LastEventAt()
	if last.IsZero() {
		return false // feed never connected yet; nothing to kick
	}
	if now.Sub(last) < w.triggerAfter() {
		return false
	}
	if !w.lastKickAt.IsZero() && now.Sub(w.lastKickAt) < kickCooldown {
		return false
	}
	w.logger.Warn("market feed stale, forcing reconnect", "silentFor", now.Sub(last))
	w.feed.ForceReconnect()
	w.lastKickAt = now
	return true
}
