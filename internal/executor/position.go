package executor

import (
	"sync"

	"github.com/shopspring/decimal"

	"mmbot/internal/adapter"
	"mmbot/internal/domain"
)

// PositionTracker is the in-memory mirror of the on-exchange position.
// It is the single writer the fill consumer role owns; the tick driver only
// reads Snapshot.
type PositionTracker struct {
	mu            sync.RWMutex
	size          decimal.Decimal
	entryPrice    *float64
	unrealizedPnl *float64
	lastUpdateMs  int64
}

// SyncFromPosition applies a position-sync result from the trading adapter.
// A nil info means flat: size resets to 0 and the derived fields clear.
func (t *PositionTracker) SyncFromPosition(info *adapter.PositionInfo, nowMs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info == nil {
		t.size = decimal.Zero
		t.entryPrice = nil
		t.unrealizedPnl = nil
		t.lastUpdateMs = nowMs
		return
	}
	t.size = decimal.NewFromFloat(info.Size)
	t.entryPrice = info.EntryPrice
	t.unrealizedPnl = info.UnrealizedPnl
	t.lastUpdateMs = info.UpdatedAtMs
}

// UpdateFromFill adjusts size by the fill's signed quantity and clears the
// derived entryPrice/unrealizedPnl fields, which are stale until the next
// SyncFromPosition call.
func (t *PositionTracker) UpdateFromFill(fill domain.Fill) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if fill.Side == domain.Buy {
		t.size = t.size.Add(fill.FillSz)
	} else {
		t.size = t.size.Sub(fill.FillSz)
	}
	t.entryPrice = nil
	t.unrealizedPnl = nil
	t.lastUpdateMs = fill.Ts
}

// Snapshot returns the current position as a domain.Position.
func (t *PositionTracker) Snapshot() domain.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return domain.Position{Size: t.size}
}

// PositionView is a read-only rendering of the tracker for display, carrying
// the derived fields Snapshot omits.
type PositionView struct {
	Size          decimal.Decimal
	EntryPrice    *float64
	UnrealizedPnl *float64
	LastUpdateMs  int64
}

// View returns the full display state of the tracker.
func (t *PositionTracker) View() PositionView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return PositionView{Size: t.size, EntryPrice: t.entryPrice, UnrealizedPnl: t.unrealizedPnl, LastUpdateMs: t.lastUpdateMs}
}
