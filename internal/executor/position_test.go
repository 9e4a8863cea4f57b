package executor

import (
	"testing"

	"github.com/shopspring/decimal"

	"mmbot/internal/adapter"
	"mmbot/internal/domain"
)

func f64p(f float64) *float64 { return &f }

func TestPositionTrackerSyncFromPositionNilResetsToFlat(t *testing.T) {
	var pt PositionTracker
	pt.SyncFromPosition(&adapter.PositionInfo{Size: 5, EntryPrice: f64p(100), UnrealizedPnl: f64p(10), UpdatedAtMs: 1}, 2)
	pt.SyncFromPosition(nil, 99)

	snap := pt.Snapshot()
	if !snap.Size.IsZero() {
		t.Errorf("Size = %v, want 0 after nil sync", snap.Size)
	}
}

func TestPositionTrackerSyncFromPositionSetsFields(t *testing.T) {
	var pt PositionTracker
	pt.SyncFromPosition(&adapter.PositionInfo{Size: -3.5, EntryPrice: f64p(2000), UnrealizedPnl: f64p(-50), UpdatedAtMs: 123}, 0)

	snap := pt.Snapshot()
	want := decimal.NewFromFloat(-3.5)
	if !snap.Size.Equal(want) {
		t.Errorf("Size = %v, want %v", snap.Size, want)
	}
}

func TestPositionTrackerUpdateFromFillBuyIncreasesSize(t *testing.T) {
	var pt PositionTracker
	pt.SyncFromPosition(&adapter.PositionInfo{Size: 1, UpdatedAtMs: 1}, 1)
	pt.UpdateFromFill(domain.Fill{Side: domain.Buy, FillSz: decimal.NewFromFloat(0.5), Ts: 500})

	snap := pt.Snapshot()
	want := decimal.NewFromFloat(1.5)
	if !snap.Size.Equal(want) {
		t.Errorf("Size = %v, want %v", snap.Size, want)
	}
}

func TestPositionTrackerUpdateFromFillSellDecreasesSize(t *testing.T) {
	var pt PositionTracker
	pt.SyncFromPosition(&adapter.PositionInfo{Size: 1, UpdatedAtMs: 1}, 1)
	pt.UpdateFromFill(domain.Fill{Side: domain.Sell, FillSz: decimal.NewFromFloat(0.25), Ts: 500})

	snap := pt.Snapshot()
	want := decimal.NewFromFloat(0.75)
	if !snap.Size.Equal(want) {
		t.Errorf("Size = %v, want %v", snap.Size, want)
	}
}

func TestPositionTrackerUpdateFromFillClearsDerivedFields(t *testing.T) {
	var pt PositionTracker
	pt.SyncFromPosition(&adapter.PositionInfo{Size: 1, EntryPrice: f64p(100), UnrealizedPnl: f64p(5), UpdatedAtMs: 1}, 1)
	pt.UpdateFromFill(domain.Fill{Side: domain.Buy, FillSz: decimal.NewFromFloat(0.1), Ts: 500})

	pt.mu.RLock()
	defer pt.mu.RUnlock()
	if pt.entryPrice != nil {
		t.Error("expected entryPrice to be cleared after a fill")
	}
	if pt.unrealizedPnl != nil {
		t.Error("expected unrealizedPnl to be cleared after a fill")
	}
	if pt.lastUpdateMs != 500 {
		t.Errorf("lastUpdateMs = %d, want 500", pt.lastUpdateMs)
	}
}
