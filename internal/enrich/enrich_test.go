package enrich

import (
	"log/slog"
	"os"
	"testing"

	"github.com/shopspring/decimal"

	"mmbot/internal/domain"
)

type fakeSource struct {
	mids       map[int64]float64
	markIndex  map[int64][2]float64
	spreads    map[int64]float64
	fills      []domain.Fill
	inserted   []domain.EnrichedFill
}

func (f *fakeSource) NearestMid(exchange, symbol string, ts, toleranceMs int64) (float64, bool) {
	for t, mid := range f.mids {
		if abs64(t-ts) <= toleranceMs {
			return mid, true
		}
	}
	return 0, false
}

func (f *fakeSource) NearestMarkIndex(exchange, symbol string, ts, toleranceMs int64) (float64, float64, bool) {
	for t, mi := range f.markIndex {
		if abs64(t-ts) <= toleranceMs {
			return mi[0], mi[1], true
		}
	}
	return 0, 0, false
}

func (f *fakeSource) SpreadBpsAt(exchange, symbol string, ts, toleranceMs int64) (float64, bool) {
	for t, sp := range f.spreads {
		if abs64(t-ts) <= toleranceMs {
			return sp, true
		}
	}
	return 0, false
}

func (f *fakeSource) TradesInWindow(exchange, symbol string, fromTs, toTs int64) []domain.Trade {
	return nil
}

func (f *fakeSource) MidsInWindow(exchange, symbol string, fromTs, toTs int64, maxN int) []float64 {
	return nil
}

func (f *fakeSource) UnprocessedFills(exchange, symbol string, nowMs int64, batchSize int) ([]domain.Fill, error) {
	return f.fills, nil
}

func (f *fakeSource) InsertEnrichedFill(ef domain.EnrichedFill) error {
	f.inserted = append(f.inserted, ef)
	return nil
}

func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHorizonGateSkipsRecentFills(t *testing.T) {
	src := &fakeSource{
		fills: []domain.Fill{{ID: "f1", Ts: 100000, Side: domain.Buy, FillPx: decimal.NewFromInt(100)}},
	}
	e := NewEnricher(src, testLogger())
	n, err := e.RunOnce("binance", "BTC-PERP", 100000+30000) // only 30s elapsed
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 enriched (horizon not open), got %d", n)
	}
	if len(src.inserted) != 0 {
		t.Fatalf("expected no inserts before horizon gate")
	}
}

func TestMarkoutSignBuy(t *testing.T) {
	src := &fakeSource{
		fills: []domain.Fill{{ID: "f1", Ts: 100000, Side: domain.Buy, FillPx: decimal.NewFromFloat(100)}},
		mids: map[int64]float64{
			100000:     100,
			100000 + 1000:  100,
			100000 + 10000: 100.1,
			100000 + 60000: 100,
		},
	}
	e := NewEnricher(src, testLogger())
	n, err := e.RunOnce("binance", "BTC-PERP", 100000+61000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 enriched fill, got %d", n)
	}
	ef := src.inserted[0]
	if ef.Markout10sBps == nil {
		t.Fatalf("expected non-nil markout10sBps")
	}
	want := (100.1 - 100.0) / 100.0 * 10000
	if *ef.Markout10sBps != want {
		t.Fatalf("markout10sBps = %v, want %v", *ef.Markout10sBps, want)
	}
}

func TestMarkoutNullWhenMidMissing(t *testing.T) {
	src := &fakeSource{
		fills: []domain.Fill{{ID: "f1", Ts: 100000, Side: domain.Buy, FillPx: decimal.NewFromFloat(100)}},
		mids:  map[int64]float64{100000: 100},
	}
	e := NewEnricher(src, testLogger())
	_, err := e.RunOnce("binance", "BTC-PERP", 100000+61000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ef := src.inserted[0]
	if ef.Markout10sBps != nil {
		t.Fatalf("expected nil markout10sBps when midT10s missing")
	}
}

func TestAggregatePercentilesAndWorstFills(t *testing.T) {
	mk := func(bps float64) domain.EnrichedFill {
		b := bps
		return domain.EnrichedFill{Markout10sBps: &b}
	}
	fills := []domain.EnrichedFill{mk(-10), mk(5), mk(-2), mk(1), mk(-30), mk(20), mk(0)}
	win := Aggregate(AggregateInputs{WindowStart: 0, WindowEnd: 60000, EnrichedFills: fills, CancelCount: 2, PauseCount: 1})

	if win.FillsCount != 7 {
		t.Fatalf("fillsCount = %d, want 7", win.FillsCount)
	}
	if win.Markout10sP50 == nil {
		t.Fatalf("expected non-nil P50")
	}
	if len(win.WorstFills) != 5 {
		t.Fatalf("expected 5 worst fills, got %d", len(win.WorstFills))
	}
	if *win.WorstFills[0].Markout10sBps != -30 {
		t.Fatalf("worst fill should be -30, got %v", *win.WorstFills[0].Markout10sBps)
	}
}

func TestAggregateAllNullMarkouts(t *testing.T) {
	fills := []domain.EnrichedFill{{}, {}}
	win := Aggregate(AggregateInputs{EnrichedFills: fills})
	if win.Markout10sP10 != nil || win.Markout10sP50 != nil || win.Markout10sP90 != nil {
		t.Fatalf("expected all-nil percentiles when no fills have markout")
	}
}
