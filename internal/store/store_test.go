package store

import (
	"path/filepath"
	"testing"

	"mmbot/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "mmbot.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedAndReadCurrentParams(t *testing.T) {
	s := openTestStore(t)

	p := domain.StrategyParams{
		ParamsSetID:       "ps-seed",
		BaseHalfSpreadBps: 10,
		VolSpreadGain:     1,
		ToxSpreadGain:     1,
		QuoteSizeUsd:      100,
		RefreshIntervalMs: 1000,
		StaleCancelMs:     3000,
		MaxInventory:      5,
		InventorySkewGain: 0.5,
		PauseMarkIndexBps: 50,
		PauseLiqCount10s:  3,
	}
	if err := s.SeedParams("binance", "BTC-PERP", p); err != nil {
		t.Fatalf("SeedParams: %v", err)
	}

	got, err := s.CurrentParams("binance", "BTC-PERP")
	if err != nil {
		t.Fatalf("CurrentParams: %v", err)
	}
	if got.ParamsSetID != "ps-seed" || got.BaseHalfSpreadBps != 10 || got.PauseLiqCount10s != 3 {
		t.Fatalf("CurrentParams = %+v, want seeded values", got)
	}
}

func TestPromoteParamsDemotesPrevious(t *testing.T) {
	s := openTestStore(t)

	first := domain.StrategyParams{ParamsSetID: "ps-1", BaseHalfSpreadBps: 10, RefreshIntervalMs: 1000, StaleCancelMs: 3000, PauseLiqCount10s: 3}
	if err := s.SeedParams("binance", "BTC-PERP", first); err != nil {
		t.Fatalf("SeedParams: %v", err)
	}

	second := first
	second.ParamsSetID = "ps-2"
	second.BaseHalfSpreadBps = 15
	if err := s.PromoteParams("binance", "BTC-PERP", second); err != nil {
		t.Fatalf("PromoteParams: %v", err)
	}

	got, err := s.CurrentParams("binance", "BTC-PERP")
	if err != nil {
		t.Fatalf("CurrentParams: %v", err)
	}
	if got.ParamsSetID != "ps-2" || got.BaseHalfSpreadBps != 15 {
		t.Fatalf("CurrentParams after promote = %+v, want ps-2/15", got)
	}
}

func TestProposalLifecycle(t *testing.T) {
	s := openTestStore(t)

	p := domain.Proposal{
		ProposalID:         "p1",
		Exchange:           "binance",
		Symbol:             "BTC-PERP",
		Ts:                 1000,
		WindowStart:        0,
		WindowEnd:          1000,
		CurrentParamsSetID: "ps-0",
		Changes:            map[string]string{"baseHalfSpreadBps": "12"},
		Rollback:           domain.RollbackConditions{PauseCountAbove: f64p(5)},
		ReasoningLogPath:   "/tmp/log.json",
		ReasoningLogSha256: "deadbeef",
	}
	if err := s.InsertProposal(p); err != nil {
		t.Fatalf("InsertProposal: %v", err)
	}

	pending, err := s.OldestPendingProposal("binance", "BTC-PERP")
	if err != nil {
		t.Fatalf("OldestPendingProposal: %v", err)
	}
	if pending == nil {
		t.Fatal("expected a pending proposal")
	}
	if pending.ProposalID != "p1" || pending.Changes["baseHalfSpreadBps"] != "12" {
		t.Fatalf("pending = %+v, want p1 with changes restored", pending)
	}
	if pending.Rollback.PauseCountAbove == nil || *pending.Rollback.PauseCountAbove != 5 {
		t.Fatalf("rollback not restored: %+v", pending.Rollback)
	}

	if err := s.MarkProposalStatus("p1", domain.ProposalApplied); err != nil {
		t.Fatalf("MarkProposalStatus: %v", err)
	}

	none, err := s.OldestPendingProposal("binance", "BTC-PERP")
	if err != nil {
		t.Fatalf("OldestPendingProposal: %v", err)
	}
	if none != nil {
		t.Fatalf("expected no pending proposal after applying, got %+v", none)
	}
}

func TestAppendRolloutAudit(t *testing.T) {
	s := openTestStore(t)

	pid := "p1"
	toID := "ps-2"
	row := domain.ParamRollout{
		Ts:              1000,
		ProposalID:      &pid,
		FromParamsSetID: "ps-1",
		ToParamsSetID:   &toID,
		Action:          domain.RolloutApply,
		Reason:          "Applied: baseHalfSpreadBps",
	}
	if err := s.AppendRollout(row); err != nil {
		t.Fatalf("AppendRollout: %v", err)
	}
}

func TestBBOAndNearestMid(t *testing.T) {
	s := openTestStore(t)

	if err := s.InsertBBO("binance", "BTC-PERP", 1000, 99.9, 1, 100.1, 1, nil, ""); err != nil {
		t.Fatalf("InsertBBO: %v", err)
	}
	if err := s.InsertBBO("binance", "BTC-PERP", 2000, 100.9, 1, 101.1, 1, nil, ""); err != nil {
		t.Fatalf("InsertBBO: %v", err)
	}

	mid, ok := s.NearestMid("binance", "BTC-PERP", 1100, 500)
	if !ok {
		t.Fatal("expected nearest mid found within tolerance")
	}
	if mid < 99.9 || mid > 100.1 {
		t.Fatalf("mid = %v, want ~100", mid)
	}

	_, ok = s.NearestMid("binance", "BTC-PERP", 500000, 500)
	if ok {
		t.Fatal("expected no mid found far outside tolerance")
	}
}

func TestFillAndUnprocessedFills(t *testing.T) {
	s := openTestStore(t)

	f := domain.Fill{
		ID: "f1", Ts: 1000, Exchange: "binance", Symbol: "BTC-PERP",
		ClientOrderID: "c1", Side: domain.Buy,
		FillPx: floatToDecimal(100), FillSz: floatToDecimal(1),
		Liquidity: "maker", State: "NORMAL", ParamsSetID: "ps-1",
	}
	if err := s.InsertFill(f); err != nil {
		t.Fatalf("InsertFill: %v", err)
	}

	unprocessed, err := s.UnprocessedFills("binance", "BTC-PERP", 70000, 10)
	if err != nil {
		t.Fatalf("UnprocessedFills: %v", err)
	}
	if len(unprocessed) != 1 || unprocessed[0].ID != "f1" {
		t.Fatalf("UnprocessedFills = %+v, want [f1]", unprocessed)
	}

	ef := domain.EnrichedFill{FillID: "f1", Ts: 1000, Side: domain.Buy, FillPx: f.FillPx, FillSz: f.FillSz, State: "NORMAL", ParamsSetID: "ps-1"}
	if err := s.InsertEnrichedFill(ef); err != nil {
		t.Fatalf("InsertEnrichedFill: %v", err)
	}

	unprocessed, err = s.UnprocessedFills("binance", "BTC-PERP", 70000, 10)
	if err != nil {
		t.Fatalf("UnprocessedFills after enrich: %v", err)
	}
	if len(unprocessed) != 0 {
		t.Fatalf("expected f1 to drop out of unprocessed, got %+v", unprocessed)
	}

	// idempotent insert
	if err := s.InsertEnrichedFill(ef); err != nil {
		t.Fatalf("InsertEnrichedFill duplicate should be a no-op, got error: %v", err)
	}
}

func TestPauseCountInWindow(t *testing.T) {
	s := openTestStore(t)

	states := []domain.StrategyState{
		{Mode: domain.ModePause, ModeSinceMs: 1000},
		{Mode: domain.ModeNormal, ModeSinceMs: 2000},
		{Mode: domain.ModePause, ModeSinceMs: 3000},
	}
	for i, st := range states {
		if err := s.InsertStateSnapshot("binance", "BTC-PERP", int64((i+1)*1000), st); err != nil {
			t.Fatalf("InsertStateSnapshot: %v", err)
		}
	}

	n, err := s.PauseCountInWindow("binance", "BTC-PERP", 0, 4000)
	if err != nil {
		t.Fatalf("PauseCountInWindow: %v", err)
	}
	if n != 2 {
		t.Fatalf("PauseCountInWindow = %d, want 2", n)
	}
}

func f64p(v float64) *float64 { return &v }
