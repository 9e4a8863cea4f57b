package dashboard

import (
	"testing"

	"github.com/shopspring/decimal"

	"mmbot/internal/domain"
	"mmbot/internal/executor"
)

type fakeProvider struct {
	exchange, symbol string
	state            domain.StrategyState
	snap             domain.Snapshot
	position         executor.PositionView
	params           domain.StrategyParams
	window           domain.AggregationWindow
	pending          *domain.Proposal
	recent           []domain.Proposal
	deadLetterDepth  int
}

func (f *fakeProvider) Exchange() string                   { return f.exchange }
func (f *fakeProvider) Symbol() string                     { return f.symbol }
func (f *fakeProvider) State() domain.StrategyState        { return f.state }
func (f *fakeProvider) MarketSnapshot() domain.Snapshot     { return f.snap }
func (f *fakeProvider) PositionView() executor.PositionView { return f.position }
func (f *fakeProvider) CurrentParams() (domain.StrategyParams, error) {
	return f.params, nil
}
func (f *fakeProvider) AggregationSnapshot(nowMs, windowMinutes int64) (domain.AggregationWindow, error) {
	return f.window, nil
}
func (f *fakeProvider) PendingProposal() (*domain.Proposal, error)      { return f.pending, nil }
func (f *fakeProvider) RecentProposals(limit int) ([]domain.Proposal, error) { return f.recent, nil }
func (f *fakeProvider) DeadLetterDepth() int                            { return f.deadLetterDepth }
func (f *fakeProvider) ReflectionWindowMinutes() int64                  { return 60 }

func TestBuildSnapshotComputesMidAndSpread(t *testing.T) {
	p := &fakeProvider{
		exchange: "binance", symbol: "BTC-PERP",
		state: domain.StrategyState{Mode: domain.ModeNormal, ModeSinceMs: 100},
		snap: domain.Snapshot{
			BestBidPx: decimal.NewFromFloat(99), BestAskPx: decimal.NewFromFloat(101), LastUpdateMs: 1000,
		},
		position: executor.PositionView{Size: decimal.NewFromFloat(0.5)},
		params:   domain.StrategyParams{ParamsSetID: "p1"},
	}

	snap := BuildSnapshot(p, 1000)

	if snap.Market.MidPx != 100 {
		t.Errorf("MidPx = %v, want 100", snap.Market.MidPx)
	}
	if snap.Market.SpreadBps != 200 {
		t.Errorf("SpreadBps = %v, want 200", snap.Market.SpreadBps)
	}
	if snap.Mode != domain.ModeNormal {
		t.Errorf("Mode = %v, want NORMAL", snap.Mode)
	}
	if snap.Position.Size != 0.5 {
		t.Errorf("Position.Size = %v, want 0.5", snap.Position.Size)
	}
}

func TestBuildSnapshotIncludesPendingProposal(t *testing.T) {
	p := &fakeProvider{
		exchange: "binance", symbol: "BTC-PERP",
		snap:    domain.Snapshot{BestBidPx: decimal.NewFromFloat(1), BestAskPx: decimal.NewFromFloat(1)},
		pending: &domain.Proposal{ProposalID: "prop-1", Status: domain.ProposalPending},
	}

	snap := BuildSnapshot(p, 0)

	if snap.PendingProposal == nil {
		t.Fatal("expected a pending proposal in the snapshot")
	}
	if snap.PendingProposal.ProposalID != "prop-1" {
		t.Errorf("ProposalID = %q, want prop-1", snap.PendingProposal.ProposalID)
	}
}

func TestBuildSnapshotHandlesZeroMidWithoutDivideByZero(t *testing.T) {
	p := &fakeProvider{snap: domain.Snapshot{BestBidPx: decimal.Zero, BestAskPx: decimal.Zero}}

	snap := BuildSnapshot(p, 0)

	if snap.Market.SpreadBps != 0 {
		t.Errorf("SpreadBps = %v, want 0 when mid is 0", snap.Market.SpreadBps)
	}
}
