package dashboard

import (
	"time"

	"mmbot/internal/domain"
	"mmbot/internal/executor"
)

// Provider is the read-only view the executor gives the dashboard onto its
// live state. The executor is the only writer of everything behind it;
// Provider methods are safe for concurrent callers by construction (they
// take the same locks the owning role does).
type Provider interface {
	Exchange() string
	Symbol() string
	State() domain.StrategyState
	MarketSnapshot() domain.Snapshot
	PositionView() executor.PositionView
	CurrentParams() (domain.StrategyParams, error)
	AggregationSnapshot(nowMs, windowMinutes int64) (domain.AggregationWindow, error)
	PendingProposal() (*domain.Proposal, error)
	RecentProposals(limit int) ([]domain.Proposal, error)
	DeadLetterDepth() int
	ReflectionWindowMinutes() int64
}

// BuildSnapshot assembles the current Snapshot from provider, for both the
// REST handler and the periodic WebSocket broadcast.
func BuildSnapshot(p Provider, nowMs int64) Snapshot {
	state := p.State()
	snap := p.MarketSnapshot()
	posView := p.PositionView()
	size, _ := posView.Size.Float64()

	params, err := p.CurrentParams()
	if err != nil {
		params = domain.StrategyParams{}
	}

	window, err := p.AggregationSnapshot(nowMs, p.ReflectionWindowMinutes())
	if err != nil {
		window = domain.AggregationWindow{WindowStart: nowMs, WindowEnd: nowMs}
	}

	var pending *ProposalView
	if prop, err := p.PendingProposal(); err == nil && prop != nil {
		v := newProposalView(*prop)
		pending = &v
	}

	recent, err := p.RecentProposals(10)
	if err != nil {
		recent = nil
	}
	recentViews := make([]ProposalView, 0, len(recent))
	for _, prop := range recent {
		recentViews = append(recentViews, newProposalView(prop))
	}

	bidPx, _ := snap.BestBidPx.Float64()
	askPx, _ := snap.BestAskPx.Float64()
	mid := (bidPx + askPx) / 2
	spreadBps := 0.0
	if mid != 0 {
		spreadBps = (askPx - bidPx) / mid * 10000
	}
	var markPx, indexPx *float64
	if snap.MarkPx != nil {
		v, _ := snap.MarkPx.Float64()
		markPx = &v
	}
	if snap.IndexPx != nil {
		v, _ := snap.IndexPx.Float64()
		indexPx = &v
	}

	return Snapshot{
		Timestamp:   time.UnixMilli(nowMs),
		Exchange:    p.Exchange(),
		Symbol:      p.Symbol(),
		Mode:        state.Mode,
		ModeSinceMs: state.ModeSinceMs,
		Market: MarketView{
			BestBidPx: bidPx, BestAskPx: askPx, MidPx: mid, SpreadBps: spreadBps,
			MarkPx: markPx, IndexPx: indexPx, LastUpdateMs: snap.LastUpdateMs,
		},
		Position: PositionView{Size: size, EntryPrice: posView.EntryPrice, UnrealizedPnl: posView.UnrealizedPnl, LastUpdateMs: posView.LastUpdateMs},
		Params:   params,
		Window:   window,

		PendingProposal: pending,
		RecentProposals: recentViews,

		DeadLetterDepth: p.DeadLetterDepth(),
	}
}
