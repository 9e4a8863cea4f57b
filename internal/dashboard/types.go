// Package dashboard exposes the bot's live state over HTTP/WebSocket for
// operators: current mode, position, recent aggregation window, and the
// pending/recent LLM proposals. Grounded on internal/api's snapshot/hub/
// handlers/server split, adapted from Polymarket's per-market book state to
// a single perp symbol's strategy state and proposal pipeline.
package dashboard

import (
	"time"

	"mmbot/internal/domain"
)

// Snapshot is the complete dashboard state served by /api/snapshot and
// pushed to every connected WebSocket client.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Exchange  string    `json:"exchange"`
	Symbol    string    `json:"symbol"`

	Mode        domain.Mode `json:"mode"`
	ModeSinceMs int64       `json:"modeSinceMs"`

	Market   MarketView   `json:"market"`
	Position PositionView `json:"position"`
	Params   domain.StrategyParams `json:"params"`
	Window   domain.AggregationWindow `json:"window"`

	PendingProposal *ProposalView `json:"pendingProposal,omitempty"`
	RecentProposals []ProposalView `json:"recentProposals"`

	DeadLetterDepth int `json:"deadLetterDepth"`
}

// MarketView is a display-shaped rendering of domain.Snapshot.
type MarketView struct {
	BestBidPx    float64  `json:"bestBidPx"`
	BestAskPx    float64  `json:"bestAskPx"`
	MidPx        float64  `json:"midPx"`
	SpreadBps    float64  `json:"spreadBps"`
	MarkPx       *float64 `json:"markPx,omitempty"`
	IndexPx      *float64 `json:"indexPx,omitempty"`
	LastUpdateMs int64    `json:"lastUpdateMs"`
}

// PositionView is a display-shaped rendering of the executor's position
// tracker.
type PositionView struct {
	Size          float64  `json:"size"`
	EntryPrice    *float64 `json:"entryPrice,omitempty"`
	UnrealizedPnl *float64 `json:"unrealizedPnl,omitempty"`
	LastUpdateMs  int64    `json:"lastUpdateMs"`
}

// ProposalView is a display-shaped rendering of domain.Proposal, with the
// changes map flattened to a stable, JSON-friendly shape.
type ProposalView struct {
	ProposalID         string                    `json:"proposalId"`
	Ts                 int64                     `json:"ts"`
	Status             domain.ProposalStatus     `json:"status"`
	Changes            map[string]string         `json:"changes"`
	Rollback           domain.RollbackConditions `json:"rollback"`
	ReasoningLogPath   string                    `json:"reasoningLogPath"`
	ReasoningLogSha256 string                    `json:"reasoningLogSha256"`
}

func newProposalView(p domain.Proposal) ProposalView {
	return ProposalView{
		ProposalID: p.ProposalID, Ts: p.Ts, Status: p.Status, Changes: p.Changes,
		Rollback: p.Rollback, ReasoningLogPath: p.ReasoningLogPath, ReasoningLogSha256: p.ReasoningLogSha256,
	}
}

// Event is the envelope pushed to WebSocket clients.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// Event types a client may subscribe to via the /ws?events= query param.
// eventSnapshot is the routine, supersedable poll of full bot state;
// eventAlert is reserved for state transitions an operator should not miss
// (currently: mode changes), and is delivered with different backpressure
// semantics than eventSnapshot (see hub.go).
const (
	eventSnapshot = "snapshot"
	eventAlert    = "alert"
)

// knownEventTypes is used to reject a client's ?events= filter outright
// (rather than silently subscribing it to nothing) when it names a type the
// hub doesn't publish.
var knownEventTypes = map[string]bool{
	eventSnapshot: true,
	eventAlert:    true,
}
