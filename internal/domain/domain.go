// Package domain defines the shared vocabulary of the market-making bot:
// snapshots, features, positions, strategy params/state, order intents,
// fills, and the LLM proposal/rollout audit trail. It has no dependency on
// any other internal package, so every layer can import it.
package domain

import (
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order or fill.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Mode is the strategy's three-state risk machine.
type Mode string

const (
	ModeNormal    Mode = "NORMAL"
	ModeDefensive Mode = "DEFENSIVE"
	ModePause     Mode = "PAUSE"
)

// ReasonCode explains why a pause/defensive/reject decision was made.
type ReasonCode string

const (
	ReasonDataStale         ReasonCode = "DATA_STALE"
	ReasonMarkIndexDiverged ReasonCode = "MARK_INDEX_DIVERGED"
	ReasonLiquidationSpike  ReasonCode = "LIQUIDATION_SPIKE"
	ReasonInventoryLimit    ReasonCode = "INVENTORY_LIMIT"
	ReasonDefensiveVol      ReasonCode = "DEFENSIVE_VOL"
	ReasonDefensiveTox      ReasonCode = "DEFENSIVE_TOX"
	ReasonPostOnlyRejected  ReasonCode = "POST_ONLY_REJECTED"
	ReasonPauseMinDuration  ReasonCode = "PAUSE_MIN_DURATION"
	ReasonNormalConditions  ReasonCode = "NORMAL_CONDITIONS"
)

// PauseMinDurationMs is the minimum dwell time of a PAUSE before the kernel
// will consider exiting (to DEFENSIVE, never directly to NORMAL).
const PauseMinDurationMs int64 = 10000

// ————————————————————————————————————————————————————————————————————————
// Market state
// ————————————————————————————————————————————————————————————————————————

// Snapshot is instantaneous market state for one (exchange, symbol).
type Snapshot struct {
	Exchange      string
	Symbol        string
	NowMs         int64
	BestBidPx     decimal.Decimal
	BestBidSz     decimal.Decimal
	BestAskPx     decimal.Decimal
	BestAskSz     decimal.Decimal
	MarkPx        *decimal.Decimal
	IndexPx       *decimal.Decimal
	LastUpdateMs  int64
}

// WellFormed reports whether bestBid < bestAsk, per the Snapshot invariant.
// A crossed or inverted snapshot is NOT well-formed and must be treated as
// data-stale by the caller.
func (s Snapshot) WellFormed() bool {
	return s.BestBidPx.LessThan(s.BestAskPx)
}

// Trade is a single recent execution used by FeatureCalc's rolling windows.
type Trade struct {
	Ts   int64
	Px   decimal.Decimal
	Sz   decimal.Decimal
	Side *Side  // nil = infer from price vs mid
	Type string // "", "liq", "delev"
}

// MidSnapshot is one point in the rolling mid-price window used for
// realized-volatility estimation.
type MidSnapshot struct {
	Ts    int64
	MidPx float64
}

// Features are the derived decision inputs computed by FeatureCalc.
type Features struct {
	MidPx            float64
	SpreadBps        float64
	TradeImbalance1s float64
	RealizedVol10s   float64
	MarkIndexDivBps  float64
	LiqCount10s      int
	DataStale        bool
}

// Position is the current inventory in base units. Positive = long.
type Position struct {
	Size decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Strategy params and state
// ————————————————————————————————————————————————————————————————————————

// StrategyParams are the ten tunable parameters the kernel reads every tick
// and the LLM proposal gate validates deltas against.
type StrategyParams struct {
	ParamsSetID        string
	BaseHalfSpreadBps  float64
	VolSpreadGain      float64
	ToxSpreadGain      float64
	QuoteSizeUsd       float64
	RefreshIntervalMs  int64
	StaleCancelMs      int64
	MaxInventory       float64
	InventorySkewGain  float64
	PauseMarkIndexBps  float64
	PauseLiqCount10s   int64
}

// ParamNames enumerates the ten allowed parameter names, in the order the
// gate and applier iterate them.
var ParamNames = []string{
	"baseHalfSpreadBps",
	"volSpreadGain",
	"toxSpreadGain",
	"quoteSizeUsd",
	"refreshIntervalMs",
	"staleCancelMs",
	"maxInventory",
	"inventorySkewGain",
	"pauseMarkIndexBps",
	"pauseLiqCount10s",
}

// Get returns the current value of a named param as float64, and whether
// that name is a recognized field.
func (p StrategyParams) Get(name string) (float64, bool) {
	switch name {
	case "baseHalfSpreadBps":
		return p.BaseHalfSpreadBps, true
	case "volSpreadGain":
		return p.VolSpreadGain, true
	case "toxSpreadGain":
		return p.ToxSpreadGain, true
	case "quoteSizeUsd":
		return p.QuoteSizeUsd, true
	case "refreshIntervalMs":
		return float64(p.RefreshIntervalMs), true
	case "staleCancelMs":
		return float64(p.StaleCancelMs), true
	case "maxInventory":
		return p.MaxInventory, true
	case "inventorySkewGain":
		return p.InventorySkewGain, true
	case "pauseMarkIndexBps":
		return p.PauseMarkIndexBps, true
	case "pauseLiqCount10s":
		return float64(p.PauseLiqCount10s), true
	default:
		return 0, false
	}
}

// WithChange returns a copy of p with name overlaid by value. Integer
// fields are rounded. name must be one of ParamNames; unknown names are a
// no-op (the gate rejects those before this is ever called).
func (p StrategyParams) WithChange(name string, value float64) StrategyParams {
	out := p
	switch name {
	case "baseHalfSpreadBps":
		out.BaseHalfSpreadBps = value
	case "volSpreadGain":
		out.VolSpreadGain = value
	case "toxSpreadGain":
		out.ToxSpreadGain = value
	case "quoteSizeUsd":
		out.QuoteSizeUsd = value
	case "refreshIntervalMs":
		out.RefreshIntervalMs = int64(value + 0.5)
	case "staleCancelMs":
		out.StaleCancelMs = int64(value + 0.5)
	case "maxInventory":
		out.MaxInventory = value
	case "inventorySkewGain":
		out.InventorySkewGain = value
	case "pauseMarkIndexBps":
		out.PauseMarkIndexBps = value
	case "pauseLiqCount10s":
		out.PauseLiqCount10s = int64(value + 0.5)
	}
	return out
}

// IsIntegerParam reports whether name is rounded to an integer on apply.
func IsIntegerParam(name string) bool {
	switch name {
	case "refreshIntervalMs", "staleCancelMs", "pauseLiqCount10s":
		return true
	default:
		return false
	}
}

// StrategyState is the kernel's carried-forward state. The kernel owns no
// mutable long-lived state itself — this struct is passed in and a new one
// returned every tick.
type StrategyState struct {
	Mode        Mode
	ModeSinceMs int64
	PauseUntilMs *int64
	LastQuoteMs  *int64
}

// ————————————————————————————————————————————————————————————————————————
// Order intents
// ————————————————————————————————————————————————————————————————————————

// IntentKind discriminates OrderIntent's two variants.
type IntentKind string

const (
	IntentCancelAll IntentKind = "CancelAll"
	IntentQuote     IntentKind = "Quote"
)

// OrderIntent is the kernel's output: either cancel everything, or post a
// two-sided post-only quote. Exactly one of the two shapes is meaningful,
// selected by Kind; the quote fields are left at their zero values when
// Kind is IntentCancelAll.
type OrderIntent struct {
	Kind        IntentKind
	ReasonCodes []ReasonCode

	// Quote fields, valid only when Kind == IntentQuote.
	BidPx decimal.Decimal
	AskPx decimal.Decimal
	Size  decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Fills and enrichment
// ————————————————————————————————————————————————————————————————————————

// Fill is a persisted, immutable execution record.
type Fill struct {
	ID            string
	Ts            int64
	Exchange      string
	Symbol        string
	ClientOrderID string
	Side          Side
	FillPx        decimal.Decimal
	FillSz        decimal.Decimal
	Liquidity     string // "maker" | "taker"
	State         string
	ParamsSetID   string
}

// EnrichedFill grades a Fill against future mids at 1s/10s/60s horizons.
// Markout/mid fields are pointers because a missing BBO within tolerance
// yields a null result, never a fabricated zero.
type EnrichedFill struct {
	FillID               string
	Ts                   int64
	Side                 Side
	FillPx               decimal.Decimal
	FillSz               decimal.Decimal
	MidT0                *float64
	MidT1s               *float64
	MidT10s              *float64
	MidT60s              *float64
	Markout1sBps         *float64
	Markout10sBps        *float64
	Markout60sBps        *float64
	SpreadBpsT0          float64
	TradeImbalance1sT0   float64
	RealizedVol10sT0     float64
	MarkIndexDivBpsT0    float64
	LiqCount10sT0        int
	State                string
	ParamsSetID          string
}

// AggregationWindow summarizes fills/cancels/pauses over [WindowStart, WindowEnd).
type AggregationWindow struct {
	WindowStart      int64
	WindowEnd        int64
	FillsCount       int
	CancelCount      int
	PauseCount       int
	Markout10sP10    *float64
	Markout10sP50    *float64
	Markout10sP90    *float64
	WorstFills       []EnrichedFill // ≤5, ascending by Markout10sBps
}

// ————————————————————————————————————————————————————————————————————————
// LLM proposal and audit trail
// ————————————————————————————————————————————————————————————————————————

// ProposalStatus is the lifecycle of a Proposal row.
type ProposalStatus string

const (
	ProposalPending  ProposalStatus = "pending"
	ProposalApplied  ProposalStatus = "applied"
	ProposalRejected ProposalStatus = "rejected"
)

// RollbackConditions are the LLM-authored guardrails attached to a proposal;
// at least one must be set.
type RollbackConditions struct {
	Markout10sP50BelowBps *float64
	PauseCountAbove       *float64
	MaxDurationMs         *float64
}

// AnySet reports whether at least one rollback condition is present.
func (r RollbackConditions) AnySet() bool {
	return r.Markout10sP50BelowBps != nil || r.PauseCountAbove != nil || r.MaxDurationMs != nil
}

// Proposal is an LLM-generated bounded parameter adjustment awaiting gating.
type Proposal struct {
	ProposalID         string
	Exchange           string
	Symbol             string
	Ts                 int64
	WindowStart        int64
	WindowEnd          int64
	CurrentParamsSetID string
	Changes            map[string]string // paramName -> proposed value (string or numeric, pre-parse)
	Rollback           RollbackConditions
	ReasoningLogPath   string
	ReasoningLogSha256 string
	Status             ProposalStatus
}

// RolloutAction enumerates what a ParamRollout audit row records.
type RolloutAction string

const (
	RolloutApply    RolloutAction = "apply"
	RolloutReject   RolloutAction = "reject"
	RolloutRollback RolloutAction = "rollback"
)

// ParamRollout is an append-only audit record of every apply/reject/rollback.
type ParamRollout struct {
	Ts               int64
	ProposalID       *string
	FromParamsSetID  string
	ToParamsSetID    *string
	Action           RolloutAction
	Reason           string
	MetricsSnapshot  string // JSON-encoded OperationalContext, or ""
}

// OperationalContext is the executor's live health snapshot, consulted by
// the ProposalApplier's operational gates.
type OperationalContext struct {
	PauseCountLastHour int
	DataStale          bool
	Markout10sP50      *float64
	DBWriteFailures    bool
	ExchangeErrors     bool
}
