// Package adapter implements the exchange-facing collaborators the executor
// drives: a WebSocket market-data feed, a REST trading client, a token-bucket
// rate limiter, and a stale-data watchdog. Grounded on
// internal/exchange/{ws,client,ratelimit}.go, generalized from Polymarket's
// asset-ID/condition-ID channel model to a single (exchange, symbol) perp
// feed with BBO/trade/price/funding event types.
package adapter

// EventKind discriminates the market-data event stream.
type EventKind string

const (
	EventConnected    EventKind = "connected"
	EventDisconnected EventKind = "disconnected"
	EventReconnecting EventKind = "reconnecting"
	EventBBO          EventKind = "bbo"
	EventTrade        EventKind = "trade"
	EventPrice        EventKind = "price"
	EventFunding      EventKind = "funding"
)

// PriceType discriminates a price event between mark and index.
type PriceType string

const (
	PriceMark  PriceType = "mark"
	PriceIndex PriceType = "index"
)

// MarketEvent is one item from the market-data adapter's event stream. Only
// the fields relevant to Kind are populated; the rest are zero.
type MarketEvent struct {
	Kind     EventKind
	Reason   string // set on EventReconnecting

	Ts       int64
	Exchange string
	Symbol   string

	// bbo
	BestBidPx float64
	BestBidSz float64
	BestAskPx float64
	BestAskSz float64
	Seq       *int64

	// trade
	Side      *string
	Px        float64
	Sz        float64
	TradeID   string
	TradeType string

	// price
	PriceType PriceType
	MarkPx    *float64
	IndexPx   *float64

	// funding
	FundingRate float64

	Raw string // raw wire payload, persisted verbatim for audit
}

// PositionInfo is the trading adapter's position-sync result; nil means flat.
type PositionInfo struct {
	Symbol        string
	Size          float64
	EntryPrice    *float64
	UnrealizedPnl *float64
	UpdatedAtMs   int64
}

// OrderResult is what the trading adapter returns for a post-only placement.
type OrderResult struct {
	OrderID      string
	Rejected     bool
	RejectReason string // "POST_ONLY_REJECTED" or an adapter-specific code
}
