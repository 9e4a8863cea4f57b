// Package quote implements QuoteCalc: the pure half-spread/skew pricing
// formulas that turn StrategyParams + Features + Position into a two-sided
// post-only quote. Follows an Avellaneda-Stoikov-flavored additive
// reservation-price-style spread term and tick-aware rounding, simplified
// to an additive half-spread/skew model.
package quote

import (
	"math"

	"github.com/shopspring/decimal"

	"mmbot/internal/domain"
)

// Quote is QuoteCalc's output before intent assembly.
type Quote struct {
	BidPx decimal.Decimal
	AskPx decimal.Decimal
	Size  decimal.Decimal
}

// HalfSpreadBps implements halfBps = base + volGain*vol + toxGain*|imbalance|.
func HalfSpreadBps(params domain.StrategyParams, features domain.Features) float64 {
	return params.BaseHalfSpreadBps +
		params.VolSpreadGain*features.RealizedVol10s +
		params.ToxSpreadGain*math.Abs(features.TradeImbalance1s)
}

// SkewBps implements skewBps = inventorySkewGain * position.size (signed).
func SkewBps(params domain.StrategyParams, position domain.Position) float64 {
	size, _ := position.Size.Float64()
	return params.InventorySkewGain * size
}

// Compute derives bid/ask/size from params, features, and position.
func Compute(params domain.StrategyParams, features domain.Features, position domain.Position) Quote {
	mid := features.MidPx
	halfBps := HalfSpreadBps(params, features)
	skewBps := SkewBps(params, position)

	bid := mid - mid*halfBps/10000 - mid*skewBps/10000
	ask := mid + mid*halfBps/10000 - mid*skewBps/10000

	var size float64
	notional := params.QuoteSizeUsd
	if mid > 0 && notional > 0 {
		size = notional / mid
	}

	return Quote{
		BidPx: decimal.NewFromFloat(bid).Round(8),
		AskPx: decimal.NewFromFloat(ask).Round(8),
		Size:  decimal.NewFromFloat(size).Round(6),
	}
}

// PriceExceedsThreshold returns true when the relative move from current to
// target, measured in bps of mid, is at least thresholdBps. Used by
// executor planners deciding whether to cancel/repost a resting order.
func PriceExceedsThreshold(currentPx, targetPx, midPx, thresholdBps float64) bool {
	if midPx == 0 {
		return false
	}
	moveBps := math.Abs(targetPx-currentPx) / midPx * 10000
	return moveBps >= thresholdBps
}
