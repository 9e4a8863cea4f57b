// Package risk implements RiskPolicy: a pure evaluation of Features and
// Position against StrategyParams that decides whether the kernel must
// pause or go defensive. It is a pure function rather than a stateful,
// channel-based manager — the ordered, reason-accumulating structure
// of manager.go's limit checks is kept, but there is no mutex, no
// goroutine, and no kill-switch cooldown: RiskPolicy here is a leaf
// function the kernel calls every tick.
package risk

import (
	"math"

	"mmbot/internal/domain"
)

const (
	defensiveVolThresholdBps  = 50.0
	defensiveToxThreshold     = 0.7
)

// Result is RiskPolicy's output.
type Result struct {
	ShouldPause     bool
	ShouldDefensive bool
	ReasonCodes     []domain.ReasonCode
}

// Evaluate runs the ordered pause/defensive checks. Every satisfied
// pause condition's reason code is recorded even though the first one
// satisfies shouldPause; defensive checks run only when no pause condition
// fired.
func Evaluate(features domain.Features, position domain.Position, params domain.StrategyParams) Result {
	var reasons []domain.ReasonCode
	shouldPause := false

	if features.DataStale {
		shouldPause = true
		reasons = append(reasons, domain.ReasonDataStale)
	}
	if features.MarkIndexDivBps >= params.PauseMarkIndexBps {
		shouldPause = true
		reasons = append(reasons, domain.ReasonMarkIndexDiverged)
	}
	if float64(features.LiqCount10s) >= float64(params.PauseLiqCount10s) {
		shouldPause = true
		reasons = append(reasons, domain.ReasonLiquidationSpike)
	}
	posSize, _ := position.Size.Float64()
	if math.Abs(posSize) > params.MaxInventory {
		shouldPause = true
		reasons = append(reasons, domain.ReasonInventoryLimit)
	}

	if shouldPause {
		return Result{ShouldPause: true, ReasonCodes: reasons}
	}

	shouldDefensive := false
	if features.RealizedVol10s >= defensiveVolThresholdBps {
		shouldDefensive = true
		reasons = append(reasons, domain.ReasonDefensiveVol)
	}
	if math.Abs(features.TradeImbalance1s) >= defensiveToxThreshold {
		shouldDefensive = true
		reasons = append(reasons, domain.ReasonDefensiveTox)
	}

	if !shouldDefensive {
		reasons = append(reasons, domain.ReasonNormalConditions)
	}

	return Result{ShouldPause: false, ShouldDefensive: shouldDefensive, ReasonCodes: reasons}
}
