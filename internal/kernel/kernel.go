// Package kernel implements StrategyKernel: the pure, deterministic
// decision function at the center of the bot. It glues RiskPolicy and
// QuoteCalc into a three-state (NORMAL/DEFENSIVE/PAUSE) machine with an
// exit-dampening invariant, following a per-tick orchestration order
// (stale check -> risk check -> quote compute ->
// reconcile), restructured into a single pure call since the kernel here
// owns no mutable state of its own.
package kernel

import (
	"mmbot/internal/domain"
	"mmbot/internal/quote"
	"mmbot/internal/risk"
)

// Input bundles everything Decide needs for one tick.
type Input struct {
	NowMs    int64
	State    domain.StrategyState
	Features domain.Features
	Params   domain.StrategyParams
	Position domain.Position
}

// Output is the kernel's per-tick decision.
type Output struct {
	NextState domain.StrategyState
	Intents   []domain.OrderIntent
}

// Decide runs the five-step decision algorithm. It never fails: any
// malformed input has already been absorbed upstream into a neutral
// Features value (e.g. dataStale=true), which this function simply acts on.
func Decide(in Input) Output {
	riskResult := risk.Evaluate(in.Features, in.Position, in.Params)

	pauseDurationElapsed := in.State.PauseUntilMs == nil || in.NowMs >= *in.State.PauseUntilMs

	prevMode := in.State.Mode
	var nextMode domain.Mode
	switch {
	case riskResult.ShouldPause:
		nextMode = domain.ModePause
	case prevMode == domain.ModePause && !pauseDurationElapsed:
		nextMode = domain.ModePause
	case prevMode == domain.ModePause && pauseDurationElapsed:
		nextMode = domain.ModeDefensive
	case riskResult.ShouldDefensive:
		nextMode = domain.ModeDefensive
	default:
		nextMode = domain.ModeNormal
	}

	nextState := in.State
	if nextMode != prevMode {
		nextState.ModeSinceMs = in.NowMs
	}
	if nextMode == domain.ModePause {
		remainingPause := prevMode == domain.ModePause && !pauseDurationElapsed
		if nextState.PauseUntilMs == nil || nextMode != prevMode || !remainingPause {
			until := in.NowMs + domain.PauseMinDurationMs
			nextState.PauseUntilMs = &until
		}
	} else {
		nextState.PauseUntilMs = nil
	}

	var intents []domain.OrderIntent
	if nextMode == domain.ModePause {
		reasons := append([]domain.ReasonCode{}, riskResult.ReasonCodes...)
		if prevMode == domain.ModePause && !pauseDurationElapsed {
			reasons = append(reasons, domain.ReasonPauseMinDuration)
		}
		intents = []domain.OrderIntent{{Kind: domain.IntentCancelAll, ReasonCodes: reasons}}
	} else {
		q := quote.Compute(in.Params, in.Features, in.Position)
		reasons := append([]domain.ReasonCode{}, riskResult.ReasonCodes...)
		intents = []domain.OrderIntent{{
			Kind:        domain.IntentQuote,
			ReasonCodes: reasons,
			BidPx:       q.BidPx,
			AskPx:       q.AskPx,
			Size:        q.Size,
		}}
		now := in.NowMs
		nextState.LastQuoteMs = &now
	}

	return Output{NextState: nextState, Intents: intents}
}
