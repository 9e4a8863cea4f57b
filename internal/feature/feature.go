// Package feature computes the pure derived decision inputs (Features) from
// a market Snapshot plus bounded rolling windows of trades and mids. It has
// no side effects and never panics: malformed or missing data coerces to
// neutral values, using the same windowed-transform style throughout.
package feature

import (
	"math"

	"mmbot/internal/domain"
)

const epsilon = 1e-10

// Calc computes Features for one tick. trades1s/trades10s/mids10s are the
// executor's linear rolling buffers, already pruned to their respective
// windows by the caller; Calc does not re-filter by time.
func Calc(snap domain.Snapshot, trades1s, trades10s []domain.Trade, mids10s []domain.MidSnapshot, params domain.StrategyParams) domain.Features {
	mid := mid(snap)

	f := domain.Features{
		MidPx:            mid,
		SpreadBps:        spreadBps(snap, mid),
		TradeImbalance1s: tradeImbalance(trades1s, mid),
		RealizedVol10s:   realizedVolPopulation(mids10s),
		MarkIndexDivBps:  markIndexDivBps(snap, mid),
		LiqCount10s:      liqCount(trades10s),
		DataStale:        dataStale(snap, params),
	}
	return f
}

func mid(snap domain.Snapshot) float64 {
	bid := bidF(snap)
	ask := askF(snap)
	return (bid + ask) / 2
}

func bidF(snap domain.Snapshot) float64 {
	f, _ := snap.BestBidPx.Float64()
	return f
}

func askF(snap domain.Snapshot) float64 {
	f, _ := snap.BestAskPx.Float64()
	return f
}

func spreadBps(snap domain.Snapshot, mid float64) float64 {
	if mid == 0 {
		return 0
	}
	return (askF(snap) - bidF(snap)) / mid * 10000
}

// tradeImbalance implements tradeImbalance1s: (buyVol - sellVol) / max(totalVol, eps).
// Side is taken from the trade if present, else inferred from price vs mid.
func tradeImbalance(trades []domain.Trade, mid float64) float64 {
	if len(trades) == 0 {
		return 0
	}
	var buyVol, sellVol float64
	for _, t := range trades {
		sz, _ := t.Sz.Float64()
		if sz <= 0 || math.IsNaN(sz) {
			continue
		}
		side := inferSide(t, mid)
		if side == domain.Buy {
			buyVol += sz
		} else {
			sellVol += sz
		}
	}
	total := buyVol + sellVol
	if total < epsilon {
		total = epsilon
	}
	return (buyVol - sellVol) / total
}

func inferSide(t domain.Trade, mid float64) domain.Side {
	if t.Side != nil {
		return *t.Side
	}
	px, _ := t.Px.Float64()
	if px >= mid {
		return domain.Buy
	}
	return domain.Sell
}

// realizedVolPopulation implements realizedVol10s: stddev of log-returns
// scaled to bps, using population variance (divide by N) — the
// fill-time recomputation in the enricher instead uses sample variance
// (N-1), documented separately there.
func realizedVolPopulation(mids []domain.MidSnapshot) float64 {
	if len(mids) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		prev := mids[i-1].MidPx
		cur := mids[i].MidPx
		if prev <= 0 || cur <= 0 {
			return 0
		}
		returns = append(returns, math.Log(cur/prev))
	}
	if len(returns) == 0 {
		return 0
	}
	return stddevPopulation(returns) * 10000
}

func stddevPopulation(xs []float64) float64 {
	n := float64(len(xs))
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / n)
}

// stddevSample is the N-1 divisor variant used by the enricher's fill-time
// feature recomputation.
func stddevSample(xs []float64) float64 {
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= n
	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / (n - 1))
}

// StddevSample exposes the sample-variance stddev helper for reuse by the
// enrichment package's fill-time recomputation.
func StddevSample(xs []float64) float64 {
	return stddevSample(xs)
}

func markIndexDivBps(snap domain.Snapshot, mid float64) float64 {
	if snap.MarkPx == nil || snap.IndexPx == nil || mid == 0 {
		return 0
	}
	markF, _ := snap.MarkPx.Float64()
	indexF, _ := snap.IndexPx.Float64()
	return math.Abs(markF-indexF) / mid * 10000
}

func liqCount(trades10s []domain.Trade) int {
	n := 0
	for _, t := range trades10s {
		if t.Type == "liq" || t.Type == "delev" {
			n++
		}
	}
	return n
}

func dataStale(snap domain.Snapshot, params domain.StrategyParams) bool {
	if !snap.WellFormed() {
		return true
	}
	return snap.NowMs-snap.LastUpdateMs > params.StaleCancelMs
}
