// Package enrich implements the mark-out pipeline: the Enricher grades
// persisted fills against future mids at 1s/10s/60s horizons once the
// horizon gate opens, and the Aggregator summarizes a window of enriched
// fills for the LLM reflector. Both are impure — they read and write
// through a DataSource backed by the persistence store. Grounded on
// stadam23-Eve-flipper/internal/db's nearest-neighbor query idiom
// (`ORDER BY ABS(ts - ?) LIMIT 1`) and on store/store.go's atomic-write
// discipline for the JSON artifacts the reflector consumes.
package enrich

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"mmbot/internal/domain"
	"mmbot/internal/feature"
)

// HorizonGateMs is the minimum age a fill must reach before it is eligible
// for enrichment.
const HorizonGateMs int64 = 60000

var horizonOffsetsMs = []int64{0, 1000, 10000, 60000}
var horizonTolerancesMs = []int64{500, 500, 1000, 5000}

// DataSource is the persistence-backed collaborator the Enricher reads
// BBO/mark-index history from and writes EnrichedFill rows to. The store
// package implements this against SQLite.
type DataSource interface {
	// NearestMid returns the closest persisted mid at ts within toleranceMs,
	// or ok=false if none exists.
	NearestMid(exchange, symbol string, ts, toleranceMs int64) (mid float64, ok bool)
	// NearestMarkIndex returns the closest persisted mark/index prices at ts
	// within toleranceMs.
	NearestMarkIndex(exchange, symbol string, ts, toleranceMs int64) (mark, index float64, ok bool)
	// SpreadBpsAt returns the spread in bps of the BBO nearest ts, within
	// toleranceMs.
	SpreadBpsAt(exchange, symbol string, ts, toleranceMs int64) (spreadBps float64, ok bool)
	// TradesInWindow returns persisted trades in [fromTs, toTs).
	TradesInWindow(exchange, symbol string, fromTs, toTs int64) []domain.Trade
	// MidsInWindow returns persisted mids in [fromTs, toTs), capped at maxN
	// most recent points (memory bound for long-running vol windows).
	MidsInWindow(exchange, symbol string, fromTs, toTs int64, maxN int) []float64
	// UnprocessedFills returns fills with ts <= now-HorizonGateMs that have
	// no EnrichedFill row yet, oldest first, capped at batchSize.
	UnprocessedFills(exchange, symbol string, nowMs int64, batchSize int) ([]domain.Fill, error)
	// InsertEnrichedFill writes ef, keyed uniquely by FillID (idempotent: a
	// duplicate insert for the same FillID is a no-op, not an error).
	InsertEnrichedFill(ef domain.EnrichedFill) error
}

// Enricher grades eligible fills against future mids.
type Enricher struct {
	src      DataSource
	log      *slog.Logger
	batchSize int
}

// NewEnricher constructs an Enricher reading/writing through src.
func NewEnricher(src DataSource, log *slog.Logger) *Enricher {
	return &Enricher{src: src, log: log, batchSize: 50}
}

// RunOnce processes one batch of eligible fills for (exchange, symbol) and
// returns how many were enriched.
func (e *Enricher) RunOnce(exchange, symbol string, nowMs int64) (int, error) {
	fills, err := e.src.UnprocessedFills(exchange, symbol, nowMs, e.batchSize)
	if err != nil {
		return 0, fmt.Errorf("enrich: list unprocessed fills: %w", err)
	}
	n := 0
	for _, f := range fills {
		if nowMs-f.Ts < HorizonGateMs {
			continue // horizon gate not yet open; skip, retry later
		}
		ef := e.enrichOne(exchange, symbol, f)
		if err := e.src.InsertEnrichedFill(ef); err != nil {
			e.log.Warn("enrich: insert enriched fill failed", "fillId", f.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (e *Enricher) enrichOne(exchange, symbol string, f domain.Fill) domain.EnrichedFill {
	t0 := f.Ts

	mids := make([]*float64, len(horizonOffsetsMs))
	for i, offset := range horizonOffsetsMs {
		if mid, ok := e.src.NearestMid(exchange, symbol, t0+offset, horizonTolerancesMs[i]); ok {
			m := mid
			mids[i] = &m
		}
	}

	fillPx, _ := f.FillPx.Float64()
	markouts := make([]*float64, len(horizonOffsetsMs))
	for i := 1; i < len(horizonOffsetsMs); i++ {
		markouts[i] = computeMarkout(f.Side, fillPx, mids[0], mids[i])
	}

	var spreadBpsT0 float64
	if sp, ok := e.src.SpreadBpsAt(exchange, symbol, t0, 500); ok {
		spreadBpsT0 = sp
	}

	var markIndexDivT0 float64
	if mark, index, ok := e.src.NearestMarkIndex(exchange, symbol, t0, 500); ok {
		midT0 := 0.0
		if mids[0] != nil {
			midT0 = *mids[0]
		}
		if midT0 != 0 {
			markIndexDivT0 = math.Abs(mark-index) / midT0 * 10000
		}
	}

	trades1s := e.src.TradesInWindow(exchange, symbol, t0-1000, t0)
	liqTrades10s := e.src.TradesInWindow(exchange, symbol, t0-10000, t0)
	liqCount := 0
	for _, t := range liqTrades10s {
		if t.Type == "liq" || t.Type == "delev" {
			liqCount++
		}
	}

	midAtT0 := 0.0
	if mids[0] != nil {
		midAtT0 = *mids[0]
	}
	imbalanceT0 := tradeImbalanceAt(trades1s, midAtT0)

	mids10s := e.src.MidsInWindow(exchange, symbol, t0-10000, t0, 2000)
	volT0 := realizedVolSample(mids10s)

	return domain.EnrichedFill{
		FillID:             f.ID,
		Ts:                 f.Ts,
		Side:               f.Side,
		FillPx:             f.FillPx,
		FillSz:             f.FillSz,
		MidT0:              mids[0],
		MidT1s:             mids[1],
		MidT10s:            mids[2],
		MidT60s:            mids[3],
		Markout1sBps:       markouts[1],
		Markout10sBps:      markouts[2],
		Markout60sBps:      markouts[3],
		SpreadBpsT0:        spreadBpsT0,
		TradeImbalance1sT0: imbalanceT0,
		RealizedVol10sT0:   volT0,
		MarkIndexDivBpsT0:  markIndexDivT0,
		LiqCount10sT0:      liqCount,
		State:              f.State,
		ParamsSetID:        f.ParamsSetID,
	}
}

// computeMarkout follows the sign convention: positive = profitable.
// Returns nil when midT0/midTh are missing or midT0 <= 0.
func computeMarkout(side domain.Side, fillPx float64, midT0, midTh *float64) *float64 {
	if midT0 == nil || midTh == nil || *midT0 <= 0 {
		return nil
	}
	var bps float64
	if side == domain.Buy {
		bps = (*midTh - fillPx) / *midT0 * 10000
	} else {
		bps = (fillPx - *midTh) / *midT0 * 10000
	}
	return &bps
}

func tradeImbalanceAt(trades []domain.Trade, mid float64) float64 {
	if len(trades) == 0 {
		return 0
	}
	var buyVol, sellVol float64
	for _, t := range trades {
		sz, _ := t.Sz.Float64()
		if sz <= 0 {
			continue
		}
		side := domain.Sell
		if t.Side != nil {
			side = *t.Side
		} else {
			px, _ := t.Px.Float64()
			if px >= mid {
				side = domain.Buy
			}
		}
		if side == domain.Buy {
			buyVol += sz
		} else {
			sellVol += sz
		}
	}
	total := buyVol + sellVol
	if total < 1e-10 {
		total = 1e-10
	}
	return (buyVol - sellVol) / total
}

// realizedVolSample recomputes vol at fill time using sample variance
// (N-1), unlike FeatureCalc's live population-variance estimate — this is
// the fill-time recomputation this package is built for.
func realizedVolSample(mids []float64) float64 {
	if len(mids) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		if mids[i-1] <= 0 || mids[i] <= 0 {
			return 0
		}
		returns = append(returns, math.Log(mids[i]/mids[i-1]))
	}
	if len(returns) == 0 {
		return 0
	}
	return feature.StddevSample(returns) * 10000
}

// ————————————————————————————————————————————————————————————————————————
// Aggregator
// ————————————————————————————————————————————————————————————————————————

// AggregateInputs bundles the raw counts the Aggregator needs alongside the
// enriched fills within a window.
type AggregateInputs struct {
	WindowStart  int64
	WindowEnd    int64
	EnrichedFills []domain.EnrichedFill
	CancelCount  int
	PauseCount   int
}

// Aggregate builds an AggregationWindow: percentiles over non-null
// markout10sBps, and the up-to-5 worst fills ascending by markout10sBps.
func Aggregate(in AggregateInputs) domain.AggregationWindow {
	var markouts []float64
	var withMarkout []domain.EnrichedFill
	for _, ef := range in.EnrichedFills {
		if ef.Markout10sBps != nil {
			markouts = append(markouts, *ef.Markout10sBps)
			withMarkout = append(withMarkout, ef)
		}
	}

	win := domain.AggregationWindow{
		WindowStart: in.WindowStart,
		WindowEnd:   in.WindowEnd,
		FillsCount:  len(in.EnrichedFills),
		CancelCount: in.CancelCount,
		PauseCount:  in.PauseCount,
	}

	if len(markouts) > 0 {
		p10 := percentile(markouts, 10)
		p50 := percentile(markouts, 50)
		p90 := percentile(markouts, 90)
		win.Markout10sP10 = &p10
		win.Markout10sP50 = &p50
		win.Markout10sP90 = &p90
	}

	sort.Slice(withMarkout, func(i, j int) bool {
		return *withMarkout[i].Markout10sBps < *withMarkout[j].Markout10sBps
	})
	if len(withMarkout) > 5 {
		withMarkout = withMarkout[:5]
	}
	win.WorstFills = withMarkout

	return win
}
