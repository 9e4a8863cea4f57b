// Package executor is the tick-driven orchestrator that ties FeatureCalc,
// StrategyKernel, the market-data/trading adapters, persistence, enrichment,
// and the LLM proposal pipeline into one running bot for a single
// (exchange, symbol). Grounded on internal/engine/engine.go's
// goroutine-per-concern wiring, scoped to a single perp symbol with three
// concurrent roles: tick driver, market-data
// consumer, fill consumer.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"mmbot/internal/adapter"
	"mmbot/internal/config"
	"mmbot/internal/domain"
	"mmbot/internal/enrich"
	"mmbot/internal/feature"
	"mmbot/internal/kernel"
	"mmbot/internal/llm"
	"mmbot/internal/params"
	"mmbot/internal/store"
	"mmbot/internal/telemetry"
)

// applyEveryNTicks is how often the tick loop invokes the ProposalApplier
// ; Apply itself is boundary-gated internally, so this only
// bounds how promptly a boundary is noticed.
const applyEveryNTicks = 4

// fillPollInterval is how often the fill consumer polls the trading
// adapter's REST fills endpoint (adapted from a push
// channel to polling since the trading adapter here is REST-only).
const fillPollInterval = 1 * time.Second

// Executor runs the tick/market-data/fill loops for one (exchange, symbol).
type Executor struct {
	cfg      *config.Config
	st       *store.Store
	feed     *adapter.Feed
	trading  *adapter.Trading
	watchdog *adapter.Watchdog
	llmc     *llm.Client
	enricher *enrich.Enricher
	logger   *slog.Logger

	dlq      *deadLetterQueue
	position *PositionTracker

	snapMu sync.RWMutex
	snap   domain.Snapshot
	trades []domain.Trade
	mids   []domain.MidSnapshot

	stateMu sync.Mutex
	state   domain.StrategyState

	opMu           sync.Mutex
	exchangeErrors bool
	lastFillPollMs int64

	tickCount int64
}

// New constructs an Executor wired to the given collaborators.
func New(cfg *config.Config, st *store.Store, feed *adapter.Feed, trading *adapter.Trading, watchdog *adapter.Watchdog, llmc *llm.Client, logger *slog.Logger) *Executor {
	return &Executor{
		cfg: cfg, st: st, feed: feed, trading: trading, watchdog: watchdog, llmc: llmc,
		enricher: enrich.NewEnricher(st, logger),
		logger:   logger.With("component", "executor", "exchange", cfg.Exchange, "symbol", cfg.Symbol),
		dlq:      &deadLetterQueue{},
		position: &PositionTracker{},
		state:    domain.StrategyState{Mode: domain.ModeNormal, ModeSinceMs: time.Now().UnixMilli()},
	}
}

// Run starts the market-data consumer, tick driver, fill consumer, and
// reflection loop, and blocks until ctx is cancelled. On cancellation it
// stops issuing new intents, cancels all open orders as a safety net, and
// posts one final strategy_state snapshot.
func (ex *Executor) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ex.marketDataLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ex.fillLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ex.reflectionLoop(ctx)
	}()

	ex.tickLoop(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ex.trading.CancelAll(shutdownCtx); err != nil {
		ex.logger.Error("shutdown cancel-all failed", "error", err)
	}
	ex.stateMu.Lock()
	finalState := ex.state
	ex.stateMu.Unlock()
	if err := ex.st.InsertStateSnapshot(ex.cfg.Exchange, ex.cfg.Symbol, time.Now().UnixMilli(), finalState); err != nil {
		ex.logger.Error("final state snapshot failed", "error", err)
	}

	wg.Wait()
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Market-data consumer: single writer of Snapshot and the rolling windows.
// ————————————————————————————————————————————————————————————————————————

func (ex *Executor) marketDataLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ex.feed.Events():
			if !ok {
				return
			}
			ex.handleMarketEvent(ctx, evt)
		}
	}
}

func (ex *Executor) handleMarketEvent(ctx context.Context, evt adapter.MarketEvent) {
	switch evt.Kind {
	case adapter.EventBBO:
		ex.applyBBO(evt)
		_ = retryWrite(ctx, ex.dlq, "insert_bbo", func() error {
			return ex.st.InsertBBO(ex.cfg.Exchange, ex.cfg.Symbol, evt.Ts, evt.BestBidPx, evt.BestBidSz, evt.BestAskPx, evt.BestAskSz, evt.Seq, evt.Raw)
		})
	case adapter.EventTrade:
		ex.applyTrade(evt)
		_ = retryWrite(ctx, ex.dlq, "insert_trade", func() error {
			return ex.st.InsertTrade(ex.cfg.Exchange, ex.cfg.Symbol, evt.Ts, evt.TradeID, evt.Side, evt.Px, evt.Sz, evt.TradeType, evt.Seq, evt.Raw)
		})
	case adapter.EventPrice:
		ex.applyPrice(evt)
		_ = retryWrite(ctx, ex.dlq, "insert_price", func() error {
			return ex.st.InsertPrice(ex.cfg.Exchange, ex.cfg.Symbol, evt.Ts, evt.MarkPx, evt.IndexPx, evt.Raw)
		})
	case adapter.EventDisconnected, adapter.EventReconnecting:
		ex.setExchangeErrors(true)
		telemetry.IncReconnect(ex.cfg.Exchange, ex.cfg.Symbol, "backoff")
	case adapter.EventConnected:
		ex.setExchangeErrors(false)
	}
}

func (ex *Executor) applyBBO(evt adapter.MarketEvent) {
	ex.snapMu.Lock()
	defer ex.snapMu.Unlock()
	ex.snap.Exchange = ex.cfg.Exchange
	ex.snap.Symbol = ex.cfg.Symbol
	ex.snap.NowMs = evt.Ts
	ex.snap.BestBidPx = floatDec(evt.BestBidPx)
	ex.snap.BestBidSz = floatDec(evt.BestBidSz)
	ex.snap.BestAskPx = floatDec(evt.BestAskPx)
	ex.snap.BestAskSz = floatDec(evt.BestAskSz)
	ex.snap.LastUpdateMs = evt.Ts
	mid := (evt.BestBidPx + evt.BestAskPx) / 2
	ex.mids = append(ex.mids, domain.MidSnapshot{Ts: evt.Ts, MidPx: mid})
	ex.pruneWindowsLocked(evt.Ts)
}

func (ex *Executor) applyTrade(evt adapter.MarketEvent) {
	ex.snapMu.Lock()
	defer ex.snapMu.Unlock()
	t := domain.Trade{Ts: evt.Ts, Px: floatDec(evt.Px), Sz: floatDec(evt.Sz), Type: evt.TradeType}
	if evt.Side != nil {
		side := domain.Side(*evt.Side)
		t.Side = &side
	}
	ex.trades = append(ex.trades, t)
	ex.pruneWindowsLocked(evt.Ts)
}

func (ex *Executor) applyPrice(evt adapter.MarketEvent) {
	ex.snapMu.Lock()
	defer ex.snapMu.Unlock()
	if evt.MarkPx != nil {
		ex.snap.MarkPx = decPtr(*evt.MarkPx)
	}
	if evt.IndexPx != nil {
		ex.snap.IndexPx = decPtr(*evt.IndexPx)
	}
}

// pruneWindowsLocked drops trades/mids older than 10s. Caller
// must hold snapMu.
func (ex *Executor) pruneWindowsLocked(nowMs int64) {
	cutoff := nowMs - 10000
	ex.trades = pruneTrades(ex.trades, cutoff)
	ex.mids = pruneMids(ex.mids, cutoff)
}

func pruneTrades(trades []domain.Trade, cutoff int64) []domain.Trade {
	i := 0
	for i < len(trades) && trades[i].Ts < cutoff {
		i++
	}
	return trades[i:]
}

func pruneMids(mids []domain.MidSnapshot, cutoff int64) []domain.MidSnapshot {
	i := 0
	for i < len(mids) && mids[i].Ts < cutoff {
		i++
	}
	return mids[i:]
}

// readSnapshot returns a consistent copy of the current snapshot and
// windows for the tick driver to read (single-writer/single-reader
// rolling-window policy).
func (ex *Executor) readSnapshot() (domain.Snapshot, []domain.Trade, []domain.Trade, []domain.MidSnapshot) {
	ex.snapMu.RLock()
	defer ex.snapMu.RUnlock()
	snap := ex.snap
	cutoff1s := snap.NowMs - 1000
	trades1s := pruneTrades(append([]domain.Trade{}, ex.trades...), cutoff1s)
	trades10s := append([]domain.Trade{}, ex.trades...)
	mids10s := append([]domain.MidSnapshot{}, ex.mids...)
	return snap, trades1s, trades10s, mids10s
}

func (ex *Executor) setExchangeErrors(v bool) {
	ex.opMu.Lock()
	ex.exchangeErrors = v
	ex.opMu.Unlock()
}

// State returns the current StrategyState. Safe for concurrent callers; used
// by the dashboard, which is a reader outside the three owning roles.
func (ex *Executor) State() domain.StrategyState {
	ex.stateMu.Lock()
	defer ex.stateMu.Unlock()
	return ex.state
}

// MarketSnapshot returns the current market Snapshot.
func (ex *Executor) MarketSnapshot() domain.Snapshot {
	ex.snapMu.RLock()
	defer ex.snapMu.RUnlock()
	return ex.snap
}

// PositionView returns the current position for display.
func (ex *Executor) PositionView() PositionView {
	return ex.position.View()
}

// Store exposes the underlying store for read-only dashboard queries
// (current params, recent proposals, aggregation inputs). The dashboard never
// writes through this handle.
func (ex *Executor) Store() *store.Store {
	return ex.st
}

// DeadLetterDepth reports how many writes are parked for manual replay.
func (ex *Executor) DeadLetterDepth() int {
	return ex.dlq.Len()
}

// Exchange returns the exchange this executor runs against.
func (ex *Executor) Exchange() string { return ex.cfg.Exchange }

// Symbol returns the symbol this executor runs against.
func (ex *Executor) Symbol() string { return ex.cfg.Symbol }

// ReflectionWindowMinutes returns the configured reflection lookback, reused
// by the dashboard as its default aggregation window size.
func (ex *Executor) ReflectionWindowMinutes() int64 { return ex.cfg.ReflectionWindowMinutes }

// CurrentParams returns the live current strategy params.
func (ex *Executor) CurrentParams() (domain.StrategyParams, error) {
	return ex.st.CurrentParams(ex.cfg.Exchange, ex.cfg.Symbol)
}

// PendingProposal returns the oldest pending proposal, if any.
func (ex *Executor) PendingProposal() (*domain.Proposal, error) {
	return ex.st.OldestPendingProposal(ex.cfg.Exchange, ex.cfg.Symbol)
}

// RecentProposals returns up to limit proposals, most recent first.
func (ex *Executor) RecentProposals(limit int) ([]domain.Proposal, error) {
	return ex.st.RecentProposals(ex.cfg.Exchange, ex.cfg.Symbol, limit)
}

// ————————————————————————————————————————————————————————————————————————
// Tick driver: single writer of StrategyState, only caller of kernel.Decide.
// ————————————————————————————————————————————————————————————————————————

func (ex *Executor) tickLoop(ctx context.Context) {
	interval := time.Duration(ex.cfg.TickIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ex.tick(ctx, now)
		}
	}
}

func (ex *Executor) tick(ctx context.Context, now time.Time) {
	start := time.Now()
	nowMs := now.UnixMilli()

	if ex.watchdog.Check(now) {
		telemetry.IncReconnect(ex.cfg.Exchange, ex.cfg.Symbol, "watchdog")
	}

	curParams, err := ex.st.CurrentParams(ex.cfg.Exchange, ex.cfg.Symbol)
	if err != nil {
		ex.logger.Error("load current params failed", "error", err)
		return
	}

	snap, trades1s, trades10s, mids10s := ex.readSnapshot()
	snap.NowMs = nowMs
	feats := feature.Calc(snap, trades1s, trades10s, mids10s, curParams)

	ex.stateMu.Lock()
	curState := ex.state
	ex.stateMu.Unlock()

	out := kernel.Decide(kernel.Input{
		NowMs: nowMs, State: curState, Features: feats, Params: curParams, Position: ex.position.Snapshot(),
	})

	for _, intent := range out.Intents {
		ex.executeIntent(ctx, intent, nowMs)
	}

	ex.stateMu.Lock()
	enteringPause := out.NextState.Mode == domain.ModePause && curState.Mode != domain.ModePause
	ex.state = out.NextState
	ex.stateMu.Unlock()
	telemetry.SetMode(ex.cfg.Exchange, ex.cfg.Symbol, string(out.NextState.Mode))

	if out.NextState.Mode == domain.ModePause {
		_ = retryWrite(ctx, ex.dlq, "state_snapshot", func() error {
			return ex.st.InsertStateSnapshot(ex.cfg.Exchange, ex.cfg.Symbol, nowMs, out.NextState)
		})
	}
	if enteringPause {
		ex.logger.Info("entering PAUSE", "reasons", out.Intents[0].ReasonCodes)
	}

	ex.tickCount++
	if ex.tickCount%applyEveryNTicks == 0 {
		ex.applyPendingProposal(nowMs)
	}

	telemetry.ObserveTickLatency(ex.cfg.Exchange, ex.cfg.Symbol, float64(time.Since(start).Microseconds())/1000.0)
	telemetry.SetDeadLetterDepth(ex.cfg.Exchange, ex.cfg.Symbol, ex.dlq.Len())
}

func (ex *Executor) executeIntent(ctx context.Context, intent domain.OrderIntent, nowMs int64) {
	switch intent.Kind {
	case domain.IntentCancelAll:
		if err := ex.trading.CancelAll(ctx); err != nil {
			ex.logger.Warn("cancel-all failed", "error", err)
			ex.setExchangeErrors(true)
			return
		}
		ex.setExchangeErrors(false)
		_ = retryWrite(ctx, ex.dlq, "order_event_cancel", func() error {
			return ex.st.InsertOrderEvent(ex.cfg.Exchange, ex.cfg.Symbol, "", "cancel", nil, nil, nil, nowMs, joinReasons(intent.ReasonCodes))
		})
	case domain.IntentQuote:
		bidPx, _ := intent.BidPx.Float64()
		askPx, _ := intent.AskPx.Float64()
		sz, _ := intent.Size.Float64()

		bidID := uuid.NewString()
		bidRes, err := ex.trading.PlaceOrder(ctx, domain.Buy, bidPx, sz, bidID)
		ex.recordOrderResult(ctx, domain.Buy, bidPx, sz, bidID, bidRes, err, nowMs)

		askID := uuid.NewString()
		askRes, err := ex.trading.PlaceOrder(ctx, domain.Sell, askPx, sz, askID)
		ex.recordOrderResult(ctx, domain.Sell, askPx, sz, askID, askRes, err, nowMs)
	}
}

func (ex *Executor) recordOrderResult(ctx context.Context, side domain.Side, px, sz float64, clientOrderID string, res adapter.OrderResult, err error, nowMs int64) {
	sidePtr := new(string)
	*sidePtr = string(side)
	if err != nil {
		ex.setExchangeErrors(true)
		_ = retryWrite(ctx, ex.dlq, "order_event_reject", func() error {
			return ex.st.InsertOrderEvent(ex.cfg.Exchange, ex.cfg.Symbol, clientOrderID, "reject", sidePtr, &px, &sz, nowMs, err.Error())
		})
		return
	}
	ex.setExchangeErrors(false)
	eventType := "ack"
	reason := ""
	if res.Rejected {
		eventType = "reject"
		reason = res.RejectReason
	}
	_ = retryWrite(ctx, ex.dlq, "order_event_"+eventType, func() error {
		return ex.st.InsertOrderEvent(ex.cfg.Exchange, ex.cfg.Symbol, clientOrderID, eventType, sidePtr, &px, &sz, nowMs, reason)
	})
}

func joinReasons(reasons []domain.ReasonCode) string {
	if len(reasons) == 0 {
		return ""
	}
	s := string(reasons[0])
	for _, r := range reasons[1:] {
		s += "," + string(r)
	}
	return s
}

// ————————————————————————————————————————————————————————————————————————
// Fill consumer: single writer of PositionTracker, sole producer for the
// enrichment queue (which here is just "rows exist in ex_fill" — the
// enricher pulls unprocessed rows on its own schedule).
// ————————————————————————————————————————————————————————————————————————

func (ex *Executor) fillLoop(ctx context.Context) {
	ticker := time.NewTicker(fillPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ex.pollFills(ctx)
			if n, err := ex.enricher.RunOnce(ex.cfg.Exchange, ex.cfg.Symbol, now.UnixMilli()); err != nil {
				ex.logger.Warn("enrichment run failed", "error", err)
			} else if n > 0 {
				ex.logger.Debug("enriched fills", "count", n)
			}
		}
	}
}

func (ex *Executor) pollFills(ctx context.Context) {
	ex.opMu.Lock()
	since := ex.lastFillPollMs
	ex.opMu.Unlock()

	fills, err := ex.trading.PollFills(ctx, since)
	if err != nil {
		ex.logger.Warn("poll fills failed", "error", err)
		ex.setExchangeErrors(true)
		return
	}
	if len(fills) == 0 {
		return
	}

	curParams, _ := ex.st.CurrentParams(ex.cfg.Exchange, ex.cfg.Symbol)
	maxTs := since
	for _, f := range fills {
		f.ParamsSetID = curParams.ParamsSetID
		ex.position.UpdateFromFill(f)
		_ = retryWrite(ctx, ex.dlq, "insert_fill", func() error {
			return ex.st.InsertFill(f)
		})
		if f.Ts > maxTs {
			maxTs = f.Ts
		}
	}

	ex.opMu.Lock()
	ex.lastFillPollMs = maxTs
	ex.opMu.Unlock()
}

// ————————————————————————————————————————————————————————————————————————
// Proposal apply
// ————————————————————————————————————————————————————————————————————————

func (ex *Executor) applyPendingProposal(nowMs int64) {
	opCtx := ex.operationalContext(nowMs)
	result, err := params.Apply(ex.st, params.Options{
		Exchange: ex.cfg.Exchange, Symbol: ex.cfg.Symbol,
		BoundaryMinutes:          int(ex.cfg.ProposalApplyBoundaryMinutes),
		GraceSeconds:             int(ex.cfg.ProposalApplyBoundaryGraceSeconds),
		MaxPauseCountForApply:    ex.cfg.MaxPauseCountForApply,
		MinMarkout10sP50ForApply: ex.cfg.MinMarkout10sP50ForApply,
	}, nowMs, opCtx)
	if err != nil {
		ex.logger.Error("proposal apply failed", "error", err)
		return
	}
	switch result.Status {
	case params.StatusApplied:
		telemetry.IncProposalApplied(ex.cfg.Exchange, ex.cfg.Symbol)
		telemetry.IncRollout(ex.cfg.Exchange, ex.cfg.Symbol, "apply")
		ex.logger.Info("proposal applied", "proposalId", result.ProposalID, "changedKeys", result.ChangedKeys)
	case params.StatusRejected:
		telemetry.IncProposalRejected(ex.cfg.Exchange, ex.cfg.Symbol)
		telemetry.IncRollout(ex.cfg.Exchange, ex.cfg.Symbol, "reject")
		ex.logger.Info("proposal rejected", "proposalId", result.ProposalID, "reason", result.Reason)
	}
}

func (ex *Executor) operationalContext(nowMs int64) domain.OperationalContext {
	hourAgo := nowMs - 3600000
	pauseCount, _ := ex.st.PauseCountInWindow(ex.cfg.Exchange, ex.cfg.Symbol, hourAgo, nowMs)

	ex.opMu.Lock()
	exchangeErrors := ex.exchangeErrors
	ex.opMu.Unlock()

	ex.snapMu.RLock()
	stale := ex.snap.NowMs-ex.snap.LastUpdateMs > ex.cfg.StaleCancelMs
	ex.snapMu.RUnlock()

	return domain.OperationalContext{
		PauseCountLastHour: pauseCount,
		DataStale:          stale,
		DBWriteFailures:    ex.dlq.NonEmpty(),
		ExchangeErrors:     exchangeErrors,
	}
}

// ————————————————————————————————————————————————————————————————————————
// Reflection loop: periodically aggregates the recent window and submits it
// to the LLM reflector, writing the reasoning log before inserting the
// resulting proposal (file-first write discipline).
// ————————————————————————————————————————————————————————————————————————

func (ex *Executor) reflectionLoop(ctx context.Context) {
	interval := time.Duration(ex.cfg.ReflectionIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := ex.reflect(ctx, now.UnixMilli()); err != nil {
				ex.logger.Warn("reflection cycle aborted", "error", err)
			}
		}
	}
}

func (ex *Executor) reflect(ctx context.Context, nowMs int64) error {
	windowStart := nowMs - ex.cfg.ReflectionWindowMinutes*60*1000
	windowEnd := nowMs

	fills, err := ex.enrichedFillsInWindow(windowStart, windowEnd)
	if err != nil {
		return fmt.Errorf("reflect: load enriched fills: %w", err)
	}
	cancelCount, _ := ex.st.CancelCountInWindow(ex.cfg.Exchange, ex.cfg.Symbol, windowStart, windowEnd)
	pauseCount, _ := ex.st.PauseCountInWindow(ex.cfg.Exchange, ex.cfg.Symbol, windowStart, windowEnd)

	window := enrich.Aggregate(enrich.AggregateInputs{
		WindowStart: windowStart, WindowEnd: windowEnd, EnrichedFills: fills,
		CancelCount: cancelCount, PauseCount: pauseCount,
	})

	curParams, err := ex.st.CurrentParams(ex.cfg.Exchange, ex.cfg.Symbol)
	if err != nil {
		return fmt.Errorf("reflect: load current params: %w", err)
	}

	systemPrompt := reflectorSystemPrompt()
	userPrompt := reflectorUserPrompt(window, curParams)

	resp, err := ex.llmc.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return fmt.Errorf("reflect: %w", err)
	}

	proposal, err := llm.ToProposal(resp, ex.cfg.Exchange, ex.cfg.Symbol, nowMs, windowStart, windowEnd, curParams.ParamsSetID)
	if err != nil {
		return fmt.Errorf("reflect: shape-invalid model output: %w", err)
	}

	written, err := llm.WriteReasoningLog(proposal, llm.WriteReasoningLogInputs{
		LogDir: ex.cfg.LogDir, NowMs: nowMs, CurrentParams: curParams, Window: window, ReasoningTrace: resp.ReasoningTrace,
	})
	if err != nil {
		return fmt.Errorf("reflect: write reasoning log: %w", err)
	}

	if err := ex.st.InsertProposal(written); err != nil {
		return fmt.Errorf("reflect: insert proposal: %w", err)
	}
	ex.logger.Info("reflection produced proposal", "proposalId", written.ProposalID, "changes", written.Changes)
	return nil
}

// AggregationSnapshot builds the same windowed summary the reflection loop
// feeds to the LLM, for display rather than for a proposal. windowMinutes
// sizes the lookback from nowMs.
func (ex *Executor) AggregationSnapshot(nowMs, windowMinutes int64) (domain.AggregationWindow, error) {
	windowStart := nowMs - windowMinutes*60*1000
	fills, err := ex.enrichedFillsInWindow(windowStart, nowMs)
	if err != nil {
		return domain.AggregationWindow{}, fmt.Errorf("aggregation snapshot: load enriched fills: %w", err)
	}
	cancelCount, _ := ex.st.CancelCountInWindow(ex.cfg.Exchange, ex.cfg.Symbol, windowStart, nowMs)
	pauseCount, _ := ex.st.PauseCountInWindow(ex.cfg.Exchange, ex.cfg.Symbol, windowStart, nowMs)
	return enrich.Aggregate(enrich.AggregateInputs{
		WindowStart: windowStart, WindowEnd: nowMs, EnrichedFills: fills,
		CancelCount: cancelCount, PauseCount: pauseCount,
	}), nil
}

func (ex *Executor) enrichedFillsInWindow(fromTs, toTs int64) ([]domain.EnrichedFill, error) {
	rows, err := ex.st.SqlDB().Query(`SELECT fill_id, ts, side, fill_px, fill_sz, mid_t0, mid_t1s, mid_t10s, mid_t60s,
		markout_1s_bps, markout_10s_bps, markout_60s_bps, spread_bps_t0, trade_imbalance_1s_t0, realized_vol_10s_t0,
		mark_index_div_bps_t0, liq_count_10s_t0, state, params_set_id
		FROM fills_enriched WHERE ts >= ? AND ts < ? ORDER BY ts`, fromTs, toTs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EnrichedFill
	for rows.Next() {
		var ef domain.EnrichedFill
		var side string
		var fillPx, fillSz float64
		if err := rows.Scan(&ef.FillID, &ef.Ts, &side, &fillPx, &fillSz, &ef.MidT0, &ef.MidT1s, &ef.MidT10s, &ef.MidT60s,
			&ef.Markout1sBps, &ef.Markout10sBps, &ef.Markout60sBps, &ef.SpreadBpsT0, &ef.TradeImbalance1sT0,
			&ef.RealizedVol10sT0, &ef.MarkIndexDivBpsT0, &ef.LiqCount10sT0, &ef.State, &ef.ParamsSetID); err != nil {
			continue
		}
		ef.Side = domain.Side(side)
		ef.FillPx = floatDec(fillPx)
		ef.FillSz = floatDec(fillSz)
		out = append(out, ef)
	}
	return out, nil
}

func reflectorSystemPrompt() string {
	return "You tune a perpetual-futures market maker's ten numeric parameters within narrow bounds. " +
		"Propose 1-2 parameter changes as a JSON object with changes, rollbackConditions, and reasoningTrace."
}

func reflectorUserPrompt(window domain.AggregationWindow, p domain.StrategyParams) string {
	return fmt.Sprintf("window=%+v currentParams=%+v", window, p)
}

func floatDec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}
