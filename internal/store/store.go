// Package store is the relational persistence layer: versioned SQLite
// migrations, append-only market-data/event tables, and the current-params
// cell. Grounded on stadam23-Eve-flipper/internal/db/db.go's
// `if version < N { ... }` migration idiom and nearest-neighbor query style,
// adapted from its flipper-specific tables to the logical tables named in
// Tables: md_bbo, md_trade, md_price, latest_top, latest_position,
// ex_order_event, ex_fill, fills_enriched, strategy_params, strategy_state,
// llm_proposal, param_rollout. The write-to-temp-then-rename atomic-write
// discipline survives in the reasoning-log writer in
// internal/llm, which still writes-then-renames.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"mmbot/internal/domain"
)

// Store wraps a SQLite connection with the queries the bot's components need.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and runs migrations.
// An empty path or ":memory:" opens an in-memory database.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == "" || path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=busy_timeout(5000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping db: %w", err)
	}
	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SqlDB exposes the raw *sql.DB for callers that need it directly (metrics,
// ad hoc diagnostics).
func (s *Store) SqlDB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	version := 0
	s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS md_bbo (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				best_bid_px REAL NOT NULL,
				best_bid_sz REAL NOT NULL,
				best_ask_px REAL NOT NULL,
				best_ask_sz REAL NOT NULL,
				mid_px REAL NOT NULL,
				seq INTEGER,
				raw_json TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_md_bbo_lookup ON md_bbo(exchange, symbol, ts DESC);

			CREATE TABLE IF NOT EXISTS md_trade (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				trade_id TEXT,
				side TEXT,
				px REAL NOT NULL,
				sz REAL NOT NULL,
				type TEXT,
				seq INTEGER,
				raw_json TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_md_trade_lookup ON md_trade(exchange, symbol, ts DESC);

			CREATE TABLE IF NOT EXISTS md_price (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				mark_px REAL,
				index_px REAL,
				raw_json TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_md_price_lookup ON md_price(exchange, symbol, ts DESC);

			CREATE TABLE IF NOT EXISTS latest_top (
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				best_bid_px REAL NOT NULL,
				best_bid_sz REAL NOT NULL,
				best_ask_px REAL NOT NULL,
				best_ask_sz REAL NOT NULL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (exchange, symbol)
			);

			CREATE TABLE IF NOT EXISTS latest_position (
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				size REAL NOT NULL,
				entry_price REAL,
				unrealized_pnl REAL,
				updated_at INTEGER NOT NULL,
				PRIMARY KEY (exchange, symbol)
			);

			CREATE TABLE IF NOT EXISTS ex_order_event (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				client_order_id TEXT,
				event_type TEXT NOT NULL,
				side TEXT,
				px REAL,
				sz REAL,
				reason TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_order_event_lookup ON ex_order_event(exchange, symbol, ts DESC);

			CREATE TABLE IF NOT EXISTS ex_fill (
				id TEXT PRIMARY KEY,
				ts INTEGER NOT NULL,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				client_order_id TEXT,
				side TEXT NOT NULL,
				fill_px REAL NOT NULL,
				fill_sz REAL NOT NULL,
				liquidity TEXT,
				state TEXT,
				params_set_id TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_fill_lookup ON ex_fill(exchange, symbol, ts);

			CREATE TABLE IF NOT EXISTS fills_enriched (
				fill_id TEXT PRIMARY KEY REFERENCES ex_fill(id),
				ts INTEGER NOT NULL,
				side TEXT NOT NULL,
				fill_px REAL NOT NULL,
				fill_sz REAL NOT NULL,
				mid_t0 REAL, mid_t1s REAL, mid_t10s REAL, mid_t60s REAL,
				markout_1s_bps REAL, markout_10s_bps REAL, markout_60s_bps REAL,
				spread_bps_t0 REAL,
				trade_imbalance_1s_t0 REAL,
				realized_vol_10s_t0 REAL,
				mark_index_div_bps_t0 REAL,
				liq_count_10s_t0 INTEGER,
				state TEXT,
				params_set_id TEXT
			);

			CREATE TABLE IF NOT EXISTS strategy_params (
				params_set_id TEXT PRIMARY KEY,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				base_half_spread_bps REAL NOT NULL,
				vol_spread_gain REAL NOT NULL,
				tox_spread_gain REAL NOT NULL,
				quote_size_usd REAL NOT NULL,
				refresh_interval_ms INTEGER NOT NULL,
				stale_cancel_ms INTEGER NOT NULL,
				max_inventory REAL NOT NULL,
				inventory_skew_gain REAL NOT NULL,
				pause_mark_index_bps REAL NOT NULL,
				pause_liq_count_10s INTEGER NOT NULL,
				is_current INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_params_current ON strategy_params(exchange, symbol, is_current);

			CREATE TABLE IF NOT EXISTS strategy_state (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				mode TEXT NOT NULL,
				mode_since_ms INTEGER NOT NULL,
				pause_until_ms INTEGER,
				last_quote_ms INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_state_lookup ON strategy_state(exchange, symbol, ts DESC);

			CREATE TABLE IF NOT EXISTS llm_proposal (
				proposal_id TEXT PRIMARY KEY,
				exchange TEXT NOT NULL,
				symbol TEXT NOT NULL,
				ts INTEGER NOT NULL,
				window_start INTEGER NOT NULL,
				window_end INTEGER NOT NULL,
				current_params_set_id TEXT NOT NULL,
				changes_json TEXT NOT NULL,
				rollback_json TEXT NOT NULL,
				reasoning_log_path TEXT NOT NULL,
				reasoning_log_sha256 TEXT NOT NULL,
				status TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_proposal_pending ON llm_proposal(exchange, symbol, status, ts);

			CREATE TABLE IF NOT EXISTS param_rollout (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				ts INTEGER NOT NULL,
				proposal_id TEXT,
				from_params_set_id TEXT NOT NULL,
				to_params_set_id TEXT,
				action TEXT NOT NULL,
				reason TEXT NOT NULL,
				metrics_snapshot TEXT
			);

			INSERT INTO schema_version(version) VALUES (1);
		`); err != nil {
			return fmt.Errorf("migration 1: %w", err)
		}
	}

	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Market-data writes
// ————————————————————————————————————————————————————————————————————————

// InsertBBO appends one BBO row and upserts latest_top.
func (s *Store) InsertBBO(exchange, symbol string, ts int64, bidPx, bidSz, askPx, askSz float64, seq *int64, rawJSON string) error {
	midPx := (bidPx + askPx) / 2
	if _, err := s.db.Exec(`INSERT INTO md_bbo(ts, exchange, symbol, best_bid_px, best_bid_sz, best_ask_px, best_ask_sz, mid_px, seq, raw_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`, ts, exchange, symbol, bidPx, bidSz, askPx, askSz, midPx, seq, rawJSON); err != nil {
		return fmt.Errorf("store: insert md_bbo: %w", err)
	}
	if _, err := s.db.Exec(`INSERT INTO latest_top(exchange, symbol, best_bid_px, best_bid_sz, best_ask_px, best_ask_sz, updated_at)
		VALUES (?,?,?,?,?,?,?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET best_bid_px=excluded.best_bid_px, best_bid_sz=excluded.best_bid_sz,
			best_ask_px=excluded.best_ask_px, best_ask_sz=excluded.best_ask_sz, updated_at=excluded.updated_at`,
		exchange, symbol, bidPx, bidSz, askPx, askSz, ts); err != nil {
		return fmt.Errorf("store: upsert latest_top: %w", err)
	}
	return nil
}

// InsertTrade appends one md_trade row.
func (s *Store) InsertTrade(exchange, symbol string, ts int64, tradeID string, side *string, px, sz float64, tradeType string, seq *int64, rawJSON string) error {
	_, err := s.db.Exec(`INSERT INTO md_trade(ts, exchange, symbol, trade_id, side, px, sz, type, seq, raw_json)
		VALUES (?,?,?,?,?,?,?,?,?,?)`, ts, exchange, symbol, tradeID, side, px, sz, tradeType, seq, rawJSON)
	if err != nil {
		return fmt.Errorf("store: insert md_trade: %w", err)
	}
	return nil
}

// InsertPrice appends one md_price row (mark/index).
func (s *Store) InsertPrice(exchange, symbol string, ts int64, markPx, indexPx *float64, rawJSON string) error {
	_, err := s.db.Exec(`INSERT INTO md_price(ts, exchange, symbol, mark_px, index_px, raw_json) VALUES (?,?,?,?,?,?)`,
		ts, exchange, symbol, markPx, indexPx, rawJSON)
	if err != nil {
		return fmt.Errorf("store: insert md_price: %w", err)
	}
	return nil
}

// UpsertPosition writes latest_position.
func (s *Store) UpsertPosition(exchange, symbol string, size float64, entryPrice, uPnL *float64, updatedAt int64) error {
	_, err := s.db.Exec(`INSERT INTO latest_position(exchange, symbol, size, entry_price, unrealized_pnl, updated_at)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET size=excluded.size, entry_price=excluded.entry_price,
			unrealized_pnl=excluded.unrealized_pnl, updated_at=excluded.updated_at`,
		exchange, symbol, size, entryPrice, uPnL, updatedAt)
	if err != nil {
		return fmt.Errorf("store: upsert latest_position: %w", err)
	}
	return nil
}

// InsertOrderEvent appends one order-lifecycle event row.
func (s *Store) InsertOrderEvent(exchange, symbol, clientOrderID, eventType string, side *string, px, sz *float64, ts int64, reason string) error {
	_, err := s.db.Exec(`INSERT INTO ex_order_event(ts, exchange, symbol, client_order_id, event_type, side, px, sz, reason)
		VALUES (?,?,?,?,?,?,?,?,?)`, ts, exchange, symbol, clientOrderID, eventType, side, px, sz, reason)
	if err != nil {
		return fmt.Errorf("store: insert ex_order_event: %w", err)
	}
	return nil
}

// InsertFill appends one immutable fill record.
func (s *Store) InsertFill(f domain.Fill) error {
	fillPx, _ := f.FillPx.Float64()
	fillSz, _ := f.FillSz.Float64()
	_, err := s.db.Exec(`INSERT INTO ex_fill(id, ts, exchange, symbol, client_order_id, side, fill_px, fill_sz, liquidity, state, params_set_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO NOTHING`,
		f.ID, f.Ts, f.Exchange, f.Symbol, f.ClientOrderID, string(f.Side), fillPx, fillSz, f.Liquidity, f.State, f.ParamsSetID)
	if err != nil {
		return fmt.Errorf("store: insert ex_fill: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Strategy state/params
// ————————————————————————————————————————————————————————————————————————

// InsertStateSnapshot appends one strategy_state row, used by the executor
// on every PAUSE-entering or PAUSE-remaining tick.
func (s *Store) InsertStateSnapshot(exchange, symbol string, ts int64, state domain.StrategyState) error {
	_, err := s.db.Exec(`INSERT INTO strategy_state(ts, exchange, symbol, mode, mode_since_ms, pause_until_ms, last_quote_ms)
		VALUES (?,?,?,?,?,?,?)`, ts, exchange, symbol, string(state.Mode), state.ModeSinceMs, state.PauseUntilMs, state.LastQuoteMs)
	if err != nil {
		return fmt.Errorf("store: insert strategy_state: %w", err)
	}
	return nil
}

// PauseCountInWindow counts strategy_state rows with mode=PAUSE in
// [start, end) — the chosen resolution of the PAUSE-counting open question
// (option (a), see DESIGN.md).
func (s *Store) PauseCountInWindow(exchange, symbol string, start, end int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM strategy_state WHERE exchange=? AND symbol=? AND mode='PAUSE' AND ts >= ? AND ts < ?`,
		exchange, symbol, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count pauses: %w", err)
	}
	return n, nil
}

// CancelCountInWindow counts ex_order_event rows with event_type='cancel'.
func (s *Store) CancelCountInWindow(exchange, symbol string, start, end int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ex_order_event WHERE exchange=? AND symbol=? AND event_type='cancel' AND ts >= ? AND ts < ?`,
		exchange, symbol, start, end).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count cancels: %w", err)
	}
	return n, nil
}

// SeedParams inserts the first strategy_params row and marks it current,
// used at first boot when no params row exists yet.
func (s *Store) SeedParams(exchange, symbol string, p domain.StrategyParams) error {
	return s.insertParamsRow(exchange, symbol, p, true)
}

func (s *Store) insertParamsRow(exchange, symbol string, p domain.StrategyParams, current bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback()

	if current {
		if _, err := tx.Exec(`UPDATE strategy_params SET is_current=0 WHERE exchange=? AND symbol=? AND is_current=1`, exchange, symbol); err != nil {
			return fmt.Errorf("store: clear current params: %w", err)
		}
	}
	isCur := 0
	if current {
		isCur = 1
	}
	_, err = tx.Exec(`INSERT INTO strategy_params(params_set_id, exchange, symbol, base_half_spread_bps, vol_spread_gain,
		tox_spread_gain, quote_size_usd, refresh_interval_ms, stale_cancel_ms, max_inventory, inventory_skew_gain,
		pause_mark_index_bps, pause_liq_count_10s, is_current, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ParamsSetID, exchange, symbol, p.BaseHalfSpreadBps, p.VolSpreadGain, p.ToxSpreadGain, p.QuoteSizeUsd,
		p.RefreshIntervalMs, p.StaleCancelMs, p.MaxInventory, p.InventorySkewGain, p.PauseMarkIndexBps,
		p.PauseLiqCount10s, isCur, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: insert strategy_params: %w", err)
	}
	return tx.Commit()
}

// CurrentParams returns the row with is_current=1 for (exchange, symbol),
// implementing params.Store's read side of the current-params cell.
func (s *Store) CurrentParams(exchange, symbol string) (domain.StrategyParams, error) {
	var p domain.StrategyParams
	row := s.db.QueryRow(`SELECT params_set_id, base_half_spread_bps, vol_spread_gain, tox_spread_gain, quote_size_usd,
		refresh_interval_ms, stale_cancel_ms, max_inventory, inventory_skew_gain, pause_mark_index_bps, pause_liq_count_10s
		FROM strategy_params WHERE exchange=? AND symbol=? AND is_current=1 LIMIT 1`, exchange, symbol)
	err := row.Scan(&p.ParamsSetID, &p.BaseHalfSpreadBps, &p.VolSpreadGain, &p.ToxSpreadGain, &p.QuoteSizeUsd,
		&p.RefreshIntervalMs, &p.StaleCancelMs, &p.MaxInventory, &p.InventorySkewGain, &p.PauseMarkIndexBps, &p.PauseLiqCount10s)
	if err != nil {
		return domain.StrategyParams{}, fmt.Errorf("store: load current params: %w", err)
	}
	return p, nil
}

// PromoteParams inserts next as the new current params row, atomically
// demoting the previous current row. Matches the applier's one-writer
// "current params cell" requirement.
func (s *Store) PromoteParams(exchange, symbol string, next domain.StrategyParams) error {
	return s.insertParamsRow(exchange, symbol, next, true)
}

// ————————————————————————————————————————————————————————————————————————
// Proposals and audit trail
// ————————————————————————————————————————————————————————————————————————

// InsertProposal writes a new pending proposal row.
func (s *Store) InsertProposal(p domain.Proposal) error {
	changesJSON, err := json.Marshal(p.Changes)
	if err != nil {
		return fmt.Errorf("store: marshal changes: %w", err)
	}
	rollbackJSON, err := json.Marshal(p.Rollback)
	if err != nil {
		return fmt.Errorf("store: marshal rollback: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO llm_proposal(proposal_id, exchange, symbol, ts, window_start, window_end,
		current_params_set_id, changes_json, rollback_json, reasoning_log_path, reasoning_log_sha256, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ProposalID, p.Exchange, p.Symbol, p.Ts, p.WindowStart, p.WindowEnd, p.CurrentParamsSetID,
		string(changesJSON), string(rollbackJSON), p.ReasoningLogPath, p.ReasoningLogSha256, string(domain.ProposalPending))
	if err != nil {
		return fmt.Errorf("store: insert llm_proposal: %w", err)
	}
	return nil
}

// OldestPendingProposal loads the oldest pending proposal for (exchange, symbol).
func (s *Store) OldestPendingProposal(exchange, symbol string) (*domain.Proposal, error) {
	row := s.db.QueryRow(`SELECT proposal_id, exchange, symbol, ts, window_start, window_end, current_params_set_id,
		changes_json, rollback_json, reasoning_log_path, reasoning_log_sha256, status
		FROM llm_proposal WHERE exchange=? AND symbol=? AND status='pending' ORDER BY ts ASC LIMIT 1`, exchange, symbol)

	var p domain.Proposal
	var changesJSON, rollbackJSON, status string
	err := row.Scan(&p.ProposalID, &p.Exchange, &p.Symbol, &p.Ts, &p.WindowStart, &p.WindowEnd, &p.CurrentParamsSetID,
		&changesJSON, &rollbackJSON, &p.ReasoningLogPath, &p.ReasoningLogSha256, &status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: load pending proposal: %w", err)
	}
	if err := json.Unmarshal([]byte(changesJSON), &p.Changes); err != nil {
		return nil, fmt.Errorf("store: unmarshal changes: %w", err)
	}
	if err := json.Unmarshal([]byte(rollbackJSON), &p.Rollback); err != nil {
		return nil, fmt.Errorf("store: unmarshal rollback: %w", err)
	}
	p.Status = domain.ProposalStatus(status)
	return &p, nil
}

// RecentProposals loads up to limit proposals for (exchange, symbol), most
// recent first. Used by the dashboard; not on any hot path.
func (s *Store) RecentProposals(exchange, symbol string, limit int) ([]domain.Proposal, error) {
	rows, err := s.db.Query(`SELECT proposal_id, exchange, symbol, ts, window_start, window_end, current_params_set_id,
		changes_json, rollback_json, reasoning_log_path, reasoning_log_sha256, status
		FROM llm_proposal WHERE exchange=? AND symbol=? ORDER BY ts DESC LIMIT ?`, exchange, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query recent proposals: %w", err)
	}
	defer rows.Close()

	var out []domain.Proposal
	for rows.Next() {
		var p domain.Proposal
		var changesJSON, rollbackJSON, status string
		if err := rows.Scan(&p.ProposalID, &p.Exchange, &p.Symbol, &p.Ts, &p.WindowStart, &p.WindowEnd, &p.CurrentParamsSetID,
			&changesJSON, &rollbackJSON, &p.ReasoningLogPath, &p.ReasoningLogSha256, &status); err != nil {
			return nil, fmt.Errorf("store: scan recent proposal: %w", err)
		}
		if err := json.Unmarshal([]byte(changesJSON), &p.Changes); err != nil {
			return nil, fmt.Errorf("store: unmarshal changes: %w", err)
		}
		if err := json.Unmarshal([]byte(rollbackJSON), &p.Rollback); err != nil {
			return nil, fmt.Errorf("store: unmarshal rollback: %w", err)
		}
		p.Status = domain.ProposalStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkProposalStatus transitions a proposal to applied/rejected.
func (s *Store) MarkProposalStatus(proposalID string, status domain.ProposalStatus) error {
	_, err := s.db.Exec(`UPDATE llm_proposal SET status=? WHERE proposal_id=?`, string(status), proposalID)
	if err != nil {
		return fmt.Errorf("store: update proposal status: %w", err)
	}
	return nil
}

// AppendRollout writes one append-only audit row.
func (s *Store) AppendRollout(row domain.ParamRollout) error {
	_, err := s.db.Exec(`INSERT INTO param_rollout(ts, proposal_id, from_params_set_id, to_params_set_id, action, reason, metrics_snapshot)
		VALUES (?,?,?,?,?,?,?)`,
		row.Ts, row.ProposalID, row.FromParamsSetID, row.ToParamsSetID, string(row.Action), row.Reason, row.MetricsSnapshot)
	if err != nil {
		return fmt.Errorf("store: append param_rollout: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Enrichment reads (implements enrich.DataSource)
// ————————————————————————————————————————————————————————————————————————

// NearestMid implements enrich.DataSource: nearest md_bbo mid_px within tolerance.
func (s *Store) NearestMid(exchange, symbol string, ts, toleranceMs int64) (float64, bool) {
	var mid float64
	err := s.db.QueryRow(`SELECT mid_px FROM md_bbo WHERE exchange=? AND symbol=? AND ts BETWEEN ? AND ?
		ORDER BY ABS(ts - ?) LIMIT 1`, exchange, symbol, ts-toleranceMs, ts+toleranceMs, ts).Scan(&mid)
	if err != nil {
		return 0, false
	}
	return mid, true
}

// NearestMarkIndex implements enrich.DataSource.
func (s *Store) NearestMarkIndex(exchange, symbol string, ts, toleranceMs int64) (float64, float64, bool) {
	var mark, index sql.NullFloat64
	err := s.db.QueryRow(`SELECT mark_px, index_px FROM md_price WHERE exchange=? AND symbol=? AND ts BETWEEN ? AND ?
		ORDER BY ABS(ts - ?) LIMIT 1`, exchange, symbol, ts-toleranceMs, ts+toleranceMs, ts).Scan(&mark, &index)
	if err != nil || !mark.Valid || !index.Valid {
		return 0, 0, false
	}
	return mark.Float64, index.Float64, true
}

// SpreadBpsAt implements enrich.DataSource.
func (s *Store) SpreadBpsAt(exchange, symbol string, ts, toleranceMs int64) (float64, bool) {
	var bid, ask float64
	err := s.db.QueryRow(`SELECT best_bid_px, best_ask_px FROM md_bbo WHERE exchange=? AND symbol=? AND ts BETWEEN ? AND ?
		ORDER BY ABS(ts - ?) LIMIT 1`, exchange, symbol, ts-toleranceMs, ts+toleranceMs, ts).Scan(&bid, &ask)
	if err != nil {
		return 0, false
	}
	mid := (bid + ask) / 2
	if mid == 0 {
		return 0, false
	}
	return (ask - bid) / mid * 10000, true
}

// TradesInWindow implements enrich.DataSource.
func (s *Store) TradesInWindow(exchange, symbol string, fromTs, toTs int64) []domain.Trade {
	rows, err := s.db.Query(`SELECT ts, px, sz, side, type FROM md_trade WHERE exchange=? AND symbol=? AND ts >= ? AND ts < ? ORDER BY ts`,
		exchange, symbol, fromTs, toTs)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var ts int64
		var px, sz float64
		var side sql.NullString
		var typ sql.NullString
		if err := rows.Scan(&ts, &px, &sz, &side, &typ); err != nil {
			continue
		}
		t := domain.Trade{Ts: ts, Px: floatToDecimal(px), Sz: floatToDecimal(sz), Type: typ.String}
		if side.Valid {
			sd := domain.Side(side.String)
			t.Side = &sd
		}
		out = append(out, t)
	}
	return out
}

// MidsInWindow implements enrich.DataSource, capped at maxN most recent points.
func (s *Store) MidsInWindow(exchange, symbol string, fromTs, toTs int64, maxN int) []float64 {
	rows, err := s.db.Query(`SELECT mid_px FROM md_bbo WHERE exchange=? AND symbol=? AND ts >= ? AND ts < ?
		ORDER BY ts DESC LIMIT ?`, exchange, symbol, fromTs, toTs, maxN)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var mid float64
		if err := rows.Scan(&mid); err != nil {
			continue
		}
		out = append(out, mid)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// UnprocessedFills implements enrich.DataSource: only fills at least 60s old
// (the enrich horizon gate) are returned.
func (s *Store) UnprocessedFills(exchange, symbol string, nowMs int64, batchSize int) ([]domain.Fill, error) {
	rows, err := s.db.Query(`SELECT f.id, f.ts, f.exchange, f.symbol, f.client_order_id, f.side, f.fill_px, f.fill_sz,
		f.liquidity, f.state, f.params_set_id
		FROM ex_fill f LEFT JOIN fills_enriched e ON e.fill_id = f.id
		WHERE f.exchange=? AND f.symbol=? AND e.fill_id IS NULL AND f.ts <= ?
		ORDER BY f.ts ASC LIMIT ?`, exchange, symbol, nowMs-60000, batchSize)
	if err != nil {
		return nil, fmt.Errorf("store: query unprocessed fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side string
		var fillPx, fillSz float64
		if err := rows.Scan(&f.ID, &f.Ts, &f.Exchange, &f.Symbol, &f.ClientOrderID, &side, &fillPx, &fillSz,
			&f.Liquidity, &f.State, &f.ParamsSetID); err != nil {
			continue
		}
		f.Side = domain.Side(side)
		f.FillPx = floatToDecimal(fillPx)
		f.FillSz = floatToDecimal(fillSz)
		out = append(out, f)
	}
	return out, nil
}

// InsertEnrichedFill implements enrich.DataSource, idempotent keyed by fill_id.
func (s *Store) InsertEnrichedFill(ef domain.EnrichedFill) error {
	fillPx, _ := ef.FillPx.Float64()
	fillSz, _ := ef.FillSz.Float64()
	_, err := s.db.Exec(`INSERT INTO fills_enriched(fill_id, ts, side, fill_px, fill_sz, mid_t0, mid_t1s, mid_t10s, mid_t60s,
		markout_1s_bps, markout_10s_bps, markout_60s_bps, spread_bps_t0, trade_imbalance_1s_t0, realized_vol_10s_t0,
		mark_index_div_bps_t0, liq_count_10s_t0, state, params_set_id)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(fill_id) DO NOTHING`,
		ef.FillID, ef.Ts, string(ef.Side), fillPx, fillSz, ef.MidT0, ef.MidT1s, ef.MidT10s, ef.MidT60s,
		ef.Markout1sBps, ef.Markout10sBps, ef.Markout60sBps, ef.SpreadBpsT0, ef.TradeImbalance1sT0,
		ef.RealizedVol10sT0, ef.MarkIndexDivBpsT0, ef.LiqCount10sT0, ef.State, ef.ParamsSetID)
	if err != nil {
		return fmt.Errorf("store: insert fills_enriched: %w", err)
	}
	return nil
}

func floatToDecimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
