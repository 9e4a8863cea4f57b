// Package llm implements the reflector's HTTP call to the parameter-tuning
// model, strict validation of its JSON response shape, and the file-first
// reasoning-log writer whose SHA-256 integrity hash backs every Proposal
// row. Grounded on internal/exchange/client.go's resty-wrapped REST client
// for the HTTP call, and internal/store/store.go's write-to-.tmp-then-rename
// discipline for the reasoning-log file.
package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"mmbot/internal/domain"
)

// Response is the LLM's expected JSON output shape.
// Changes values are accepted as string or number on the wire and are
// normalized to string here; downstream parsing into float64 happens in
// internal/params.
type Response struct {
	Changes            map[string]json.RawMessage `json:"changes"`
	RollbackConditions RollbackConditions          `json:"rollbackConditions"`
	ReasoningTrace      []string                    `json:"reasoningTrace"`
}

// RollbackConditions mirrors domain.RollbackConditions for wire decoding.
type RollbackConditions struct {
	Markout10sP50BelowBps *float64 `json:"markout10sP50BelowBps"`
	PauseCountAbove       *float64 `json:"pauseCountAbove"`
	MaxDurationMs         *float64 `json:"maxDurationMs"`
}

func (r RollbackConditions) toDomain() domain.RollbackConditions {
	return domain.RollbackConditions{
		Markout10sP50BelowBps: r.Markout10sP50BelowBps,
		PauseCountAbove:       r.PauseCountAbove,
		MaxDurationMs:         r.MaxDurationMs,
	}
}

// ErrAgentFailed wraps any failure of the LLM call itself (timeout,
// transport error, non-200 status), surfaced to the caller as "AGENT_FAILED".
type ErrAgentFailed struct {
	Cause error
}

func (e *ErrAgentFailed) Error() string { return fmt.Sprintf("AGENT_FAILED: %v", e.Cause) }
func (e *ErrAgentFailed) Unwrap() error { return e.Cause }

// Client calls the configured model endpoint with a system+user prompt pair
// and returns the parsed Response; shape validation happens in ToProposal.
type Client struct {
	http  *resty.Client
	model string
}

// NewClient constructs a reflector Client against baseURL, authenticating
// with apiKey, using model for every request.
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+apiKey)
	return &Client{http: http, model: model}
}

// Complete submits systemPrompt/userPrompt and returns the parsed
// Response. Any transport failure, timeout, non-200, or malformed JSON
// becomes an *ErrAgentFailed.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (Response, error) {
	payload := struct {
		Model    string `json:"model"`
		System   string `json:"system"`
		Prompt   string `json:"prompt"`
	}{Model: c.model, System: systemPrompt, Prompt: userPrompt}

	var raw struct {
		Output string `json:"output"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(&raw).
		Post("/v1/complete")
	if err != nil {
		return Response{}, &ErrAgentFailed{Cause: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return Response{}, &ErrAgentFailed{Cause: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String())}
	}

	cleaned := stripCodeFence(raw.Output)
	var out Response
	if err := json.Unmarshal([]byte(cleaned), &out); err != nil {
		return Response{}, &ErrAgentFailed{Cause: fmt.Errorf("unparseable model output: %w", err)}
	}
	return out, nil
}

// stripCodeFence removes a leading/trailing ```json or ``` fence some
// models wrap JSON output in.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// ToProposal shape-validates r (rejecting array-shaped changes/rollback
// smuggled in by an older model version) and builds a pending domain.Proposal,
// without yet writing the reasoning log or assigning reasoningLogPath/Sha256
// — WriteReasoningLog fills those in.
func ToProposal(r Response, exchange, symbol string, nowMs, windowStart, windowEnd int64, currentParamsSetID string) (domain.Proposal, error) {
	if len(r.Changes) < 1 || len(r.Changes) > 2 {
		return domain.Proposal{}, fmt.Errorf("changes has %d keys, want 1-2", len(r.Changes))
	}
	changes := make(map[string]string, len(r.Changes))
	for name, raw := range r.Changes {
		v, err := rawToString(raw)
		if err != nil {
			return domain.Proposal{}, fmt.Errorf("changes[%q]: %w", name, err)
		}
		changes[name] = v
	}

	rollback := r.RollbackConditions.toDomain()
	if !rollback.AnySet() {
		return domain.Proposal{}, fmt.Errorf("rollbackConditions: at least one condition must be set")
	}
	if len(r.ReasoningTrace) < 1 {
		return domain.Proposal{}, fmt.Errorf("reasoningTrace must have at least one entry")
	}

	return domain.Proposal{
		ProposalID:         uuid.NewString(),
		Exchange:           exchange,
		Symbol:             symbol,
		Ts:                 nowMs,
		WindowStart:        windowStart,
		WindowEnd:          windowEnd,
		CurrentParamsSetID: currentParamsSetID,
		Changes:            changes,
		Rollback:           rollback,
		Status:             domain.ProposalPending,
	}, nil
}

// rawToString accepts either a JSON string or a JSON number and renders it
// as the canonical string form the params applier later parses.
func rawToString(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("must be a string or number, not an array/object")
}

// reasoningLogRecord is the on-disk JSON shape written by WriteReasoningLog.
type reasoningLogRecord struct {
	ProposalID    string         `json:"proposalId"`
	Timestamp     string         `json:"timestamp"`
	Exchange      string         `json:"exchange"`
	Symbol        string         `json:"symbol"`
	InputSummary  inputSummary   `json:"inputSummary"`
	CurrentParams paramsSnapshot `json:"currentParams"`
	Proposal      proposalBody   `json:"proposal"`
	Integrity     *integrity     `json:"integrity,omitempty"`
}

type inputSummary struct {
	WindowStart     int64    `json:"windowStart"`
	WindowEnd       int64    `json:"windowEnd"`
	FillsCount      int      `json:"fillsCount"`
	CancelCount     int      `json:"cancelCount"`
	PauseCount      int      `json:"pauseCount"`
	Markout10sP50   *float64 `json:"markout10sP50"`
	WorstFillsCount int      `json:"worstFillsCount"`
}

type paramsSnapshot struct {
	ParamsSetID       string  `json:"paramsSetId"`
	BaseHalfSpreadBps float64 `json:"baseHalfSpreadBps"`
	VolSpreadGain     float64 `json:"volSpreadGain"`
	ToxSpreadGain     float64 `json:"toxSpreadGain"`
	QuoteSizeUsd      float64 `json:"quoteSizeUsd"`
	RefreshIntervalMs int64   `json:"refreshIntervalMs"`
	StaleCancelMs     int64   `json:"staleCancelMs"`
	MaxInventory      float64 `json:"maxInventory"`
	InventorySkewGain float64 `json:"inventorySkewGain"`
	PauseMarkIndexBps float64 `json:"pauseMarkIndexBps"`
	PauseLiqCount10s  int64   `json:"pauseLiqCount10s"`
}

func paramsSnapshotOf(p domain.StrategyParams) paramsSnapshot {
	return paramsSnapshot{
		ParamsSetID: p.ParamsSetID, BaseHalfSpreadBps: p.BaseHalfSpreadBps, VolSpreadGain: p.VolSpreadGain,
		ToxSpreadGain: p.ToxSpreadGain, QuoteSizeUsd: p.QuoteSizeUsd, RefreshIntervalMs: p.RefreshIntervalMs,
		StaleCancelMs: p.StaleCancelMs, MaxInventory: p.MaxInventory, InventorySkewGain: p.InventorySkewGain,
		PauseMarkIndexBps: p.PauseMarkIndexBps, PauseLiqCount10s: p.PauseLiqCount10s,
	}
}

type proposalBody struct {
	Changes            map[string]string  `json:"changes"`
	RollbackConditions RollbackConditions `json:"rollbackConditions"`
	ReasoningTrace      []string           `json:"reasoningTrace"`
}

type integrity struct {
	Sha256 string `json:"sha256"`
}

// WriteReasoningLogInputs bundles what WriteReasoningLog needs beyond the
// proposal itself.
type WriteReasoningLogInputs struct {
	LogDir        string
	NowMs         int64
	CurrentParams domain.StrategyParams
	Window        domain.AggregationWindow
	ReasoningTrace []string
}

// WriteReasoningLog renders the log record, computes its sha256 over the
// pretty-printed JSON with integrity absent, then writes the file with that
// hash included, atomically (write .tmp, rename). It sets ReasoningLogPath
// and ReasoningLogSha256 on p and returns the updated proposal. Following the
// file-first rule, the caller must not insert the proposal row unless this
// returns successfully.
func WriteReasoningLog(p domain.Proposal, in WriteReasoningLogInputs) (domain.Proposal, error) {
	record := reasoningLogRecord{
		ProposalID: p.ProposalID,
		Timestamp:  time.UnixMilli(in.NowMs).UTC().Format(time.RFC3339),
		Exchange:   p.Exchange,
		Symbol:     p.Symbol,
		InputSummary: inputSummary{
			WindowStart: in.Window.WindowStart, WindowEnd: in.Window.WindowEnd,
			FillsCount: in.Window.FillsCount, CancelCount: in.Window.CancelCount, PauseCount: in.Window.PauseCount,
			Markout10sP50: in.Window.Markout10sP50, WorstFillsCount: len(in.Window.WorstFills),
		},
		CurrentParams: paramsSnapshotOf(in.CurrentParams),
		Proposal: proposalBody{
			Changes: p.Changes,
			RollbackConditions: RollbackConditions{
				Markout10sP50BelowBps: p.Rollback.Markout10sP50BelowBps,
				PauseCountAbove:       p.Rollback.PauseCountAbove,
				MaxDurationMs:         p.Rollback.MaxDurationMs,
			},
			ReasoningTrace: in.ReasoningTrace,
		},
	}

	unhashed, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("llm: marshal reasoning log: %w", err)
	}
	sum := sha256.Sum256(unhashed)
	sha := hex.EncodeToString(sum[:])

	record.Integrity = &integrity{Sha256: sha}
	final, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return domain.Proposal{}, fmt.Errorf("llm: marshal final reasoning log: %w", err)
	}

	dir := filepath.Join(in.LogDir, "llm")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Proposal{}, fmt.Errorf("llm: create log dir: %w", err)
	}
	filename := fmt.Sprintf("llm-reflection-%s-%s-%s-%s.json",
		p.Exchange, sanitizeSymbol(p.Symbol), dashifyUTC(in.NowMs), p.ProposalID)
	path := filepath.Join(dir, filename)

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, final, 0o600); err != nil {
		return domain.Proposal{}, fmt.Errorf("llm: write reasoning log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return domain.Proposal{}, fmt.Errorf("llm: rename reasoning log into place: %w", err)
	}

	p.ReasoningLogPath = path
	p.ReasoningLogSha256 = sha
	return p, nil
}

// VerifyReasoningLog re-reads the file at path, strips integrity, re-hashes,
// and reports whether the result matches wantSha256 — the reasoning-log
// integrity property used in tests and available for operational audits.
func VerifyReasoningLog(path, wantSha256 string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("llm: read reasoning log: %w", err)
	}
	var record reasoningLogRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return false, fmt.Errorf("llm: parse reasoning log: %w", err)
	}
	record.Integrity = nil
	unhashed, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return false, fmt.Errorf("llm: re-marshal reasoning log: %w", err)
	}
	sum := sha256.Sum256(unhashed)
	got := hex.EncodeToString(sum[:])
	return got == wantSha256, nil
}

func sanitizeSymbol(symbol string) string {
	return strings.NewReplacer("/", "-", " ", "-").Replace(symbol)
}

func dashifyUTC(nowMs int64) string {
	return strings.ReplaceAll(strings.ReplaceAll(time.UnixMilli(nowMs).UTC().Format("2006-01-02T15-04-05"), ":", "-"), ".", "-")
}
