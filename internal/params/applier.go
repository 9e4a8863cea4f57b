package params

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"mmbot/internal/domain"
)

// ApplyStatus is the tagged result of one ProposalApplier invocation,
// mirroring the {no_pending | applied | rejected | error} outcome variants.
type ApplyStatus string

const (
	StatusNoPending ApplyStatus = "no_pending"
	StatusApplied   ApplyStatus = "applied"
	StatusRejected  ApplyStatus = "rejected"
)

// ApplyResult is what the applier returns on every tick.
type ApplyResult struct {
	Status     ApplyStatus
	ProposalID string
	ChangedKeys []string
	Reason     string
}

// Options bundle the boundary/operational thresholds from config.
type Options struct {
	Exchange                 string
	Symbol                   string
	BoundaryMinutes          int
	GraceSeconds             int
	MaxPauseCountForApply    int
	MinMarkout10sP50ForApply float64
}

// Store is the persistence collaborator the applier needs: loading the
// oldest pending proposal, reading current params, and writing the new
// params row plus the audit trail atomically.
type Store interface {
	OldestPendingProposal(exchange, symbol string) (*domain.Proposal, error)
	CurrentParams(exchange, symbol string) (domain.StrategyParams, error)
	MarkProposalStatus(proposalID string, status domain.ProposalStatus) error
	PromoteParams(exchange, symbol string, next domain.StrategyParams) error
	AppendRollout(row domain.ParamRollout) error
}

// IsAtBoundary reports whether nowMs falls on a proposal-apply boundary:
// (UTC-minute mod boundaryMinutes == 0) AND (UTC-second < graceSeconds).
func IsAtBoundary(nowMs int64, boundaryMinutes, graceSeconds int) bool {
	t := time.UnixMilli(nowMs).UTC()
	if boundaryMinutes <= 0 {
		boundaryMinutes = 1
	}
	return t.Minute()%boundaryMinutes == 0 && t.Second() < graceSeconds
}

// Apply runs the ordered admission protocol for the pending proposal. It is a no-op outside
// a boundary tick, and admits at most one proposal per call.
func Apply(store Store, opts Options, nowMs int64, opCtx domain.OperationalContext) (ApplyResult, error) {
	if !IsAtBoundary(nowMs, opts.BoundaryMinutes, opts.GraceSeconds) {
		return ApplyResult{Status: StatusNoPending}, nil
	}

	proposal, err := store.OldestPendingProposal(opts.Exchange, opts.Symbol)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("applier: load pending proposal: %w", err)
	}
	if proposal == nil {
		return ApplyResult{Status: StatusNoPending}, nil
	}

	current, err := store.CurrentParams(opts.Exchange, opts.Symbol)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("applier: load current params: %w", err)
	}

	if err := validateShape(proposal); err != nil {
		return reject(store, proposal, current.ParamsSetID, fmt.Sprintf("Format:%v", err), opCtx)
	}

	changes, rollback, err := parseProposal(proposal)
	if err != nil {
		return reject(store, proposal, current.ParamsSetID, fmt.Sprintf("Format:%v", err), opCtx)
	}

	ok, gateErrs := Validate(changes, rollback, current)
	if !ok {
		return reject(store, proposal, current.ParamsSetID, fmt.Sprintf("Validation:%v", gateErrs), opCtx)
	}

	if reason, fails := operationalGateFails(opts, opCtx); fails {
		return reject(store, proposal, current.ParamsSetID, fmt.Sprintf("Operational:%s", reason), opCtx)
	}

	next := current
	var changedKeys []string
	for name, value := range changes {
		next = next.WithChange(name, value)
		changedKeys = append(changedKeys, name)
	}
	next.ParamsSetID = newParamsSetID(proposal.ProposalID)

	if err := store.PromoteParams(opts.Exchange, opts.Symbol, next); err != nil {
		return ApplyResult{}, fmt.Errorf("applier: promote params: %w", err)
	}
	if err := store.MarkProposalStatus(proposal.ProposalID, domain.ProposalApplied); err != nil {
		return ApplyResult{}, fmt.Errorf("applier: mark proposal applied: %w", err)
	}

	pid := proposal.ProposalID
	toID := next.ParamsSetID
	if err := store.AppendRollout(domain.ParamRollout{
		Ts:              nowMs,
		ProposalID:      &pid,
		FromParamsSetID: current.ParamsSetID,
		ToParamsSetID:   &toID,
		Action:          domain.RolloutApply,
		Reason:          fmt.Sprintf("Applied: %s", strings.Join(changedKeys, ",")),
	}); err != nil {
		return ApplyResult{}, fmt.Errorf("applier: append rollout: %w", err)
	}

	return ApplyResult{Status: StatusApplied, ProposalID: proposal.ProposalID, ChangedKeys: changedKeys}, nil
}

func reject(store Store, proposal *domain.Proposal, fromParamsSetID, reason string, opCtx domain.OperationalContext) (ApplyResult, error) {
	if err := store.MarkProposalStatus(proposal.ProposalID, domain.ProposalRejected); err != nil {
		return ApplyResult{}, fmt.Errorf("applier: mark proposal rejected: %w", err)
	}
	pid := proposal.ProposalID
	if err := store.AppendRollout(domain.ParamRollout{
		ProposalID:      &pid,
		FromParamsSetID: fromParamsSetID,
		Action:          domain.RolloutReject,
		Reason:          reason,
	}); err != nil {
		return ApplyResult{}, fmt.Errorf("applier: append rollout: %w", err)
	}
	return ApplyResult{Status: StatusRejected, ProposalID: proposal.ProposalID, Reason: reason}, nil
}

// validateShape checks the new-format object shapes required of a proposal: Changes
// must be present as an object (map); a nil map is rejected here before
// gating ever sees it.
func validateShape(p *domain.Proposal) error {
	if p.Changes == nil {
		return fmt.Errorf("changes must be an object")
	}
	return nil
}

func parseProposal(p *domain.Proposal) (ProposedChanges, RollbackShape, error) {
	changes := make(ProposedChanges, len(p.Changes))
	for name, raw := range p.Changes {
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, RollbackShape{}, fmt.Errorf("param %q: %w", name, err)
		}
		changes[name] = v
	}
	rb := RollbackShape{
		Markout10sP50BelowBps: p.Rollback.Markout10sP50BelowBps,
		PauseCountAbove:       p.Rollback.PauseCountAbove,
		MaxDurationMs:         p.Rollback.MaxDurationMs,
	}
	return changes, rb, nil
}

// operationalGateFails checks the ordered operational gates before a proposal may apply.
func operationalGateFails(opts Options, ctx domain.OperationalContext) (string, bool) {
	if ctx.DBWriteFailures {
		return "dbWriteFailures", true
	}
	if ctx.ExchangeErrors {
		return "exchangeErrors", true
	}
	if ctx.DataStale {
		return "dataStale", true
	}
	if ctx.PauseCountLastHour > opts.MaxPauseCountForApply {
		return fmt.Sprintf("pauseCountLastHour %d > %d", ctx.PauseCountLastHour, opts.MaxPauseCountForApply), true
	}
	if ctx.Markout10sP50 != nil && *ctx.Markout10sP50 < opts.MinMarkout10sP50ForApply {
		return fmt.Sprintf("markout10sP50 %v < %v", *ctx.Markout10sP50, opts.MinMarkout10sP50ForApply), true
	}
	return "", false
}

func newParamsSetID(proposalID string) string {
	return "ps-" + proposalID
}
