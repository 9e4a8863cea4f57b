package params

import (
	"testing"
	"time"

	"mmbot/internal/domain"
)

type fakeStore struct {
	pending       *domain.Proposal
	current       domain.StrategyParams
	statuses      map[string]domain.ProposalStatus
	promoted      *domain.StrategyParams
	rollouts      []domain.ParamRollout
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]domain.ProposalStatus{}}
}

func (s *fakeStore) OldestPendingProposal(exchange, symbol string) (*domain.Proposal, error) {
	return s.pending, nil
}

func (s *fakeStore) CurrentParams(exchange, symbol string) (domain.StrategyParams, error) {
	return s.current, nil
}

func (s *fakeStore) MarkProposalStatus(proposalID string, status domain.ProposalStatus) error {
	s.statuses[proposalID] = status
	return nil
}

func (s *fakeStore) PromoteParams(exchange, symbol string, next domain.StrategyParams) error {
	s.promoted = &next
	return nil
}

func (s *fakeStore) AppendRollout(row domain.ParamRollout) error {
	s.rollouts = append(s.rollouts, row)
	return nil
}

func boundaryMs(hour, minute, second int) int64 {
	t := time.Date(2026, 1, 1, hour, minute, second, 0, time.UTC)
	return t.UnixMilli()
}

func TestApplierBoundaryAdmitsAtGrace(t *testing.T) {
	store := newFakeStore()
	store.current = domain.StrategyParams{ParamsSetID: "ps-0", BaseHalfSpreadBps: 10}
	store.pending = &domain.Proposal{
		ProposalID: "p1",
		Changes:    map[string]string{"baseHalfSpreadBps": "12"},
		Rollback:   domain.RollbackConditions{PauseCountAbove: f64(5)},
	}
	opts := Options{Exchange: "binance", Symbol: "BTC-PERP", BoundaryMinutes: 5, GraceSeconds: 30, MaxPauseCountForApply: 10}
	now := boundaryMs(12, 5, 10)

	res, err := Apply(store, opts, now, domain.OperationalContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusApplied {
		t.Fatalf("status = %v, want applied (%v)", res.Status, res.Reason)
	}
	if store.statuses["p1"] != domain.ProposalApplied {
		t.Fatalf("expected proposal marked applied")
	}
}

func TestApplierNoAdmissionOutsideBoundary(t *testing.T) {
	store := newFakeStore()
	store.current = domain.StrategyParams{ParamsSetID: "ps-0", BaseHalfSpreadBps: 10}
	store.pending = &domain.Proposal{
		ProposalID: "p1",
		Changes:    map[string]string{"baseHalfSpreadBps": "12"},
		Rollback:   domain.RollbackConditions{PauseCountAbove: f64(5)},
	}
	opts := Options{BoundaryMinutes: 5, GraceSeconds: 30}
	now := boundaryMs(12, 5, 31)

	res, err := Apply(store, opts, now, domain.OperationalContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusNoPending {
		t.Fatalf("status = %v, want no_pending outside boundary", res.Status)
	}
}

func TestApplierRejectsOnOperationalGate(t *testing.T) {
	store := newFakeStore()
	store.current = domain.StrategyParams{ParamsSetID: "ps-0", BaseHalfSpreadBps: 10}
	store.pending = &domain.Proposal{
		ProposalID: "p1",
		Changes:    map[string]string{"baseHalfSpreadBps": "12"},
		Rollback:   domain.RollbackConditions{PauseCountAbove: f64(5)},
	}
	opts := Options{BoundaryMinutes: 5, GraceSeconds: 30, MaxPauseCountForApply: 10}
	now := boundaryMs(12, 5, 0)

	res, err := Apply(store, opts, now, domain.OperationalContext{DataStale: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusRejected {
		t.Fatalf("status = %v, want rejected", res.Status)
	}
	if store.statuses["p1"] != domain.ProposalRejected {
		t.Fatalf("expected proposal marked rejected")
	}
}

func TestApplierAtMostOnePerBoundary(t *testing.T) {
	store := newFakeStore()
	store.current = domain.StrategyParams{ParamsSetID: "ps-0", BaseHalfSpreadBps: 10}
	store.pending = &domain.Proposal{
		ProposalID: "p1",
		Changes:    map[string]string{"baseHalfSpreadBps": "12"},
		Rollback:   domain.RollbackConditions{PauseCountAbove: f64(5)},
	}
	opts := Options{BoundaryMinutes: 5, GraceSeconds: 30, MaxPauseCountForApply: 10}
	now := boundaryMs(12, 5, 5)

	if _, err := Apply(store, opts, now, domain.OperationalContext{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	store.pending = nil // the store would no longer return it as pending
	res2, err := Apply(store, opts, now, domain.OperationalContext{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res2.Status != StatusNoPending {
		t.Fatalf("expected second call within same boundary to see no pending proposal, got %v", res2.Status)
	}
}
