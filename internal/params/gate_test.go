package params

import (
	"testing"

	"mmbot/internal/domain"
)

func f64(v float64) *float64 { return &v }

func TestGateAdmitsWithinBand(t *testing.T) {
	current := domain.StrategyParams{BaseHalfSpreadBps: 10}
	changes := ProposedChanges{"baseHalfSpreadBps": 15} // ratio 1.5, within [0.3,3.0]
	rollback := RollbackShape{PauseCountAbove: f64(5)}
	ok, errs := Validate(changes, rollback, current)
	if !ok {
		t.Fatalf("expected admission, got errors %v", errs)
	}
}

func TestGateRejectsExcessiveChange(t *testing.T) {
	current := domain.StrategyParams{BaseHalfSpreadBps: 1.5}
	changes := ProposedChanges{"baseHalfSpreadBps": 5.0} // ratio 3.33x
	rollback := RollbackShape{PauseCountAbove: f64(5)}
	ok, errs := Validate(changes, rollback, current)
	if ok {
		t.Fatalf("expected rejection")
	}
	if !hasCode(errs, ErrExcessiveChange) {
		t.Fatalf("expected EXCESSIVE_CHANGE, got %v", errs)
	}
}

func TestGateRejectsEmptyRollback(t *testing.T) {
	current := domain.StrategyParams{BaseHalfSpreadBps: 10}
	changes := ProposedChanges{"baseHalfSpreadBps": 11}
	ok, errs := Validate(changes, RollbackShape{}, current)
	if ok {
		t.Fatalf("expected rejection for empty rollback")
	}
	if !hasCode(errs, ErrMissingRollback) {
		t.Fatalf("expected MISSING_ROLLBACK_CONDITIONS, got %v", errs)
	}
}

func TestGateBypassesRatioWhenCurrentZero(t *testing.T) {
	current := domain.StrategyParams{BaseHalfSpreadBps: 0}
	changes := ProposedChanges{"baseHalfSpreadBps": 100}
	rollback := RollbackShape{MaxDurationMs: f64(60000)}
	ok, errs := Validate(changes, rollback, current)
	if !ok {
		t.Fatalf("expected admission when current=0 bypasses ratio test, got %v", errs)
	}
}

func TestGateRejectsNegativeValue(t *testing.T) {
	current := domain.StrategyParams{BaseHalfSpreadBps: 10}
	changes := ProposedChanges{"baseHalfSpreadBps": -1}
	rollback := RollbackShape{MaxDurationMs: f64(1)}
	ok, errs := Validate(changes, rollback, current)
	if ok {
		t.Fatalf("expected rejection of negative value")
	}
	if !hasCode(errs, ErrNegativeValue) {
		t.Fatalf("expected NEGATIVE_VALUE, got %v", errs)
	}
}

func TestGateRejectsUnknownParam(t *testing.T) {
	current := domain.StrategyParams{}
	changes := ProposedChanges{"bogusParam": 1}
	rollback := RollbackShape{MaxDurationMs: f64(1)}
	ok, errs := Validate(changes, rollback, current)
	if ok {
		t.Fatalf("expected rejection of unknown param")
	}
	if !hasCode(errs, ErrUnknownParam) {
		t.Fatalf("expected UNKNOWN_PARAM, got %v", errs)
	}
}

func TestGateRejectsCardinality(t *testing.T) {
	current := domain.StrategyParams{BaseHalfSpreadBps: 10, VolSpreadGain: 1, ToxSpreadGain: 1}
	changes := ProposedChanges{"baseHalfSpreadBps": 11, "volSpreadGain": 1.1, "toxSpreadGain": 1.1}
	rollback := RollbackShape{MaxDurationMs: f64(1)}
	ok, errs := Validate(changes, rollback, current)
	if ok {
		t.Fatalf("expected rejection of 3-key changes")
	}
	if !hasCode(errs, ErrChangesCardinality) {
		t.Fatalf("expected CHANGES_CARDINALITY, got %v", errs)
	}
}

func hasCode(errs []GateError, code ErrorCode) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
