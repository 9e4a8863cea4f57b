package llm

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"mmbot/internal/domain"
)

func f64p(v float64) *float64 { return &v }

func validResponse() Response {
	return Response{
		Changes: map[string]json.RawMessage{
			"baseHalfSpreadBps": json.RawMessage(`4.5`),
		},
		RollbackConditions: RollbackConditions{
			PauseCountAbove: f64p(5),
		},
		ReasoningTrace: []string{"spread widened relative to realized vol, nudging baseHalfSpreadBps up"},
	}
}

func TestToProposalAcceptsValidResponse(t *testing.T) {
	p, err := ToProposal(validResponse(), "binance", "BTC-PERP", 1000, 0, 1000, "params-1")
	if err != nil {
		t.Fatalf("ToProposal: %v", err)
	}
	if p.Changes["baseHalfSpreadBps"] != "4.5" {
		t.Fatalf("Changes[baseHalfSpreadBps] = %q, want 4.5", p.Changes["baseHalfSpreadBps"])
	}
	if p.Status != domain.ProposalPending {
		t.Fatalf("Status = %v, want pending", p.Status)
	}
	if p.ProposalID == "" {
		t.Fatal("expected a generated proposal id")
	}
}

func TestToProposalAcceptsStringValuedChange(t *testing.T) {
	r := validResponse()
	r.Changes["baseHalfSpreadBps"] = json.RawMessage(`"4.5"`)
	p, err := ToProposal(r, "binance", "BTC-PERP", 1000, 0, 1000, "params-1")
	if err != nil {
		t.Fatalf("ToProposal: %v", err)
	}
	if p.Changes["baseHalfSpreadBps"] != "4.5" {
		t.Fatalf("Changes[baseHalfSpreadBps] = %q, want 4.5", p.Changes["baseHalfSpreadBps"])
	}
}

func TestToProposalRejectsTooManyChanges(t *testing.T) {
	r := validResponse()
	r.Changes["volSpreadGain"] = json.RawMessage(`0.1`)
	r.Changes["toxSpreadGain"] = json.RawMessage(`0.2`)
	if _, err := ToProposal(r, "binance", "BTC-PERP", 1000, 0, 1000, "params-1"); err == nil {
		t.Fatal("expected error for 3 changed params")
	}
}

func TestToProposalRejectsArrayShapedChange(t *testing.T) {
	r := validResponse()
	r.Changes["baseHalfSpreadBps"] = json.RawMessage(`[1,2]`)
	if _, err := ToProposal(r, "binance", "BTC-PERP", 1000, 0, 1000, "params-1"); err == nil {
		t.Fatal("expected error for array-shaped change value")
	}
}

func TestToProposalRejectsNoRollbackConditions(t *testing.T) {
	r := validResponse()
	r.RollbackConditions = RollbackConditions{}
	if _, err := ToProposal(r, "binance", "BTC-PERP", 1000, 0, 1000, "params-1"); err == nil {
		t.Fatal("expected error when no rollback condition is set")
	}
}

func TestToProposalRejectsEmptyReasoningTrace(t *testing.T) {
	r := validResponse()
	r.ReasoningTrace = nil
	if _, err := ToProposal(r, "binance", "BTC-PERP", 1000, 0, 1000, "params-1"); err == nil {
		t.Fatal("expected error when reasoningTrace is empty")
	}
}

func TestStripCodeFence(t *testing.T) {
	in := "```json\n{\"a\":1}\n```"
	if got := stripCodeFence(in); got != `{"a":1}` {
		t.Fatalf("stripCodeFence(%q) = %q", in, got)
	}
}

func TestWriteReasoningLogIntegrity(t *testing.T) {
	dir := t.TempDir()
	p, err := ToProposal(validResponse(), "binance", "BTC-PERP", 1000, 0, 1000, "params-1")
	if err != nil {
		t.Fatalf("ToProposal: %v", err)
	}

	params := domain.StrategyParams{ParamsSetID: "params-1", BaseHalfSpreadBps: 3.0}
	window := domain.AggregationWindow{WindowStart: 0, WindowEnd: 1000, FillsCount: 3, Markout10sP50: f64p(1.2)}

	written, err := WriteReasoningLog(p, WriteReasoningLogInputs{
		LogDir: dir, NowMs: 1000, CurrentParams: params, Window: window,
		ReasoningTrace: validResponse().ReasoningTrace,
	})
	if err != nil {
		t.Fatalf("WriteReasoningLog: %v", err)
	}
	if written.ReasoningLogPath == "" || written.ReasoningLogSha256 == "" {
		t.Fatal("expected path and sha256 to be populated")
	}
	if _, err := os.Stat(written.ReasoningLogPath); err != nil {
		t.Fatalf("expected reasoning log file to exist: %v", err)
	}
	if filepath.Dir(written.ReasoningLogPath) != filepath.Join(dir, "llm") {
		t.Fatalf("reasoning log written outside <logDir>/llm: %s", written.ReasoningLogPath)
	}

	ok, err := VerifyReasoningLog(written.ReasoningLogPath, written.ReasoningLogSha256)
	if err != nil {
		t.Fatalf("VerifyReasoningLog: %v", err)
	}
	if !ok {
		t.Fatal("expected stripped-and-rehashed integrity check to match stored sha256")
	}
}

func TestVerifyReasoningLogDetectsTamper(t *testing.T) {
	dir := t.TempDir()
	p, _ := ToProposal(validResponse(), "binance", "BTC-PERP", 1000, 0, 1000, "params-1")
	written, err := WriteReasoningLog(p, WriteReasoningLogInputs{
		LogDir: dir, NowMs: 1000,
		CurrentParams:  domain.StrategyParams{ParamsSetID: "params-1"},
		Window:         domain.AggregationWindow{WindowStart: 0, WindowEnd: 1000},
		ReasoningTrace: validResponse().ReasoningTrace,
	})
	if err != nil {
		t.Fatalf("WriteReasoningLog: %v", err)
	}

	data, err := os.ReadFile(written.ReasoningLogPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	tampered := bytes.Replace(data, []byte(p.ProposalID), []byte("tampered-proposal-id"), 1)
	if err := os.WriteFile(written.ReasoningLogPath, tampered, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ok, err := VerifyReasoningLog(written.ReasoningLogPath, written.ReasoningLogSha256)
	if err != nil {
		t.Fatalf("VerifyReasoningLog: %v", err)
	}
	if ok {
		t.Fatal("expected tampered reasoning log to fail integrity verification")
	}
}

func TestWriteReasoningLogFilenameFormat(t *testing.T) {
	dir := t.TempDir()
	p, _ := ToProposal(validResponse(), "binance", "BTC/PERP USD", 1000, 0, 1000, "params-1")
	written, err := WriteReasoningLog(p, WriteReasoningLogInputs{
		LogDir: dir, NowMs: 1_700_000_000_000,
		CurrentParams:  domain.StrategyParams{ParamsSetID: "params-1"},
		Window:         domain.AggregationWindow{WindowStart: 0, WindowEnd: 1000},
		ReasoningTrace: validResponse().ReasoningTrace,
	})
	if err != nil {
		t.Fatalf("WriteReasoningLog: %v", err)
	}
	name := filepath.Base(written.ReasoningLogPath)
	wantPrefix := "llm-reflection-binance-BTC-PERP-USD-"
	if len(name) < len(wantPrefix) || name[:len(wantPrefix)] != wantPrefix {
		t.Fatalf("filename %q does not start with %q", name, wantPrefix)
	}
}
