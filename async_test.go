package calcgraph

import (
	"context"
	"strings"
	"testing"
	"time"
)

func waitForState(t *testing.T, e *Engine, runID string, want RunState) *RunStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err := e.GetRunStatus(runID)
		if err != nil {
			t.Fatalf("GetRunStatus failed: %v", err)
		}
		if status.CurrentState == want {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never reached %s, stuck at %s", want, status.CurrentState)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartCalculateAsync_Lifecycle(t *testing.T) {
	e := newEngine(t, numericRegistry())

	runID, err := e.StartCalculateAsync([]string{"addOne"}, map[string]any{"x": 3})
	if err != nil {
		t.Fatalf("StartCalculateAsync failed: %v", err)
	}

	status := waitForState(t, e, runID, RunStateComplete)
	if !status.IsComplete || status.HasError {
		t.Errorf("unexpected final status: %+v", status)
	}

	result, err := e.GetRunResult(runID)
	if err != nil {
		t.Fatalf("GetRunResult failed: %v", err)
	}
	if result["addOne"] != 7 {
		t.Errorf("expected 7, got %v", result["addOne"])
	}
}

func TestStartCalculateAsync_NoOutputs(t *testing.T) {
	e := newEngine(t, numericRegistry())
	if _, err := e.StartCalculateAsync(nil, nil); err == nil {
		t.Fatal("expected validation error for empty outputs")
	}
}

func TestStartCalculateAsync_FailureCapturesStage(t *testing.T) {
	e := newEngine(t, numericRegistry())

	// No value for x, so execution fails with a missing-argument error.
	runID, err := e.StartCalculateAsync([]string{"addOne"}, map[string]any{})
	if err != nil {
		t.Fatalf("StartCalculateAsync failed: %v", err)
	}

	status := waitForState(t, e, runID, RunStateError)
	if status.ErrorStage != "execution" {
		t.Errorf("expected execution stage, got %q", status.ErrorStage)
	}
	if _, err := e.GetRunResult(runID); err == nil {
		t.Error("GetRunResult must surface the run failure")
	}
}

func TestGetRunResult_InFlight(t *testing.T) {
	r := NewRegistry()
	release := make(chan struct{})
	r.Register(NewOperation("slow", []string{"x"}, func(ctx context.Context, args []any) (any, error) {
		select {
		case <-release:
			return args[0], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	e := newEngine(t, r)

	runID, err := e.StartCalculateAsync([]string{"slow"}, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("StartCalculateAsync failed: %v", err)
	}
	defer close(release)

	waitForState(t, e, runID, RunStateExecuting)
	if _, err := e.GetRunResult(runID); err == nil || !strings.Contains(err.Error(), "in progress") {
		t.Errorf("expected in-progress error, got %v", err)
	}
}

func TestCancelRun(t *testing.T) {
	r := NewRegistry()
	r.Register(NewOperation("slow", []string{"x"}, func(ctx context.Context, args []any) (any, error) {
		select {
		case <-time.After(5 * time.Second):
			return args[0], nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	e := newEngine(t, r)

	runID, err := e.StartCalculateAsync([]string{"slow"}, map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("StartCalculateAsync failed: %v", err)
	}
	waitForState(t, e, runID, RunStateExecuting)

	cancelled, err := e.CancelRun(runID)
	if err != nil {
		t.Fatalf("CancelRun failed: %v", err)
	}
	if !cancelled {
		t.Fatal("expected run to be cancelled")
	}
	if status, _ := e.GetRunStatus(runID); status.CurrentState != RunStateCancelled {
		t.Errorf("expected cancelled state, got %s", status.CurrentState)
	}
	if _, err := e.GetRunResult(runID); err == nil {
		t.Error("GetRunResult must fail for a cancelled run")
	}

	// Cancelling a finished run is a no-op.
	cancelled, err = e.CancelRun(runID)
	if err != nil || cancelled {
		t.Errorf("second cancel should report false, got %v %v", cancelled, err)
	}
}

func TestCancelRun_UnknownID(t *testing.T) {
	e := newEngine(t, numericRegistry())
	if _, err := e.CancelRun("no-such-run"); err == nil {
		t.Fatal("expected error for unknown run ID")
	}
}

func TestCleanupCompletedRuns(t *testing.T) {
	e := newEngine(t, numericRegistry())

	runID, err := e.StartCalculateAsync([]string{"addOne"}, map[string]any{"x": 3})
	if err != nil {
		t.Fatalf("StartCalculateAsync failed: %v", err)
	}
	waitForState(t, e, runID, RunStateComplete)

	if removed := e.CleanupCompletedRuns(time.Hour); removed != 0 {
		t.Errorf("fresh run should survive cleanup, removed %d", removed)
	}
	if removed := e.CleanupCompletedRuns(0); removed != 1 {
		t.Errorf("expected 1 run removed, got %d", removed)
	}
	if runs := e.ListRuns(); len(runs) != 0 {
		t.Errorf("run table not empty after cleanup: %v", runs)
	}
}
