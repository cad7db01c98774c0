package calcgraph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/calcgraph/internal/eventbus"
)

// RunStatus is the queryable status of a background calculation run.
type RunStatus struct {
	RunID        string        `json:"run_id"`
	Wanted       []string      `json:"wanted"`
	CurrentState RunState      `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// StartCalculateAsync begins a calculation in the background and returns a
// run ID for polling. The run is detached from the caller's context; use
// CancelRun to stop it.
func (e *Engine) StartCalculateAsync(wanted []string, args map[string]any) (string, error) {
	if len(wanted) == 0 {
		return "", NewValidationError("run", "no outputs requested", nil)
	}

	runID := uuid.New().String()
	runCtx, cancel := context.WithCancel(context.Background())
	rc := newRunContext(runID, dedupe(wanted), cancel)

	e.runsMutex.Lock()
	e.runs[runID] = rc
	e.runsMutex.Unlock()

	e.publish(runCtx, eventbus.EventRunStarted, wanted, map[string]interface{}{"run_id": runID})

	go func() {
		defer cancel()

		rc.transitionTo(RunStateCompiling)
		precomputed := make([]string, 0, len(args))
		for name := range args {
			precomputed = append(precomputed, name)
		}
		p, err := e.GetOrCompile(runCtx, rc.Wanted, precomputed)
		if err != nil {
			if rc.fail("compilation", err) {
				e.publish(context.Background(), eventbus.EventRunFailure, wanted, map[string]interface{}{"run_id": runID, "error": err.Error()})
			}
			return
		}

		rc.transitionTo(RunStateExecuting)
		result, err := p.Invoke(runCtx, args)
		if err != nil {
			if rc.fail("execution", err) {
				e.publish(context.Background(), eventbus.EventRunFailure, wanted, map[string]interface{}{"run_id": runID, "error": err.Error()})
			}
			return
		}
		if rc.complete(result) {
			e.publish(context.Background(), eventbus.EventRunSuccess, wanted, map[string]interface{}{"run_id": runID, "duration_ms": rc.TotalDuration().Milliseconds()})
		}
	}()

	return runID, nil
}

func (e *Engine) run(runID string) (*RunContext, error) {
	e.runsMutex.RLock()
	defer e.runsMutex.RUnlock()
	rc, exists := e.runs[runID]
	if !exists {
		return nil, fmt.Errorf("run with ID '%s' not found", runID)
	}
	return rc, nil
}

// GetRunStatus retrieves the current status of a background run.
func (e *Engine) GetRunStatus(runID string) (*RunStatus, error) {
	rc, err := e.run(runID)
	if err != nil {
		return nil, err
	}

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	status := &RunStatus{
		RunID:        rc.ID,
		Wanted:       append([]string(nil), rc.Wanted...),
		CurrentState: rc.currentState,
		StartTime:    rc.startTime,
		IsComplete:   rc.currentState == RunStateComplete,
		HasError:     rc.currentState == RunStateError,
	}
	if rc.endTime.IsZero() {
		status.Duration = time.Since(rc.startTime)
	} else {
		status.Duration = rc.endTime.Sub(rc.startTime)
	}
	if rc.lastError != nil {
		status.ErrorMessage = rc.lastError.Error()
		status.ErrorStage = rc.errorStage
	}
	return status, nil
}

// GetRunResult retrieves the result of a completed run. It fails while the
// run is still in flight, and surfaces the run's own error if it failed.
func (e *Engine) GetRunResult(runID string) (map[string]any, error) {
	rc, err := e.run(runID)
	if err != nil {
		return nil, err
	}

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	switch rc.currentState {
	case RunStateComplete:
		return rc.result, nil
	case RunStateError:
		return nil, fmt.Errorf("run failed during stage '%s': %w", rc.errorStage, rc.lastError)
	case RunStateCancelled:
		return nil, NewCancelledError("run", rc.lastError)
	default:
		return nil, fmt.Errorf("run is still in progress (current state: %s)", rc.currentState)
	}
}

// CancelRun cancels an in-flight run. Returns true if the run was
// cancelled, false if it had already finished.
func (e *Engine) CancelRun(runID string) (bool, error) {
	rc, err := e.run(runID)
	if err != nil {
		return false, err
	}

	if !rc.transitionTo(RunStateCancelled) {
		return false, nil
	}
	rc.mutex.Lock()
	rc.lastError = fmt.Errorf("run cancelled by caller")
	rc.errorStage = "cancelled"
	rc.mutex.Unlock()
	rc.cancel()

	e.publish(context.Background(), eventbus.EventRunCancelled, rc.Wanted, map[string]interface{}{
		"run_id":      runID,
		"duration_ms": rc.TotalDuration().Milliseconds(),
	})
	return true, nil
}

// ListRuns returns every known run ID with its current state.
func (e *Engine) ListRuns() map[string]RunState {
	e.runsMutex.RLock()
	defer e.runsMutex.RUnlock()

	out := make(map[string]RunState, len(e.runs))
	for id, rc := range e.runs {
		out[id] = rc.State()
	}
	return out
}

// CleanupCompletedRuns drops terminal runs older than the given duration
// and returns how many were removed. Prevents unbounded growth of the run
// table in long-lived processes.
func (e *Engine) CleanupCompletedRuns(olderThan time.Duration) int {
	e.runsMutex.Lock()
	defer e.runsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, rc := range e.runs {
		rc.mutex.Lock()
		expired := rc.currentState.terminal() && !rc.endTime.IsZero() && now.Sub(rc.endTime) > olderThan
		rc.mutex.Unlock()
		if expired {
			delete(e.runs, id)
			count++
		}
	}
	return count
}
