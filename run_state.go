package calcgraph

import (
	"context"
	"sync"
	"time"
)

// RunState represents the current state of a background calculation run.
type RunState string

const (
	// RunStateInit is the initial state of a run.
	RunStateInit RunState = "init"
	// RunStateCompiling covers traversal, scheduling and synthesis (or the
	// cache hit replacing them).
	RunStateCompiling RunState = "compiling"
	// RunStateExecuting covers plan invocation.
	RunStateExecuting RunState = "executing"
	// RunStateComplete is the successful terminal state.
	RunStateComplete RunState = "complete"
	// RunStateError is the failed terminal state.
	RunStateError RunState = "error"
	// RunStateCancelled means the run was cancelled before completing.
	RunStateCancelled RunState = "cancelled"
)

// terminal reports whether the state ends a run.
func (s RunState) terminal() bool {
	return s == RunStateComplete || s == RunStateError || s == RunStateCancelled
}

// RunContext tracks one background calculation: its request, its current
// state, per-state timings, and its eventual result or error.
type RunContext struct {
	ID     string
	Wanted []string

	mutex          sync.Mutex
	currentState   RunState
	stateHistory   []RunState
	stateEntered   time.Time
	stateDurations map[RunState]time.Duration
	startTime      time.Time
	endTime        time.Time

	result     map[string]any
	lastError  error
	errorStage string

	cancel context.CancelFunc
}

func newRunContext(id string, wanted []string, cancel context.CancelFunc) *RunContext {
	now := time.Now()
	return &RunContext{
		ID:             id,
		Wanted:         wanted,
		currentState:   RunStateInit,
		stateEntered:   now,
		stateDurations: make(map[RunState]time.Duration),
		startTime:      now,
		cancel:         cancel,
	}
}

// transitionTo moves the run into a new state, recording history and
// timing. Transitions out of a terminal state are ignored so a cancelled
// run cannot be overwritten by a late completion.
func (rc *RunContext) transitionTo(state RunState) bool {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if rc.currentState.terminal() {
		return false
	}
	now := time.Now()
	rc.stateDurations[rc.currentState] += now.Sub(rc.stateEntered)
	rc.stateHistory = append(rc.stateHistory, rc.currentState)
	rc.currentState = state
	rc.stateEntered = now
	if state.terminal() {
		rc.endTime = now
	}
	return true
}

func (rc *RunContext) fail(stage string, err error) bool {
	rc.mutex.Lock()
	if rc.currentState.terminal() {
		rc.mutex.Unlock()
		return false
	}
	rc.lastError = err
	rc.errorStage = stage
	rc.mutex.Unlock()
	return rc.transitionTo(RunStateError)
}

func (rc *RunContext) complete(result map[string]any) bool {
	rc.mutex.Lock()
	if rc.currentState.terminal() {
		rc.mutex.Unlock()
		return false
	}
	rc.result = result
	rc.mutex.Unlock()
	return rc.transitionTo(RunStateComplete)
}

// State returns the run's current state.
func (rc *RunContext) State() RunState {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	return rc.currentState
}

// TotalDuration returns the elapsed time of the run, against the current
// time while it is still in flight.
func (rc *RunContext) TotalDuration() time.Duration {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	if rc.endTime.IsZero() {
		return time.Since(rc.startTime)
	}
	return rc.endTime.Sub(rc.startTime)
}

// StateDuration returns how long the run has spent in the given state,
// including time still accruing if the run is in it now.
func (rc *RunContext) StateDuration(state RunState) time.Duration {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	d := rc.stateDurations[state]
	if rc.currentState == state && !rc.currentState.terminal() {
		d += time.Since(rc.stateEntered)
	}
	return d
}

// History returns the states the run has already left, in order.
func (rc *RunContext) History() []RunState {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()
	return append([]RunState(nil), rc.stateHistory...)
}
