package calcgraph

import (
	"fmt"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
	"github.com/ZanzyTHEbar/calcgraph/internal/interp"
	"github.com/ZanzyTHEbar/calcgraph/internal/plan"
)

// Error codes for specific failure types
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeCycle            = "CYCLE_ERROR"
	ErrCodeLinkage          = "LINKAGE_ERROR"
	ErrCodeMissingArguments = "MISSING_ARGUMENTS"
	ErrCodeMissingInput     = "MISSING_INPUT"
	ErrCodeSynthesis        = "SYNTHESIS_ERROR"
	ErrCodeCache            = "CACHE_ERROR"
	ErrCodeCancelled        = "EXECUTION_CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// CycleError reports a dependency cycle among required operations.
type CycleError = graph.CycleError

// MissingArgumentsError is raised when invoking a compiled plan whose
// required params are not fully present in the supplied argument map.
type MissingArgumentsError = graph.MissingArgumentsError

// MissingInputError is the interpreter-path missing diagnostic: one
// missing raw input plus the top-level requested name being computed.
type MissingInputError = interp.MissingInputError

// LinkageError reports a persisted record referencing operations absent
// from the registry used to reload it.
type LinkageError = plan.LinkageError

// CalcError is the coded error type wrapping failures at the engine
// boundary.
type CalcError struct {
	Code    string // A machine-readable error code (e.g., ErrCodeCycle)
	Message string // A human-readable message
	Stage   string // The stage where the error occurred (e.g., "scheduling")
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *CalcError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing for error chaining.
func (e *CalcError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CalcError.
func NewError(code, stage, message string, cause error) *CalcError {
	return &CalcError{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *CalcError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewCycleError(cause error) *CalcError {
	return NewError(ErrCodeCycle, "scheduling", "required operations contain a dependency cycle", cause)
}

func NewLinkageError(cause error) *CalcError {
	return NewError(ErrCodeLinkage, "loading", "failed to relink plan record against registry", cause)
}

func NewSynthesisError(cause error) *CalcError {
	return NewError(ErrCodeSynthesis, "synthesis", "failed to synthesize execution plan", cause)
}

func NewCacheError(stage, operation string, cause error) *CalcError {
	return NewError(ErrCodeCache, stage, fmt.Sprintf("cache operation '%s' failed", operation), cause)
}

func NewCancelledError(stage string, cause error) *CalcError {
	return NewError(ErrCodeCancelled, stage, "execution cancelled", cause)
}

func NewInternalError(stage, message string, cause error) *CalcError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
