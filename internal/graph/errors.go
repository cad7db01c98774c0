package graph

import (
	"fmt"
	"strings"
)

// CycleError reports that the required operations contain a dependency
// cycle and can never all become ready. Stuck lists the unschedulable
// output names, sorted.
type CycleError struct {
	Stuck []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected among operations: %s", strings.Join(e.Stuck, ", "))
}

// MissingArgumentsError reports an invocation whose argument map lacked one
// or more required raw parameters. Missing lists the absent parameter
// names; Blocked lists the output names of the operations directly
// consuming them (one-hop lookup, see UncomputableOutputs). Both are
// sorted.
type MissingArgumentsError struct {
	Missing []string
	Blocked []string
}

func (e *MissingArgumentsError) Error() string {
	if len(e.Blocked) == 0 {
		return fmt.Sprintf("missing arguments: %s", strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("missing arguments: %s (blocking: %s)",
		strings.Join(e.Missing, ", "), strings.Join(e.Blocked, ", "))
}
