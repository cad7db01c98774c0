package calcgraph

import (
	"context"
)

// OpFunc is the implementation of an operation. It receives the resolved
// input values in declared input order and produces the operation's output
// value. Values are opaque to the engine; only their names are interpreted.
type OpFunc func(ctx context.Context, args []any) (any, error)

// Operation is a named unit of computation: one output name, an ordered
// list of input names, and an implementation. An input name with no
// operation producing it is a raw parameter supplied by the caller.
type Operation struct {
	Output      string
	Inputs      []string
	Impl        OpFunc
	IsAsync     bool
	Description string
}

// OperationOption configures an Operation built with NewOperation.
type OperationOption func(*Operation)

// WithAsync marks the operation as asynchronous. Asynchronous operations
// scheduled in the same wave are started together and awaited together.
func WithAsync() OperationOption {
	return func(op *Operation) {
		op.IsAsync = true
	}
}

// WithDescription attaches a human-readable description to the operation.
func WithDescription(desc string) OperationOption {
	return func(op *Operation) {
		op.Description = desc
	}
}

// NewOperation builds an Operation from an output name, its input names,
// and an implementation.
func NewOperation(output string, inputs []string, impl OpFunc, options ...OperationOption) Operation {
	op := Operation{
		Output: output,
		Inputs: inputs,
		Impl:   impl,
	}
	for _, option := range options {
		option(&op)
	}
	return op
}

// ParamInfo is the result of a query-only dependency analysis: the minimal
// raw parameters a request needs, and the intermediate outputs computed on
// the way to the requested outputs.
type ParamInfo struct {
	// Params is the minimal set of raw inputs, sorted lexicographically.
	Params []string `json:"params"`
	// Intermediates is the sorted set of operation outputs computed while
	// producing the requested outputs, excluding the requested outputs
	// themselves.
	Intermediates []string `json:"intermediates"`
}
