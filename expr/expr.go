// Package expr builds engine operations from govaluate expression strings.
// The expression's variables become the operation's declared inputs, so a
// formula like "price * (1 + taxRate)" is a complete, explicit operation
// descriptor: no source inspection is involved.
package expr

import (
	"context"
	"fmt"
	"sync"

	"github.com/Knetic/govaluate"

	"github.com/ZanzyTHEbar/calcgraph"
)

// FunctionRegistry allows registration of custom functions usable inside
// expressions.
type FunctionRegistry struct {
	mutex     sync.RWMutex
	functions map[string]govaluate.ExpressionFunction
}

var globalFuncRegistry = &FunctionRegistry{functions: make(map[string]govaluate.ExpressionFunction)}

// RegisterFunction registers a custom function for use in expressions.
func RegisterFunction(name string, fn govaluate.ExpressionFunction) {
	globalFuncRegistry.mutex.Lock()
	defer globalFuncRegistry.mutex.Unlock()
	globalFuncRegistry.functions[name] = fn
}

// registeredFunctions returns a copy of the registered function table.
func registeredFunctions() map[string]govaluate.ExpressionFunction {
	globalFuncRegistry.mutex.RLock()
	defer globalFuncRegistry.mutex.RUnlock()
	fns := make(map[string]govaluate.ExpressionFunction, len(globalFuncRegistry.functions))
	for name, fn := range globalFuncRegistry.functions {
		fns[name] = fn
	}
	return fns
}

// Validate checks that an expression parses against the registered
// function table without building an operation.
func Validate(expression string) error {
	_, err := govaluate.NewEvaluableExpressionWithFunctions(expression, registeredFunctions())
	return err
}

// NewOperation builds an Operation whose implementation evaluates the
// expression and whose inputs are the expression's variables, in first
// appearance order.
func NewOperation(output, expression string, options ...calcgraph.OperationOption) (calcgraph.Operation, error) {
	ex, err := govaluate.NewEvaluableExpressionWithFunctions(expression, registeredFunctions())
	if err != nil {
		return calcgraph.Operation{}, fmt.Errorf("invalid expression for %q: %w", output, err)
	}

	var inputs []string
	seen := make(map[string]bool)
	for _, name := range ex.Vars() {
		if seen[name] {
			continue
		}
		seen[name] = true
		inputs = append(inputs, name)
	}

	impl := func(ctx context.Context, args []any) (any, error) {
		params := make(map[string]interface{}, len(inputs))
		for i, name := range inputs {
			params[name] = args[i]
		}
		return ex.Evaluate(params)
	}

	return calcgraph.NewOperation(output, inputs, impl, options...), nil
}
