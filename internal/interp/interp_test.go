package interp

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
)

func numericTable() map[string]Op {
	return map[string]Op{
		"double": {Inputs: []string{"x"}, Fn: func(ctx context.Context, args []any) (any, error) {
			return 2 * args[0].(int), nil
		}},
		"addOne": {Inputs: []string{"double"}, Fn: func(ctx context.Context, args []any) (any, error) {
			return args[0].(int) + 1, nil
		}},
	}
}

func TestInterpret_LinearChain(t *testing.T) {
	r := New(numericTable())

	out, err := r.Interpret(context.Background(), []string{"addOne"}, map[string]any{"x": 3})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if !reflect.DeepEqual(out, map[string]any{"addOne": 7}) {
		t.Errorf("expected {addOne: 7}, got %v", out)
	}
}

func TestInterpret_SuppliedValueShortCircuits(t *testing.T) {
	ops := numericTable()
	ops["double"] = Op{Inputs: []string{"x"}, Fn: func(ctx context.Context, args []any) (any, error) {
		t.Error("double must not run when its value is supplied")
		return nil, nil
	}}
	r := New(ops)

	out, err := r.Interpret(context.Background(), []string{"addOne"}, map[string]any{"double": 10})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if out["addOne"] != 11 {
		t.Errorf("expected 11, got %v", out["addOne"])
	}
}

func TestInterpret_SharedMemoSingleEvaluation(t *testing.T) {
	var aCalls int32
	ops := map[string]Op{
		"a": {Inputs: []string{"x"}, Fn: func(ctx context.Context, args []any) (any, error) {
			atomic.AddInt32(&aCalls, 1)
			return args[0], nil
		}},
		"b": {Inputs: []string{"a"}, Fn: func(ctx context.Context, args []any) (any, error) {
			return args[0], nil
		}},
		"c": {Inputs: []string{"a"}, Fn: func(ctx context.Context, args []any) (any, error) {
			return args[0], nil
		}},
	}
	r := New(ops)

	if _, err := r.Interpret(context.Background(), []string{"b", "c"}, map[string]any{"x": 1}); err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if got := atomic.LoadInt32(&aCalls); got != 1 {
		t.Errorf("expected shared dependency evaluated once, got %d", got)
	}
}

func TestInterpret_MissingInputDiagnostic(t *testing.T) {
	r := New(numericTable())

	_, err := r.Interpret(context.Background(), []string{"addOne"}, map[string]any{})
	if err == nil {
		t.Fatal("expected missing-input error, got nil")
	}
	var miss *MissingInputError
	if !errors.As(err, &miss) {
		t.Fatalf("expected *MissingInputError, got %T", err)
	}
	if miss.Missing != "x" {
		t.Errorf("expected missing input x, got %q", miss.Missing)
	}
	if miss.Wanted != "addOne" {
		t.Errorf("expected wanted addOne, got %q", miss.Wanted)
	}
}

func TestInterpret_AsyncSiblingInputsOverlap(t *testing.T) {
	const delay = 40 * time.Millisecond
	sleepy := func(ctx context.Context, args []any) (any, error) {
		time.Sleep(delay)
		return args[0], nil
	}
	ops := map[string]Op{
		"left":  {Inputs: []string{"x"}, Async: true, Fn: sleepy},
		"right": {Inputs: []string{"x"}, Async: true, Fn: sleepy},
		"join": {Inputs: []string{"left", "right"}, Fn: func(ctx context.Context, args []any) (any, error) {
			return args[0].(int) + args[1].(int), nil
		}},
	}
	r := New(ops)

	start := time.Now()
	out, err := r.Interpret(context.Background(), []string{"join"}, map[string]any{"x": 2})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed >= 2*delay {
		t.Errorf("async sibling inputs did not overlap: took %v", elapsed)
	}
	if out["join"] != 4 {
		t.Errorf("expected 4, got %v", out["join"])
	}
}

func TestInterpret_OperationErrorPropagates(t *testing.T) {
	ops := map[string]Op{
		"boom": {Inputs: []string{"x"}, Fn: func(ctx context.Context, args []any) (any, error) {
			return nil, errors.New("kaput")
		}},
	}
	r := New(ops)

	_, err := r.Interpret(context.Background(), []string{"boom"}, map[string]any{"x": 1})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var miss *MissingInputError
	if errors.As(err, &miss) {
		t.Errorf("implementation failure must not masquerade as a missing input")
	}
}

func TestInterpret_CycleDetected(t *testing.T) {
	echo := func(ctx context.Context, args []any) (any, error) { return args[0], nil }
	ops := map[string]Op{
		"a": {Inputs: []string{"b"}, Fn: echo},
		"b": {Inputs: []string{"a"}, Fn: echo},
	}
	r := New(ops)

	done := make(chan error, 1)
	go func() {
		_, err := r.Interpret(context.Background(), []string{"a"}, map[string]any{})
		done <- err
	}()

	var err error
	select {
	case err = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Interpret did not return on a cyclic operation table")
	}
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	var cycleErr *graph.CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *graph.CycleError, got %T", err)
	}
	if !reflect.DeepEqual(cycleErr.Stuck, []string{"a", "b"}) {
		t.Errorf("expected stuck [a b], got %v", cycleErr.Stuck)
	}
}

func TestInterpret_SuppliedValueShortCircuitsCycle(t *testing.T) {
	// A supplied value prunes the subtree below it, so the cycle is never
	// walked and the request succeeds.
	echo := func(ctx context.Context, args []any) (any, error) { return args[0], nil }
	ops := map[string]Op{
		"a": {Inputs: []string{"b"}, Fn: echo},
		"b": {Inputs: []string{"a"}, Fn: echo},
	}
	r := New(ops)

	out, err := r.Interpret(context.Background(), []string{"a"}, map[string]any{"b": 9})
	if err != nil {
		t.Fatalf("Interpret failed: %v", err)
	}
	if out["a"] != 9 {
		t.Errorf("expected 9, got %v", out["a"])
	}
}
