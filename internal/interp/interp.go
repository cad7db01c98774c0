// Package interp is the direct-evaluation fallback: it resolves requested
// outputs recursively against the operation table without synthesizing a
// plan. Cost is paid on every call, which is the right trade for
// low-repetition queries.
package interp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
)

// Op is the interpreter's view of an operation.
type Op struct {
	Inputs []string
	Async  bool
	Fn     func(ctx context.Context, args []any) (any, error)
}

// MissingInputError reports that resolving a top-level requested name hit
// a name with no operation and no supplied value. Missing is the raw input
// closest to the failure in the recursion, not a transitive report; Wanted
// is the top-level name being computed.
type MissingInputError struct {
	Missing string
	Wanted  string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("cannot compute %q: missing input %q", e.Wanted, e.Missing)
}

// missSignal propagates a missing name up the recursion until the
// top-level handler converts it into a MissingInputError.
type missSignal struct {
	name string
}

func (e *missSignal) Error() string {
	return fmt.Sprintf("missing input %q", e.name)
}

// Resolver interprets requests against a fixed operation table.
type Resolver struct {
	ops map[string]Op
}

// New creates a resolver over the given operation table.
func New(ops map[string]Op) *Resolver {
	return &Resolver{ops: ops}
}

// memo is the shared per-call memo: supplied argument values plus every
// value computed so far. Concurrent branches resolving the same name are
// deduplicated through the inflight table, so each operation runs at most
// once per Interpret call.
type memo struct {
	mu       sync.Mutex
	values   map[string]any
	inflight map[string]*call
}

type call struct {
	done chan struct{}
	val  any
	err  error
}

// Interpret evaluates each requested name against a memo seeded with a
// copy of args. The returned map's keys are exactly the requested names. A
// missing name anywhere under a requested output yields a
// *MissingInputError naming that output and the nearest missing input.
func (r *Resolver) Interpret(ctx context.Context, wanted []string, args map[string]any) (map[string]any, error) {
	m := &memo{
		values:   make(map[string]any, len(args)),
		inflight: make(map[string]*call),
	}
	for name, value := range args {
		m.values[name] = value
	}

	out := make(map[string]any, len(wanted))
	for _, name := range wanted {
		value, err := r.resolve(ctx, name, m, nil)
		if err != nil {
			var miss *missSignal
			if errors.As(err, &miss) {
				return nil, &MissingInputError{Missing: miss.name, Wanted: name}
			}
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}

// resolve returns the value for name, computing it at most once per
// Interpret call. path holds the names currently being computed on this
// branch of the recursion, outermost first; a name reappearing on its own
// path is a dependency cycle and fails instead of recursing forever. The
// path check must come before the inflight wait: a cyclic name is inflight
// by its own ancestor, and waiting on it would deadlock.
func (r *Resolver) resolve(ctx context.Context, name string, m *memo, path []string) (any, error) {
	m.mu.Lock()
	if value, ok := m.values[name]; ok {
		m.mu.Unlock()
		return value, nil
	}
	for _, ancestor := range path {
		if ancestor == name {
			m.mu.Unlock()
			return nil, cycleError(path, name)
		}
	}
	if c, ok := m.inflight[name]; ok {
		m.mu.Unlock()
		<-c.done
		return c.val, c.err
	}
	c := &call{done: make(chan struct{})}
	m.inflight[name] = c
	m.mu.Unlock()

	c.val, c.err = r.compute(ctx, name, m, path)

	m.mu.Lock()
	if c.err == nil {
		m.values[name] = c.val
	}
	delete(m.inflight, name)
	m.mu.Unlock()
	close(c.done)

	return c.val, c.err
}

func (r *Resolver) compute(ctx context.Context, name string, m *memo, path []string) (any, error) {
	op, ok := r.ops[name]
	if !ok {
		return nil, &missSignal{name: name}
	}

	// A fresh slice per step: concurrent sibling branches must not share
	// the ancestry's backing array.
	branch := make([]string, len(path)+1)
	copy(branch, path)
	branch[len(path)] = name

	values := make([]any, len(op.Inputs))
	if r.concurrentInputs(op) {
		g, gctx := errgroup.WithContext(ctx)
		for i, input := range op.Inputs {
			g.Go(func() error {
				value, err := r.resolve(gctx, input, m, branch)
				if err != nil {
					return err
				}
				values[i] = value
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for i, input := range op.Inputs {
			value, err := r.resolve(ctx, input, m, branch)
			if err != nil {
				return nil, err
			}
			values[i] = value
		}
	}

	value, err := op.Fn(ctx, values)
	if err != nil {
		return nil, fmt.Errorf("operation %q failed: %w", name, err)
	}
	return value, nil
}

// cycleError builds the diagnostic for a name that reappeared on its own
// resolution path. Only the names from the first occurrence onward belong
// to the cycle; ancestors above it are innocent.
func cycleError(path []string, name string) *graph.CycleError {
	idx := 0
	for i, ancestor := range path {
		if ancestor == name {
			idx = i
			break
		}
	}
	stuck := append([]string(nil), path[idx:]...)
	sort.Strings(stuck)
	return &graph.CycleError{Stuck: stuck}
}

// concurrentInputs reports whether the operation's inputs should be
// resolved in parallel: only worthwhile when more than one input exists
// and at least one of them is produced by an asynchronous operation.
func (r *Resolver) concurrentInputs(op Op) bool {
	if len(op.Inputs) < 2 {
		return false
	}
	for _, input := range op.Inputs {
		if producer, ok := r.ops[input]; ok && producer.Async {
			return true
		}
	}
	return false
}
