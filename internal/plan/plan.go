// Package plan turns a wave schedule into a reusable executable plan and
// provides the persistable record form that can be relinked against a
// different operation registry.
//
// A synthesized plan is a sequence of typed steps over synthetic value
// slots: bind each raw parameter into its slot, run each wave's
// synchronous steps in order and its asynchronous steps as a fan-out with
// a single join, then assemble the result map from the requested outputs'
// slots. The step list is driven by a small fixed interpreter; no code is
// generated.
package plan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
)

// OpFunc mirrors the engine's operation implementation signature: resolved
// input values in declared order in, output value out.
type OpFunc func(ctx context.Context, args []any) (any, error)

type invokeStep struct {
	output     string   // original output name
	slot       string   // synthetic slot receiving the value
	inputSlots []string // synthetic slots of the inputs, declared order
	fn         OpFunc
}

type planWave struct {
	sync  []invokeStep
	async []invokeStep
}

type bindStep struct {
	name string
	slot string
}

type resultStep struct {
	name string
	slot string
}

// Plan is a synthesized, reusable executable for one fixed
// (requested outputs, minimal parameters) pair.
type Plan struct {
	// ID identifies this synthesized instance; it is not part of the
	// behavioral contract and is regenerated on relink.
	ID string
	// FormulaIDs maps each scheduled operation's output name to its
	// synthetic slot. This mapping is what gets persisted: implementations
	// cannot be serialized and are relinked by name at load time.
	FormulaIDs map[string]string
	// Params is the minimal raw-input list, sorted lexicographically.
	Params []string
	// Returns is the requested-output list in request order.
	Returns []string
	// IsAsync is true iff any scheduled operation is asynchronous. A plan
	// with IsAsync false never starts a goroutine.
	IsAsync bool

	binds   []bindStep
	waves   []planWave
	results []resultStep
	// shape holds the scheduled operations' dependency shape for the
	// missing-argument diagnostic (one-hop blocked-output lookup).
	shape map[string]graph.Node
}

// Synthesize builds a Plan from a wave schedule. params must be the sorted
// minimal raw-input list produced by traversal for the same request;
// returns is the requested-output list. impls supplies the implementation
// for every scheduled output name.
//
// Synthesize trusts the schedule: it does not re-derive reachability or
// re-check readiness.
func Synthesize(waves []graph.Wave, params, returns []string, impls map[string]OpFunc) (*Plan, error) {
	p := &Plan{
		ID:         uuid.NewString(),
		FormulaIDs: make(map[string]string),
		Params:     params,
		Returns:    returns,
		shape:      make(map[string]graph.Node),
	}

	counter := 0
	slots := make(map[string]string, len(params))
	nextSlot := func(name string) string {
		slot := fmt.Sprintf("v%d", counter)
		counter++
		slots[name] = slot
		return slot
	}

	for _, name := range params {
		p.binds = append(p.binds, bindStep{name: name, slot: nextSlot(name)})
	}

	synth := func(node graph.Node) (invokeStep, error) {
		fn, ok := impls[node.Output]
		if !ok {
			return invokeStep{}, fmt.Errorf("no implementation for scheduled operation %q", node.Output)
		}
		step := invokeStep{
			output: node.Output,
			slot:   nextSlot(node.Output),
			fn:     fn,
		}
		for _, input := range node.Inputs {
			slot, ok := slots[input]
			if !ok {
				return invokeStep{}, fmt.Errorf("operation %q scheduled before its input %q", node.Output, input)
			}
			step.inputSlots = append(step.inputSlots, slot)
		}
		p.FormulaIDs[node.Output] = step.slot
		p.shape[node.Output] = node
		return step, nil
	}

	for _, wave := range waves {
		var pw planWave
		for _, node := range wave.Sync {
			step, err := synth(node)
			if err != nil {
				return nil, err
			}
			pw.sync = append(pw.sync, step)
		}
		for _, node := range wave.Async {
			step, err := synth(node)
			if err != nil {
				return nil, err
			}
			pw.async = append(pw.async, step)
			p.IsAsync = true
		}
		p.waves = append(p.waves, pw)
	}

	for _, name := range returns {
		slot, ok := slots[name]
		if !ok {
			return nil, fmt.Errorf("requested output %q is neither a parameter nor a scheduled operation", name)
		}
		p.results = append(p.results, resultStep{name: name, slot: slot})
	}
	return p, nil
}

// Invoke runs the plan against the supplied argument map and returns a map
// whose keys are exactly the plan's Returns. Before touching any
// implementation it validates that every name in Params is present; if any
// are missing it fails with a *graph.MissingArgumentsError naming the
// missing parameters and the directly blocked outputs.
func (p *Plan) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	var missing []string
	for _, name := range p.Params {
		if _, ok := args[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		missingSet := make(map[string]bool, len(missing))
		for _, name := range missing {
			missingSet[name] = true
		}
		return nil, &graph.MissingArgumentsError{
			Missing: missing,
			Blocked: graph.UncomputableOutputs(p.shape, missingSet),
		}
	}

	env := make(map[string]any, len(p.binds)+len(p.FormulaIDs))
	for _, bind := range p.binds {
		env[bind.slot] = args[bind.name]
	}

	for _, wave := range p.waves {
		for _, step := range wave.sync {
			value, err := p.run(ctx, step, env)
			if err != nil {
				return nil, err
			}
			env[step.slot] = value
		}
		if err := p.runAsyncGroup(ctx, wave.async, env); err != nil {
			return nil, err
		}
	}

	out := make(map[string]any, len(p.results))
	for _, res := range p.results {
		out[res.name] = env[res.slot]
	}
	return out, nil
}

// runAsyncGroup starts every member of the wave's asynchronous group before
// awaiting any of them, then joins. Results are written back to env only
// after the join so concurrent members never mutate shared state. A
// single-member group is simply awaited in place.
func (p *Plan) runAsyncGroup(ctx context.Context, group []invokeStep, env map[string]any) error {
	switch len(group) {
	case 0:
		return nil
	case 1:
		value, err := p.run(ctx, group[0], env)
		if err != nil {
			return err
		}
		env[group[0].slot] = value
		return nil
	}

	values := make([]any, len(group))
	fanout := pool.New().WithErrors()
	for i, step := range group {
		fanout.Go(func() error {
			value, err := p.run(ctx, step, env)
			if err != nil {
				return err
			}
			values[i] = value
			return nil
		})
	}
	if err := fanout.Wait(); err != nil {
		return err
	}
	for i, step := range group {
		env[step.slot] = values[i]
	}
	return nil
}

func (p *Plan) run(ctx context.Context, step invokeStep, env map[string]any) (any, error) {
	args := make([]any, len(step.inputSlots))
	for i, slot := range step.inputSlots {
		args[i] = env[slot]
	}
	value, err := step.fn(ctx, args)
	if err != nil {
		return nil, fmt.Errorf("operation %q failed: %w", step.output, err)
	}
	return value, nil
}
