// Package graph implements the name-level dependency analysis behind the
// calculation engine: demand-driven traversal from requested outputs to the
// minimal raw-parameter set, wavefront scheduling of the required
// operations, and the one-hop diagnostics used for missing-input reporting.
//
// The package works purely on names and dependency shape. Implementations
// and values never enter here.
package graph

import (
	"sort"
)

// Node is the dependency shape of a single operation: its output name, its
// declared input names, and whether it executes asynchronously.
type Node struct {
	Output string
	Inputs []string
	Async  bool
}

// Result holds the outcome of a traversal.
type Result struct {
	// Ops is the set of operations reachable from the requested outputs,
	// keyed by output name.
	Ops map[string]Node
	// Params is the minimal set of raw inputs, sorted lexicographically.
	Params []string
	// Intermediates is the sorted set of operation outputs in Ops that were
	// not themselves requested.
	Intermediates []string
}

// Traverse discovers which operations are needed to produce the wanted
// outputs and which names must be supplied as raw parameters. A name with
// no operation in ops, or a name listed in precomputed, terminates
// exploration and becomes a parameter; the subtree below a precomputed name
// is pruned entirely.
//
// Traversal is reachability only. It terminates on any input graph, cyclic
// or not, because each name is expanded at most once; cycles among required
// operations are detected later by Schedule.
func Traverse(ops map[string]Node, wanted, precomputed []string) Result {
	pre := make(map[string]bool, len(precomputed))
	for _, name := range precomputed {
		pre[name] = true
	}
	wantedSet := make(map[string]bool, len(wanted))
	for _, name := range wanted {
		wantedSet[name] = true
	}

	required := make(map[string]Node)
	var params []string
	visited := make(map[string]bool)

	stack := make([]string, 0, len(wanted))
	stack = append(stack, wanted...)
	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[name] {
			continue
		}
		visited[name] = true

		node, producible := ops[name]
		if !producible || pre[name] {
			params = append(params, name)
			continue
		}
		required[name] = node
		stack = append(stack, node.Inputs...)
	}
	sort.Strings(params)

	var intermediates []string
	for output := range required {
		if !wantedSet[output] {
			intermediates = append(intermediates, output)
		}
	}
	sort.Strings(intermediates)

	return Result{Ops: required, Params: params, Intermediates: intermediates}
}

// Wave is one dependency layer of a schedule. Every operation in a wave has
// all of its inputs available before the wave starts. The synchronous group
// runs sequentially; the asynchronous group is started as a batch and the
// wave completes once every member has resolved.
type Wave struct {
	Sync  []Node
	Async []Node
}

// Schedule partitions the required operations into ordered waves. The
// available set seeds wave readiness and is typically the union of raw
// parameters and precomputed names; it is not modified.
//
// A required-operation set containing a dependency cycle can never be fully
// scheduled; Schedule reports this as a *CycleError naming the stuck
// operations rather than looping forever.
func Schedule(required map[string]Node, available map[string]bool) ([]Wave, error) {
	have := make(map[string]bool, len(available))
	for name := range available {
		have[name] = true
	}

	remaining := make(map[string]Node, len(required))
	for output, node := range required {
		remaining[output] = node
	}

	var waves []Wave
	for len(remaining) > 0 {
		ready := make([]string, 0, len(remaining))
		for output, node := range remaining {
			ok := true
			for _, input := range node.Inputs {
				if have[input] {
					continue
				}
				// Inputs outside the required set are raw parameters and
				// are available by construction; only outputs still pending
				// in this schedule can block readiness.
				if _, producedHere := required[input]; producedHere {
					ok = false
					break
				}
			}
			if ok {
				ready = append(ready, output)
			}
		}
		if len(ready) == 0 {
			stuck := make([]string, 0, len(remaining))
			for output := range remaining {
				stuck = append(stuck, output)
			}
			sort.Strings(stuck)
			return nil, &CycleError{Stuck: stuck}
		}
		sort.Strings(ready)

		var wave Wave
		for _, output := range ready {
			node := remaining[output]
			if node.Async {
				wave.Async = append(wave.Async, node)
			} else {
				wave.Sync = append(wave.Sync, node)
			}
			delete(remaining, output)
		}
		for _, output := range ready {
			have[output] = true
		}
		waves = append(waves, wave)
	}
	return waves, nil
}

// UncomputableOutputs returns, sorted, the output names of operations that
// have at least one direct input in the missing set. The lookup is
// deliberately one hop deep: it names the nearest blocked operations, not
// the transitive closure.
func UncomputableOutputs(ops map[string]Node, missing map[string]bool) []string {
	var blocked []string
	for output, node := range ops {
		for _, input := range node.Inputs {
			if missing[input] {
				blocked = append(blocked, output)
				break
			}
		}
	}
	sort.Strings(blocked)
	return blocked
}
