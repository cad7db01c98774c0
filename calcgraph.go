// Package calcgraph compiles sets of small named calculation operations
// into demand-driven query plans. Given requested outputs and the names
// the caller can already supply, it derives the minimal raw inputs,
// schedules the reachable operations into dependency waves, and produces a
// reusable executable plan that computes exactly the requested outputs
// with no redundant work. Plans can be cached, persisted as records, and
// relinked against another registry; a direct interpreter covers
// low-repetition queries.
package calcgraph

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/calcgraph/internal/cache"
	"github.com/ZanzyTHEbar/calcgraph/internal/eventbus"
	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
	"github.com/ZanzyTHEbar/calcgraph/internal/interp"
	"github.com/ZanzyTHEbar/calcgraph/internal/plan"
)

// Plan is a synthesized executable for one (requested outputs, minimal
// params) pair. Invoke it directly, or persist its Record form.
type Plan = plan.Plan

// Record is the persistable twin of a Plan.
type Record = plan.Record

// Config holds the configuration options for the Engine.
type Config struct {
	// Event bus configuration. The bus is off by default; enabling it
	// starts worker goroutines that are stopped by Close.
	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int

	// TraversalMemoTTL bounds how long memoized traversal results live.
	// Zero disables expiration.
	TraversalMemoTTL time.Duration

	// PersistPath, when set, enables the file-backed plan record store:
	// compiled plans are persisted there and relinked on construction.
	PersistPath string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		EnableEventBus:      false,
		EventBusBufferSize:  64,
		EventBusWorkerCount: 2,
		TraversalMemoTTL:    10 * time.Minute,
	}
}

// Engine is the main entry point: it owns the plan cache, the traversal
// memo, the optional record store and event bus, and answers queries
// against one Registry. Registry mutation is not designed to be safe
// concurrently with in-flight queries; queries work on registry snapshots.
type Engine struct {
	registry *Registry
	config   Config

	planCache *cache.PlanCache
	memo      *cache.TraversalMemo
	store     *cache.RecordStore
	eventBus  eventbus.EventBus

	runs      map[string]*RunContext
	runsMutex sync.RWMutex
}

// Option is a function that configures an Engine instance.
type Option func(*Engine)

// WithConfig sets the engine configuration.
func WithConfig(config Config) Option {
	return func(e *Engine) {
		e.config = config
	}
}

// WithEventBus sets a custom event bus; implies event publication is on.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) {
		e.eventBus = bus
		e.config.EnableEventBus = true
	}
}

// New creates an Engine over the given registry.
func New(registry *Registry, options ...Option) (*Engine, error) {
	if registry == nil {
		return nil, NewValidationError("initialization", "registry cannot be nil", nil)
	}

	e := &Engine{
		registry: registry,
		config:   DefaultConfig(),
		runs:     make(map[string]*RunContext),
	}
	for _, option := range options {
		option(e)
	}

	e.planCache = cache.NewPlanCache()
	e.memo = cache.NewTraversalMemo(e.config.TraversalMemoTTL)

	if e.config.EnableEventBus && e.eventBus == nil {
		e.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(e.config.EventBusBufferSize),
			eventbus.WithWorkerCount(e.config.EventBusWorkerCount),
		)
	}

	if e.config.PersistPath != "" {
		e.store = cache.NewRecordStore(e.config.PersistPath, &cache.StdLogger{})
		e.reloadPersistedPlans()
	}
	return e, nil
}

// Close releases engine resources. Currently that is the event bus; the
// caches need no teardown.
func (e *Engine) Close() error {
	if e.eventBus != nil {
		return e.eventBus.Close()
	}
	return nil
}

// EventBus exposes the engine's event bus for subscriptions; nil when
// events are disabled.
func (e *Engine) EventBus() eventbus.EventBus {
	return e.eventBus
}

// reloadPersistedPlans relinks every stored record against the current
// registry. Records the registry can no longer satisfy are skipped with a
// warning: registry drift must not prevent engine construction.
func (e *Engine) reloadPersistedPlans() {
	for key, rec := range e.store.All() {
		returnsKey, paramsKey, ok := cache.SplitKeys(key)
		if !ok {
			log.Printf("Engine: skipping persisted plan with malformed key %q", key)
			continue
		}
		p, err := plan.Relink(rec, e.lookupImpl)
		if err != nil {
			log.Printf("Engine: skipping persisted plan %q: %v", key, err)
			e.publish(context.Background(), eventbus.EventPlanRelinkSkipped, rec.Returns, map[string]interface{}{"error": err.Error()})
			continue
		}
		e.planCache.Insert(returnsKey, paramsKey, p)
		e.publish(context.Background(), eventbus.EventPlanRelinked, rec.Returns, nil)
	}
}

func (e *Engine) lookupImpl(name string) (plan.OpFunc, bool) {
	op, ok := e.registry.Lookup(name)
	if !ok || op.Impl == nil {
		return nil, false
	}
	return plan.OpFunc(op.Impl), true
}

// snapshotNodes converts the registry snapshot into the name-level shape
// used by traversal and scheduling, plus the implementation table used by
// synthesis.
func (e *Engine) snapshotNodes() (map[string]graph.Node, map[string]plan.OpFunc) {
	snap := e.registry.Snapshot()
	nodes := make(map[string]graph.Node, len(snap))
	impls := make(map[string]plan.OpFunc, len(snap))
	for name, op := range snap {
		nodes[name] = graph.Node{Output: op.Output, Inputs: op.Inputs, Async: op.IsAsync}
		impls[name] = plan.OpFunc(op.Impl)
	}
	return nodes, impls
}

// traverse runs (or recalls) the demand-driven traversal for a request.
func (e *Engine) traverse(ctx context.Context, wanted, precomputed []string) (graph.Result, error) {
	key := cache.MemoKey(wanted, precomputed)
	if result, err := e.memo.Get(ctx, key); err == nil {
		return result, nil
	}
	nodes, _ := e.snapshotNodes()
	result := graph.Traverse(nodes, wanted, precomputed)
	if err := e.memo.Set(ctx, key, result); err != nil {
		return graph.Result{}, err
	}
	return result, nil
}

// GetParams answers the query-only form: the minimal raw parameters and
// the intermediate outputs for a request, with no compilation.
func (e *Engine) GetParams(ctx context.Context, wanted, precomputed []string) (ParamInfo, error) {
	if len(wanted) == 0 {
		return ParamInfo{}, NewValidationError("traversal", "no outputs requested", nil)
	}
	result, err := e.traverse(ctx, wanted, precomputed)
	if err != nil {
		return ParamInfo{}, err
	}
	return ParamInfo{Params: result.Params, Intermediates: result.Intermediates}, nil
}

// compile runs the full pipeline for one request, bypassing the cache.
func (e *Engine) compile(ctx context.Context, wanted, precomputed []string) (*Plan, graph.Result, error) {
	returns := dedupe(wanted)

	result, err := e.traverse(ctx, returns, precomputed)
	if err != nil {
		return nil, graph.Result{}, err
	}

	available := make(map[string]bool, len(result.Params)+len(precomputed))
	for _, name := range result.Params {
		available[name] = true
	}
	for _, name := range precomputed {
		available[name] = true
	}
	waves, err := graph.Schedule(result.Ops, available)
	if err != nil {
		return nil, graph.Result{}, NewCycleError(err)
	}

	_, impls := e.snapshotNodes()
	p, err := plan.Synthesize(waves, result.Params, returns, impls)
	if err != nil {
		return nil, graph.Result{}, NewSynthesisError(err)
	}
	return p, result, nil
}

// Compile synthesizes a fresh plan for the request and returns it together
// with its persistable record. The cache is not consulted; use
// GetOrCompile for the cached path. Compilation needs names only, never
// argument values, so a request over unknown names still compiles: those
// names simply become required params and surface at invocation time.
func (e *Engine) Compile(ctx context.Context, wanted, precomputed []string) (*Plan, *Record, error) {
	if len(wanted) == 0 {
		return nil, nil, NewValidationError("compilation", "no outputs requested", nil)
	}
	e.publish(ctx, eventbus.EventCompileStarted, wanted, nil)

	p, _, err := e.compile(ctx, wanted, precomputed)
	if err != nil {
		e.publish(ctx, eventbus.EventCompileFailure, wanted, map[string]interface{}{"error": err.Error()})
		return nil, nil, err
	}
	e.publish(ctx, eventbus.EventCompileSuccess, wanted, map[string]interface{}{"plan_id": p.ID})
	return p, p.Record(), nil
}

// GetOrCompile returns the cached plan for the request shape, compiling at
// most once per shape. Equal (wanted, precomputed) requests observe the
// identical *Plan pointer; callers may key their own memoization on it.
func (e *Engine) GetOrCompile(ctx context.Context, wanted, precomputed []string) (*Plan, error) {
	if len(wanted) == 0 {
		return nil, NewValidationError("compilation", "no outputs requested", nil)
	}

	returns := dedupe(wanted)
	returnsKey := cache.Key(returns)

	paramsKey := func() (string, error) {
		result, err := e.traverse(ctx, returns, precomputed)
		if err != nil {
			return "", err
		}
		return cache.Key(result.Params), nil
	}
	compile := func() (string, *plan.Plan, error) {
		e.publish(ctx, eventbus.EventCompileStarted, wanted, nil)
		p, result, err := e.compile(ctx, returns, precomputed)
		if err != nil {
			e.publish(ctx, eventbus.EventCompileFailure, wanted, map[string]interface{}{"error": err.Error()})
			return "", nil, err
		}
		pk := cache.Key(result.Params)
		if e.store != nil {
			if err := e.store.Put(returnsKey, pk, p.Record()); err == nil {
				e.publish(ctx, eventbus.EventPlanPersisted, wanted, map[string]interface{}{"plan_id": p.ID})
			}
		}
		e.publish(ctx, eventbus.EventCompileSuccess, wanted, map[string]interface{}{"plan_id": p.ID})
		return pk, p, nil
	}

	p, hit, err := e.planCache.GetOrCompute(ctx, returnsKey, paramsKey, compile)
	if err != nil {
		return nil, err
	}
	if hit {
		e.publish(ctx, eventbus.EventCompileCacheHit, wanted, map[string]interface{}{"plan_id": p.ID})
	}
	return p, nil
}

// Load relinks a persisted record against the current registry.
func (e *Engine) Load(rec *Record) (*Plan, error) {
	p, err := plan.Relink(rec, e.lookupImpl)
	if err != nil {
		return nil, NewLinkageError(err)
	}
	return p, nil
}

// LoadJSON parses a serialized record and relinks it.
func (e *Engine) LoadJSON(data []byte) (*Plan, error) {
	rec, err := plan.DecodeJSON(data)
	if err != nil {
		return nil, NewValidationError("loading", "invalid plan record", err)
	}
	return e.Load(rec)
}

// LoadFile loads a record file (JSON or YAML by extension) and relinks it.
func (e *Engine) LoadFile(path string) (*Plan, error) {
	rec, err := plan.LoadRecordFile(path)
	if err != nil {
		return nil, NewValidationError("loading", "cannot load plan record file", err)
	}
	return e.Load(rec)
}

// Calculate is the convenience path: the precomputed hint is derived from
// the argument map's keys, the cached plan is obtained and invoked. An
// insufficient argument map fails with a *MissingArgumentsError naming the
// missing inputs and the outputs they block.
func (e *Engine) Calculate(ctx context.Context, wanted []string, args map[string]any) (map[string]any, error) {
	precomputed := make([]string, 0, len(args))
	for name := range args {
		precomputed = append(precomputed, name)
	}

	p, err := e.GetOrCompile(ctx, wanted, precomputed)
	if err != nil {
		return nil, err
	}

	e.publish(ctx, eventbus.EventInvocationStarted, wanted, map[string]interface{}{"plan_id": p.ID})
	out, err := p.Invoke(ctx, args)
	if err != nil {
		e.publish(ctx, eventbus.EventInvocationFailure, wanted, map[string]interface{}{"plan_id": p.ID, "error": err.Error()})
		return nil, err
	}
	e.publish(ctx, eventbus.EventInvocationSuccess, wanted, map[string]interface{}{"plan_id": p.ID})
	return out, nil
}

// Interpret evaluates the request directly against the registry, with no
// plan synthesis or caching. Appropriate for queries that will not repeat.
func (e *Engine) Interpret(ctx context.Context, wanted []string, args map[string]any) (map[string]any, error) {
	if len(wanted) == 0 {
		return nil, NewValidationError("interpretation", "no outputs requested", nil)
	}

	snap := e.registry.Snapshot()
	ops := make(map[string]interp.Op, len(snap))
	for name, op := range snap {
		ops[name] = interp.Op{Inputs: op.Inputs, Async: op.IsAsync, Fn: op.Impl}
	}

	e.publish(ctx, eventbus.EventInterpretStarted, wanted, nil)
	out, err := interp.New(ops).Interpret(ctx, dedupe(wanted), args)
	if err != nil {
		e.publish(ctx, eventbus.EventInterpretFailure, wanted, map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	e.publish(ctx, eventbus.EventInterpretSuccess, wanted, nil)
	return out, nil
}

func (e *Engine) publish(ctx context.Context, eventType eventbus.EventType, wanted []string, metadata map[string]interface{}) {
	if e.eventBus == nil {
		return
	}
	event := eventbus.NewEvent(eventType, wanted, "calcgraph.Engine", metadata)
	if err := e.eventBus.Publish(ctx, event); err != nil {
		log.Printf("Engine: failed to publish %s event: %v", eventType, err)
	}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
