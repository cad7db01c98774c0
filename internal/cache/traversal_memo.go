package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/ZanzyTHEbar/calcgraph/internal/graph"
)

// TraversalMemo caches traversal results per (wanted, precomputed) shape so
// repeated identical queries skip re-walking the dependency graph. Entries
// expire by TTL and are reaped lazily on access; the memo never starts a
// background goroutine.
type TraversalMemo struct {
	store map[string]memoItem
	mutex sync.RWMutex
	ttl   time.Duration
}

type memoItem struct {
	result     graph.Result
	expiration int64
}

// NewTraversalMemo creates a memo whose entries live for ttl. A zero or
// negative ttl disables expiration.
func NewTraversalMemo(ttl time.Duration) *TraversalMemo {
	return &TraversalMemo{
		store: make(map[string]memoItem),
		ttl:   ttl,
	}
}

// MemoKey builds the memo key for a (wanted, precomputed) pair.
func MemoKey(wanted, precomputed []string) string {
	return Key(wanted) + keySep + keySep + Key(precomputed)
}

// Get retrieves a memoized traversal result.
func (m *TraversalMemo) Get(ctx context.Context, key string) (graph.Result, error) {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return graph.Result{}, err
	}

	m.mutex.RLock()
	item, found := m.store[key]
	m.mutex.RUnlock()

	if !found {
		return graph.Result{}, errbuilder.NotFoundErr(errbuilder.GenericErr("traversal not memoized", nil))
	}
	if item.expiration > 0 && time.Now().UnixNano() > item.expiration {
		m.mutex.Lock()
		delete(m.store, key)
		m.mutex.Unlock()
		return graph.Result{}, errbuilder.NotFoundErr(errbuilder.GenericErr("memoized traversal expired", nil))
	}
	return item.result, nil
}

// Set stores a traversal result.
func (m *TraversalMemo) Set(ctx context.Context, key string, result graph.Result) error {
	if err := errbuilder.WrapIfContextDone(ctx, nil); err != nil {
		return err
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	var expiration int64
	if m.ttl > 0 {
		expiration = time.Now().Add(m.ttl).UnixNano()
	}
	m.store[key] = memoItem{result: result, expiration: expiration}
	return nil
}
