package table

import (
	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/query"
	"github.com/ValentinKolb/dFront/lib/signal"
)

// Query is a reactive handle on a table. It is bound to at most one query
// instance at a time and follows the state of that instance.
//
// A Query is safe for concurrent use.
type Query[E any] struct {
	table  *Table[E]
	ch     chan struct{}
	inst   *query.Instance // guarded by table.mu
	detach func()
	closed bool
}

func newQuery[E any](t *Table[E]) *Query[E] {
	return &Query[E]{table: t, ch: signal.NewChan()}
}

// Activate points the handle at req. A nil req deactivates the handle.
//
// Activating a request that hashes to the current one is a no-op. Otherwise
// the handle binds to the instance for req before letting go of the previous
// one, so flipping between two requests never evicts shared entities. A fetch
// is started unless the instance is already loading or loaded.
func (q *Query[E]) Activate(req query.Request) error {
	t := q.table
	t.mu.Lock()

	if q.closed {
		t.mu.Unlock()
		return ErrClosed
	}

	var next *query.Instance
	if req != nil {
		key, err := t.registry.KeyOf(req)
		if err != nil {
			t.mu.Unlock()
			return err
		}
		if q.inst != nil && q.inst.Key == key {
			t.mu.Unlock()
			return nil
		}
		if next, err = t.acquireLocked(req); err != nil {
			t.mu.Unlock()
			return err
		}
	} else if q.inst == nil {
		t.mu.Unlock()
		return nil
	}

	prev := q.inst
	q.bindLocked(next)
	if prev != nil {
		t.releaseLocked(prev)
	}

	var run func()
	if next != nil && t.registry.ShouldFetch(next) {
		run = t.beginFetchLocked(next)
	}
	t.mu.Unlock()

	if run != nil {
		go run()
	}
	signal.Poke(q.ch)
	return nil
}

// Deactivate is Activate(nil).
func (q *Query[E]) Deactivate() {
	_ = q.Activate(nil)
}

// Refetch reloads the bound instance, regardless of its current state, unless
// a fetch is already in flight. It reports whether a fetch was started.
// This is the explicit retry for instances stuck on a fatal error.
func (q *Query[E]) Refetch() bool {
	t := q.table
	t.mu.Lock()
	inst := q.inst
	if inst == nil || inst.Loading() {
		t.mu.Unlock()
		return false
	}
	t.registry.Reset(inst)
	run := t.beginFetchLocked(inst)
	t.mu.Unlock()

	go run()
	return true
}

// Close deactivates the handle for good.
func (q *Query[E]) Close() {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if prev := q.inst; prev != nil {
		q.bindLocked(nil)
		t.releaseLocked(prev)
	}
}

// bindLocked moves the change subscription of the handle to inst
func (q *Query[E]) bindLocked(inst *query.Instance) {
	if q.detach != nil {
		q.detach()
		q.detach = nil
	}
	q.inst = inst
	if inst != nil {
		q.detach = inst.Attach(q.ch)
	}
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// Result returns the mapped entities of the bound instance, keyed by id. It is
// empty while the handle is inactive or before the first fetch succeeded.
func (q *Query[E]) Result() map[string]E {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if q.inst == nil || !q.inst.Loaded() {
		return map[string]E{}
	}
	return t.store.Get(q.inst.IDs()...)
}

// IDs returns the ids of the current result in sorted order.
func (q *Query[E]) IDs() []string {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if q.inst == nil {
		return nil
	}
	return q.inst.IDs()
}

// Loaded reports whether the bound instance holds the result of a successful fetch.
func (q *Query[E]) Loaded() bool {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	return q.inst != nil && q.inst.Loaded()
}

// IsLoading reports whether a fetch for the bound instance is in flight.
func (q *Query[E]) IsLoading() bool {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	return q.inst != nil && q.inst.Loading()
}

// Err returns the error of the last failed fetch of the bound instance.
// Retriable errors carry a Retry callback.
func (q *Query[E]) Err() *apierr.Error {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if q.inst == nil {
		return nil
	}
	return q.inst.Err()
}

// Key returns the key of the bound instance.
func (q *Query[E]) Key() (query.Key, bool) {
	t := q.table
	t.mu.Lock()
	defer t.mu.Unlock()
	if q.inst == nil {
		return query.Key{}, false
	}
	return q.inst.Key, true
}

// Changed returns the change channel of the handle. It receives a value after
// any change of Result, IsLoading or Err and keeps its identity across Activate.
func (q *Query[E]) Changed() <-chan struct{} {
	return q.ch
}
