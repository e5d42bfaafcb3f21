package query

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/signal"
)

// Instance is the shared state of every active handle whose request hashes to
// the same Key.
//
// All fields are guarded by the table owning the registry.
type Instance struct {
	Key     Key
	Request Request

	loading bool
	loaded  bool
	err     *apierr.Error
	ids     []string
	uses    int
	live    bool
	seq     uint64

	changed signal.Notifier
}

// Loading reports whether a fetch is in flight.
func (i *Instance) Loading() bool { return i.loading }

// Loaded reports whether a fetch succeeded at least once.
func (i *Instance) Loaded() bool { return i.loaded }

// Err returns the error of the last failed fetch, or nil.
func (i *Instance) Err() *apierr.Error { return i.err }

// Uses returns the number of handles bound to the instance.
func (i *Instance) Uses() int { return i.uses }

// Live reports whether the instance is still registered.
func (i *Instance) Live() bool { return i.live }

// IDs returns the ids of the last successful result in sorted order.
func (i *Instance) IDs() []string {
	out := make([]string, len(i.ids))
	copy(out, i.ids)
	return out
}

// Contains reports whether id is part of the current result.
func (i *Instance) Contains(id string) bool {
	n := sort.SearchStrings(i.ids, id)
	return n < len(i.ids) && i.ids[n] == id
}

// Attach subscribes ch to state changes of the instance.
func (i *Instance) Attach(ch chan struct{}) func() {
	return i.changed.Attach(ch)
}

// Notify signals every attached handle.
func (i *Instance) Notify() {
	i.changed.Notify()
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry maps request keys to instances for one table. It is not safe for
// concurrent use.
type Registry struct {
	table     string
	kinds     map[Kind]struct{}
	instances map[Key]*Instance
}

// NewRegistry creates a registry for table accepting the given kinds.
func NewRegistry(table string, kinds ...Kind) *Registry {
	r := &Registry{
		table:     table,
		kinds:     make(map[Kind]struct{}, len(kinds)),
		instances: make(map[Key]*Instance),
	}
	for _, k := range kinds {
		r.kinds[k] = struct{}{}
	}
	return r
}

// KeyOf validates req and computes its key.
func (r *Registry) KeyOf(req Request) (Key, error) {
	if _, ok := r.kinds[req.Kind()]; !ok {
		return Key{}, fmt.Errorf("%w %q for table %q", ErrUnknownKind, req.Kind(), r.table)
	}
	hash, err := Hash(req)
	if err != nil {
		return Key{}, err
	}
	return Key{Table: r.table, Kind: req.Kind(), Hash: hash}, nil
}

// Acquire returns the instance for req, creating it if needed, and increments
// its use count.
func (r *Registry) Acquire(req Request) (*Instance, error) {
	key, err := r.KeyOf(req)
	if err != nil {
		return nil, err
	}
	inst, ok := r.instances[key]
	if !ok {
		inst = &Instance{Key: key, Request: req, live: true}
		r.instances[key] = inst
	}
	inst.uses++
	return inst, nil
}

// Release decrements the use count of inst and returns the new count.
func (r *Registry) Release(inst *Instance) int {
	inst.uses--
	return inst.uses
}

// Lookup returns the registered instance for key.
func (r *Registry) Lookup(key Key) (*Instance, bool) {
	inst, ok := r.instances[key]
	return inst, ok
}

// ShouldFetch reports whether activating inst has to trigger a fetch. Loading
// and loaded instances never refetch. Failed instances only refetch if the
// failure was retriable.
func (r *Registry) ShouldFetch(inst *Instance) bool {
	if !inst.live || inst.loading || inst.loaded {
		return false
	}
	return inst.err == nil || inst.err.Retriable()
}

// BeginFetch marks inst as loading and returns the token the completing fetch
// has to present.
func (r *Registry) BeginFetch(inst *Instance) uint64 {
	inst.seq++
	inst.loading = true
	return inst.seq
}

// Complete stores the result of the fetch identified by seq and returns the
// ids of the previous result. It returns false and changes nothing if inst was
// swept or a newer fetch was started since.
func (r *Registry) Complete(inst *Instance, seq uint64, ids []string) ([]string, bool) {
	if !inst.live || inst.seq != seq {
		return nil, false
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	prev := inst.ids
	inst.ids = sorted
	inst.loading = false
	inst.loaded = true
	inst.err = nil
	return prev, true
}

// Fail records the error of the fetch identified by seq. Like Complete it
// ignores stale fetches. A previous result stays in place.
func (r *Registry) Fail(inst *Instance, seq uint64, err *apierr.Error) bool {
	if !inst.live || inst.seq != seq {
		return false
	}
	inst.loading = false
	inst.err = err
	return true
}

// Reset clears the error of inst so that ShouldFetch accepts it again.
func (r *Registry) Reset(inst *Instance) {
	inst.err = nil
}

// Invalidate forgets the result and error of inst and supersedes its fetch in
// flight, so the next activation fetches again. Callers release the ids of
// inst first if it holds them.
func (r *Registry) Invalidate(inst *Instance) {
	inst.seq++
	inst.loading = false
	inst.loaded = false
	inst.err = nil
	inst.ids = nil
}

// Each calls fn for every registered instance.
func (r *Registry) Each(fn func(*Instance)) {
	for _, inst := range r.instances {
		fn(inst)
	}
}

// Sweep removes every instance without uses and returns them. Removed
// instances are no longer live, results of their in-flight fetches are
// rejected by Complete and Fail.
func (r *Registry) Sweep() []*Instance {
	var removed []*Instance
	for key, inst := range r.instances {
		if inst.uses <= 0 {
			inst.live = false
			delete(r.instances, key)
			removed = append(removed, inst)
		}
	}
	return removed
}

// Len returns the number of registered instances.
func (r *Registry) Len() int {
	return len(r.instances)
}
