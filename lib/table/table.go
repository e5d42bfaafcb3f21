package table

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/cache"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/query"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("table")

var ErrClosed = errors.New("query handle is closed")

// Transport is the part of the server connection a table needs.
type Transport interface {
	// FetchQuery runs one query on the server and returns the full raw value
	// of every entity in the result, keyed by id.
	FetchQuery(ctx context.Context, path string, kind query.Kind, payload any) (map[string]entity.ApiEntity, error)
	// Unsubscribe tells the server that the ids were evicted from the cache
	// and no longer need push events. It must not block, and the server has to
	// handle it before any fetch issued after it returned.
	Unsubscribe(path string, ids []string)
}

// Options configures a table.
type Options struct {
	// Context bounds every fetch started by the table. Defaults to context.Background().
	Context context.Context
	// Timeout per fetch. Zero means no timeout.
	Timeout time.Duration
	// Metrics receives the table's counters. A private set is used if nil.
	Metrics *metrics.Set
}

// Table mirrors one server-side entity collection. It combines the entity
// store of the collection with the registry of query instances selecting
// subsets of it.
type Table[E any] struct {
	name      string
	transport Transport
	ctx       context.Context
	timeout   time.Duration

	// mu guards store, registry and every instance of the registry
	mu       sync.Mutex
	store    *cache.Store[E]
	registry *query.Registry
	inflight int // fetches started and not yet committed, stale ones included

	stats *stats
}

// New creates a table. The declared kinds are the only query kinds handles of
// this table accept.
func New[E any](name string, mapFn cache.MapFunc[E], transport Transport, opts Options, kinds ...query.Kind) *Table[E] {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	t := &Table[E]{
		name:      name,
		transport: transport,
		ctx:       opts.Context,
		timeout:   opts.Timeout,
		store:     cache.NewStore(mapFn),
		registry:  query.NewRegistry(name, kinds...),
	}
	t.stats = newStats(opts.Metrics, name, t.Len)
	return t
}

// Name returns the server path of the table.
func (t *Table[E]) Name() string {
	return t.name
}

// Use creates a new inactive query handle. Activate it to start selecting data.
func (t *Table[E]) Use() *Query[E] {
	return newQuery(t)
}

// Get returns the cached values of the given ids, omitting unknown ids.
func (t *Table[E]) Get(ids ...string) map[string]E {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Get(ids...)
}

// Len returns the number of cache entries.
func (t *Table[E]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Len()
}

// --------------------------------------------------------------------------
// Push Events and Eviction
// --------------------------------------------------------------------------

// ApplyPatch applies one pushed patch. It returns false if the patch was
// dropped because the entity is not cached or the patch is outdated.
func (t *Table[E]) ApplyPatch(p entity.TablePatch) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	var applied bool
	switch {
	case p.Deleted:
		applied = t.store.DeleteVersion(p.EID, p.Version)
	case p.Replace:
		applied = t.store.ReplaceVersion(p.EID, p.Patch, p.Version)
	default:
		applied = t.store.PatchVersion(p.EID, p.Patch, p.Version)
	}
	if !applied {
		t.stats.patchesDropped.Inc()
		Logger.Debugf("table %q: dropped patch for %q", t.name, p.EID)
		return false
	}
	t.stats.patchesApplied.Inc()
	t.notifyContaining(p.EID)
	return true
}

// Sweep removes unused query instances and unreferenced cache entries.
// Evicted ids are reported to the server. It returns the evicted ids.
//
// Entities are not evicted while a fetch is in flight. The server could
// subscribe the fetch's result before it handles the unsubscribe, and would
// then drop ids a live instance is about to hold.
func (t *Table[E]) Sweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	instances := t.registry.Sweep()
	var evicted []string
	if t.inflight == 0 {
		evicted = t.store.Sweep()
	}

	if len(instances) > 0 || len(evicted) > 0 {
		Logger.Debugf("table %q: swept %d instances, evicted %d entities", t.name, len(instances), len(evicted))
	}
	t.stats.evicted.Add(len(evicted))
	if len(evicted) > 0 {
		// under mu, so every later fetch is sent after the unsubscribe
		t.transport.Unsubscribe(t.name, evicted)
	}
	return evicted
}

// Resync refetches every used query instance and forgets the results of the
// unused ones. The client calls it after the connection to the server was
// re-established, since the server lost every subscription of the table. It
// returns the number of fetches started.
//
// Fetches in flight are superseded, their results only reach the cache.
func (t *Table[E]) Resync() int {
	t.mu.Lock()
	t.store.ResetVersions()
	var runs []func()
	t.registry.Each(func(inst *query.Instance) {
		if inst.Uses() == 0 {
			t.store.MarkDone(inst.IDs()...)
			t.registry.Invalidate(inst)
			return
		}
		t.registry.Reset(inst)
		runs = append(runs, t.beginFetchLocked(inst))
	})
	t.mu.Unlock()

	Logger.Infof("table %q: resyncing %d queries", t.name, len(runs))
	for _, run := range runs {
		go run()
	}
	return len(runs)
}

// --------------------------------------------------------------------------
// Instance Handling (callers hold t.mu)
// --------------------------------------------------------------------------

// acquireLocked binds one more handle to the instance for req
func (t *Table[E]) acquireLocked(req query.Request) (*query.Instance, error) {
	inst, err := t.registry.Acquire(req)
	if err != nil {
		return nil, err
	}
	// an instance holds its ids iff it is used and loaded
	if inst.Uses() == 1 && inst.Loaded() {
		t.store.UseIDs(inst.IDs()...)
	}
	return inst, nil
}

// releaseLocked unbinds one handle from inst
func (t *Table[E]) releaseLocked(inst *query.Instance) {
	if t.registry.Release(inst) == 0 && inst.Loaded() {
		t.store.ReleaseIDs(inst.IDs()...)
	}
}

// beginFetchLocked starts a fetch for inst and returns the function running it
func (t *Table[E]) beginFetchLocked(inst *query.Instance) func() {
	seq := t.registry.BeginFetch(inst)
	t.inflight++
	t.store.MarkLoading(inst.IDs()...)
	inst.Notify()
	return func() { t.fetch(inst, seq) }
}

// notifyContaining signals every instance whose result contains id
func (t *Table[E]) notifyContaining(ids ...string) {
	t.registry.Each(func(inst *query.Instance) {
		for _, id := range ids {
			if inst.Contains(id) {
				inst.Notify()
				return
			}
		}
	})
}

// --------------------------------------------------------------------------
// Fetching
// --------------------------------------------------------------------------

// fetch runs the fetch identified by seq and commits its outcome
func (t *Table[E]) fetch(inst *query.Instance, seq uint64) {
	ctx := t.ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	t.stats.fetches.Inc()
	started := time.Now()
	entities, err := t.transport.FetchQuery(ctx, t.name, inst.Key.Kind, inst.Request.Payload())
	t.stats.fetchDuration.UpdateDuration(started)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight--

	if err != nil {
		t.stats.fetchErrors.Inc()
		apiErr := apierr.Classify(err).Bind(func() { t.retry(inst) })
		if !t.registry.Fail(inst, seq, apiErr) {
			Logger.Debugf("table %q: discarding stale error of %s: %v", t.name, inst.Key, err)
			return
		}
		t.store.MarkDone(inst.IDs()...)
		Logger.Warningf("table %q: fetching %s failed: %v", t.name, inst.Key, apiErr)
		inst.Notify()
		return
	}

	ids := make([]string, 0, len(entities))
	for id, raw := range entities {
		if raw == nil {
			raw = entity.ApiEntity{}
		}
		t.store.Put(id, raw)
		ids = append(ids, id)
	}
	sort.Strings(ids)

	prev, ok := t.registry.Complete(inst, seq, ids)
	if !ok {
		// the entities stay cached without references until the next sweep
		Logger.Debugf("table %q: late result for %s committed to cache only", t.name, inst.Key)
		t.notifyContaining(ids...)
		return
	}
	t.store.MarkDone(prev...)
	if inst.Uses() > 0 {
		t.store.UseIDs(ids...)
		t.store.ReleaseIDs(prev...)
	}
	inst.Notify()
	t.notifyContaining(ids...)
}

// retry refetches inst unless it is gone or already loading
func (t *Table[E]) retry(inst *query.Instance) {
	t.mu.Lock()
	if !inst.Live() || inst.Loading() {
		t.mu.Unlock()
		return
	}
	run := t.beginFetchLocked(inst)
	t.mu.Unlock()
	go run()
}

func (t *Table[E]) String() string {
	return fmt.Sprintf("Table(%s)", t.name)
}
