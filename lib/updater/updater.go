package updater

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("updater")

var ErrRunning = errors.New("updater is already subscribed to push events")

// ListenerID identifies one registered listener.
type ListenerID uint64

// TableListener receives every table patch addressed to its path.
type TableListener func(entity.TablePatch) bool

// SingletonListener receives every singleton patch addressed to its path.
type SingletonListener func(entity.SingletonPatch) bool

// ResyncListener is called after the connection to the server was
// re-established and pushes may have been missed.
type ResyncListener func()

type listenerRef struct {
	path   string
	table  bool
	resync bool
}

// Updater routes push events to the tables and singletons registered for
// their paths. Registration and dispatch are safe for concurrent use.
type Updater struct {
	tables     *xsync.MapOf[string, *xsync.MapOf[ListenerID, TableListener]]
	singletons *xsync.MapOf[string, *xsync.MapOf[ListenerID, SingletonListener]]
	resyncs    *xsync.MapOf[ListenerID, ResyncListener]
	refs       *xsync.MapOf[ListenerID, listenerRef]
	nextID     atomic.Uint64
	running    atomic.Bool

	batches  *metrics.Counter
	unrouted *metrics.Counter
	resynced *metrics.Counter
}

// New creates an updater. A private metrics set is used if set is nil.
func New(set *metrics.Set) *Updater {
	if set == nil {
		set = metrics.NewSet()
	}
	return &Updater{
		tables:     xsync.NewMapOf[string, *xsync.MapOf[ListenerID, TableListener]](),
		singletons: xsync.NewMapOf[string, *xsync.MapOf[ListenerID, SingletonListener]](),
		resyncs:    xsync.NewMapOf[ListenerID, ResyncListener](),
		refs:       xsync.NewMapOf[ListenerID, listenerRef](),
		batches:    set.GetOrCreateCounter(`dfront_push_batches_total`),
		unrouted:   set.GetOrCreateCounter(`dfront_push_patches_unrouted_total`),
		resynced:   set.GetOrCreateCounter(`dfront_push_resyncs_total`),
	}
}

// --------------------------------------------------------------------------
// Registration
// --------------------------------------------------------------------------

// OnTable registers fn for table patches addressed to path.
func (u *Updater) OnTable(path string, fn TableListener) ListenerID {
	id := ListenerID(u.nextID.Add(1))
	listeners, _ := u.tables.LoadOrCompute(path, func() *xsync.MapOf[ListenerID, TableListener] {
		return xsync.NewMapOf[ListenerID, TableListener]()
	})
	listeners.Store(id, fn)
	u.refs.Store(id, listenerRef{path: path, table: true})
	return id
}

// OnSingleton registers fn for singleton patches addressed to path.
func (u *Updater) OnSingleton(path string, fn SingletonListener) ListenerID {
	id := ListenerID(u.nextID.Add(1))
	listeners, _ := u.singletons.LoadOrCompute(path, func() *xsync.MapOf[ListenerID, SingletonListener] {
		return xsync.NewMapOf[ListenerID, SingletonListener]()
	})
	listeners.Store(id, fn)
	u.refs.Store(id, listenerRef{path: path})
	return id
}

// OnResync registers fn for reconnects of the push stream.
func (u *Updater) OnResync(fn ResyncListener) ListenerID {
	id := ListenerID(u.nextID.Add(1))
	u.resyncs.Store(id, fn)
	u.refs.Store(id, listenerRef{resync: true})
	return id
}

// Unregister removes a listener. Unknown ids are ignored.
func (u *Updater) Unregister(id ListenerID) {
	ref, ok := u.refs.LoadAndDelete(id)
	if !ok {
		return
	}
	if ref.resync {
		u.resyncs.Delete(id)
		return
	}
	if ref.table {
		if listeners, ok := u.tables.Load(ref.path); ok {
			listeners.Delete(id)
		}
		return
	}
	if listeners, ok := u.singletons.Load(ref.path); ok {
		listeners.Delete(id)
	}
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// Dispatch routes every patch of the batch to the listeners of its path,
// singleton patches first, each in batch order. Patches without listener are
// dropped. A resync batch first calls every resync listener.
func (u *Updater) Dispatch(batch entity.Batch) {
	u.batches.Inc()

	if batch.Resync {
		u.resynced.Inc()
		Logger.Infof("push stream reconnected, resyncing %d listeners", u.resyncs.Size())
		u.resyncs.Range(func(_ ListenerID, fn ResyncListener) bool {
			fn()
			return true
		})
	}

	for _, p := range batch.Singletons {
		listeners, ok := u.singletons.Load(p.Path)
		if !ok || listeners.Size() == 0 {
			u.drop("singleton", p.Path)
			continue
		}
		listeners.Range(func(_ ListenerID, fn SingletonListener) bool {
			fn(p)
			return true
		})
	}

	for _, p := range batch.Tables {
		listeners, ok := u.tables.Load(p.Path)
		if !ok || listeners.Size() == 0 {
			u.drop("table", p.Path)
			continue
		}
		listeners.Range(func(_ ListenerID, fn TableListener) bool {
			fn(p)
			return true
		})
	}
}

func (u *Updater) drop(kind, path string) {
	u.unrouted.Inc()
	Logger.Debugf("no listener for %s patch on %q", kind, path)
}

// Run dispatches every batch received from events until ctx is done or events
// is closed. The push stream is subscribed at most once: a second Run returns
// ErrRunning immediately.
func (u *Updater) Run(ctx context.Context, events <-chan entity.Batch) error {
	if !u.running.CompareAndSwap(false, true) {
		return ErrRunning
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				Logger.Infof("push stream closed")
				return nil
			}
			u.Dispatch(batch)
		}
	}
}
