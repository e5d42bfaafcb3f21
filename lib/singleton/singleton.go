package singleton

import (
	"context"
	"sync"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/signal"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("singleton")

// Fetcher loads the full raw value of a singleton.
type Fetcher interface {
	FetchSingleton(ctx context.Context, path string) (entity.ApiEntity, error)
}

// Options configures a singleton.
type Options struct {
	// Context bounds every fetch. Defaults to context.Background().
	Context context.Context
	// Timeout per fetch. Zero means no timeout.
	Timeout time.Duration
	// Metrics receives the singleton's counters. A private set is used if nil.
	Metrics *metrics.Set
}

// Singleton mirrors one server-side object that exists exactly once, e.g. the
// current session.
type Singleton[E any] struct {
	path    string
	mapFn   func(entity.ApiEntity) E
	fetcher Fetcher
	ctx     context.Context
	timeout time.Duration

	mu         sync.Mutex
	raw        entity.ApiEntity
	value      E
	loading    bool
	started    bool
	canRefetch bool
	seq        uint64
	err        *apierr.Error

	changed signal.Notifier

	fetches        *metrics.Counter
	patchesApplied *metrics.Counter
	patchesDropped *metrics.Counter
}

// New creates a singleton for path. Nothing is fetched before the first Use.
func New[E any](path string, mapFn func(entity.ApiEntity) E, fetcher Fetcher, opts Options) *Singleton[E] {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	return &Singleton[E]{
		path:           path,
		mapFn:          mapFn,
		fetcher:        fetcher,
		ctx:            opts.Context,
		timeout:        opts.Timeout,
		fetches:        opts.Metrics.GetOrCreateCounter(`dfront_singleton_fetches_total{path="` + path + `"}`),
		patchesApplied: opts.Metrics.GetOrCreateCounter(`dfront_singleton_patches_total{path="` + path + `",result="applied"}`),
		patchesDropped: opts.Metrics.GetOrCreateCounter(`dfront_singleton_patches_total{path="` + path + `",result="dropped"}`),
	}
}

// Path returns the server path of the singleton.
func (s *Singleton[E]) Path() string {
	return s.path
}

// Use marks the singleton as needed and fetches it if that has not happened
// yet. While a fetch is in flight or after it succeeded further calls do
// nothing. After a retriable failure the next call fetches again. It reports
// whether a fetch was started.
func (s *Singleton[E]) Use() bool {
	s.mu.Lock()
	if s.loading || (s.started && !s.canRefetch) {
		s.mu.Unlock()
		return false
	}
	s.started = true
	s.canRefetch = false
	s.loading = true
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.changed.Notify()
	go s.fetch(seq)
	return true
}

// Resync refetches a singleton that was used before, e.g. after the
// connection to the server was re-established. The current value stays
// visible until the fetch lands and a fetch still in flight is superseded.
// It reports whether a fetch was started.
func (s *Singleton[E]) Resync() bool {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return false
	}
	s.canRefetch = false
	s.loading = true
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	s.changed.Notify()
	go s.fetch(seq)
	return true
}

func (s *Singleton[E]) fetch(seq uint64) {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.fetches.Inc()
	raw, err := s.fetcher.FetchSingleton(ctx, s.path)

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		Logger.Debugf("singleton %q: dropped superseded fetch result", s.path)
		return
	}
	s.loading = false
	if err != nil {
		apiErr := apierr.Classify(err)
		s.canRefetch = apiErr.Retriable()
		s.err = apiErr.Bind(func() { s.Use() })
		Logger.Warningf("singleton %q: fetch failed: %v", s.path, apiErr)
	} else {
		if raw == nil {
			raw = entity.ApiEntity{}
		}
		s.raw = raw
		s.value = s.mapFn(raw)
		s.err = nil
	}
	s.mu.Unlock()

	s.changed.Notify()
}

// ApplyPatch merges a pushed patch into the singleton. Patches arriving before
// the first successful fetch are dropped and ApplyPatch returns false.
func (s *Singleton[E]) ApplyPatch(p entity.SingletonPatch) bool {
	s.mu.Lock()
	if s.raw == nil {
		s.mu.Unlock()
		s.patchesDropped.Inc()
		Logger.Debugf("singleton %q: dropped patch before initial fetch", s.path)
		return false
	}
	s.raw = entity.Merge(s.raw, p.Patch)
	s.value = s.mapFn(s.raw)
	s.mu.Unlock()

	s.patchesApplied.Inc()
	s.changed.Notify()
	return true
}

// --------------------------------------------------------------------------
// State
// --------------------------------------------------------------------------

// Value returns the mapped value and whether it is present.
func (s *Singleton[E]) Value() (E, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.raw != nil
}

// IsLoading reports whether a fetch is in flight.
func (s *Singleton[E]) IsLoading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// Err returns the error of the last failed fetch, or nil.
func (s *Singleton[E]) Err() *apierr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Subscribe returns a change channel and a function to stop receiving on it.
func (s *Singleton[E]) Subscribe() (<-chan struct{}, func()) {
	return s.changed.Subscribe()
}
