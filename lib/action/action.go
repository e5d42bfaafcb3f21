package action

import (
	"context"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/signal"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("action")

// Invoker performs one server-side mutation.
type Invoker interface {
	InvokeAction(ctx context.Context, name, token string, payload any) (entity.ApiEntity, error)
}

// Options configures an action.
type Options struct {
	// Context bounds every invocation. Defaults to context.Background().
	Context context.Context
	// Timeout per invocation. Zero means no timeout.
	Timeout time.Duration
	// Metrics receives the action's counters. A private set is used if nil.
	Metrics *metrics.Set
}

// NewToken mints a fresh idempotency token.
func NewToken() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Action is a named server-side mutation with result type R. Executions are
// keyed by a caller supplied token: every token runs at most once at a time
// and, once it succeeded or failed fatally, never again.
type Action[R any] struct {
	name    string
	invoker Invoker
	mapFn   func(entity.ApiEntity) R
	ctx     context.Context
	timeout time.Duration

	runs *xsync.MapOf[string, *run[R]]

	invocations *metrics.Counter
	suppressed  *metrics.Counter
	failures    *metrics.Counter
}

// New creates an action named name.
func New[R any](name string, mapFn func(entity.ApiEntity) R, invoker Invoker, opts Options) *Action[R] {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewSet()
	}
	return &Action[R]{
		name:        name,
		invoker:     invoker,
		mapFn:       mapFn,
		ctx:         opts.Context,
		timeout:     opts.Timeout,
		runs:        xsync.NewMapOf[string, *run[R]](),
		invocations: opts.Metrics.GetOrCreateCounter(`dfront_action_invocations_total{action="` + name + `"}`),
		suppressed:  opts.Metrics.GetOrCreateCounter(`dfront_action_suppressed_total{action="` + name + `"}`),
		failures:    opts.Metrics.GetOrCreateCounter(`dfront_action_failures_total{action="` + name + `"}`),
	}
}

// Name returns the server-side name of the action.
func (a *Action[R]) Name() string {
	return a.name
}

// Use returns a handle bound to token.
func (a *Action[R]) Use(token string) *Handle[R] {
	h := &Handle[R]{action: a, ch: signal.NewChan()}
	h.SetToken(token)
	return h
}

// runFor returns the run state for token, creating it on first use
func (a *Action[R]) runFor(token string) *run[R] {
	r, _ := a.runs.LoadOrCompute(token, func() *run[R] {
		return &run[R]{token: token, state: StateIdle}
	})
	return r
}

// execute starts r unless it is in flight or consumed
func (a *Action[R]) execute(r *run[R], payload any) bool {
	r.mu.Lock()
	if !r.armed() {
		r.mu.Unlock()
		a.suppressed.Inc()
		Logger.Debugf("action %q: suppressed run for token %s (%s)", a.name, r.token, r.state)
		return false
	}
	r.state = StateInFlight
	r.err = nil
	r.mu.Unlock()

	r.changed.Notify()
	go a.invoke(r, payload)
	return true
}

func (a *Action[R]) invoke(r *run[R], payload any) {
	ctx := a.ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	a.invocations.Inc()
	raw, err := a.invoker.InvokeAction(ctx, a.name, r.token, payload)

	r.mu.Lock()
	if err != nil {
		a.failures.Inc()
		apiErr := apierr.Classify(err)
		if apiErr.Retriable() {
			r.state = StateRetriable
		} else {
			r.state = StateFailed
		}
		r.err = apiErr.Bind(func() { a.execute(r, payload) })
		Logger.Warningf("action %q: token %s failed: %v", a.name, r.token, apiErr)
	} else {
		if raw == nil {
			raw = entity.ApiEntity{}
		}
		r.state = StateSucceeded
		r.result = a.mapFn(raw)
		r.err = nil
	}
	r.mu.Unlock()

	r.changed.Notify()
}
