package action

import (
	"sync"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/signal"
)

// Handle is a reactive view on the execution of one token.
type Handle[R any] struct {
	action *Action[R]
	ch     chan struct{}

	mu     sync.Mutex
	run    *run[R]
	detach func()
}

// SetToken rebinds the handle to another token. Rebinding to a consumed token
// makes Run a no-op, mint a new token to run the action again.
func (h *Handle[R]) SetToken(token string) {
	r := h.action.runFor(token)

	h.mu.Lock()
	if h.detach != nil {
		h.detach()
	}
	h.run = r
	h.detach = r.changed.Attach(h.ch)
	h.mu.Unlock()

	signal.Poke(h.ch)
}

// Token returns the token the handle is bound to.
func (h *Handle[R]) Token() string {
	return h.current().token
}

// Run executes the action with payload unless the token is in flight or
// consumed. It reports whether an execution was started.
func (h *Handle[R]) Run(payload any) bool {
	return h.action.execute(h.current(), payload)
}

// Result returns the mapped result of a successful execution.
func (h *Handle[R]) Result() (R, bool) {
	r := h.current()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, r.state == StateSucceeded
}

// IsLoading reports whether the token is in flight.
func (h *Handle[R]) IsLoading() bool {
	return h.State() == StateInFlight
}

// Err returns the error of the last failed execution. Retriable errors carry a
// Retry callback re-running the action with the same token and payload.
func (h *Handle[R]) Err() *apierr.Error {
	r := h.current()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// State returns the execution state of the token.
func (h *Handle[R]) State() State {
	r := h.current()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Changed returns the change channel of the handle.
func (h *Handle[R]) Changed() <-chan struct{} {
	return h.ch
}

// Close stops change notifications. The token state is kept.
func (h *Handle[R]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.detach != nil {
		h.detach()
		h.detach = nil
	}
}

func (h *Handle[R]) current() *run[R] {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run
}
