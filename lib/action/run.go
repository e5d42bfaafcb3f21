package action

import (
	"fmt"
	"sync"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/signal"
)

// State is the execution state of one token.
type State uint8

const (
	// StateIdle tokens never ran.
	StateIdle State = iota
	// StateInFlight tokens are being executed.
	StateInFlight
	// StateRetriable tokens failed retriably and may run again.
	StateRetriable
	// StateSucceeded tokens are consumed.
	StateSucceeded
	// StateFailed tokens failed fatally and are consumed.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInFlight:
		return "in flight"
	case StateRetriable:
		return "retriable"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// run is the per-token state shared by every handle on the same token
type run[R any] struct {
	token string

	mu     sync.Mutex
	state  State
	result R
	err    *apierr.Error

	changed signal.Notifier
}

// armed reports whether the token may execute. Callers hold r.mu.
func (r *run[R]) armed() bool {
	return r.state == StateIdle || r.state == StateRetriable
}
