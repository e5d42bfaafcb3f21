// Package dftest provides a scripted in-memory transport for testing code
// built on the datafront.
//
// Every fetch and action call blocks until the test resolves it through the
// Call returned by Transport.Next. This makes the order of responses fully
// controllable, including responses that arrive after their query was swept.
package dftest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/query"
)

// Op identifies the transport method a Call was made through.
type Op string

const (
	OpSingleton Op = "singleton"
	OpQuery     Op = "query"
	OpAction    Op = "action"
)

// Call is one pending transport call.
type Call struct {
	Op      Op
	Path    string
	Kind    query.Kind
	Token   string
	Payload any

	done chan reply
}

type reply struct {
	entity   entity.ApiEntity
	entities map[string]entity.ApiEntity
	err      error
}

// Resolve answers a query call.
func (c *Call) Resolve(entities map[string]entity.ApiEntity) {
	c.done <- reply{entities: entities}
}

// ResolveEntity answers a singleton or action call.
func (c *Call) ResolveEntity(e entity.ApiEntity) {
	c.done <- reply{entity: e}
}

// Fail answers any call with err.
func (c *Call) Fail(err error) {
	c.done <- reply{err: err}
}

// Unsubscription records one Unsubscribe call.
type Unsubscription struct {
	Path string
	IDs  []string
}

// Transport is a scripted transport. Create it with New.
type Transport struct {
	calls  chan *Call
	pushes chan entity.Batch

	mu     sync.Mutex
	count  map[Op]int
	unsubs []Unsubscription
	closed bool
}

// New creates a transport with room for 64 unanswered calls.
func New() *Transport {
	return &Transport{
		calls:  make(chan *Call, 64),
		pushes: make(chan entity.Batch, 64),
		count:  make(map[Op]int),
	}
}

// --------------------------------------------------------------------------
// Transport Methods
// --------------------------------------------------------------------------

func (t *Transport) FetchSingleton(ctx context.Context, path string) (entity.ApiEntity, error) {
	r, err := t.call(ctx, &Call{Op: OpSingleton, Path: path})
	return r.entity, err
}

func (t *Transport) FetchQuery(ctx context.Context, path string, kind query.Kind, payload any) (map[string]entity.ApiEntity, error) {
	r, err := t.call(ctx, &Call{Op: OpQuery, Path: path, Kind: kind, Payload: payload})
	return r.entities, err
}

func (t *Transport) InvokeAction(ctx context.Context, name, token string, payload any) (entity.ApiEntity, error) {
	r, err := t.call(ctx, &Call{Op: OpAction, Path: name, Token: token, Payload: payload})
	return r.entity, err
}

func (t *Transport) Unsubscribe(path string, ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unsubs = append(t.unsubs, Unsubscription{Path: path, IDs: ids})
}

func (t *Transport) PushEvents() <-chan entity.Batch {
	return t.pushes
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) call(ctx context.Context, c *Call) (reply, error) {
	c.done = make(chan reply, 1)
	t.mu.Lock()
	t.count[c.Op]++
	t.mu.Unlock()

	t.calls <- c
	select {
	case r := <-c.done:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Test Helpers
// --------------------------------------------------------------------------

// Next waits for the next call and fails the test if none arrives within a second.
func (t *Transport) Next(tb testing.TB) *Call {
	tb.Helper()
	select {
	case c := <-t.calls:
		return c
	case <-time.After(time.Second):
		tb.Fatalf("dftest: no transport call within 1s")
		return nil
	}
}

// Push delivers a push event to the datafront.
func (t *Transport) Push(b entity.Batch) {
	t.pushes <- b
}

// Count returns the number of calls made through op.
func (t *Transport) Count(op Op) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count[op]
}

// Unsubscriptions returns every Unsubscribe call made so far.
func (t *Transport) Unsubscriptions() []Unsubscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Unsubscription, len(t.unsubs))
	copy(out, t.unsubs)
	return out
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
