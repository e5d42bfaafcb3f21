package updater

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) table(name string) TableListener {
	return func(p entity.TablePatch) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, name+":"+p.EID)
		return true
	}
}

func (r *recorder) singleton(name string) SingletonListener {
	return func(p entity.SingletonPatch) bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, name+":"+p.Path)
		return true
	}
}

func (r *recorder) resync(name string) ResyncListener {
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, name+":resync")
	}
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestDispatchRoutesByPath(t *testing.T) {
	u := New(nil)
	rec := &recorder{}
	u.OnTable("items", rec.table("items"))
	u.OnTable("users", rec.table("users"))
	u.OnSingleton("session", rec.singleton("s"))

	u.Dispatch(entity.Batch{
		Tables: []entity.TablePatch{
			{Path: "items", EID: "i1"},
			{Path: "users", EID: "u1"},
			{Path: "unknown", EID: "x"},
			{Path: "items", EID: "i2"},
		},
		Singletons: []entity.SingletonPatch{{Path: "session"}},
	})

	assert.Equal(t, []string{"s:session", "items:i1", "users:u1", "items:i2"}, rec.get())
}

func TestUnregister(t *testing.T) {
	u := New(nil)
	rec := &recorder{}
	id := u.OnTable("items", rec.table("a"))
	u.OnTable("items", rec.table("b"))

	u.Unregister(id)
	u.Unregister(id)
	u.Unregister(ListenerID(999))

	u.Dispatch(entity.Batch{Tables: []entity.TablePatch{{Path: "items", EID: "i1"}}})
	assert.Equal(t, []string{"b:i1"}, rec.get())
}

func TestResyncCallsListenersBeforePatches(t *testing.T) {
	u := New(nil)
	rec := &recorder{}
	u.OnTable("items", rec.table("items"))
	id := u.OnResync(rec.resync("gone"))
	u.OnResync(rec.resync("items"))
	u.Unregister(id)

	u.Dispatch(entity.Batch{Tables: []entity.TablePatch{{Path: "items", EID: "i1"}}})
	u.Dispatch(entity.Batch{Resync: true, Tables: []entity.TablePatch{{Path: "items", EID: "i2"}}})

	assert.Equal(t, []string{"items:i1", "items:resync", "items:i2"}, rec.get())
}

func TestRunSubscribesOnce(t *testing.T) {
	u := New(nil)
	rec := &recorder{}
	u.OnTable("items", rec.table("items"))

	events := make(chan entity.Batch)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- u.Run(ctx, events) }()

	events <- entity.Batch{Tables: []entity.TablePatch{{Path: "items", EID: "i1"}}}
	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, time.Millisecond)

	assert.ErrorIs(t, u.Run(ctx, events), ErrRunning)

	close(events)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the stream closed")
	}
}
