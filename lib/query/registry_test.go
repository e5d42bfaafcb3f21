package query

import (
	"errors"
	"testing"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type byOwner struct {
	Owner string `json:"owner"`
	Limit int    `json:"limit"`
}

func TestHashIsStructural(t *testing.T) {
	a, err := Hash(New("byOwner", byOwner{Owner: "u1", Limit: 5}))
	require.NoError(t, err)
	b, err := Hash(New("byOwner", map[string]any{"limit": 5, "owner": "u1"}))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Hash(New("byOwner", byOwner{Owner: "u2", Limit: 5}))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// same payload, other kind
	d, err := Hash(New("byName", byOwner{Owner: "u1", Limit: 5}))
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}

func TestHashRejectsUnencodable(t *testing.T) {
	_, err := Hash(New("byOwner", make(chan int)))
	assert.True(t, errors.Is(err, ErrUnhashable))
}

func TestAcquireDeduplicates(t *testing.T) {
	r := NewRegistry("items", "byOwner")

	a, err := r.Acquire(New("byOwner", byOwner{Owner: "u1"}))
	require.NoError(t, err)
	b, err := r.Acquire(New("byOwner", map[string]any{"owner": "u1", "limit": 0}))
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 2, a.Uses())
	assert.Equal(t, 1, r.Len())
}

func TestUnknownKind(t *testing.T) {
	r := NewRegistry("items", "byOwner")
	_, err := r.Acquire(New("byColor", "red"))
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestFetchLifecycle(t *testing.T) {
	r := NewRegistry("items", "all")
	inst, err := r.Acquire(New("all", nil))
	require.NoError(t, err)

	require.True(t, r.ShouldFetch(inst))
	seq := r.BeginFetch(inst)
	assert.True(t, inst.Loading())
	assert.False(t, r.ShouldFetch(inst))

	prev, ok := r.Complete(inst, seq, []string{"b", "a"})
	require.True(t, ok)
	assert.Empty(t, prev)
	assert.Equal(t, []string{"a", "b"}, inst.IDs())
	assert.True(t, inst.Contains("a"))
	assert.False(t, inst.Contains("c"))
	assert.False(t, r.ShouldFetch(inst))
}

func TestStaleFetchIsIgnored(t *testing.T) {
	r := NewRegistry("items", "all")
	inst, _ := r.Acquire(New("all", nil))

	first := r.BeginFetch(inst)
	second := r.BeginFetch(inst)

	_, ok := r.Complete(inst, first, []string{"old"})
	assert.False(t, ok)
	assert.True(t, inst.Loading())

	_, ok = r.Complete(inst, second, []string{"new"})
	assert.True(t, ok)
	assert.Equal(t, []string{"new"}, inst.IDs())
}

func TestRetriableFailureStaysFetchable(t *testing.T) {
	r := NewRegistry("items", "all")
	inst, _ := r.Acquire(New("all", nil))

	seq := r.BeginFetch(inst)
	require.True(t, r.Fail(inst, seq, apierr.Retriable(apierr.CodeUnavailable, "down")))
	assert.False(t, inst.Loading())
	assert.True(t, r.ShouldFetch(inst))

	seq = r.BeginFetch(inst)
	require.True(t, r.Fail(inst, seq, apierr.Fatal(apierr.CodeUnauthorized, "nope")))
	assert.False(t, r.ShouldFetch(inst))

	r.Reset(inst)
	assert.True(t, r.ShouldFetch(inst))
}

func TestSweep(t *testing.T) {
	r := NewRegistry("items", "all", "byOwner")
	kept, _ := r.Acquire(New("all", nil))
	gone, _ := r.Acquire(New("byOwner", "u1"))
	seq := r.BeginFetch(gone)
	r.Release(gone)

	removed := r.Sweep()
	require.Len(t, removed, 1)
	assert.Same(t, gone, removed[0])
	assert.False(t, gone.Live())
	assert.True(t, kept.Live())

	// a late result for a swept instance is rejected
	_, ok := r.Complete(gone, seq, []string{"x"})
	assert.False(t, ok)

	_, found := r.Lookup(gone.Key)
	assert.False(t, found)
}
