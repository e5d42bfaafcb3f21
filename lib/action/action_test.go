package action

import (
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/lib/apierr"
	"github.com/ValentinKolb/dFront/lib/datafront/dftest"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type base struct {
	ID string `json:"id"`
}

func newCreateBase(t *testing.T) (*Action[base], *dftest.Transport) {
	t.Helper()
	tr := dftest.New()
	return New("createBase", entity.Mapper[base](), tr, Options{}), tr
}

func waitState[R any](t *testing.T, h *Handle[R], want State) {
	t.Helper()
	require.Eventually(t, func() bool { return h.State() == want }, time.Second, time.Millisecond)
}

func TestPendingTokenSuppressesSecondRun(t *testing.T) {
	a, tr := newCreateBase(t)
	payload := map[string]any{"name": "alpha"}

	first := a.Use("1")
	require.True(t, first.Run(payload))
	call := tr.Next(t)
	assert.Equal(t, "createBase", call.Path)
	assert.Equal(t, "1", call.Token)

	// a second handle on the same token shares the pending run
	second := a.Use("1")
	assert.False(t, second.Run(payload))
	assert.False(t, first.Run(payload))
	assert.True(t, second.IsLoading())
	require.Never(t, func() bool { return tr.Count(dftest.OpAction) > 1 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.True(t, first.IsLoading())

	call.ResolveEntity(entity.ApiEntity{"id": "b1"})
	waitState(t, first, StateSucceeded)

	res, ok := second.Result()
	require.True(t, ok)
	assert.Equal(t, base{ID: "b1"}, res)
	assert.False(t, second.IsLoading())
}

func TestSucceededTokenIsConsumed(t *testing.T) {
	a, tr := newCreateBase(t)
	h := a.Use("1")
	h.Run(nil)
	tr.Next(t).ResolveEntity(entity.ApiEntity{"id": "b1"})
	waitState(t, h, StateSucceeded)

	assert.False(t, h.Run(nil))
	assert.Equal(t, 1, tr.Count(dftest.OpAction))

	// a fresh token runs again
	h.SetToken(NewToken())
	require.True(t, h.Run(nil))
	tr.Next(t).ResolveEntity(entity.ApiEntity{"id": "b2"})
	waitState(t, h, StateSucceeded)
	res, _ := h.Result()
	assert.Equal(t, "b2", res.ID)
}

func TestRetriableFailureRearmsToken(t *testing.T) {
	a, tr := newCreateBase(t)
	h := a.Use("1")
	h.Run(map[string]any{"name": "alpha"})
	tr.Next(t).Fail(apierr.Retriable(apierr.CodeUnavailable, "down"))
	waitState(t, h, StateRetriable)

	err := h.Err()
	require.NotNil(t, err)
	require.NotNil(t, err.Retry)

	err.Retry()
	call := tr.Next(t)
	// the old error and its retry are gone while the rerun is in flight
	assert.Equal(t, StateInFlight, h.State())
	assert.Nil(t, h.Err())
	assert.True(t, h.IsLoading())
	assert.Equal(t, "1", call.Token)
	assert.Equal(t, map[string]any{"name": "alpha"}, call.Payload)
	call.ResolveEntity(entity.ApiEntity{"id": "b1"})
	waitState(t, h, StateSucceeded)
	assert.Nil(t, h.Err())
}

func TestFatalFailureConsumesToken(t *testing.T) {
	a, tr := newCreateBase(t)
	h := a.Use("1")
	h.Run(nil)
	tr.Next(t).Fail(apierr.Fatal(apierr.CodeInvalidArgument, "bad name"))
	waitState(t, h, StateFailed)

	assert.Nil(t, h.Err().Retry)
	assert.False(t, h.Run(nil))
	assert.Equal(t, 1, tr.Count(dftest.OpAction))
}

func TestChangedFollowsToken(t *testing.T) {
	a, tr := newCreateBase(t)
	h := a.Use("1")
	<-h.Changed()

	h.Run(nil)
	<-h.Changed()
	tr.Next(t).ResolveEntity(entity.ApiEntity{"id": "b1"})
	select {
	case <-h.Changed():
	case <-time.After(time.Second):
		t.Fatal("no change signal after completion")
	}

	h.Close()
	other := a.Use("1")
	assert.Equal(t, "1", other.Token())
}

func TestNewTokenIsUnique(t *testing.T) {
	assert.NotEqual(t, NewToken(), NewToken())
}
