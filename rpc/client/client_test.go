package client

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/serializer"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedTransport delivers the events written to its channel. Close does
// not close the channel, like a transport whose read loop is stuck.
type scriptedTransport struct {
	events chan transport.Event
	closed atomic.Bool
}

func (s *scriptedTransport) Connect(common.ClientConfig) error { return nil }
func (s *scriptedTransport) Post([]byte) error                 { return nil }
func (s *scriptedTransport) Events() <-chan transport.Event    { return s.events }

func (s *scriptedTransport) Send(context.Context, []byte) ([]byte, error) {
	return nil, transport.ErrNotConnected
}

func (s *scriptedTransport) Close() error {
	s.closed.Store(true)
	return nil
}

func newScripted(t *testing.T, ser serializer.IRPCSerializer) (*scriptedTransport, *rpcTransport) {
	t.Helper()
	st := &scriptedTransport{events: make(chan transport.Event, 256)}
	tr, err := NewRPCTransport(common.ClientConfig{}, st, ser)
	require.NoError(t, err)
	return st, tr.(*rpcTransport)
}

func push(t *testing.T, ser serializer.IRPCSerializer, batch entity.Batch) transport.Event {
	t.Helper()
	data, err := ser.Serialize(*common.NewPushMessage(batch))
	require.NoError(t, err)
	return transport.Event{Data: data}
}

func next(t *testing.T, ch <-chan entity.Batch) entity.Batch {
	t.Helper()
	select {
	case b := <-ch:
		return b
	case <-time.After(time.Second):
		t.Fatal("no batch delivered")
		return entity.Batch{}
	}
}

func TestPushesKeepOrderWithReconnects(t *testing.T) {
	ser := serializer.NewGOBSerializer()
	st, tr := newScripted(t, ser)
	defer tr.Close()

	st.events <- push(t, ser, entity.Batch{Tables: []entity.TablePatch{{Path: "T", EID: "a"}}})
	st.events <- transport.Event{Reconnected: true}
	// the resync flag is local and never taken from the wire
	st.events <- push(t, ser, entity.Batch{Resync: true, Tables: []entity.TablePatch{{Path: "T", EID: "b"}}})

	first := next(t, tr.PushEvents())
	assert.Equal(t, "a", first.Tables[0].EID)
	assert.False(t, first.Resync)

	marker := next(t, tr.PushEvents())
	assert.True(t, marker.Resync)
	assert.True(t, marker.Empty())

	last := next(t, tr.PushEvents())
	assert.Equal(t, "b", last.Tables[0].EID)
	assert.False(t, last.Resync)
}

func TestCloseReleasesUnreadPushes(t *testing.T) {
	ser := serializer.NewJSONSerializer()
	st, tr := newScripted(t, ser)

	// nobody reads PushEvents, the decoder fills its buffer and blocks
	for i := 0; i < 100; i++ {
		st.events <- push(t, ser, entity.Batch{Tables: []entity.TablePatch{{Path: "T", EID: "a"}}})
	}
	require.Eventually(t, func() bool { return len(tr.pushes) == cap(tr.pushes) }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Close())
	assert.True(t, st.closed.Load())

	drained := 0
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-tr.PushEvents():
			if !ok {
				assert.GreaterOrEqual(t, drained, cap(tr.pushes))
				return
			}
			drained++
		case <-deadline:
			t.Fatal("push channel not closed after Close")
		}
	}
}
