package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, handler transport.ServerHandleFunc) (*serverTransport, string) {
	t.Helper()
	srv := NewWSServerTransport(4).(*serverTransport)
	srv.RegisterHandler(handler)

	hs := httptest.NewServer(srv.httpHandler(common.ServerConfig{TimeoutSecond: 5}))
	t.Cleanup(hs.Close)
	t.Cleanup(func() { _ = srv.Close() })

	return srv, "ws" + strings.TrimPrefix(hs.URL, "http")
}

func connect(t *testing.T, url string) transport.IRPCClientTransport {
	t.Helper()
	c := NewWSClientTransport()
	require.NoError(t, c.Connect(common.ClientConfig{
		TimeoutSecond: 5,
		Transport: common.ClientTransportConfig{
			Endpoints:  []string{url},
			RetryCount: 1,
		},
	}))
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCodec(t *testing.T) {
	msg := encodeMessage(transport.FramePush, 42, []byte("abc"))
	kind, id, data, err := decodeMessage(msg)
	require.NoError(t, err)
	assert.Equal(t, transport.FramePush, kind)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, []byte("abc"), data)

	_, _, _, err = decodeMessage([]byte{1, 2})
	assert.ErrorIs(t, err, errShortMessage)
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", endpointURL("localhost:8080", ""))
	assert.Equal(t, "ws://localhost:8080/rpc", endpointURL("localhost:8080", "/rpc"))
	assert.Equal(t, "wss://example.com/x", endpointURL("wss://example.com/x", "/ws"))
}

func TestRequestResponse(t *testing.T) {
	_, url := startServer(t, func(_ uint64, req []byte) []byte {
		return append([]byte("echo:"), req...)
	})
	c := connect(t, url)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Send(context.Background(), []byte("hi"))
			assert.NoError(t, err)
			assert.Equal(t, "echo:hi", string(resp))
		}()
	}
	wg.Wait()
}

func TestPushAndPost(t *testing.T) {
	posted := make(chan uint64, 1)
	srv, url := startServer(t, func(connID uint64, req []byte) []byte {
		if string(req) == "post" {
			posted <- connID
		}
		return []byte("ignored")
	})
	c := connect(t, url)

	require.NoError(t, c.Post([]byte("post")))
	var connID uint64
	select {
	case connID = <-posted:
	case <-time.After(time.Second):
		t.Fatal("post not delivered")
	}

	require.NoError(t, srv.Push(connID, []byte("event")))
	select {
	case ev := <-c.Events():
		assert.Equal(t, "event", string(ev.Data))
		assert.False(t, ev.Reconnected)
	case <-time.After(time.Second):
		t.Fatal("push not delivered")
	}

	assert.ErrorIs(t, srv.Push(connID+100, []byte("x")), transport.ErrUnknownConnection)
}

func TestDisconnectHandler(t *testing.T) {
	gone := make(chan uint64, 1)
	srv, url := startServer(t, func(uint64, []byte) []byte { return nil })
	srv.RegisterDisconnectHandler(func(connID uint64) { gone <- connID })

	c := connect(t, url)
	_, err := c.Send(context.Background(), []byte("x"))
	require.NoError(t, err)
	require.NoError(t, c.Close())

	select {
	case id := <-gone:
		assert.Equal(t, uint64(1), id)
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
}

func TestSendCanceled(t *testing.T) {
	block := make(chan struct{})
	_, url := startServer(t, func(uint64, []byte) []byte {
		<-block
		return nil
	})
	defer close(block)
	c := connect(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Send(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
