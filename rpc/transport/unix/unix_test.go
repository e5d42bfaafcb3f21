package unix

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, socket string, handler transport.ServerHandleFunc) transport.IRPCServerTransport {
	t.Helper()
	srv := NewUnixServerTransport(0, 4)
	srv.RegisterHandler(handler)
	go func() {
		_ = srv.Listen(common.ServerConfig{
			TimeoutSecond: 5,
			Transport:     common.ServerTransportConfig{Endpoint: socket},
		})
	}()
	t.Cleanup(func() { _ = srv.Close() })
	return srv
}

func connect(t *testing.T, socket string, connections int) transport.IRPCClientTransport {
	t.Helper()
	c := NewUnixClientTransport()
	require.Eventually(t, func() bool {
		return c.Connect(common.ClientConfig{
			TimeoutSecond: 5,
			Transport: common.ClientTransportConfig{
				Endpoints:              []string{socket},
				RetryCount:             2,
				ConnectionsPerEndpoint: connections,
			},
		}) == nil
	}, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// recorder keeps the handled requests in order
type recorder struct {
	mu      sync.Mutex
	entries []string
	conns   map[uint64]struct{}
}

func (r *recorder) handle(connID uint64, req []byte) []byte {
	if strings.HasPrefix(string(req), "post") {
		// a slow post would be overtaken by the next request if it ran on a worker
		time.Sleep(2 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, string(req))
	r.conns[connID] = struct{}{}
	return req
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.entries...), len(r.conns)
}

func TestPostReachesEveryConnection(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "t.sock")
	rec := &recorder{conns: map[uint64]struct{}{}}
	startServer(t, socket, rec.handle)
	c := connect(t, socket, 3)

	require.NoError(t, c.Post([]byte("post")))
	require.Eventually(t, func() bool {
		entries, conns := rec.snapshot()
		return len(entries) == 3 && conns == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPostIsHandledBeforeLaterRequests(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "t.sock")
	rec := &recorder{conns: map[uint64]struct{}{}}
	startServer(t, socket, rec.handle)
	c := connect(t, socket, 1)

	for i := 0; i < 20; i++ {
		require.NoError(t, c.Post([]byte("post")))
		_, err := c.Send(context.Background(), []byte("request"))
		require.NoError(t, err)
	}

	entries, _ := rec.snapshot()
	require.Len(t, entries, 40)
	for i := 0; i < len(entries); i += 2 {
		assert.Equal(t, []string{"post", "request"}, entries[i:i+2], "pair %d", i/2)
	}
}

func TestReconnectIsReported(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "t.sock")
	echo := func(_ uint64, req []byte) []byte { return req }
	first := startServer(t, socket, echo)
	c := connect(t, socket, 1)

	_, err := c.Send(context.Background(), []byte("x"))
	require.NoError(t, err)

	require.NoError(t, first.Close())
	startServer(t, socket, echo)

	deadline := time.After(5 * time.Second)
	for reconnected := false; !reconnected; {
		select {
		case ev := <-c.Events():
			reconnected = ev.Reconnected
		case <-deadline:
			t.Fatal("reconnect not reported")
		}
	}

	resp, err := c.Send(context.Background(), []byte("y"))
	require.NoError(t, err)
	assert.Equal(t, "y", string(resp))
}
