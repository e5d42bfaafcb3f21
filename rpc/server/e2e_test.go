package server

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ValentinKolb/dFront/lib/action"
	"github.com/ValentinKolb/dFront/lib/datafront"
	"github.com/ValentinKolb/dFront/lib/entity"
	"github.com/ValentinKolb/dFront/lib/query"
	"github.com/ValentinKolb/dFront/rpc/client"
	"github.com/ValentinKolb/dFront/rpc/common"
	"github.com/ValentinKolb/dFront/rpc/serializer"
	"github.com/ValentinKolb/dFront/rpc/transport/unix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type thing struct {
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

type online struct {
	Count int `json:"count"`
}

// serveUnix serves a server seeded from seedDoc on socket
func serveUnix(t *testing.T, socket string, ser func() serializer.IRPCSerializer, seedDoc string) *RPCServer {
	t.Helper()
	s := NewRPCServer(common.ServerConfig{
		Transport:     common.ServerTransportConfig{Endpoint: socket, WorkersPerConn: 4},
		TimeoutSecond: 5,
	}, unix.NewUnixServerTransport(0, 4), ser())
	seed, err := ParseSeed([]byte(seedDoc))
	require.NoError(t, err)
	s.ApplySeed(seed)

	go func() { _ = s.Serve() }()
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// startUnixServer serves a seeded server on a unix socket and returns a
// started datafront client connected to it
func startUnixServer(t *testing.T, ser func() serializer.IRPCSerializer) (*RPCServer, *datafront.Client) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "dfront.sock")
	s := serveUnix(t, socket, ser, seedYAML)
	return s, connectUnix(t, socket, ser)
}

func connectUnix(t *testing.T, socket string, ser func() serializer.IRPCSerializer) *datafront.Client {
	t.Helper()
	var (
		tr  datafront.ITransport
		err error
	)
	require.Eventually(t, func() bool {
		tr, err = client.NewRPCTransport(common.ClientConfig{
			TimeoutSecond: 5,
			Transport:     common.ClientTransportConfig{Endpoints: []string{socket}, RetryCount: 2},
		}, unix.NewUnixClientTransport(), ser())
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	df := datafront.New(tr, datafront.Config{SweepInterval: time.Hour, RequestTimeout: 5 * time.Second})
	df.Start()
	t.Cleanup(func() { _ = df.Close() })
	return df
}

func TestEndToEnd(t *testing.T) {
	for name, ser := range map[string]func() serializer.IRPCSerializer{
		"JSON": serializer.NewJSONSerializer,
		"GOB":  serializer.NewGOBSerializer,
	} {
		t.Run(name, func(t *testing.T) {
			s, df := startUnixServer(t, ser)

			things, err := datafront.NewTable(df, "T", entity.Mapper[thing](), "byOwner")
			require.NoError(t, err)
			q := things.Use()
			require.NoError(t, q.Activate(query.New("byOwner", map[string]any{"owner": "u1"})))

			require.Eventually(t, func() bool { return len(q.Result()) == 2 }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, thing{"u1", "X"}, q.Result()["a"])

			// server-side mutation reaches the query through a push
			require.NoError(t, s.PatchEntity("T", "a", entity.ApiEntity{"name": "Z"}))
			require.Eventually(t, func() bool { return q.Result()["a"].Name == "Z" }, 2*time.Second, 5*time.Millisecond)
			assert.Equal(t, thing{"u1", "Y"}, q.Result()["b"])

			// singleton fetch and an action mutating it
			counter, err := datafront.NewSingleton(df, "online", entity.Mapper[online]())
			require.NoError(t, err)
			counter.Use()
			require.Eventually(t, func() bool {
				v, ok := counter.Value()
				return ok && v.Count == 3
			}, 2*time.Second, 5*time.Millisecond)

			patch, err := datafront.NewAction(df, "patchSingleton", entity.Mapper[online]())
			require.NoError(t, err)
			h := patch.Use(action.NewToken())
			require.True(t, h.Run(map[string]any{"path": "online", "patch": map[string]any{"count": 9}}))
			require.Eventually(t, func() bool {
				_, ok := h.Result()
				return ok
			}, 2*time.Second, 5*time.Millisecond)
			res, _ := h.Result()
			assert.Equal(t, 9, res.Count)
			require.Eventually(t, func() bool {
				v, _ := counter.Value()
				return v.Count == 9
			}, 2*time.Second, 5*time.Millisecond)

			// evicting the query unsubscribes its ids on the server
			q.Close()
			df.Sweep()
			require.Eventually(t, func() bool {
				subscribed := 0
				s.subs.Range(func(connID uint64, _ *subscriptions) bool {
					subscribed += len(s.Subscribed(connID, "T"))
					return true
				})
				return subscribed == 0
			}, 2*time.Second, 5*time.Millisecond)
		})
	}
}

func TestReconnectResyncs(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "dfront.sock")
	first := serveUnix(t, socket, serializer.NewJSONSerializer, seedYAML)
	df := connectUnix(t, socket, serializer.NewJSONSerializer)

	things, err := datafront.NewTable(df, "T", entity.Mapper[thing](), "byOwner")
	require.NoError(t, err)
	q := things.Use()
	defer q.Close()
	require.NoError(t, q.Activate(query.New("byOwner", map[string]any{"owner": "u1"})))
	counter, err := datafront.NewSingleton(df, "online", entity.Mapper[online]())
	require.NoError(t, err)
	counter.Use()
	require.Eventually(t, func() bool {
		v, _ := counter.Value()
		return q.Result()["a"].Name == "X" && v.Count == 3
	}, 2*time.Second, 5*time.Millisecond)

	// the restarted server knows nothing of the old subscriptions
	require.NoError(t, first.Close())
	second := serveUnix(t, socket, serializer.NewJSONSerializer, `
tables:
  T:
    a: {owner: u1, name: X2}
singletons:
  online: {count: 5}
queries:
  T: {byOwner: owner}
`)

	require.Eventually(t, func() bool {
		v, _ := counter.Value()
		return q.Result()["a"].Name == "X2" && len(q.Result()) == 1 && v.Count == 5
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, second.PatchEntity("T", "a", entity.ApiEntity{"name": "Z"}))
	second.PatchSingleton("online", entity.ApiEntity{"count": 9})
	require.Eventually(t, func() bool {
		v, _ := counter.Value()
		return q.Result()["a"].Name == "Z" && v.Count == 9
	}, 2*time.Second, 5*time.Millisecond)
}
