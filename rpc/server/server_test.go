package server

import (
	"testing"

	"github.com/ValentinKolb/dDoc/lib/catalog"
	"github.com/ValentinKolb/dDoc/lib/lockmgr"
	"github.com/ValentinKolb/dDoc/lib/query"
	"github.com/ValentinKolb/dDoc/lib/repl"
	"github.com/ValentinKolb/dDoc/lib/store"
	"github.com/ValentinKolb/dDoc/rpc/client"
	"github.com/ValentinKolb/dDoc/rpc/common"
	"github.com/ValentinKolb/dDoc/rpc/serializer"
	"github.com/ValentinKolb/dDoc/rpc/transport"
	"github.com/stretchr/testify/require"
)

// loopback connects a client directly to the handler of a server.
type loopback struct {
	handler func(shardId uint64, req []byte) []byte
}

func (l *loopback) Connect(common.ClientConfig) error { return nil }
func (l *loopback) Send(shardId uint64, req []byte) ([]byte, error) {
	return l.handler(shardId, req), nil
}
func (l *loopback) Close() error { return nil }

// noListen is a server transport that never listens.
type noListen struct{}

func (noListen) RegisterHandler(transport.ServerHandleFunc) {}
func (noListen) Listen(common.ServerConfig) error           { return nil }
func (noListen) Close() error                               { return nil }

func startServer(t *testing.T, ser serializer.IRPCSerializer) *RPCServer {
	t.Helper()
	s := NewRPCServer(common.ServerConfig{
		Shards:        []common.ServerShard{{ShardID: 1, Type: common.ShardTypeLStore}},
		DataDir:       t.TempDir(),
		ReplicaID:     1,
		TimeoutSecond: 5,
		LogLevel:      "error",
	}, noListen{}, ser)
	require.NoError(t, s.init())
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			ser, ok := serializer.ByName(name)
			require.True(t, ok)
			s := startServer(t, ser)

			c, err := client.NewRPCStore(1, common.ClientConfig{}, &loopback{handler: s.handle}, ser)
			require.NoError(t, err)

			require.NoError(t, c.CreateNamespace("temp1", map[string]any{"temp": 1}))
			require.ErrorIs(t, c.CreateNamespace("temp1", nil), store.ErrAlreadyExists)
			require.NoError(t, c.EnsureIndex("c", catalog.KeySpec{{Field: "x", Direction: 1}}))

			for i := 0; i < 10; i++ {
				id, err := c.Insert("c", map[string]any{"_id": i, "x": i % 3})
				require.NoError(t, err)
				require.EqualValues(t, i, id)
			}
			for _, id := range []any{"1", map[string]any{"bar": 1}, nil} {
				_, err := c.Insert("c", map[string]any{"_id": id})
				require.NoError(t, err)
			}
			_, err = c.Insert("c", map[string]any{"_id": 3})
			require.ErrorIs(t, err, store.ErrDuplicateKey)
			require.Equal(t, store.RetCDuplicateKey, store.CodeOf(err))

			docs, explain, err := c.Find(query.Query{
				Collection: "c",
				Projection: map[string]any{"_id": 1},
				Sort:       catalog.KeySpec{{Field: "_id", Direction: -1}},
				Hint:       "_id:1",
			})
			require.NoError(t, err)
			require.Len(t, docs, 13)
			require.True(t, explain.IndexOnly)
			require.Equal(t, 0, explain.DocumentsFetched)

			nss, err := c.ListNamespaces(catalog.Pattern{}.WithTemporary(true))
			require.NoError(t, err)
			require.Len(t, nss, 2)

			require.NoError(t, c.Remove("c", 3))
			require.NoError(t, c.Drop("temp1"))

			err = c.StepDown(10, false)
			require.ErrorIs(t, err, store.NewError(store.RetCUnsupportedOperation, ""))

			status, err := c.GetRoleStatus()
			require.NoError(t, err)
			require.Equal(t, repl.RolePrimary, status.Role)
			require.True(t, status.Writable)

			info, err := c.GetDBInfo()
			require.NoError(t, err)
			require.Equal(t, 1, info.Collections)
		})
	}
}

func TestUnknownShard(t *testing.T) {
	ser := serializer.NewJSONSerializer()
	s := startServer(t, ser)

	c, err := client.NewRPCStore(42, common.ClientConfig{}, &loopback{handler: s.handle}, ser)
	require.NoError(t, err)
	_, err = c.GetRoleStatus()
	require.Error(t, err)
	require.Equal(t, store.RetCInternalError, store.CodeOf(err))
}

func TestLocksOverRPC(t *testing.T) {
	ser := serializer.NewMsgpackSerializer()
	s := startServer(t, ser)

	c, err := client.NewRPCStore(1, common.ClientConfig{}, &loopback{handler: s.handle}, ser)
	require.NoError(t, err)

	locks := lockmgr.NewLockManager(c, "")
	ok, owner, err := locks.AcquireLock("resource")
	require.NoError(t, err)
	require.True(t, ok)

	ok, _, err = locks.AcquireLock("resource")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = locks.ReleaseLock("resource", owner)
	require.NoError(t, err)
	require.True(t, ok)
}
