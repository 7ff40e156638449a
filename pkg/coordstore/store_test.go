package coordstore

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/storage"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore wires a Store to a real single-node raft cluster using
// in-memory transport/log/stable stores and a discard snapshot store, so
// Apply/Snapshot exercise the genuine raft commit path without a TCP
// listener or a file-backed snapshot directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	backing, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { backing.Close() })

	f := newFSM(backing)

	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID("test-node")
	config.HeartbeatTimeout = 50 * time.Millisecond
	config.ElectionTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 25 * time.Millisecond
	config.CommitTimeout = 5 * time.Millisecond

	addr, transport := raft.NewInmemTransport("test-node")

	r, err := raft.NewRaft(config, f, raft.NewInmemStore(), raft.NewInmemStore(), raft.NewDiscardSnapshotStore(), transport)
	require.NoError(t, err)

	future := r.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: addr}},
	})
	require.NoError(t, future.Error())

	store := &Store{nodeID: "test-node", fsm: f, store: backing}
	store.bootstrapWithRaft(r)

	require.Eventually(t, store.IsLeader, time.Second, 5*time.Millisecond, "node never became leader")

	return store
}

func TestKVPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.KVPut(ctx, "tarantool/g1/blueprint/name", []byte("orders")))
	require.NoError(t, s.KVPut(ctx, "tarantool/g1/blueprint/type", []byte("tarantool")))

	entries, err := s.KVGetPrefix(ctx, "tarantool/g1")
	require.NoError(t, err)
	assert.Equal(t, "orders", entries["tarantool/g1/blueprint/name"])
	assert.Equal(t, "tarantool", entries["tarantool/g1/blueprint/type"])

	require.NoError(t, s.KVDelete(ctx, "tarantool/g1", true))
	entries, err = s.KVGetPrefix(ctx, "tarantool/g1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestServiceRegistrationAndHealthService(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RegisterNode(ctx, types.Host{Addr: "10.0.0.1:2375", CoordNode: "host-1"}))
	require.NoError(t, s.RegisterService(ctx, &types.ServiceRecord{
		ServiceID: "g1_1",
		Name:      "tarantool",
		Tags:      []string{"tarantool"},
		Addr:      "10.1.0.1",
		Port:      3301,
		CoordNode: "host-1",
	}))
	require.NoError(t, s.RegisterCheck(ctx, "g1_1", types.Check{ID: "replication", Name: "replication", Status: types.StatusCritical}))
	require.NoError(t, s.RegisterCheck(ctx, "g1_1", types.Check{ID: "memory", Name: "memory", Status: types.StatusPassing}))

	names, err := s.CatalogServices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tarantool"}, names)

	nodes, err := s.CatalogNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "host-1", nodes[0].Name)
	assert.Equal(t, "10.0.0.1:2375", nodes[0].Addr)

	entries, err := s.HealthService(ctx, "tarantool")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "g1_1", entries[0].ServiceID)
	assert.Equal(t, "10.0.0.1:2375", entries[0].NodeAddr)
	assert.False(t, entries[0].AllPassing())

	require.NoError(t, s.SetCheckStatus(ctx, "g1_1", "replication", types.StatusPassing))
	entries, err = s.HealthService(ctx, "tarantool")
	require.NoError(t, err)
	assert.True(t, entries[0].AllPassing())

	require.NoError(t, s.DeregisterCheck(ctx, "g1_1", "memory"))
	entries, err = s.HealthService(ctx, "tarantool")
	require.NoError(t, err)
	assert.Len(t, entries[0].Checks, 1)

	require.NoError(t, s.DeregisterService(ctx, "g1_1"))
	entries, err = s.HealthService(ctx, "tarantool")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWatchWakesOnChangeAndReturnsNewRevision(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, initial, err := s.Watch(ctx, "tarantool/g1", 0)
	require.NoError(t, err)
	assert.Empty(t, initial)

	woke := make(chan struct{})
	go func() {
		watchCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		since := s.fsm.revision
		rev, entries, err := s.Watch(watchCtx, "tarantool/g1", since)
		assert.NoError(t, err)
		assert.Greater(t, rev, since)
		assert.Equal(t, "orders", entries["tarantool/g1/blueprint/name"])
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.KVPut(ctx, "tarantool/g1/blueprint/name", []byte("orders")))

	select {
	case <-woke:
	case <-time.After(2 * time.Second):
		t.Fatal("watch never woke after KVPut")
	}
}

func TestWatchReturnsContextErrorOnTimeout(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := s.Watch(ctx, "tarantool/g1", s.fsm.revision)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
