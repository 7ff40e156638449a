package storage

import (
	"testing"

	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestKVPutGetDelete(t *testing.T) {
	s := newTestStore(t)

	_, ok, err := s.GetKV("tarantool/g1/blueprint/name")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutKV("tarantool/g1/blueprint/name", []byte("g1")))

	v, ok, err := s.GetKV("tarantool/g1/blueprint/name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "g1", string(v))

	require.NoError(t, s.DeleteKey("tarantool/g1/blueprint/name"))
	_, ok, err = s.GetKV("tarantool/g1/blueprint/name")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeletePrefixRemovesOnlyMatching(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutKV("tarantool/g1/blueprint/name", []byte("g1")))
	require.NoError(t, s.PutKV("tarantool/g1/allocation/instances/1/host", []byte("h1")))
	require.NoError(t, s.PutKV("tarantool/g2/blueprint/name", []byte("g2")))

	require.NoError(t, s.DeletePrefix("tarantool/g1/"))

	entries, err := s.ListPrefix("tarantool/")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, "g2", entries["tarantool/g2/blueprint/name"])
}

func TestListPrefix(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.PutKV("tarantool_settings/network_name", []byte("tnet")))
	require.NoError(t, s.PutKV("tarantool_settings/subnet", []byte("10.0.0.0/24")))
	require.NoError(t, s.PutKV("tarantool/g1/blueprint/name", []byte("g1")))

	entries, err := s.ListPrefix("tarantool_settings/")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, "tnet", entries["tarantool_settings/network_name"])
}

func TestServiceCRUD(t *testing.T) {
	s := newTestStore(t)

	rec := &types.ServiceRecord{
		ServiceID: "g1_1",
		GroupID:   "g1",
		Instance:  types.Instance1,
		Name:      "tarantool",
		Tags:      []string{"tarantool"},
		Addr:      "10.0.0.5",
		Port:      3301,
	}
	require.NoError(t, s.PutService(rec))

	got, ok, err := s.GetService("g1_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.5", got.Addr)

	all, err := s.ListServices()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.DeleteService("g1_1"))
	_, ok, err = s.GetService("g1_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCAPersistence(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetCA()
	assert.Error(t, err)

	require.NoError(t, s.SaveCA([]byte("root-ca-bytes")))
	data, err := s.GetCA()
	require.NoError(t, err)
	assert.Equal(t, "root-ca-bytes", string(data))
}
