package allocator

import (
	"testing"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocate(t *testing.T) {
	tests := []struct {
		name         string
		hosts        []*types.Host
		memsizeGiB   float64
		antiAffinity []string
		wantAddr     string
		wantErr      bool
	}{
		{
			name: "prefers largest residual memory",
			hosts: []*types.Host{
				{Addr: "10.0.0.1:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 10},
				{Addr: "10.0.0.2:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 2},
			},
			memsizeGiB: 0.5,
			wantAddr:   "10.0.0.2:2375",
		},
		{
			name: "ties broken by address",
			hosts: []*types.Host{
				{Addr: "10.0.0.2:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 8},
				{Addr: "10.0.0.1:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 8},
			},
			memsizeGiB: 0.5,
			wantAddr:   "10.0.0.1:2375",
		},
		{
			name: "skips hosts not passing",
			hosts: []*types.Host{
				{Addr: "10.0.0.1:2375", Status: types.StatusCritical, MemoryGiB: 16, UsedGiB: 0},
				{Addr: "10.0.0.2:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 10},
			},
			memsizeGiB: 0.5,
			wantAddr:   "10.0.0.2:2375",
		},
		{
			name: "skips hosts in anti-affinity set",
			hosts: []*types.Host{
				{Addr: "10.0.0.1:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 2},
				{Addr: "10.0.0.2:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 10},
			},
			memsizeGiB:   0.5,
			antiAffinity: []string{"10.0.0.1:2375"},
			wantAddr:     "10.0.0.2:2375",
		},
		{
			name: "fails when no host has enough residual memory",
			hosts: []*types.Host{
				{Addr: "10.0.0.1:2375", Status: types.StatusPassing, MemoryGiB: 4, UsedGiB: 3.8},
			},
			memsizeGiB: 1,
			wantErr:    true,
		},
		{
			name:       "fails with no hosts",
			hosts:      nil,
			memsizeGiB: 0.5,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New()
			addr, err := a.Allocate(tt.hosts, tt.memsizeGiB, tt.antiAffinity)

			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.Is(err, errs.Capacity))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, addr)
		})
	}
}

func TestAllocatePairChoosesDistinctHosts(t *testing.T) {
	hosts := []*types.Host{
		{Addr: "10.0.0.1:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 2},
		{Addr: "10.0.0.2:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 4},
	}

	a := New()
	first, second, err := a.AllocatePair(hosts, 0.5, nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, "10.0.0.1:2375", first)
	assert.Equal(t, "10.0.0.2:2375", second)
}

func TestAllocatePairFailsWithOnlyOneQualifyingHost(t *testing.T) {
	hosts := []*types.Host{
		{Addr: "10.0.0.1:2375", Status: types.StatusPassing, MemoryGiB: 16, UsedGiB: 2},
	}

	a := New()
	_, _, err := a.AllocatePair(hosts, 0.5, nil)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Capacity))
}
