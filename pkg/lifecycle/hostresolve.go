package lifecycle

import (
	"context"
	"strings"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/projection"
	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// matchHostRef finds the coordination node a hostRef names, matching
// either a container-host address prefix or a coordination-node name
// (§4.H). It is the single shared lookup every per-host operation in this
// package goes through, replacing the repeated inline resolution the
// original implementation performed in every *_instance/*_container
// helper.
func matchHostRef(nodes []sensor.CoordNode, hostRef string) (sensor.CoordNode, bool) {
	for _, node := range nodes {
		if node.Name == hostRef || strings.HasPrefix(node.Addr, hostRef) {
			return node, true
		}
	}
	return sensor.CoordNode{}, false
}

// resolveHost resolves hostRef to a HostClient and the host's address,
// per §4.H. Fails with not_found if no known host matches.
func (e *Engine) resolveHost(hostRef string) (HostClient, string, error) {
	snap := e.snr.Current()
	if snap == nil {
		return nil, "", errs.New(errs.NotFound, "no such host: "+hostRef)
	}
	node, ok := matchHostRef(snap.Nodes, hostRef)
	if !ok {
		return nil, "", errs.New(errs.NotFound, "no such host: "+hostRef)
	}
	client, err := e.hosts(node.Addr)
	if err != nil {
		return nil, "", errs.Wrap(errs.Transient, err, "dial container host "+node.Addr)
	}
	return client, node.Addr, nil
}

// coordNodeForHost resolves hostRef to the coordination-node name a new
// service registration should record as its CoordNode (Invariant 5).
func coordNodeForHost(snap *sensor.Snapshot, hostRef string) string {
	if snap == nil {
		return hostRef
	}
	if node, ok := matchHostRef(snap.Nodes, hostRef); ok {
		return node.Name
	}
	return hostRef
}

// candidateHosts derives the allocator's []*types.Host input from the
// current snapshot: one entry per registered "docker" service entry,
// sized from the sensor's per-host info and the memory already committed
// by every group whose allocation names that host.
func candidateHosts(snap *sensor.Snapshot) []*types.Host {
	if snap == nil {
		return nil
	}

	usedByAddr := make(map[string]float64)
	for _, view := range projection.ProjectAll(snap) {
		if view.Blueprint == nil || view.Allocation == nil {
			continue
		}
		for _, inst := range view.Allocation.Instances {
			if inst.HostRef == "" {
				continue
			}
			node, ok := matchHostRef(snap.Nodes, inst.HostRef)
			if !ok {
				continue
			}
			usedByAddr[node.Addr] += view.Blueprint.MemsizeGiB
		}
	}

	hosts := make([]*types.Host, 0, len(snap.ServicesByName["docker"]))
	for _, entry := range snap.ServicesByName["docker"] {
		info := snap.HostInfoByHost[entry.NodeAddr]
		hosts = append(hosts, &types.Host{
			Addr:      entry.NodeAddr,
			CoordNode: entry.NodeName,
			Status:    entry.Status(),
			CPUs:      info.CPUs,
			MemoryGiB: info.MemoryGiB,
			UsedGiB:   usedByAddr[entry.NodeAddr],
		})
	}
	return hosts
}

// ensureNetwork creates name on client if it is not already present, but
// only when tarantool_settings/create_automatically is "true" (default
// false, §9 Design Note "create_automatically"): otherwise a missing
// network is an operator-provisioning precondition failure rather than
// something this control plane silently fixes.
func ensureNetwork(ctx context.Context, client HostClient, name, subnet string, createAutomatically bool) error {
	names, err := client.Networks(ctx)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "list networks")
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	if !createAutomatically {
		return errs.New(errs.Precondition, "network "+name+" does not exist and tarantool_settings/create_automatically is not enabled")
	}
	if _, err := client.CreateNetwork(ctx, name, subnet); err != nil {
		return errs.Wrap(errs.Transient, err, "create network "+name)
	}
	return nil
}

// UsedAddrs returns an ipalloc.UsedFunc-shaped closure reporting every
// IPv4 address already claimed by a blueprint, across every group, in
// the sensor's current snapshot. Wired into the IP pool at construction
// time so a new instance never collides with a running one.
func UsedAddrs(snr *sensor.Sensor) func() map[string]bool {
	return func() map[string]bool {
		snap := snr.Current()
		if snap == nil {
			return nil
		}
		used := make(map[string]bool)
		for _, view := range projection.ProjectAll(snap) {
			if view.Blueprint == nil {
				continue
			}
			for _, inst := range view.Blueprint.Instances {
				if inst.Addr != "" {
					used[inst.Addr] = true
				}
			}
		}
		return used
	}
}

func settingsSubnet(snap *sensor.Snapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Settings["tarantool_settings/subnet"]
}

func settingsCreateAutomatically(snap *sensor.Snapshot) bool {
	if snap == nil {
		return false
	}
	return snap.Settings["tarantool_settings/create_automatically"] == "true"
}

// configureCmd composes the in-image configuration helper invocation this
// package execs for every per-instance environment change (replication
// source, slab arena, password), in place of the ad hoc command
// construction repeated per call site in the original implementation.
func configureCmd(key, value string) []string {
	return []string{configHelper, "set", key, value}
}
