// Package projection derives a group's four views (blueprint, allocation,
// services, containers) from a sensor snapshot (§4.E).
package projection

import (
	"strings"

	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

const settingsNetworkNameKey = "tarantool_settings/network_name"

// View is everything the lifecycle engine and the CLI know about one
// group, derived from a single snapshot.
type View struct {
	GroupID    string
	Blueprint  *types.Blueprint
	Allocation *types.Allocation
	Services   map[types.InstanceNum]*types.ServiceRecord
	Containers map[types.InstanceNum]*types.Container
}

// State derives the group's lifecycle state per §4 ("State machine of a
// group"). A blueprint that exists but is incomplete is treated as if the
// group does not exist at all (§6.1, Invariant-adjacent tolerance of
// partial writes).
func (v *View) State() types.GroupState {
	if v.Blueprint == nil || !v.Blueprint.Complete() {
		return types.GroupNonexistent
	}
	if v.Allocation == nil || !v.Allocation.Complete() {
		return types.GroupBlueprinted
	}
	if len(v.Services) < 2 {
		return types.GroupAllocated
	}

	running := 0
	for _, c := range v.Containers {
		if c.IsRunning() {
			running++
		}
	}
	switch running {
	case 2:
		return types.GroupRunning
	case 1:
		return types.GroupRunningHalf
	default:
		return types.GroupRegistered
	}
}

// NetworkName reads the configured overlay/bridge network name out of the
// snapshot's settings subtree (the `network_settings()` helper in the
// original implementation).
func NetworkName(snap *sensor.Snapshot) string {
	if snap == nil {
		return ""
	}
	return snap.Settings[settingsNetworkNameKey]
}

// Project derives the View for a single group from the snapshot. It never
// returns nil; an unknown group simply projects to a View whose State is
// GroupNonexistent.
func Project(snap *sensor.Snapshot, groupID string) *View {
	all := ProjectAll(snap)
	if v, ok := all[groupID]; ok {
		return v
	}
	return &View{GroupID: groupID}
}

// ProjectAll derives every group's View present anywhere across the
// snapshot's KV tree, service catalog, or container lists.
func ProjectAll(snap *sensor.Snapshot) map[string]*View {
	views := make(map[string]*View)

	get := func(groupID string) *View {
		v, ok := views[groupID]
		if !ok {
			v = &View{GroupID: groupID}
			views[groupID] = v
		}
		return v
	}

	if snap == nil {
		return views
	}

	parseBlueprints(snap.KV, get)
	parseAllocations(snap.KV, get)
	parseServices(snap.ServicesByName, get)
	parseContainers(snap, get)

	return views
}

// parseBlueprints matches keys of the form:
//
//	tarantool/<gid>/blueprint/type|name|memsize|check_period|creation_time
//	tarantool/<gid>/blueprint/instances/<n>/addr
func parseBlueprints(kv map[string]string, get func(string) *View) {
	for key, value := range kv {
		seg := strings.Split(key, "/")
		if len(seg) < 4 || seg[0] != "tarantool" || seg[2] != "blueprint" {
			continue
		}
		groupID := seg[1]
		v := get(groupID)
		if v.Blueprint == nil {
			v.Blueprint = &types.Blueprint{
				GroupID:   groupID,
				Instances: make(map[types.InstanceNum]types.BlueprintInstance),
			}
		}
		bp := v.Blueprint

		switch {
		case len(seg) == 4 && seg[3] == "type":
			bp.Type = value
		case len(seg) == 4 && seg[3] == "name":
			bp.Name = value
		case len(seg) == 4 && seg[3] == "memsize":
			bp.MemsizeGiB = parseFloat(value)
		case len(seg) == 4 && seg[3] == "check_period":
			bp.CheckPeriod = parseInt(value)
		case len(seg) == 4 && seg[3] == "creation_time":
			bp.CreationTime = parseTime(value)
		case len(seg) == 6 && seg[3] == "instances" && seg[5] == "addr":
			n := types.InstanceNum(seg[4])
			if n.Valid() {
				bp.Instances[n] = types.BlueprintInstance{Addr: value}
			}
		}
	}
}

// parseAllocations matches keys of the form:
//
//	tarantool/<gid>/allocation/instances/<n>/host
func parseAllocations(kv map[string]string, get func(string) *View) {
	for key, value := range kv {
		seg := strings.Split(key, "/")
		if len(seg) != 6 || seg[0] != "tarantool" || seg[2] != "allocation" ||
			seg[3] != "instances" || seg[5] != "host" {
			continue
		}
		groupID := seg[1]
		n := types.InstanceNum(seg[4])
		if !n.Valid() {
			continue
		}

		v := get(groupID)
		if v.Allocation == nil {
			v.Allocation = &types.Allocation{
				GroupID:   groupID,
				Instances: make(map[types.InstanceNum]types.AllocationInstance),
			}
		}
		v.Allocation.Instances[n] = types.AllocationInstance{HostRef: value}
	}
}

// parseServices filters service health entries whose ID has the form
// "<gid>_<n>" and whose tags include "tarantool".
func parseServices(servicesByName map[string][]sensor.HealthEntry, get func(string) *View) {
	for _, entries := range servicesByName {
		for _, entry := range entries {
			if !hasTag(entry.Tags, "tarantool") {
				continue
			}
			groupID, instance, ok := splitGroupInstance(entry.ServiceID)
			if !ok {
				continue
			}

			v := get(groupID)
			if v.Services == nil {
				v.Services = make(map[types.InstanceNum]*types.ServiceRecord)
			}

			checks := make([]types.Check, len(entry.Checks))
			for i, status := range entry.Checks {
				checks[i] = types.Check{Status: status}
			}

			v.Services[instance] = &types.ServiceRecord{
				ServiceID: entry.ServiceID,
				GroupID:   groupID,
				Instance:  instance,
				Name:      entry.ServiceName,
				Tags:      entry.Tags,
				Addr:      entry.Address,
				Port:      entry.Port,
				CoordNode: entry.NodeName,
				Checks:    checks,
			}
		}
	}
}

// parseContainers filters container entries whose labels include
// "tarantool" and whose name matches "<gid>_<n>". A container's address on
// the configured network (§4.E) is read on demand via Container.AddrOn,
// using NetworkName(snap) for the network name.
func parseContainers(snap *sensor.Snapshot, get func(string) *View) {
	for hostAddr, containers := range snap.ContainersByHost {
		for i := range containers {
			c := containers[i]
			if !hasTag(c.Labels, "tarantool") {
				continue
			}
			groupID, instance, ok := splitGroupInstance(strings.TrimPrefix(c.Name, "/"))
			if !ok {
				continue
			}

			v := get(groupID)
			if v.Containers == nil {
				v.Containers = make(map[types.InstanceNum]*types.Container)
			}

			cc := c
			cc.HostAddr = hostAddr
			v.Containers[instance] = &cc
		}
	}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func splitGroupInstance(id string) (groupID string, instance types.InstanceNum, ok bool) {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return "", "", false
	}
	n := types.InstanceNum(id[idx+1:])
	if !n.Valid() {
		return "", "", false
	}
	return id[:idx], n, true
}
