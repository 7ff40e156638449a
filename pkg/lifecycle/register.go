package lifecycle

import (
	"context"
	"strconv"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

func formatMemsize(giB float64) string {
	return strconv.FormatFloat(giB, 'f', -1, 64)
}

// writeBlueprint persists a new group's desired state one key at a time,
// per §6.1: readers tolerate partial writes by treating an incomplete
// blueprint as group-absent, so there is no need for a transactional
// multi-key write here.
func (e *Engine) writeBlueprint(ctx context.Context, in CreateInput, ip1, ip2 string) error {
	base := "tarantool/" + in.GroupID + "/blueprint/"
	writes := [][2]string{
		{base + "type", "tarantool"},
		{base + "name", in.Name},
		{base + "memsize", formatMemsize(in.MemsizeGiB)},
		{base + "check_period", strconv.Itoa(in.CheckPeriod)},
		{base + "creation_time", time.Now().UTC().Format(time.RFC3339)},
		{base + "instances/1/addr", ip1},
		{base + "instances/2/addr", ip2},
	}
	for _, w := range writes {
		if err := e.coord.KVPut(ctx, w[0], []byte(w[1])); err != nil {
			return errs.Wrap(errs.Transient, err, "write blueprint key "+w[0])
		}
	}
	return nil
}

// writeAllocation persists the placement decision for both instances.
func (e *Engine) writeAllocation(ctx context.Context, groupID, host1, host2 string) error {
	base := "tarantool/" + groupID + "/allocation/instances/"
	if err := e.coord.KVPut(ctx, base+"1/host", []byte(host1)); err != nil {
		return errs.Wrap(errs.Transient, err, "write allocation for instance 1")
	}
	if err := e.coord.KVPut(ctx, base+"2/host", []byte(host2)); err != nil {
		return errs.Wrap(errs.Transient, err, "write allocation for instance 2")
	}
	return nil
}

// registerInstance registers the service record and its two health checks
// for one instance, per §6.2.
func (e *Engine) registerInstance(ctx context.Context, groupID string, instance types.InstanceNum, addr string, checkPeriod int, coordNode string) error {
	serviceID := groupID + "_" + string(instance)
	rec := &types.ServiceRecord{
		ServiceID: serviceID,
		GroupID:   groupID,
		Instance:  instance,
		Name:      serviceName,
		Tags:      []string{serviceName},
		Addr:      addr,
		Port:      tarantoolPort,
		CoordNode: coordNode,
	}
	if err := e.coord.RegisterService(ctx, rec); err != nil {
		return errs.Wrap(errs.Transient, err, "register service "+serviceID)
	}

	interval := time.Duration(checkPeriod) * time.Second
	if err := e.coord.RegisterCheck(ctx, serviceID, types.Check{
		ID:       "replication",
		Name:     "replication",
		Script:   "/var/lib/mon.d/tarantool_replication.sh",
		Interval: interval,
		Status:   types.StatusWarning,
	}); err != nil {
		return errs.Wrap(errs.Transient, err, "register replication check for "+serviceID)
	}

	if err := e.coord.RegisterCheck(ctx, serviceID, types.Check{
		ID:       serviceID + "_memory",
		Name:     "Memory Utilization",
		Script:   "/var/lib/mon.d/tarantool_memory.sh",
		Interval: interval,
		Status:   types.StatusWarning,
	}); err != nil {
		return errs.Wrap(errs.Transient, err, "register memory check for "+serviceID)
	}

	return nil
}

// unregisterInstance removes a service registration. The underlying store
// never errors on an already-absent key, so this is inherently idempotent
// and needs no special not_found handling (§7's "downgrade to log" policy
// applies at the container-removal layer instead, where the container
// engine genuinely can 404).
func (e *Engine) unregisterInstance(ctx context.Context, groupID string, instance types.InstanceNum) error {
	serviceID := groupID + "_" + string(instance)
	if err := e.coord.DeregisterService(ctx, serviceID); err != nil {
		return errs.Wrap(errs.Transient, err, "deregister service "+serviceID)
	}
	return nil
}
