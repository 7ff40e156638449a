package lifecycle

import (
	"context"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/hostclient"
	"github.com/cuemby/tarantoolctl/pkg/tasklog"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// Upgrade recreates both containers against the current image, in order
// 1 then 2, preserving every bind mount except /opt/tarantool (whose
// contents live in the image itself) and pointing instance 2's
// replication source back at instance 1 (§4.F).
func (e *Engine) Upgrade(ctx context.Context, groupID string) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskUpdate, groupID)

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}
	if view.Blueprint == nil || view.Allocation == nil {
		return task.Fail(errs.New(errs.NotFound, "group "+groupID+" does not exist"))
	}

	networkName := "tarantool_" + groupID
	snap := e.snr.Current()
	subnet := settingsSubnet(snap)
	createAutomatically := settingsCreateAutomatically(snap)

	var instance1Addr string
	if bp, ok := view.Blueprint.Instances[types.Instance1]; ok {
		instance1Addr = bp.Addr
	}

	for _, instance := range []types.InstanceNum{types.Instance1, types.Instance2} {
		container, ok := view.Containers[instance]
		if !ok || container == nil {
			task.Step("instance " + string(instance) + " container absent, skipping upgrade")
			continue
		}
		alloc, ok := view.Allocation.Instances[instance]
		if !ok {
			task.Step("instance " + string(instance) + " has no allocation, skipping upgrade")
			continue
		}
		bp, ok := view.Blueprint.Instances[instance]
		if !ok {
			return task.Fail(errs.New(errs.Precondition, "no blueprint entry for instance "+string(instance)))
		}

		client, _, err := e.resolveHost(alloc.HostRef)
		if err != nil {
			return task.Fail(err)
		}

		task.Step("inspecting mounts for instance " + string(instance))
		inspected, err := client.InspectContainer(ctx, container.ID)
		if err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "inspect instance "+string(instance)))
		}
		mounts := make([]types.Mount, 0, len(inspected.Mounts))
		for _, m := range inspected.Mounts {
			if m.Destination == tarantoolSymlink {
				continue
			}
			mounts = append(mounts, m)
		}

		task.Step("stopping instance " + string(instance))
		if err := client.StopContainer(ctx, container.ID, 10*time.Second); err != nil && !errs.Is(err, errs.NotFound) {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "stop instance "+string(instance)))
		}

		task.Step("removing instance " + string(instance))
		if err := client.RemoveContainer(ctx, container.ID); err != nil && !errs.Is(err, errs.NotFound) {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "remove instance "+string(instance)))
		}

		task.Step("ensuring image and network on " + alloc.HostRef)
		if err := client.EnsureImage(ctx, image); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "ensure image on "+alloc.HostRef))
		}
		if err := ensureNetwork(ctx, client, networkName, subnet, createAutomatically); err != nil {
			return task.Fail(err)
		}

		env := []string{
			"TARANTOOL_SLAB_ALLOC_ARENA=" + formatMemsize(view.Blueprint.MemsizeGiB),
			"TARANTOOL_USER_NAME=tarantool",
		}
		if instance == types.Instance2 && instance1Addr != "" {
			env = append(env, "TARANTOOL_REPLICATION_SOURCE="+instance1Addr+":3301")
		}

		task.Step("recreating instance " + string(instance) + " with preserved mounts")
		spec := hostclient.CreateContainerSpec{
			Image:       image,
			Name:        groupID + "_" + string(instance),
			Env:         env,
			Labels:      map[string]string{"group_id": groupID, "instance": string(instance), "tarantool": ""},
			Mounts:      mounts,
			NetworkName: networkName,
			IPv4:        bp.Addr,
		}
		newID, err := client.CreateContainer(ctx, spec)
		if err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "recreate instance "+string(instance)))
		}

		task.Step("starting instance " + string(instance))
		if err := client.StartContainer(ctx, newID); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "start instance "+string(instance)))
		}
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}
	return task.Succeed()
}
