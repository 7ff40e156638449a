package lifecycle

import (
	"context"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/tasklog"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// Delete tears a group down in the reverse order Create built it: for
// each instance, stop and remove its container, then deregister its
// service, then erase the allocation and blueprint trees. Every step
// tolerates state that is already missing, since Delete must also be
// able to finish a group left half-built by a failed Create (§4.F, §7).
func (e *Engine) Delete(ctx context.Context, groupID string) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskDelete, groupID)

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}

	for _, instance := range []types.InstanceNum{types.Instance1, types.Instance2} {
		hostRef := ""
		if view.Allocation != nil {
			if inst, ok := view.Allocation.Instances[instance]; ok {
				hostRef = inst.HostRef
			}
		}
		if hostRef != "" {
			client, _, err := e.resolveHost(hostRef)
			if err != nil && !errs.Is(err, errs.NotFound) {
				return task.Fail(err)
			}
			if err == nil {
				containerName := groupID + "_" + string(instance)
				containerID := containerName
				if view.Containers != nil {
					if c, ok := view.Containers[instance]; ok && c != nil {
						containerID = c.ID
					}
				}

				task.Step("stopping container for instance " + string(instance))
				if err := client.StopContainer(ctx, containerID, 10*time.Second); err != nil && !errs.Is(err, errs.NotFound) {
					return task.Fail(errs.Wrap(errs.ExecFailed, err, "stop container "+containerID))
				}

				task.Step("removing container for instance " + string(instance))
				if err := client.RemoveContainer(ctx, containerID); err != nil && !errs.Is(err, errs.NotFound) {
					return task.Fail(errs.Wrap(errs.ExecFailed, err, "remove container "+containerID))
				}
			}
		}

		task.Step("deregistering instance " + string(instance))
		if err := e.unregisterInstance(ctx, groupID, instance); err != nil {
			return task.Fail(err)
		}
	}

	task.Step("removing allocation")
	if err := e.coord.KVDelete(ctx, "tarantool/"+groupID+"/allocation/", true); err != nil {
		return task.Fail(err)
	}

	task.Step("removing blueprint")
	if err := e.coord.KVDelete(ctx, "tarantool/"+groupID+"/blueprint/", true); err != nil {
		return task.Fail(err)
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}

	return task.Succeed()
}
