package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/tasklog"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// Rename is an idempotent write of blueprint/name (§4.F).
func (e *Engine) Rename(ctx context.Context, groupID, newName string) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskUpdate, groupID)

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}
	if view.Blueprint == nil {
		return task.Fail(errs.New(errs.NotFound, "group "+groupID+" does not exist"))
	}

	task.Step("writing new name")
	key := "tarantool/" + groupID + "/blueprint/name"
	if err := e.coord.KVPut(ctx, key, []byte(newName)); err != nil {
		return task.Fail(err)
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}
	return task.Succeed()
}

// Resize exec's the configuration helper on every present container to
// set the new slab arena size, restarts it, then persists the new
// blueprint memsize. An absent container is skipped with an
// informational step rather than failing the operation (§4.F).
func (e *Engine) Resize(ctx context.Context, groupID string, memsizeGiB float64) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskUpdate, groupID)

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}
	if view.Blueprint == nil || view.Allocation == nil {
		return task.Fail(errs.New(errs.NotFound, "group "+groupID+" does not exist"))
	}

	for _, instance := range []types.InstanceNum{types.Instance1, types.Instance2} {
		container, ok := view.Containers[instance]
		if !ok || container == nil {
			task.Step("instance " + string(instance) + " container absent, skipping resize")
			continue
		}

		alloc, ok := view.Allocation.Instances[instance]
		if !ok {
			task.Step("instance " + string(instance) + " has no allocation, skipping resize")
			continue
		}
		client, _, err := e.resolveHost(alloc.HostRef)
		if err != nil {
			return task.Fail(err)
		}

		task.Step("resizing instance " + string(instance) + " to " + formatMemsize(memsizeGiB) + " GiB")
		code, err := client.Exec(ctx, container.ID, configureCmd("TARANTOOL_SLAB_ALLOC_ARENA", formatMemsize(memsizeGiB)))
		if err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "exec resize on instance "+string(instance)))
		}
		if code != 0 {
			return task.Fail(errs.New(errs.ExecFailed, fmt.Sprintf("resize helper exited %d on instance %s", code, instance)))
		}

		if err := client.RestartContainer(ctx, container.ID, 10*time.Second); err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "restart instance "+string(instance)))
		}
	}

	task.Step("persisting new memsize")
	key := "tarantool/" + groupID + "/blueprint/memsize"
	if err := e.coord.KVPut(ctx, key, []byte(formatMemsize(memsizeGiB))); err != nil {
		return task.Fail(err)
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}
	return task.Succeed()
}

// SetPassword exec's the configuration helper on every container to set
// the tarantool user's password. Unlike Resize, an absent container
// fails the operation: a password change that silently skips an instance
// would leave the group with inconsistent credentials (§4.F, §7).
func (e *Engine) SetPassword(ctx context.Context, groupID, password string) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskUpdate, groupID)

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}
	if view.Blueprint == nil || view.Allocation == nil {
		return task.Fail(errs.New(errs.NotFound, "group "+groupID+" does not exist"))
	}

	for _, instance := range []types.InstanceNum{types.Instance1, types.Instance2} {
		container, ok := view.Containers[instance]
		if !ok || container == nil {
			return task.Fail(errs.New(errs.NotFound, "instance "+string(instance)+" container absent"))
		}
		alloc, ok := view.Allocation.Instances[instance]
		if !ok {
			return task.Fail(errs.New(errs.NotFound, "instance "+string(instance)+" has no allocation"))
		}
		client, _, err := e.resolveHost(alloc.HostRef)
		if err != nil {
			return task.Fail(err)
		}

		task.Step("setting password on instance " + string(instance))
		code, err := client.Exec(ctx, container.ID, configureCmd("TARANTOOL_USER_PASSWORD", password))
		if err != nil {
			return task.Fail(errs.Wrap(errs.ExecFailed, err, "exec set-password on instance "+string(instance)))
		}
		if code != 0 {
			return task.Fail(errs.New(errs.ExecFailed, fmt.Sprintf("set-password helper exited %d on instance %s", code, instance)))
		}
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}
	return task.Succeed()
}
