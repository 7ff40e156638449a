package lifecycle

import (
	"context"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/tasklog"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

const authSasldbArchivePath = "/opt/tarantool/auth.sasldb"

// Heal recreates whichever instance's container has disappeared,
// restoring its credential store from the surviving instance and
// pointing its replication source back at the survivor (§4.F). A no-op
// if both containers are present; fails with precondition if neither is.
func (e *Engine) Heal(ctx context.Context, groupID string) *types.Task {
	defer e.lockGroup(groupID)()
	task := tasklog.New(types.TaskUpdate, groupID)

	view, err := e.refresh(ctx, groupID)
	if err != nil {
		return task.Fail(err)
	}
	if view.Blueprint == nil || view.Allocation == nil {
		return task.Fail(errs.New(errs.NotFound, "group "+groupID+" does not exist"))
	}

	present := map[types.InstanceNum]bool{}
	for _, instance := range []types.InstanceNum{types.Instance1, types.Instance2} {
		if c, ok := view.Containers[instance]; ok && c != nil {
			present[instance] = true
		}
	}

	switch {
	case present[types.Instance1] && present[types.Instance2]:
		task.Step("both instances present, nothing to heal")
		return task.Succeed()
	case !present[types.Instance1] && !present[types.Instance2]:
		return task.Fail(errs.New(errs.Precondition, "both instances of "+groupID+" are missing"))
	}

	var survivor, missing types.InstanceNum
	if present[types.Instance1] {
		survivor, missing = types.Instance1, types.Instance2
	} else {
		survivor, missing = types.Instance2, types.Instance1
	}

	survivorAlloc := view.Allocation.Instances[survivor]
	survivorClient, _, err := e.resolveHost(survivorAlloc.HostRef)
	if err != nil {
		return task.Fail(err)
	}
	survivorContainer := view.Containers[survivor]

	task.Step("downloading credential store from instance " + string(survivor))
	creds, err := survivorClient.GetArchive(ctx, survivorContainer.ID, authSasldbArchivePath)
	if err != nil {
		return task.Fail(errs.Wrap(errs.ExecFailed, err, "download credential store"))
	}

	task.Step("deregistering stale service for instance " + string(missing))
	if err := e.unregisterInstance(ctx, groupID, missing); err != nil {
		return task.Fail(err)
	}

	missingAlloc, ok := view.Allocation.Instances[missing]
	if !ok {
		return task.Fail(errs.New(errs.Precondition, "no allocation for instance "+string(missing)))
	}
	missingBlueprint, ok := view.Blueprint.Instances[missing]
	if !ok {
		return task.Fail(errs.New(errs.Precondition, "no blueprint entry for instance "+string(missing)))
	}

	networkName := "tarantool_" + groupID
	snap := e.snr.Current()
	subnet := settingsSubnet(snap)
	createAutomatically := settingsCreateAutomatically(snap)

	in := CreateInput{
		GroupID:     groupID,
		Name:        view.Blueprint.Name,
		MemsizeGiB:  view.Blueprint.MemsizeGiB,
		CheckPeriod: view.Blueprint.CheckPeriod,
	}

	survivorBlueprint, ok := view.Blueprint.Instances[survivor]
	if !ok {
		return task.Fail(errs.New(errs.Precondition, "no blueprint entry for instance "+string(survivor)))
	}

	task.Step("recreating container for instance " + string(missing))
	newID, err := e.createInstanceContainer(ctx, missingAlloc.HostRef, groupID, missing, missingBlueprint.Addr, networkName, subnet, createAutomatically, in, survivorBlueprint.Addr)
	if err != nil {
		return task.Fail(err)
	}

	missingClient, _, err := e.resolveHost(missingAlloc.HostRef)
	if err != nil {
		return task.Fail(err)
	}

	task.Step("restoring credential store for instance " + string(missing))
	if err := missingClient.PutArchive(ctx, newID, "/opt/tarantool/", creds); err != nil {
		return task.Fail(errs.Wrap(errs.ExecFailed, err, "restore credential store"))
	}

	task.Step("starting instance " + string(missing))
	if err := missingClient.StartContainer(ctx, newID); err != nil {
		return task.Fail(errs.Wrap(errs.ExecFailed, err, "start instance "+string(missing)))
	}

	task.Step("re-registering instance " + string(missing))
	coordNode := coordNodeForHost(snap, missingAlloc.HostRef)
	if err := e.registerInstance(ctx, groupID, missing, missingBlueprint.Addr, view.Blueprint.CheckPeriod, coordNode); err != nil {
		return task.Fail(err)
	}

	task.Step("enabling replication on instance " + string(missing))
	if err := e.enableReplication(ctx, missingClient, newID, survivorBlueprint.Addr); err != nil {
		return task.Fail(err)
	}

	if _, err := e.refresh(ctx, groupID); err != nil {
		return task.Fail(err)
	}

	return task.Succeed()
}
