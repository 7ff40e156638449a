package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/hostclient"
	"github.com/cuemby/tarantoolctl/pkg/metrics"
	"github.com/cuemby/tarantoolctl/pkg/tasklog"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// CreateInput is the caller-supplied desired state for a new group (§4.F).
type CreateInput struct {
	GroupID     string
	Name        string
	MemsizeGiB  float64
	CheckPeriod int
	Password    string
}

// Create brings a group from nonexistent to running: it allocates two
// IPs, places both instances on distinct hosts, writes the blueprint and
// allocation, creates and starts both containers, registers both
// services, and enables replication on both instances, each pointing at
// its peer (§4.F).
func (e *Engine) Create(ctx context.Context, in CreateInput) *types.Task {
	defer e.lockGroup(in.GroupID)()
	task := tasklog.New(types.TaskCreate, in.GroupID)

	task.Step("allocating instance addresses")
	ip1, err := e.ips.AllocateIP()
	if err != nil {
		return task.Fail(errs.Wrap(errs.Transient, err, "allocate ip for instance 1"))
	}
	ip2, err := e.ips.AllocateIP()
	if err != nil {
		return task.Fail(errs.Wrap(errs.Transient, err, "allocate ip for instance 2"))
	}

	task.Step("choosing placement")
	snap := e.snr.Current()
	hosts := candidateHosts(snap)
	host1, host2, err := e.allocator.AllocatePair(hosts, in.MemsizeGiB, nil)
	if err != nil {
		return task.Fail(err)
	}

	task.Step("writing blueprint")
	if err := e.writeBlueprint(ctx, in, ip1, ip2); err != nil {
		return task.Fail(err)
	}

	task.Step("writing allocation")
	if err := e.writeAllocation(ctx, in.GroupID, host1, host2); err != nil {
		return task.Fail(err)
	}

	networkName := "tarantool_" + in.GroupID
	subnet := settingsSubnet(snap)
	createAutomatically := settingsCreateAutomatically(snap)

	task.Step("creating instance 1 container on " + host1)
	id1, err := e.createInstanceContainer(ctx, host1, in.GroupID, types.Instance1, ip1, networkName, subnet, createAutomatically, in, "")
	if err != nil {
		return task.Fail(err)
	}

	task.Step("creating instance 2 container on " + host2)
	id2, err := e.createInstanceContainer(ctx, host2, in.GroupID, types.Instance2, ip2, networkName, subnet, createAutomatically, in, ip1)
	if err != nil {
		return task.Fail(err)
	}

	task.Step("starting instance 1")
	client1, _, err := e.resolveHost(host1)
	if err != nil {
		return task.Fail(err)
	}
	if err := client1.StartContainer(ctx, id1); err != nil {
		return task.Fail(errs.Wrap(errs.ExecFailed, err, "start instance 1 container"))
	}

	task.Step("starting instance 2")
	client2, _, err := e.resolveHost(host2)
	if err != nil {
		return task.Fail(err)
	}
	if err := client2.StartContainer(ctx, id2); err != nil {
		return task.Fail(errs.Wrap(errs.ExecFailed, err, "start instance 2 container"))
	}

	task.Step("registering instance 1")
	coordNode1 := coordNodeForHost(snap, host1)
	if err := e.registerInstance(ctx, in.GroupID, types.Instance1, ip1, in.CheckPeriod, coordNode1); err != nil {
		return task.Fail(err)
	}

	task.Step("registering instance 2")
	coordNode2 := coordNodeForHost(snap, host2)
	if err := e.registerInstance(ctx, in.GroupID, types.Instance2, ip2, in.CheckPeriod, coordNode2); err != nil {
		return task.Fail(err)
	}

	task.Step("enabling replication on instance 1")
	if err := e.enableReplication(ctx, client1, id1, ip2); err != nil {
		return task.Fail(err)
	}

	task.Step("enabling replication on instance 2")
	if err := e.enableReplication(ctx, client2, id2, ip1); err != nil {
		return task.Fail(err)
	}

	if _, err := e.refresh(ctx, in.GroupID); err != nil {
		return task.Fail(err)
	}

	return task.Succeed()
}

// createInstanceContainer ensures the image and network exist on the
// target host, then creates (without starting) one instance's container,
// per §6.3's environment-variable conventions. replicationSourceIP is
// empty when Create builds instance 1, which is created before its peer;
// Heal passes the surviving instance's address for whichever instance it
// recreates.
func (e *Engine) createInstanceContainer(ctx context.Context, hostRef, groupID string, instance types.InstanceNum, ipv4, networkName, subnet string, createAutomatically bool, in CreateInput, replicationSourceIP string) (string, error) {
	client, _, err := e.resolveHost(hostRef)
	if err != nil {
		return "", err
	}

	if err := client.EnsureImage(ctx, image); err != nil {
		return "", errs.Wrap(errs.ExecFailed, err, "ensure image on "+hostRef)
	}
	if err := ensureNetwork(ctx, client, networkName, subnet, createAutomatically); err != nil {
		return "", err
	}

	env := []string{
		fmt.Sprintf("TARANTOOL_SLAB_ALLOC_ARENA=%s", formatMemsize(in.MemsizeGiB)),
		"TARANTOOL_USER_NAME=tarantool",
	}
	if in.Password != "" {
		env = append(env, "TARANTOOL_USER_PASSWORD="+in.Password)
	}
	if replicationSourceIP != "" {
		env = append(env, fmt.Sprintf("TARANTOOL_REPLICATION_SOURCE=%s:%d", replicationSourceIP, tarantoolPort))
	}

	name := groupID + "_" + string(instance)
	spec := hostclient.CreateContainerSpec{
		Image:       image,
		Name:        name,
		Env:         env,
		Labels:      map[string]string{"group_id": groupID, "instance": string(instance), "tarantool": ""},
		NetworkName: networkName,
		IPv4:        ipv4,
	}
	id, err := client.CreateContainer(ctx, spec)
	if err != nil {
		return "", errs.Wrap(errs.ExecFailed, err, "create container "+name)
	}
	return id, nil
}

// enableReplication execs the in-image configuration helper to point
// containerID's replication source at peerAddr, retried up to 5 times
// with a 1s delay: the container's tarantool process may not have
// finished starting by the time Create reaches this step, grounded on
// original_source/tarantool.py's enable_replication loop, which runs
// this same exec for both instances rather than just one.
func (e *Engine) enableReplication(ctx context.Context, client HostClient, containerID, peerAddr string) error {
	cmd := configureCmd("TARANTOOL_REPLICATION_SOURCE", fmt.Sprintf("%s:%d", peerAddr, tarantoolPort))
	err := retry(5, time.Second, func() error {
		code, err := client.Exec(ctx, containerID, cmd)
		if err != nil {
			return err
		}
		if code != 0 {
			return fmt.Errorf("enable-replication exited %d", code)
		}
		return nil
	})
	if err != nil {
		metrics.ReplicationEnableAttemptsTotal.WithLabelValues("failure").Inc()
		return errs.Wrap(errs.ExecFailed, err, "enable replication")
	}
	metrics.ReplicationEnableAttemptsTotal.WithLabelValues("success").Inc()
	return nil
}
