// Package lifecycle implements the group lifecycle engine: create, delete,
// heal, rename, resize, reconfigure, upgrade, and set-password procedures
// composed from the coordination store, the container-host client, the
// sensor, projection, and the allocator (§4.F).
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/allocator"
	"github.com/cuemby/tarantoolctl/pkg/hostclient"
	"github.com/cuemby/tarantoolctl/pkg/projection"
	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

const (
	image              = "tarantool-cloud-tarantool:latest"
	tarantoolPort      = 3301
	configHelper       = "/opt/tarantool/bin/tarantool-configure"
	authSasldbPath     = "/opt/tarantool/auth.sasldb"
	deployBase         = "/opt/deploy"
	tarantoolSymlink   = "/opt/tarantool"
	serviceName        = "tarantool"
	defaultCallTimeout = 30 * time.Second
)

// CoordStore is the subset of pkg/coordstore.Store the lifecycle engine
// depends on, widening sensor.CoordStore with the writes a lifecycle
// operation performs directly on the KV tree and the service catalog.
type CoordStore interface {
	sensor.CoordStore
	KVPut(ctx context.Context, key string, value []byte) error
	KVDelete(ctx context.Context, prefix string, recurse bool) error
	RegisterService(ctx context.Context, rec *types.ServiceRecord) error
	DeregisterService(ctx context.Context, serviceID string) error
	RegisterCheck(ctx context.Context, serviceID string, check types.Check) error
	DeregisterCheck(ctx context.Context, serviceID, checkID string) error
}

// HostClient is the per-host container-engine operation surface a
// lifecycle step needs; *pkg/hostclient.Client satisfies it.
type HostClient interface {
	EnsureImage(ctx context.Context, image string) error
	Networks(ctx context.Context) ([]string, error)
	CreateNetwork(ctx context.Context, name, subnet string) (string, error)
	CreateContainer(ctx context.Context, spec hostclient.CreateContainerSpec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (*types.Container, error)
	Exec(ctx context.Context, containerID string, cmd []string) (int, error)
	PutArchive(ctx context.Context, containerID, dest string, tarBytes []byte) error
	GetArchive(ctx context.Context, containerID, path string) ([]byte, error)
}

// HostResolver returns a HostClient for a container host's address. Built
// by wrapping *pkg/hostclient.Pool.Client at construction time: Go has no
// covariant interface satisfaction, so Pool (whose Client method returns
// the concrete *hostclient.Client) cannot implement this signature
// directly, but a one-line closure bridges the two:
//
//	resolver := func(addr string) (lifecycle.HostClient, error) { return pool.Client(addr) }
type HostResolver func(addr string) (HostClient, error)

// IPPool allocates fresh IPv4 addresses for new instances, the external
// collaborator §1 names as out of scope beyond its allocate contract.
type IPPool interface {
	AllocateIP() (string, error)
}

// Engine wires the coordination store, the per-host resolver, the sensor,
// the allocator, and the IP pool into the lifecycle procedures of §4.F.
type Engine struct {
	coord     CoordStore
	hosts     HostResolver
	snr       *sensor.Sensor
	allocator *allocator.Allocator
	ips       IPPool

	locks sync.Map // group_id -> *sync.Mutex
}

// New creates an Engine.
func New(coord CoordStore, hosts HostResolver, snr *sensor.Sensor, alloc *allocator.Allocator, ips IPPool) *Engine {
	return &Engine{
		coord:     coord,
		hosts:     hosts,
		snr:       snr,
		allocator: alloc,
		ips:       ips,
	}
}

// lockGroup acquires the per-group_id mutex and returns a function to
// release it: lifecycle operations on the same group never run
// concurrently with each other, per §5 (Design Note grounded on
// pkg/manager's per-entity locking, narrowed to a sync.Map of mutexes).
func (e *Engine) lockGroup(groupID string) func() {
	v, _ := e.locks.LoadOrStore(groupID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// refresh forces a synchronous snapshot refresh and returns the group's
// freshly projected view, so the caller's next read observes the write it
// just made (§4.F: "each transition ends with a snapshot refresh").
func (e *Engine) refresh(ctx context.Context, groupID string) (*projection.View, error) {
	if err := e.snr.Update(ctx); err != nil {
		return nil, err
	}
	return projection.Project(e.snr.Current(), groupID), nil
}
