package lifecycle

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/hostclient"
	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/types"
)

// fakeCoordStore is an in-memory stand-in for *pkg/coordstore.Store,
// backed by plain maps guarded by one mutex, per the test-tooling design
// of the ambient stack. It has no watch form.
type fakeCoordStore struct {
	mu       sync.Mutex
	kv       map[string]string
	services map[string]*types.ServiceRecord
	nodes    []sensor.CoordNode
}

func newFakeCoordStore() *fakeCoordStore {
	return &fakeCoordStore{
		kv:       make(map[string]string),
		services: make(map[string]*types.ServiceRecord),
	}
}

func (f *fakeCoordStore) KVGetPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string)
	for k, v := range f.kv {
		if strings.HasPrefix(k, prefix) {
			out[k] = v
		}
	}
	return out, nil
}

func (f *fakeCoordStore) CatalogServices(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	var names []string
	for _, rec := range f.services {
		if !seen[rec.Name] {
			seen[rec.Name] = true
			names = append(names, rec.Name)
		}
	}
	return names, nil
}

func (f *fakeCoordStore) CatalogNodes(ctx context.Context) ([]sensor.CoordNode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sensor.CoordNode(nil), f.nodes...), nil
}

func (f *fakeCoordStore) HealthService(ctx context.Context, name string) ([]sensor.HealthEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var entries []sensor.HealthEntry
	for _, rec := range f.services {
		if rec.Name != name {
			continue
		}
		checks := make([]types.CheckStatus, len(rec.Checks))
		for i, c := range rec.Checks {
			checks[i] = c.Status
		}
		entries = append(entries, sensor.HealthEntry{
			ServiceID:   rec.ServiceID,
			ServiceName: rec.Name,
			Tags:        rec.Tags,
			Address:     rec.Addr,
			Port:        rec.Port,
			NodeAddr:    rec.Addr,
			NodeName:    rec.CoordNode,
			Checks:      checks,
		})
	}
	return entries, nil
}

func (f *fakeCoordStore) KVPut(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kv[key] = string(value)
	return nil
}

func (f *fakeCoordStore) KVDelete(ctx context.Context, prefix string, recurse bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !recurse {
		delete(f.kv, prefix)
		return nil
	}
	for k := range f.kv {
		if strings.HasPrefix(k, prefix) {
			delete(f.kv, k)
		}
	}
	return nil
}

func (f *fakeCoordStore) RegisterService(ctx context.Context, rec *types.ServiceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.services[rec.ServiceID] = rec
	return nil
}

func (f *fakeCoordStore) DeregisterService(ctx context.Context, serviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.services, serviceID)
	return nil
}

func (f *fakeCoordStore) RegisterCheck(ctx context.Context, serviceID string, check types.Check) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.services[serviceID]
	if !ok {
		return errs.New(errs.NotFound, "service "+serviceID+" not found")
	}
	for i, c := range rec.Checks {
		if c.ID == check.ID {
			rec.Checks[i] = check
			return nil
		}
	}
	rec.Checks = append(rec.Checks, check)
	return nil
}

func (f *fakeCoordStore) DeregisterCheck(ctx context.Context, serviceID, checkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.services[serviceID]
	if !ok {
		return nil
	}
	out := rec.Checks[:0]
	for _, c := range rec.Checks {
		if c.ID != checkID {
			out = append(out, c)
		}
	}
	rec.Checks = out
	return nil
}

// fakeContainer is one container tracked by fakeHostClient.
type fakeContainer struct {
	id          string
	name        string
	image       string
	env         []string
	labels      map[string]string
	mounts      []types.Mount
	networkName string
	ipv4        string
	running     bool
	archives    map[string][]byte
}

// fakeHostClient is an in-memory stand-in for *pkg/hostclient.Client.
type fakeHostClient struct {
	mu         sync.Mutex
	addr       string
	containers map[string]*fakeContainer
	networks   map[string]bool
	nextID     int
	execFunc   func(containerID string, cmd []string) (int, error)
}

func newFakeHostClient(addr string) *fakeHostClient {
	return &fakeHostClient{
		addr:       addr,
		containers: make(map[string]*fakeContainer),
		networks:   make(map[string]bool),
	}
}

func (f *fakeHostClient) EnsureImage(ctx context.Context, image string) error {
	return nil
}

func (f *fakeHostClient) Networks(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for n := range f.networks {
		names = append(names, n)
	}
	return names, nil
}

func (f *fakeHostClient) CreateNetwork(ctx context.Context, name, subnet string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks[name] = true
	return name, nil
}

func (f *fakeHostClient) CreateContainer(ctx context.Context, spec hostclient.CreateContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := spec.Name + "-" + strconv.Itoa(f.nextID)
	f.containers[id] = &fakeContainer{
		id:          id,
		name:        spec.Name,
		image:       spec.Image,
		env:         spec.Env,
		labels:      spec.Labels,
		mounts:      spec.Mounts,
		networkName: spec.NetworkName,
		ipv4:        spec.IPv4,
		archives:    make(map[string][]byte),
	}
	return id, nil
}

func (f *fakeHostClient) ConnectToNetwork(ctx context.Context, networkID, containerID, ipv4 string) error {
	return nil
}

func (f *fakeHostClient) StartContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return errs.New(errs.NotFound, "container "+id+" not found")
	}
	c.running = true
	return nil
}

func (f *fakeHostClient) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil
	}
	c.running = false
	return nil
}

func (f *fakeHostClient) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return errs.New(errs.NotFound, "container "+id+" not found")
	}
	c.running = true
	return nil
}

func (f *fakeHostClient) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *fakeHostClient) InspectContainer(ctx context.Context, id string) (*types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return nil, errs.New(errs.NotFound, "container "+id+" not found")
	}
	state := "exited"
	if c.running {
		state = "running"
	}
	return &types.Container{
		ID:          c.id,
		Name:        c.name,
		Labels:      labelTags(c.labels),
		HostAddr:    f.addr,
		Networks:    map[string]string{c.networkName: c.ipv4},
		State:       state,
		Mounts:      c.mounts,
		Environment: envToMap(c.env),
	}, nil
}

// labelTags mirrors pkg/hostclient.Client's wire-decoding behavior: a
// container's tag list is the key set of its label map, not the values.
func labelTags(labels map[string]string) []string {
	tags := make([]string, 0, len(labels))
	for k := range labels {
		tags = append(tags, k)
	}
	return tags
}

func (f *fakeHostClient) Exec(ctx context.Context, containerID string, cmd []string) (int, error) {
	f.mu.Lock()
	fn := f.execFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(containerID, cmd)
	}
	return 0, nil
}

func (f *fakeHostClient) PutArchive(ctx context.Context, containerID, dest string, tarBytes []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return errs.New(errs.NotFound, "container "+containerID+" not found")
	}
	c.archives[dest] = tarBytes
	return nil
}

func (f *fakeHostClient) GetArchive(ctx context.Context, containerID, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return nil, errs.New(errs.NotFound, "container "+containerID+" not found")
	}
	return []byte("sasldb-of-" + c.id), nil
}

func envToMap(env []string) map[string]string {
	out := make(map[string]string, len(env))
	for _, kv := range env {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

// fakeSensorHosts adapts a set of per-host fakeHostClients to
// sensor.HostClient, the addr-parameterized surface the sensor polls
// (distinct from lifecycle.HostClient's per-host-scoped surface).
type fakeSensorHosts struct {
	byAddr map[string]*fakeHostClient
	info   map[string]sensor.HostInfo
}

func (f *fakeSensorHosts) ListContainers(ctx context.Context, addr string) ([]types.Container, error) {
	c, ok := f.byAddr[addr]
	if !ok {
		return nil, nil
	}
	var out []types.Container
	for _, fc := range c.containers {
		state := "exited"
		if fc.running {
			state = "running"
		}
		out = append(out, types.Container{
			ID:       fc.id,
			Name:     fc.name,
			Labels:   labelTags(fc.labels),
			HostAddr: addr,
			Networks: map[string]string{fc.networkName: fc.ipv4},
			State:    state,
			Mounts:   fc.mounts,
		})
	}
	return out, nil
}

func (f *fakeSensorHosts) Info(ctx context.Context, addr string) (sensor.HostInfo, error) {
	return f.info[addr], nil
}

// fakeIPPool hands out sequential addresses for tests.
type fakeIPPool struct {
	mu   sync.Mutex
	next int
}

func (p *fakeIPPool) AllocateIP() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return "10.0.0." + strconv.Itoa(p.next), nil
}
