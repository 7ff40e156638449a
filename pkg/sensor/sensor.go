// Package sensor periodically materializes the coordination store and the
// container hosts it knows about into a single immutable snapshot that the
// rest of the control plane reads from.
package sensor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/log"
	"github.com/cuemby/tarantoolctl/pkg/metrics"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/rs/zerolog"
)

// CoordNode is one member of the coordination store's catalog of nodes.
type CoordNode struct {
	Name string
	Addr string
}

// HealthEntry is one entry of a coordination-store health_service response:
// a service registration plus its aggregated checks and the node it lives
// on.
type HealthEntry struct {
	ServiceID   string
	ServiceName string
	Tags        []string
	Address     string
	Port        int
	NodeAddr    string
	NodeName    string
	Checks      []types.CheckStatus
}

// AllPassing reports whether every check on this entry is passing, the
// gate the sensor applies before treating a "docker" entry as a live host
// (§4.C).
func (e HealthEntry) AllPassing() bool {
	for _, c := range e.Checks {
		if c != types.StatusPassing {
			return false
		}
	}
	return true
}

// Status aggregates the entry's checks per Invariant 7.
func (e HealthEntry) Status() types.CheckStatus {
	return types.AggregateStatus(e.Checks)
}

// HostInfo is the subset of a container host's self-reported info the
// allocator needs.
type HostInfo struct {
	CPUs      int
	MemoryGiB float64
}

// CoordStore is the subset of the coordination-store client the sensor
// depends on (§4.A).
type CoordStore interface {
	KVGetPrefix(ctx context.Context, prefix string) (map[string]string, error)
	CatalogServices(ctx context.Context) ([]string, error)
	CatalogNodes(ctx context.Context) ([]CoordNode, error)
	HealthService(ctx context.Context, name string) ([]HealthEntry, error)
}

// HostClient is the subset of the container-host client the sensor depends
// on to size and enumerate a host's containers (§4.B).
type HostClient interface {
	ListContainers(ctx context.Context, addr string) ([]types.Container, error)
	Info(ctx context.Context, addr string) (HostInfo, error)
}

// Snapshot is the immutable result of one refresh (§3). Readers obtain a
// stable reference; the sensor never mutates a Snapshot once published.
type Snapshot struct {
	TakenAt          time.Time
	KV               map[string]string
	Settings         map[string]string
	ServicesByName   map[string][]HealthEntry
	ContainersByHost map[string][]types.Container
	HostInfoByHost   map[string]HostInfo
	Nodes            []CoordNode
}

// Sensor owns the current Snapshot and refreshes it, synchronously on
// demand or on a 10s background timer (§4.C).
type Sensor struct {
	store   CoordStore
	hosts   HostClient
	logger  zerolog.Logger
	current atomic.Pointer[Snapshot]
	stopCh  chan struct{}
}

// New creates a Sensor. Call Update once before Start to populate the
// first snapshot.
func New(store CoordStore, hosts HostClient) *Sensor {
	return &Sensor{
		store:  store,
		hosts:  hosts,
		logger: log.WithComponent("sensor"),
		stopCh: make(chan struct{}),
	}
}

// Current returns the most recently published snapshot, or nil if Update
// has never succeeded.
func (s *Sensor) Current() *Snapshot {
	return s.current.Load()
}

// Start begins the 10s background refresh loop (timer_update).
func (s *Sensor) Start() {
	go s.run()
}

// Stop halts the background refresh loop.
func (s *Sensor) Stop() {
	close(s.stopCh)
}

func (s *Sensor) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Update(context.Background()); err != nil {
				s.logger.Error().Err(err).Msg("snapshot refresh failed, backing off")
				time.Sleep(10 * time.Second)
			}
		case <-s.stopCh:
			return
		}
	}
}

// Update performs one synchronous full refresh and atomically replaces the
// published snapshot (§4.C, steps 1-4).
func (s *Sensor) Update(ctx context.Context) error {
	timer := metrics.NewTimer()
	status := "success"
	defer func() {
		timer.ObserveDuration(metrics.SensorRefreshDuration)
		metrics.SensorRefreshTotal.WithLabelValues(status).Inc()
	}()

	kv, err := s.store.KVGetPrefix(ctx, "tarantool")
	if err != nil {
		status = "error"
		return err
	}
	settings, err := s.store.KVGetPrefix(ctx, "tarantool_settings")
	if err != nil {
		status = "error"
		return err
	}

	names, err := s.store.CatalogServices(ctx)
	if err != nil {
		status = "error"
		return err
	}

	servicesByName := make(map[string][]HealthEntry, len(names))
	for _, name := range names {
		entries, err := s.store.HealthService(ctx, name)
		if err != nil {
			status = "error"
			return err
		}
		servicesByName[name] = entries
	}

	nodes, err := s.store.CatalogNodes(ctx)
	if err != nil {
		status = "error"
		return err
	}

	containersByHost := make(map[string][]types.Container)
	hostInfoByHost := make(map[string]HostInfo)
	for _, entry := range servicesByName["docker"] {
		if !entry.AllPassing() {
			continue
		}

		addr := entry.Address
		if addr == "" {
			addr = entry.NodeAddr
		}

		containers, err := s.hosts.ListContainers(ctx, addr)
		if err != nil {
			s.logger.Warn().Err(err).Str("host", addr).Msg("failed to list containers on host")
			continue
		}
		info, err := s.hosts.Info(ctx, addr)
		if err != nil {
			s.logger.Warn().Err(err).Str("host", addr).Msg("failed to fetch host info")
			continue
		}

		containersByHost[entry.NodeAddr] = containers
		hostInfoByHost[entry.NodeAddr] = info
	}

	snapshot := &Snapshot{
		TakenAt:          time.Now(),
		KV:               kv,
		Settings:         settings,
		ServicesByName:   servicesByName,
		ContainersByHost: containersByHost,
		HostInfoByHost:   hostInfoByHost,
		Nodes:            nodes,
	}
	s.current.Store(snapshot)

	return nil
}
