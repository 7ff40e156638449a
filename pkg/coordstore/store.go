// Package coordstore is the raft-replicated coordination store of §4.A: a
// hierarchical KV tree, a catalog of registered services and the nodes
// they live on, and per-service health checks. It plays the role Consul
// plays in the original deployment, narrowed to exactly the operations
// the rest of the control plane calls.
package coordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/tarantoolctl/pkg/errs"
	"github.com/cuemby/tarantoolctl/pkg/log"
	"github.com/cuemby/tarantoolctl/pkg/metrics"
	"github.com/cuemby/tarantoolctl/pkg/sensor"
	"github.com/cuemby/tarantoolctl/pkg/storage"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
	"github.com/rs/zerolog"
)

// Config configures a single coordination-store node, grounded on
// pkg/manager/manager.go's Config.
type Config struct {
	NodeID   string
	BindAddr string
	DataDir  string
}

// Store is one coordination-store node: a raft-replicated log fronting a
// local fsm, grounded on pkg/manager/manager.go's Manager (renamed and
// narrowed from cluster orchestration to the KV/catalog/health surface of
// §4.A).
type Store struct {
	nodeID   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	fsm    *fsm
	store  storage.Store
	logger zerolog.Logger
}

// New creates a Store backed by a bbolt database under cfg.DataDir. Call
// Bootstrap to initialize a fresh single-node cluster, or AddVoter from an
// existing leader to grow the cluster.
func New(cfg Config) (*Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	backing, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open backing store: %w", err)
	}

	return &Store{
		nodeID:   cfg.NodeID,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		fsm:      newFSM(backing),
		store:    backing,
		logger:   log.WithComponent("coordstore"),
	}, nil
}

// Bootstrap initializes a new single-node raft cluster rooted at this
// Store, per pkg/manager/manager.go's Bootstrap, narrowed to the timeouts
// and transport it configures (no DNS server, ingress proxy, or ACME
// client belong to a coordination store).
func (s *Store) Bootstrap() error {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(s.nodeID)
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond

	addr, err := net.ResolveTCPAddr("tcp", s.bindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(s.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(s.dataDir, 2, os.Stderr)
	if err != nil {
		return fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-log.db"))
	if err != nil {
		return fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(s.dataDir, "raft-stable.db"))
	if err != nil {
		return fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(config, s.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return fmt.Errorf("create raft: %w", err)
	}
	s.raft = r

	future := s.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: config.LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return err
	}
	s.logger.Info().Str("bind_addr", s.bindAddr).Msg("coordination store bootstrapped")
	return nil
}

// bootstrapWithRaft wires an already-constructed *raft.Raft directly onto
// this Store, the seam store_test.go uses to exercise the fsm against a
// real single-node raft cluster without opening a TCP listener.
func (s *Store) bootstrapWithRaft(r *raft.Raft) {
	s.raft = r
}

// AddVoter adds a server already reachable at address to the cluster.
// Must be called against the current leader.
func (s *Store) AddVoter(nodeID, address string) error {
	if s.raft == nil {
		return errs.New(errs.Precondition, "raft not initialized")
	}
	if s.raft.State() != raft.Leader {
		return errs.New(errs.Precondition, fmt.Sprintf("not the leader, current leader: %s", s.raft.Leader()))
	}
	future := s.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	return future.Error()
}

// IsLeader reports whether this node currently holds raft leadership.
func (s *Store) IsLeader() bool {
	return s.raft != nil && s.raft.State() == raft.Leader
}

// Close shuts down raft and the backing store.
func (s *Store) Close() error {
	if s.raft != nil {
		if err := s.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	return s.store.Close()
}

// apply marshals cmd and commits it through raft, per
// pkg/manager/manager.go's Manager.Apply.
func (s *Store) apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CoordStoreApplyDuration)

	if s.raft == nil {
		return errs.New(errs.Precondition, "raft not initialized")
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return errs.Wrap(errs.Validation, err, "marshal coordination-store command")
	}

	future := s.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return errs.Wrap(errs.Transient, err, "apply coordination-store command")
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// KVPut writes a single key, implementing §4.A's kv_put.
func (s *Store) KVPut(_ context.Context, key string, value []byte) error {
	data, err := json.Marshal(kvPutData{Key: key, Value: value})
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opKVPut, Data: data})
}

// KVDelete removes a single key (recurse=false) or every key under a
// prefix (recurse=true), implementing §4.A's kv_delete.
func (s *Store) KVDelete(_ context.Context, prefix string, recurse bool) error {
	data, err := json.Marshal(kvDeleteData{Prefix: prefix, Recurse: recurse})
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opKVDelete, Data: data})
}

// KVGetPrefix returns every key under prefix, implementing the
// non-blocking form of §4.A's kv_get and sensor.CoordStore.
func (s *Store) KVGetPrefix(_ context.Context, prefix string) (map[string]string, error) {
	return s.store.ListPrefix(prefix)
}

// Watch implements the blocking form of §4.A's kv_get: it returns once the
// revision differs from lastIndex or ctx is canceled, along with the
// prefix's current contents and the revision observed. A lastIndex of 0
// returns at once with the current contents.
func (s *Store) Watch(ctx context.Context, prefix string, lastIndex uint64) (uint64, map[string]string, error) {
	newIndex := s.fsm.waitForChange(ctx, lastIndex)
	if ctx.Err() != nil {
		return lastIndex, nil, ctx.Err()
	}
	entries, err := s.store.ListPrefix(prefix)
	if err != nil {
		return newIndex, nil, err
	}
	return newIndex, entries, nil
}

// CatalogServices returns the distinct service names registered, per
// §4.A's catalog_services.
func (s *Store) CatalogServices(_ context.Context) ([]string, error) {
	recs, err := s.store.ListServices()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, rec := range recs {
		seen[rec.Name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CatalogNodes returns every registered coordination node, per §4.A's
// catalog_nodes.
func (s *Store) CatalogNodes(_ context.Context) ([]sensor.CoordNode, error) {
	hosts, err := s.store.ListHosts()
	if err != nil {
		return nil, err
	}
	nodes := make([]sensor.CoordNode, 0, len(hosts))
	for _, h := range hosts {
		nodes = append(nodes, sensor.CoordNode{Name: h.CoordNode, Addr: h.Addr})
	}
	return nodes, nil
}

// HealthService returns every registration for a service name with its
// aggregated checks and node placement, per §4.A's health_service.
func (s *Store) HealthService(_ context.Context, name string) ([]sensor.HealthEntry, error) {
	recs, err := s.store.ListServices()
	if err != nil {
		return nil, err
	}
	hosts, err := s.store.ListHosts()
	if err != nil {
		return nil, err
	}
	addrByNode := make(map[string]string, len(hosts))
	for _, h := range hosts {
		addrByNode[h.CoordNode] = h.Addr
	}

	var entries []sensor.HealthEntry
	for _, rec := range recs {
		if rec.Name != name {
			continue
		}
		statuses := make([]types.CheckStatus, len(rec.Checks))
		for i, c := range rec.Checks {
			statuses[i] = c.Status
		}
		nodeAddr := addrByNode[rec.CoordNode]
		if nodeAddr == "" {
			nodeAddr = rec.Addr
		}
		entries = append(entries, sensor.HealthEntry{
			ServiceID:   rec.ServiceID,
			ServiceName: rec.Name,
			Tags:        rec.Tags,
			Address:     rec.Addr,
			Port:        rec.Port,
			NodeAddr:    nodeAddr,
			NodeName:    rec.CoordNode,
			Checks:      statuses,
		})
	}
	return entries, nil
}

// RegisterService registers a service, implementing §4.A's
// agent_service_register.
func (s *Store) RegisterService(_ context.Context, rec *types.ServiceRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opRegisterService, Data: data})
}

// DeregisterService removes a service, implementing §4.A's
// agent_service_deregister.
func (s *Store) DeregisterService(_ context.Context, serviceID string) error {
	data, err := json.Marshal(serviceID)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opDeregisterService, Data: data})
}

// RegisterCheck attaches (or replaces, by check ID) a health check on an
// already-registered service, implementing §4.A's agent_check_register.
func (s *Store) RegisterCheck(_ context.Context, serviceID string, check types.Check) error {
	data, err := json.Marshal(checkData{ServiceID: serviceID, Check: check})
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opRegisterCheck, Data: data})
}

// DeregisterCheck removes a health check from a service, implementing
// §4.A's agent_check_deregister.
func (s *Store) DeregisterCheck(_ context.Context, serviceID, checkID string) error {
	data, err := json.Marshal(deregisterCheckData{ServiceID: serviceID, CheckID: checkID})
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opDeregisterCheck, Data: data})
}

// SetCheckStatus updates the reported status of one check, the operation
// a coordination agent's own script runner would perform on a schedule;
// exposed here so a test double or a future script runner can drive it.
func (s *Store) SetCheckStatus(_ context.Context, serviceID, checkID string, status types.CheckStatus) error {
	data, err := json.Marshal(setCheckStatusData{ServiceID: serviceID, CheckID: checkID, Status: status})
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opSetCheckStatus, Data: data})
}

// RegisterNode registers (or updates) a coordination node / container
// host record.
func (s *Store) RegisterNode(_ context.Context, host types.Host) error {
	data, err := json.Marshal(host)
	if err != nil {
		return err
	}
	return s.apply(Command{Op: opRegisterNode, Data: data})
}

var _ sensor.CoordStore = (*Store)(nil)
