package coordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/tarantoolctl/pkg/storage"
	"github.com/cuemby/tarantoolctl/pkg/types"
	"github.com/hashicorp/raft"
)

// Command is one coordination-store mutation committed through raft,
// grounded on pkg/manager/fsm.go's Command envelope and widened from
// cluster-entity CRUD to the KV/catalog/health operations of §4.A.
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

const (
	opKVPut             = "kv_put"
	opKVDelete          = "kv_delete"
	opRegisterService   = "register_service"
	opDeregisterService = "deregister_service"
	opRegisterCheck     = "register_check"
	opDeregisterCheck   = "deregister_check"
	opSetCheckStatus    = "set_check_status"
	opRegisterNode      = "register_node"
)

type kvPutData struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

type kvDeleteData struct {
	Prefix  string `json:"prefix"`
	Recurse bool   `json:"recurse"`
}

type checkData struct {
	ServiceID string      `json:"service_id"`
	Check     types.Check `json:"check"`
}

type deregisterCheckData struct {
	ServiceID string `json:"service_id"`
	CheckID   string `json:"check_id"`
}

type setCheckStatusData struct {
	ServiceID string            `json:"service_id"`
	CheckID   string            `json:"check_id"`
	Status    types.CheckStatus `json:"status"`
}

// fsm is the raft Finite State Machine backing a Store. It applies
// committed commands against a storage.Store and bumps a monotonic
// revision counter that Watch parks on, per pkg/manager/fsm.go's
// Apply/Snapshot/Restore shape (narrowed from cluster-entity CRUD to
// the KV tree plus service/check/node registration of §4.A).
type fsm struct {
	mu       sync.Mutex
	cond     *sync.Cond
	store    storage.Store
	revision uint64
}

func newFSM(store storage.Store) *fsm {
	f := &fsm{store: store}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Apply applies one committed raft log entry to the local store.
func (f *fsm) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.apply(cmd)
	if err == nil {
		f.revision++
		f.cond.Broadcast()
	}
	return err
}

func (f *fsm) apply(cmd Command) error {
	switch cmd.Op {
	case opKVPut:
		var d kvPutData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return err
		}
		return f.store.PutKV(d.Key, d.Value)

	case opKVDelete:
		var d kvDeleteData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return err
		}
		if d.Recurse {
			return f.store.DeletePrefix(d.Prefix)
		}
		return f.store.DeleteKey(d.Prefix)

	case opRegisterService:
		var rec types.ServiceRecord
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return err
		}
		return f.store.PutService(&rec)

	case opDeregisterService:
		var serviceID string
		if err := json.Unmarshal(cmd.Data, &serviceID); err != nil {
			return err
		}
		return f.store.DeleteService(serviceID)

	case opRegisterCheck:
		var d checkData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return err
		}
		rec, ok, err := f.store.GetService(d.ServiceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("register check: service %s not found", d.ServiceID)
		}
		rec.Checks = upsertCheck(rec.Checks, d.Check)
		return f.store.PutService(rec)

	case opDeregisterCheck:
		var d deregisterCheckData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return err
		}
		rec, ok, err := f.store.GetService(d.ServiceID)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rec.Checks = removeCheck(rec.Checks, d.CheckID)
		return f.store.PutService(rec)

	case opSetCheckStatus:
		var d setCheckStatusData
		if err := json.Unmarshal(cmd.Data, &d); err != nil {
			return err
		}
		rec, ok, err := f.store.GetService(d.ServiceID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("set check status: service %s not found", d.ServiceID)
		}
		for i, c := range rec.Checks {
			if c.ID == d.CheckID {
				rec.Checks[i].Status = d.Status
			}
		}
		return f.store.PutService(rec)

	case opRegisterNode:
		var h types.Host
		if err := json.Unmarshal(cmd.Data, &h); err != nil {
			return err
		}
		return f.store.PutHost(&h)

	default:
		return fmt.Errorf("unknown coordination-store command: %s", cmd.Op)
	}
}

func upsertCheck(checks []types.Check, check types.Check) []types.Check {
	for i, c := range checks {
		if c.ID == check.ID {
			checks[i] = check
			return checks
		}
	}
	return append(checks, check)
}

func removeCheck(checks []types.Check, checkID string) []types.Check {
	out := checks[:0]
	for _, c := range checks {
		if c.ID != checkID {
			out = append(out, c)
		}
	}
	return out
}

// waitForChange blocks until the revision differs from since, or ctx is
// done, returning the revision observed at wake. A since of 0 never
// blocks, as with a Consul index of 0. Grounded on §4.A's
// blocking-index kv_get: no library in the pack implements Consul-style
// blocking-index semantics, so this is built directly on sync.Cond, the
// stdlib primitive for "block until a shared counter changes."
func (f *fsm) waitForChange(ctx context.Context, since uint64) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if since == 0 || f.revision != since {
		return f.revision
	}

	woken := make(chan struct{})
	defer close(woken)
	go func() {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.cond.Broadcast()
			f.mu.Unlock()
		case <-woken:
		}
	}()

	for f.revision == since && ctx.Err() == nil {
		f.cond.Wait()
	}
	return f.revision
}

// snapshot is the raft.FSMSnapshot produced by fsm.Snapshot, grounded on
// pkg/manager/fsm.go's WarrenSnapshot, narrowed to the KV tree, service
// registrations, and node records.
type snapshot struct {
	KV       map[string]string      `json:"kv"`
	Services []*types.ServiceRecord `json:"services"`
	Hosts    []*types.Host          `json:"hosts"`
}

func (f *fsm) Snapshot() (raft.FSMSnapshot, error) {
	kv, err := f.store.ListPrefix("")
	if err != nil {
		return nil, fmt.Errorf("list kv for snapshot: %w", err)
	}
	services, err := f.store.ListServices()
	if err != nil {
		return nil, fmt.Errorf("list services for snapshot: %w", err)
	}
	hosts, err := f.store.ListHosts()
	if err != nil {
		return nil, fmt.Errorf("list hosts for snapshot: %w", err)
	}
	return &snapshot{KV: kv, Services: services, Hosts: hosts}, nil
}

func (f *fsm) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for key, value := range snap.KV {
		if err := f.store.PutKV(key, []byte(value)); err != nil {
			return fmt.Errorf("restore kv %s: %w", key, err)
		}
	}
	for _, rec := range snap.Services {
		if err := f.store.PutService(rec); err != nil {
			return fmt.Errorf("restore service %s: %w", rec.ServiceID, err)
		}
	}
	for _, h := range snap.Hosts {
		if err := f.store.PutHost(h); err != nil {
			return fmt.Errorf("restore host %s: %w", h.Addr, err)
		}
	}
	return nil
}

func (s *snapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *snapshot) Release() {}
