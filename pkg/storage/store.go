// Package storage is the durable, bbolt-backed state behind the
// coordination store's raft FSM (pkg/coordstore) and the certificate
// authority (pkg/security). It knows nothing about raft, consensus, or
// the wire format of coordination-store commands; it is a plain
// key/value and record store, generalized from the teacher's
// bucket-per-entity BoltStore to a bucket-per-concern KV tree store.
package storage

import "github.com/cuemby/tarantoolctl/pkg/types"

// Store is the durable state a coordination-store FSM applies commands
// against.
type Store interface {
	// PutKV writes a single key in the tarantool/* KV tree.
	PutKV(key string, value []byte) error
	// GetKV reads a single key. ok is false if the key is absent.
	GetKV(key string) (value []byte, ok bool, err error)
	// DeleteKey removes a single key.
	DeleteKey(key string) error
	// DeletePrefix removes every key under prefix (a "recurse" delete).
	DeletePrefix(prefix string) error
	// ListPrefix returns every key under prefix (a "recurse" get).
	ListPrefix(prefix string) (map[string]string, error)

	// PutService upserts a service registration.
	PutService(rec *types.ServiceRecord) error
	// GetService fetches a service registration by id.
	GetService(id string) (*types.ServiceRecord, bool, error)
	// DeleteService removes a service registration.
	DeleteService(id string) error
	// ListServices returns every registered service.
	ListServices() ([]*types.ServiceRecord, error)

	// PutHost upserts a discovered container-host record.
	PutHost(h *types.Host) error
	// ListHosts returns every discovered container-host record.
	ListHosts() ([]*types.Host, error)

	// SaveCA persists the certificate authority's serialized key material.
	SaveCA(data []byte) error
	// GetCA loads the certificate authority's serialized key material.
	GetCA() ([]byte, error)

	Close() error
}
