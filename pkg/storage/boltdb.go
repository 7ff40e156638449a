package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/cuemby/tarantoolctl/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketKV       = []byte("kv")
	bucketServices = []byte("services")
	bucketHosts    = []byte("hosts")
	bucketCA       = []byte("ca")

	caKey = []byte("root")
)

// BoltStore implements Store using bbolt, one bucket per concern instead
// of the teacher's one bucket per cluster entity type.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "coordstore.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketKV, bucketServices, bucketHosts, bucketCA} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) PutKV(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), value)
	})
}

func (s *BoltStore) GetKV(key string) ([]byte, bool, error) {
	var value []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketKV).Get([]byte(key))
		if v == nil {
			return nil
		}
		ok = true
		value = append([]byte(nil), v...)
		return nil
	})
	return value, ok, err
}

func (s *BoltStore) DeleteKey(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketKV).Delete([]byte(key))
	})
}

func (s *BoltStore) DeletePrefix(prefix string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		var toDelete [][]byte
		err := b.ForEach(func(k, _ []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				toDelete = append(toDelete, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListPrefix(prefix string) (map[string]string, error) {
	result := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketKV)
		return b.ForEach(func(k, v []byte) error {
			if strings.HasPrefix(string(k), prefix) {
				result[string(k)] = string(v)
			}
			return nil
		})
	})
	return result, err
}

func (s *BoltStore) PutService(rec *types.ServiceRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketServices).Put([]byte(rec.ServiceID), data)
	})
}

func (s *BoltStore) GetService(id string) (*types.ServiceRecord, bool, error) {
	var rec *types.ServiceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketServices).Get([]byte(id))
		if v == nil {
			return nil
		}
		rec = &types.ServiceRecord{}
		return json.Unmarshal(v, rec)
	})
	return rec, rec != nil, err
}

func (s *BoltStore) DeleteService(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).Delete([]byte(id))
	})
}

func (s *BoltStore) ListServices() ([]*types.ServiceRecord, error) {
	var recs []*types.ServiceRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(_, v []byte) error {
			var rec types.ServiceRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			recs = append(recs, &rec)
			return nil
		})
	})
	return recs, err
}

func (s *BoltStore) PutHost(h *types.Host) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketHosts).Put([]byte(h.Addr), data)
	})
}

func (s *BoltStore) ListHosts() ([]*types.Host, error) {
	var hosts []*types.Host
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketHosts).ForEach(func(_, v []byte) error {
			var h types.Host
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			hosts = append(hosts, &h)
			return nil
		})
	})
	return hosts, err
}

func (s *BoltStore) SaveCA(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCA).Put(caKey, data)
	})
}

func (s *BoltStore) GetCA() ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketCA).Get(caKey)
		if v == nil {
			return fmt.Errorf("no CA data found")
		}
		data = append([]byte(nil), v...)
		return nil
	})
	return data, err
}
