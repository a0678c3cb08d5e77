package modconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

// BoltService implements Service on a BoltDB file, giving the
// module-config store durability across process restarts. Namespaces map
// to buckets, keys to entries, values to JSON.
type BoltService struct {
	db *bolt.DB
}

// NewBoltService opens (or creates) the module-config database inside
// dataDir
func NewBoltService(dataDir string) (*BoltService, error) {
	dbPath := filepath.Join(dataDir, "modconfig.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &BoltService{db: db}, nil
}

// Close closes the database
func (s *BoltService) Close() error {
	return s.db.Close()
}

// GetValue implements Service
func (s *BoltService) GetValue(_ context.Context, namespace, key string, out any) (bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to read %s/%s: %w", namespace, key, err)
	}
	if data == nil {
		return false, nil
	}
	return true, decode(data, out)
}

// SetValue implements Service
func (s *BoltService) SetValue(_ context.Context, namespace, key string, value any) error {
	data, err := encode(value)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(namespace))
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", namespace, err)
		}
		return b.Put([]byte(key), data)
	})
}

// DeleteValue implements Service
func (s *BoltService) DeleteValue(_ context.Context, namespace, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(namespace))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(key))
	})
}

func encode(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	return data, nil
}

func decode(data []byte, out any) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	return nil
}
