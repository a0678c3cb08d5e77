package token

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Store persists per-record token hash sets and answers set-overlap
// queries scoped to one tenant
type Store interface {
	// ReplaceTokens atomically swaps the record's token set. An empty
	// hash set removes the record.
	ReplaceTokens(ctx context.Context, record *types.Record, hashes []string) error

	// DeleteTokens removes the record's token set.
	DeleteTokens(ctx context.Context, entityID types.EntityID, recordID, tenantID string) error

	// PurgeEntity removes every token set of one entity within a tenant.
	PurgeEntity(ctx context.Context, entityID types.EntityID, tenantID string) error

	// Match returns records whose stored token set intersects the query
	// hashes in at least minMatches positions, ordered by match count
	// descending.
	Match(ctx context.Context, tenantID string, queryHashes []string, opts MatchOptions) ([]Match, error)

	Close() error
}

// MatchOptions narrows a token match query
type MatchOptions struct {
	OrganizationID string
	EntityTypes    []types.EntityID
	MinMatches     int
	Limit          int
}

// Match is one record returned by a token query
type Match struct {
	EntityID       types.EntityID
	RecordID       string
	OrganizationID string
	Matched        int
}

var bucketTokens = []byte("tokens")

// tokenRow is the stored value for one record
type tokenRow struct {
	OrganizationID string   `json:"organizationId,omitempty"`
	Hashes         []string `json:"hashes"`
}

// BoltStore implements Store on a BoltDB file. Keys are
// "<tenant>\x00<entity>\x00<record>" so tenant and entity scans are
// prefix scans; tenant isolation is structural.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the token database inside dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "tokens.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTokens)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// ReplaceTokens implements Store. Delete-then-insert under the row key
// keeps duplicate indexing convergent.
func (s *BoltStore) ReplaceTokens(_ context.Context, record *types.Record, hashes []string) error {
	key := rowKey(record.TenantID, record.EntityID, record.RecordID)

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		if err := b.Delete(key); err != nil {
			return err
		}
		if len(hashes) == 0 {
			return nil
		}
		data, err := json.Marshal(tokenRow{
			OrganizationID: record.OrganizationID,
			Hashes:         hashes,
		})
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

// DeleteTokens implements Store
func (s *BoltStore) DeleteTokens(_ context.Context, entityID types.EntityID, recordID, tenantID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete(rowKey(tenantID, entityID, recordID))
	})
}

// PurgeEntity implements Store
func (s *BoltStore) PurgeEntity(_ context.Context, entityID types.EntityID, tenantID string) error {
	prefix := append(rowKey(tenantID, entityID, ""), nil...)

	return s.db.Update(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTokens).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

// Match implements Store
func (s *BoltStore) Match(_ context.Context, tenantID string, queryHashes []string, opts MatchOptions) ([]Match, error) {
	if len(queryHashes) == 0 {
		return nil, nil
	}

	query := make(map[string]bool, len(queryHashes))
	for _, h := range queryHashes {
		query[h] = true
	}

	entities := make(map[types.EntityID]bool, len(opts.EntityTypes))
	for _, e := range opts.EntityTypes {
		entities[e] = true
	}

	minMatches := opts.MinMatches
	if minMatches < 1 {
		minMatches = 1
	}

	prefix := []byte(tenantID + "\x00")
	var matches []Match

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTokens).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			entityID, recordID, ok := splitKey(k)
			if !ok {
				continue
			}
			if len(entities) > 0 && !entities[entityID] {
				continue
			}

			var row tokenRow
			if err := json.Unmarshal(v, &row); err != nil {
				continue
			}
			if opts.OrganizationID != "" && row.OrganizationID != "" && row.OrganizationID != opts.OrganizationID {
				continue
			}

			matched := 0
			for _, h := range row.Hashes {
				if query[h] {
					matched++
				}
			}
			if matched >= minMatches {
				matches = append(matches, Match{
					EntityID:       entityID,
					RecordID:       recordID,
					OrganizationID: row.OrganizationID,
					Matched:        matched,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tokens: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Matched > matches[j].Matched
	})
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

func rowKey(tenantID string, entityID types.EntityID, recordID string) []byte {
	return []byte(tenantID + "\x00" + string(entityID) + "\x00" + recordID)
}

func splitKey(key []byte) (types.EntityID, string, bool) {
	parts := bytes.SplitN(key, []byte{0}, 3)
	if len(parts) != 3 {
		return "", "", false
	}
	return types.EntityID(parts[1]), string(parts[2]), true
}
