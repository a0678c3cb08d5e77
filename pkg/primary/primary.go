// Package primary abstracts the primary row store that indexing reads
// from. The search side never writes primary data; it pages rows out for
// indexing and resolves single rows for on-demand refresh.
package primary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// QueryOptions pages rows of one entity within a tenant scope
type QueryOptions struct {
	TenantID       string
	OrganizationID string

	// Page is 1-based.
	Page     int
	PageSize int

	// IncludeCustomFields expands custom-field columns into the row map
	// under their cf: prefix.
	IncludeCustomFields bool
}

// Page is one page of rows plus the total row count for the scope
type Page struct {
	Items []map[string]any
	Total int
}

// QueryEngine reads rows from the primary store
type QueryEngine interface {
	// Query returns one page of rows for the entity. Row maps must carry
	// an "id" key.
	Query(ctx context.Context, entityID types.EntityID, opts QueryOptions) (*Page, error)

	// Get returns a single row by id, or ok=false when absent.
	Get(ctx context.Context, entityID types.EntityID, recordID string, opts QueryOptions) (map[string]any, bool, error)
}

// MemoryEngine is an in-memory QueryEngine for tests and local runs
type MemoryEngine struct {
	mu   sync.RWMutex
	rows map[types.EntityID][]map[string]any
}

// NewMemoryEngine creates an empty engine
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{rows: map[types.EntityID][]map[string]any{}}
}

// Put inserts or replaces a row, matching on its "id" value
func (m *MemoryEngine) Put(entityID types.EntityID, row map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, _ := row["id"].(string)
	for i, existing := range m.rows[entityID] {
		if eid, _ := existing["id"].(string); eid == id && id != "" {
			m.rows[entityID][i] = row
			return
		}
	}
	m.rows[entityID] = append(m.rows[entityID], row)
}

// Remove deletes a row by id
func (m *MemoryEngine) Remove(entityID types.EntityID, recordID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[entityID]
	for i, row := range rows {
		if id, _ := row["id"].(string); id == recordID {
			m.rows[entityID] = append(rows[:i], rows[i+1:]...)
			return
		}
	}
}

// Query implements QueryEngine. Rows are ordered by id for stable paging.
func (m *MemoryEngine) Query(_ context.Context, entityID types.EntityID, opts QueryOptions) (*Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []map[string]any
	for _, row := range m.rows[entityID] {
		if !rowInScope(row, opts) {
			continue
		}
		matched = append(matched, row)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, _ := matched[i]["id"].(string)
		b, _ := matched[j]["id"].(string)
		return a < b
	})

	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > len(matched) {
		start = len(matched)
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}

	items := make([]map[string]any, end-start)
	for i, row := range matched[start:end] {
		items[i] = cloneRow(row, opts.IncludeCustomFields)
	}
	return &Page{Items: items, Total: len(matched)}, nil
}

// Get implements QueryEngine
func (m *MemoryEngine) Get(_ context.Context, entityID types.EntityID, recordID string, opts QueryOptions) (map[string]any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows[entityID] {
		if id, _ := row["id"].(string); id != recordID {
			continue
		}
		if !rowInScope(row, opts) {
			continue
		}
		return cloneRow(row, opts.IncludeCustomFields), true, nil
	}
	return nil, false, nil
}

func rowInScope(row map[string]any, opts QueryOptions) bool {
	if row["deleted_at"] != nil {
		return false
	}
	if opts.TenantID != "" {
		if tid, _ := row["tenant_id"].(string); tid != opts.TenantID {
			return false
		}
	}
	if opts.OrganizationID != "" {
		org, _ := row["organization_id"].(string)
		if org != "" && org != opts.OrganizationID {
			return false
		}
	}
	return true
}

func cloneRow(row map[string]any, includeCustomFields bool) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if !includeCustomFields && strings.HasPrefix(k, "cf:") {
			continue
		}
		out[k] = v
	}
	return out
}

// RecordID extracts and validates the row's id
func RecordID(row map[string]any) (string, error) {
	id, _ := row["id"].(string)
	if id == "" {
		return "", fmt.Errorf("row is missing id")
	}
	return id, nil
}
