package primary

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// SQLEngine is a QueryEngine over the entity_indexes projection table.
// The table stores one denormalized JSON document per record, so the
// search side never has to know the per-module table layout.
type SQLEngine struct {
	db *sqlx.DB
}

// NewSQLEngine wraps an existing sqlx handle
func NewSQLEngine(db *sqlx.DB) *SQLEngine {
	return &SQLEngine{db: db}
}

type engineRow struct {
	EntityID       string  `db:"entity_id"`
	OrganizationID *string `db:"organization_id"`
	Doc            []byte  `db:"doc"`
}

// Query implements QueryEngine. Rows are ordered by entity_id for stable
// paging; soft-deleted rows are excluded. Rows without an organization
// are visible to every organization of the tenant.
func (e *SQLEngine) Query(ctx context.Context, entityID types.EntityID, opts QueryOptions) (*Page, error) {
	where := ` FROM entity_indexes
		WHERE entity_type = ? AND tenant_id = ? AND deleted_at IS NULL`
	args := []any{string(entityID), opts.TenantID}
	if opts.OrganizationID != "" {
		where += ` AND (organization_id = ? OR organization_id IS NULL)`
		args = append(args, opts.OrganizationID)
	}

	var total int
	countQuery := e.db.Rebind(`SELECT COUNT(*)` + where)
	if err := e.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count entity_indexes rows: %w", err)
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	size := opts.PageSize
	if size <= 0 {
		size = 50
	}

	query := e.db.Rebind(`SELECT entity_id, organization_id, doc` + where +
		` ORDER BY entity_id LIMIT ? OFFSET ?`)
	args = append(args, size, (page-1)*size)

	var rows []engineRow
	if err := e.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to read entity_indexes rows: %w", err)
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		item, err := e.rowToItem(row, opts)
		if err != nil {
			continue
		}
		items = append(items, item)
	}
	return &Page{Items: items, Total: total}, nil
}

// Get implements QueryEngine
func (e *SQLEngine) Get(ctx context.Context, entityID types.EntityID, recordID string, opts QueryOptions) (map[string]any, bool, error) {
	query := `SELECT entity_id, organization_id, doc FROM entity_indexes
		WHERE entity_type = ? AND entity_id = ? AND tenant_id = ? AND deleted_at IS NULL`
	args := []any{string(entityID), recordID, opts.TenantID}
	if opts.OrganizationID != "" {
		query += ` AND (organization_id = ? OR organization_id IS NULL)`
		args = append(args, opts.OrganizationID)
	}

	var row engineRow
	err := e.db.GetContext(ctx, &row, e.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read entity_indexes row: %w", err)
	}
	item, err := e.rowToItem(row, opts)
	if err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// rowToItem decodes the stored document and overlays the identity
// columns so downstream code sees a consistent row shape
func (e *SQLEngine) rowToItem(row engineRow, opts QueryOptions) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(row.Doc, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode entity_indexes doc: %w", err)
	}
	item := cloneRow(doc, opts.IncludeCustomFields)
	item["id"] = row.EntityID
	item["tenant_id"] = opts.TenantID
	if row.OrganizationID != nil {
		item["organization_id"] = *row.OrganizationID
	}
	return item, nil
}
