package primary

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// docChunkSize caps the ids per IN clause so batches stay inside
// statement parameter limits.
const docChunkSize = 500

// DocReader resolves the denormalized source documents for a set of
// records. The enricher uses it to re-materialize presenters for hits
// whose stored display fragments were redacted or never built.
type DocReader interface {
	// Docs returns record id -> source document for the ids that exist
	// and are visible in the scope. Missing ids are simply absent.
	Docs(ctx context.Context, entityID types.EntityID, scope types.Scope, recordIDs []string) (map[string]map[string]any, error)
}

// IndexReader reads documents from the entity_indexes projection table
type IndexReader struct {
	db *sqlx.DB
}

// NewIndexReader wraps an existing sqlx handle
func NewIndexReader(db *sqlx.DB) *IndexReader {
	return &IndexReader{db: db}
}

type indexRow struct {
	EntityID string `db:"entity_id"`
	Doc      []byte `db:"doc"`
}

// Docs implements DocReader. Reads are chunked; soft-deleted rows and
// rows outside the scope are excluded. Rows without an organization are
// visible to every organization of the tenant.
func (r *IndexReader) Docs(ctx context.Context, entityID types.EntityID, scope types.Scope, recordIDs []string) (map[string]map[string]any, error) {
	out := make(map[string]map[string]any, len(recordIDs))
	for start := 0; start < len(recordIDs); start += docChunkSize {
		end := start + docChunkSize
		if end > len(recordIDs) {
			end = len(recordIDs)
		}
		if err := r.readChunk(ctx, entityID, scope, recordIDs[start:end], out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *IndexReader) readChunk(ctx context.Context, entityID types.EntityID, scope types.Scope, ids []string, out map[string]map[string]any) error {
	query := `SELECT entity_id, doc FROM entity_indexes
		WHERE entity_type = ? AND tenant_id = ? AND deleted_at IS NULL
		AND entity_id IN (?)`
	args := []any{string(entityID), scope.TenantID, ids}
	if scope.OrganizationID != "" {
		query += ` AND (organization_id = ? OR organization_id IS NULL)`
		args = append(args, scope.OrganizationID)
	}

	query, expanded, err := sqlx.In(query, args...)
	if err != nil {
		return fmt.Errorf("failed to expand entity_indexes query: %w", err)
	}
	query = r.db.Rebind(query)

	var rows []indexRow
	if err := r.db.SelectContext(ctx, &rows, query, expanded...); err != nil {
		return fmt.Errorf("failed to read entity_indexes: %w", err)
	}
	for _, row := range rows {
		var doc map[string]any
		if err := json.Unmarshal(row.Doc, &doc); err != nil {
			continue
		}
		out[row.EntityID] = doc
	}
	return nil
}
