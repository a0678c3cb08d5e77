// Package pgvector stores and queries vector documents in PostgreSQL
// using the pgvector extension. Documents live in a single table keyed
// by (tenant_id, entity_id, record_id); similarity is cosine distance
// over an HNSW index.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy/vector"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

const tableName = "search_vectors"

// Driver implements vector.Driver over an externally-owned pgxpool.Pool.
// The pool's lifecycle belongs to the caller; Close is intentionally
// absent.
type Driver struct {
	pool *pgxpool.Pool
}

// New creates a Driver using an existing pool
func New(pool *pgxpool.Pool) *Driver {
	return &Driver{pool: pool}
}

// Connect dials PostgreSQL and returns a driver owning a fresh pool.
// The returned cleanup closes the pool.
func Connect(ctx context.Context, databaseURL string) (*Driver, func(), error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	cfg.MaxConnLifetime = time.Hour
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return New(pool), pool.Close, nil
}

// Init creates the extension, table and indexes for vectors of the
// given dimension. All statements are idempotent.
func (d *Driver) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			tenant_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			organization_id TEXT,
			presenter JSONB,
			url TEXT NOT NULL DEFAULT '',
			links JSONB,
			primary_link_href TEXT NOT NULL DEFAULT '',
			checksum TEXT NOT NULL DEFAULT '',
			embedding vector(%d),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (tenant_id, entity_id, record_id)
		)`, tableName, dimension),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx
			ON %[1]s USING hnsw (embedding vector_cosine_ops)`, tableName),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_tenant_entity_idx
			ON %[1]s (tenant_id, entity_id)`, tableName),
	}
	for _, stmt := range stmts {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return wrapErr("init", err)
		}
	}
	return nil
}

// Query runs a cosine ANN search. The organization filter is strict
// equality and is omitted entirely when the filter value is empty.
func (d *Driver) Query(ctx context.Context, req vector.QueryRequest) ([]vector.QueryResult, error) {
	args := []any{pgv.NewVector(req.Vector)}
	clauses := []string{}

	if req.Filter.TenantID != "" {
		args = append(args, req.Filter.TenantID)
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", len(args)))
	}
	if req.Filter.OrganizationID != "" {
		args = append(args, req.Filter.OrganizationID)
		clauses = append(clauses, fmt.Sprintf("organization_id = $%d", len(args)))
	}
	if len(req.Filter.EntityIDs) > 0 {
		args = append(args, req.Filter.EntityIDs)
		clauses = append(clauses, fmt.Sprintf("entity_id = ANY($%d)", len(args)))
	}

	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	args = append(args, limit)

	sql := fmt.Sprintf(`SELECT entity_id, record_id, COALESCE(organization_id, ''),
			presenter, url, links, primary_link_href, checksum,
			1 - (embedding <=> $1) AS score
		FROM %s%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, tableName, where, len(args))

	rows, err := d.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, wrapErr("query", err)
	}
	defer rows.Close()

	var results []vector.QueryResult
	for rows.Next() {
		var (
			r             vector.QueryResult
			entityID      string
			presenterJSON []byte
			linksJSON     []byte
		)
		if err := rows.Scan(&entityID, &r.RecordID, &r.OrganizationID,
			&presenterJSON, &r.URL, &linksJSON, &r.PrimaryLinkHref, &r.Checksum, &r.Score); err != nil {
			return nil, wrapErr("scan", err)
		}
		r.EntityID = types.EntityID(entityID)
		if len(presenterJSON) > 0 {
			var p types.Presenter
			if err := json.Unmarshal(presenterJSON, &p); err == nil {
				r.Presenter = &p
			}
		}
		if len(linksJSON) > 0 {
			_ = json.Unmarshal(linksJSON, &r.Links)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("query", err)
	}
	return results, nil
}

// Upsert writes documents in one batch; conflicting keys are replaced
func (d *Driver) Upsert(ctx context.Context, docs []vector.Doc) error {
	if len(docs) == 0 {
		return nil
	}
	sql := fmt.Sprintf(`INSERT INTO %s
			(tenant_id, entity_id, record_id, organization_id, presenter, url,
			 links, primary_link_href, checksum, embedding, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (tenant_id, entity_id, record_id) DO UPDATE SET
			organization_id = EXCLUDED.organization_id,
			presenter = EXCLUDED.presenter,
			url = EXCLUDED.url,
			links = EXCLUDED.links,
			primary_link_href = EXCLUDED.primary_link_href,
			checksum = EXCLUDED.checksum,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, tableName)

	batch := &pgx.Batch{}
	for _, doc := range docs {
		presenterJSON, err := marshalOrNil(doc.Presenter)
		if err != nil {
			return fmt.Errorf("failed to encode presenter: %w", err)
		}
		linksJSON, err := marshalOrNil(doc.Links)
		if err != nil {
			return fmt.Errorf("failed to encode links: %w", err)
		}
		batch.Queue(sql,
			doc.TenantID, string(doc.EntityID), doc.RecordID, doc.OrganizationID,
			presenterJSON, doc.URL, linksJSON, doc.PrimaryLinkHref, doc.Checksum,
			pgv.NewVector(doc.Vector))
	}
	if err := d.pool.SendBatch(ctx, batch).Close(); err != nil {
		return wrapErr("upsert", err)
	}
	return nil
}

// Delete removes one document. Deleting an absent row is a no-op.
func (d *Driver) Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND entity_id = $2 AND record_id = $3`, tableName)
	if _, err := d.pool.Exec(ctx, sql, tenantID, string(entityID), recordID); err != nil {
		return wrapErr("delete", err)
	}
	return nil
}

// Purge removes every document of one entity within a tenant
func (d *Driver) Purge(ctx context.Context, entityID types.EntityID, tenantID string) error {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE tenant_id = $1 AND entity_id = $2`, tableName)
	if _, err := d.pool.Exec(ctx, sql, tenantID, string(entityID)); err != nil {
		return wrapErr("purge", err)
	}
	return nil
}

// Checksums returns stored checksums for the given record ids so callers
// can skip re-embedding unchanged records.
func (d *Driver) Checksums(ctx context.Context, entityID types.EntityID, tenantID string, recordIDs []string) (map[string]string, error) {
	if len(recordIDs) == 0 {
		return map[string]string{}, nil
	}
	sql := fmt.Sprintf(`SELECT record_id, checksum FROM %s
		WHERE tenant_id = $1 AND entity_id = $2 AND record_id = ANY($3)`, tableName)
	rows, err := d.pool.Query(ctx, sql, tenantID, string(entityID), recordIDs)
	if err != nil {
		return nil, wrapErr("checksums", err)
	}
	defer rows.Close()

	out := make(map[string]string, len(recordIDs))
	for rows.Next() {
		var id, sum string
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, wrapErr("scan", err)
		}
		out[id] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("checksums", err)
	}
	return out, nil
}

func marshalOrNil(v any) ([]byte, error) {
	switch x := v.(type) {
	case *types.Presenter:
		if x == nil {
			return nil, nil
		}
	case []types.Link:
		if len(x) == 0 {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func wrapErr(op string, err error) error {
	return fmt.Errorf("%w: pgvector %s: %v", strategy.ErrUnavailable, op, err)
}
