package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/open-mercato/open-mercato-sub000/pkg/embedding"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/tokenizer"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// Strategy is semantic approximate-nearest-neighbor search over a single
// vector driver. Availability tracks the embedding provider; driver
// initialization is serialized so concurrent first callers share one
// schema setup.
type Strategy struct {
	embeddings *embedding.Service
	driver     Driver

	initGroup singleflight.Group
	ready     atomic.Bool
}

// New creates a vector strategy
func New(embeddings *embedding.Service, driver Driver) *Strategy {
	return &Strategy{embeddings: embeddings, driver: driver}
}

// ID implements strategy.Strategy
func (s *Strategy) ID() string { return strategy.IDVector }

// Name implements strategy.Strategy
func (s *Strategy) Name() string { return "Semantic vector search" }

// Priority implements strategy.Strategy
func (s *Strategy) Priority() int { return 20 }

// IsAvailable reflects the embedding provider's configured state
func (s *Strategy) IsAvailable(context.Context) bool {
	return s.embeddings.Available()
}

// EnsureReady initializes the driver once. The first caller runs the
// initialization; concurrent callers await the same completion, and a
// failure lets the next caller retry.
func (s *Strategy) EnsureReady(ctx context.Context) error {
	if s.ready.Load() {
		return nil
	}
	_, err, _ := s.initGroup.Do("init", func() (any, error) {
		if err := s.driver.Init(ctx, s.embeddings.Dimension()); err != nil {
			return nil, err
		}
		s.ready.Store(true)
		return nil, nil
	})
	if err != nil {
		s.initGroup.Forget("init")
		return strategy.NewError(s.ID(), "ensure ready", err)
	}
	return nil
}

// Search embeds the query once and runs an ANN query. When a stored
// document carries a primary link, its href overrides the result URL.
func (s *Strategy) Search(ctx context.Context, query string, opts types.SearchOptions) ([]types.Result, error) {
	vec, err := s.embeddings.CreateEmbedding(ctx, query)
	if err != nil {
		return nil, strategy.NewError(s.ID(), "embed query", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}

	entityIDs := make([]string, len(opts.EntityTypes))
	for i, e := range opts.EntityTypes {
		entityIDs[i] = string(e)
	}

	hits, err := s.driver.Query(ctx, QueryRequest{
		Vector: vec,
		Limit:  limit,
		Filter: QueryFilter{
			TenantID:       opts.TenantID,
			OrganizationID: opts.OrganizationID,
			EntityIDs:      entityIDs,
		},
	})
	if err != nil {
		return nil, strategy.NewError(s.ID(), "query", err)
	}

	results := make([]types.Result, 0, len(hits))
	for _, hit := range hits {
		url := hit.URL
		if hit.PrimaryLinkHref != "" {
			url = hit.PrimaryLinkHref
		}
		results = append(results, types.Result{
			EntityID:  hit.EntityID,
			RecordID:  hit.RecordID,
			Score:     hit.Score,
			Source:    s.ID(),
			Presenter: hit.Presenter,
			URL:       url,
			Links:     hit.Links,
		})
	}
	return results, nil
}

// Index embeds the record text and upserts the document. Records that
// project to no text are skipped.
func (s *Strategy) Index(ctx context.Context, record *types.Record) error {
	return s.BulkIndex(ctx, []*types.Record{record})
}

// BulkIndex implements strategy.BulkIndexer. When the driver can report
// stored checksums, records whose checksum matches the stored one are
// skipped without re-embedding.
func (s *Strategy) BulkIndex(ctx context.Context, records []*types.Record) error {
	stored := s.storedChecksums(ctx, records)

	docs := make([]Doc, 0, len(records))
	for _, record := range records {
		text := EmbeddingText(record)
		if text == "" {
			continue
		}
		sum := Checksum(record)
		if prev, ok := stored[checksumKey(record.EntityID, record.TenantID, record.RecordID)]; ok && prev == sum {
			continue
		}
		vec, err := s.embeddings.CreateEmbedding(ctx, text)
		if err != nil {
			return strategy.NewError(s.ID(), "embed record", err)
		}
		docs = append(docs, Doc{
			EntityID:        record.EntityID,
			RecordID:        record.RecordID,
			TenantID:        record.TenantID,
			OrganizationID:  record.OrganizationID,
			Vector:          vec,
			Presenter:       record.Presenter,
			URL:             record.URL,
			Links:           record.Links,
			PrimaryLinkHref: primaryLinkHref(record.Links),
			Checksum:        sum,
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.driver.Upsert(ctx, docs); err != nil {
		return strategy.NewError(s.ID(), "upsert", err)
	}
	return nil
}

// storedChecksums fetches existing checksums for the batch, one driver
// call per (entity, tenant) group. Drivers without checksum support and
// failed lookups degrade to embedding everything.
func (s *Strategy) storedChecksums(ctx context.Context, records []*types.Record) map[string]string {
	reader, ok := s.driver.(ChecksumReader)
	if !ok {
		return nil
	}

	type group struct {
		entityID types.EntityID
		tenantID string
	}
	groups := map[group][]string{}
	for _, record := range records {
		g := group{record.EntityID, record.TenantID}
		groups[g] = append(groups[g], record.RecordID)
	}

	out := map[string]string{}
	for g, ids := range groups {
		sums, err := reader.Checksums(ctx, g.entityID, g.tenantID, ids)
		if err != nil {
			continue
		}
		for id, sum := range sums {
			out[checksumKey(g.entityID, g.tenantID, id)] = sum
		}
	}
	return out
}

func checksumKey(entityID types.EntityID, tenantID, recordID string) string {
	return string(entityID) + "\x00" + tenantID + "\x00" + recordID
}

// Delete forwards to the driver
func (s *Strategy) Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string) error {
	if err := s.driver.Delete(ctx, entityID, recordID, tenantID); err != nil {
		return strategy.NewError(s.ID(), "delete", err)
	}
	return nil
}

// Purge implements strategy.Purger
func (s *Strategy) Purge(ctx context.Context, entityID types.EntityID, tenantID string) error {
	if err := s.driver.Purge(ctx, entityID, tenantID); err != nil {
		return strategy.NewError(s.ID(), "purge", err)
	}
	return nil
}

// EmbeddingText selects the text to embed: the per-entity hook's text
// when supplied, otherwise a generic projection of presenter fragments
// and all string-valued fields in key order.
func EmbeddingText(record *types.Record) string {
	if len(record.Text) > 0 {
		return strings.TrimSpace(strings.Join(record.Text, "\n"))
	}

	var parts []string
	if record.Presenter != nil {
		if record.Presenter.Title != "" {
			parts = append(parts, record.Presenter.Title)
		}
		if record.Presenter.Subtitle != "" {
			parts = append(parts, record.Presenter.Subtitle)
		}
	}

	keys := make([]string, 0, len(record.Fields))
	for k := range record.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := record.Fields[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// Checksum returns the 16-hex-character SHA-256 prefix over the record's
// checksum source, enabling skip-if-unchanged decisions upstream. The
// source defaults to {fields, presenter, url}.
func Checksum(record *types.Record) string {
	source := record.ChecksumSource
	if source == nil {
		source = map[string]any{
			"fields":    record.Fields,
			"presenter": record.Presenter,
			"url":       record.URL,
		}
	}
	data, err := json.Marshal(source)
	if err != nil {
		data = []byte(tokenizer.Stringify(source))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

func primaryLinkHref(links []types.Link) string {
	for _, l := range links {
		if l.Kind == types.LinkKindPrimary {
			return l.Href
		}
	}
	return ""
}
