package token

import (
	"context"
	"math"

	"github.com/open-mercato/open-mercato-sub000/pkg/fieldpolicy"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/tokenizer"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// DefaultMinMatchRatio is the fraction of query hashes a record must
// share to count as a match
const DefaultMinMatchRatio = 0.5

// Strategy is the hash-based set-overlap fallback. It is always
// available and carries the lowest priority of the built-in strategies.
type Strategy struct {
	store         Store
	resolvePolicy fieldpolicy.Resolver
	minMatchRatio float64
}

// Option configures the strategy
type Option func(*Strategy)

// WithMinMatchRatio overrides the default match ratio
func WithMinMatchRatio(ratio float64) Option {
	return func(s *Strategy) {
		if ratio > 0 && ratio <= 1 {
			s.minMatchRatio = ratio
		}
	}
}

// New creates a token strategy over the given store. resolvePolicy may
// be nil, in which case no field is hash-eligible.
func New(store Store, resolvePolicy fieldpolicy.Resolver, opts ...Option) *Strategy {
	s := &Strategy{
		store:         store,
		resolvePolicy: resolvePolicy,
		minMatchRatio: DefaultMinMatchRatio,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID implements strategy.Strategy
func (s *Strategy) ID() string { return strategy.IDTokens }

// Name implements strategy.Strategy
func (s *Strategy) Name() string { return "Token hash search" }

// Priority implements strategy.Strategy; tokens are the fallback
func (s *Strategy) Priority() int { return 10 }

// IsAvailable implements strategy.Strategy; the token store is local
func (s *Strategy) IsAvailable(context.Context) bool { return true }

// EnsureReady implements strategy.Strategy; the store is opened at
// construction
func (s *Strategy) EnsureReady(context.Context) error { return nil }

// Search tokenizes the query into hashes and returns records whose
// stored token set overlaps in at least
// max(1, ceil(|queryHashes| * minMatchRatio)) positions. Score is
// matched/|queryHashes| in [0,1].
func (s *Strategy) Search(ctx context.Context, query string, opts types.SearchOptions) ([]types.Result, error) {
	hashes := tokenizer.HashTokens(query)
	if len(hashes) == 0 {
		return nil, nil
	}

	minMatches := int(math.Ceil(float64(len(hashes)) * s.minMatchRatio))
	if minMatches < 1 {
		minMatches = 1
	}

	matches, err := s.store.Match(ctx, opts.TenantID, hashes, MatchOptions{
		OrganizationID: opts.OrganizationID,
		EntityTypes:    opts.EntityTypes,
		MinMatches:     minMatches,
		Limit:          opts.Limit,
	})
	if err != nil {
		return nil, strategy.NewError(s.ID(), "search", err)
	}

	results := make([]types.Result, 0, len(matches))
	for _, m := range matches {
		results = append(results, types.Result{
			EntityID: m.EntityID,
			RecordID: m.RecordID,
			Score:    float64(m.Matched) / float64(len(hashes)),
			Source:   s.ID(),
		})
	}
	return results, nil
}

// Index replaces the record's token set with the hashes of its
// hash-eligible fields
func (s *Strategy) Index(ctx context.Context, record *types.Record) error {
	hashes := s.hashEligible(record)
	if err := s.store.ReplaceTokens(ctx, record, hashes); err != nil {
		return strategy.NewError(s.ID(), "index", err)
	}
	return nil
}

// BulkIndex implements strategy.BulkIndexer
func (s *Strategy) BulkIndex(ctx context.Context, records []*types.Record) error {
	for _, record := range records {
		if err := s.Index(ctx, record); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the record's token set
func (s *Strategy) Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string) error {
	if err := s.store.DeleteTokens(ctx, entityID, recordID, tenantID); err != nil {
		return strategy.NewError(s.ID(), "delete", err)
	}
	return nil
}

// Purge implements strategy.Purger
func (s *Strategy) Purge(ctx context.Context, entityID types.EntityID, tenantID string) error {
	if err := s.store.PurgeEntity(ctx, entityID, tenantID); err != nil {
		return strategy.NewError(s.ID(), "purge", err)
	}
	return nil
}

func (s *Strategy) hashEligible(record *types.Record) []string {
	if s.resolvePolicy == nil {
		return nil
	}
	policy := s.resolvePolicy(record.EntityID)
	eligible := fieldpolicy.ExtractHashOnlyFields(record.Fields, policy)
	if len(eligible) == 0 {
		return nil
	}
	return tokenizer.HashFieldValues(eligible)
}
