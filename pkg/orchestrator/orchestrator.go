// Package orchestrator fans queries and writes out across the
// registered search strategies. Reads degrade gracefully: every
// available strategy is queried, failures are logged and dropped, and
// the survivors are fused with reciprocal rank fusion. Writes are
// strict: a failing strategy fails the operation so the caller can
// retry it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/open-mercato/open-mercato-sub000/pkg/log"
	"github.com/open-mercato/open-mercato-sub000/pkg/merge"
	"github.com/open-mercato/open-mercato-sub000/pkg/metrics"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

// DefaultLimit bounds a query that does not name its own limit
const DefaultLimit = 20

// Enricher rebuilds presenters after merging. The zero value (nil)
// disables enrichment.
type Enricher interface {
	Enrich(ctx context.Context, results []types.Result, scope types.Scope) []types.Result
}

// Orchestrator coordinates the strategy registry
type Orchestrator struct {
	registry *strategy.Registry
	enricher Enricher
	weights  map[string]float64
}

// Options configures the orchestrator
type Options struct {
	// Enricher, when set, post-processes merged results.
	Enricher Enricher

	// Weights are per-strategy RRF weights; missing entries default to 1.
	Weights map[string]float64
}

// New creates an orchestrator over the registry
func New(registry *strategy.Registry, opts Options) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		enricher: opts.Enricher,
		weights:  opts.Weights,
	}
}

// Search queries every selected available strategy concurrently and
// fuses the result lists. A strategy that errors contributes nothing;
// the query fails only when no strategy could run at all.
func (o *Orchestrator) Search(ctx context.Context, query string, opts types.SearchOptions) ([]types.Result, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("search requires a tenantId")
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}

	selected := o.selectStrategies(ctx, opts.Strategies)
	if len(selected) == 0 {
		return nil, fmt.Errorf("%w: no search strategy is available", strategy.ErrUnavailable)
	}

	type ranked struct {
		order   int
		source  string
		results []types.Result
	}

	var mu sync.Mutex
	var lists []ranked

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range selected {
		i, s := i, s
		g.Go(func() error {
			start := time.Now()
			if err := s.EnsureReady(gctx); err != nil {
				metrics.SearchesTotal.WithLabelValues(s.ID(), "error").Inc()
				log.WithStrategy(s.ID()).Warn().Err(err).Msg("strategy not ready, skipping")
				return nil
			}
			results, err := s.Search(gctx, query, opts)
			metrics.SearchDuration.WithLabelValues(s.ID()).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.SearchesTotal.WithLabelValues(s.ID(), "error").Inc()
				log.WithStrategy(s.ID()).Warn().Err(err).Msg("strategy search failed")
				return nil
			}
			metrics.SearchesTotal.WithLabelValues(s.ID(), "ok").Inc()
			mu.Lock()
			lists = append(lists, ranked{order: i, source: s.ID(), results: results})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Restore selection order so fusion rank weights stay deterministic.
	sources := make([]merge.SourceResults, 0, len(lists))
	for _, want := range selected {
		for _, list := range lists {
			if list.source == want.ID() {
				sources = append(sources, merge.SourceResults{Source: list.source, Results: list.results})
			}
		}
	}

	results := merge.Fuse(sources, merge.Options{
		Weights:  o.weights,
		MinScore: opts.MinScore,
	})
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	metrics.ResultsReturned.Observe(float64(len(results)))

	if o.enricher != nil {
		results = o.enricher.Enrich(ctx, results, types.Scope{
			TenantID:       opts.TenantID,
			OrganizationID: opts.OrganizationID,
		})
	}
	return results, nil
}

// selectStrategies resolves the strategy whitelist against availability,
// checking each strategy once per query. An empty whitelist means the
// default priority order; a whitelist with no available member falls
// back to whatever is available.
func (o *Orchestrator) selectStrategies(ctx context.Context, ids []string) []strategy.Strategy {
	available := map[string]bool{}
	isAvailable := func(s strategy.Strategy) bool {
		ok, checked := available[s.ID()]
		if !checked {
			ok = s.IsAvailable(ctx)
			available[s.ID()] = ok
		}
		return ok
	}

	var selected []strategy.Strategy
	for _, id := range ids {
		s, ok := o.registry.Get(id)
		if !ok {
			log.WithStrategy(id).Debug().Msg("unknown strategy requested")
			continue
		}
		if isAvailable(s) {
			selected = append(selected, s)
		}
	}
	if len(selected) > 0 {
		return selected
	}

	for _, s := range o.registry.All() {
		if isAvailable(s) {
			selected = append(selected, s)
		}
	}
	return selected
}

// Index writes the record to every available strategy. The only
// whitelist filters strategies; empty means all. All strategies are
// attempted even when one fails.
func (o *Orchestrator) Index(ctx context.Context, record *types.Record, only []string) error {
	return o.fanOut(ctx, only, func(s strategy.Strategy) error {
		if err := s.EnsureReady(ctx); err != nil {
			metrics.IndexErrors.WithLabelValues(s.ID()).Inc()
			return err
		}
		if err := s.Index(ctx, record); err != nil {
			metrics.IndexErrors.WithLabelValues(s.ID()).Inc()
			return err
		}
		metrics.RecordsIndexed.WithLabelValues(s.ID()).Inc()
		return nil
	})
}

// BulkIndex writes a batch to every available strategy, using native
// bulk support when the strategy offers it
func (o *Orchestrator) BulkIndex(ctx context.Context, records []*types.Record, only []string) error {
	if len(records) == 0 {
		return nil
	}
	return o.fanOut(ctx, only, func(s strategy.Strategy) error {
		err := func() error {
			if err := s.EnsureReady(ctx); err != nil {
				return err
			}
			if bulk, ok := s.(strategy.BulkIndexer); ok {
				return bulk.BulkIndex(ctx, records)
			}
			for _, record := range records {
				if err := s.Index(ctx, record); err != nil {
					return err
				}
			}
			return nil
		}()
		if err != nil {
			metrics.IndexErrors.WithLabelValues(s.ID()).Inc()
			return err
		}
		metrics.RecordsIndexed.WithLabelValues(s.ID()).Add(float64(len(records)))
		return nil
	})
}

// Delete removes the record from every available strategy
func (o *Orchestrator) Delete(ctx context.Context, entityID types.EntityID, recordID, tenantID string, only []string) error {
	return o.fanOut(ctx, only, func(s strategy.Strategy) error {
		return s.Delete(ctx, entityID, recordID, tenantID)
	})
}

// Purge removes every record of the entity from strategies that support
// purging
func (o *Orchestrator) Purge(ctx context.Context, entityID types.EntityID, tenantID string, only []string) error {
	return o.fanOut(ctx, only, func(s strategy.Strategy) error {
		purger, ok := s.(strategy.Purger)
		if !ok {
			return nil
		}
		return purger.Purge(ctx, entityID, tenantID)
	})
}

// Available returns the ids of currently available strategies in
// priority order
func (o *Orchestrator) Available(ctx context.Context) []string {
	var ids []string
	for _, s := range o.registry.All() {
		if s.IsAvailable(ctx) {
			ids = append(ids, s.ID())
		}
	}
	return ids
}

// fanOut runs op against every available strategy in the whitelist and
// joins the failures. Unavailable strategies are skipped so one dead
// backend does not block writes to the others. A nil whitelist means no
// restriction; an empty non-nil whitelist is an empty intersection and
// writes nowhere.
func (o *Orchestrator) fanOut(ctx context.Context, only []string, op func(strategy.Strategy) error) error {
	if only != nil && len(only) == 0 {
		return nil
	}
	allow := map[string]bool{}
	for _, id := range only {
		allow[id] = true
	}

	var errs []error
	for _, s := range o.registry.All() {
		if only != nil && !allow[s.ID()] {
			continue
		}
		if !s.IsAvailable(ctx) {
			log.WithStrategy(s.ID()).Debug().Msg("strategy unavailable, skipping write")
			continue
		}
		if err := op(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
