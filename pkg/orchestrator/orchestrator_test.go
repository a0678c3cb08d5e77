package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mercato/open-mercato-sub000/pkg/indexer"
	"github.com/open-mercato/open-mercato-sub000/pkg/strategy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

type stubStrategy struct {
	id        string
	priority  int
	available bool
	searchErr error
	results   []types.Result

	indexed   []*types.Record
	deleted   []string
	purged    []types.EntityID
	ensureErr error
	ensured   atomic.Int64
}

func (s *stubStrategy) ID() string                        { return s.id }
func (s *stubStrategy) Name() string                      { return s.id }
func (s *stubStrategy) Priority() int                     { return s.priority }
func (s *stubStrategy) IsAvailable(context.Context) bool  { return s.available }
func (s *stubStrategy) EnsureReady(context.Context) error {
	s.ensured.Add(1)
	return s.ensureErr
}

func (s *stubStrategy) Search(context.Context, string, types.SearchOptions) ([]types.Result, error) {
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	out := make([]types.Result, len(s.results))
	for i, r := range s.results {
		r.Source = s.id
		out[i] = r
	}
	return out, nil
}

func (s *stubStrategy) Index(_ context.Context, record *types.Record) error {
	s.indexed = append(s.indexed, record)
	return nil
}

func (s *stubStrategy) Delete(_ context.Context, _ types.EntityID, recordID, _ string) error {
	s.deleted = append(s.deleted, recordID)
	return nil
}

func (s *stubStrategy) Purge(_ context.Context, entityID types.EntityID, _ string) error {
	s.purged = append(s.purged, entityID)
	return nil
}

type stubEnricher struct {
	called bool
	scope  types.Scope
}

func (e *stubEnricher) Enrich(_ context.Context, results []types.Result, scope types.Scope) []types.Result {
	e.called = true
	e.scope = scope
	for i := range results {
		if results[i].Presenter == nil {
			results[i].Presenter = &types.Presenter{Title: "enriched " + results[i].RecordID}
		}
	}
	return results
}

func newRegistry(t *testing.T, strategies ...strategy.Strategy) *strategy.Registry {
	t.Helper()
	r := strategy.NewRegistry()
	for _, s := range strategies {
		require.NoError(t, r.Register(s))
	}
	return r
}

func result(id string, score float64) types.Result {
	return types.Result{EntityID: "directory:user", RecordID: id, Score: score}
}

func TestSearchFusesAcrossStrategies(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true,
		results: []types.Result{result("a", 0.9), result("b", 0.5)}}
	vector := &stubStrategy{id: "vector", priority: 20, available: true,
		results: []types.Result{result("b", 0.8), result("c", 0.7)}}
	enricher := &stubEnricher{}

	o := New(newRegistry(t, fulltext, vector), Options{Enricher: enricher})

	results, err := o.Search(context.Background(), "ada", types.SearchOptions{
		TenantID: "t1", OrganizationID: "org1",
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// "b" ranks second in both lists and accumulates two contributions,
	// beating each list's sole first-ranked hit.
	assert.Equal(t, "b", results[0].RecordID)
	assert.ElementsMatch(t, []string{"fulltext", "vector"}, results[0].Metadata["_sources"])

	assert.True(t, enricher.called)
	assert.Equal(t, types.Scope{TenantID: "t1", OrganizationID: "org1"}, enricher.scope)
	for _, r := range results {
		assert.NotNil(t, r.Presenter)
	}
}

func TestSearchEnsuresStrategiesReady(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true,
		results: []types.Result{result("a", 0.9)}}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true,
		results: []types.Result{result("b", 0.5)}}

	o := New(newRegistry(t, fulltext, tokens), Options{})
	_, err := o.Search(context.Background(), "ada", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)

	// A lazily created index must be initialized before it is queried.
	assert.Equal(t, int64(1), fulltext.ensured.Load())
	assert.Equal(t, int64(1), tokens.ensured.Load())
}

func TestSearchSkipsStrategyThatFailsToInitialize(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true,
		ensureErr: errors.New("index creation failed")}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true,
		results: []types.Result{result("b", 0.5)}}

	o := New(newRegistry(t, fulltext, tokens), Options{})
	results, err := o.Search(context.Background(), "ada", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "b", results[0].RecordID)
}

func TestSearchDegradesWhenOneStrategyFails(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true,
		searchErr: errors.New("meilisearch is down")}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true,
		results: []types.Result{result("a", 1.0)}}

	o := New(newRegistry(t, fulltext, tokens), Options{})

	results, err := o.Search(context.Background(), "ada", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].RecordID)
}

func TestSearchFallsBackWhenRequestedUnavailable(t *testing.T) {
	vector := &stubStrategy{id: "vector", priority: 20, available: false}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true,
		results: []types.Result{result("a", 1.0)}}

	o := New(newRegistry(t, vector, tokens), Options{})

	results, err := o.Search(context.Background(), "ada", types.SearchOptions{
		TenantID:   "t1",
		Strategies: []string{"vector"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "tokens", results[0].Source)
}

func TestSearchErrorsWhenNothingAvailable(t *testing.T) {
	vector := &stubStrategy{id: "vector", priority: 20, available: false}
	o := New(newRegistry(t, vector), Options{})

	_, err := o.Search(context.Background(), "ada", types.SearchOptions{TenantID: "t1"})
	require.Error(t, err)
	assert.True(t, strategy.IsUnavailable(err))
}

func TestSearchRequiresTenant(t *testing.T) {
	o := New(newRegistry(t), Options{})
	_, err := o.Search(context.Background(), "ada", types.SearchOptions{})
	require.Error(t, err)
}

func TestSearchAppliesLimit(t *testing.T) {
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true,
		results: []types.Result{result("a", 1.0), result("b", 0.9), result("c", 0.8)}}
	o := New(newRegistry(t, tokens), Options{})

	results, err := o.Search(context.Background(), "ada", types.SearchOptions{
		TenantID: "t1", Limit: 2,
	})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestIndexFansOutToAvailableStrategies(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true}
	vector := &stubStrategy{id: "vector", priority: 20, available: false}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true}

	o := New(newRegistry(t, fulltext, vector, tokens), Options{})
	record := &types.Record{EntityID: "directory:user", RecordID: "u1", TenantID: "t1"}

	require.NoError(t, o.Index(context.Background(), record, nil))
	assert.Len(t, fulltext.indexed, 1)
	assert.Len(t, tokens.indexed, 1)
	assert.Empty(t, vector.indexed)
}

func TestIndexHonorsWhitelist(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true}

	o := New(newRegistry(t, fulltext, tokens), Options{})
	record := &types.Record{EntityID: "directory:user", RecordID: "u1", TenantID: "t1"}

	require.NoError(t, o.Index(context.Background(), record, []string{"tokens"}))
	assert.Empty(t, fulltext.indexed)
	assert.Len(t, tokens.indexed, 1)
}

func TestIndexEmptyWhitelistWritesNowhere(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true}
	vector := &stubStrategy{id: "vector", priority: 20, available: true}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true}

	o := New(newRegistry(t, fulltext, vector, tokens), Options{})
	record := &types.Record{EntityID: "directory:user", RecordID: "u1", TenantID: "t1"}

	// An empty non-nil whitelist is an empty intersection, not "all".
	require.NoError(t, o.Index(context.Background(), record, []string{}))
	assert.Empty(t, fulltext.indexed)
	assert.Empty(t, vector.indexed)
	assert.Empty(t, tokens.indexed)

	require.NoError(t, o.Delete(context.Background(), "directory:user", "u1", "t1", []string{}))
	assert.Empty(t, fulltext.deleted)
	assert.Empty(t, tokens.deleted)
}

func TestIndexRecordOutsideEntityStrategiesWritesNowhere(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true}
	vector := &stubStrategy{id: "vector", priority: 20, available: true}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true}

	o := New(newRegistry(t, fulltext, vector, tokens), Options{})

	registry := indexer.NewRegistry()
	require.NoError(t, registry.Register(&types.EntityConfig{
		EntityID: "sales:order", Enabled: true, Strategies: []string{"fulltext"},
	}))
	ix := indexer.New(registry, o, nil)

	row := map[string]any{"id": "o1", "tenant_id": "t1"}
	scope := types.Scope{TenantID: "t1"}

	// A vector-only write for a fulltext-only entity intersects to
	// nothing; in particular it must not fan out to every strategy.
	require.NoError(t, ix.IndexRecord(context.Background(), "sales:order", row, scope, []string{"vector"}))
	assert.Empty(t, fulltext.indexed)
	assert.Empty(t, vector.indexed)
	assert.Empty(t, tokens.indexed)
}

func TestIndexReportsEnsureFailure(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true,
		ensureErr: errors.New("index creation failed")}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true}

	o := New(newRegistry(t, fulltext, tokens), Options{})
	record := &types.Record{EntityID: "directory:user", RecordID: "u1", TenantID: "t1"}

	err := o.Index(context.Background(), record, nil)
	require.Error(t, err)
	// The healthy strategy still received the write.
	assert.Len(t, tokens.indexed, 1)
}

func TestDeleteAndPurgeFanOut(t *testing.T) {
	fulltext := &stubStrategy{id: "fulltext", priority: 30, available: true}
	tokens := &stubStrategy{id: "tokens", priority: 10, available: true}

	o := New(newRegistry(t, fulltext, tokens), Options{})

	require.NoError(t, o.Delete(context.Background(), "directory:user", "u1", "t1", nil))
	assert.Equal(t, []string{"u1"}, fulltext.deleted)
	assert.Equal(t, []string{"u1"}, tokens.deleted)

	require.NoError(t, o.Purge(context.Background(), "directory:user", "t1", nil))
	assert.Equal(t, []types.EntityID{"directory:user"}, fulltext.purged)
}
