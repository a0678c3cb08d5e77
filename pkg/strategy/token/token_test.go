package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mercato/open-mercato-sub000/pkg/fieldpolicy"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

func newTestStrategy(t *testing.T) *Strategy {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	resolver := func(types.EntityID) fieldpolicy.Policy {
		return fieldpolicy.Policy{
			EncryptedFields: []types.EncryptedField{
				{Field: "email", HashField: "email_hash"},
				{Field: "phone", HashField: "phone_hash"},
			},
		}
	}
	return New(store, resolver)
}

func person(recordID, tenantID string, fields map[string]any) *types.Record {
	return &types.Record{
		EntityID: "customers:person",
		RecordID: recordID,
		TenantID: tenantID,
		Fields:   fields,
	}
}

func TestIndexAndSearchByHashedField(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{
		"email": "jane@example.com",
		"name":  "Jane", // not hash-eligible, must not be searchable
	})))

	results, err := s.Search(ctx, "jane@example.com", types.SearchOptions{TenantID: "t1", Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].RecordID)
	assert.Equal(t, "tokens", results[0].Source)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestScoreIsMatchedOverQueryHashes(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{
		"email": "jane@example.com",
	})))

	// query has extra tokens the record does not carry
	results, err := s.Search(ctx, "jane example com extraword otherword unmatched", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Greater(t, results[0].Score, 0.0)
	assert.Less(t, results[0].Score, 1.0)
}

func TestNoHashEligibleFieldsReturnsNoRows(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{
		"name": "Jane Doe",
	})))

	results, err := s.Search(ctx, "Jane Doe", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{"email": "jane@example.com"})))

	results, err := s.Search(ctx, "jane@example.com", types.SearchOptions{TenantID: "t2"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestReindexConverges(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	rec := person("r1", "t1", map[string]any{"email": "jane@example.com"})
	require.NoError(t, s.Index(ctx, rec))
	require.NoError(t, s.Index(ctx, rec))

	results, err := s.Search(ctx, "jane@example.com", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestIndexReplacesTokenSet(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{"email": "jane@example.com"})))
	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{"email": "john@example.org"})))

	results, err := s.Search(ctx, "jane", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.Search(ctx, "john", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestDeleteLeavesNoRows(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{"email": "jane@example.com"})))
	require.NoError(t, s.Delete(ctx, "customers:person", "r1", "t1"))

	results, err := s.Search(ctx, "jane@example.com", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestPurgeEntity(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{"email": "jane@example.com"})))
	require.NoError(t, s.Index(ctx, person("r2", "t1", map[string]any{"email": "john@example.com"})))
	require.NoError(t, s.Purge(ctx, "customers:person", "t1"))

	results, err := s.Search(ctx, "example", types.SearchOptions{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEntityTypeFilter(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	require.NoError(t, s.Index(ctx, person("r1", "t1", map[string]any{"email": "jane@example.com"})))
	require.NoError(t, s.Index(ctx, &types.Record{
		EntityID: "sales:order",
		RecordID: "o1",
		TenantID: "t1",
		Fields:   map[string]any{"email": "jane@example.com"},
	}))

	results, err := s.Search(ctx, "jane@example.com", types.SearchOptions{
		TenantID:    "t1",
		EntityTypes: []types.EntityID{"sales:order"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.EntityID("sales:order"), results[0].EntityID)
}

func TestOrganizationScoping(t *testing.T) {
	s := newTestStrategy(t)
	ctx := context.Background()

	orgRec := person("r1", "t1", map[string]any{"email": "jane@example.com"})
	orgRec.OrganizationID = "org1"
	require.NoError(t, s.Index(ctx, orgRec))

	tenantWide := person("r2", "t1", map[string]any{"email": "jane@example.com"})
	require.NoError(t, s.Index(ctx, tenantWide))

	// org filter matches its own records plus tenant-wide ones
	results, err := s.Search(ctx, "jane@example.com", types.SearchOptions{TenantID: "t1", OrganizationID: "org2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r2", results[0].RecordID)
}
