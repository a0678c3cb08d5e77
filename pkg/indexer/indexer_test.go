package indexer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mercato/open-mercato-sub000/pkg/primary"
	"github.com/open-mercato/open-mercato-sub000/pkg/types"
)

type captureWriter struct {
	indexed []*types.Record
	bulked  [][]*types.Record
	deleted []string
	purged  []types.EntityID
	only    []string
	err     error
}

func (w *captureWriter) Index(_ context.Context, record *types.Record, only []string) error {
	w.indexed = append(w.indexed, record)
	w.only = only
	return w.err
}

func (w *captureWriter) BulkIndex(_ context.Context, records []*types.Record, only []string) error {
	w.bulked = append(w.bulked, records)
	w.only = only
	return w.err
}

func (w *captureWriter) Delete(_ context.Context, _ types.EntityID, recordID, _ string, only []string) error {
	w.deleted = append(w.deleted, recordID)
	w.only = only
	return w.err
}

func (w *captureWriter) Purge(_ context.Context, entityID types.EntityID, _ string, only []string) error {
	w.purged = append(w.purged, entityID)
	w.only = only
	return w.err
}

func userConfig() *types.EntityConfig {
	return &types.EntityConfig{
		EntityID: "directory:user",
		Enabled:  true,
	}
}

func scope() types.Scope {
	return types.Scope{TenantID: "t1", OrganizationID: "org1"}
}

func TestRegistryOrdering(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&types.EntityConfig{EntityID: "b:two", Enabled: true, Priority: 5}))
	require.NoError(t, r.Register(&types.EntityConfig{EntityID: "a:one", Enabled: true, Priority: 10}))
	require.NoError(t, r.Register(&types.EntityConfig{EntityID: "c:off", Enabled: false}))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, types.EntityID("a:one"), all[0].EntityID)
	assert.Equal(t, types.EntityID("b:two"), all[1].EntityID)
}

func TestRegistryRejectsMalformedEntityID(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Register(&types.EntityConfig{EntityID: "noseparator"}))
}

func TestBuildRecordHookChain(t *testing.T) {
	cfg := &types.EntityConfig{
		EntityID: "sales:order",
		Enabled:  true,
		BuildSource: func(_ context.Context, row map[string]any) (*types.Source, error) {
			return &types.Source{
				Fields: map[string]any{"id": row["id"], "number": row["number"]},
				Text:   []string{"order " + row["number"].(string)},
			}, nil
		},
		FormatResult: func(_ context.Context, fields map[string]any) (*types.Presenter, error) {
			return &types.Presenter{Title: "Order " + fields["number"].(string)}, nil
		},
		ResolveURL: func(_ context.Context, fields map[string]any) (string, error) {
			return "/orders/" + fields["id"].(string), nil
		},
		ResolveLinks: func(_ context.Context, fields map[string]any) ([]types.Link, error) {
			return []types.Link{{Href: "/orders/" + fields["id"].(string), Kind: types.LinkKindPrimary}}, nil
		},
	}

	ix := New(NewRegistry(), &captureWriter{}, nil)
	record, err := ix.BuildRecord(context.Background(), cfg, map[string]any{
		"id": "o1", "number": "SO-1001", "internal_note": "dropped by buildSource",
	}, scope())
	require.NoError(t, err)

	assert.Equal(t, "o1", record.RecordID)
	assert.Equal(t, "t1", record.TenantID)
	assert.Equal(t, map[string]any{"id": "o1", "number": "SO-1001"}, record.Fields)
	assert.Equal(t, []string{"order SO-1001"}, record.Text)
	assert.Equal(t, "Order SO-1001", record.Presenter.Title)
	assert.Equal(t, "/orders/o1", record.URL)
	require.Len(t, record.Links, 1)
}

func TestBuildRecordRequiresID(t *testing.T) {
	ix := New(NewRegistry(), &captureWriter{}, nil)
	_, err := ix.BuildRecord(context.Background(), userConfig(), map[string]any{"name": "Ada"}, scope())
	require.Error(t, err)
}

func TestBuildRecordRequiresTenant(t *testing.T) {
	ix := New(NewRegistry(), &captureWriter{}, nil)
	_, err := ix.BuildRecord(context.Background(), userConfig(), map[string]any{"id": "u1"}, types.Scope{})
	require.Error(t, err)
}

func TestBuildRecordNormalizesCustomFields(t *testing.T) {
	ix := New(NewRegistry(), &captureWriter{}, nil)
	record, err := ix.BuildRecord(context.Background(), userConfig(), map[string]any{
		"id":          "u1",
		"name":        "native",
		"cf:nickname": "countess",
		"cf_name":     "custom shadowed",
	}, scope())
	require.NoError(t, err)
	assert.Equal(t, "countess", record.Fields["nickname"])
	// Native columns are never clobbered by a custom field of the same name.
	assert.Equal(t, "native", record.Fields["name"])
	assert.Equal(t, "custom shadowed", record.Fields["cf_name"])
}

func TestIndexRecordUsesEntityStrategyWhitelist(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&types.EntityConfig{
		EntityID: "directory:user", Enabled: true, Strategies: []string{"tokens"},
	}))
	writer := &captureWriter{}
	ix := New(r, writer, nil)

	require.NoError(t, ix.IndexRecord(context.Background(), "directory:user",
		map[string]any{"id": "u1"}, scope(), nil))
	require.Len(t, writer.indexed, 1)
	assert.Equal(t, []string{"tokens"}, writer.only)
}

func TestIndexRecordUnregisteredEntity(t *testing.T) {
	ix := New(NewRegistry(), &captureWriter{}, nil)
	err := ix.IndexRecord(context.Background(), "nope:nope", map[string]any{"id": "x"}, scope(), nil)
	require.Error(t, err)
}

func TestIndexRecordByID(t *testing.T) {
	engine := primary.NewMemoryEngine()
	engine.Put("directory:user", map[string]any{
		"id": "u1", "tenant_id": "t1", "name": "Ada", "cf:nickname": "countess",
	})

	r := NewRegistry()
	require.NoError(t, r.Register(userConfig()))
	writer := &captureWriter{}
	ix := New(r, writer, engine)

	action, err := ix.IndexRecordByID(context.Background(), "directory:user", "u1", types.Scope{TenantID: "t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionIndexed, action)
	require.Len(t, writer.indexed, 1)
	assert.Equal(t, "countess", writer.indexed[0].Fields["nickname"])

	action, err = ix.IndexRecordByID(context.Background(), "directory:user", "missing", types.Scope{TenantID: "t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, action)

	action, err = ix.IndexRecordByID(context.Background(), "unknown:entity", "u1", types.Scope{TenantID: "t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, action)
}

func TestBulkIndexRecordsDropsBadRows(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(userConfig()))
	writer := &captureWriter{}
	ix := New(r, writer, nil)

	rows := []map[string]any{
		{"id": "u1", "name": "Ada"},
		{"name": "missing id"},
		{"id": "u2", "name": "Grace"},
	}
	indexed, dropped, err := ix.BulkIndexRecords(context.Background(), "directory:user", rows, scope(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, indexed)
	assert.Equal(t, 1, dropped)
	require.Len(t, writer.bulked, 1)
	assert.Len(t, writer.bulked[0], 2)
}

func TestBulkIndexRecordsAllDropped(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(userConfig()))
	writer := &captureWriter{}
	ix := New(r, writer, nil)

	indexed, dropped, err := ix.BulkIndexRecords(context.Background(), "directory:user",
		[]map[string]any{{"name": "no id"}}, scope(), nil)
	require.NoError(t, err)
	assert.Zero(t, indexed)
	assert.Equal(t, 1, dropped)
	assert.Empty(t, writer.bulked)
}

func TestDeleteAndPurge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&types.EntityConfig{
		EntityID: "directory:user", Enabled: true, Strategies: []string{"fulltext"},
	}))
	writer := &captureWriter{}
	ix := New(r, writer, nil)

	require.NoError(t, ix.DeleteRecord(context.Background(), "directory:user", "u1", "t1", nil))
	assert.Equal(t, []string{"u1"}, writer.deleted)
	assert.Equal(t, []string{"fulltext"}, writer.only)

	require.NoError(t, ix.PurgeEntity(context.Background(), "directory:user", "t1", nil))
	assert.Equal(t, []types.EntityID{"directory:user"}, writer.purged)
}

func TestIndexRecordWriteFailurePropagates(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(userConfig()))
	writer := &captureWriter{err: errors.New("backend down")}
	ix := New(r, writer, nil)

	err := ix.IndexRecord(context.Background(), "directory:user", map[string]any{"id": "u1"}, scope(), nil)
	require.Error(t, err)
}

func TestRestrictIntersection(t *testing.T) {
	assert.Equal(t, []string{"fulltext"}, restrict(nil, []string{"fulltext"}))
	assert.Equal(t, []string{"tokens"}, restrict([]string{"tokens"}, nil))
	assert.Equal(t, []string{"vector"}, restrict([]string{"vector", "tokens"}, []string{"vector"}))
	assert.Equal(t, []string{}, restrict([]string{"tokens"}, []string{"vector"}))
}
