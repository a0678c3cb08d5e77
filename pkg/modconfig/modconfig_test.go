package modconfig

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryServiceRoundTrip(t *testing.T) {
	svc := NewMemoryService()
	ctx := context.Background()

	found, err := svc.GetValue(ctx, "search", "missing", nil)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, svc.SetValue(ctx, "search", "k", sample{Name: "a", Count: 2}))

	var out sample
	found, err = svc.GetValue(ctx, "search", "k", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, sample{Name: "a", Count: 2}, out)

	require.NoError(t, svc.DeleteValue(ctx, "search", "k"))
	found, err = svc.GetValue(ctx, "search", "k", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestBoltServiceRoundTrip(t *testing.T) {
	svc, err := NewBoltService(t.TempDir())
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	require.NoError(t, svc.SetValue(ctx, "vector", "embedding_provider", map[string]any{"provider": "openai"}))

	var out map[string]any
	found, err := svc.GetValue(ctx, "vector", "embedding_provider", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "openai", out["provider"])

	// namespaces are isolated
	found, err = svc.GetValue(ctx, "search", "embedding_provider", &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, svc.DeleteValue(ctx, "vector", "embedding_provider"))
	found, err = svc.GetValue(ctx, "vector", "embedding_provider", &out)
	require.NoError(t, err)
	assert.False(t, found)
}
