package embedding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministicProviderStableOutput(t *testing.T) {
	p := NewDeterministicProvider(64)

	a, err := p.CreateEmbedding(context.Background(), "Jane Doe")
	require.NoError(t, err)
	b, err := p.CreateEmbedding(context.Background(), "Jane Doe")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestDeterministicProviderUnitNorm(t *testing.T) {
	p := NewDeterministicProvider(32)

	vec, err := p.CreateEmbedding(context.Background(), "hello world")
	require.NoError(t, err)

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, norm, 1e-5)
}

func TestServiceRefusesEmptyPayload(t *testing.T) {
	svc := NewService(NewDeterministicProvider(16))
	_, err := svc.CreateEmbedding(context.Background(), "")
	assert.Error(t, err)
}

func TestServiceUnconfigured(t *testing.T) {
	svc := NewService(nil)
	assert.False(t, svc.Available())
	assert.Equal(t, 0, svc.Dimension())

	_, err := svc.CreateEmbedding(context.Background(), "text")
	assert.Error(t, err)
}

func TestServiceConfigureSwapsProvider(t *testing.T) {
	svc := NewService(nil)
	svc.Configure(ProviderConfig{Provider: "deterministic", Dimension: 8})

	assert.True(t, svc.Available())
	assert.Equal(t, 8, svc.Dimension())

	// unknown provider leaves the service unconfigured
	svc.Configure(ProviderConfig{Provider: "bogus"})
	assert.False(t, svc.Available())
}

func TestOpenAIProviderUnavailableWithoutKey(t *testing.T) {
	p := NewOpenAIProvider(ProviderConfig{Provider: "openai"})
	assert.False(t, p.Available())
	assert.Equal(t, 1536, p.Dimension())
}
