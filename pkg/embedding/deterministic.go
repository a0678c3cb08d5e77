package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/open-mercato/open-mercato-sub000/pkg/tokenizer"
)

// DeterministicProvider produces stable pseudo-embeddings from token
// hashes. It has no semantic power but gives tests and local setups a
// provider whose output is reproducible and whose cosine similarity is
// 1.0 for identical texts.
type DeterministicProvider struct {
	dimension int
}

// NewDeterministicProvider creates a provider with the given dimension
func NewDeterministicProvider(dimension int) *DeterministicProvider {
	return &DeterministicProvider{dimension: dimension}
}

// Dimension returns the configured vector dimension
func (p *DeterministicProvider) Dimension() int {
	return p.dimension
}

// Available always reports true
func (p *DeterministicProvider) Available() bool {
	return true
}

// CreateEmbedding hashes each token into vector positions and normalizes
// the result to unit length
func (p *DeterministicProvider) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("refusing to embed empty payload")
	}

	vec := make([]float32, p.dimension)
	for _, tok := range tokenizer.Tokenize(text) {
		sum := sha256.Sum256([]byte(tok))
		idx := int(binary.BigEndian.Uint32(sum[:4])) % p.dimension
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}
