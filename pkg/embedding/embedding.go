package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-mercato/open-mercato-sub000/pkg/config"
)

// Provider turns text into a dense vector
type Provider interface {
	// CreateEmbedding embeds a single text. Implementations must refuse
	// empty input.
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)

	// Dimension is the length of every vector the provider produces.
	Dimension() int

	// Available reports whether the provider is configured and reachable
	// enough to attempt a call.
	Available() bool
}

// ProviderConfig is the runtime embedding configuration stored in the
// module-config service under "vector/embedding_provider"
type ProviderConfig struct {
	Provider  string `json:"provider"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
}

// Service holds the active embedding provider. Workers reload the
// provider configuration per job, so the provider is swappable at
// runtime behind a lock.
type Service struct {
	mu       sync.RWMutex
	provider Provider
}

// NewService creates a service with the given initial provider.
// A nil provider means embeddings are not configured.
func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

// NewServiceFromConfig builds the startup provider from process config
func NewServiceFromConfig(cfg config.EmbeddingConfig) *Service {
	svc := &Service{}
	svc.Configure(ProviderConfig{
		Provider:  cfg.Provider,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey,
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
	})
	return svc
}

// Configure swaps the active provider according to the given runtime
// configuration. Unknown provider names leave the service unconfigured.
func (s *Service) Configure(cfg ProviderConfig) {
	var provider Provider
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey != "" {
			provider = NewOpenAIProvider(cfg)
		}
	case "deterministic":
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 64
		}
		provider = NewDeterministicProvider(dim)
	}

	s.mu.Lock()
	s.provider = provider
	s.mu.Unlock()
}

// SetProvider installs a concrete provider directly
func (s *Service) SetProvider(p Provider) {
	s.mu.Lock()
	s.provider = p
	s.mu.Unlock()
}

// Available reports whether an embedding provider is configured and up
func (s *Service) Available() bool {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	return p != nil && p.Available()
}

// Dimension returns the active provider's vector dimension, 0 when
// unconfigured
func (s *Service) Dimension() int {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()
	if p == nil {
		return 0
	}
	return p.Dimension()
}

// CreateEmbedding embeds text with the active provider
func (s *Service) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	s.mu.RLock()
	p := s.provider
	s.mu.RUnlock()

	if p == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	if text == "" {
		return nil, fmt.Errorf("refusing to embed empty payload")
	}
	return p.CreateEmbedding(ctx, text)
}
