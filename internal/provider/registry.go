package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/coderelay/coderelay/internal/logging"
	"github.com/coderelay/coderelay/pkg/types"
)

// Registry manages all available providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	config    *types.Config
}

// NewRegistry creates a new provider registry.
func NewRegistry(config *types.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		config:    config,
	}
}

// Register adds a provider to the registry.
func (r *Registry) Register(provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[provider.ID()] = provider
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return provider, nil
}

// List returns all available providers.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	providers := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		providers = append(providers, p)
	}
	return providers
}

// Default returns the configured default provider and model id. Falls back
// to the first registered provider's first model.
func (r *Registry) Default() (Provider, string, error) {
	if r.config != nil && r.config.Model != "" {
		providerID, modelID := ParseModelString(r.config.Model)
		p, err := r.Get(providerID)
		if err != nil {
			return nil, "", err
		}
		return p, modelID, nil
	}

	for _, p := range r.List() {
		models := p.Models()
		if len(models) > 0 {
			return p, models[0].ID, nil
		}
	}
	return nil, "", fmt.Errorf("no providers configured")
}

// InitializeProviders builds a registry from configuration and environment.
// Providers that cannot be constructed (usually missing credentials) are
// skipped with a warning; an empty registry is not an error here, it only
// fails once a command needs a model.
func InitializeProviders(ctx context.Context, cfg *types.Config) *Registry {
	registry := NewRegistry(cfg)

	anthropicCfg := cfg.Provider["anthropic"]
	if !anthropicCfg.Disabled {
		p, err := NewAnthropicProvider(ctx, &AnthropicConfig{
			APIKey:    anthropicCfg.APIKey,
			BaseURL:   anthropicCfg.BaseURL,
			Model:     anthropicCfg.Model,
			MaxTokens: anthropicCfg.MaxTokens,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("anthropic provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	openaiCfg := cfg.Provider["openai"]
	if !openaiCfg.Disabled {
		p, err := NewOpenAIProvider(ctx, &OpenAIConfig{
			APIKey:    openaiCfg.APIKey,
			BaseURL:   openaiCfg.BaseURL,
			Model:     openaiCfg.Model,
			MaxTokens: openaiCfg.MaxTokens,
		})
		if err != nil {
			logging.Warn().Err(err).Msg("openai provider unavailable")
		} else {
			registry.Register(p)
		}
	}

	return registry
}
