package llm

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// Tier names a cost/capability level of model.
type Tier string

const (
	TierWeak   Tier = "weak"
	TierStrong Tier = "strong"
)

var ErrTierNotConfigured = errors.New("llm tier not configured")

// Registry holds one Client per Tier. It is built once at startup and passed
// to whatever needs a model; Close releases it at shutdown.
type Registry struct {
	mu      sync.RWMutex
	clients map[Tier]Client
	closed  bool
}

func NewRegistry(clients map[Tier]Client) *Registry {
	r := &Registry{clients: make(map[Tier]Client, len(clients))}
	for tier, c := range clients {
		if c != nil {
			r.clients[tier] = c
		}
	}
	return r
}

// NewRegistryFromConfig builds a client for every tier with an API key.
// Tiers without a key are left unconfigured.
func NewRegistryFromConfig(tiers map[Tier]Config) (*Registry, error) {
	clients := make(map[Tier]Client, len(tiers))
	for tier, cfg := range tiers {
		if cfg.APIKey == "" {
			continue
		}
		c, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("llm tier %s: %w", tier, err)
		}
		clients[tier] = c
	}
	return NewRegistry(clients), nil
}

func (r *Registry) Get(tier Tier) (Client, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrTierNotConfigured, tier)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.clients[tier]
	if !ok || r.closed {
		return nil, fmt.Errorf("%w: %s", ErrTierNotConfigured, tier)
	}
	return c, nil
}

func (r *Registry) Has(tier Tier) bool {
	_, err := r.Get(tier)
	return err == nil
}

// Empty reports whether no tier is configured.
func (r *Registry) Empty() bool {
	if r == nil {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed || len(r.clients) == 0
}

// Close closes every client that holds resources and empties the registry.
func (r *Registry) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for tier, c := range r.clients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", tier, err))
			}
		}
	}
	r.clients = map[Tier]Client{}
	r.closed = true
	return errors.Join(errs...)
}
