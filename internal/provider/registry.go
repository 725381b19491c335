package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps model names to their providers.
// Thread-safe for concurrent access during queries.
//
// Lookup order is: exact model registration, then the longest matching
// prefix route (e.g. "openai/"), then the fallback provider. Prefix routes
// strip the prefix before the request reaches the backend. A reserved
// prefix with no route is an error rather than a fallback.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	prefixes  map[string]Provider
	reserved  []string
	fallback  Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		prefixes:  make(map[string]Provider),
	}
}

// Register associates a model name with a provider.
// Safe to call concurrently.
func (r *Registry) Register(model string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[model] = p
}

// RegisterPrefix routes every model named "<prefix><name>" to p, which
// receives "<name>" as the model.
func (r *Registry) RegisterPrefix(prefix string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prefixes[prefix] = p
}

// Reserve keeps models with any of the given prefixes away from the
// fallback provider.
func (r *Registry) Reserve(prefixes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reserved = append(r.reserved, prefixes...)
}

// SetFallback sets the provider used for models with no registration.
func (r *Registry) SetFallback(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
}

// Get retrieves the provider for a model.
// Returns an error if the model cannot be resolved.
func (r *Registry) Get(model string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.providers[model]; ok {
		return p, nil
	}

	var (
		best  string
		bestP Provider
	)
	for prefix, p := range r.prefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, bestP = prefix, p
		}
	}
	if bestP != nil {
		return stripPrefix(best, bestP), nil
	}
	for _, prefix := range r.reserved {
		if strings.HasPrefix(model, prefix) {
			return nil, fmt.Errorf("no provider configured for %s: %s", prefix, model)
		}
	}

	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, fmt.Errorf("unknown model: %s", model)
}

// Query sends req to the provider that serves req.Model.
func (r *Registry) Query(ctx context.Context, req Request) (Response, error) {
	p, err := r.Get(req.Model)
	if err != nil {
		return Response{}, err
	}
	return p.Query(ctx, req)
}

// Models returns all explicitly registered model names, sorted.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for m := range r.providers {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func stripPrefix(prefix string, p Provider) Provider {
	return ProviderFunc(func(ctx context.Context, req Request) (Response, error) {
		full := req.Model
		req.Model = strings.TrimPrefix(req.Model, prefix)
		resp, err := p.Query(ctx, req)
		resp.Model = full
		return resp, err
	})
}
