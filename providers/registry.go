// Package providers holds the uniform send surface the pipeline dispatches
// through. Adapters translate the internal request snapshot into each
// provider's wire format; the registry maps provider ids onto them.
package providers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parlorchat/parlor/models"
)

// StreamFunc receives text chunks in arrival order during a streaming call.
type StreamFunc func(chunk string)

// Provider is the uniform send operation. When onChunk is nil the adapter
// must make a batched call; when non-nil it streams and still returns the
// full accumulated response.
type Provider interface {
	Send(ctx context.Context, req models.ProviderRequest, onChunk StreamFunc) (models.ProviderResponse, error)
}

// Metadata is the display information the UI shows per provider.
type Metadata struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	DefaultModel   string `json:"default_model"`
	DefaultBaseURL string `json:"default_base_url,omitempty"`
}

type registered struct {
	meta     Metadata
	provider Provider
}

type Registry struct {
	mu        sync.RWMutex
	providers map[string]registered
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]registered)}
}

func (r *Registry) Register(meta Metadata, provider Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[meta.ID] = registered{meta: meta, provider: provider}
}

func (r *Registry) Lookup(id string) (Provider, Metadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.providers[id]
	return reg.provider, reg.meta, ok
}

// Send resolves the provider for the request and forwards the call.
func (r *Registry) Send(ctx context.Context, req models.ProviderRequest, onChunk StreamFunc) (models.ProviderResponse, error) {
	provider, _, ok := r.Lookup(req.ProviderID)
	if !ok {
		return models.ProviderResponse{}, fmt.Errorf("no provider registered for id %q", req.ProviderID)
	}
	return provider.Send(ctx, req, onChunk)
}

// IDs returns the registered provider ids, sorted for stable display.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
