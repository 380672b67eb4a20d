// Package adapters translates gateway-specific webhook payloads into
// canonical payment facts.
package adapters

import (
	"net/http"
	"strings"

	"github.com/smallbiznis/clavis/internal/payment/domain"
)

// PaymentAdapter parses one gateway's webhook deliveries.
type PaymentAdapter interface {
	Provider() string
	// Parse verifies the delivery and returns the canonical fact. Event
	// types the core does not act on return ErrEventIgnored.
	Parse(payload []byte, headers http.Header) (*domain.PaymentEvent, error)
}

type Registry struct {
	adapters map[string]PaymentAdapter
}

func NewRegistry(adapters ...PaymentAdapter) *Registry {
	registry := &Registry{adapters: map[string]PaymentAdapter{}}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		provider := strings.ToLower(strings.TrimSpace(adapter.Provider()))
		if provider == "" {
			continue
		}
		registry.adapters[provider] = adapter
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	_, ok := r.adapters[provider]
	return ok
}

func (r *Registry) Adapter(provider string) (PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	adapter, ok := r.adapters[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return adapter, nil
}
