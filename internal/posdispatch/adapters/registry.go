package adapters

import (
	"strings"

	"github.com/smallbiznis/cashstation/internal/posdispatch/domain"
)

type Registry struct {
	factories map[string]domain.AdapterFactory
}

func NewRegistry(factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{factories: map[string]domain.AdapterFactory{}}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		vendor := strings.ToLower(strings.TrimSpace(factory.Vendor()))
		if vendor == "" {
			continue
		}
		registry.factories[vendor] = factory
	}
	return registry
}

func (r *Registry) VendorExists(vendor string) bool {
	if r == nil {
		return false
	}
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	_, ok := r.factories[vendor]
	return ok
}

func (r *Registry) NewAdapter(vendor string, cfg domain.AdapterConfig) (domain.Adapter, error) {
	if r == nil {
		return nil, domain.ErrVendorNotFound
	}
	vendor = strings.ToLower(strings.TrimSpace(vendor))
	factory, ok := r.factories[vendor]
	if !ok {
		return nil, domain.ErrVendorNotFound
	}
	return factory.NewAdapter(cfg)
}
