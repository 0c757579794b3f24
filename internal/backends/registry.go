// Package backends provides the cloud KMS backend implementations and
// the registry that creates them by provider type. The engine works
// with zero, one, or multiple configured backends; a vault may mix
// local and KMS-held secrets.
package backends

import (
	"fmt"

	"github.com/teamvault/teamvault/pkg/kms"
)

// Factory creates a backend from its configuration map.
type Factory func(config map[string]interface{}) (kms.Backend, error)

// Registry manages backend creation and registration.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates a registry with the built-in backends.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("aws", func(cfg map[string]interface{}) (kms.Backend, error) {
		return NewAWSBackend(cfg)
	})
	r.Register("gcp", func(cfg map[string]interface{}) (kms.Backend, error) {
		return NewGCPBackend(cfg)
	})

	return r
}

// Register adds a factory for a provider type.
func (r *Registry) Register(providerType string, factory Factory) {
	r.factories[providerType] = factory
}

// Create builds a backend of the given provider type.
func (r *Registry) Create(providerType string, cfg map[string]interface{}) (kms.Backend, error) {
	factory, exists := r.factories[providerType]
	if !exists {
		return nil, fmt.Errorf("unknown KMS provider type: %s", providerType)
	}
	return factory(cfg)
}

// SupportedTypes returns the registered provider types.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	return types
}

// IsSupported checks if a provider type is registered.
func (r *Registry) IsSupported(providerType string) bool {
	_, exists := r.factories[providerType]
	return exists
}
