package backends

import (
	"context"
	"sync"

	"github.com/teamvault/teamvault/pkg/kms"
)

// lazyBackend defers real backend construction until first use, so
// commands that never touch a KMS-held secret never build SDK clients
// or read cloud credentials.
type lazyBackend struct {
	providerType string
	registry     *Registry
	config       map[string]interface{}

	once    sync.Once
	backend kms.Backend
	err     error
}

// NewLazy wraps a registry factory in a backend that constructs the
// real client on first call.
func NewLazy(r *Registry, providerType string, config map[string]interface{}) kms.Backend {
	return &lazyBackend{providerType: providerType, registry: r, config: config}
}

func (l *lazyBackend) resolve() (kms.Backend, error) {
	l.once.Do(func() {
		l.backend, l.err = l.registry.Create(l.providerType, l.config)
	})
	return l.backend, l.err
}

func (l *lazyBackend) Name() string {
	return l.providerType
}

func (l *lazyBackend) Wrap(ctx context.Context, dataKey []byte, keyRef string) ([]byte, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.Wrap(ctx, dataKey, keyRef)
}

func (l *lazyBackend) Unwrap(ctx context.Context, wrapped []byte, keyRef string) ([]byte, error) {
	b, err := l.resolve()
	if err != nil {
		return nil, err
	}
	return b.Unwrap(ctx, wrapped, keyRef)
}

func (l *lazyBackend) Validate(ctx context.Context) error {
	b, err := l.resolve()
	if err != nil {
		return err
	}
	return b.Validate(ctx)
}
