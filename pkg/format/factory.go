package format

import (
	"fmt"
	"sync"

	"github.com/goliatone/go-dataconv/pkg/config"
)

// Factory maps format identifiers to Handler instances, constructing each
// handler on first use and reusing it afterwards. A Factory is bound to one
// configuration snapshot; callers replace the whole Factory to evict handlers.
type Factory struct {
	registry *Registry
	opts     config.Formats

	mu       sync.Mutex
	handlers map[string]Handler
}

// NewFactory binds registry to a snapshot of format options.
func NewFactory(registry *Registry, opts config.Formats) *Factory {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Factory{
		registry: registry,
		opts:     opts,
		handlers: make(map[string]Handler),
	}
}

// Handler returns the handler for name. Unknown names wrap ErrUnknownFormat.
func (f *Factory) Handler(name string) (Handler, error) {
	key := normalizeName(name)

	f.mu.Lock()
	defer f.mu.Unlock()

	if h, ok := f.handlers[key]; ok {
		return h, nil
	}

	constructor, err := f.registry.constructor(key)
	if err != nil {
		return nil, err
	}
	h, err := constructor(f.opts)
	if err != nil {
		return nil, fmt.Errorf("format: construct %q: %w", key, err)
	}
	if h == nil {
		return nil, fmt.Errorf("format: constructor for %q returned nil", key)
	}
	f.handlers[key] = h
	return h, nil
}

// Formats lists the identifiers this factory can serve.
func (f *Factory) Formats() []string {
	return f.registry.List()
}
