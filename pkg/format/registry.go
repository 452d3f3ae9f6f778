package format

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-dataconv/pkg/config"
)

// Constructor builds a Handler from the format options of a configuration
// snapshot.
type Constructor func(opts config.Formats) (Handler, error)

// Registry stores handler constructors by format identifier.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a constructor. Duplicate names return an error.
func (r *Registry) Register(name string, constructor Constructor) error {
	if constructor == nil {
		return fmt.Errorf("format: constructor is required")
	}
	key := normalizeName(name)
	if key == "" {
		return fmt.Errorf("format: format name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[key]; exists {
		return fmt.Errorf("format: %q already registered", key)
	}

	r.constructors[key] = constructor
	return nil
}

// MustRegister panics on registration failure.
func (r *Registry) MustRegister(name string, constructor Constructor) {
	if err := r.Register(name, constructor); err != nil {
		panic(err)
	}
}

// constructor retrieves a constructor by name.
func (r *Registry) constructor(name string) (Constructor, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrUnknownFormat)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	constructor, ok := r.constructors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, key)
	}
	return constructor, nil
}

// List returns a sorted list of format names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a format is registered.
func (r *Registry) Has(name string) bool {
	key := normalizeName(name)
	if key == "" {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.constructors[key]
	return ok
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
