package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/goliatone/go-dataconv/internal/storage/fsstore"
	"github.com/goliatone/go-dataconv/pkg/format"
	"github.com/goliatone/go-dataconv/pkg/storage"
)

// SlotState is the lifecycle state of a shared instance slot.
type SlotState int32

const (
	// SlotValid means the slot instance may be reused.
	SlotValid SlotState = iota
	// SlotPendingRebuild means the next non-override request must build a new
	// instance. Set by invalidation and by override use.
	SlotPendingRebuild
)

func (s SlotState) String() string {
	switch s {
	case SlotValid:
		return "valid"
	case SlotPendingRebuild:
		return "pendingRebuild"
	default:
		return fmt.Sprintf("SlotState(%d)", int32(s))
	}
}

type slot struct {
	instance *Instance
	state    SlotState
}

// Option configures a Cache.
type Option func(*Cache)

// WithStore sets the template store partials and named templates are read
// from. Defaults to the OS filesystem.
func WithStore(store storage.Store) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithObserver registers a cache event observer.
func WithObserver(observer Observer) Option {
	return func(c *Cache) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithLoadTimeout bounds each partial read issued while compiling.
func WithLoadTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		c.loadTimeout = timeout
	}
}

// Cache holds one shared Instance per format and the compiled-template cache.
type Cache struct {
	store       storage.Store
	observer    Observer
	logger      *slog.Logger
	loadTimeout time.Duration

	mu     sync.Mutex
	slots  map[string]*slot
	nextID atomic.Uint64

	compiledMu sync.RWMutex
	compiled   map[string]*Template
	generation uint64

	loads singleflight.Group
}

// NewCache constructs a Cache.
func NewCache(options ...Option) *Cache {
	registerFilters()

	c := &Cache{
		observer:    nopObserver{},
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		loadTimeout: 10 * time.Second,
		slots:       make(map[string]*slot),
		compiled:    make(map[string]*Template),
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(c)
	}
	if c.store == nil {
		c.store = fsstore.New()
	}
	return c
}

// Store returns the template store.
func (c *Cache) Store() storage.Store {
	return c.store
}

// Instance returns the Instance to render handler's templates with.
//
// A non-empty overrides mapping always yields a fresh, single-use Instance;
// the shared slot is neither read nor populated, and is marked for rebuild.
// Otherwise the shared Instance is reused while its slot is valid, rooted at
// root and built for handler, and rebuilt when not.
func (c *Cache) Instance(handler format.Handler, root string, overrides map[string]string) (*Instance, error) {
	if handler == nil {
		return nil, errors.New("engine: handler is required")
	}
	key := handler.Format()

	if len(overrides) > 0 {
		inst := c.build(handler, root, overrides)
		c.mu.Lock()
		if s, ok := c.slots[key]; ok {
			s.state = SlotPendingRebuild
		}
		c.mu.Unlock()
		c.observer.InstanceBuilt(key, true)
		return inst, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[key]
	if ok && s.state == SlotValid && s.instance.root == root && s.instance.handler == handler {
		return s.instance, nil
	}

	inst := c.build(handler, root, nil)
	c.slots[key] = &slot{instance: inst, state: SlotValid}
	c.observer.InstanceBuilt(key, false)
	c.logger.Debug("engine instance built", "format", key, "root", root, "instance", inst.id)
	return inst, nil
}

// SlotState reports the state of format's shared slot. ok is false when no
// shared instance has been built yet.
func (c *Cache) SlotState(format string) (state SlotState, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.slots[format]
	if !ok {
		return SlotPendingRebuild, false
	}
	return s.state, true
}

func (c *Cache) build(handler format.Handler, root string, overrides map[string]string) *Instance {
	return newInstance(c.nextID.Add(1), handler, root, overrides, c.store, c.loadTimeout)
}

// Lookup returns the compiled template cached under identifier.
func (c *Cache) Lookup(identifier string) (*Template, bool) {
	c.compiledMu.RLock()
	defer c.compiledMu.RUnlock()

	tpl, ok := c.compiled[identifier]
	return tpl, ok
}

// Compile returns the template cached under identifier, compiling raw against
// inst and caching it on first use. Later calls return the cached template
// even if raw differs; only InvalidateAll drops entries.
func (c *Cache) Compile(inst *Instance, identifier, raw string) (*Template, error) {
	if tpl, ok := c.Lookup(identifier); ok {
		c.observer.TemplateCacheHit(identifier)
		return tpl, nil
	}
	c.observer.TemplateCacheMiss(identifier)
	return c.compileAndStore(inst, identifier, raw, c.currentGeneration())
}

// Template resolves identifier through the compiled cache, calling load for
// the template text on a miss. Concurrent misses for one identifier share a
// single load and compile.
func (c *Cache) Template(ctx context.Context, inst *Instance, identifier string, load func(ctx context.Context) ([]byte, error)) (*Template, error) {
	if tpl, ok := c.Lookup(identifier); ok {
		c.observer.TemplateCacheHit(identifier)
		return tpl, nil
	}
	c.observer.TemplateCacheMiss(identifier)

	generation := c.currentGeneration()
	key := fmt.Sprintf("%d:%s", generation, identifier)
	v, err, _ := c.loads.Do(key, func() (any, error) {
		body, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return c.compileAndStore(inst, identifier, string(body), generation)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// InvalidateAll drops every compiled template and marks every shared slot for
// rebuild.
func (c *Cache) InvalidateAll() {
	c.compiledMu.Lock()
	c.compiled = make(map[string]*Template)
	c.generation++
	c.compiledMu.Unlock()

	c.mu.Lock()
	for _, s := range c.slots {
		s.state = SlotPendingRebuild
	}
	c.mu.Unlock()

	c.observer.Invalidated()
	c.logger.Debug("engine cache invalidated")
}

func (c *Cache) currentGeneration() uint64 {
	c.compiledMu.RLock()
	defer c.compiledMu.RUnlock()
	return c.generation
}

// compileAndStore caches the result only if no invalidation happened since
// generation was read, so a compile racing an invalidation cannot reinstate a
// stale entry.
func (c *Cache) compileAndStore(inst *Instance, identifier, raw string, generation uint64) (*Template, error) {
	if inst == nil {
		return nil, errors.New("engine: instance is required")
	}
	tpl, err := inst.compile(identifier, raw)
	if err != nil {
		return nil, err
	}

	c.compiledMu.Lock()
	if c.generation == generation {
		c.compiled[identifier] = tpl
	}
	c.compiledMu.Unlock()
	return tpl, nil
}
