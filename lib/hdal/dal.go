package hdal

import (
	"context"
	"math/rand"
	"time"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var log = logger.GetLogger("hdal")

// DAL is the data access layer. It maps the registered types onto a persistent store
// and uses a volatile store as cache. All state that outlives a call lives in the
// stores, so any number of DAL instances (in any number of processes) can share them.
//
// Thread-safety: a DAL is safe for concurrent use. The objects and lists it returns are not.
type DAL struct {
	registry   *Registry
	persistent store.IPersistentStore
	volatile   store.IVolatileStore
	config     Config

	// in-process memoization of data derived from the immutable registry
	relations   *xsync.MapOf[string, map[string]ForeignRelation]
	descriptors *xsync.MapOf[string, Descriptor]

	// collapses concurrent cache misses of the same query and concurrent cache fills
	group singleflight.Group
}

// Option configures a DAL
type Option func(*DAL)

// WithConfig replaces the default configuration
func WithConfig(config Config) Option {
	return func(d *DAL) {
		d.config = config
	}
}

// New creates a data access layer on top of the given stores.
// The registry is sealed: all relation targets must be registered and no types can be added afterward.
func New(registry *Registry, persistent store.IPersistentStore, volatile store.IVolatileStore, opts ...Option) (*DAL, error) {
	if registry == nil {
		return nil, errors.Wrap(ErrUnknownType, "no registry")
	}
	if persistent == nil {
		return nil, errors.Wrap(ErrInvalidStore, "no persistent store configured")
	}
	if volatile == nil {
		return nil, errors.Wrap(ErrInvalidStore, "no volatile store configured")
	}
	if err := registry.seal(); err != nil {
		return nil, err
	}

	d := &DAL{
		registry:    registry,
		persistent:  persistent,
		volatile:    volatile,
		config:      DefaultConfig(),
		relations:   xsync.NewMapOf[string, map[string]ForeignRelation](),
		descriptors: xsync.NewMapOf[string, Descriptor](),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.config = d.config.normalize()

	log.Debugf("data access layer with %d types created", len(registry.Types()))
	return d, nil
}

// Registry returns the registry of the DAL
func (d *DAL) Registry() *Registry {
	return d.registry
}

// Config returns the configuration of the DAL
func (d *DAL) Config() Config {
	return d.config
}

// Persistent returns the persistent store
func (d *DAL) Persistent() store.IPersistentStore {
	return d.persistent
}

// Volatile returns the volatile store
func (d *DAL) Volatile() store.IVolatileStore {
	return d.volatile
}

// listTTL returns a random lifetime for a cached query result
func (d *DAL) listTTL() time.Duration {
	span := d.config.ListCacheTTLMax - d.config.ListCacheTTLMin
	if span <= 0 {
		return d.config.ListCacheTTLMin
	}
	return d.config.ListCacheTTLMin + time.Duration(rand.Int63n(int64(span)+1))
}

// shared runs fn once for all concurrent callers of the same key. The shared call
// does not inherit the cancellation of the caller that started it, each caller
// only waits as long as its own context allows.
func (d *DAL) shared(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := d.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, errors.Mark(errors.Wrapf(ctx.Err(), "waiting for %s", key), ErrUnavailable)
	}
}
