package store

// config.go defines the functional options accepted by Open and by
// RegisterStore, following the same shape as the teacher's pkg/config.go:
// a private config struct filled in by defaultConfig and mutated by Option
// values; no validation pass follows. Options never allocate unless strictly
// necessary.
//
// © msm-tis authors.

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// storageConfig bundles every knob influencing a Storage's behaviour.
type storageConfig struct {
	fallback            *Storage
	excludeFromFallback bool
	strict              bool
	logger              *zap.Logger
	registry            *prometheus.Registry
	docURI              string
}

func defaultStorageConfig() *storageConfig {
	return &storageConfig{
		excludeFromFallback: true,
		logger:              zap.NewNop(),
	}
}

// Option configures a Storage at Open time.
type Option func(*storageConfig)

// WithFallback attaches a secondary Storage consulted when a UUID is absent
// from the primary (spec.md 4.6, invariant 5).
func WithFallback(fallback *Storage) Option {
	return func(c *storageConfig) { c.fallback = fallback }
}

// WithExcludeFromFallback records on the Storage whether an object already
// present in the fallback chain is kept out of the primary (default true).
// ObjectStore.Save does not read this value; it follows the flag passed to
// ObjectStore.SetFallback.
func WithExcludeFromFallback(exclude bool) Option {
	return func(c *storageConfig) { c.excludeFromFallback = exclude }
}

// WithStrictMode makes a reference to an unregistered class tag fail with
// ErrUnknownClass instead of resolving to a Placeholder. Errors decoding a
// field fail the load in either mode; they are not replaced by placeholders.
func WithStrictMode(strict bool) Option {
	return func(c *storageConfig) { c.strict = strict }
}

// WithLogger plugs an external zap.Logger. The store never logs on the cache
// hot path; only lifecycle and error events are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *storageConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection for the storage
// instance. Passing nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *storageConfig) { c.registry = reg }
}

// WithDocumentURI supplies the connection URI consumed by the
// document-backed adapter at Open time (spec.md 6, "Environment /
// configuration").
func WithDocumentURI(uri string) Option {
	return func(c *storageConfig) { c.docURI = uri }
}

func applyOptions(opts []Option) *storageConfig {
	cfg := defaultStorageConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

/* -------------------------------------------------------------------------
   Sub-store configuration
   ------------------------------------------------------------------------- */

// subStoreConfig bundles per-ObjectStore knobs.
type subStoreConfig[T Storable] struct {
	cache Cache[T]
}

// SubStoreOption configures an ObjectStore at construction time.
type SubStoreOption[T Storable] func(*subStoreConfig[T])

// WithCache sets the initial cache policy for a sub-store. The default is
// an LRUCache(256); pass a WeakLRUCache or WeakValueCache to let the
// garbage collector reclaim entries whose only other reference has gone.
func WithCache[T Storable](c Cache[T]) SubStoreOption[T] {
	return func(cfg *subStoreConfig[T]) { cfg.cache = c }
}
