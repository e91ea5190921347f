package store

// substore.go implements ObjectStore[T], the per-type collection from
// spec.md section 4.5: index, cache, proxy registry, save/load, iteration,
// remember/forget, optional fallback. Grounded on the original_source
// HashedList/ObjectStore (openpathsampling/mongodb/object.py): mark the UUID
// before walking children so a cycle terminates, claim the ordinal when the
// document is written, roll back on failure, consult the fallback chain
// before raising NotFound.
//
// © msm-tis authors.

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"reflect"
	"sync"
	"weak"

	"go.uber.org/zap"
)

// ObjectStore is a typed collection of Storable values sharing base type T.
type ObjectStore[T Storable] struct {
	storeName  string
	baseTag    string
	storage    *Storage
	collection string

	index *orderedIndex
	cache Cache[T]

	proxyMu sync.Mutex
	proxies map[UUID]weak.Pointer[Proxy[T]]

	fallback            *ObjectStore[T]
	excludeFromFallback bool

	loaders *loaderGroup[T]
	metrics metricsSink
	logger  *zap.Logger
}

func newObjectStore[T Storable](st *Storage, name, tag string, opts []SubStoreOption[T]) *ObjectStore[T] {
	// Default policy: a bounded strong-reference LRU of 256 entries. Go
	// cannot generically derive a pointee type from T to default to a weak
	// tier here; callers wanting WeakLRUCache pass WithCache(NewWeakLRUCache[
	// Snapshot](n)) explicitly, since only they know T's concrete pointee.
	cfg := &subStoreConfig[T]{cache: NewLRUCache[T](256)}
	for _, opt := range opts {
		opt(cfg)
	}
	return &ObjectStore[T]{
		storeName:           name,
		baseTag:             tag,
		storage:             st,
		collection:          name,
		index:               newOrderedIndex(),
		cache:               cfg.cache,
		proxies:             make(map[UUID]weak.Pointer[Proxy[T]]),
		excludeFromFallback: true,
		loaders:             newLoaderGroup[T](),
		metrics:             st.metrics,
		logger:              st.logger,
	}
}

// rebuildIndex reconstructs the in-memory index from the backend's existing
// records. RegisterStore calls this right after construction so that
// re-registering a sub-store that already has documents on disk (the normal
// reopen path, and the upgrade path for a sub-store discoveredStore
// introspection found on open) recovers Load/Contains/Iterate over them
// instead of starting from an empty index. Grounded on DistinctUUIDs'
// own contract: "for index reconstruction on open" (internal/backend.Backend).
func (o *ObjectStore[T]) rebuildIndex() error {
	uuids, err := o.storage.backend.DistinctUUIDs(o.collection)
	if err != nil {
		return wrapBackendErr("rebuild_index", err)
	}
	for _, raw := range uuids {
		uuid, err := ParseUUID(raw)
		if err != nil {
			return fmt.Errorf("store: rebuild index: malformed uuid %q: %w", raw, err)
		}
		o.index.reserve(uuid)
		o.index.markWritten(uuid)
	}
	return nil
}

// SetFallback attaches a fallback sub-store consulted when a UUID is absent
// here (spec.md 3, invariant 5).
func (o *ObjectStore[T]) SetFallback(fb *ObjectStore[T], excludeFromFallback bool) {
	o.fallback = fb
	o.excludeFromFallback = excludeFromFallback
}

// Save writes obj if it is not already indexed here or (when exclusion is
// enabled) in the fallback chain. Re-saving an already-indexed object is a
// no-op returning its existing reference (spec.md 3, invariant 3's converse).
func (o *ObjectStore[T]) Save(obj T) (Reference, error) {
	if isNilStorable(obj) {
		return Reference{}, nil
	}
	if _, ok := any(obj).(T); !ok {
		return Reference{}, ErrInvalidArgument
	}
	uuid := obj.GetUUID()

	if o.index.known(uuid) {
		return Reference{Cls: o.baseTag, UUID: uuid.String()}, nil
	}

	if o.fallback != nil && o.fallback.Contains(uuid) {
		if o.excludeFromFallback {
			return Reference{Cls: o.baseTag, UUID: uuid.String()}, nil
		}
	}

	// Mark uuid as known before walking obj's fields so a reference cycle
	// back to obj encodes as a reference instead of recursing. The ordinal is
	// claimed only once the document is encoded: objects reached from obj in
	// this same collection are written first and take the lower ordinals, so
	// every backend Put stays an append.
	o.index.remember(uuid)
	doc, err := o.encode(obj, uuid)
	o.index.forget(uuid)
	if err != nil {
		return Reference{}, err
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return Reference{}, fmt.Errorf("store: encode document: %w", err)
	}

	ordinal, existed := o.index.reserve(uuid)
	if existed {
		// Lost a race with a concurrent Save of the same object.
		return Reference{Cls: o.baseTag, UUID: uuid.String()}, nil
	}
	if err := o.storage.backend.Put(o.collection, ordinal, uuid.String(), payload); err != nil {
		o.index.rollback(uuid)
		return Reference{}, wrapBackendErr("save", err)
	}
	o.index.markWritten(uuid)
	o.cache.Put(ordinal, obj)
	o.metrics.incSave(o.storeName)
	o.logger.Debug("saved object", zap.String("store", o.storeName), zap.String("uuid", uuid.String()))
	return Reference{Cls: o.baseTag, UUID: uuid.String()}, nil
}

func (o *ObjectStore[T]) encode(obj T, uuid UUID) (Document, error) {
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	dict, err := o.storage.simplifier.fieldDict(rv)
	if err != nil {
		return Document{}, err
	}
	return Document{ID: uuid.String(), Class: obj.ClassTag(), Fields: dict}, nil
}

func (o *ObjectStore[T]) decode(doc Document) (T, error) {
	var zero T
	elemType := reflect.TypeOf(zero).Elem()
	fields, err := o.storage.simplifier.decodeFields(doc.Fields, elemType, false)
	if err != nil {
		return zero, err
	}
	ptr := reflect.New(elemType)
	ptr.Elem().Set(fields)
	result := ptr.Interface().(T)
	uuid, err := ParseUUID(doc.ID)
	if err != nil {
		return zero, fmt.Errorf("store: decode document %s: %w", doc.ID, err)
	}
	result.SetUUID(uuid)
	return result, nil
}

// Load resolves id, trying the cache, then the backend, then the fallback
// chain, in that order (spec.md 4.5).
func (o *ObjectStore[T]) Load(id UUID) (T, error) {
	var zero T
	entry, ok := o.index.get(id)
	if !ok {
		if o.fallback != nil {
			return o.fallback.Load(id)
		}
		return zero, ErrNotFound
	}
	if entry.state == stateReserved {
		return zero, ErrNotFound
	}
	ordinal := entry.ordinal
	if obj, ok := o.cache.Get(ordinal); ok {
		o.metrics.incCacheHit(o.storeName)
		return obj, nil
	}
	o.metrics.incCacheMiss(o.storeName)

	obj, err := o.loaders.load(ordinal, func() (T, error) {
		_, payload, err := o.storage.backend.Get(o.collection, ordinal)
		if err != nil {
			return zero, wrapBackendErr("load", err)
		}
		var doc Document
		if err := json.Unmarshal(payload, &doc); err != nil {
			return zero, fmt.Errorf("store: decode document: %w", err)
		}
		return o.decode(doc)
	})
	if err != nil {
		return zero, err
	}
	o.cache.Put(ordinal, obj)
	o.metrics.incLoad(o.storeName)
	return obj, nil
}

// LoadOrdinal resolves an object by its local ordinal (spec.md 4.5: "accepts
// UUID or local ordinal"). Negative ordinals are InvalidArgument.
func (o *ObjectStore[T]) LoadOrdinal(ordinal int64) (T, error) {
	var zero T
	if ordinal < 0 {
		return zero, ErrInvalidArgument
	}
	uuid, ok := o.index.uuidAt(ordinal)
	if !ok {
		return zero, ErrNotFound
	}
	return o.Load(uuid)
}

// Contains reports whether id is indexed here (saved or remembered) or in
// any fallback.
func (o *ObjectStore[T]) Contains(id UUID) bool {
	if o.index.known(id) {
		return true
	}
	if o.fallback != nil {
		return o.fallback.Contains(id)
	}
	return false
}

// Remember marks obj's UUID as assumed-stored without writing a document
// (spec.md 4.5): references to it serialize, but no payload is emitted.
func (o *ObjectStore[T]) Remember(obj T) {
	if isNilStorable(obj) {
		return
	}
	o.index.remember(obj.GetUUID())
}

// Forget undoes a prior Remember and reports whether obj was remembered.
// Saved objects are never un-indexed by it. It also clears the cache.
func (o *ObjectStore[T]) Forget(obj T) bool {
	if isNilStorable(obj) {
		return false
	}
	uuid := obj.GetUUID()
	o.cache.Clear()
	return o.index.forget(uuid)
}

// Proxy returns the canonical proxy for id without resolving it, sharing a
// single instance across concurrent requests via a weak registry.
func (o *ObjectStore[T]) Proxy(id UUID) *Proxy[T] {
	o.proxyMu.Lock()
	defer o.proxyMu.Unlock()
	if wp, ok := o.proxies[id]; ok {
		if p := wp.Value(); p != nil {
			return p
		}
	}
	p := newProxy(o, id)
	o.proxies[id] = weak.Make(p)
	return p
}

// Iterate yields every object in insertion order (spec.md 8: "iterate()
// yields objects in the order they were saved").
func (o *ObjectStore[T]) Iterate() iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, uuid := range o.index.snapshot() {
			obj, err := o.Load(uuid)
			if !yield(obj, err) {
				return
			}
		}
	}
}

// WarmCache populates the cache by loading every ordinal through the
// ordinary Load path (spec.md section 9, Open Question (ii): cache_all is
// optional and must not bypass normal loading).
func (o *ObjectStore[T]) WarmCache(ctx context.Context) error {
	n := int64(o.index.len())
	for i := int64(0); i < n; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if _, err := o.LoadOrdinal(i); err != nil {
			return err
		}
	}
	return nil
}

// SetCache swaps the cache policy at runtime, migrating live entries
// (spec.md, grounding source's set_caching).
func (o *ObjectStore[T]) SetCache(c Cache[T]) {
	c.Transfer(o.cache)
	o.cache = c
}

// Idx returns obj's local ordinal, if indexed.
func (o *ObjectStore[T]) Idx(obj T) (int64, bool) {
	if isNilStorable(obj) {
		return 0, false
	}
	return o.index.ordinalOf(obj.GetUUID())
}

// Free reports the number of ordinals allocated so far.
func (o *ObjectStore[T]) Free() int64 { return int64(o.index.len()) }

// First loads the object at ordinal 0.
func (o *ObjectStore[T]) First() (T, error) { return o.LoadOrdinal(0) }

// Last loads the most recently appended object.
func (o *ObjectStore[T]) Last() (T, error) {
	n := o.index.len()
	var zero T
	if n == 0 {
		return zero, ErrNotFound
	}
	return o.LoadOrdinal(int64(n - 1))
}

/* -------------------------------------------------------------------------
   Type-erased handle, used by Storage to route save/load by class tag
   ------------------------------------------------------------------------- */

func (o *ObjectStore[T]) saveAny(obj Storable) (Reference, error) {
	t, ok := obj.(T)
	if !ok {
		return Reference{}, ErrInvalidArgument
	}
	return o.Save(t)
}

func (o *ObjectStore[T]) resolveAny(id UUID, eager bool) (Storable, error) {
	if eager {
		return o.Load(id)
	}
	return o.Proxy(id), nil
}

func (o *ObjectStore[T]) containsAny(id UUID) bool { return o.Contains(id) }

func (o *ObjectStore[T]) warmAny(ctx context.Context) error { return o.WarmCache(ctx) }

func (o *ObjectStore[T]) name() string { return o.storeName }

func (o *ObjectStore[T]) tag() string { return o.baseTag }

func isNilStorable(obj any) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}
