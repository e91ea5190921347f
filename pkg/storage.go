package store

// storage.go implements Storage, the root object from spec.md section 4.6:
// a registry of named, type-erased sub-stores, the simplifier's reference
// routing, an optional fallback Storage, and the create/open bootstrap
// protocol via a self-describing "stores" meta collection.
//
// © msm-tis authors.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jhprinz/msm-tis/internal/backend"
	"github.com/jhprinz/msm-tis/internal/backend/docbackend"
	"github.com/jhprinz/msm-tis/internal/backend/filebackend"
)

const (
	metaCollection   = "stores"
	metaOrdinal      = 0
	codecFormat      = "msm-tis-store"
	codecVersion     = "1.0.0"
	metaRecordUUID   = "00000000-0000-0000-0000-000000000000"
)

// subStoreHandle type-erases ObjectStore[T] so Storage can route by class
// tag without knowing T at compile time (spec.md 4.6: "routes by runtime
// type").
type subStoreHandle interface {
	name() string
	tag() string
	saveAny(obj Storable) (Reference, error)
	resolveAny(id UUID, eager bool) (Storable, error)
	containsAny(id UUID) bool
	warmAny(ctx context.Context) error
}

// discoveredStore is a placeholder subStoreHandle registered from the
// on-disk meta document when a store is reopened, before the caller has
// called RegisterStore[T] for that name (spec.md 4.6: "the root sub-store
// is read first, which drives the registration of the remaining
// sub-stores"). It knows enough for introspection — name, tag, and the
// backend's own Count — but not the element type, so Save/Load through it
// fail with ErrNotRegistered until RegisterStore[T] upgrades it.
type discoveredStore struct {
	storeName string
	baseTag   string
}

func (d *discoveredStore) name() string { return d.storeName }
func (d *discoveredStore) tag() string  { return d.baseTag }

func (d *discoveredStore) saveAny(Storable) (Reference, error) {
	return Reference{}, fmt.Errorf("%w: %q", ErrNotRegistered, d.storeName)
}

func (d *discoveredStore) resolveAny(UUID, bool) (Storable, error) {
	return nil, fmt.Errorf("%w: %q", ErrNotRegistered, d.storeName)
}

func (d *discoveredStore) containsAny(UUID) bool { return false }

func (d *discoveredStore) warmAny(context.Context) error { return nil }

// Storage is the root object every caller opens and closes.
type Storage struct {
	mu     sync.RWMutex
	stores map[string]subStoreHandle
	byTag  map[string]subStoreHandle

	backend    backend.Backend
	simplifier *simplifier

	fallback            *Storage
	excludeFromFallback bool
	strict              bool

	logger  *zap.Logger
	metrics metricsSink

	closed bool
}

type metaSubStoreDoc struct {
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

type metaDoc struct {
	Format        string            `json:"format"`
	Version       string            `json:"version"`
	HighWaterMark uint64            `json:"high_water_mark"`
	SubStores     []metaSubStoreDoc `json:"sub_stores"`
}

// Open opens or creates a storage at path. mode is one of "create",
// "append", "read" (spec.md 6). When WithDocumentURI is supplied the
// document-backed adapter is used instead of the array-backed file adapter,
// and path is ignored.
func Open(path string, mode string, opts ...Option) (*Storage, error) {
	cfg := applyOptions(opts)

	var be backend.Backend
	var err error
	if cfg.docURI != "" {
		be, err = docbackend.Open(cfg.docURI, mode)
	} else {
		be, err = filebackend.Open(path, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("store: open backend: %w", err)
	}

	st := &Storage{
		stores:              make(map[string]subStoreHandle),
		byTag:               make(map[string]subStoreHandle),
		backend:             be,
		fallback:            cfg.fallback,
		excludeFromFallback: cfg.excludeFromFallback,
		strict:              cfg.strict,
		logger:              cfg.logger,
		metrics:             newMetricsSink(cfg.registry),
	}
	st.simplifier = newSimplifier(st)

	switch mode {
	case "create":
		if err := st.bootstrapNew(); err != nil {
			be.Close()
			return nil, err
		}
	default:
		if err := st.bootstrapExisting(); err != nil {
			be.Close()
			return nil, err
		}
	}
	return st, nil
}

func (s *Storage) bootstrapNew() error {
	if err := s.backend.CreateCollection(metaCollection); err != nil {
		return wrapBackendErr("bootstrap", err)
	}
	return s.Sync()
}

func (s *Storage) bootstrapExisting() error {
	_, payload, err := s.backend.Get(metaCollection, metaOrdinal)
	if err != nil {
		return wrapBackendErr("open", err)
	}
	var doc metaDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("store: decode meta document: %w", err)
	}
	if err := s.checkVersion(doc.Version); err != nil {
		return err
	}
	SeedCounter(doc.HighWaterMark)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range doc.SubStores {
		if err := s.backend.CreateCollection(sub.Name); err != nil {
			return wrapBackendErr("open", err)
		}
		h := &discoveredStore{storeName: sub.Name, baseTag: sub.Tag}
		s.stores[sub.Name] = h
		s.byTag[sub.Tag] = h
	}
	return nil
}

func (s *Storage) checkVersion(diskVersion string) error {
	dMajor, dMinor, err := parseMajorMinor(diskVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaMismatch, err)
	}
	cMajor, cMinor, _ := parseMajorMinor(codecVersion)
	if dMajor != cMajor {
		return fmt.Errorf("%w: on-disk format %s, codec %s", ErrSchemaMismatch, diskVersion, codecVersion)
	}
	if dMinor > cMinor {
		s.logger.Warn("opening storage written by a newer minor version",
			zap.String("disk_version", diskVersion), zap.String("codec_version", codecVersion))
	}
	return nil
}

func parseMajorMinor(v string) (int, int, error) {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("malformed version %q", v)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed major version %q: %w", v, err)
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("malformed minor version %q: %w", v, err)
	}
	return major, minor, nil
}

// Sync persists the current sub-store registry and the UUID high-water mark
// to the meta collection, and flushes the backend.
func (s *Storage) Sync() error {
	s.mu.RLock()
	subs := make([]metaSubStoreDoc, 0, len(s.stores))
	for name, h := range s.stores {
		subs = append(subs, metaSubStoreDoc{Name: name, Tag: h.tag()})
	}
	s.mu.RUnlock()

	doc := metaDoc{Format: codecFormat, Version: codecVersion, HighWaterMark: HighWaterMark(), SubStores: subs}
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("store: encode meta document: %w", err)
	}
	// Ordinal 0 of the meta collection is rewritten in place on every Sync;
	// both backends accept an overwrite of an already-written ordinal.
	if err := s.backend.Put(metaCollection, metaOrdinal, metaRecordUUID, payload); err != nil {
		return wrapBackendErr("sync", err)
	}
	return wrapBackendErr("sync", s.backend.Sync())
}

// RegisterStore attaches a new sub-store under name, routing objects whose
// ClassTag equals tag to it (spec.md 4.6). If name was already discovered
// from the on-disk meta document on reopen (a *discoveredStore placeholder,
// introspectable but untyped), this call upgrades it to a concrete
// ObjectStore[T] rather than failing — that upgrade is exactly how a caller
// reopening an existing store regains typed Save/Load. It is a
// package-level generic function rather than a method because Go methods
// cannot introduce their own type parameters.
func RegisterStore[T Storable](s *Storage, name, tag string, opts ...SubStoreOption[T]) (*ObjectStore[T], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, exists := s.stores[name]; exists {
		if _, discovered := existing.(*discoveredStore); !discovered {
			return nil, fmt.Errorf("store: sub-store %q already registered", name)
		}
	}
	if err := s.backend.CreateCollection(name); err != nil {
		return nil, wrapBackendErr("register_store", err)
	}
	os := newObjectStore[T](s, name, tag, opts)
	if err := os.rebuildIndex(); err != nil {
		return nil, err
	}
	s.stores[name] = os
	s.byTag[tag] = os
	return os, nil
}

// Store returns the previously registered sub-store named name, type-asserted
// to T. Go's lack of dynamic attribute access means storage.<name> becomes a
// typed lookup instead (spec.md 6, adapted).
func Store[T Storable](s *Storage, name string) (*ObjectStore[T], error) {
	s.mu.RLock()
	h, ok := s.stores[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: no such sub-store %q", name)
	}
	os, ok := h.(*ObjectStore[T])
	if !ok {
		return nil, fmt.Errorf("store: sub-store %q is not the requested type", name)
	}
	return os, nil
}

// findHandle returns the type-erased sub-store handle whose tag matches
// obj's ClassTag, used internally by Save to route without knowing T.
func (s *Storage) findHandle(obj Storable) (subStoreHandle, error) {
	tag := obj.ClassTag()
	s.mu.RLock()
	h, ok := s.byTag[tag]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: no sub-store registered for class tag %q", tag)
	}
	return h, nil
}

// FindStore returns the registered sub-store whose tag matches obj's
// ClassTag, type-asserted to T (spec.md 4.6: find_store). It is a
// package-level generic function for the same reason Store is.
func FindStore[T Storable](s *Storage, obj Storable) (*ObjectStore[T], error) {
	h, err := s.findHandle(obj)
	if err != nil {
		return nil, err
	}
	os, ok := h.(*ObjectStore[T])
	if !ok {
		return nil, fmt.Errorf("store: sub-store for tag %q is not the requested type", obj.ClassTag())
	}
	return os, nil
}

// Save routes obj to its sub-store by class tag and saves it. Saving a nil
// Storable is a no-op returning a null reference (spec.md 4.5 edge case).
func (s *Storage) Save(obj Storable) (Reference, error) {
	if s.closed {
		return Reference{}, ErrClosed
	}
	if isNilStorable(obj) {
		return Reference{}, nil
	}
	return s.saveNested(obj)
}

// SaveAll saves every element independently (spec.md 4.5: "saving a sequence
// saves each element independently and returns the list of references").
func (s *Storage) SaveAll(objs []Storable) ([]Reference, error) {
	refs := make([]Reference, len(objs))
	for i, obj := range objs {
		ref, err := s.Save(obj)
		if err != nil {
			return nil, fmt.Errorf("store: save element %d: %w", i, err)
		}
		refs[i] = ref
	}
	return refs, nil
}

// Load scans registered sub-stores for id; UUIDs are globally unique so at
// most one sub-store ever holds it (spec.md 4.6).
func (s *Storage) Load(id UUID) (Storable, error) {
	if s.closed {
		return nil, ErrClosed
	}
	s.mu.RLock()
	handles := make([]subStoreHandle, 0, len(s.stores))
	for _, h := range s.stores {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	for _, h := range handles {
		if h.containsAny(id) {
			return h.resolveAny(id, true)
		}
	}
	if s.fallback != nil {
		return s.fallback.Load(id)
	}
	return nil, ErrNotFound
}

// CollectionInfo describes one registered sub-store for introspection
// tooling (spec.md 6: the inspector needs to enumerate sub-stores without
// knowing their element types at compile time).
type CollectionInfo struct {
	Name  string
	Tag   string
	Count int
}

// Collections lists every registered sub-store along with its document
// count, in no particular order.
func (s *Storage) Collections() ([]CollectionInfo, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.stores))
	tags := make(map[string]string, len(s.stores))
	for name, h := range s.stores {
		names = append(names, name)
		tags[name] = h.tag()
	}
	s.mu.RUnlock()

	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		n, err := s.backend.Count(name)
		if err != nil {
			return nil, wrapBackendErr("count", err)
		}
		out = append(out, CollectionInfo{Name: name, Tag: tags[name], Count: n})
	}
	return out, nil
}

// WarmAll populates every sub-store's cache via WarmCache.
func (s *Storage) WarmAll(ctx context.Context) error {
	s.mu.RLock()
	handles := make([]subStoreHandle, 0, len(s.stores))
	for _, h := range s.stores {
		handles = append(handles, h)
	}
	s.mu.RUnlock()
	for _, h := range handles {
		if err := h.warmAny(ctx); err != nil {
			return fmt.Errorf("store: warm %s: %w", h.name(), err)
		}
	}
	return nil
}

// Close flushes the meta document and releases the backend. Subsequent
// operations return ErrClosed.
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.Sync(); err != nil {
		s.backend.Close()
		return err
	}
	return wrapBackendErr("close", s.backend.Close())
}

/* -------------------------------------------------------------------------
   refHost: simplifier callbacks
   ------------------------------------------------------------------------- */

func (s *Storage) saveNested(obj Storable) (Reference, error) {
	h, err := s.findHandle(obj)
	if err != nil {
		return Reference{}, err
	}
	return h.saveAny(obj)
}

func (s *Storage) resolveNested(ref Reference, eager bool) (Storable, error) {
	s.mu.RLock()
	h, ok := s.byTag[ref.Cls]
	s.mu.RUnlock()
	if !ok {
		if s.strict {
			return nil, fmt.Errorf("%w: %s", ErrUnknownClass, ref.Cls)
		}
		id, _ := ParseUUID(ref.UUID)
		return &Placeholder{Base: Base{UUID: id}, Cls: ref.Cls}, nil
	}
	id, err := ParseUUID(ref.UUID)
	if err != nil {
		return nil, fmt.Errorf("store: malformed reference uuid %q: %w", ref.UUID, err)
	}
	obj, err := h.resolveAny(id, eager)
	if err != nil {
		if errors.Is(err, ErrNotFound) && s.fallback != nil {
			return s.fallback.resolveNested(ref, eager)
		}
		return nil, err
	}
	return obj, nil
}
