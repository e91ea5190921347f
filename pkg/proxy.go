package store

// proxy.go implements the deferred-reference placeholder from spec.md
// section 4.3. Because Go has no transparent attribute interception, a
// Proxy[T] satisfies Storable itself (so it can sit directly in any
// interface-typed field that would otherwise hold the referent) and exposes
// an explicit Resolve method; callers retrieve the concrete value with the
// As[T] helper in simplifier.go, which resolves a proxy exactly once and
// memoizes the result, matching "the first field access triggers load".
//
// © msm-tis authors.

import "sync"

// Proxy is a lightweight placeholder carrying (store, uuid). It is
// structurally equal to the real object via UUID, and two requests for the
// same not-yet-loaded ID share one Proxy instance through the owning
// ObjectStore's weak proxy registry.
type Proxy[T Storable] struct {
	store *ObjectStore[T]
	id    UUID

	mu       sync.Mutex
	resolved T
	done     bool
	err      error
}

// newProxy constructs an unresolved proxy. Only ObjectStore.Proxy should
// call this, so that the weak registry stays the single source of truth for
// "the" proxy of a given UUID.
func newProxy[T Storable](s *ObjectStore[T], id UUID) *Proxy[T] {
	return &Proxy[T]{store: s, id: id}
}

// GetUUID returns the identity the proxy stands in for.
func (p *Proxy[T]) GetUUID() UUID { return p.id }

// SetUUID is a no-op guard: a proxy's identity is fixed at construction.
func (p *Proxy[T]) SetUUID(UUID) {}

// ClassTag delegates to the owning sub-store's tag. Safe to call before
// resolution since it never touches p.resolved.
func (p *Proxy[T]) ClassTag() string {
	if p.store == nil {
		var zero T
		return zero.ClassTag()
	}
	return p.store.baseTag
}

// Resolve loads the referent on first call and memoizes the result (or
// error) for subsequent calls. Concurrent callers block on the same load via
// the mutex; none triggers a second backend fetch because the first winner
// also primes the sub-store's own cache and loader de-duplication.
func (p *Proxy[T]) Resolve() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return p.resolved, p.err
	}
	v, err := p.store.Load(p.id)
	p.resolved = v
	p.err = err
	p.done = true
	return v, err
}

// resolve implements the unexported interface simplifier.As uses to unwrap
// a Storable value that may actually be a proxy.
func (p *Proxy[T]) resolve() (Storable, error) {
	v, err := p.Resolve()
	if err != nil {
		return nil, err
	}
	return v, nil
}

// resolver is implemented by every Proxy[T]; As uses it to transparently
// unwrap a proxy without knowing its concrete T ahead of time.
type resolver interface {
	resolve() (Storable, error)
}
