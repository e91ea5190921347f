package store

// storable.go defines the Storable contract (spec.md section 3) and Base,
// the embeddable struct that gives a domain type its identity. Go has no
// runtime class hierarchy to piggy-back on, so spec.md's "inheritance tree"
// replacement (section 9) is implemented here as an explicit class tag
// string: every concrete type names its own sub-store via ClassTag, and
// routing happens by tag lookup rather than by walking a type hierarchy.
//
// © msm-tis authors.

// Storable is the unit of persistence: every object saved through a Storage
// must implement it. ClassTag identifies which sub-store owns the type.
type Storable interface {
	GetUUID() UUID
	SetUUID(UUID)
	ClassTag() string
}

// Base is embedded by every domain type to provide UUID identity. It must
// be embedded by value so that GetUUID/SetUUID operate on the enclosing
// struct's own copy of the field (consistent with Go's embedding rules when
// the domain type is always used as a pointer).
type Base struct {
	UUID UUID
}

// GetUUID returns the object's identity, assigning one lazily from the
// process counter on first call if it is still nil. This matches the
// "assigned at construction" contract for callers that build domain structs
// as plain composite literals instead of through a constructor.
func (b *Base) GetUUID() UUID {
	if b.UUID.IsNil() {
		b.UUID = Next()
	}
	return b.UUID
}

// SetUUID overrides the identity. Used only by the simplifier when
// reconstructing an object from a document, and by proxies which never call
// it (their UUID is immutable once constructed).
func (b *Base) SetUUID(u UUID) { b.UUID = u }
