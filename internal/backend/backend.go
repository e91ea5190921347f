// Package backend defines the storage-adapter contract from spec.md section
// 4.7. It is intentionally free of any dependency on pkg (the object-store
// core imports backend, not the other way around): collections are addressed
// by name, documents by ordinal or UUID string, payloads as opaque JSON
// bytes.
package backend

import "errors"

// ErrNotFound is returned by Get/GetByUUID when the ordinal or UUID is
// absent from the collection.
var ErrNotFound = errors.New("backend: not found")

// Backend is the abstract storage adapter spec.md section 4.7 requires:
// typed arrays plus dimensions (the file adapter) or document collections
// (the document adapter) behind one interface.
type Backend interface {
	// CreateCollection registers a new named collection. Calling it again
	// for an existing name is a no-op.
	CreateCollection(name string) error
	// ListCollections returns every collection name known to the backend.
	ListCollections() ([]string, error)
	// Put writes payload at ordinal in collection, recording uuid as its
	// companion identity. ordinal == Count appends; a smaller ordinal
	// overwrites the record already there; a larger one is rejected.
	Put(collection string, ordinal int64, uuid string, payload []byte) error
	// Get reads the payload and companion UUID at ordinal.
	Get(collection string, ordinal int64) (uuid string, payload []byte, err error)
	// GetByUUID reads the payload and ordinal for a companion UUID.
	GetByUUID(collection string, uuid string) (ordinal int64, payload []byte, err error)
	// DistinctUUIDs returns every UUID stored in collection, in insertion
	// order, for index reconstruction on open.
	DistinctUUIDs(collection string) ([]string, error)
	// Count returns the number of documents in collection.
	Count(collection string) (int, error)
	// Sync flushes any buffered writes durably.
	Sync() error
	// Close releases any held handles. Sync is not implied.
	Close() error
	// FormatVersion reports the on-disk format's semantic version.
	FormatVersion() string
}
