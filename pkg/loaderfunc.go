package store

// loaderfunc.go defines backendLoadFunc, the internal callback an ObjectStore
// hands to its loader group to fetch and decode a single document from the
// backend. Kept in its own file, matching the teacher's separation of
// LoaderFunc from the singleflight plumbing in loader.go.
//
// © msm-tis authors.

// backendLoadFunc fetches and decodes the document at ordinal n, returning
// the live object. It must not re-enter Load for the same ordinal.
type backendLoadFunc[T Storable] func() (T, error)
