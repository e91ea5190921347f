package store

// loader.go implements the singleflight-based de-duplication layer used by
// ObjectStore.Load: when many goroutines request the same not-yet-cached
// ordinal simultaneously, only one of them actually hits the backend; the
// rest wait for its result. This strengthens (never weakens) the ordering
// guarantees in spec.md section 5 under concurrent readers.
//
// Adapted from the teacher's pkg/loader.go, which wraps x/sync/singleflight
// the same way: a generic key (here, the decimal ordinal) gates concurrent
// calls to a single fetch function.
//
// © msm-tis authors.

import (
	"strconv"

	"golang.org/x/sync/singleflight"
)

// loaderGroup de-duplicates concurrent backend fetches for the same
// ordinal within one ObjectStore.
type loaderGroup[T Storable] struct {
	g singleflight.Group
}

func newLoaderGroup[T Storable]() *loaderGroup[T] {
	return &loaderGroup[T]{}
}

// load executes fn exactly once for the given ordinal across all concurrent
// callers; every waiter receives the same value/error.
func (lg *loaderGroup[T]) load(ordinal int64, fn backendLoadFunc[T]) (T, error) {
	key := strconv.FormatInt(ordinal, 10)
	res, err, _ := lg.g.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}
