// Package bench provides reproducible micro-benchmarks for the object store.
// Run via:  go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// We measure:
//  1. Save        — write-only workload against the file-backed adapter
//  2. Load        — read-only workload after a warm-up save pass
//  3. LoadParallel — highly concurrent reads (b.RunParallel)
//  4. LRUCache Put/Get — the in-process cache tier alone, no backend I/O
//
// © msm-tis authors.
package bench

import (
	"testing"

	store "github.com/jhprinz/msm-tis/pkg"
	"github.com/jhprinz/msm-tis/pkg/model"
)

func newBenchStore(b *testing.B) (*store.Storage, *store.ObjectStore[*model.Snapshot]) {
	b.Helper()
	st, err := store.Open(b.TempDir(), "create")
	if err != nil {
		b.Fatalf("open: %v", err)
	}
	snaps, err := store.RegisterStore[*model.Snapshot](st, "snapshots", "snapshot")
	if err != nil {
		b.Fatalf("register: %v", err)
	}
	return st, snaps
}

func makeSnapshot() *model.Snapshot {
	return &model.Snapshot{
		Coordinates: []float64{1, 2, 3},
		Velocities:  []float64{0.1, 0.2, 0.3},
	}
}

func BenchmarkSave(b *testing.B) {
	st, snaps := newBenchStore(b)
	defer st.Close()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := snaps.Save(makeSnapshot()); err != nil {
			b.Fatalf("save: %v", err)
		}
	}
}

func BenchmarkLoad(b *testing.B) {
	st, snaps := newBenchStore(b)
	defer st.Close()

	const n = 1 << 12
	ids := make([]store.UUID, n)
	for i := range ids {
		s := makeSnapshot()
		if _, err := snaps.Save(s); err != nil {
			b.Fatalf("save: %v", err)
		}
		ids[i] = s.GetUUID()
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := snaps.Load(ids[i&(n-1)]); err != nil {
			b.Fatalf("load: %v", err)
		}
	}
}

func BenchmarkLoadParallel(b *testing.B) {
	st, snaps := newBenchStore(b)
	defer st.Close()

	const n = 1 << 12
	ids := make([]store.UUID, n)
	for i := range ids {
		s := makeSnapshot()
		if _, err := snaps.Save(s); err != nil {
			b.Fatalf("save: %v", err)
		}
		ids[i] = s.GetUUID()
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := snaps.Load(ids[i&(n-1)]); err != nil {
				b.Fatalf("load: %v", err)
			}
			i++
		}
	})
}

func BenchmarkLRUCachePut(b *testing.B) {
	c := store.NewLRUCache[*model.Snapshot](1024)
	s := makeSnapshot()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Put(int64(i), s)
	}
}

func BenchmarkLRUCacheGet(b *testing.B) {
	c := store.NewLRUCache[*model.Snapshot](1024)
	s := makeSnapshot()
	for i := 0; i < 1024; i++ {
		c.Put(int64(i), s)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Get(int64(i & 1023))
	}
}
