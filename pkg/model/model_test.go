package model_test

// model_test.go exercises the domain types through the public store API: a
// trajectory of snapshots saves and loads with its frames transparently
// proxied, a reversed snapshot shares its creation ordinal with its mate,
// and a sample round-trips its trajectory/ensemble edges. Written in the
// teacher corpus's plain testing style.
//
// © msm-tis authors.

import (
	"testing"

	store "github.com/jhprinz/msm-tis/pkg"
	"github.com/jhprinz/msm-tis/pkg/model"
)

type fixtures struct {
	storage      *store.Storage
	snapshots    *store.ObjectStore[*model.Snapshot]
	trajectories *store.ObjectStore[*model.Trajectory]
	ensembles    *store.ObjectStore[*model.Ensemble]
	samples      *store.ObjectStore[*model.Sample]
	moves        *store.ObjectStore[*model.MoveRecord]
}

func newFixtures(t *testing.T) *fixtures {
	t.Helper()
	st, err := store.Open(t.TempDir(), "create")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	snapshots, err := store.RegisterStore[*model.Snapshot](st, "snapshots", "snapshot")
	if err != nil {
		t.Fatalf("register snapshots: %v", err)
	}
	trajectories, err := store.RegisterStore[*model.Trajectory](st, "trajectories", "trajectory")
	if err != nil {
		t.Fatalf("register trajectories: %v", err)
	}
	ensembles, err := store.RegisterStore[*model.Ensemble](st, "ensembles", "ensemble")
	if err != nil {
		t.Fatalf("register ensembles: %v", err)
	}
	samples, err := store.RegisterStore[*model.Sample](st, "samples", "sample")
	if err != nil {
		t.Fatalf("register samples: %v", err)
	}
	moves, err := store.RegisterStore[*model.MoveRecord](st, "moves", "move_record")
	if err != nil {
		t.Fatalf("register moves: %v", err)
	}
	return &fixtures{storage: st, snapshots: snapshots, trajectories: trajectories, ensembles: ensembles, samples: samples, moves: moves}
}

func TestTrajectoryRoundTripsFramesViaProxy(t *testing.T) {
	f := newFixtures(t)

	s0 := &model.Snapshot{Coordinates: []float64{0, 0, 0}, Velocities: []float64{1, 0, 0}}
	s1 := &model.Snapshot{Coordinates: []float64{1, 0, 0}, Velocities: []float64{1, 0, 0}}
	traj := &model.Trajectory{Frames: []store.Storable{s0, s1}}

	if _, err := f.trajectories.Save(traj); err != nil {
		t.Fatalf("save trajectory: %v", err)
	}

	// Bypass the cache so Load decodes the stored document, whose frames
	// come back as unresolved proxies.
	f.trajectories.SetCache(store.NewNoCache[*model.Trajectory]())
	loaded, err := f.trajectories.Load(traj.GetUUID())
	if err != nil {
		t.Fatalf("load trajectory: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("loaded.Len() = %d, want 2", loaded.Len())
	}
	if _, ok := loaded.Frames[0].(*store.Proxy[*model.Snapshot]); !ok {
		t.Fatalf("frame 0 is %T, want an unresolved proxy", loaded.Frames[0])
	}

	frame0, err := loaded.Frame(0)
	if err != nil {
		t.Fatalf("resolve frame 0: %v", err)
	}
	if frame0.GetUUID() != s0.GetUUID() {
		t.Fatalf("frame 0 uuid mismatch")
	}
	if len(frame0.Coordinates) != 3 || frame0.Coordinates[0] != 0 {
		t.Fatalf("frame 0 coordinates = %v", frame0.Coordinates)
	}
}

func TestSnapshotReversedCopySharesOrdinal(t *testing.T) {
	f := newFixtures(t)
	s := &model.Snapshot{Coordinates: []float64{1, 2, 3}, Velocities: []float64{4, 5, 6}}
	if _, err := f.snapshots.Save(s); err != nil {
		t.Fatalf("save: %v", err)
	}

	rev := s.ReversedCopy()
	if rev.GetUUID() == s.GetUUID() {
		t.Fatalf("reversed copy must have a distinct uuid")
	}
	if rev.GetUUID().Reversed() != s.GetUUID() {
		t.Fatalf("reversed copy's uuid is not s's reversed mate")
	}
	if !rev.Reversed {
		t.Fatalf("reversed copy should have Reversed=true")
	}
	for i, v := range rev.Velocities {
		if v != -s.Velocities[i] {
			t.Fatalf("velocity %d not negated: got %v, want %v", i, v, -s.Velocities[i])
		}
	}
}

func TestSampleRoundTripsTrajectoryAndEnsemble(t *testing.T) {
	f := newFixtures(t)

	snap := &model.Snapshot{Coordinates: []float64{0}}
	traj := &model.Trajectory{Frames: []store.Storable{snap}}
	ens := &model.Ensemble{Name: "TIS-A", Description: "interface ensemble A"}
	sample := &model.Sample{Trajectory: traj, Ensemble: ens, Replica: 3}

	if _, err := f.samples.Save(sample); err != nil {
		t.Fatalf("save sample: %v", err)
	}

	loaded, err := f.samples.Load(sample.GetUUID())
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if loaded.Replica != 3 {
		t.Fatalf("loaded.Replica = %d, want 3", loaded.Replica)
	}
	loadedTraj, err := loaded.TrajectoryObj()
	if err != nil {
		t.Fatalf("resolve trajectory: %v", err)
	}
	if loadedTraj.GetUUID() != traj.GetUUID() {
		t.Fatalf("trajectory uuid mismatch")
	}
	loadedEns, err := loaded.EnsembleObj()
	if err != nil {
		t.Fatalf("resolve ensemble: %v", err)
	}
	if loadedEns.Name != "TIS-A" {
		t.Fatalf("loaded ensemble name = %q, want TIS-A", loadedEns.Name)
	}
}

func TestMoveRecordTracksInputsAndOutputs(t *testing.T) {
	f := newFixtures(t)

	ens := &model.Ensemble{Name: "TIS-B"}
	inTraj := &model.Trajectory{Frames: []store.Storable{&model.Snapshot{Coordinates: []float64{0}}}}
	outTraj := &model.Trajectory{Frames: []store.Storable{&model.Snapshot{Coordinates: []float64{1}}}}
	in := &model.Sample{Trajectory: inTraj, Ensemble: ens, Replica: 0}
	out := &model.Sample{Trajectory: outTraj, Ensemble: ens, Replica: 0}

	rec := &model.MoveRecord{
		Mover:    "shooting",
		Accepted: true,
		Inputs:   []store.Storable{in},
		Outputs:  []store.Storable{out},
	}
	if _, err := f.moves.Save(rec); err != nil {
		t.Fatalf("save move record: %v", err)
	}

	loaded, err := f.moves.Load(rec.GetUUID())
	if err != nil {
		t.Fatalf("load move record: %v", err)
	}
	if !loaded.Accepted || loaded.Mover != "shooting" {
		t.Fatalf("move record fields did not round-trip: %+v", loaded)
	}
	if len(loaded.Inputs) != 1 || len(loaded.Outputs) != 1 {
		t.Fatalf("expected one input and one output, got %d/%d", len(loaded.Inputs), len(loaded.Outputs))
	}
	loadedIn, err := store.As[*model.Sample](loaded.Inputs[0])
	if err != nil {
		t.Fatalf("resolve input: %v", err)
	}
	if loadedIn.GetUUID() != in.GetUUID() {
		t.Fatalf("input sample uuid mismatch")
	}
}
