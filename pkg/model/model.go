// Package model defines the small set of domain Storable types used to
// exercise the object store: snapshots, trajectories, path-ensemble samples
// and move records. Per spec.md section 1, the physics and sampling logic
// these types describe is out of scope; only their shape as persisted
// objects matters here.
//
// © msm-tis authors.
package model

import (
	store "github.com/jhprinz/msm-tis/pkg"
)

// Snapshot is a single phase-space point: coordinates, velocities, and the
// two scalar quantities most samplers report. Reversed snapshots reuse the
// same UUID ordinal pair via UUID.Reversed rather than storing a second
// document (spec.md 4.1).
type Snapshot struct {
	store.Base
	Coordinates     []float64     `store:"coordinates"`
	Velocities      []float64     `store:"velocities"`
	PotentialEnergy store.Quantity `store:"potential_energy"`
	KineticEnergy   store.Quantity `store:"kinetic_energy"`
	Reversed        bool          `store:"reversed"`
}

func (s *Snapshot) ClassTag() string { return "snapshot" }

// ReversedCopy returns the time-reversed mate of s: negated velocities,
// sharing s's creation ordinal via UUID.Reversed so the pair never requires
// two independent documents for what is physically one trajectory point.
func (s *Snapshot) ReversedCopy() *Snapshot {
	vel := make([]float64, len(s.Velocities))
	for i, v := range s.Velocities {
		vel[i] = -v
	}
	return &Snapshot{
		Base:            store.Base{UUID: s.GetUUID().Reversed()},
		Coordinates:     s.Coordinates,
		Velocities:      vel,
		PotentialEnergy: s.PotentialEnergy,
		KineticEnergy:   s.KineticEnergy,
		Reversed:        !s.Reversed,
	}
}

// Trajectory is an ordered sequence of snapshots. Frames holds Storable
// interface values so a not-yet-loaded frame can sit there as a *store.
// Proxy[*Snapshot] until resolved via Frame.
type Trajectory struct {
	store.Base
	Frames []store.Storable `store:"frames"`
}

func (t *Trajectory) ClassTag() string { return "trajectory" }

// Frame resolves frame i to its concrete *Snapshot, transparently following
// a proxy on first access (spec.md 4.3).
func (t *Trajectory) Frame(i int) (*Snapshot, error) {
	return store.As[*Snapshot](t.Frames[i])
}

func (t *Trajectory) Len() int { return len(t.Frames) }

// Ensemble is an opaque, named path-ensemble predicate; the predicate logic
// itself is a user of the store and out of scope here (spec.md 1).
type Ensemble struct {
	store.Base
	Name        string `store:"name"`
	Description string `store:"description"`
}

func (e *Ensemble) ClassTag() string { return "ensemble" }

// Sample pairs a trajectory with the ensemble it was drawn for, plus the
// replica slot it occupies.
type Sample struct {
	store.Base
	Trajectory store.Storable `store:"trajectory"`
	Ensemble   store.Storable `store:"ensemble"`
	Replica    int64          `store:"replica"`
}

func (s *Sample) ClassTag() string { return "sample" }

func (s *Sample) TrajectoryObj() (*Trajectory, error) { return store.As[*Trajectory](s.Trajectory) }
func (s *Sample) EnsembleObj() (*Ensemble, error)      { return store.As[*Ensemble](s.Ensemble) }

// MoveRecord is the audit trail of one Monte Carlo move: which mover ran, on
// which input samples, producing which output samples, and whether it was
// accepted. The mover implementation itself is a user of the store (spec.md
// 1); only this record of its effect is persisted.
type MoveRecord struct {
	store.Base
	Mover    string           `store:"mover"`
	Accepted bool             `store:"accepted"`
	Inputs   []store.Storable `store:"inputs"`
	Outputs  []store.Storable `store:"outputs"`
}

func (m *MoveRecord) ClassTag() string { return "move_record" }
