// Package policy owns the learned-policy side of the bridge: the observation
// and trajectory value types shared across the wire boundary, the model
// interface, and the service pipeline that normalizes, runs the model, and
// denormalizes back into absolute joint positions.
package policy

import (
	"context"

	"policylink.ai/internal/state"
)

// Frame is one RGB8 camera image.
type Frame struct {
	Width  int
	Height int
	Pixels []byte // len = Width*Height*3, row-major RGB
}

// Observation is one inference request worth of input: current per-limb
// joint positions in raw radians, the latest camera frame, and the task
// string. Immutable after construction.
type Observation struct {
	Step  uint64
	Limbs map[state.Limb][]float64
	Frame Frame
	Task  string
}

// Trajectory is H predicted timesteps per limb, in absolute joint-position
// units, already denormalized. Consumed exactly H times in order by the
// client's action cache.
type Trajectory struct {
	Horizon int
	Limbs   map[state.Limb][][]float64 // [H][K]
}

// Policy produces a trajectory from an observation. Implementations own
// their whole preprocessing/forward/postprocessing pipeline; callers never
// re-normalize the output.
type Policy interface {
	Infer(ctx context.Context, obs Observation) (Trajectory, error)
}
