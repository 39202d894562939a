package policy

import (
	"fmt"

	"policylink.ai/internal/state"
)

// Model runs entirely in the training-normalized [-1,1] space. The service
// handles scaling on both sides.
type Model interface {
	// Forward predicts horizon normalized timesteps per limb from the
	// current normalized limb positions.
	Forward(normalized map[state.Limb][]float64, horizon int) (map[state.Limb][][]float64, error)
}

// RampModel is the shipped reference model: a deterministic linear ramp from
// the current pose toward the normalized mid-range over the horizon. Good
// enough to drive integration tests and latency soak runs; real checkpoints
// plug in behind the Model interface.
type RampModel struct {
	// Goal is the normalized target pose, one value applied to every
	// dimension. Zero is mid-range.
	Goal float64
}

func (m RampModel) Forward(normalized map[state.Limb][]float64, horizon int) (map[state.Limb][][]float64, error) {
	if horizon <= 0 {
		return nil, fmt.Errorf("policy: horizon must be > 0, got %d", horizon)
	}
	out := make(map[state.Limb][][]float64, len(normalized))
	for limb, cur := range normalized {
		steps := make([][]float64, horizon)
		for t := 0; t < horizon; t++ {
			frac := float64(t+1) / float64(horizon)
			row := make([]float64, len(cur))
			for i, x := range cur {
				row[i] = x + (m.Goal-x)*frac
			}
			steps[t] = row
		}
		out[limb] = steps
	}
	return out, nil
}
