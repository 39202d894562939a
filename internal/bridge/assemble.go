package bridge

import (
	"fmt"

	"policylink.ai/internal/policy"
	"policylink.ai/internal/protocol"
	"policylink.ai/internal/state"
)

// BuildRequest packs one raw sensor vector plus the latest camera frame into
// the wire envelope. Only the position third of the vector travels; each
// limb goes out as its own [1,K] tensor under the layout's name.
func BuildRequest(l state.Layout, step uint64, raw []float64, frame policy.Frame, task string) (protocol.InferRequest, error) {
	limbs, err := state.Decode(l, raw)
	if err != nil {
		return protocol.InferRequest{}, err
	}
	if len(frame.Pixels) != frame.Width*frame.Height*3 {
		return protocol.InferRequest{}, fmt.Errorf("frame: %d pixels for %dx%d", len(frame.Pixels), frame.Width, frame.Height)
	}

	st := make(map[string]protocol.Tensor, len(limbs))
	for limb, vals := range limbs {
		st[string(limb)] = protocol.Float64Tensor([]int{1, len(vals)}, vals)
	}
	return protocol.InferRequest{
		Type:            protocol.TypeInfer,
		ProtocolVersion: protocol.Version,
		Step:            step,
		Video:           protocol.Uint8Tensor([]int{frame.Height, frame.Width, 3}, frame.Pixels),
		State:           st,
		TaskDescription: task,
	}, nil
}

// trajectoryCommands flattens an ACTIONS response into one command vector
// per timestep, in the layout's command order. The whole horizon converts or
// none of it does.
func trajectoryCommands(l state.Layout, resp protocol.InferResponse, h int) ([][]float64, error) {
	rows := make(map[state.Limb][][]float64, len(resp.Action))
	for name, t := range resp.Action {
		limb := state.Limb(name)
		if _, ok := l.Limbs[limb]; !ok {
			return nil, fmt.Errorf("action for unknown limb %q", name)
		}
		r, err := t.Rows()
		if err != nil {
			return nil, fmt.Errorf("action.%s: %w", name, err)
		}
		if len(r) != h {
			return nil, fmt.Errorf("action.%s: %d timesteps, want %d", name, len(r), h)
		}
		rows[limb] = r
	}

	commands := make([][]float64, h)
	for t := 0; t < h; t++ {
		step := make(map[state.Limb][]float64, len(rows))
		for limb, r := range rows {
			step[limb] = r[t]
		}
		cmd, err := state.Encode(l, step)
		if err != nil {
			return nil, fmt.Errorf("timestep %d: %w", t, err)
		}
		commands[t] = cmd
	}
	return commands, nil
}
