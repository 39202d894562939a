// Package bridge is the robot-side control loop: it turns raw sensor
// vectors into remote inference calls and pays out the returned trajectory
// one command per tick.
package bridge

import (
	"context"
	"fmt"
	"log"

	"policylink.ai/internal/horizon"
	"policylink.ai/internal/policy"
	"policylink.ai/internal/protocol"
	"policylink.ai/internal/recorder"
	"policylink.ai/internal/state"
)

// Inferrer is the remote policy endpoint. *ws.Client satisfies it.
type Inferrer interface {
	Infer(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error)
}

type Config struct {
	Layout  state.Layout
	Horizon int
	Task    string
	Client  Inferrer
	Log     *log.Logger
	// Rec is optional; nil disables diagnostics.
	Rec *recorder.Episode
}

type Bridge struct {
	layout  state.Layout
	task    string
	horizon int
	client  Inferrer
	cache   *horizon.Cache
	rec     *recorder.Episode
	log     *log.Logger

	step       uint64
	inferences uint64
}

func New(cfg Config) (*Bridge, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("bridge: nil client")
	}
	if cfg.Task == "" {
		return nil, fmt.Errorf("bridge: empty task")
	}
	cache, err := horizon.New(cfg.Horizon)
	if err != nil {
		return nil, err
	}
	return &Bridge{
		layout:  cfg.Layout,
		task:    cfg.Task,
		horizon: cfg.Horizon,
		client:  cfg.Client,
		cache:   cache,
		rec:     cfg.Rec,
		log:     cfg.Log,
	}, nil
}

// Step consumes one tick of sensor data and returns the command to apply,
// in the layout's command order. At most one network round trip happens per
// horizon's worth of ticks; the rest are served from the cache. On a failed
// round trip the error propagates and the cache stays empty, so the next
// tick retries from scratch.
func (b *Bridge) Step(ctx context.Context, raw []float64, frame policy.Frame) ([]float64, error) {
	b.step++
	fresh := false

	if b.cache.Empty() {
		if err := b.refill(ctx, raw, frame); err != nil {
			return nil, err
		}
		fresh = true
	}

	cmd, qi, err := b.cache.Pop()
	if err != nil {
		return nil, err
	}
	if b.rec != nil {
		if fresh {
			b.rec.ActionReturned(b.step, qi, cmd)
		} else {
			b.rec.CachedAction(b.step, qi, cmd)
		}
		b.rec.ActionToRobot(b.step, cmd)
	}
	return cmd, nil
}

func (b *Bridge) refill(ctx context.Context, raw []float64, frame policy.Frame) error {
	req, err := BuildRequest(b.layout, b.step, raw, frame, b.task)
	if err != nil {
		return err
	}
	if b.rec != nil {
		stateRec := make(map[string][]float64, len(req.State))
		for name, t := range req.State {
			vals, _ := t.Float64s()
			stateRec[name] = vals
		}
		b.rec.ObservationSent(b.step, recorder.ObservationRecord{
			State:           stateRec,
			Video:           recorder.Summarize(req.Video),
			TaskDescription: b.task,
		})
		b.rec.SaveFrame(b.step, frame.Width, frame.Height, frame.Pixels)
	}

	resp, err := b.client.Infer(ctx, req)
	if err != nil {
		return fmt.Errorf("step %d: inference: %w", b.step, err)
	}

	commands, err := trajectoryCommands(b.layout, resp, b.horizon)
	if err != nil {
		return fmt.Errorf("step %d: %w", b.step, err)
	}
	if b.rec != nil {
		actions := make(map[string][][]float64, len(resp.Action))
		for name, t := range resp.Action {
			rows, _ := t.Rows()
			actions[name] = rows
		}
		b.rec.ActionsReceived(b.step, actions)
	}
	if err := b.cache.Refill(commands); err != nil {
		return err
	}
	b.inferences++
	if b.log != nil {
		b.log.Printf("step %d: refilled %d commands (inference #%d, server %.3fms)",
			b.step, len(commands), b.inferences, resp.InferenceTimeMS)
	}
	return nil
}

// RecordState logs the post-actuation robot state for offline comparison
// against what was commanded: per-limb positions plus the velocity and
// torque blocks split out of the raw vector.
func (b *Bridge) RecordState(raw []float64, reward float64) {
	if b.rec == nil {
		return
	}
	limbs, err := state.Decode(b.layout, raw)
	if err != nil {
		return
	}
	vel, err := state.Velocities(b.layout, raw)
	if err != nil {
		return
	}
	torq, err := state.Torques(b.layout, raw)
	if err != nil {
		return
	}
	joints := make(map[string][]float64, len(limbs))
	for limb, vals := range limbs {
		joints[string(limb)] = vals
	}
	b.rec.RobotActualState(b.step, joints, vel, torq, raw, reward)
}

// Inferences reports how many round trips have happened so far.
func (b *Bridge) Inferences() uint64 { return b.inferences }

// Reset drops any cached commands, forcing a fresh inference on the next
// tick. Call it on episode boundaries.
func (b *Bridge) Reset() { b.cache.Reset() }
