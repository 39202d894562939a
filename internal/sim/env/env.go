// Package env is a small kinematic stand-in for the real simulator: enough
// surface to exercise the whole bridge loop without physics. State comes out
// in the same block-concatenated vector the robot publishes, and commands go
// in as absolute joint targets.
package env

import (
	"fmt"
	"math"
	"math/rand"

	"policylink.ai/internal/policy"
	"policylink.ai/internal/state"
)

type Options struct {
	Layout      state.Layout
	FrameWidth  int
	FrameHeight int
	Seed        int64
	// Goal is the per-joint target used for the reward. Defaults to the
	// rest pose.
	Goal []float64
	// OffsetActuation makes Apply add commands to the current pose instead
	// of treating them as absolute targets. Exists to reproduce the classic
	// integration mistake in tests; the bridge binary refuses to drive an
	// environment configured this way.
	OffsetActuation bool
}

type Env struct {
	layout state.Layout
	width  int
	height int
	rng    *rand.Rand

	pose   []float64 // N current joint positions
	vel    []float64
	torq   []float64
	goal   []float64
	tick   uint64
	offset bool
}

// restPose is deliberately nonzero so that a controller confusing absolute
// targets with offsets drifts visibly instead of sitting still.
func restPose(n int) []float64 {
	pose := make([]float64, n)
	for i := range pose {
		pose[i] = 0.3 * math.Sin(float64(i))
	}
	return pose
}

func New(opts Options) (*Env, error) {
	if err := opts.Layout.Validate(); err != nil {
		return nil, err
	}
	if opts.FrameWidth <= 0 || opts.FrameHeight <= 0 {
		return nil, fmt.Errorf("env: frame %dx%d", opts.FrameWidth, opts.FrameHeight)
	}
	n := opts.Layout.Joints
	goal := opts.Goal
	if goal == nil {
		goal = restPose(n)
	}
	if len(goal) != n {
		return nil, fmt.Errorf("env: goal has %d joints, layout wants %d", len(goal), n)
	}
	e := &Env{
		layout: opts.Layout,
		width:  opts.FrameWidth,
		height: opts.FrameHeight,
		rng:    rand.New(rand.NewSource(opts.Seed)),
		pose:   restPose(n),
		vel:    make([]float64, n),
		torq:   make([]float64, n),
		goal:   goal,
		offset: opts.OffsetActuation,
	}
	return e, nil
}

// Observe returns the current sensor vector, positions then velocities then
// torques, plus a synthetic camera frame.
func (e *Env) Observe() ([]float64, policy.Frame) {
	n := e.layout.Joints
	raw := make([]float64, 3*n)
	copy(raw[:n], e.pose)
	copy(raw[n:2*n], e.vel)
	copy(raw[2*n:], e.torq)
	return raw, e.renderFrame()
}

// Apply sets the controlled joints to the commanded absolute positions. The
// command vector is in the layout's command order; joints outside every
// span hold their pose.
func (e *Env) Apply(cmd []float64) error {
	if len(cmd) != e.layout.ControlledDOF() {
		return fmt.Errorf("env: command has %d values, layout wants %d", len(cmd), e.layout.ControlledDOF())
	}
	e.tick++
	off := 0
	for _, limb := range e.layout.CommandOrder {
		span := e.layout.Limbs[limb]
		for i := 0; i < span.Len; i++ {
			j := span.Start + i
			target := cmd[off+i]
			if e.offset {
				target += e.pose[j]
			}
			e.vel[j] = target - e.pose[j]
			e.pose[j] = target
			e.torq[j] = e.vel[j] * 0.1
		}
		off += span.Len
	}
	// Sensor noise on the uncontrolled joints only.
	for j := range e.pose {
		if !e.controlled(j) {
			e.vel[j] = e.rng.NormFloat64() * 1e-4
			e.pose[j] += e.vel[j]
		}
	}
	return nil
}

func (e *Env) controlled(j int) bool {
	for _, span := range e.layout.Limbs {
		if j >= span.Start && j < span.End() {
			return true
		}
	}
	return false
}

// Reward is the negative mean squared distance of the controlled joints
// from the goal pose, so 0 is perfect.
func (e *Env) Reward() float64 {
	sum, n := 0.0, 0
	for _, span := range e.layout.Limbs {
		for j := span.Start; j < span.End(); j++ {
			d := e.pose[j] - e.goal[j]
			sum += d * d
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return -sum / float64(n)
}

// Tick reports how many commands have been applied.
func (e *Env) Tick() uint64 { return e.tick }

// AbsoluteTargets reports whether Apply treats commands as absolute joint
// targets. Callers feeding policy output must check this before driving.
func (e *Env) AbsoluteTargets() bool { return !e.offset }

// renderFrame draws a gradient keyed to the tick and the first arm joint, so
// recorded frames differ step to step.
func (e *Env) renderFrame() policy.Frame {
	pix := make([]byte, e.width*e.height*3)
	phase := byte(e.tick % 251)
	joint := byte(int(math.Abs(e.pose[e.layout.Limbs[e.layout.CommandOrder[0]].Start])*100) % 256)
	for y := 0; y < e.height; y++ {
		for x := 0; x < e.width; x++ {
			i := (y*e.width + x) * 3
			pix[i] = byte(x) + phase
			pix[i+1] = byte(y) + phase
			pix[i+2] = joint
		}
	}
	return policy.Frame{Width: e.width, Height: e.height, Pixels: pix}
}
