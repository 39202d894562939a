package env

import (
	"math"
	"testing"

	"policylink.ai/internal/state"
)

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	e, err := New(Options{Layout: state.G1Dex3(), FrameWidth: 8, FrameHeight: 6, Seed: 42})
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	return e
}

func TestObserve_BlockLayout(t *testing.T) {
	e := newTestEnv(t)
	l := state.G1Dex3()

	raw, frame := e.Observe()
	if len(raw) != l.RawLen() {
		t.Fatalf("raw len %d, want %d", len(raw), l.RawLen())
	}
	if len(frame.Pixels) != 8*6*3 {
		t.Fatalf("frame pixels %d", len(frame.Pixels))
	}
	// Before any command: velocities and torques are zero, positions are
	// the rest pose.
	for j := l.Joints; j < 3*l.Joints; j++ {
		if raw[j] != 0 {
			t.Fatalf("raw[%d] = %v, want 0", j, raw[j])
		}
	}
	if raw[1] != 0.3*math.Sin(1) {
		t.Fatalf("rest pose wrong: raw[1] = %v", raw[1])
	}
}

func TestApply_AbsoluteTargets(t *testing.T) {
	e := newTestEnv(t)
	l := state.G1Dex3()

	cmd := make([]float64, l.ControlledDOF())
	for i := range cmd {
		cmd[i] = 0.5
	}
	// Applying the same absolute command twice must leave the controlled
	// joints exactly at the target, not at 2x the target.
	for k := 0; k < 2; k++ {
		if err := e.Apply(cmd); err != nil {
			t.Fatalf("apply %d: %v", k, err)
		}
	}
	raw, _ := e.Observe()
	limbs, err := state.Decode(l, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for limb, vals := range limbs {
		for i, v := range vals {
			if v != 0.5 {
				t.Fatalf("%s[%d] = %v, want exactly 0.5", limb, i, v)
			}
		}
	}
	// Second application of an identical target means zero velocity.
	vel, _ := state.Velocities(l, raw)
	span := l.Limbs[state.LeftArm]
	for j := span.Start; j < span.End(); j++ {
		if vel[j] != 0 {
			t.Fatalf("vel[%d] = %v after repeated target", j, vel[j])
		}
	}
}

func TestApply_RejectsWrongWidth(t *testing.T) {
	e := newTestEnv(t)
	if err := e.Apply(make([]float64, 27)); err == nil {
		t.Fatal("27-wide command must be rejected")
	}
	if err := e.Apply(make([]float64, 43)); err == nil {
		t.Fatal("43-wide command must be rejected")
	}
}

func TestReward_ZeroAtGoal(t *testing.T) {
	l := state.G1Dex3()
	goal := make([]float64, l.Joints)
	for i := range goal {
		goal[i] = 0.25
	}
	e, err := New(Options{Layout: l, FrameWidth: 4, FrameHeight: 4, Goal: goal})
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	if r := e.Reward(); r >= 0 {
		t.Fatalf("reward at rest = %v, want < 0", r)
	}
	cmd := make([]float64, l.ControlledDOF())
	for i := range cmd {
		cmd[i] = 0.25
	}
	if err := e.Apply(cmd); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if r := e.Reward(); r != 0 {
		t.Fatalf("reward at goal = %v, want 0", r)
	}
}

func TestOffsetActuation_IsDetectable(t *testing.T) {
	l := state.G1Dex3()
	e, err := New(Options{Layout: l, FrameWidth: 4, FrameHeight: 4, OffsetActuation: true})
	if err != nil {
		t.Fatalf("new env: %v", err)
	}
	if e.AbsoluteTargets() {
		t.Fatal("offset env must report AbsoluteTargets() == false")
	}
	// Under offset interpretation, repeating the same command drifts.
	cmd := make([]float64, l.ControlledDOF())
	for i := range cmd {
		cmd[i] = 0.1
	}
	if err := e.Apply(cmd); err != nil {
		t.Fatal(err)
	}
	raw1, _ := e.Observe()
	if err := e.Apply(cmd); err != nil {
		t.Fatal(err)
	}
	raw2, _ := e.Observe()
	span := l.Limbs[state.LeftArm]
	if raw2[span.Start] == raw1[span.Start] {
		t.Fatal("offset actuation should accumulate across identical commands")
	}
}

func TestFrames_VaryWithTick(t *testing.T) {
	e := newTestEnv(t)
	l := state.G1Dex3()
	_, f0 := e.Observe()
	if err := e.Apply(make([]float64, l.ControlledDOF())); err != nil {
		t.Fatal(err)
	}
	_, f1 := e.Observe()
	same := true
	for i := range f0.Pixels {
		if f0.Pixels[i] != f1.Pixels[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("frames must change between ticks")
	}
}
