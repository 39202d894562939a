package state

import (
	"errors"
	"testing"
)

// ramp builds a 3N vector with positions 0..N-1, velocities 100..100+N-1,
// torques 200..200+N-1 so any strided or transposed read is visible.
func ramp(n int) []float64 {
	out := make([]float64, 0, 3*n)
	for _, base := range []float64{0, 100, 200} {
		for i := 0; i < n; i++ {
			out = append(out, base+float64(i))
		}
	}
	return out
}

func TestG1Dex3_Valid(t *testing.T) {
	l := G1Dex3()
	if err := l.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := l.ControlledDOF(); got != 28 {
		t.Fatalf("controlled dof: got %d want 28", got)
	}
	if got := l.RawLen(); got != 129 {
		t.Fatalf("raw len: got %d want 129", got)
	}
}

func TestDecode_BlockExtraction(t *testing.T) {
	l := G1Dex3()
	limbs, err := Decode(l, ramp(l.Joints))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	for limb, s := range l.Limbs {
		vals := limbs[limb]
		if len(vals) != s.Len {
			t.Fatalf("%s: got %d values want %d", limb, len(vals), s.Len)
		}
		for i, v := range vals {
			// Positions come from the contiguous prefix; a strided read
			// would land in the velocity/torque blocks (>= 100).
			want := float64(s.Start + i)
			if v != want {
				t.Fatalf("%s[%d]: got %v want %v", limb, i, v, want)
			}
		}
	}
}

func TestDecode_ShapeMismatch(t *testing.T) {
	l := G1Dex3()
	for _, n := range []int{0, l.Joints, 3*l.Joints - 1, 3*l.Joints + 1} {
		if _, err := Decode(l, make([]float64, n)); !errors.Is(err, ErrShapeMismatch) {
			t.Fatalf("len %d: got %v want ErrShapeMismatch", n, err)
		}
	}
}

func TestVelocitiesTorques_Blocks(t *testing.T) {
	l := G1Dex3()
	raw := ramp(l.Joints)

	vel, err := Velocities(l, raw)
	if err != nil {
		t.Fatalf("velocities: %v", err)
	}
	if vel[0] != 100 || vel[l.Joints-1] != 100+float64(l.Joints-1) {
		t.Fatalf("velocity block wrong: first=%v last=%v", vel[0], vel[l.Joints-1])
	}

	tq, err := Torques(l, raw)
	if err != nil {
		t.Fatalf("torques: %v", err)
	}
	if tq[0] != 200 || tq[l.Joints-1] != 200+float64(l.Joints-1) {
		t.Fatalf("torque block wrong: first=%v last=%v", tq[0], tq[l.Joints-1])
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	l := G1Dex3()
	raw := ramp(l.Joints)
	limbs, err := Decode(l, raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	cmd, err := Encode(l, limbs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// The command must reproduce the controlled subset of the position block
	// in the documented limb order.
	i := 0
	for _, limb := range l.CommandOrder {
		s := l.Limbs[limb]
		for j := 0; j < s.Len; j++ {
			if cmd[i] != raw[s.Start+j] {
				t.Fatalf("cmd[%d]: got %v want %v (limb %s)", i, cmd[i], raw[s.Start+j], limb)
			}
			i++
		}
	}
	if i != l.ControlledDOF() {
		t.Fatalf("command width: got %d want %d", i, l.ControlledDOF())
	}
}

func TestEncode_LimbOrder(t *testing.T) {
	l := G1Dex3()
	// Distinct sentinel per limb so a transposition shows up immediately.
	sentinel := map[Limb]float64{LeftArm: 1, RightArm: 2, LeftHand: 3, RightHand: 4}
	limbs := map[Limb][]float64{}
	for limb, v := range sentinel {
		vals := make([]float64, l.Limbs[limb].Len)
		for i := range vals {
			vals[i] = v
		}
		limbs[limb] = vals
	}
	cmd, err := Encode(l, limbs)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []float64{1, 2, 3, 4} // left_arm, right_arm, left_hand, right_hand
	for block := 0; block < 4; block++ {
		for i := 0; i < 7; i++ {
			if cmd[block*7+i] != want[block] {
				t.Fatalf("block %d value %v, want %v", block, cmd[block*7+i], want[block])
			}
		}
	}
}

func TestEncode_IncompleteCommand(t *testing.T) {
	l := G1Dex3()
	limbs, err := Decode(l, ramp(l.Joints))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	delete(limbs, RightHand)
	if _, err := Encode(l, limbs); !errors.Is(err, ErrIncompleteCommand) {
		t.Fatalf("got %v want ErrIncompleteCommand", err)
	}
}

func TestEncode_WrongSpanWidth(t *testing.T) {
	l := G1Dex3()
	limbs, _ := Decode(l, ramp(l.Joints))
	limbs[LeftArm] = limbs[LeftArm][:6]
	if _, err := Encode(l, limbs); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v want ErrShapeMismatch", err)
	}
}

func TestLayoutValidate_Rejects(t *testing.T) {
	cases := []struct {
		name string
		l    Layout
	}{
		{"overlap", Layout{Joints: 43, Limbs: map[Limb]Span{LeftArm: {15, 7}, LeftHand: {20, 7}}, CommandOrder: []Limb{LeftArm, LeftHand}}},
		{"out of range", Layout{Joints: 43, Limbs: map[Limb]Span{LeftArm: {40, 7}}, CommandOrder: []Limb{LeftArm}}},
		{"empty span", Layout{Joints: 43, Limbs: map[Limb]Span{LeftArm: {15, 0}}, CommandOrder: []Limb{LeftArm}}},
		{"order unknown limb", Layout{Joints: 43, Limbs: map[Limb]Span{LeftArm: {15, 7}}, CommandOrder: []Limb{RightArm}}},
		{"order repeats", Layout{Joints: 43, Limbs: map[Limb]Span{LeftArm: {15, 7}, RightArm: {29, 7}}, CommandOrder: []Limb{LeftArm, LeftArm}}},
	}
	for _, tc := range cases {
		if err := tc.l.Validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
