package policy

import (
	"context"
	"math"
	"testing"

	"policylink.ai/internal/norm"
	"policylink.ai/internal/protocol"
	"policylink.ai/internal/state"
)

func testStats(l state.Layout) norm.Stats {
	s := norm.Stats{}
	for limb, span := range l.Limbs {
		ranges := make([]norm.Range, span.Len)
		for i := range ranges {
			ranges[i] = norm.Range{Min: -2, Max: 2}
		}
		s[limb] = ranges
	}
	return s
}

func newTestService(t *testing.T, horizon int) *Service {
	t.Helper()
	l := state.G1Dex3()
	svc, err := NewService(ServiceConfig{
		Layout:  l,
		Stats:   testStats(l),
		Model:   RampModel{},
		Horizon: horizon,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func fullObservation(l state.Layout, val float64) Observation {
	limbs := map[state.Limb][]float64{}
	for limb, span := range l.Limbs {
		vals := make([]float64, span.Len)
		for i := range vals {
			vals[i] = val
		}
		limbs[limb] = vals
	}
	return Observation{
		Limbs: limbs,
		Frame: Frame{Width: 2, Height: 2, Pixels: make([]byte, 12)},
		Task:  "hold still",
	}
}

func TestService_InferDenormalized(t *testing.T) {
	const h = 16
	svc := newTestService(t, h)
	l := state.G1Dex3()

	traj, err := svc.Infer(context.Background(), fullObservation(l, 1.0))
	if err != nil {
		t.Fatalf("infer: %v", err)
	}
	if traj.Horizon != h {
		t.Fatalf("horizon: %d", traj.Horizon)
	}
	for limb, rows := range traj.Limbs {
		if len(rows) != h {
			t.Fatalf("%s: %d rows", limb, len(rows))
		}
		// RampModel converges on the normalized mid-range, which
		// denormalizes to (min+max)/2 = 0 for the [-2,2] test stats.
		last := rows[h-1]
		for i, v := range last {
			if math.Abs(v) > 1e-9 {
				t.Fatalf("%s[%d] final = %v, want mid-range 0", limb, i, v)
			}
		}
		// The first step is in absolute units, between start and goal.
		first := rows[0]
		for i, v := range first {
			if v <= 0 || v >= 1.0 {
				t.Fatalf("%s[%d] first = %v, want inside (0,1)", limb, i, v)
			}
		}
	}
}

func TestService_RoundTripThroughEnvelope(t *testing.T) {
	const h = 4
	svc := newTestService(t, h)
	l := state.G1Dex3()

	req := protocol.InferRequest{
		Type:            protocol.TypeInfer,
		ProtocolVersion: protocol.Version,
		Step:            11,
		Video:           protocol.Uint8Tensor([]int{2, 2, 3}, make([]byte, 12)),
		State:           map[string]protocol.Tensor{},
		TaskDescription: "pick up the cylinder",
	}
	for limb, span := range l.Limbs {
		vals := make([]float64, span.Len)
		for i := range vals {
			vals[i] = 0.5
		}
		req.State[string(limb)] = protocol.Float64Tensor([]int{1, span.Len}, vals)
	}

	resp, err := svc.HandleRequest(context.Background(), req)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if resp.Step != 11 || resp.Type != protocol.TypeActions {
		t.Fatalf("bad response header: %+v", resp)
	}
	if len(resp.Action) != len(l.Limbs) {
		t.Fatalf("got %d action tensors, want %d", len(resp.Action), len(l.Limbs))
	}
	for name, tn := range resp.Action {
		if tn.Dtype != protocol.DtypeFloat32 {
			t.Fatalf("action.%s dtype %s", name, tn.Dtype)
		}
		if tn.Shape[0] != h || tn.Shape[1] != 7 {
			t.Fatalf("action.%s shape %v", name, tn.Shape)
		}
	}
	m := svc.Metrics()
	if m.Requests != 1 || m.Failures != 0 {
		t.Fatalf("metrics: %+v", m)
	}
}

func TestService_RejectsUnknownAndMissingLimbs(t *testing.T) {
	svc := newTestService(t, 4)

	req := protocol.InferRequest{
		Type:            protocol.TypeInfer,
		ProtocolVersion: protocol.Version,
		Video:           protocol.Uint8Tensor([]int{2, 2, 3}, make([]byte, 12)),
		State: map[string]protocol.Tensor{
			"tail": protocol.Float64Tensor([]int{1, 7}, make([]float64, 7)),
		},
		TaskDescription: "x",
	}
	if _, err := svc.HandleRequest(context.Background(), req); err == nil {
		t.Fatal("unknown limb should be rejected")
	}

	req.State = map[string]protocol.Tensor{
		"left_arm": protocol.Float64Tensor([]int{1, 7}, make([]float64, 7)),
	}
	if _, err := svc.HandleRequest(context.Background(), req); err == nil {
		t.Fatal("missing limbs should be rejected")
	}
	if svc.Metrics().Failures != 2 {
		t.Fatalf("failures = %d, want 2", svc.Metrics().Failures)
	}
}

func TestRampModel_Deterministic(t *testing.T) {
	m := RampModel{}
	in := map[state.Limb][]float64{state.LeftArm: {1, -1, 0}}
	a, err := m.Forward(in, 8)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	b, _ := m.Forward(in, 8)
	for t2 := range a[state.LeftArm] {
		for i := range a[state.LeftArm][t2] {
			if a[state.LeftArm][t2][i] != b[state.LeftArm][t2][i] {
				t.Fatal("model not deterministic")
			}
		}
	}
	// Monotone approach to the goal.
	prev := math.Abs(a[state.LeftArm][0][0])
	for t2 := 1; t2 < 8; t2++ {
		cur := math.Abs(a[state.LeftArm][t2][0])
		if cur > prev {
			t.Fatalf("step %d moved away from goal: %v > %v", t2, cur, prev)
		}
		prev = cur
	}
}
