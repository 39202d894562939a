package policy

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"policylink.ai/internal/norm"
	"policylink.ai/internal/protocol"
	"policylink.ai/internal/recorder"
	"policylink.ai/internal/state"
)

// Service wraps a Model with the full inference pipeline and the envelope
// I/O contract: decode request -> normalize -> forward -> denormalize ->
// encode response. One request is processed at a time.
type Service struct {
	layout  state.Layout
	stats   norm.Stats
	model   Model
	horizon int
	log     *log.Logger

	rec   *recorder.Server // optional
	index StepIndex        // optional

	mu sync.Mutex // serializes inference

	requests atomic.Uint64
	failures atomic.Uint64
	lastMS   atomic.Uint64 // last inference duration, microseconds
}

// StepIndex receives one row per handled request for offline querying.
type StepIndex interface {
	RecordStep(step uint64, inferenceMS float64, limbs []string)
}

type ServiceConfig struct {
	Layout  state.Layout
	Stats   norm.Stats
	Model   Model
	Horizon int
	Log     *log.Logger
	Rec     *recorder.Server
	Index   StepIndex
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Stats.Validate(cfg.Layout); err != nil {
		return nil, err
	}
	if cfg.Model == nil {
		return nil, fmt.Errorf("policy: nil model")
	}
	if cfg.Horizon <= 0 {
		return nil, fmt.Errorf("policy: horizon must be > 0, got %d", cfg.Horizon)
	}
	return &Service{
		layout:  cfg.Layout,
		stats:   cfg.Stats,
		model:   cfg.Model,
		horizon: cfg.Horizon,
		log:     cfg.Log,
		rec:     cfg.Rec,
		index:   cfg.Index,
	}, nil
}

// Infer runs the pipeline on an already-decoded observation. Output is in
// absolute joint-position units; the client applies it as-is.
func (s *Service) Infer(ctx context.Context, obs Observation) (Trajectory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Trajectory{}, err
	}

	normalized := make(map[state.Limb][]float64, len(obs.Limbs))
	for limb, vals := range obs.Limbs {
		n, err := s.stats.NormalizeLimb(limb, vals)
		if err != nil {
			return Trajectory{}, err
		}
		normalized[limb] = n
	}

	predicted, err := s.model.Forward(normalized, s.horizon)
	if err != nil {
		return Trajectory{}, err
	}

	out := Trajectory{Horizon: s.horizon, Limbs: make(map[state.Limb][][]float64, len(predicted))}
	for limb, steps := range predicted {
		if len(steps) != s.horizon {
			return Trajectory{}, fmt.Errorf("policy: model produced %d steps for %s, want %d", len(steps), limb, s.horizon)
		}
		rows := make([][]float64, s.horizon)
		for t, row := range steps {
			d, err := s.stats.DenormalizeLimb(limb, row)
			if err != nil {
				return Trajectory{}, err
			}
			rows[t] = d
		}
		out.Limbs[limb] = rows
	}
	return out, nil
}

// HandleRequest is the transport-facing entry point: envelope in, envelope
// out. Tensor shape/dtype validation already happened at the boundary; here
// limb names and widths are checked against the layout.
func (s *Service) HandleRequest(ctx context.Context, req protocol.InferRequest) (protocol.InferResponse, error) {
	s.requests.Add(1)

	obs, err := s.decodeObservation(req)
	if err != nil {
		s.failures.Add(1)
		return protocol.InferResponse{}, err
	}

	if s.rec != nil {
		in := map[string]recorder.TensorSummary{"video": recorder.Summarize(req.Video)}
		for name, t := range req.State {
			in["state."+name] = recorder.Summarize(t)
		}
		s.rec.Input(req.Step, in)
	}

	start := time.Now()
	traj, err := s.Infer(ctx, obs)
	if err != nil {
		s.failures.Add(1)
		return protocol.InferResponse{}, fmt.Errorf("%s: %w", protocol.ErrInference, err)
	}
	elapsed := time.Since(start)
	s.lastMS.Store(uint64(elapsed.Microseconds()))

	resp := protocol.InferResponse{
		Type:            protocol.TypeActions,
		ProtocolVersion: protocol.Version,
		Step:            req.Step,
		Action:          make(map[string]protocol.Tensor, len(traj.Limbs)),
		InferenceTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}
	limbs := make([]string, 0, len(traj.Limbs))
	for limb, rows := range traj.Limbs {
		k := s.layout.Limbs[limb].Len
		flat := make([]float64, 0, s.horizon*k)
		for _, row := range rows {
			flat = append(flat, row...)
		}
		resp.Action[string(limb)] = protocol.Float32Tensor([]int{s.horizon, k}, flat)
		limbs = append(limbs, string(limb))
	}

	if s.rec != nil {
		out := make(map[string]recorder.TensorSummary, len(resp.Action))
		for name, t := range resp.Action {
			out["action."+name] = recorder.Summarize(t)
		}
		s.rec.Output(req.Step, out, elapsed.Seconds())
	}
	if s.index != nil {
		s.index.RecordStep(req.Step, resp.InferenceTimeMS, limbs)
	}
	if s.log != nil {
		s.log.Printf("step %d: inference %.3fms", req.Step, resp.InferenceTimeMS)
	}
	return resp, nil
}

func (s *Service) decodeObservation(req protocol.InferRequest) (Observation, error) {
	limbs := make(map[state.Limb][]float64, len(req.State))
	for name, t := range req.State {
		limb := state.Limb(name)
		span, ok := s.layout.Limbs[limb]
		if !ok {
			return Observation{}, fmt.Errorf("%s: unknown limb %q", protocol.ErrProtoBadRequest, name)
		}
		vals, err := t.Float64s()
		if err != nil {
			return Observation{}, fmt.Errorf("%s: state.%s: %v", protocol.ErrBadShape, name, err)
		}
		if len(vals) != span.Len {
			return Observation{}, fmt.Errorf("%s: state.%s has %d values, layout wants %d", protocol.ErrBadShape, name, len(vals), span.Len)
		}
		limbs[limb] = vals
	}
	for limb := range s.layout.Limbs {
		if _, ok := limbs[limb]; !ok {
			return Observation{}, fmt.Errorf("%s: missing limb %s", protocol.ErrProtoBadRequest, limb)
		}
	}
	return Observation{
		Step:  req.Step,
		Limbs: limbs,
		Frame: Frame{
			Height: req.Video.Shape[0],
			Width:  req.Video.Shape[1],
			Pixels: req.Video.Data,
		},
		Task: req.TaskDescription,
	}, nil
}

// Metrics snapshot for the /metrics handler.
type ServiceMetrics struct {
	Requests uint64
	Failures uint64
	LastMS   float64
}

func (s *Service) Metrics() ServiceMetrics {
	return ServiceMetrics{
		Requests: s.requests.Load(),
		Failures: s.failures.Load(),
		LastMS:   float64(s.lastMS.Load()) / 1000.0,
	}
}
