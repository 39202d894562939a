package recorder

import (
	"math"

	"policylink.ai/internal/protocol"
)

// Client-side event streams, one JSONL stream per lifecycle stage. Field sets
// are fixed; offline cross-verification tooling matches on them exactly.
const (
	StreamObservationSent  = "observation_sent"
	StreamActionsReceived  = "actions_received"
	StreamActionReturned   = "action_returned"
	StreamCachedAction     = "cached_action"
	StreamActionToRobot    = "action_to_robot"
	StreamRobotActualState = "robot_actual_state"
)

type ObservationSent struct {
	Step        uint64            `json:"step"`
	Timestamp   string            `json:"timestamp"`
	Observation ObservationRecord `json:"observation"`
}

type ObservationRecord struct {
	State           map[string][]float64 `json:"state"`
	Video           TensorSummary        `json:"video"`
	TaskDescription string               `json:"task_description"`
}

type ActionsReceived struct {
	Step      uint64                 `json:"step"`
	Timestamp string                 `json:"timestamp"`
	Actions   map[string][][]float64 `json:"actions"`
}

type ActionReturned struct {
	Step       uint64    `json:"step"`
	Timestamp  string    `json:"timestamp"`
	QueueIndex int       `json:"queue_index"`
	Action     []float64 `json:"action"`
}

type CachedAction struct {
	Step       uint64    `json:"step"`
	Timestamp  string    `json:"timestamp"`
	QueueIndex int       `json:"queue_index"`
	Action     []float64 `json:"action"`
}

type ActionToRobot struct {
	Step      uint64    `json:"step"`
	Timestamp string    `json:"timestamp"`
	Action    []float64 `json:"action"`
}

type RobotActualState struct {
	Step           uint64               `json:"step"`
	Timestamp      string               `json:"timestamp"`
	JointPositions map[string][]float64 `json:"joint_positions"`
	Velocities     []float64            `json:"velocities"`
	Torques        []float64            `json:"torques"`
	FullState      []float64            `json:"full_state"`
	Reward         float64              `json:"reward"`
}

// ServerRecord is the policyd-side record, one per request direction.
type ServerRecord struct {
	Step          uint64                   `json:"step"`
	Timestamp     string                   `json:"timestamp"`
	Type          string                   `json:"type"` // "input" or "output"
	Observation   map[string]TensorSummary `json:"observation,omitempty"`
	Action        map[string]TensorSummary `json:"action,omitempty"`
	InferenceTime float64                  `json:"inference_time,omitempty"`
}

// TensorSummary captures shape, dtype and value statistics of one tensor.
type TensorSummary struct {
	Shape []int   `json:"shape"`
	Dtype string  `json:"dtype"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
}

// Summarize computes a TensorSummary without keeping the payload.
func Summarize(t protocol.Tensor) TensorSummary {
	s := TensorSummary{Shape: t.Shape, Dtype: t.Dtype}
	switch t.Dtype {
	case protocol.DtypeUint8:
		if len(t.Data) == 0 {
			return s
		}
		lo, hi, sum := float64(t.Data[0]), float64(t.Data[0]), 0.0
		for _, b := range t.Data {
			v := float64(b)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			sum += v
		}
		s.Min, s.Max, s.Mean = lo, hi, sum/float64(len(t.Data))
	default:
		vals, err := t.Float64s()
		if err != nil || len(vals) == 0 {
			return s
		}
		lo, hi, sum := vals[0], vals[0], 0.0
		for _, v := range vals {
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
			sum += v
		}
		s.Min, s.Max, s.Mean = lo, hi, sum/float64(len(vals))
	}
	return s
}
