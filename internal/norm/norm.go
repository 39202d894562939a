// Package norm maps raw joint values into and out of the [-1,1] scale a
// policy was trained on. Scaling is per dimension, never across dimensions,
// and exactly reversible inside the training range.
package norm

import (
	"fmt"

	"policylink.ai/internal/state"
)

// Range is one dimension's training-time bounds.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Degenerate reports a constant dimension (max == min). Such dimensions pass
// through instead of dividing by zero.
func (r Range) Degenerate() bool { return r.Max == r.Min }

// Normalize maps x in [min,max] to [-1,1]. A degenerate range yields 0.
func (r Range) Normalize(x float64) float64 {
	if r.Degenerate() {
		return 0
	}
	return 2*(x-r.Min)/(r.Max-r.Min) - 1
}

// Denormalize maps y in [-1,1] back to [min,max]. A degenerate range yields min.
func (r Range) Denormalize(y float64) float64 {
	if r.Degenerate() {
		return r.Min
	}
	return (y+1)/2*(r.Max-r.Min) + r.Min
}

// Stats holds one range per dimension per limb. Immutable after load and
// shared read-only across requests.
type Stats map[state.Limb][]Range

// Validate checks the table against a layout: every limb covered with the
// right width and max >= min on every dimension.
func (s Stats) Validate(l state.Layout) error {
	for limb, span := range l.Limbs {
		ranges, ok := s[limb]
		if !ok {
			return fmt.Errorf("norm: no stats for limb %s", limb)
		}
		if len(ranges) != span.Len {
			return fmt.Errorf("norm: limb %s has %d ranges, span wants %d", limb, len(ranges), span.Len)
		}
		for i, r := range ranges {
			if r.Max < r.Min {
				return fmt.Errorf("norm: limb %s dim %d has max %v < min %v", limb, i, r.Max, r.Min)
			}
		}
	}
	return nil
}

// NormalizeLimb scales one limb's values dimension by dimension.
func (s Stats) NormalizeLimb(limb state.Limb, xs []float64) ([]float64, error) {
	ranges, ok := s[limb]
	if !ok {
		return nil, fmt.Errorf("norm: no stats for limb %s", limb)
	}
	if len(xs) != len(ranges) {
		return nil, fmt.Errorf("norm: limb %s has %d values, stats want %d", limb, len(xs), len(ranges))
	}
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = ranges[i].Normalize(x)
	}
	return out, nil
}

// DenormalizeLimb is the inverse of NormalizeLimb.
func (s Stats) DenormalizeLimb(limb state.Limb, ys []float64) ([]float64, error) {
	ranges, ok := s[limb]
	if !ok {
		return nil, fmt.Errorf("norm: no stats for limb %s", limb)
	}
	if len(ys) != len(ranges) {
		return nil, fmt.Errorf("norm: limb %s has %d values, stats want %d", limb, len(ys), len(ranges))
	}
	out := make([]float64, len(ys))
	for i, y := range ys {
		out[i] = ranges[i].Denormalize(y)
	}
	return out, nil
}
