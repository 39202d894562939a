package state

import (
	"errors"
	"fmt"
)

var (
	// ErrShapeMismatch means a raw vector's length does not equal 3N.
	ErrShapeMismatch = errors.New("state: shape mismatch")

	// ErrIncompleteCommand means a required limb is missing from a command.
	ErrIncompleteCommand = errors.New("state: incomplete command")
)

// Decode splits a block-concatenated raw vector (positions, then velocities,
// then torques, each N wide) into per-limb position sub-vectors. Positions are
// taken as the contiguous prefix raw[0:N], never a strided subsample, and
// re-sliced by the fixed spans in the layout. Returned slices are copies.
func Decode(l Layout, raw []float64) (map[Limb][]float64, error) {
	if len(raw) != l.RawLen() {
		return nil, fmt.Errorf("%w: got %d values, layout wants %d (3x%d)", ErrShapeMismatch, len(raw), l.RawLen(), l.Joints)
	}
	pos := raw[:l.Joints]
	out := make(map[Limb][]float64, len(l.Limbs))
	for limb, s := range l.Limbs {
		sub := make([]float64, s.Len)
		copy(sub, pos[s.Start:s.End()])
		out[limb] = sub
	}
	return out, nil
}

// Velocities returns the middle block raw[N:2N] as a copy.
func Velocities(l Layout, raw []float64) ([]float64, error) {
	if len(raw) != l.RawLen() {
		return nil, fmt.Errorf("%w: got %d values, layout wants %d", ErrShapeMismatch, len(raw), l.RawLen())
	}
	out := make([]float64, l.Joints)
	copy(out, raw[l.Joints:2*l.Joints])
	return out, nil
}

// Torques returns the last block raw[2N:3N] as a copy.
func Torques(l Layout, raw []float64) ([]float64, error) {
	if len(raw) != l.RawLen() {
		return nil, fmt.Errorf("%w: got %d values, layout wants %d", ErrShapeMismatch, len(raw), l.RawLen())
	}
	out := make([]float64, l.Joints)
	copy(out, raw[2*l.Joints:])
	return out, nil
}

// Encode concatenates per-limb commands into a flat vector in the layout's
// fixed command order. Every limb in the order must be present with exactly
// its span width.
func Encode(l Layout, limbs map[Limb][]float64) ([]float64, error) {
	out := make([]float64, 0, l.ControlledDOF())
	for _, limb := range l.CommandOrder {
		vals, ok := limbs[limb]
		if !ok {
			return nil, fmt.Errorf("%w: missing %s", ErrIncompleteCommand, limb)
		}
		want := l.Limbs[limb].Len
		if len(vals) != want {
			return nil, fmt.Errorf("%w: limb %s has %d values, span wants %d", ErrShapeMismatch, limb, len(vals), want)
		}
		out = append(out, vals...)
	}
	return out, nil
}
