package state

import (
	"fmt"
	"sort"
)

// Limb names one controllable joint group.
type Limb string

const (
	LeftArm   Limb = "left_arm"
	RightArm  Limb = "right_arm"
	LeftHand  Limb = "left_hand"
	RightHand Limb = "right_hand"
)

// Span is a contiguous run of global joint indices belonging to one limb.
type Span struct {
	Start int
	Len   int
}

func (s Span) End() int { return s.Start + s.Len }

// Layout is the single source of truth for how a group's sensor vector is
// laid out: N joints per block, blocks ordered positions/velocities/torques,
// and a fixed limb -> global-index table. It is declared once as a constant
// structure and validated at startup; call sites never re-derive offsets.
type Layout struct {
	// Joints is N, the joint count of one block. A raw vector is 3N long.
	Joints int

	// Limbs maps each controlled limb to its span inside the position block.
	Limbs map[Limb]Span

	// CommandOrder is the fixed order limbs are concatenated into a flat
	// command vector. Used symmetrically everywhere a command is built or
	// interpreted.
	CommandOrder []Limb
}

// G1Dex3 is the 43-DOF Unitree G1 + Dex3 hands convention: legs first, then
// waist, arms, hands. Only arms and hands are controlled.
//
//	[0:6)   left leg    [6:12)  right leg   [12:15) waist
//	[15:22) left arm    [22:29) left hand
//	[29:36) right arm   [36:43) right hand
func G1Dex3() Layout {
	return Layout{
		Joints: 43,
		Limbs: map[Limb]Span{
			LeftArm:   {Start: 15, Len: 7},
			LeftHand:  {Start: 22, Len: 7},
			RightArm:  {Start: 29, Len: 7},
			RightHand: {Start: 36, Len: 7},
		},
		CommandOrder: []Limb{LeftArm, RightArm, LeftHand, RightHand},
	}
}

// ControlledDOF is the width of a flat command vector.
func (l Layout) ControlledDOF() int {
	n := 0
	for _, s := range l.Limbs {
		n += s.Len
	}
	return n
}

// RawLen is the expected length of a raw block-concatenated sensor vector.
func (l Layout) RawLen() int { return 3 * l.Joints }

// Validate checks the limb table once at startup: spans in range, non-empty,
// pairwise disjoint, and the command order a permutation of the limb set.
func (l Layout) Validate() error {
	if l.Joints <= 0 {
		return fmt.Errorf("layout: joints must be > 0")
	}
	if len(l.Limbs) == 0 {
		return fmt.Errorf("layout: no limbs declared")
	}
	type seg struct {
		limb Limb
		Span
	}
	segs := make([]seg, 0, len(l.Limbs))
	for limb, s := range l.Limbs {
		if s.Len <= 0 {
			return fmt.Errorf("layout: limb %s has empty span", limb)
		}
		if s.Start < 0 || s.End() > l.Joints {
			return fmt.Errorf("layout: limb %s span [%d:%d) outside [0:%d)", limb, s.Start, s.End(), l.Joints)
		}
		segs = append(segs, seg{limb, s})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	for i := 1; i < len(segs); i++ {
		if segs[i].Start < segs[i-1].End() {
			return fmt.Errorf("layout: limbs %s and %s overlap", segs[i-1].limb, segs[i].limb)
		}
	}
	if len(l.CommandOrder) != len(l.Limbs) {
		return fmt.Errorf("layout: command order lists %d limbs, table has %d", len(l.CommandOrder), len(l.Limbs))
	}
	seen := map[Limb]bool{}
	for _, limb := range l.CommandOrder {
		if _, ok := l.Limbs[limb]; !ok {
			return fmt.Errorf("layout: command order names unknown limb %s", limb)
		}
		if seen[limb] {
			return fmt.Errorf("layout: command order repeats limb %s", limb)
		}
		seen[limb] = true
	}
	return nil
}
