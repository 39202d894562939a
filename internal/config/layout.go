// Package config loads the YAML files for the bridge and policyd binaries.
// Missing files fall back to compiled-in defaults for the G1 layout.
package config

import (
	"fmt"
	"strings"

	"policylink.ai/internal/norm"
	"policylink.ai/internal/state"
)

// LayoutSpec mirrors state.Layout in YAML form.
type LayoutSpec struct {
	Joints       int        `yaml:"joints"`
	Limbs        []LimbSpec `yaml:"limbs"`
	CommandOrder []string   `yaml:"command_order"`
}

type LimbSpec struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	Len   int    `yaml:"len"`
}

func defaultLayoutSpec() LayoutSpec {
	l := state.G1Dex3()
	s := LayoutSpec{Joints: l.Joints}
	for _, limb := range l.CommandOrder {
		span := l.Limbs[limb]
		s.Limbs = append(s.Limbs, LimbSpec{Name: string(limb), Start: span.Start, Len: span.Len})
		s.CommandOrder = append(s.CommandOrder, string(limb))
	}
	return s
}

// Layout builds a validated state.Layout from the configured tables.
func (s LayoutSpec) Layout() (state.Layout, error) {
	l := state.Layout{
		Joints: s.Joints,
		Limbs:  make(map[state.Limb]state.Span, len(s.Limbs)),
	}
	for _, limb := range s.Limbs {
		name := state.Limb(strings.TrimSpace(limb.Name))
		if name == "" {
			return state.Layout{}, fmt.Errorf("layout: limb with empty name")
		}
		if _, dup := l.Limbs[name]; dup {
			return state.Layout{}, fmt.Errorf("layout: duplicate limb %s", name)
		}
		l.Limbs[name] = state.Span{Start: limb.Start, Len: limb.Len}
	}
	for _, name := range s.CommandOrder {
		l.CommandOrder = append(l.CommandOrder, state.Limb(name))
	}
	if err := l.Validate(); err != nil {
		return state.Layout{}, err
	}
	return l, nil
}

// StatsSpec is the per-limb normalization table keyed by limb name.
type StatsSpec map[string][]norm.Range

func defaultStatsSpec() StatsSpec {
	// Without a trained checkpoint's statistics, default every joint to a
	// symmetric radian range.
	l := state.G1Dex3()
	s := StatsSpec{}
	for limb, span := range l.Limbs {
		ranges := make([]norm.Range, span.Len)
		for i := range ranges {
			ranges[i] = norm.Range{Min: -3.1416, Max: 3.1416}
		}
		s[string(limb)] = ranges
	}
	return s
}

// Stats builds norm.Stats from the configured table, validated against the layout.
func (s StatsSpec) Stats(l state.Layout) (norm.Stats, error) {
	out := make(norm.Stats, len(s))
	for name, ranges := range s {
		out[state.Limb(name)] = ranges
	}
	if err := out.Validate(l); err != nil {
		return nil, err
	}
	return out, nil
}
