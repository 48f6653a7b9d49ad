// Package occupancy converts brick energy landscapes into log10
// probabilities that the target site is bound.
package occupancy

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"thermoters/internal/datasetid"
	"thermoters/internal/model"
)

var (
	ErrThreshold = errors.New("invalid threshold position")
	ErrNonFinite = errors.New("non-finite occupancy")
	ErrOcclusion = errors.New("invalid reverse-strand occlusion")
)

// Reducer collapses a non-empty set of configuration energies into one
// effective energy.
type Reducer func(energies []float64) float64

// SoftMin is -log Σ exp(-E).
func SoftMin(energies []float64) float64 {
	neg := make([]float64, len(energies))
	for i, e := range energies {
		neg[i] = -e
	}
	return -floats.LogSumExp(neg)
}

// HardMin is the energy of the single best configuration.
func HardMin(energies []float64) float64 {
	return floats.Min(energies)
}

// KineticMin is -log Σ 1/(exp(E)+rate): each configuration saturates at
// the clearance rate before contributions are summed.
func KineticMin(rate float64) Reducer {
	return func(energies []float64) float64 {
		var sum float64
		for _, e := range energies {
			sum += 1 / (math.Exp(e) + rate)
		}
		return -math.Log(sum)
	}
}

// NewReducer selects the reduction for a bind mode. A clearance rate is
// only meaningful in additive mode.
func NewReducer(mode model.BindMode, clearance *float64) (Reducer, error) {
	switch mode {
	case model.BindAdd:
		if clearance != nil {
			return KineticMin(*clearance), nil
		}
		return SoftMin, nil
	case model.BindMax:
		if clearance != nil {
			return nil, fmt.Errorf("%w: clearance rate is not supported with %q", model.ErrBindMode, mode)
		}
		return HardMin, nil
	default:
		return nil, fmt.Errorf("%w: %q", model.ErrBindMode, mode)
	}
}

// LogPon returns the natural log of the probability of the three-state
// competition exp(-on) / (1 + exp(-on) + exp(-off)). Without an OFF term
// it is the two-state exp(-on) / (1 + exp(-on)).
func LogPon(effOn, effOff float64, hasOff bool) float64 {
	terms := []float64{0, -effOn}
	if hasOff {
		terms = append(terms, -effOff)
	}
	return -effOn - floats.LogSumExp(terms)
}

// Set is an ordered dataset-id → per-sequence log10 occupancy mapping.
type Set struct {
	Keys   []string
	Values map[string][]float64
}

func NewSet() *Set {
	return &Set{Values: make(map[string][]float64)}
}

func (s *Set) Put(key string, values []float64) {
	if _, ok := s.Values[key]; !ok {
		s.Keys = append(s.Keys, key)
	}
	s.Values[key] = values
}

// Converter reduces bricks with a model's bind mode, thresholds and
// reverse-strand occlusion window.
type Converter struct {
	BindMode      model.BindMode
	ClearanceRate *float64
	Thresholds    map[string]int
	// RCOcclusion lists reverse-strand positions that block the forward
	// site; nil means the whole reverse-strand position axis.
	RCOcclusion []int
}

func NewConverter(m *model.MatrixModel) *Converter {
	c := &Converter{
		BindMode:    m.BindMode,
		Thresholds:  m.Thresholds,
		RCOcclusion: m.RCOcclusion,
	}
	if rate, ok := m.ClearanceRate(); ok {
		c.ClearanceRate = &rate
	}
	return c
}

// ResolveThreshold maps a configured threshold onto (0, nPos]; values ≤ 0
// count back from the end of the position axis.
func ResolveThreshold(th, nPos int) (int, error) {
	if th <= 0 {
		th += nPos
	}
	if th <= 0 || th > nPos {
		return 0, fmt.Errorf("%w: resolves to %d for %d positions", ErrThreshold, th, nPos)
	}
	return th, nil
}

// Convert returns log10 Pon for every forward-strand brick in set. Reverse
// strand bricks only enter through the OFF term of their forward dataset.
func (c *Converter) Convert(set *model.BrickSet) (*Set, error) {
	reduce, err := NewReducer(c.BindMode, c.ClearanceRate)
	if err != nil {
		return nil, err
	}
	out := NewSet()
	for _, key := range set.Keys {
		if datasetid.IsReverse(key) {
			continue
		}
		values, err := c.convertOne(key, set, reduce)
		if err != nil {
			return nil, fmt.Errorf("dataset %s: %w", key, err)
		}
		out.Put(key, values)
	}
	return out, nil
}

// ConvertOne converts the forward brick of one dataset.
func (c *Converter) ConvertOne(id string, set *model.BrickSet) ([]float64, error) {
	reduce, err := NewReducer(c.BindMode, c.ClearanceRate)
	if err != nil {
		return nil, err
	}
	values, err := c.convertOne(id, set, reduce)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", id, err)
	}
	return values, nil
}

func (c *Converter) convertOne(id string, set *model.BrickSet, reduce Reducer) ([]float64, error) {
	brick, ok := set.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: no brick", datasetid.ErrNotFound)
	}
	rawTh, _, err := datasetid.Resolve(c.Thresholds, id)
	if err != nil {
		return nil, fmt.Errorf("threshold position: %w", err)
	}
	th, err := ResolveThreshold(rawTh, brick.NPos)
	if err != nil {
		return nil, err
	}

	rc, hasRC := set.Get(datasetid.Reverse(id))
	var occlusion []int
	if hasRC {
		if rc.NSeq != brick.NSeq {
			return nil, fmt.Errorf("%w: reverse strand has %d sequences, forward %d", ErrOcclusion, rc.NSeq, brick.NSeq)
		}
		occlusion, err = c.occlusion(rc.NPos)
		if err != nil {
			return nil, err
		}
	}

	out := make([]float64, brick.NSeq)
	var buf []float64
	for i := 0; i < brick.NSeq; i++ {
		buf = brick.Span(buf, i, 0, th)
		effOn := reduce(buf)

		var effOff float64
		hasOff := th < brick.NPos
		if hasOff {
			buf = brick.Span(buf, i, th, brick.NPos)
			effOff = reduce(buf)
		}
		if hasRC {
			buf = rc.Region(buf, i, occlusion)
			effOff += reduce(buf)
			hasOff = true
		}

		logPon := LogPon(effOn, effOff, hasOff)
		v := logPon / math.Ln10
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: sequence %d (effON=%g effOFF=%g)", ErrNonFinite, i, effOn, effOff)
		}
		out[i] = v
	}
	return out, nil
}

func (c *Converter) occlusion(nPos int) ([]int, error) {
	if c.RCOcclusion == nil {
		all := make([]int, nPos)
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if len(c.RCOcclusion) == 0 {
		return nil, fmt.Errorf("%w: empty occlusion window", ErrOcclusion)
	}
	for _, p := range c.RCOcclusion {
		if p < 0 || p >= nPos {
			return nil, fmt.Errorf("%w: position %d outside [0,%d)", ErrOcclusion, p, nPos)
		}
	}
	return c.RCOcclusion, nil
}
