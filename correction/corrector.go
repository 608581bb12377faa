package correction

import (
	"fmt"
)

// Corrector applies the jet energy correction chain to per-jet arrays. The
// tables are bound once at construction and only read afterwards, so one
// Corrector may be shared by every worker of a run.
type Corrector struct {
	l1, l2, l3, residual Table
	isData               bool
}

// NewCorrector binds the four correction levels of key from set.
func NewCorrector(set *Set, key Key) (*Corrector, error) {
	var tables [4]Table
	for i, level := range []string{L1FastJet, L2Relative, L3Absolute, L2L3Residual} {
		t, err := set.Table(key.Table(level))
		if err != nil {
			return nil, err
		}
		tables[i] = t
	}
	return NewCorrectorFromTables(tables[0], tables[1], tables[2], tables[3], key.IsData), nil
}

// NewCorrectorFromTables builds a corrector from explicit tables. L1 takes
// (area, eta, pt, rho); the other levels take (eta, pt).
func NewCorrectorFromTables(l1, l2, l3, residual Table, isData bool) *Corrector {
	return &Corrector{l1: l1, l2: l2, l3: l3, residual: residual, isData: isData}
}

// IsData reports whether the simulation-only relative level is skipped.
func (c *Corrector) IsData() bool { return c.isData }

// Factor returns the combined scale factor of one jet.
func (c *Corrector) Factor(area, eta, pt, rho float64) (float64, error) {
	sf, err := c.l1.Evaluate(area, eta, pt, rho)
	if err != nil {
		return 0, err
	}
	if !c.isData {
		f, err := c.l2.Evaluate(eta, pt)
		if err != nil {
			return 0, err
		}
		sf *= f
	}
	for _, t := range []Table{c.l3, c.residual} {
		f, err := t.Evaluate(eta, pt)
		if err != nil {
			return 0, err
		}
		sf *= f
	}
	return sf, nil
}

// RawPt removes the correction already applied upstream: pt * (1 - rawFactor).
func RawPt(pt, rawFactor []float64) ([]float64, error) {
	if len(pt) != len(rawFactor) {
		return nil, fmt.Errorf("%w: pt %d, rawFactor %d", ErrLengthMismatch, len(pt), len(rawFactor))
	}
	out := make([]float64, len(pt))
	for i := range pt {
		out[i] = pt[i] * (1 - rawFactor[i])
	}
	return out, nil
}

// Correct returns the corrected transverse momenta of one event's jets. The
// lookups see the raw pt, and the result is the combined factor times raw pt.
// Chains that feed the stored pt straight into the lookups give different
// results whenever rawFactor is nonzero; pass zero rawFactors to match them.
// phi is accepted for tables binned in azimuth and must match the other
// arrays in length.
func (c *Corrector) Correct(area, eta, phi, pt, rawFactor []float64, rho float64) ([]float64, error) {
	n := len(pt)
	if len(area) != n || len(eta) != n || len(phi) != n {
		return nil, fmt.Errorf("%w: area %d, eta %d, phi %d, pt %d", ErrLengthMismatch, len(area), len(eta), len(phi), n)
	}
	raw, err := RawPt(pt, rawFactor)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range raw {
		sf, err := c.Factor(area[i], eta[i], raw[i], rho)
		if err != nil {
			return nil, fmt.Errorf("jet %d: %w", i, err)
		}
		out[i] = sf * raw[i]
	}
	return out, nil
}
