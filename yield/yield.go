// Package yield compares per-category event yields in a mass window with a
// theoretical expectation through a chi-square goodness-of-fit test.
package yield

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrDivisionUndefined is returned when the total yield is zero and the
	// category fractions do not exist.
	ErrDivisionUndefined = errors.New("yield: total yield is zero, fractions undefined")
	// ErrInvalidInput is returned for mismatched or non-positive inputs.
	ErrInvalidInput = errors.New("yield: invalid input")
)

// Window is a closed interval of the histogrammed variable.
type Window struct {
	Lo float64 `yaml:"lo"`
	Hi float64 `yaml:"hi"`
}

// Validate rejects inverted windows.
func (w Window) Validate() error {
	if !(w.Lo <= w.Hi) {
		return fmt.Errorf("%w: window [%g, %g]", ErrInvalidInput, w.Lo, w.Hi)
	}
	return nil
}

// Integrate sums the weights of the bins of h from the bin holding w.Lo to
// the bin holding w.Hi, both included. Bins are half-open [min, max), so an
// entry exactly at w.Hi counts. Under- and overflow are never included.
func Integrate(h *hbook.H1D, w Window) float64 {
	sum := 0.0
	for _, bin := range h.Binning.Bins {
		if bin.XMax() > w.Lo && bin.XMin() <= w.Hi {
			sum += bin.SumW()
		}
	}
	return sum
}

// Result is the outcome of a comparison. When Defined is false only Yields
// and Total are meaningful.
type Result struct {
	Yields     []float64
	Total      float64
	Fractions  []float64
	Theory     []float64
	Sigma      []float64
	Difference []float64
	ChiSquare  float64
	NDF        int
	PValue     float64
	Defined    bool
}

// Compare normalizes yields to fractions and tests them against theory,
// which is renormalized to unit sum. A zero total returns a Result with
// Defined false together with ErrDivisionUndefined.
func Compare(yields, theory []float64) (Result, error) {
	if len(yields) != len(theory) {
		return Result{}, fmt.Errorf("%w: %d yields for %d expectations", ErrInvalidInput, len(yields), len(theory))
	}
	ndf := len(yields) - 1
	if ndf < 1 {
		return Result{}, fmt.Errorf("%w: need at least two categories", ErrInvalidInput)
	}

	res := Result{Yields: append([]float64(nil), yields...), NDF: ndf}
	for _, n := range yields {
		if n < 0 {
			return Result{}, fmt.Errorf("%w: negative yield %g", ErrInvalidInput, n)
		}
		res.Total += n
	}
	if res.Total == 0 {
		return res, ErrDivisionUndefined
	}

	norm := 0.0
	for _, p := range theory {
		if !(p > 0) {
			return Result{}, fmt.Errorf("%w: expectation %g is not positive", ErrInvalidInput, p)
		}
		norm += p
	}

	k := len(yields)
	res.Fractions = make([]float64, k)
	res.Theory = make([]float64, k)
	res.Sigma = make([]float64, k)
	res.Difference = make([]float64, k)
	for i, n := range yields {
		res.Fractions[i] = n / res.Total
		res.Theory[i] = theory[i] / norm
		res.Sigma[i] = math.Sqrt(n) / res.Total
		res.Difference[i] = res.Fractions[i] - res.Theory[i]
		res.ChiSquare += res.Difference[i] * res.Difference[i] / res.Theory[i]
	}
	res.PValue = distuv.ChiSquared{K: float64(ndf)}.Survival(res.ChiSquare)
	res.Defined = true
	return res, nil
}

// Analyze integrates each category histogram over w and compares the
// yields with theory.
func Analyze(hs []*hbook.H1D, w Window, theory []float64) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	yields := make([]float64, len(hs))
	for i, h := range hs {
		if h == nil {
			return Result{}, fmt.Errorf("%w: missing histogram for category %d", ErrInvalidInput, i+1)
		}
		yields[i] = Integrate(h, w)
	}
	return Compare(yields, theory)
}
