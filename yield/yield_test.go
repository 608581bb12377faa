package yield

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/hbook"
)

var theory = []float64{0.156, 0.116, 0.156, 0.116, 0.156}

func TestCompare(t *testing.T) {
	t.Parallel()

	n := []float64{10, 20, 20, 10, 15}
	res, err := Compare(n, theory)
	require.NoError(t, err)
	require.True(t, res.Defined)

	assert.Equal(t, 75.0, res.Total)
	assert.Equal(t, 4, res.NDF)
	for i, want := range []float64{10.0 / 75, 20.0 / 75, 20.0 / 75, 10.0 / 75, 15.0 / 75} {
		assert.InDelta(t, want, res.Fractions[i], 1e-12)
		assert.InDelta(t, math.Sqrt(n[i])/75, res.Sigma[i], 1e-12)
	}
	assert.InDelta(t, 0.2, res.Fractions[4], 1e-12)

	sum := 0.7
	chi2 := 0.0
	for i := range n {
		p := theory[i] / sum
		assert.InEpsilon(t, p, res.Theory[i], 1e-12)
		d := n[i]/75 - p
		assert.InDelta(t, d, res.Difference[i], 1e-12)
		chi2 += d * d / p
	}
	assert.InEpsilon(t, chi2, res.ChiSquare, 1e-9)

	// Survival of a chi-square with 4 degrees of freedom in closed form.
	want := math.Exp(-chi2/2) * (1 + chi2/2)
	assert.InEpsilon(t, want, res.PValue, 1e-9)
}

func TestCompareUndefined(t *testing.T) {
	t.Parallel()

	res, err := Compare([]float64{0, 0, 0, 0, 0}, theory)
	assert.ErrorIs(t, err, ErrDivisionUndefined)
	assert.False(t, res.Defined)
	assert.Zero(t, res.Total)
	assert.Nil(t, res.Fractions)
}

func TestCompareInvalid(t *testing.T) {
	t.Parallel()

	_, err := Compare([]float64{1, 2}, theory)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Compare([]float64{1}, []float64{1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Compare([]float64{1, -1}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Compare([]float64{1, 1}, []float64{1, 0})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIntegrateWindow(t *testing.T) {
	t.Parallel()

	h := hbook.NewH1D(1000, 0, 1000)
	h.Fill(59.9, 1)
	h.Fill(60.2, 1)
	h.Fill(91, 2)
	h.Fill(119.7, 1)
	h.Fill(120.1, 5)
	h.Fill(121, 3)
	h.Fill(-3, 7)
	// 120.1 shares the bin holding the upper edge; 121 does not.
	assert.Equal(t, 9.0, Integrate(h, Window{Lo: 60, Hi: 120}))
	assert.Equal(t, 0.0, Integrate(h, Window{Lo: 200, Hi: 300}))

	res, err := Analyze([]*hbook.H1D{h, h}, Window{Lo: 60, Hi: 120}, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, []float64{9, 9}, res.Yields)
	assert.InDelta(t, 0, res.ChiSquare, 1e-15)
	assert.InDelta(t, 1, res.PValue, 1e-12)

	_, err = Analyze([]*hbook.H1D{h, nil}, Window{Lo: 60, Hi: 120}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = Analyze([]*hbook.H1D{h, h}, Window{Lo: 120, Hi: 60}, []float64{1, 1})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIntegrateWindowEdges(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		name  string
		bins  int
		fills []float64
		want  float64
	}{
		{"entries on both edges", 1000, []float64{60, 120}, 2},
		{"just below the lower edge", 1000, []float64{59.999, 60}, 1},
		{"coarse bins keep the window content", 4, []float64{91}, 1},
		{"window inside one bin", 4, []float64{91, 249, 250}, 2},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := hbook.NewH1D(tc.bins, 0, 1000)
			for _, x := range tc.fills {
				h.Fill(x, 1)
			}
			assert.Equal(t, tc.want, Integrate(h, Window{Lo: 60, Hi: 120}))
		})
	}
}
