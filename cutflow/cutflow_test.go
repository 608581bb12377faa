package cutflow

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TFMV/dijet/event"
	"github.com/TFMV/dijet/graph"
	"github.com/TFMV/dijet/hist"
)

func createTestGraph(t testing.TB, n int) *graph.Graph {
	t.Helper()
	mjj := make([]float64, n)
	ratio := make([]float64, n)
	flags := make([][]bool, n)
	for i := 0; i < n; i++ {
		mjj[i] = float64(40 + 10*i)
		ratio[i] = float64(i) / float64(n)
		flags[i] = []bool{i%2 == 0, i%2 == 0}
	}
	rec, err := event.NewRecord(event.Pool,
		event.Column{Name: "Mjj", Values: mjj},
		event.Column{Name: "Jet_pT2pT1", Values: ratio},
		event.Column{Name: "Flavour5", Values: flags},
	)
	require.NoError(t, err)
	defer rec.Release()
	src, err := event.NewSource(nil, rec)
	require.NoError(t, err)
	t.Cleanup(src.Release)
	return graph.New(src)
}

func newAccumulator(t testing.TB, g *graph.Graph) (*Accumulator, *hist.Battery) {
	t.Helper()
	bat, err := hist.NewBattery(g, hist.Config{
		MassColumn: "Mjj",
		Mass:       graph.Binning{Bins: 100, Min: 0, Max: 1000},
		Variables:  []hist.Variable{{Name: "Jet_pT2pT1", Binning: graph.Binning{Bins: 10, Min: 0, Max: 1}}},
		Categories: []int{5},
		FlagPrefix: "Flavour",
	}, graph.Handle[float64]{})
	require.NoError(t, err)
	return NewAccumulator(bat, nil), bat
}

func TestJoin(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "", Join(nil))
	assert.Equal(t, "pt2pt1", Join([]string{"pt2pt1"}))
	assert.Equal(t, "pt2pt1_Delta_R", Join([]string{"pt2pt1", "Delta_R"}))
}

func TestCumulativeAndIndependent(t *testing.T) {
	t.Parallel()

	g := createTestGraph(t, 10)
	acc, bat := newAccumulator(t, g)
	cuts := []Cut{
		{Label: "pt2pt1", Expr: "Jet_pT2pT1 > 0.25"},
		{Label: "window", Expr: "Mjj >= 60 && Mjj <= 110"},
	}

	cps, err := acc.Cumulative(g.Root(), cuts, hist.FillOptions{})
	require.NoError(t, err)
	require.Len(t, cps, 3)
	assert.Equal(t, []string{"", "pt2pt1", "pt2pt1_window"}, []string{cps[0].Label, cps[1].Label, cps[2].Label})

	singles, err := acc.Independent(g.Root(), cuts, hist.FillOptions{SkipKinematics: true})
	require.NoError(t, err)
	require.Len(t, singles, 2)

	final, err := acc.Apply(cps[2].View, Cut{Label: "final", Expr: "Mjj < 100"}, "final", false, hist.FillOptions{SkipKinematics: true})
	require.NoError(t, err)
	assert.Equal(t, 3, final.Depth())

	set, err := bat.Histograms(context.Background())
	require.NoError(t, err)
	sumw := func(k hist.Key) float64 {
		h := set.Get(k)
		require.NotNil(t, h, k.Name())
		return h.SumW()
	}
	// Rows 3..9 pass the ratio cut; rows 3..7 have Mjj in [60, 110].
	assert.Equal(t, 10.0, sumw(hist.Key{Variable: hist.Mass}))
	assert.Equal(t, 7.0, sumw(hist.Key{Variable: hist.Mass, Checkpoint: "pt2pt1"}))
	assert.Equal(t, 5.0, sumw(hist.Key{Variable: hist.Mass, Checkpoint: "pt2pt1_window"}))
	assert.Equal(t, 2.0, sumw(hist.Key{Variable: hist.Mass, Category: 5, Checkpoint: "pt2pt1_window"}))
	assert.Equal(t, 6.0, sumw(hist.Key{Variable: hist.Mass, Checkpoint: "window", Single: true}))
	assert.Equal(t, 3.0, sumw(hist.Key{Variable: hist.Mass, Checkpoint: "final"}))

	report := g.Report()
	require.Len(t, report, 5)
	assert.Equal(t, "pt2pt1", report[0].Label)
	assert.Equal(t, uint64(7), report[0].Pass)
}

func TestCutValidation(t *testing.T) {
	t.Parallel()

	g := createTestGraph(t, 3)
	acc, _ := newAccumulator(t, g)

	_, err := acc.Cumulative(g.Root(), []Cut{{Label: "a", Expr: "Mjj > 1"}, {Label: "a", Expr: "Mjj > 2"}}, hist.FillOptions{})
	assert.ErrorIs(t, err, ErrDuplicateLabel)
	_, err = acc.Independent(g.Root(), []Cut{{Expr: "Mjj > 1"}}, hist.FillOptions{})
	assert.ErrorIs(t, err, ErrEmptyLabel)
	_, err = acc.Cumulative(g.Root(), []Cut{{Label: "b", Expr: "nope > 1"}}, hist.FillOptions{})
	assert.ErrorIs(t, err, graph.ErrUnknownColumn)
}

func TestCheckpointCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		k := rapid.IntRange(0, 6).Draw(rt, "cuts")
		g := createTestGraph(t, 8)
		acc, bat := newAccumulator(t, g)

		cuts := make([]Cut, k)
		labels := make([]string, k)
		for i := range cuts {
			labels[i] = fmt.Sprintf("c%d", i)
			thr := rapid.Float64Range(0, 1).Draw(rt, "threshold")
			cuts[i] = Cut{Label: labels[i], Expr: fmt.Sprintf("Jet_pT2pT1 >= %g", thr)}
		}
		cps, err := acc.Cumulative(g.Root(), cuts, hist.FillOptions{})
		require.NoError(rt, err)
		require.Len(rt, cps, k+1)
		for i, cp := range cps {
			require.Equal(rt, Join(labels[:i]), cp.Label)
			require.Equal(rt, i, cp.View.Depth())
		}
		_, err = acc.Independent(g.Root(), cuts, hist.FillOptions{})
		require.NoError(rt, err)
		// Each checkpoint books mass and one variable, inclusive and for one category.
		require.Equal(rt, 4*(k+1)+4*k, bat.Registry().Len())
	})
}
