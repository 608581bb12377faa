package hist

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/TFMV/dijet/event"
	"github.com/TFMV/dijet/graph"
)

func TestKeyName(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		key  Key
		want string
	}{
		{Key{Variable: Mass}, "mjj"},
		{Key{Variable: Mass, Category: 3}, "mjj_PartonFlavour3"},
		{Key{Variable: Mass, Checkpoint: "pt2pt1_Delta_R"}, "mjj_cut_pt2pt1_Delta_R"},
		{Key{Variable: "Jet_delta_R", Category: 5, Checkpoint: "pt2pt1"}, "Jet_delta_R_PartonFlavour5_cut_pt2pt1"},
		{Key{Variable: Mass, Checkpoint: "pt2pt1", Single: true}, "mjj_single_pt2pt1"},
	} {
		assert.Equal(t, tc.want, tc.key.Name())
	}
	assert.Equal(t, Fingerprint("mjj"), Fingerprint(Name(Mass, Inclusive, "")))
}

func keyGen() *rapid.Generator[Key] {
	return rapid.Custom(func(t *rapid.T) Key {
		return Key{
			Variable:   rapid.StringMatching(`[A-Za-z][A-Za-z0-9]{0,8}`).Draw(t, "variable"),
			Category:   rapid.IntRange(0, 6).Draw(t, "category"),
			Checkpoint: rapid.StringMatching(`([A-Za-z0-9]{1,5}(_[A-Za-z0-9]{1,5}){0,3})?`).Draw(t, "checkpoint"),
			Single:     rapid.Bool().Draw(t, "single"),
		}
	})
}

func TestNamesAreDeterministicAndDistinct(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := keyGen().Draw(t, "a")
		b := keyGen().Draw(t, "b")
		if a.Checkpoint == "" {
			a.Single = false
		}
		if b.Checkpoint == "" {
			b.Single = false
		}
		if a.Name() != a.Name() {
			t.Fatalf("name of %+v is not stable", a)
		}
		if a != b && a.Name() == b.Name() {
			t.Fatalf("%+v and %+v share name %q", a, b, a.Name())
		}
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry(16)
	require.NoError(t, r.Add("mjj", ""))
	require.NoError(t, r.Add("mjj_cut_pt2pt1", "pt2pt1"))
	assert.True(t, r.Contains("mjj"))
	assert.False(t, r.Contains("mjj_cut_Delta_R"))

	err := r.Add("mjj_cut_pt2pt1", "pt2pt1")
	assert.ErrorIs(t, err, graph.ErrNameCollision)
	var collision *NameCollisionError
	require.ErrorAs(t, err, &collision)
	assert.Equal(t, "pt2pt1", collision.Checkpoint)
	assert.Equal(t, []string{"mjj", "mjj_cut_pt2pt1"}, r.Names())

	many := NewRegistry(8)
	for i := 0; i < 500; i++ {
		require.NoError(t, many.Add(fmt.Sprintf("h%d", i), ""))
	}
	assert.Equal(t, 500, many.Len())
}

// createTestGraph builds a graph of six events with two selected jets each.
// Rows 0, 1 and 4 have two b jets (category 5); row 2 has one.
func createTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	mjj := []float64{91, 85, 120, 60, 95, 300}
	dr := []float64{1, 2, 3, 4, 0.5, 2.5}
	b := [][]bool{{true, true}, {true, true}, {true, false}, {false, false}, {true, true}, {false, false}}
	u := [][]bool{{false, false}, {false, false}, {false, true}, {true, true}, {false, false}, {true, true}}
	rec, err := event.NewRecord(event.Pool,
		event.Column{Name: "Mjj", Values: mjj},
		event.Column{Name: "Jet_delta_R", Values: dr},
		event.Column{Name: "Flavour2", Values: u},
		event.Column{Name: "Flavour5", Values: b},
	)
	require.NoError(t, err)
	defer rec.Release()
	src, err := event.NewSource(nil, rec)
	require.NoError(t, err)
	t.Cleanup(src.Release)
	return graph.New(src)
}

func testConfig() Config {
	return Config{
		MassColumn: "Mjj",
		Mass:       graph.Binning{Bins: 100, Min: 0, Max: 1000},
		Variables:  []Variable{{Name: "Jet_delta_R", Binning: graph.Binning{Bins: 10, Min: 0, Max: 5}}},
		Categories: []int{2, 5},
		FlagPrefix: "Flavour",
	}
}

func TestBatteryFill(t *testing.T) {
	t.Parallel()

	g := createTestGraph(t)
	bat, err := NewBattery(g, testConfig(), graph.Handle[float64]{})
	require.NoError(t, err)

	cut, err := graph.FilterExpr(g.Root(), "low", "Mjj < 200")
	require.NoError(t, err)
	require.NoError(t, bat.Fill(g.Root(), "", false, FillOptions{}))
	require.NoError(t, bat.Fill(cut, "low", false, FillOptions{}))
	require.NoError(t, bat.Fill(cut, "low", true, FillOptions{SkipKinematics: true}))

	err = bat.Fill(cut, "low", false, FillOptions{})
	assert.ErrorIs(t, err, graph.ErrNameCollision)

	set, err := bat.Histograms(context.Background())
	require.NoError(t, err)
	// Pre-cut and "low" carry 3 mass and 3 kinematic histograms each; the
	// single-cut checkpoint has mass only.
	assert.Len(t, set.H1, 15)

	total := set.Get(Key{Variable: Mass, Checkpoint: "low"})
	require.NotNil(t, total)
	assert.Equal(t, 5.0, total.SumW())
	assert.Equal(t, 3.0, set.Get(Key{Variable: Mass, Category: 5, Checkpoint: "low"}).SumW())
	assert.Equal(t, 1.0, set.Get(Key{Variable: Mass, Category: 2, Checkpoint: "low"}).SumW())
	assert.Equal(t, 2.0, set.Get(Key{Variable: Mass, Category: 2}).SumW())
	assert.Equal(t, 3.0, set.Get(Key{Variable: Mass, Category: 5, Checkpoint: "low", Single: true}).SumW())

	for _, k := range []int{2, 5} {
		cat := set.Get(Key{Variable: "Jet_delta_R", Category: k, Checkpoint: "low"})
		all := set.Get(Key{Variable: "Jet_delta_R", Checkpoint: "low"})
		for i := range all.Binning.Bins {
			assert.LessOrEqual(t, cat.Binning.Bins[i].SumW(), all.Binning.Bins[i].SumW())
		}
	}
}

func TestBatteryEmptyCategory(t *testing.T) {
	t.Parallel()

	g := createTestGraph(t)
	bat, err := NewBattery(g, testConfig(), graph.Handle[float64]{})
	require.NoError(t, err)
	none, err := graph.FilterExpr(g.Root(), "none", "Mjj > 500")
	require.NoError(t, err)
	require.NoError(t, bat.Fill(none, "none", false, FillOptions{SkipKinematics: true}))

	set, err := bat.Histograms(context.Background())
	require.NoError(t, err)
	h := set.Get(Key{Variable: Mass, Category: 5, Checkpoint: "none"})
	require.NotNil(t, h)
	assert.Zero(t, h.Entries())
	assert.Equal(t, []string{"mjj_PartonFlavour2_cut_none", "mjj_PartonFlavour5_cut_none", "mjj_cut_none"}, set.Names())
}

func TestBatteryUnknownColumns(t *testing.T) {
	t.Parallel()

	g := createTestGraph(t)
	cfg := testConfig()
	cfg.Categories = []int{1}
	_, err := NewBattery(g, cfg, graph.Handle[float64]{})
	assert.ErrorIs(t, err, graph.ErrUnknownColumn)

	cfg = testConfig()
	cfg.MassColumn = "Mbb"
	_, err = NewBattery(g, cfg, graph.Handle[float64]{})
	assert.ErrorIs(t, err, graph.ErrUnknownColumn)

	cfg = testConfig()
	cfg.Categories = []int{Inclusive}
	_, err = NewBattery(g, cfg, graph.Handle[float64]{})
	assert.Error(t, err)
}

func TestBatteryCategoryMass(t *testing.T) {
	t.Parallel()

	g := createTestGraph(t)
	cfg := testConfig()
	cfg.Categories = []int{5}
	bat, err := NewBattery(g, cfg, graph.Handle[float64]{})
	require.NoError(t, err)

	require.NoError(t, bat.CategoryMass(g.Root(), 2))
	assert.ErrorIs(t, bat.CategoryMass(g.Root(), 2), graph.ErrNameCollision)
	assert.ErrorIs(t, bat.CategoryMass(g.Root(), 1), graph.ErrUnknownColumn)
	assert.Error(t, bat.CategoryMass(g.Root(), Inclusive))

	set, err := bat.Histograms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mjj_PartonFlavour2"}, set.Names())
	// Rows 3 and 5 carry two flavour-2 jets.
	assert.Equal(t, 2.0, set.Get(Key{Variable: Mass, Category: 2}).SumW())
}
