package correction

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockTable struct {
	mock.Mock
}

func (m *MockTable) Evaluate(inputs ...float64) (float64, error) {
	args := m.Called(inputs)
	return args.Get(0).(float64), args.Error(1)
}

type MockSource struct {
	mock.Mock
}

func (m *MockSource) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	args := m.Called(ctx, name)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func TestCorrectorChain(t *testing.T) {
	t.Parallel()

	pt := []float64{10, 42.5, 100}
	zeros := make([]float64, len(pt))

	for _, tc := range []struct {
		name   string
		isData bool
		factor float64
	}{
		{"data skips relative level", true, 70},
		{"simulation applies every level", false, 210},
	} {
		t.Run(tc.name, func(t *testing.T) {
			l2 := new(MockTable)
			if !tc.isData {
				l2.On("Evaluate", mock.Anything).Return(3.0, nil)
			}
			c := NewCorrectorFromTables(Constant(2), l2, Constant(5), Constant(7), tc.isData)

			got, err := c.Correct(zeros, zeros, zeros, pt, zeros, 30)
			require.NoError(t, err)
			require.Len(t, got, len(pt))
			for i := range pt {
				assert.InDelta(t, tc.factor*pt[i], got[i], 1e-9)
			}
			if tc.isData {
				l2.AssertNotCalled(t, "Evaluate", mock.Anything)
			} else {
				l2.AssertNumberOfCalls(t, "Evaluate", len(pt))
			}
		})
	}
}

func TestCorrectorUsesRawPt(t *testing.T) {
	t.Parallel()

	var seen []float64
	l1 := TableFunc(func(in ...float64) (float64, error) {
		require.Len(t, in, 4)
		seen = append(seen, in[2])
		return 1, nil
	})
	c := NewCorrectorFromTables(l1, Constant(1), Constant(1), Constant(1.5), true)

	got, err := c.Correct([]float64{0.5}, []float64{1}, []float64{0}, []float64{100}, []float64{0.2}, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{80}, seen)
	assert.InDelta(t, 120, got[0], 1e-12)

	// Zero raw factors feed the stored pt to the lookups unchanged.
	got, err = c.Correct([]float64{0.5}, []float64{1}, []float64{0}, []float64{100}, []float64{0}, 10)
	require.NoError(t, err)
	assert.Equal(t, []float64{80, 100}, seen)
	assert.InDelta(t, 150, got[0], 1e-12)

	_, err = c.Correct([]float64{0.5}, []float64{1}, nil, []float64{100}, []float64{0.2}, 10)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestCorrectorPropagatesOutOfDomain(t *testing.T) {
	t.Parallel()

	l3, err := NewBinnedTable("L3", []string{"JetEta", "JetPt"},
		[]Axis{{Name: "JetEta", Input: 0, Edges: []float64{-5, 0, 5}}},
		[]float64{1.1, 0.9})
	require.NoError(t, err)
	c := NewCorrectorFromTables(Constant(1), Constant(1), l3, Constant(1), false)

	got, err := c.Correct([]float64{0.5, 0.5}, []float64{1, 6}, []float64{0, 0}, []float64{50, 60}, []float64{0, 0}, 20)
	assert.Nil(t, got)
	var dom *OutOfDomainError
	require.ErrorAs(t, err, &dom)
	assert.Equal(t, "JetEta", dom.Input)
	assert.Equal(t, 6.0, dom.Value)
	assert.Contains(t, err.Error(), "jet 1")
}

func TestBinnedTable(t *testing.T) {
	t.Parallel()

	tbl, err := NewBinnedTable("sf", []string{"area", "eta", "pt"}, []Axis{
		{Name: "eta", Input: 1, Edges: []float64{-2.5, 0, 2.5}},
		{Name: "pt", Input: 2, Edges: []float64{15, 30, 100, 1000}},
	}, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	for _, tc := range []struct {
		eta, pt float64
		want    float64
	}{
		{-1, 20, 1},
		{-2.5, 15, 1},
		{-0.1, 500, 3},
		{0, 30, 5},
		{2.5, 1000, 6},
	} {
		got, err := tbl.Evaluate(0, tc.eta, tc.pt)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "eta=%g pt=%g", tc.eta, tc.pt)
	}

	_, err = tbl.Evaluate(0, 1, 1001)
	assert.ErrorIs(t, err, ErrOutOfDomain)
	_, err = tbl.Evaluate(0, 1)
	assert.ErrorIs(t, err, ErrArity)

	_, err = NewBinnedTable("bad", []string{"x"}, []Axis{{Name: "x", Input: 0, Edges: []float64{0, 1}}}, []float64{1, 2})
	assert.Error(t, err)
}

const payloadJSON = `{
  "schema_version": 2,
  "corrections": [
    {
      "name": "Summer22_22Sep2023_V2_MC_L2Relative_AK4PFPuppi",
      "version": 1,
      "inputs": [{"name": "JetEta", "type": "real"}, {"name": "JetPt", "type": "real"}],
      "data": {
        "nodetype": "multibinning",
        "inputs": ["JetEta", "JetPt"],
        "edges": [[-5.0, 0.0, 5.0], [0.0, 50.0, 7000.0]],
        "content": [1.1, 1.2, 1.3, 1.4],
        "flow": "error"
      }
    },
    {
      "name": "Summer22_22Sep2023_V2_MC_L2L3Residual_AK4PFPuppi",
      "inputs": [{"name": "JetEta", "type": "real"}, {"name": "JetPt", "type": "real"}],
      "data": {"nodetype": "constant", "value": 1.0}
    },
    {
      "name": "eta_only",
      "inputs": [{"name": "JetEta", "type": "real"}, {"name": "JetPt", "type": "real"}],
      "data": {"nodetype": "binning", "input": "JetEta", "edges": [-5.0, 5.0], "content": [0.5]}
    }
  ]
}`

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestLoadSet(t *testing.T) {
	t.Parallel()

	for name, r := range map[string]io.Reader{
		"plain": strings.NewReader(payloadJSON),
		"gzip":  bytes.NewReader(gzipped(t, payloadJSON)),
	} {
		t.Run(name, func(t *testing.T) {
			set, err := LoadSet(r)
			require.NoError(t, err)
			assert.Len(t, set.Names(), 3)

			l2, err := set.Table("Summer22_22Sep2023_V2_MC_L2Relative_AK4PFPuppi")
			require.NoError(t, err)
			v, err := l2.Evaluate(1.0, 80)
			require.NoError(t, err)
			assert.Equal(t, 1.4, v)

			eta, err := set.Table("eta_only")
			require.NoError(t, err)
			v, err = eta.Evaluate(-3, 12345)
			require.NoError(t, err)
			assert.Equal(t, 0.5, v)

			_, err = set.Table("missing")
			assert.ErrorIs(t, err, ErrUnknownTable)
		})
	}

	_, err := LoadSet(strings.NewReader(`{"corrections": [{"name": "f", "data": {"nodetype": "formula"}}]}`))
	assert.ErrorContains(t, err, "unsupported node type")
}

func TestResolve(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		year   int
		era    string
		isData bool
		file   string
		l1     string
	}{
		{2022, "C", true, "JEC/2022_Summer22/jet_jerc.json.gz", "Summer22_22Sep2023_RunCD_V2_DATA_L1FastJet_AK4PFPuppi"},
		{2022, "F", true, "JEC/2022_Summer22EE/jet_jerc.json.gz", "Summer22EE_22Sep2023_RunF_V2_DATA_L1FastJet_AK4PFPuppi"},
		{2022, "D", false, "JEC/2022_Summer22/jet_jerc.json.gz", "Summer22_22Sep2023_V2_MC_L1FastJet_AK4PFPuppi"},
		{2023, "Cv4", true, "JEC/2023_Summer23/jet_jerc.json.gz", "Summer23Prompt23_RunCv4_V1_DATA_L1FastJet_AK4PFPuppi"},
		{2023, "D", false, "JEC/2023_Summer23BPix/jet_jerc.json.gz", "Summer23BPixPrompt23_V1_MC_L1FastJet_AK4PFPuppi"},
		{2024, "C", true, "JEC/2024_Winter24/jet_jerc.json.gz", "Winter24Prompt24_RunBCD_V2_DATA_L1FastJet_AK4PFPuppi"},
		{2024, "G", true, "JEC/2024_Winter24/jet_jerc.json.gz", "Winter24Prompt24_RunG_V2_DATA_L1FastJet_AK4PFPuppi"},
	} {
		k, err := Resolve(tc.year, tc.era, tc.isData)
		require.NoError(t, err)
		assert.Equal(t, tc.file, k.File())
		assert.Equal(t, tc.l1, k.Table(L1FastJet))
	}

	_, err := Resolve(2024, "Z", true)
	assert.ErrorIs(t, err, ErrUnknownEra)
	_, err = Resolve(2018, "A", false)
	assert.ErrorIs(t, err, ErrUnknownEra)
}

func TestFetchFromDirectory(t *testing.T) {
	t.Parallel()

	key, err := Resolve(2022, "C", false)
	require.NoError(t, err)
	root := t.TempDir()
	file := filepath.Join(root, filepath.FromSlash(key.File()))
	require.NoError(t, os.MkdirAll(filepath.Dir(file), 0o755))
	require.NoError(t, os.WriteFile(file, gzipped(t, payloadJSON), 0o644))

	set, err := Fetch(context.Background(), DirSource{Root: root}, key)
	require.NoError(t, err)

	// L1 and L3 are absent from the test payload.
	_, err = NewCorrector(set, key)
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = Fetch(context.Background(), DirSource{Root: t.TempDir()}, key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestBreakerSourceOpens(t *testing.T) {
	t.Parallel()

	boom := errors.New("bucket unavailable")
	src := new(MockSource)
	src.On("Open", mock.Anything, "JEC/x.json.gz").Return(nil, boom)

	b := NewBreakerSource(src, 2, time.Minute)
	for i := 0; i < 2; i++ {
		_, err := b.Open(context.Background(), "JEC/x.json.gz")
		assert.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Open(context.Background(), "JEC/x.json.gz")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	src.AssertNumberOfCalls(t, "Open", 2)
}
