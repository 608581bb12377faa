package event

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestRecord(t *testing.T, pts []float64) arrow.Record {
	t.Helper()
	jets := make([][]float32, len(pts))
	flav := make([][]int32, len(pts))
	for i, pt := range pts {
		jets[i] = []float32{float32(pt), float32(pt) / 2}
		flav[i] = []int32{int32(i), -int32(i)}
	}
	rec, err := NewRecord(Pool,
		Column{Name: "pt", Values: pts},
		Column{Name: "Jet_pt", Values: jets},
		Column{Name: "Jet_partonFlavour", Values: flav},
		Column{Name: "pass", Values: make([]bool, len(pts))},
	)
	require.NoError(t, err)
	return rec
}

func TestSource(t *testing.T) {
	t.Parallel()

	r1 := createTestRecord(t, []float64{1, 2, 3})
	defer r1.Release()
	r2 := createTestRecord(t, []float64{4, 5})
	defer r2.Release()

	src, err := NewSource(nil, r1, r2)
	require.NoError(t, err)
	defer src.Release()

	assert.Equal(t, int64(5), src.NumRows())
	assert.Equal(t, 2, src.NumBatches())
	assert.Equal(t, int64(3), src.Offset(1))

	t.Run("Rechunk", func(t *testing.T) {
		chunked := src.Rechunk(2)
		defer chunked.Release()
		assert.Equal(t, 3, chunked.NumBatches())
		assert.Equal(t, int64(5), chunked.NumRows())
		assert.Equal(t, []int64{0, 2, 3}, []int64{chunked.Offset(0), chunked.Offset(1), chunked.Offset(2)})

		last, err := Floats(chunked.Batch(2).Column(0))
		require.NoError(t, err)
		assert.Equal(t, []float64{4, 5}, last)
	})

	t.Run("Range", func(t *testing.T) {
		sub, err := src.Range(2, 4)
		require.NoError(t, err)
		defer sub.Release()
		assert.Equal(t, int64(2), sub.NumRows())

		first, err := Floats(sub.Batch(0).Column(0))
		require.NoError(t, err)
		assert.Equal(t, []float64{3}, first)

		jets, err := FloatLists(sub.Batch(1).Column(1))
		require.NoError(t, err)
		assert.Equal(t, [][]float64{{4, 2}}, jets)

		_, err = src.Range(4, 2)
		assert.Error(t, err)
	})
}

func TestSourceSchemaMismatch(t *testing.T) {
	t.Parallel()

	r1 := createTestRecord(t, []float64{1})
	defer r1.Release()
	r2, err := NewRecord(Pool, Column{Name: "other", Values: []int64{1}})
	require.NoError(t, err)
	defer r2.Release()

	_, err = NewSource(nil, r1, r2)
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = NewSource(nil)
	assert.ErrorIs(t, err, ErrEmptySource)
}

func TestColumnExtraction(t *testing.T) {
	t.Parallel()

	rec := createTestRecord(t, []float64{10, 20})
	defer rec.Release()

	assert.Equal(t, KindFloat, KindOf(rec.Column(0).DataType()))
	assert.Equal(t, KindFloatList, KindOf(rec.Column(1).DataType()))
	assert.Equal(t, KindIntList, KindOf(rec.Column(2).DataType()))
	assert.Equal(t, KindBool, KindOf(rec.Column(3).DataType()))

	flav, err := IntLists(rec.Column(2))
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{0, 0}, {1, -1}}, flav)

	_, err = Ints(rec.Column(0))
	assert.Error(t, err)
	_, err = Bools(rec.Column(0))
	assert.Error(t, err)
}

func TestNewRecordRowMismatch(t *testing.T) {
	t.Parallel()

	_, err := NewRecord(Pool,
		Column{Name: "a", Values: []float64{1, 2}},
		Column{Name: "b", Values: []float64{1}},
	)
	assert.Error(t, err)

	_, err = NewRecord(Pool, Column{Name: "c", Values: []string{"x"}})
	assert.Error(t, err)
}
