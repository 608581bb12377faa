package event

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Column is one named column of row values used to assemble a record batch.
// Values must be one of []float64, []float32, []int64, []int32, []bool,
// [][]float64, [][]float32, [][]int64, [][]int32 or [][]bool.
type Column struct {
	Name   string
	Values any
}

// NewRecord assembles a record batch from column-major Go slices. All columns
// must have the same number of rows.
func NewRecord(mem memory.Allocator, cols ...Column) (arrow.Record, error) {
	if mem == nil {
		mem = Pool
	}
	fields := make([]arrow.Field, 0, len(cols))
	arrs := make([]arrow.Array, 0, len(cols))
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()

	rows := -1
	for _, c := range cols {
		arr, n, err := buildArray(mem, c.Values)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", c.Name, err)
		}
		arrs = append(arrs, arr)
		if rows >= 0 && n != rows {
			return nil, fmt.Errorf("column %q: %d rows, want %d", c.Name, n, rows)
		}
		rows = n
		fields = append(fields, arrow.Field{Name: c.Name, Type: arr.DataType()})
	}
	if rows < 0 {
		rows = 0
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), arrs, int64(rows)), nil
}

func buildArray(mem memory.Allocator, values any) (arrow.Array, int, error) {
	switch v := values.(type) {
	case []float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), len(v), nil
	case []float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), len(v), nil
	case []int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), len(v), nil
	case []int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), len(v), nil
	case []bool:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.AppendValues(v, nil)
		return b.NewArray(), len(v), nil
	case [][]float64:
		return buildList(mem, arrow.PrimitiveTypes.Float64, v, func(b array.Builder, row []float64) {
			b.(*array.Float64Builder).AppendValues(row, nil)
		})
	case [][]float32:
		return buildList(mem, arrow.PrimitiveTypes.Float32, v, func(b array.Builder, row []float32) {
			b.(*array.Float32Builder).AppendValues(row, nil)
		})
	case [][]int64:
		return buildList(mem, arrow.PrimitiveTypes.Int64, v, func(b array.Builder, row []int64) {
			b.(*array.Int64Builder).AppendValues(row, nil)
		})
	case [][]int32:
		return buildList(mem, arrow.PrimitiveTypes.Int32, v, func(b array.Builder, row []int32) {
			b.(*array.Int32Builder).AppendValues(row, nil)
		})
	case [][]bool:
		return buildList(mem, arrow.FixedWidthTypes.Boolean, v, func(b array.Builder, row []bool) {
			b.(*array.BooleanBuilder).AppendValues(row, nil)
		})
	}
	return nil, 0, fmt.Errorf("unsupported column values %T", values)
}

func buildList[E any](mem memory.Allocator, elem arrow.DataType, rows [][]E, appendRow func(array.Builder, []E)) (arrow.Array, int, error) {
	b := array.NewListBuilder(mem, elem)
	defer b.Release()
	vb := b.ValueBuilder()
	for _, row := range rows {
		b.Append(true)
		appendRow(vb, row)
	}
	return b.NewArray(), len(rows), nil
}
