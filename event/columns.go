package event

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// Kind is the Go-side shape of an event column.
type Kind int

const (
	KindUnsupported Kind = iota
	KindFloat
	KindInt
	KindBool
	KindFloatList
	KindIntList
	KindBoolList
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float64"
	case KindInt:
		return "int64"
	case KindBool:
		return "bool"
	case KindFloatList:
		return "[]float64"
	case KindIntList:
		return "[]int64"
	case KindBoolList:
		return "[]bool"
	default:
		return "unsupported"
	}
}

// KindOf maps an Arrow data type onto the column shapes the graph handles.
// Floating types widen to float64, every integer type widens to int64.
func KindOf(dt arrow.DataType) Kind {
	switch dt.ID() {
	case arrow.FLOAT32, arrow.FLOAT64:
		return KindFloat
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return KindInt
	case arrow.BOOL:
		return KindBool
	case arrow.LIST:
		switch KindOf(dt.(*arrow.ListType).Elem()) {
		case KindFloat:
			return KindFloatList
		case KindInt:
			return KindIntList
		case KindBool:
			return KindBoolList
		}
	}
	return KindUnsupported
}

// Nulls read as the zero value: the source contract is that every referenced
// column is present and filled.

func floatAt(arr arrow.Array) (func(int) float64, error) {
	switch a := arr.(type) {
	case *array.Float64:
		return a.Value, nil
	case *array.Float32:
		return func(i int) float64 { return float64(a.Value(i)) }, nil
	}
	return nil, fmt.Errorf("event: %s is not a floating column", arr.DataType())
}

func intAt(arr arrow.Array) (func(int) int64, error) {
	switch a := arr.(type) {
	case *array.Int64:
		return a.Value, nil
	case *array.Int32:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Int16:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Int8:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Uint64:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Uint32:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Uint16:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	case *array.Uint8:
		return func(i int) int64 { return int64(a.Value(i)) }, nil
	}
	return nil, fmt.Errorf("event: %s is not an integer column", arr.DataType())
}

// Floats copies a floating column into a float64 slice.
func Floats(arr arrow.Array) ([]float64, error) {
	at, err := floatAt(arr)
	if err != nil {
		return nil, err
	}
	out := make([]float64, arr.Len())
	for i := range out {
		if arr.IsValid(i) {
			out[i] = at(i)
		}
	}
	return out, nil
}

// Ints copies an integer column into an int64 slice.
func Ints(arr arrow.Array) ([]int64, error) {
	at, err := intAt(arr)
	if err != nil {
		return nil, err
	}
	out := make([]int64, arr.Len())
	for i := range out {
		if arr.IsValid(i) {
			out[i] = at(i)
		}
	}
	return out, nil
}

// Bools copies a boolean column into a bool slice.
func Bools(arr arrow.Array) ([]bool, error) {
	a, ok := arr.(*array.Boolean)
	if !ok {
		return nil, fmt.Errorf("event: %s is not a boolean column", arr.DataType())
	}
	out := make([]bool, a.Len())
	for i := range out {
		if a.IsValid(i) {
			out[i] = a.Value(i)
		}
	}
	return out, nil
}

func lists[E any](arr arrow.Array, values func(arrow.Array) ([]E, error)) ([][]E, error) {
	l, ok := arr.(*array.List)
	if !ok {
		return nil, fmt.Errorf("event: %s is not a list column", arr.DataType())
	}
	flat, err := values(l.ListValues())
	if err != nil {
		return nil, err
	}
	out := make([][]E, l.Len())
	for i := range out {
		if !l.IsValid(i) {
			continue
		}
		lo, hi := l.ValueOffsets(i)
		out[i] = flat[lo:hi:hi]
	}
	return out, nil
}

// FloatLists copies a list-of-floating column into per-row slices.
func FloatLists(arr arrow.Array) ([][]float64, error) { return lists(arr, Floats) }

// IntLists copies a list-of-integer column into per-row slices.
func IntLists(arr arrow.Array) ([][]int64, error) { return lists(arr, Ints) }

// BoolLists copies a list-of-boolean column into per-row slices.
func BoolLists(arr arrow.Array) ([][]bool, error) { return lists(arr, Bools) }
