package correction

import (
	"fmt"
	"sort"
)

// Table is a scale-factor lookup. Implementations must be safe for
// concurrent use once constructed.
type Table interface {
	Evaluate(inputs ...float64) (float64, error)
}

// TableFunc adapts a plain function to the Table interface.
type TableFunc func(inputs ...float64) (float64, error)

// Evaluate calls f.
func (f TableFunc) Evaluate(inputs ...float64) (float64, error) { return f(inputs...) }

// Constant returns a table that ignores its inputs.
func Constant(v float64) Table {
	return TableFunc(func(...float64) (float64, error) { return v, nil })
}

// Axis is one binned dimension of a table. Input is the position of the
// bound variable in the argument list of Evaluate.
type Axis struct {
	Name  string
	Input int
	Edges []float64
}

// bin returns the index of the bin holding x. The upper edge of the last bin
// is inclusive.
func (a Axis) bin(x float64) (int, bool) {
	n := len(a.Edges)
	if n < 2 || !(x >= a.Edges[0] && x <= a.Edges[n-1]) {
		return 0, false
	}
	i := sort.SearchFloat64s(a.Edges, x)
	if i < n && a.Edges[i] == x {
		i++
	}
	return min(i-1, n-2), true
}

// BinnedTable is a multi-dimensional piecewise-constant lookup. Content is
// stored row-major over Axes, the last axis varying fastest.
type BinnedTable struct {
	Name    string
	Inputs  []string
	Axes    []Axis
	Content []float64
}

// NewBinnedTable validates the layout of a table.
func NewBinnedTable(name string, inputs []string, axes []Axis, content []float64) (*BinnedTable, error) {
	size := 1
	for _, a := range axes {
		if a.Input < 0 || a.Input >= len(inputs) {
			return nil, fmt.Errorf("table %q: axis %q bound to input %d of %d", name, a.Name, a.Input, len(inputs))
		}
		if len(a.Edges) < 2 || !sort.Float64sAreSorted(a.Edges) {
			return nil, fmt.Errorf("table %q: axis %q needs at least two ascending edges", name, a.Name)
		}
		size *= len(a.Edges) - 1
	}
	if len(content) != size {
		return nil, fmt.Errorf("table %q: %d content values for %d bins", name, len(content), size)
	}
	return &BinnedTable{Name: name, Inputs: inputs, Axes: axes, Content: content}, nil
}

// Evaluate looks up the bin holding inputs. Any value outside its axis edges
// fails with an OutOfDomainError; nothing is clamped.
func (t *BinnedTable) Evaluate(inputs ...float64) (float64, error) {
	if len(inputs) != len(t.Inputs) {
		return 0, fmt.Errorf("%w: table %q takes %d, got %d", ErrArity, t.Name, len(t.Inputs), len(inputs))
	}
	idx := 0
	for _, a := range t.Axes {
		x := inputs[a.Input]
		i, ok := a.bin(x)
		if !ok {
			return 0, &OutOfDomainError{
				Table: t.Name,
				Input: a.Name,
				Value: x,
				Min:   a.Edges[0],
				Max:   a.Edges[len(a.Edges)-1],
			}
		}
		idx = idx*(len(a.Edges)-1) + i
	}
	return t.Content[idx], nil
}
