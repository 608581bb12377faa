package analysis

import (
	"fmt"
	"math"

	"github.com/TFMV/dijet/graph"
)

// builder registers columns on a graph and remembers the first failure, so
// a long chain of definitions can be checked once at the end.
type builder struct {
	g   *graph.Graph
	err error
}

func column[T any](b *builder, name string) graph.Handle[T] {
	if b.err != nil {
		return graph.Handle[T]{}
	}
	h, err := graph.Column[T](b.g, name)
	if err != nil {
		b.err = err
	}
	return h
}

func define[T any](b *builder, name string, fn graph.Expr[T], inputs ...graph.Ref) graph.Handle[T] {
	if b.err != nil {
		return graph.Handle[T]{}
	}
	h, err := graph.Define(b.g, name, fn, inputs...)
	if err != nil {
		b.err = err
	}
	return h
}

func redefine[T any](b *builder, name string, fn graph.Expr[T], inputs ...graph.Ref) graph.Handle[T] {
	if b.err != nil {
		return graph.Handle[T]{}
	}
	h, err := graph.Redefine(b.g, name, fn, inputs...)
	if err != nil {
		b.err = err
	}
	return h
}

func (b *builder) filter(v *graph.View, label string, fn graph.Expr[bool], inputs ...graph.Ref) *graph.View {
	if b.err != nil {
		return v
	}
	next, err := graph.FilterFunc(v, label, fn, inputs...)
	if err != nil {
		b.err = err
		return v
	}
	return next
}

// mask defines a per-object boolean column from a per-object condition.
func mask(b *builder, name string, size graph.Handle[[]float64], cond func(r *graph.Row, i int) bool, inputs ...graph.Ref) graph.Handle[[]bool] {
	return define[[]bool](b, name, func(r *graph.Row) ([]bool, error) {
		n := len(graph.Get(r, size))
		out := make([]bool, n)
		for i := range out {
			out[i] = cond(r, i)
		}
		return out, r.Err()
	}, append([]graph.Ref{size}, inputs...)...)
}

// selected defines vals[m], the values of the objects flagged by m.
func selected[E any](b *builder, name string, vals graph.Handle[[]E], m graph.Handle[[]bool]) graph.Handle[[]E] {
	return define[[]E](b, name, func(r *graph.Row) ([]E, error) {
		vs, ms := graph.Get(r, vals), graph.Get(r, m)
		if len(vs) != len(ms) {
			return nil, fmt.Errorf("%s has %d entries, mask %s has %d", vals.Name(), len(vs), m.Name(), len(ms))
		}
		out := make([]E, 0, len(vs))
		for i, keep := range ms {
			if keep {
				out = append(out, vs[i])
			}
		}
		return out, r.Err()
	}, vals, m)
}

// element defines the scalar column vals[k]. Rows with fewer than k+1
// entries fail the run.
func element(b *builder, name string, vals graph.Handle[[]float64], k int) graph.Handle[float64] {
	return define[float64](b, name, func(r *graph.Row) (float64, error) {
		return graph.At(r, vals, k), nil
	}, vals)
}

func count(m []bool) int {
	n := 0
	for _, ok := range m {
		if ok {
			n++
		}
	}
	return n
}

// deltaPhi is the absolute azimuthal separation folded into [0, pi].
func deltaPhi(a, b float64) float64 {
	return math.Abs(math.Acos(math.Cos(a - b)))
}

func deltaR(deta, dphi float64) float64 {
	return math.Sqrt(deta*deta + dphi*dphi)
}

// ratio returns the smaller over the larger of two momenta.
func ratio(a, b float64) float64 {
	lo, hi := math.Min(a, b), math.Max(a, b)
	if hi == 0 {
		return 0
	}
	return lo / hi
}
