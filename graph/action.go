package graph

import (
	"context"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"go-hep.org/x/hep/hbook"
)

// Binning is a fixed-width histogram axis.
type Binning struct {
	Bins int     `yaml:"bins"`
	Min  float64 `yaml:"min"`
	Max  float64 `yaml:"max"`
}

// Validate rejects empty or inverted axes.
func (b Binning) Validate() error {
	if b.Bins <= 0 || !(b.Min < b.Max) {
		return fmt.Errorf("%w: %d bins over [%g, %g)", ErrInvalidBinning, b.Bins, b.Min, b.Max)
	}
	return nil
}

// action is a booked computation over the rows of one view. exec runs once
// per batch and returns that batch's partial result; reduce folds the
// partials of all batches, in batch order, once every batch succeeded.
type action interface {
	viewID() int
	exec(b *batch, rows *roaring.Bitmap) (any, error)
	reduce(parts []any)
	fail(err error)
}

// result is the shared bookkeeping of lazily materialized action results.
type result struct {
	g    *Graph
	done bool
	err  error
}

func (r *result) wait(ctx context.Context) error {
	r.g.mu.RLock()
	done := r.done || r.err != nil
	r.g.mu.RUnlock()
	if !done {
		if err := r.g.Run(ctx); err != nil {
			return err
		}
	}
	r.g.mu.RLock()
	defer r.g.mu.RUnlock()
	return r.err
}

func (r *result) fail(err error) { r.err = err }

// ---------------------------------------------------------------------
// Count
// ---------------------------------------------------------------------

// CountResult is the number of rows selected by a view.
type CountResult struct {
	result
	view int
	n    uint64
}

// Count books a row count over v.
func (g *Graph) Count(v *View) (*CountResult, error) {
	if v.g != g {
		return nil, ErrForeignHandle
	}
	c := &CountResult{result: result{g: g}, view: v.id}
	g.book(c)
	return c, nil
}

func (c *CountResult) viewID() int { return c.view }

func (c *CountResult) exec(_ *batch, rows *roaring.Bitmap) (any, error) {
	return rows.GetCardinality(), nil
}

func (c *CountResult) reduce(parts []any) {
	for _, p := range parts {
		c.n += p.(uint64)
	}
	c.done = true
}

// Value runs the graph if needed and returns the count.
func (c *CountResult) Value(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	return c.n, nil
}

// ---------------------------------------------------------------------
// Histograms
// ---------------------------------------------------------------------

type fill struct {
	x, y, w float64
}

// H1DResult is a one-dimensional histogram filled from a view.
type H1DResult struct {
	result
	name  string
	view  int
	axis  Binning
	x     Handle[float64]
	xs    Handle[[]float64]
	w     Handle[float64]
	array bool
	h     *hbook.H1D
}

// Histo1D books a histogram of x over the rows of v, weighted by w. A zero
// weight handle fills with unit weight.
func (g *Graph) Histo1D(v *View, name string, axis Binning, x, w Handle[float64]) (*H1DResult, error) {
	if err := g.checkBooking(v, axis, x, w); err != nil {
		return nil, fmt.Errorf("histogram %q: %w", name, err)
	}
	r := &H1DResult{result: result{g: g}, name: name, view: v.id, axis: axis, x: x, w: w}
	g.book(r)
	return r, nil
}

// Histo1DArray books a histogram filled once per element of the array column
// xs, each element carrying the row weight.
func (g *Graph) Histo1DArray(v *View, name string, axis Binning, xs Handle[[]float64], w Handle[float64]) (*H1DResult, error) {
	if err := g.checkBooking(v, axis, xs, w); err != nil {
		return nil, fmt.Errorf("histogram %q: %w", name, err)
	}
	r := &H1DResult{result: result{g: g}, name: name, view: v.id, axis: axis, xs: xs, w: w, array: true}
	g.book(r)
	return r, nil
}

func (r *H1DResult) viewID() int { return r.view }

func (r *H1DResult) exec(b *batch, rows *roaring.Bitmap) (any, error) {
	fills := make([]fill, 0, rows.GetCardinality())
	it := rows.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		w, err := weightAt(b, r.w, i)
		if err != nil {
			return nil, err
		}
		if !r.array {
			x, err := value[float64](b, r.x.id, i)
			if err != nil {
				return nil, err
			}
			fills = append(fills, fill{x: x, w: w})
			continue
		}
		xs, err := value[[]float64](b, r.xs.id, i)
		if err != nil {
			return nil, err
		}
		for _, x := range xs {
			fills = append(fills, fill{x: x, w: w})
		}
	}
	return fills, nil
}

func (r *H1DResult) reduce(parts []any) {
	r.h = hbook.NewH1D(r.axis.Bins, r.axis.Min, r.axis.Max)
	r.h.Annotation()["name"] = r.name
	for _, p := range parts {
		for _, f := range p.([]fill) {
			r.h.Fill(f.x, f.w)
		}
	}
	r.done = true
}

// Name returns the histogram name given at booking.
func (r *H1DResult) Name() string { return r.name }

// Value runs the graph if needed and returns the filled histogram.
func (r *H1DResult) Value(ctx context.Context) (*hbook.H1D, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.h, nil
}

// H2DResult is a two-dimensional histogram filled from a view.
type H2DResult struct {
	result
	name   string
	view   int
	xa, ya Binning
	x, y   Handle[float64]
	w      Handle[float64]
	h      *hbook.H2D
}

// Histo2D books a two-dimensional histogram of (x, y) over the rows of v.
func (g *Graph) Histo2D(v *View, name string, xa, ya Binning, x, y, w Handle[float64]) (*H2DResult, error) {
	if err := g.checkBooking(v, xa, x, w); err != nil {
		return nil, fmt.Errorf("histogram %q: %w", name, err)
	}
	if err := g.checkBooking(v, ya, y, w); err != nil {
		return nil, fmt.Errorf("histogram %q: %w", name, err)
	}
	r := &H2DResult{result: result{g: g}, name: name, view: v.id, xa: xa, ya: ya, x: x, y: y, w: w}
	g.book(r)
	return r, nil
}

func (r *H2DResult) viewID() int { return r.view }

func (r *H2DResult) exec(b *batch, rows *roaring.Bitmap) (any, error) {
	fills := make([]fill, 0, rows.GetCardinality())
	it := rows.Iterator()
	for it.HasNext() {
		i := int(it.Next())
		w, err := weightAt(b, r.w, i)
		if err != nil {
			return nil, err
		}
		x, err := value[float64](b, r.x.id, i)
		if err != nil {
			return nil, err
		}
		y, err := value[float64](b, r.y.id, i)
		if err != nil {
			return nil, err
		}
		fills = append(fills, fill{x: x, y: y, w: w})
	}
	return fills, nil
}

func (r *H2DResult) reduce(parts []any) {
	r.h = hbook.NewH2D(r.xa.Bins, r.xa.Min, r.xa.Max, r.ya.Bins, r.ya.Min, r.ya.Max)
	r.h.Annotation()["name"] = r.name
	for _, p := range parts {
		for _, f := range p.([]fill) {
			r.h.Fill(f.x, f.y, f.w)
		}
	}
	r.done = true
}

// Name returns the histogram name given at booking.
func (r *H2DResult) Name() string { return r.name }

// Value runs the graph if needed and returns the filled histogram.
func (r *H2DResult) Value(ctx context.Context) (*hbook.H2D, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}
	return r.h, nil
}

func weightAt(b *batch, w Handle[float64], i int) (float64, error) {
	if !w.Valid() {
		return 1, nil
	}
	return value[float64](b, w.id, i)
}

func (g *Graph) checkBooking(v *View, axis Binning, x Ref, w Handle[float64]) error {
	if err := axis.Validate(); err != nil {
		return err
	}
	if v.g != g {
		return ErrForeignHandle
	}
	if owner, _ := x.node(); owner != g {
		return ErrForeignHandle
	}
	if w.Valid() && w.g != g {
		return ErrForeignHandle
	}
	return nil
}

func (g *Graph) book(a action) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = append(g.pending, a)
}
