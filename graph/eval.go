package graph

import (
	"errors"
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/golang/groupcache/lru"

	"github.com/TFMV/dijet/event"
)

const (
	nodeKey byte = iota
	viewKey
)

// cacheKey identifies a memoized column buffer or view mask of one batch.
type cacheKey struct {
	kind  byte
	id    int
	batch int
}

// buffer holds the values of one column over one batch. done is nil for
// source columns, which are materialized in full on first access.
type buffer[T any] struct {
	vals []T
	done []bool
}

type viewCount struct {
	pass, all uint64
}

// batch is the evaluation state of one record batch. It is owned by a single
// goroutine for the duration of a run.
type batch struct {
	g      *Graph
	index  int
	offset int64
	rows   int
	src    *event.Source
	cache  *lru.Cache
	evals  []int64
	counts map[int]viewCount
}

func newBatch(g *Graph, index int) *batch {
	return &batch{
		g:      g,
		index:  index,
		offset: g.src.Offset(index),
		rows:   int(g.src.Batch(index).NumRows()),
		src:    g.src,
		// Unbounded: an evicted entry would be recomputed.
		cache:  lru.New(0),
		evals:  make([]int64, len(g.nodes)),
		counts: make(map[int]viewCount),
	}
}

// Row is the evaluation context handed to expressions. Read failures are
// sticky: after the first one every read returns the zero value and the
// enclosing expression fails with that error.
type Row struct {
	b   *batch
	i   int
	err error
}

// Index returns the global index of the row in the event source.
func (r *Row) Index() int64 { return r.b.offset + int64(r.i) }

// Err returns the first read failure on this row, if any.
func (r *Row) Err() error { return r.err }

// Get reads the value of h on the current row, evaluating it if needed.
func Get[T any](r *Row, h Handle[T]) T {
	var zero T
	if r.err != nil {
		return zero
	}
	v, err := value[T](r.b, h.id, r.i)
	if err != nil {
		r.err = err
		return zero
	}
	return v
}

// At reads element k of an array column on the current row. An index outside
// the array fails the row with ErrIndexOutOfRange.
func At[E any](r *Row, h Handle[[]E], k int) E {
	var zero E
	s := Get(r, h)
	if r.err != nil {
		return zero
	}
	if k < 0 || k >= len(s) {
		r.err = fmt.Errorf("%w: %s[%d] of length %d", ErrIndexOutOfRange, h.name, k, len(s))
		return zero
	}
	return s[k]
}

func bufferOf[T any](b *batch, id NodeID) (*buffer[T], error) {
	key := cacheKey{kind: nodeKey, id: int(id), batch: b.index}
	if v, ok := b.cache.Get(key); ok {
		return v.(*buffer[T]), nil
	}
	n := b.g.nodes[id]
	buf := &buffer[T]{}
	if n.field >= 0 {
		vals, err := loadSource[T](b.src.Batch(b.index).Column(n.field))
		if err != nil {
			return nil, &EvaluationError{Column: n.name, Row: b.offset, Batch: b.index, cause: err}
		}
		buf.vals = vals
	} else {
		buf.vals = make([]T, b.rows)
		buf.done = make([]bool, b.rows)
	}
	b.cache.Add(key, buf)
	return buf, nil
}

func value[T any](b *batch, id NodeID, i int) (T, error) {
	var zero T
	buf, err := bufferOf[T](b, id)
	if err != nil {
		return zero, err
	}
	if buf.done == nil || buf.done[i] {
		return buf.vals[i], nil
	}
	n := b.g.nodes[id]
	row := Row{b: b, i: i}
	v, err := n.expr.(Expr[T])(&row)
	b.evals[id]++
	if err == nil {
		err = row.err
	}
	if err != nil {
		var ee *EvaluationError
		if errors.As(err, &ee) {
			return zero, err
		}
		return zero, &EvaluationError{Column: n.name, Row: b.offset + int64(i), Batch: b.index, cause: err}
	}
	buf.vals[i] = v
	buf.done[i] = true
	return v, nil
}

func loadSource[T any](a arrow.Array) ([]T, error) {
	var (
		out any
		err error
	)
	switch any(*new(T)).(type) {
	case float64:
		out, err = event.Floats(a)
	case int64:
		out, err = event.Ints(a)
	case bool:
		out, err = event.Bools(a)
	case []float64:
		out, err = event.FloatLists(a)
	case []int64:
		out, err = event.IntLists(a)
	case []bool:
		out, err = event.BoolLists(a)
	default:
		return nil, fmt.Errorf("unsupported source type %T", *new(T))
	}
	if err != nil {
		return nil, err
	}
	return out.([]T), nil
}

// mask returns the rows of the batch selected by view v, evaluating the
// predicate of v only on rows that survived its ancestors.
func (b *batch) mask(v int) (*roaring.Bitmap, error) {
	key := cacheKey{kind: viewKey, id: v, batch: b.index}
	if m, ok := b.cache.Get(key); ok {
		return m.(*roaring.Bitmap), nil
	}
	vn := b.g.views[v]
	m := roaring.New()
	if vn.parent < 0 {
		m.AddRange(0, uint64(b.rows))
	} else {
		parent, err := b.mask(vn.parent)
		if err != nil {
			return nil, err
		}
		it := parent.Iterator()
		for it.HasNext() {
			i := it.Next()
			ok, err := value[bool](b, vn.pred, int(i))
			if err != nil {
				return nil, err
			}
			if ok {
				m.Add(i)
			}
		}
		b.counts[v] = viewCount{pass: m.GetCardinality(), all: parent.GetCardinality()}
	}
	b.cache.Add(key, m)
	return m, nil
}
