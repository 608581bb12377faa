// Package graph implements a lazily evaluated column graph over an event
// source.
//
// Columns and row predicates are registered as nodes of an append-only arena
// and referenced through typed handles. Nothing is computed until Run executes
// the booked actions; within one run every node is evaluated at most once per
// row of a batch and every filtered view computes its row mask once per batch,
// so actions sharing a prefix share its cost.
//
// Construction is single-threaded. Run fans out over batches and holds the
// graph lock for its whole duration, so definitions made concurrently with a
// run wait for it to finish.
package graph

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/TFMV/dijet/event"
)

// NodeID indexes a node in the graph arena.
type NodeID int

// Expr computes the value of a column for one row. Inputs are read through
// Get and At on the row.
type Expr[T any] func(r *Row) (T, error)

// Ref is anything that names a node of a graph: every Handle is a Ref.
type Ref interface {
	node() (*Graph, NodeID)
}

// Handle is a typed reference to one version of a column. A handle captured
// before a Redefine keeps pointing at the definition it was created from.
type Handle[T any] struct {
	g    *Graph
	id   NodeID
	name string
}

// Name returns the column name the handle was created under.
func (h Handle[T]) Name() string { return h.name }

// ID returns the arena index of the referenced node.
func (h Handle[T]) ID() NodeID { return h.id }

// Valid reports whether h refers to a node; the zero Handle does not.
func (h Handle[T]) Valid() bool { return h.g != nil }

func (h Handle[T]) node() (*Graph, NodeID) { return h.g, h.id }

type node struct {
	id     NodeID
	name   string
	typ    reflect.Type
	inputs []NodeID
	// field is the schema index of a source column, -1 for derived nodes.
	field int
	kind  event.Kind
	expr  any
}

type viewNode struct {
	parent int
	pred   NodeID
	label  string
	pass   uint64
	all    uint64
	seen   bool
}

// Graph is the column graph bound to one event source.
type Graph struct {
	mu      sync.RWMutex
	src     *event.Source
	nodes   []*node
	names   map[string]NodeID
	views   []*viewNode
	pending []action
	evals   []int64
	workers int
	logger  *zap.Logger
	runs    int
}

// Option configures a Graph.
type Option func(*Graph)

// WithWorkers bounds the number of batches evaluated concurrently.
// Values below one fall back to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(g *Graph) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		g.workers = n
	}
}

// WithLogger sets the logger used for run-level events.
func WithLogger(l *zap.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// New creates a graph over src. Every schema field with a supported type is
// registered as a source column under its own name.
func New(src *event.Source, opts ...Option) *Graph {
	g := &Graph{
		src:     src,
		names:   make(map[string]NodeID),
		workers: runtime.GOMAXPROCS(0),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	for i, f := range src.Schema().Fields() {
		kind := event.KindOf(f.Type)
		typ := typeOfKind(kind)
		if typ == nil {
			continue
		}
		n := &node{id: NodeID(len(g.nodes)), name: f.Name, typ: typ, field: i, kind: kind}
		g.nodes = append(g.nodes, n)
		g.names[f.Name] = n.id
	}
	g.views = append(g.views, &viewNode{parent: -1, pred: -1})
	return g
}

func typeOfKind(k event.Kind) reflect.Type {
	switch k {
	case event.KindFloat:
		return reflect.TypeFor[float64]()
	case event.KindInt:
		return reflect.TypeFor[int64]()
	case event.KindBool:
		return reflect.TypeFor[bool]()
	case event.KindFloatList:
		return reflect.TypeFor[[]float64]()
	case event.KindIntList:
		return reflect.TypeFor[[]int64]()
	case event.KindBoolList:
		return reflect.TypeFor[[]bool]()
	}
	return nil
}

// Source returns the event source the graph reads from.
func (g *Graph) Source() *event.Source { return g.src }

// Has reports whether name is currently bound.
func (g *Graph) Has(name string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.names[name]
	return ok
}

// Columns returns the currently bound column names in definition order.
func (g *Graph) Columns() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.names))
	for _, n := range g.nodes {
		if id, ok := g.names[n.name]; ok && id == n.id {
			out = append(out, n.name)
		}
	}
	return out
}

// Column resolves the current binding of name. This is the only place where
// string names are turned into handles.
func Column[T any](g *Graph, name string) (Handle[T], error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return lookup[T](g, name)
}

func lookup[T any](g *Graph, name string) (Handle[T], error) {
	id, ok := g.names[name]
	if !ok {
		return Handle[T]{}, &UnknownColumnError{Name: name}
	}
	n := g.nodes[id]
	if want := reflect.TypeFor[T](); n.typ != want {
		return Handle[T]{}, &TypeError{Name: name, Want: want.String(), Have: n.typ.String()}
	}
	return Handle[T]{g: g, id: id, name: name}, nil
}

// Define registers a new named column. Defining a name that is already bound
// fails with a NameCollisionError; use Redefine to shadow a column.
func Define[T any](g *Graph, name string, fn Expr[T], inputs ...Ref) (Handle[T], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.names[name]; ok {
		return Handle[T]{}, &NameCollisionError{Name: name}
	}
	return addNode(g, name, fn, inputs, true)
}

// Redefine binds name to a new definition. Handles and nodes registered
// earlier keep reading the previous definition; later lookups of name see
// the new one. The new definition must have the same type as the old one.
func Redefine[T any](g *Graph, name string, fn Expr[T], inputs ...Ref) (Handle[T], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := lookup[T](g, name); err != nil {
		return Handle[T]{}, err
	}
	return addNode(g, name, fn, inputs, true)
}

// Anonymous registers a column that is not reachable by name, such as the
// predicate of a one-off filter.
func Anonymous[T any](g *Graph, label string, fn Expr[T], inputs ...Ref) (Handle[T], error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return addNode(g, label, fn, inputs, false)
}

func addNode[T any](g *Graph, name string, fn Expr[T], inputs []Ref, register bool) (Handle[T], error) {
	if fn == nil {
		return Handle[T]{}, fmt.Errorf("graph: nil expression for %q", name)
	}
	ids := make([]NodeID, 0, len(inputs))
	for _, in := range inputs {
		owner, id := in.node()
		if owner != g || int(id) >= len(g.nodes) {
			return Handle[T]{}, fmt.Errorf("input of %q: %w", name, ErrForeignHandle)
		}
		ids = append(ids, id)
	}
	n := &node{
		id:     NodeID(len(g.nodes)),
		name:   name,
		typ:    reflect.TypeFor[T](),
		inputs: ids,
		field:  -1,
		expr:   fn,
	}
	g.nodes = append(g.nodes, n)
	if register {
		g.names[name] = n.id
	}
	return Handle[T]{g: g, id: n.id, name: name}, nil
}

// Inputs returns the names of the nodes a column was declared to read.
func (g *Graph) Inputs(r Ref) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, id := r.node()
	out := make([]string, 0, len(g.nodes[id].inputs))
	for _, in := range g.nodes[id].inputs {
		out = append(out, g.nodes[in].name)
	}
	return out
}

// Evaluations returns how many times the expression behind r has been
// computed across all runs. Source columns always report zero.
func (g *Graph) Evaluations(r Ref) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, id := r.node()
	if int(id) >= len(g.evals) {
		return 0
	}
	return g.evals[id]
}

// Stats summarizes the size and activity of a graph.
type Stats struct {
	Nodes       int
	Columns     int
	Views       int
	Pending     int
	Runs        int
	Evaluations int64
}

// Stats returns a snapshot of the graph bookkeeping.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{
		Nodes:   len(g.nodes),
		Columns: len(g.names),
		Views:   len(g.views),
		Pending: len(g.pending),
		Runs:    g.runs,
	}
	for _, n := range g.evals {
		s.Evaluations += n
	}
	return s
}
