package graph

import "fmt"

// View is a row selection over the source: the conjunction of its own
// predicate and those of all its ancestors. Views are immutable; filtering
// returns a child and leaves the parent untouched.
type View struct {
	g  *Graph
	id int
}

// Root returns the unfiltered view of the whole source.
func (g *Graph) Root() *View { return &View{g: g, id: 0} }

// Graph returns the graph the view belongs to.
func (v *View) Graph() *Graph { return v.g }

// Label returns the label given when the view was filtered, "" for the root.
func (v *View) Label() string {
	v.g.mu.RLock()
	defer v.g.mu.RUnlock()
	return v.g.views[v.id].label
}

// Parent returns the view this one was filtered from, nil for the root.
func (v *View) Parent() *View {
	v.g.mu.RLock()
	defer v.g.mu.RUnlock()
	p := v.g.views[v.id].parent
	if p < 0 {
		return nil
	}
	return &View{g: v.g, id: p}
}

// Depth returns the number of predicates applied on the path from the root.
func (v *View) Depth() int {
	v.g.mu.RLock()
	defer v.g.mu.RUnlock()
	d := 0
	for id := v.id; v.g.views[id].parent >= 0; id = v.g.views[id].parent {
		d++
	}
	return d
}

// Filter returns a child view keeping the rows of v for which pred is true.
func (v *View) Filter(pred Handle[bool], label string) (*View, error) {
	if pred.g != v.g {
		return nil, fmt.Errorf("filter %q: %w", label, ErrForeignHandle)
	}
	v.g.mu.Lock()
	defer v.g.mu.Unlock()
	v.g.views = append(v.g.views, &viewNode{parent: v.id, pred: pred.id, label: label})
	return &View{g: v.g, id: len(v.g.views) - 1}, nil
}

// FilterFunc registers fn as an anonymous predicate and filters v with it.
func FilterFunc(v *View, label string, fn Expr[bool], inputs ...Ref) (*View, error) {
	pred, err := Anonymous(v.g, label, fn, inputs...)
	if err != nil {
		return nil, err
	}
	return v.Filter(pred, label)
}

// FilterExpr compiles a cut expression (see Compile) and filters v with it.
func FilterExpr(v *View, label, expr string) (*View, error) {
	pred, err := Compile(v.g, expr)
	if err != nil {
		return nil, fmt.Errorf("filter %q: %w", label, err)
	}
	return v.Filter(pred, label)
}

// FilterReport is the cutflow line of one labelled filter.
type FilterReport struct {
	Label string
	Pass  uint64
	All   uint64
}

// Efficiency returns Pass/All, or 0 when no row reached the filter.
func (r FilterReport) Efficiency() float64 {
	if r.All == 0 {
		return 0
	}
	return float64(r.Pass) / float64(r.All)
}

// Report lists every labelled filter evaluated so far with the number of rows
// that reached it and passed it, in registration order.
func (g *Graph) Report() []FilterReport {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []FilterReport
	for _, vn := range g.views {
		if vn.parent < 0 || vn.label == "" || !vn.seen {
			continue
		}
		out = append(out, FilterReport{Label: vn.label, Pass: vn.pass, All: vn.all})
	}
	return out
}
