package graph

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
)

var termPattern = regexp.MustCompile(`^\s*(!?)\s*([A-Za-z_][A-Za-z0-9_]*)\s*(?:(>=|<=|==|!=|>|<)\s*([-+]?[0-9]*\.?[0-9]+(?:[eE][-+]?[0-9]+)?))?\s*$`)

type term func(r *Row) bool

// Compile turns a cut expression into an anonymous boolean column.
//
// The grammar is a disjunction (||) of conjunctions (&&) of terms, where a
// term is either `column op number` with op one of < <= > >= == != over a
// float64 or int64 column, or a bool column optionally negated with !.
// Every column name is resolved at compile time, so unknown names fail here
// with an UnknownColumnError rather than during a run.
func Compile(g *Graph, expr string) (Handle[bool], error) {
	var (
		alts   [][]term
		inputs []Ref
	)
	for _, alt := range strings.Split(expr, "||") {
		var conj []term
		for _, raw := range strings.Split(alt, "&&") {
			t, in, err := compileTerm(g, raw)
			if err != nil {
				return Handle[bool]{}, fmt.Errorf("compile %q: %w", expr, err)
			}
			conj = append(conj, t)
			inputs = append(inputs, in)
		}
		alts = append(alts, conj)
	}
	eval := func(r *Row) (bool, error) {
		for _, conj := range alts {
			ok := true
			for _, t := range conj {
				if !t(r) {
					ok = false
					break
				}
			}
			if r.err != nil {
				return false, r.err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
	return Anonymous[bool](g, strings.TrimSpace(expr), eval, inputs...)
}

func compileTerm(g *Graph, raw string) (term, Ref, error) {
	m := termPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, nil, fmt.Errorf("malformed term %q", strings.TrimSpace(raw))
	}
	neg, name, op, lit := m[1] == "!", m[2], m[3], m[4]

	g.mu.RLock()
	id, ok := g.names[name]
	var typ reflect.Type
	if ok {
		typ = g.nodes[id].typ
	}
	g.mu.RUnlock()
	if !ok {
		return nil, nil, &UnknownColumnError{Name: name}
	}

	if op == "" {
		if typ != reflect.TypeFor[bool]() {
			return nil, nil, &TypeError{Name: name, Want: "bool", Have: typ.String()}
		}
		h := Handle[bool]{g: g, id: id, name: name}
		return func(r *Row) bool { return Get(r, h) != neg }, h, nil
	}
	if neg {
		return nil, nil, fmt.Errorf("negated comparison %q", strings.TrimSpace(raw))
	}
	v, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return nil, nil, err
	}
	cmp := comparator(op)
	switch typ {
	case reflect.TypeFor[float64]():
		h := Handle[float64]{g: g, id: id, name: name}
		return func(r *Row) bool { return cmp(Get(r, h), v) }, h, nil
	case reflect.TypeFor[int64]():
		h := Handle[int64]{g: g, id: id, name: name}
		return func(r *Row) bool { return cmp(float64(Get(r, h)), v) }, h, nil
	}
	return nil, nil, &TypeError{Name: name, Want: "float64 or int64", Have: typ.String()}
}

func comparator(op string) func(a, b float64) bool {
	switch op {
	case "<":
		return func(a, b float64) bool { return a < b }
	case "<=":
		return func(a, b float64) bool { return a <= b }
	case ">":
		return func(a, b float64) bool { return a > b }
	case ">=":
		return func(a, b float64) bool { return a >= b }
	case "==":
		return func(a, b float64) bool { return a == b }
	default:
		return func(a, b float64) bool { return a != b }
	}
}
