package correction

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
)

// payload mirrors the on-disk layout of a correction set: a list of named
// corrections, each with declared inputs and a binned body.
type payload struct {
	SchemaVersion int                 `json:"schema_version"`
	Corrections   []payloadCorrection `json:"corrections"`
}

type payloadCorrection struct {
	Name    string         `json:"name"`
	Version int            `json:"version"`
	Inputs  []payloadInput `json:"inputs"`
	Data    payloadNode    `json:"data"`
}

type payloadInput struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type payloadNode struct {
	NodeType string          `json:"nodetype"`
	Input    string          `json:"input"`
	Inputs   []string        `json:"inputs"`
	Edges    json.RawMessage `json:"edges"`
	Content  []float64       `json:"content"`
	Value    *float64        `json:"value"`
	Flow     string          `json:"flow"`
}

// Set is an immutable collection of named tables loaded from one payload.
type Set struct {
	tables map[string]Table
}

// NewSet builds a set from already constructed tables.
func NewSet(tables map[string]Table) *Set {
	s := &Set{tables: make(map[string]Table, len(tables))}
	for name, t := range tables {
		s.tables[name] = t
	}
	return s
}

// Table returns the table called name.
func (s *Set) Table(name string) (Table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTable, name)
	}
	return t, nil
}

// Names lists the tables of the set in lexical order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.tables))
	for name := range s.tables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// LoadSet decodes a correction payload. Gzip-compressed input is detected
// from its magic bytes and decompressed transparently.
func LoadSet(r io.Reader) (*Set, error) {
	br := bufio.NewReader(r)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip payload: %w", err)
		}
		defer zr.Close()
		return decodeSet(zr)
	}
	return decodeSet(br)
}

func decodeSet(r io.Reader) (*Set, error) {
	var p payload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to decode correction payload: %w", err)
	}
	s := &Set{tables: make(map[string]Table, len(p.Corrections))}
	for _, c := range p.Corrections {
		if _, dup := s.tables[c.Name]; dup {
			return nil, fmt.Errorf("correction %q defined twice", c.Name)
		}
		t, err := c.table()
		if err != nil {
			return nil, err
		}
		s.tables[c.Name] = t
	}
	return s, nil
}

func (c payloadCorrection) table() (Table, error) {
	inputs := make([]string, len(c.Inputs))
	pos := make(map[string]int, len(c.Inputs))
	for i, in := range c.Inputs {
		inputs[i] = in.Name
		pos[in.Name] = i
	}
	if c.Data.Flow != "" && c.Data.Flow != "error" {
		return nil, fmt.Errorf("correction %q: unsupported flow %q", c.Name, c.Data.Flow)
	}

	var (
		names []string
		edges [][]float64
	)
	switch c.Data.NodeType {
	case "constant":
		if c.Data.Value == nil {
			return nil, fmt.Errorf("correction %q: constant without value", c.Name)
		}
		v := *c.Data.Value
		n := len(inputs)
		return TableFunc(func(in ...float64) (float64, error) {
			if len(in) != n {
				return 0, fmt.Errorf("%w: table %q takes %d, got %d", ErrArity, c.Name, n, len(in))
			}
			return v, nil
		}), nil
	case "binning":
		var e []float64
		if err := json.Unmarshal(c.Data.Edges, &e); err != nil {
			return nil, fmt.Errorf("correction %q: edges: %w", c.Name, err)
		}
		names, edges = []string{c.Data.Input}, [][]float64{e}
	case "multibinning":
		if err := json.Unmarshal(c.Data.Edges, &edges); err != nil {
			return nil, fmt.Errorf("correction %q: edges: %w", c.Name, err)
		}
		names = c.Data.Inputs
		if len(names) != len(edges) {
			return nil, fmt.Errorf("correction %q: %d axes for %d edge lists", c.Name, len(names), len(edges))
		}
	default:
		return nil, fmt.Errorf("correction %q: unsupported node type %q", c.Name, c.Data.NodeType)
	}

	axes := make([]Axis, len(names))
	for i, name := range names {
		p, ok := pos[name]
		if !ok {
			return nil, fmt.Errorf("correction %q: axis %q is not a declared input", c.Name, name)
		}
		axes[i] = Axis{Name: name, Input: p, Edges: edges[i]}
	}
	return NewBinnedTable(c.Name, inputs, axes, c.Data.Content)
}
