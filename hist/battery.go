package hist

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go-hep.org/x/hep/hbook"
	"go.uber.org/zap"

	"github.com/TFMV/dijet/graph"
)

// Variable is a kinematic column histogrammed at every checkpoint.
type Variable struct {
	Name    string        `yaml:"name"`
	Binning graph.Binning `yaml:"binning"`
}

// Config fixes the content of the battery for one run.
type Config struct {
	// MassColumn is the dijet invariant mass column.
	MassColumn string
	Mass       graph.Binning
	Variables  []Variable
	// Categories are the codes that get their own histograms. The rows of
	// category k are those where exactly two entries of the []bool column
	// FlagPrefix+k are set.
	Categories []int
	FlagPrefix string
}

// FillOptions suppresses parts of the battery at one checkpoint.
type FillOptions struct {
	SkipKinematics bool
	SkipCategories bool
}

// Battery books the mass and kinematic histograms of every checkpoint, both
// inclusive and per category, on one graph.
type Battery struct {
	g      *graph.Graph
	cfg    Config
	reg    *Registry
	weight graph.Handle[float64]
	mass   graph.Handle[float64]
	vars   []graph.Handle[float64]
	cats   map[int]graph.Handle[bool]
	h1     []*graph.H1DResult
	h2     []*graph.H2DResult
	logger *zap.Logger
}

// Option configures a Battery.
type Option func(*Battery)

// WithRegistry shares a name registry between batteries.
func WithRegistry(r *Registry) Option {
	return func(b *Battery) { b.reg = r }
}

// WithLogger sets the logger used for booking messages.
func WithLogger(l *zap.Logger) Option {
	return func(b *Battery) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBattery resolves every column the battery reads. A zero weight handle
// fills with unit weight.
func NewBattery(g *graph.Graph, cfg Config, weight graph.Handle[float64], opts ...Option) (*Battery, error) {
	b := &Battery{
		g:      g,
		cfg:    cfg,
		weight: weight,
		cats:   make(map[int]graph.Handle[bool]),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.reg == nil {
		b.reg = NewRegistry(0)
	}
	if err := cfg.Mass.Validate(); err != nil {
		return nil, fmt.Errorf("mass binning: %w", err)
	}

	var err error
	if b.mass, err = graph.Column[float64](g, cfg.MassColumn); err != nil {
		return nil, err
	}
	for _, v := range cfg.Variables {
		if err := v.Binning.Validate(); err != nil {
			return nil, fmt.Errorf("variable %q: %w", v.Name, err)
		}
		h, err := graph.Column[float64](g, v.Name)
		if err != nil {
			return nil, err
		}
		b.vars = append(b.vars, h)
	}
	for _, k := range cfg.Categories {
		if _, err := b.predicate(k); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// predicate returns the "exactly two objects carry code k" column, defining
// it on first use.
func (b *Battery) predicate(k int) (graph.Handle[bool], error) {
	if pred, ok := b.cats[k]; ok {
		return pred, nil
	}
	if k == Inclusive {
		return graph.Handle[bool]{}, fmt.Errorf("category code %d is reserved for inclusive histograms", k)
	}
	flags, err := graph.Column[[]bool](b.g, b.cfg.FlagPrefix+strconv.Itoa(k))
	if err != nil {
		return graph.Handle[bool]{}, err
	}
	pred, err := graph.Anonymous[bool](b.g, fmt.Sprintf("Sum(%s)==2", flags.Name()), func(r *graph.Row) (bool, error) {
		n := 0
		for _, f := range graph.Get(r, flags) {
			if f {
				n++
			}
		}
		return n == 2, nil
	}, flags)
	if err != nil {
		return graph.Handle[bool]{}, err
	}
	b.cats[k] = pred
	return pred, nil
}

// Category returns the rows of v where exactly two objects carry code k. Codes
// outside the configured categories work as long as their flag column exists.
func (b *Battery) Category(v *graph.View, k int) (*graph.View, error) {
	pred, err := b.predicate(k)
	if err != nil {
		return nil, err
	}
	return v.Filter(pred, "")
}

// CategoryMass books the pre-cut mass histogram of code k on v alone, for
// codes that are not part of the checkpoint battery.
func (b *Battery) CategoryMass(v *graph.View, k int) error {
	cv, err := b.Category(v, k)
	if err != nil {
		return err
	}
	return b.book(cv, Key{Variable: Mass, Category: k}, b.cfg.Mass, b.mass)
}

// Registry returns the name registry of the battery.
func (b *Battery) Registry() *Registry { return b.reg }

// Fill books the battery on the rows of v for checkpoint. single marks a cut
// applied in isolation; the empty checkpoint is the pre-cut state.
func (b *Battery) Fill(v *graph.View, checkpoint string, single bool, opts FillOptions) error {
	key := func(variable string, category int) Key {
		return Key{Variable: variable, Category: category, Checkpoint: checkpoint, Single: single}
	}

	views := map[int]*graph.View{Inclusive: v}
	codes := []int{Inclusive}
	if !opts.SkipCategories {
		for _, k := range b.cfg.Categories {
			cv, err := b.Category(v, k)
			if err != nil {
				return err
			}
			views[k] = cv
			codes = append(codes, k)
		}
	}

	n := 0
	for _, k := range codes {
		if err := b.book(views[k], key(Mass, k), b.cfg.Mass, b.mass); err != nil {
			return err
		}
		n++
		if opts.SkipKinematics {
			continue
		}
		for i, variable := range b.cfg.Variables {
			if err := b.book(views[k], key(variable.Name, k), variable.Binning, b.vars[i]); err != nil {
				return err
			}
			n++
		}
	}
	b.logger.Debug("checkpoint booked",
		zap.String("checkpoint", checkpoint),
		zap.Bool("single", single),
		zap.Int("histograms", n))
	return nil
}

func (b *Battery) book(v *graph.View, k Key, axis graph.Binning, x graph.Handle[float64]) error {
	name := k.Name()
	if err := b.reg.Add(name, k.Checkpoint); err != nil {
		return err
	}
	h, err := b.g.Histo1D(v, name, axis, x, b.weight)
	if err != nil {
		return fmt.Errorf("checkpoint %q: %w", k.Checkpoint, err)
	}
	b.h1 = append(b.h1, h)
	return nil
}

// Histo1D books a one-off weighted histogram outside the checkpoint scheme.
func (b *Battery) Histo1D(v *graph.View, name string, axis graph.Binning, x graph.Handle[float64]) error {
	if err := b.reg.Add(name, ""); err != nil {
		return err
	}
	h, err := b.g.Histo1D(v, name, axis, x, b.weight)
	if err != nil {
		return err
	}
	b.h1 = append(b.h1, h)
	return nil
}

// Histo1DArray books a one-off histogram filled once per array element.
func (b *Battery) Histo1DArray(v *graph.View, name string, axis graph.Binning, xs graph.Handle[[]float64]) error {
	if err := b.reg.Add(name, ""); err != nil {
		return err
	}
	h, err := b.g.Histo1DArray(v, name, axis, xs, b.weight)
	if err != nil {
		return err
	}
	b.h1 = append(b.h1, h)
	return nil
}

// Histo2D books a one-off weighted two-dimensional histogram.
func (b *Battery) Histo2D(v *graph.View, name string, xa, ya graph.Binning, x, y graph.Handle[float64]) error {
	if err := b.reg.Add(name, ""); err != nil {
		return err
	}
	h, err := b.g.Histo2D(v, name, xa, ya, x, y, b.weight)
	if err != nil {
		return err
	}
	b.h2 = append(b.h2, h)
	return nil
}

// Set is the materialized output of a battery, keyed by histogram name.
type Set struct {
	H1 map[string]*hbook.H1D
	H2 map[string]*hbook.H2D
}

// Get returns the histogram of k, nil if it was not booked.
func (s *Set) Get(k Key) *hbook.H1D { return s.H1[k.Name()] }

// Names returns every histogram name in lexical order.
func (s *Set) Names() []string {
	out := make([]string, 0, len(s.H1)+len(s.H2))
	for name := range s.H1 {
		out = append(out, name)
	}
	for name := range s.H2 {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Histograms runs the graph if needed and collects every booked histogram.
func (b *Battery) Histograms(ctx context.Context) (*Set, error) {
	s := &Set{
		H1: make(map[string]*hbook.H1D, len(b.h1)),
		H2: make(map[string]*hbook.H2D, len(b.h2)),
	}
	for _, r := range b.h1 {
		h, err := r.Value(ctx)
		if err != nil {
			return nil, err
		}
		s.H1[r.Name()] = h
	}
	for _, r := range b.h2 {
		h, err := r.Value(ctx)
		if err != nil {
			return nil, err
		}
		s.H2[r.Name()] = h
	}
	return s, nil
}
