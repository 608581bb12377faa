// Package cutflow applies an ordered list of named cuts to a view, booking
// the histogram battery at the pre-cut state and after every cumulative
// prefix, as well as for each cut applied alone.
package cutflow

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/TFMV/dijet/graph"
	"github.com/TFMV/dijet/hist"
)

var (
	// ErrEmptyLabel is returned for a cut without a label.
	ErrEmptyLabel = errors.New("cutflow: empty cut label")
	// ErrDuplicateLabel is returned when two cuts share a label.
	ErrDuplicateLabel = errors.New("cutflow: duplicate cut label")
)

// Cut is one named selection. Pred, when valid, is used as is; otherwise
// Expr is compiled against the graph.
type Cut struct {
	Label string             `yaml:"label"`
	Expr  string             `yaml:"expr"`
	Pred  graph.Handle[bool] `yaml:"-"`
}

// Checkpoint is the state reached after applying a prefix of the cuts.
type Checkpoint struct {
	// Label is the underscore join of the applied cut labels, "" before any.
	Label string
	View  *graph.View
}

// Join returns the checkpoint label of an ordered list of cut labels.
func Join(labels []string) string { return strings.Join(labels, "_") }

// Validate rejects empty and repeated labels.
func Validate(cuts []Cut) error {
	seen := make(map[string]struct{}, len(cuts))
	for i, c := range cuts {
		if c.Label == "" {
			return fmt.Errorf("%w at position %d", ErrEmptyLabel, i)
		}
		if _, ok := seen[c.Label]; ok {
			return fmt.Errorf("%w %q", ErrDuplicateLabel, c.Label)
		}
		seen[c.Label] = struct{}{}
	}
	return nil
}

// Accumulator books the battery along a cut sequence.
type Accumulator struct {
	battery  *hist.Battery
	logger   *zap.Logger
	compiled map[string]graph.Handle[bool]
}

// NewAccumulator creates an accumulator filling battery.
func NewAccumulator(battery *hist.Battery, logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{battery: battery, logger: logger, compiled: make(map[string]graph.Handle[bool])}
}

func (a *Accumulator) predicate(v *graph.View, c Cut) (graph.Handle[bool], error) {
	if c.Pred.Valid() {
		return c.Pred, nil
	}
	// Cumulative and single-cut views share one predicate node per expression.
	if pred, ok := a.compiled[c.Expr]; ok {
		return pred, nil
	}
	pred, err := graph.Compile(v.Graph(), c.Expr)
	if err != nil {
		return graph.Handle[bool]{}, fmt.Errorf("cut %q: %w", c.Label, err)
	}
	a.compiled[c.Expr] = pred
	return pred, nil
}

// Apply filters v with c and books the battery under checkpoint.
func (a *Accumulator) Apply(v *graph.View, c Cut, checkpoint string, single bool, opts hist.FillOptions) (*graph.View, error) {
	pred, err := a.predicate(v, c)
	if err != nil {
		return nil, err
	}
	next, err := v.Filter(pred, c.Label)
	if err != nil {
		return nil, err
	}
	if err := a.battery.Fill(next, checkpoint, single, opts); err != nil {
		return nil, fmt.Errorf("checkpoint %q: %w", checkpoint, err)
	}
	return next, nil
}

// Cumulative books the battery on base and after every prefix of cuts. It
// returns len(cuts)+1 checkpoints, the first being base itself.
func (a *Accumulator) Cumulative(base *graph.View, cuts []Cut, opts hist.FillOptions) ([]Checkpoint, error) {
	if err := Validate(cuts); err != nil {
		return nil, err
	}
	if err := a.battery.Fill(base, "", false, opts); err != nil {
		return nil, fmt.Errorf("pre-cut checkpoint: %w", err)
	}
	out := make([]Checkpoint, 0, len(cuts)+1)
	out = append(out, Checkpoint{View: base})

	labels := make([]string, 0, len(cuts))
	v := base
	for _, c := range cuts {
		labels = append(labels, c.Label)
		label := Join(labels)
		next, err := a.Apply(v, c, label, false, opts)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("cumulative checkpoint", zap.String("checkpoint", label))
		out = append(out, Checkpoint{Label: label, View: next})
		v = next
	}
	return out, nil
}

// Independent books the battery for each cut applied alone to base. The
// returned checkpoints are labelled by the cut label.
func (a *Accumulator) Independent(base *graph.View, cuts []Cut, opts hist.FillOptions) ([]Checkpoint, error) {
	if err := Validate(cuts); err != nil {
		return nil, err
	}
	out := make([]Checkpoint, 0, len(cuts))
	for _, c := range cuts {
		next, err := a.Apply(base, c, c.Label, true, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, Checkpoint{Label: c.Label, View: next})
	}
	return out, nil
}
