// Package analysis selects photon + dijet events, applies the jet energy
// corrections and books the cutflow histogram battery, then compares the
// per-flavour yields in the Z mass window with the expected branching
// fractions.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"go-hep.org/x/hep/hbook"
	"go.uber.org/zap"

	"github.com/TFMV/dijet/config"
	"github.com/TFMV/dijet/correction"
	"github.com/TFMV/dijet/cutflow"
	"github.com/TFMV/dijet/event"
	"github.com/TFMV/dijet/graph"
	"github.com/TFMV/dijet/hist"
	"github.com/TFMV/dijet/yield"
)

// ErrNoCorrector is returned when corrections are enabled but no corrector
// was supplied.
var ErrNoCorrector = errors.New("analysis: corrections enabled without a corrector")

// Analysis is a configured selection ready to run over event sources.
type Analysis struct {
	cfg       config.Run
	corrector *correction.Corrector
	logger    *zap.Logger
}

// Option configures an Analysis.
type Option func(*Analysis)

// WithCorrector sets the jet energy corrector.
func WithCorrector(c *correction.Corrector) Option {
	return func(a *Analysis) { a.corrector = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Analysis) {
		if l != nil {
			a.logger = l
		}
	}
}

// New validates cfg and binds the options.
func New(cfg config.Run, opts ...Option) (*Analysis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Analysis{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.Corrections.Enabled && a.corrector == nil {
		return nil, ErrNoCorrector
	}
	if a.corrector != nil && a.corrector.IsData() != cfg.IsData {
		return nil, fmt.Errorf("analysis: corrector built for is_data=%t, run has is_data=%t", a.corrector.IsData(), cfg.IsData)
	}
	return a, nil
}

// Output is everything a run produces.
type Output struct {
	Events      int64
	Histograms  *hist.Set
	Checkpoints []string
	Cutflow     []graph.FilterReport
	Yield       yield.Result
	Elapsed     time.Duration
}

// Run executes the selection over src in a single pass.
func (a *Analysis) Run(ctx context.Context, src *event.Source) (*Output, error) {
	start := time.Now()
	if a.cfg.MaxEvents > 0 {
		limited, err := src.Range(0, a.cfg.MaxEvents)
		if err != nil {
			return nil, err
		}
		defer limited.Release()
		src = limited
	}
	a.logger.Info("analysis started",
		zap.Int64("events", src.NumRows()),
		zap.Int("batches", src.NumBatches()),
		zap.Int("year", a.cfg.Year),
		zap.String("era", a.cfg.Era),
		zap.Bool("is_data", a.cfg.IsData))

	g := graph.New(src, graph.WithWorkers(a.cfg.Workers), graph.WithLogger(a.logger))
	if err := a.fallbacks(g); err != nil {
		return nil, err
	}
	sel, err := a.selection(g)
	if err != nil {
		return nil, err
	}
	checkpoints, err := a.book(sel)
	if err != nil {
		return nil, err
	}

	set, err := sel.battery.Histograms(ctx)
	if err != nil {
		return nil, err
	}
	out := &Output{
		Events:      src.NumRows(),
		Histograms:  set,
		Checkpoints: checkpoints,
		Cutflow:     g.Report(),
	}
	if out.Yield, err = a.compare(set); err != nil {
		return nil, err
	}
	out.Elapsed = time.Since(start)
	a.logger.Info("analysis completed",
		zap.Int("histograms", len(set.H1)+len(set.H2)),
		zap.Duration("elapsed", out.Elapsed))
	return out, nil
}

// book fills the monitoring histograms and runs the cutflow.
func (a *Analysis) book(sel *selection) ([]string, error) {
	bat := sel.battery
	isData := a.cfg.IsData
	photonPt := graph.Binning{Bins: 1000, Min: 0, Max: 1000}
	angle := graph.Binning{Bins: 100, Min: 0, Max: 5}

	steps := []func() error{
		func() error {
			return bat.Histo1D(sel.root, "h_nvtx", graph.Binning{Bins: 100, Min: 0, Max: 100}, sel.nvtx)
		},
		func() error {
			return bat.Histo1DArray(sel.trigger, "photon_pt_aftertrigger", photonPt, sel.loosePhotonPt)
		},
		func() error { return bat.Histo1DArray(sel.photon, "photon_pt_afterptcut", photonPt, sel.loosePhotonPt) },
		func() error { return bat.Histo1DArray(sel.dijet, "photon_pt_2jselection", photonPt, sel.loosePhotonPt) },
		func() error {
			return bat.Histo2D(sel.study, "Jet_delta_phi_vs_delta_eta", angle, angle, sel.deltaPhi, sel.deltaEta)
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	if err := a.bookBtag(sel); err != nil {
		return nil, err
	}

	opts := hist.FillOptions{SkipCategories: isData}
	acc := cutflow.NewAccumulator(bat, a.logger)
	cps, err := acc.Cumulative(sel.study, a.cfg.Cuts, opts)
	if err != nil {
		return nil, err
	}
	if _, err := acc.Independent(sel.study, a.cfg.Cuts, opts); err != nil {
		return nil, err
	}
	last := cps[len(cps)-1].View
	if !isData {
		if err := a.bookFlavourKinematics(sel, last); err != nil {
			return nil, err
		}
		// Flavours outside the yield categories still get their pre-cut mass.
		for k := 1; k <= a.cfg.Flavours; k++ {
			if slices.Contains(a.cfg.Categories, k) {
				continue
			}
			if err := bat.CategoryMass(sel.study, k); err != nil {
				return nil, err
			}
		}
	}
	final := a.cfg.FinalCut
	if _, err := acc.Apply(last, final, final.Label, false, hist.FillOptions{SkipKinematics: true, SkipCategories: isData}); err != nil {
		return nil, err
	}

	labels := make([]string, len(cps))
	for i, cp := range cps {
		labels[i] = cp.Label
	}
	return labels, nil
}

func (a *Analysis) bookBtag(sel *selection) error {
	bat := sel.battery
	axis := graph.Binning{Bins: 1000, Min: 0, Max: 1}
	book := func(v *graph.View, prefix string) error {
		for _, h := range []struct {
			suffix string
			x      graph.Handle[float64]
		}{{"_1", sel.btag1}, {"_2", sel.btag2}, {"_mean", sel.btagMean}} {
			if err := bat.Histo1D(v, prefix+h.suffix, axis, h.x); err != nil {
				return err
			}
		}
		return bat.Histo2D(v, prefix, axis, axis, sel.btag1, sel.btag2)
	}
	if err := book(sel.study, "Jet_btagPNetB"); err != nil {
		return err
	}
	if a.cfg.IsData {
		return nil
	}
	for _, k := range a.cfg.Categories {
		v, err := bat.Category(sel.study, k)
		if err != nil {
			return err
		}
		if err := book(v, "Jet_btagPNetB_PartonFlavour"+strconv.Itoa(k)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Analysis) bookFlavourKinematics(sel *selection, v *graph.View) error {
	b := &builder{g: sel.g}
	for _, k := range a.cfg.Categories {
		flags := column[[]bool](b, flavourFlag(k))
		pt := selected(b, fmt.Sprintf("Jet_TightID_Pt30_Central_Pt_Flavour%d", k), sel.jetPt, flags)
		eta := selected(b, fmt.Sprintf("Jet_TightID_Pt30_Central_Eta_Flavour%d", k), sel.jetEta, flags)
		if b.err != nil {
			return b.err
		}
		if err := sel.battery.Histo1DArray(v, fmt.Sprintf("jet_pt_partonflavour%d", k), graph.Binning{Bins: 100, Min: 0, Max: 500}, pt); err != nil {
			return err
		}
		if err := sel.battery.Histo1DArray(v, fmt.Sprintf("jet_eta_partonflavour%d", k), graph.Binning{Bins: 50, Min: -2.5, Max: 2.5}, eta); err != nil {
			return err
		}
	}
	return nil
}

// compare runs the yield comparison on the pre-cut category mass
// histograms. Data carries no flavour truth and an empty total is reported
// as an undefined result.
func (a *Analysis) compare(set *hist.Set) (yield.Result, error) {
	if a.cfg.IsData {
		return yield.Result{}, nil
	}
	hs := make([]*hbook.H1D, len(a.cfg.Categories))
	for i, k := range a.cfg.Categories {
		hs[i] = set.Get(hist.Key{Variable: hist.Mass, Category: k})
	}
	res, err := yield.Analyze(hs, a.cfg.Window, a.cfg.Theory)
	switch {
	case errors.Is(err, yield.ErrDivisionUndefined):
		a.logger.Warn("category fractions undefined", zap.Float64("total", res.Total))
		return res, nil
	case err != nil:
		return yield.Result{}, err
	}
	a.logger.Info("category yields compared",
		zap.Float64s("yields", res.Yields),
		zap.Float64("chi2", res.ChiSquare),
		zap.Int("ndf", res.NDF),
		zap.Float64("p_value", res.PValue))
	return res, nil
}
