// Package dijet runs the photon + dijet analysis end to end: it loads the
// event sample, resolves and fetches the jet energy correction payload, runs
// the selection and writes the histogram and summary outputs.
package dijet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/TFMV/dijet/analysis"
	"github.com/TFMV/dijet/config"
	"github.com/TFMV/dijet/correction"
	"github.com/TFMV/dijet/storage"
)

// Output file names written under the output directory.
const (
	HistogramFile = "histograms.arrow"
	SummaryFile   = "summary.json"
)

// Runner executes analysis runs. A runner keeps its payload source, and the
// circuit breaker guarding it, across runs.
type Runner struct {
	logger  *zap.Logger
	source  correction.Source
	closer  io.Closer
	out     string
	storage storage.Options
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSource overrides the correction payload source derived from the
// configuration.
func WithSource(s correction.Source) Option {
	return func(r *Runner) { r.source = s }
}

// WithOutput sets the directory receiving the histogram export and the run
// summary. Without it nothing is written.
func WithOutput(dir string) Option {
	return func(r *Runner) { r.out = dir }
}

// WithStorage sets the read and write options of event and histogram files.
func WithStorage(o storage.Options) Option {
	return func(r *Runner) { r.storage = o }
}

// NewRunner builds a runner whose payload source follows cc: a Cloud Storage
// bucket when one is named, the local directory otherwise. Either is wrapped
// in a circuit breaker.
func NewRunner(ctx context.Context, cc config.Corrections, opts ...Option) (*Runner, error) {
	r := &Runner{logger: zap.NewNop(), storage: storage.Options{Compression: storage.DefaultCompression}}
	for _, opt := range opts {
		opt(r)
	}
	if r.source != nil || !cc.Enabled {
		return r, nil
	}
	var src correction.Source = correction.DirSource{Root: cc.Dir}
	if cc.Bucket != "" {
		gcs, err := correction.NewGCSSource(ctx, cc.Bucket, cc.Prefix, cc.Credentials)
		if err != nil {
			return nil, err
		}
		src, r.closer = gcs, gcs
	}
	r.source = correction.NewBreakerSource(src, 3, 30*time.Second)
	return r, nil
}

// Close releases the payload source.
func (r *Runner) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Corrector resolves the payload of cfg's year and era and binds the
// correction chain.
func (r *Runner) Corrector(ctx context.Context, cfg config.Run) (*correction.Corrector, error) {
	if r.source == nil {
		return nil, errors.New("dijet: no correction payload source")
	}
	key, err := correction.Resolve(cfg.Year, cfg.Era, cfg.IsData)
	if err != nil {
		return nil, err
	}
	set, err := correction.Fetch(ctx, r.source, key)
	if err != nil {
		return nil, err
	}
	r.logger.Info("correction payload loaded",
		zap.String("file", key.File()),
		zap.String("prefix", key.Prefix()),
		zap.Int("tables", len(set.Names())))
	return correction.NewCorrector(set, key)
}

// Run analyzes the events stored at input.
func (r *Runner) Run(ctx context.Context, cfg config.Run, input string) (*analysis.Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []analysis.Option{analysis.WithLogger(r.logger)}
	if cfg.Corrections.Enabled {
		c, err := r.Corrector(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("corrections: %w", err)
		}
		opts = append(opts, analysis.WithCorrector(c))
	}
	a, err := analysis.New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	src, err := storage.LoadEvents(ctx, input, r.storage)
	if err != nil {
		return nil, err
	}
	defer src.Release()
	out, err := a.Run(ctx, src)
	if err != nil {
		return nil, err
	}
	if r.out == "" {
		return out, nil
	}

	if err := storage.ExportHistograms(filepath.Join(r.out, HistogramFile), out.Histograms, r.storage); err != nil {
		return nil, err
	}
	summary := storage.Summary{
		Input:       input,
		Year:        cfg.Year,
		Era:         cfg.Era,
		IsData:      cfg.IsData,
		Events:      out.Events,
		Checkpoints: out.Checkpoints,
		Cutflow:     out.Cutflow,
		Histograms:  len(out.Histograms.H1) + len(out.Histograms.H2),
		Yield:       out.Yield,
		Elapsed:     out.Elapsed,
	}
	if err := storage.SaveSummary(filepath.Join(r.out, SummaryFile), summary); err != nil {
		return nil, err
	}
	r.logger.Info("outputs written", zap.String("dir", r.out))
	return out, nil
}

// Run is a one-shot NewRunner + Run.
func Run(ctx context.Context, cfg config.Run, input string, opts ...Option) (*analysis.Output, error) {
	r, err := NewRunner(ctx, cfg.Corrections, opts...)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return r.Run(ctx, cfg, input)
}
