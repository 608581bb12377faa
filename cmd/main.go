package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/TFMV/dijet"
	"github.com/TFMV/dijet/analysis"
	"github.com/TFMV/dijet/config"
	"github.com/TFMV/dijet/storage"
)

const usage = `Photon + dijet analysis.

Usage:
  dijet run <input> [--config=<path>] [--year=<year>] [--era=<era>] [--data] [--workers=<n>] [--max-events=<n>] [--out=<dir>] [--no-corrections] [--metrics-addr=<addr>]
  dijet generate <output> [--events=<n>] [--batch=<rows>] [--seed=<seed>] [--data]
  dijet config <output>
  dijet (-h | --help)
  dijet --version

Options:
  -h --help              Show this screen.
  --version              Show version.
  --config=<path>        YAML run configuration layered over the defaults.
  --year=<year>          Data-taking year, overrides the configuration.
  --era=<era>            Data-taking era, overrides the configuration.
  --data                 Treat the sample as collision data.
  --workers=<n>          Batches evaluated concurrently, 0 for GOMAXPROCS.
  --max-events=<n>       Process at most n events, 0 for all.
  --out=<dir>            Directory for histograms.arrow and summary.json [default: out].
  --no-corrections       Skip the jet energy corrections.
  --metrics-addr=<addr>  Serve Prometheus metrics on this address.
  --events=<n>           Events to generate [default: 100000].
  --batch=<rows>         Rows per record batch [default: 10000].
  --seed=<seed>          Generator seed [default: 1].
`

func main() {
	arguments, err := docopt.ParseArgs(usage, nil, "dijet 1.0.0")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing arguments: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch {
	case flag(arguments, "run"):
		err = run(ctx, arguments, logger)
	case flag(arguments, "generate"):
		err = generate(arguments, logger)
	case flag(arguments, "config"):
		path, _ := arguments.String("<output>")
		err = config.Write(path, config.Default())
	}
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func flag(arguments docopt.Opts, name string) bool {
	v, _ := arguments.Bool(name)
	return v
}

func run(ctx context.Context, arguments docopt.Opts, logger *zap.Logger) error {
	cfg := config.Default()
	if path, err := arguments.String("--config"); err == nil && path != "" {
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if year, err := arguments.Int("--year"); err == nil {
		cfg.Year = year
	}
	if era, err := arguments.String("--era"); err == nil && era != "" {
		cfg.Era = era
	}
	if flag(arguments, "--data") {
		cfg.IsData = true
	}
	if workers, err := arguments.Int("--workers"); err == nil {
		cfg.Workers = workers
	}
	if n, err := arguments.Int("--max-events"); err == nil {
		cfg.MaxEvents = int64(n)
	}
	if flag(arguments, "--no-corrections") {
		cfg.Corrections.Enabled = false
	}

	if addr, err := arguments.String("--metrics-addr"); err == nil && addr != "" {
		srv := &http.Server{Addr: addr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", zap.String("addr", addr))
	}

	input, _ := arguments.String("<input>")
	out, _ := arguments.String("--out")
	res, err := dijet.Run(ctx, cfg, input, dijet.WithLogger(logger), dijet.WithOutput(out))
	if err != nil {
		return err
	}
	for _, line := range res.Cutflow {
		logger.Info("cutflow",
			zap.String("filter", line.Label),
			zap.Uint64("pass", line.Pass),
			zap.Uint64("all", line.All),
			zap.Float64("efficiency", line.Efficiency()))
	}
	if res.Yield.Defined {
		logger.Info("yield comparison",
			zap.Float64("chi2", res.Yield.ChiSquare),
			zap.Int("ndf", res.Yield.NDF),
			zap.Float64("p_value", res.Yield.PValue))
	}
	return nil
}

func generate(arguments docopt.Opts, logger *zap.Logger) error {
	path, _ := arguments.String("<output>")
	events, err := arguments.Int("--events")
	if err != nil {
		return fmt.Errorf("--events: %w", err)
	}
	batch, err := arguments.Int("--batch")
	if err != nil {
		return fmt.Errorf("--batch: %w", err)
	}
	seed, err := arguments.Int("--seed")
	if err != nil {
		return fmt.Errorf("--seed: %w", err)
	}
	src, err := analysis.Generate(analysis.SampleOptions{
		Events:    events,
		BatchRows: batch,
		IsData:    flag(arguments, "--data"),
		Seed:      uint64(seed),
	})
	if err != nil {
		return err
	}
	defer src.Release()
	if err := storage.SaveEvents(path, src, storage.Options{Compression: storage.DefaultCompression}); err != nil {
		return err
	}
	logger.Info("sample written",
		zap.String("path", path),
		zap.Int64("events", src.NumRows()),
		zap.Int("batches", src.NumBatches()))
	return nil
}
