package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/loadgen/internal/config"
	"github.com/torosent/loadgen/internal/driver"
	"github.com/torosent/loadgen/internal/engine"
	"github.com/torosent/loadgen/internal/output"
	"github.com/torosent/loadgen/internal/report"
	"github.com/torosent/loadgen/internal/tracing"
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run loads the configuration, drives one load run and logs its report to
// stdout. Progress goes to stderr so it never interleaves with the report.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cfg, err := config.NewLoader().Load(args)
	if err != nil {
		if errors.Is(err, config.ErrHelpRequested) {
			return nil
		}
		return err
	}

	log, err := newLogger(cfg.LogLevel, cfg.LogFormat, stdout)
	if err != nil {
		return err
	}

	rc, err := cfg.RunConfig()
	if err != nil {
		return err
	}
	for _, warning := range cfg.Warnings() {
		log.Warn(warning)
	}
	log.WithField("config", rc.String()).Info("load generator config")

	tp, err := tracing.Init(ctx, cfg.Tracing,
		tracing.WithLogger(log),
		tracing.WithResourceAttributes(
			attribute.String("server.address", rc.Host),
			attribute.Int("server.port", rc.Port),
			attribute.String("network.protocol.name", rc.Transport.Describe(rc.Scheme)),
		),
	)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.WithError(err).Warn("tracing shutdown failed")
		}
	}()

	listener := report.NewListener(
		report.WithCPUSampleInterval(rc.CPUSampleInterval),
		report.WithLogger(log, false),
	)

	opts := []engine.Option{
		engine.WithListener(listener),
		engine.WithLogger(log, cfg.LogFailures),
	}
	if cfg.Tracing.Enabled() || tp.ShouldPropagate() {
		opts = append(opts, engine.WithTracer(tp.Tracer(), tp.ShouldPropagate()))
	}
	eng, err := engine.New(rc, opts...)
	if err != nil {
		return err
	}

	var progress *output.ProgressReporter
	if cfg.Progress {
		progress = output.NewProgressReporter(listener, progressInterval, stderr)
		progress.Start()
	}

	outcome := driver.New(log, driver.Options{FinalizeTimeout: rc.FinalizeTimeout}).Run(ctx, eng, listener)
	if progress != nil {
		progress.Stop()
	}
	if err := eng.Close(); err != nil {
		log.WithError(err).Warn("engine close failed")
	}
	if !outcome.Completed() {
		return fmt.Errorf("load generation failed: %w", outcome.Err)
	}

	log.WithField("run_id", outcome.RunID).Debugf("display report: %s", outcome.Report)
	output.PrintReport(log, output.Render(rc, outcome.Report))
	output.PrintFailureBreakdown(log, outcome.Report)
	return nil
}
