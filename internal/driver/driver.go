// Package driver sequences a load run: begin the engine, wait for its terminal
// signal, then wait for the report listener to finalize.
package driver

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/torosent/loadgen/internal/report"
)

const defaultFinalizeTimeout = 30 * time.Second

// Beginner starts a run asynchronously. The channel yields one value, nil on
// normal completion or the terminal failure.
type Beginner interface {
	Begin(ctx context.Context) <-chan error
}

// Finalizer resolves to the frozen report once every queued request settled.
type Finalizer interface {
	Await(ctx context.Context) (*report.Report, error)
}

// Outcome is either a completed run carrying its report or a failed run
// carrying the cause. Exactly one of Report and Err is set.
type Outcome struct {
	RunID  string
	Report *report.Report
	Err    error
}

// Completed reports whether the run produced a report.
func (o Outcome) Completed() bool {
	return o.Err == nil && o.Report != nil
}

// Options tunes a Driver.
type Options struct {
	// FinalizeTimeout bounds the wait for the listener after the engine
	// completes. Zero means 30s.
	FinalizeTimeout time.Duration
}

// Driver runs one engine to completion and collects its report.
type Driver struct {
	log             logrus.FieldLogger
	finalizeTimeout time.Duration
	newRunID        func() string
}

// New returns a Driver that logs run markers to log.
func New(log logrus.FieldLogger, opts Options) *Driver {
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		log = l
	}
	timeout := opts.FinalizeTimeout
	if timeout <= 0 {
		timeout = defaultFinalizeTimeout
	}
	return &Driver{
		log:             log,
		finalizeTimeout: timeout,
		newRunID:        func() string { return ulid.Make().String() },
	}
}

// Run executes one run. The listener must already be registered with the
// engine. A failed engine is reported without waiting on the listener; there
// are no retries at this level.
//
// Cancelling ctx ends the run early through the engine. The finalization wait
// is detached from ctx so that an interrupted run still reports what it did.
func (d *Driver) Run(ctx context.Context, eng Beginner, fin Finalizer) Outcome {
	out := Outcome{RunID: d.newRunID()}
	log := d.log.WithField("run_id", out.RunID)

	log.Info("load generation begin")
	if err := <-eng.Begin(ctx); err != nil {
		log.WithError(err).Error("load generation failure")
		out.Err = err
		return out
	}

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.finalizeTimeout)
	defer cancel()
	rep, err := fin.Await(fctx)
	if err != nil {
		log.WithError(err).Error("load generation failure")
		out.Err = err
		return out
	}

	log.WithFields(logrus.Fields{
		"requests":  rep.RequestCount,
		"responses": rep.ResponseCount,
		"failures":  rep.FailureCount,
	}).Info("load generation complete")
	out.Report = rep
	return out
}
