package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/loadgen/internal/report"
)

// CounterSource exposes live run counters.
type CounterSource interface {
	Live() report.Counters
}

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   CounterSource
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	now      func() time.Time
	active   int32
}

// NewProgressReporter creates a progress reporter that updates at the given interval.
func NewProgressReporter(source CounterSource, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
		now:      time.Now,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and terminates the progress line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, progressLine(p.source.Live(), p.now()))
		case <-p.done:
			return
		}
	}
}

func progressLine(c report.Counters, now time.Time) string {
	if c.Begin.IsZero() {
		return "\rWarming up..."
	}
	elapsed := now.Sub(c.Begin)
	rps := 0.0
	if elapsed > 0 {
		rps = float64(c.Responses) / elapsed.Seconds()
	}
	line := fmt.Sprintf("\rRequests: %d | Responses: %d | Failures: %d | RPS: %.1f | Elapsed: %s",
		c.Requests, c.Responses, c.Failures, rps, elapsed.Truncate(time.Second))
	if pending := c.Requests - c.Responses - c.Failures; c.Completed && pending > 0 {
		line += fmt.Sprintf(" | Draining: %d", pending)
	}
	return line
}
