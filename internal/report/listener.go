package report

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/torosent/loadgen/internal/engine"
)

var _ engine.Listener = (*Listener)(nil)

// Listener aggregates engine events into a Report.
//
// Counters are atomics and response times go to sharded histograms, so
// recording methods never take a listener-wide lock. The report is finalized
// exactly once, after OnComplete and when every queued request has settled.
type Listener struct {
	queued    atomic.Int64
	responses atomic.Int64
	failures  atomic.Int64
	settled   atomic.Int64
	sent      atomic.Int64
	received  atomic.Int64
	classes   [5]atomic.Int64
	began     atomic.Bool
	completed atomic.Bool

	stats *shardedStats
	cpu   *cpuSampler
	log   logrus.FieldLogger

	newProbe    func() (CPUProbe, error)
	cpuInterval time.Duration
	logFailures bool

	mu       sync.Mutex
	begin    time.Time
	complete time.Time

	finalizeOnce sync.Once
	done         chan struct{}
	report       *Report
}

// Option configures a Listener.
type Option func(*Listener)

// WithCPUSampleInterval sets how often process CPU load is sampled.
func WithCPUSampleInterval(d time.Duration) Option {
	return func(l *Listener) {
		if d > 0 {
			l.cpuInterval = d
		}
	}
}

// WithCPUProbe replaces the gopsutil process probe.
func WithCPUProbe(probe CPUProbe) Option {
	return func(l *Listener) {
		l.newProbe = func() (CPUProbe, error) { return probe, nil }
	}
}

// WithLogger sets the logger. When logFailures is set every failure is
// logged at debug level.
func WithLogger(log logrus.FieldLogger, logFailures bool) Option {
	return func(l *Listener) {
		l.log = log
		l.logFailures = logFailures
	}
}

// NewListener returns an empty listener ready to be registered with an engine.
func NewListener(opts ...Option) *Listener {
	l := &Listener{
		stats:       newShardedStats(),
		newProbe:    NewProcessCPUProbe,
		cpuInterval: time.Second,
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		log := logrus.New()
		log.SetLevel(logrus.PanicLevel)
		l.log = log
	}
	return l
}

// OnBegin records the start of the measured phase and starts CPU sampling.
// Only the first call counts.
func (l *Listener) OnBegin(at time.Time) {
	if !l.began.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	l.begin = at
	l.mu.Unlock()

	probe, err := l.newProbe()
	if err != nil {
		l.log.WithError(err).Warn("cpu sampling unavailable")
		return
	}
	l.cpu = newCPUSampler(probe, l.cpuInterval)
	l.cpu.start()
}

// OnComplete records the end of scheduling. The report is finalized as soon
// as every queued request has settled.
func (l *Listener) OnComplete(at time.Time) {
	l.mu.Lock()
	if !l.complete.IsZero() {
		l.mu.Unlock()
		return
	}
	l.complete = at
	l.mu.Unlock()

	l.completed.Store(true)
	l.maybeFinalize()
}

// OnRequestQueued counts a request about to be sent.
func (l *Listener) OnRequestQueued() {
	l.queued.Add(1)
}

// OnResponse records a received response of any status.
func (l *Listener) OnResponse(r engine.Response) {
	l.responses.Add(1)
	if class := r.StatusCode / 100; class >= 1 && class <= 5 {
		l.classes[class-1].Add(1)
	}
	l.sent.Add(r.SentBytes)
	l.received.Add(r.ReceivedBytes)
	l.stats.recordLatency(r.Latency)
	l.settle()
}

// OnFailure records a request that produced no response.
func (l *Listener) OnFailure(err error) {
	l.failures.Add(1)
	l.stats.recordFailure(failureType(err))
	if l.logFailures {
		l.log.WithError(err).Debug("request failed")
	}
	l.settle()
}

func (l *Listener) settle() {
	l.settled.Add(1)
	l.maybeFinalize()
}

// maybeFinalize freezes the report once the run is complete and reconciled.
// Reads happen in the order completed, settled, queued: queued only grows and
// never trails settled, so equality proves nothing is left in flight.
func (l *Listener) maybeFinalize() {
	if !l.completed.Load() {
		return
	}
	settled := l.settled.Load()
	if settled != l.queued.Load() {
		return
	}
	l.finalizeOnce.Do(l.finalize)
}

func (l *Listener) finalize() {
	var cpuMean float64
	if l.cpu != nil {
		mean, errs := l.cpu.finish()
		if errs > 0 {
			l.log.WithField("failed_samples", errs).Warn("some cpu samples failed")
		}
		cpuMean = mean
	}

	l.mu.Lock()
	begin, complete := l.begin, l.complete
	l.mu.Unlock()

	hist, failures := l.stats.merge()
	rep := &Report{
		BeginInstant:       begin,
		CompleteInstant:    complete,
		RecordingDuration:  complete.Sub(begin),
		AverageCPUPercent:  cpuMean,
		CPUCapacityPercent: runtime.NumCPU() * 100,
		RequestCount:       l.queued.Load(),
		ResponseCount:      l.responses.Load(),
		FailureCount:       l.failures.Load(),
		SentBytes:          l.sent.Load(),
		ReceivedBytes:      l.received.Load(),
		ResponseTimes:      hist,
		FailuresByType:     failures,
	}
	if begin.IsZero() {
		rep.RecordingDuration = 0
	}
	for i := range l.classes {
		rep.ResponsesByClass[i] = l.classes[i].Load()
	}

	l.report = rep
	close(l.done)
}

// Done is closed once the report is final.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Await blocks until the report is final and returns it. Every call returns
// the same *Report. If ctx ends first Await returns a *FinalizationError.
func (l *Listener) Await(ctx context.Context) (*Report, error) {
	select {
	case <-l.done:
		return l.report, nil
	default:
	}

	select {
	case <-l.done:
		return l.report, nil
	case <-ctx.Done():
		return nil, &FinalizationError{
			Completed: l.completed.Load(),
			Queued:    l.queued.Load(),
			Settled:   l.settled.Load(),
			Err:       ctx.Err(),
		}
	}
}

// Counters is a live snapshot of the accumulators.
type Counters struct {
	Begin     time.Time
	Requests  int64
	Responses int64
	Failures  int64
	Completed bool
}

// Live returns the current counters. The values are read independently and
// may be mutually inconsistent while the run is active.
func (l *Listener) Live() Counters {
	l.mu.Lock()
	begin := l.begin
	l.mu.Unlock()
	return Counters{
		Begin:     begin,
		Requests:  l.queued.Load(),
		Responses: l.responses.Load(),
		Failures:  l.failures.Load(),
		Completed: l.completed.Load(),
	}
}
