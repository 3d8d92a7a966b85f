package engine

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/torosent/loadgen/internal/config"
	"github.com/torosent/loadgen/internal/resource"
)

// Engine drives one load run. It is single use: Begin may be called once.
type Engine struct {
	cfg      config.RunConfig
	opts     options
	base     string
	client   *http.Client
	retry    RetryPolicy
	begun    atomic.Bool
	inflight sync.WaitGroup
}

// New creates an engine for cfg. Listeners must be supplied here; there is no
// way to register them once the run has begun.
func New(cfg config.RunConfig, opts ...Option) (*Engine, error) {
	if cfg.Resource == nil {
		return nil, errors.New("engine: resource tree is required")
	}
	if cfg.Threads < 1 || cfg.UsersPerThread < 1 {
		return nil, errors.New("engine: threads and users per thread must be >= 1")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.normalize()
	if cfg.Timeout > 0 && cfg.Timeout < o.dialTimeout {
		o.dialTimeout = cfg.Timeout
	}

	retry := DefaultRetryPolicy(cfg.Retries)
	if o.retry != nil {
		retry = *o.retry
	}

	return &Engine{
		cfg:    cfg,
		opts:   o,
		base:   cfg.Endpoint(),
		client: o.client,
		retry:  retry,
	}, nil
}

// Begin starts the run asynchronously. The returned channel yields exactly one
// value, nil on normal completion or the terminal failure, and is then closed.
//
// Cancelling ctx stops scheduling new iterations. Requests already sent are
// allowed to finish within the per-request timeout so every queued request
// is settled.
func (e *Engine) Begin(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	if !e.begun.CompareAndSwap(false, true) {
		done <- ErrAlreadyBegun
		close(done)
		return done
	}
	go func() {
		defer close(done)
		done <- e.run(ctx)
	}()
	return done
}

// Close waits until every request sent by the run has settled, then releases
// pooled connections. Call it only after the channel returned by Begin has
// delivered.
func (e *Engine) Close() error {
	e.inflight.Wait()
	closeIdle(e.client)
	return nil
}

func (e *Engine) run(ctx context.Context) error {
	if err := e.start(ctx); err != nil {
		return &StartError{Endpoint: e.base, Err: err}
	}

	log := e.opts.log.WithField("endpoint", e.base)

	if e.cfg.WarmupIterationsPerThread > 0 {
		log.WithField("iterations_per_thread", e.cfg.WarmupIterationsPerThread).Debug("warmup begin")
		var warm sync.WaitGroup
		e.newPhase(e.cfg.WarmupIterationsPerThread, discardResponses{}, &warm).schedule(ctx)
		warm.Wait()
		log.Debug("warmup complete")
	}

	if ctx.Err() != nil {
		// Interrupted before recording; nothing was measured.
		now := time.Now()
		e.opts.lifecycle.OnBegin(now)
		e.opts.lifecycle.OnComplete(now)
		return nil
	}

	sched := ctx
	if e.cfg.RunFor > 0 {
		var cancel context.CancelFunc
		sched, cancel = context.WithTimeout(ctx, e.cfg.RunFor)
		defer cancel()
	}

	e.opts.lifecycle.OnBegin(time.Now())
	e.newPhase(e.cfg.IterationsPerThread, e.opts.responses, &e.inflight).schedule(sched)
	e.opts.lifecycle.OnComplete(time.Now())
	return nil
}

// start resolves the client and checks that the endpoint accepts connections.
func (e *Engine) start(ctx context.Context) error {
	if e.client == nil {
		client, err := NewClient(e.cfg)
		if err != nil {
			return err
		}
		e.client = client
	} else if e.cfg.Transport == config.TransportFCGI {
		return ErrUnsupportedTransport
	}

	dialer := net.Dialer{Timeout: e.opts.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", e.cfg.Address())
	if err != nil {
		return err
	}
	return conn.Close()
}

// phase schedules iterations over every thread and user.
type phase struct {
	e          *Engine
	iterations int
	rec        ResponseListener
	inflight   *sync.WaitGroup
	arrival    arrivalController
}

func (e *Engine) newPhase(iterations int, rec ResponseListener, inflight *sync.WaitGroup) *phase {
	return &phase{
		e:          e,
		iterations: iterations,
		rec:        rec,
		inflight:   inflight,
		arrival:    newArrivalController(e.cfg.ArrivalModel, e.cfg.ResourceRate),
	}
}

// schedule returns once no further iterations will be started. Iterations
// already started keep running and are tracked by p.inflight.
func (p *phase) schedule(ctx context.Context) {
	var wg sync.WaitGroup
	for range p.e.cfg.Threads {
		wg.Go(func() { p.thread(ctx) })
	}
	wg.Wait()
}

// thread runs the users of one thread. They share the thread's iteration budget.
func (p *phase) thread(ctx context.Context) {
	var issued atomic.Int64
	var wg sync.WaitGroup
	for range p.e.cfg.UsersPerThread {
		wg.Go(func() { p.user(ctx, &issued) })
	}
	wg.Wait()
}

func (p *phase) user(ctx context.Context, issued *atomic.Int64) {
	channels := int64(max(p.e.cfg.ChannelsPerUser, 1))
	slots := semaphore.NewWeighted(channels)
	root := p.e.cfg.Resource
	// In-flight requests outlive the scheduling deadline.
	detached := context.WithoutCancel(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := slots.Acquire(ctx, 1); err != nil {
			return
		}
		if p.iterations > 0 && issued.Add(1) > int64(p.iterations) {
			slots.Release(1)
			return
		}
		if p.arrival != nil {
			if err := p.arrival.Wait(ctx); err != nil {
				slots.Release(1)
				return
			}
		}

		p.rec.OnRequestQueued()
		p.inflight.Add(1)
		go func() {
			defer p.inflight.Done()
			defer slots.Release(1)
			p.iterate(detached, root)
		}()
	}
}

// iterate sends node and, once it has a response, its children concurrently.
// node is already queued.
func (p *phase) iterate(ctx context.Context, node *resource.Resource) {
	children := node.Children()
	if !p.e.exchange(ctx, node, p.rec, len(children)) || len(children) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, child := range children {
		wg.Go(func() { p.iterate(ctx, child) })
	}
	wg.Wait()
}

type discardResponses struct{}

func (discardResponses) OnRequestQueued()    {}
func (discardResponses) OnResponse(Response) {}
func (discardResponses) OnFailure(error)     {}
