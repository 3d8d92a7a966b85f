package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/loadgen/internal/config"
)

// arrivalController paces resource iterations across all threads.
type arrivalController interface {
	Wait(ctx context.Context) error
}

func newArrivalController(model config.ArrivalModel, rps float64) arrivalController {
	if rps <= 0 {
		return nil
	}

	switch model {
	case config.ArrivalModelPoisson:
		return &poissonArrival{rate: rps, sample: rand.ExpFloat64}
	default:
		return &uniformArrival{limiter: newLimiter(rps)}
	}
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	// A burst of one keeps iterations evenly spaced at fractional rates.
	return rate.NewLimiter(rate.Limit(rps), 1)
}

// uniformArrival delegates pacing to a rate.Limiter (uniform spacing).
type uniformArrival struct {
	limiter *rate.Limiter
}

func (u *uniformArrival) Wait(ctx context.Context) error {
	if u == nil || u.limiter == nil {
		return nil
	}
	return u.limiter.Wait(ctx)
}

// poissonArrival samples exponential inter-arrival times to approximate a Poisson process.
type poissonArrival struct {
	rate   float64
	sample func() float64
}

func (p *poissonArrival) Wait(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *poissonArrival) nextDelay() time.Duration {
	if p == nil || p.rate <= 0 || p.sample == nil {
		return 0
	}
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}
