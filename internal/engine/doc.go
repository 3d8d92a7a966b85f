// Package engine generates HTTP load against a single endpoint.
//
// An [Engine] is built from a [config.RunConfig] and runs threads × users
// simulated users. Each user repeatedly requests the configured resource
// tree, keeping up to channelsPerUser trees in flight at once:
//
//	eng, err := engine.New(runCfg, engine.WithListener(listener))
//	if err != nil {
//		return err
//	}
//	if err := <-eng.Begin(ctx); err != nil {
//		return err
//	}
//
// # Run Shape
//
// A run has an optional warmup phase, whose requests are never reported,
// followed by the measured phase bracketed by [LifecycleListener.OnBegin]
// and [LifecycleListener.OnComplete]. The measured phase ends after
// iterationsPerThread trees per thread, after runFor, or when the context
// passed to [Engine.Begin] is cancelled, whichever applies first.
//
// # Pacing
//
// A non-zero resource rate paces tree iterations across all threads using
// either uniform spacing or exponential (Poisson) inter-arrival times.
//
// # Events
//
// Every recorded request produces one [ResponseListener.OnRequestQueued]
// followed by exactly one [ResponseListener.OnResponse] or
// [ResponseListener.OnFailure]. Any HTTP status is a response; failures are
// transport errors, timeouts and unreadable bodies. Children of a resource are
// requested concurrently once their parent has a response.
//
// # Transports
//
// [config.TransportHTTP1] uses HTTP/1.1 only, [config.TransportHTTP2] uses
// h2 over TLS or h2c over plain TCP. [config.TransportFCGI] is rejected at
// start with [ErrUnsupportedTransport].
package engine
