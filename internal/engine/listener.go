package engine

import "time"

// Response describes one completed HTTP exchange.
type Response struct {
	StatusCode    int
	SentBytes     int64
	ReceivedBytes int64
	Latency       time.Duration
}

// LifecycleListener observes the measured phase of a run.
type LifecycleListener interface {
	// OnBegin fires once warmup has drained and recording starts.
	OnBegin(at time.Time)
	// OnComplete fires once no further iterations will be scheduled.
	// Requests already in flight may still report afterwards.
	OnComplete(at time.Time)
}

// ResponseListener observes individual recorded requests. Methods are called
// concurrently from every user goroutine.
//
// Every OnRequestQueued is followed by exactly one OnResponse or OnFailure.
// Child requests of a resource are queued before their parent settles.
type ResponseListener interface {
	OnRequestQueued()
	OnResponse(Response)
	OnFailure(err error)
}

// Listener is the full set of engine events.
type Listener interface {
	LifecycleListener
	ResponseListener
}

type lifecycleListeners []LifecycleListener

func (ls lifecycleListeners) OnBegin(at time.Time) {
	for _, l := range ls {
		l.OnBegin(at)
	}
}

func (ls lifecycleListeners) OnComplete(at time.Time) {
	for _, l := range ls {
		l.OnComplete(at)
	}
}

type responseListeners []ResponseListener

func (ls responseListeners) OnRequestQueued() {
	for _, l := range ls {
		l.OnRequestQueued()
	}
}

func (ls responseListeners) OnResponse(r Response) {
	for _, l := range ls {
		l.OnResponse(r)
	}
}

func (ls responseListeners) OnFailure(err error) {
	for _, l := range ls {
		l.OnFailure(err)
	}
}
