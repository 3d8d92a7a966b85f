package engine

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Option configures an Engine.
type Option func(*options)

type options struct {
	lifecycle   lifecycleListeners
	responses   responseListeners
	client      *http.Client
	tracer      trace.Tracer
	propagate   bool
	retry       *RetryPolicy
	log         logrus.FieldLogger
	logFailures bool
	dialTimeout time.Duration
}

// WithListener registers l for both lifecycle and response events.
func WithListener(l Listener) Option {
	return func(o *options) {
		o.lifecycle = append(o.lifecycle, l)
		o.responses = append(o.responses, l)
	}
}

// WithLifecycleListener registers l for begin and complete events.
func WithLifecycleListener(l LifecycleListener) Option {
	return func(o *options) { o.lifecycle = append(o.lifecycle, l) }
}

// WithResponseListener registers l for per-request events.
func WithResponseListener(l ResponseListener) Option {
	return func(o *options) { o.responses = append(o.responses, l) }
}

// WithClient replaces the transport-derived HTTP client.
func WithClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithTracer records a client span per request and, when propagate is set,
// injects W3C trace headers.
func WithTracer(t trace.Tracer, propagate bool) Option {
	return func(o *options) {
		o.tracer = t
		o.propagate = propagate
	}
}

// WithRetryPolicy overrides the policy derived from the configured retries.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *options) { o.retry = &p }
}

// WithLogger sets the logger. When logFailures is set each failed request is
// logged at debug level.
func WithLogger(log logrus.FieldLogger, logFailures bool) Option {
	return func(o *options) {
		o.log = log
		o.logFailures = logFailures
	}
}

func (o *options) normalize() {
	if o.log == nil {
		log := logrus.New()
		log.SetLevel(logrus.PanicLevel)
		o.log = log
	}
	if o.dialTimeout <= 0 {
		o.dialTimeout = 5 * time.Second
	}
}
