package workflow

import (
	"time"

	"github.com/dukex/stepflow/pkg/eventbus"
	"github.com/dukex/stepflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/trace"
)

type options struct {
	publisher eventbus.EventPublisher
	tracer    trace.Tracer
	timeout   time.Duration
	workerID  string
	now       func() time.Time
}

// Option configures the runners.
type Option func(*options)

// WithPublisher sets where lifecycle events go. Events are discarded by default.
func WithPublisher(publisher eventbus.EventPublisher) Option {
	return func(o *options) {
		if publisher != nil {
			o.publisher = publisher
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithTimeout sets the per-step budget. Zero disables the check.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

func WithWorkerID(workerID string) Option {
	return func(o *options) {
		o.workerID = workerID
	}
}

// WithClock replaces time.Now, used for timestamps and elapsed time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		publisher: eventbus.NopPublisher{},
		tracer:    otelhelper.NoopTracer(),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}
