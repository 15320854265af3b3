package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("nova")

// Observer bundles the structured logger, the tracer and the metric set
// shared by every component.
type Observer struct {
	log     *bolt.Logger
	metrics *Metrics
}

// New creates an Observer with console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.New(bolt.NewConsoleHandler(out)), verbose)
}

// NewJSON creates an Observer with JSON output.
func NewJSON(out io.Writer, verbose bool) *Observer {
	return newObserver(bolt.New(bolt.NewJSONHandler(out)), verbose)
}

// Discard returns an Observer that drops all log output. Metrics are still
// recorded so tests can assert on them.
func Discard() *Observer {
	return newObserver(bolt.New(bolt.NewJSONHandler(io.Discard)), false)
}

func newObserver(l *bolt.Logger, verbose bool) *Observer {
	if !verbose {
		l.SetLevel(bolt.WARN)
	}
	return &Observer{
		log:     l,
		metrics: NewMetrics(nil),
	}
}

// Log returns the underlying logger
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// Metrics returns the metric set.
func (o *Observer) Metrics() *Metrics {
	return o.metrics
}

// StartSpan starts a new OTel span
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes nothing today; the logger writes synchronously.
func (o *Observer) Close() error {
	return nil
}
