// Package telemetry holds the OpenTelemetry instruments shared by the
// scheduler and the protection facade. Only the API is used; without an SDK
// installed by the binary every instrument is a no-op.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "tickbridge.ai"

type Instruments struct {
	tasksSubmitted  metric.Int64Counter
	tasksCompleted  metric.Int64Counter
	drainDuration   metric.Float64Histogram
	backlog         metric.Int64Gauge
	providerQueries metric.Int64Counter
	providerLatency metric.Float64Histogram
}

var (
	defaultOnce sync.Once
	defaultInst *Instruments
)

// Default returns instruments bound to the global meter provider, falling
// back to no-op instruments if registration fails.
func Default() *Instruments {
	defaultOnce.Do(func() {
		inst, err := New(otel.Meter(instrumentationName))
		if err != nil {
			inst, _ = New(noop.NewMeterProvider().Meter(instrumentationName))
		}
		defaultInst = inst
	})
	return defaultInst
}

func New(meter metric.Meter) (*Instruments, error) {
	var (
		i   Instruments
		err error
	)
	if i.tasksSubmitted, err = meter.Int64Counter("tickbridge.tasks.submitted",
		metric.WithDescription("Tasks accepted by the scheduler"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if i.tasksCompleted, err = meter.Int64Counter("tickbridge.tasks.completed",
		metric.WithDescription("Tasks resolved, by result"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if i.drainDuration, err = meter.Float64Histogram("tickbridge.drain.duration",
		metric.WithDescription("Time spent in the tick barrier"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05)); err != nil {
		return nil, err
	}
	if i.backlog, err = meter.Int64Gauge("tickbridge.drain.backlog",
		metric.WithDescription("Authoritative tasks left after a drain"),
		metric.WithUnit("{task}")); err != nil {
		return nil, err
	}
	if i.providerQueries, err = meter.Int64Counter("tickbridge.provider.queries",
		metric.WithDescription("Protection provider calls, by result"),
		metric.WithUnit("{query}")); err != nil {
		return nil, err
	}
	if i.providerLatency, err = meter.Float64Histogram("tickbridge.provider.latency",
		metric.WithDescription("Protection provider call latency"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return &i, nil
}

func (i *Instruments) TaskSubmitted(ctx context.Context, kind string) {
	i.tasksSubmitted.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (i *Instruments) TaskCompleted(ctx context.Context, kind, result string) {
	i.tasksCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("result", result),
	))
}

func (i *Instruments) DrainObserved(ctx context.Context, elapsed time.Duration, remaining int) {
	i.drainDuration.Record(ctx, elapsed.Seconds())
	i.backlog.Record(ctx, int64(remaining))
}

func (i *Instruments) ProviderQueried(ctx context.Context, provider, result string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("result", result),
	)
	i.providerQueries.Add(ctx, 1, attrs)
	i.providerLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// Tracer is the tracer used for protection query spans.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}
