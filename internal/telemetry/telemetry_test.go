package telemetry

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestInstrumentsOnNoopMeter(t *testing.T) {
	inst, err := New(noop.NewMeterProvider().Meter("test"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	inst.TaskSubmitted(ctx, "worker_safe")
	inst.TaskCompleted(ctx, "worker_safe", "ok")
	inst.DrainObserved(ctx, 3*time.Millisecond, 7)
	inst.ProviderQueried(ctx, "KariClaims", "block", time.Millisecond)
}

func TestDefaultIsShared(t *testing.T) {
	if Default() == nil || Default() != Default() {
		t.Fatalf("Default must return one shared instance")
	}
	_, span := Tracer().Start(context.Background(), "drain")
	span.End()
}
