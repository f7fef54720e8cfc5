package streams

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

var (
	streamMetricsOnce sync.Once
	flightsPublished  otelmetric.Int64Counter
)

func initStreamMetrics() {
	meter := otel.Meter("swimctl/queue/streams")
	var err error
	flightsPublished, err = meter.Int64Counter(
		"swimctl_flights_published_total",
		otelmetric.WithDescription("Flight records published to redis streams"),
	)
	if err != nil {
		log.Printf("queue streams metrics init: swimctl_flights_published_total: %v", err)
	}
}

func recordPublished(ctx context.Context, stream string) {
	streamMetricsOnce.Do(initStreamMetrics)
	if flightsPublished == nil {
		return
	}
	flightsPublished.Add(contextOrBackground(ctx), 1, otelmetric.WithAttributes(attribute.String("stream", stream)))
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
