package ingest

import (
	"context"
	"log"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

type pipelineMetrics struct {
	messages  otelmetric.Int64Counter
	persisted otelmetric.Int64Counter
	dropped   otelmetric.Int64Counter
	sinkFails otelmetric.Int64Counter
	runs      otelmetric.Int64Counter
}

func newPipelineMetrics(meter otelmetric.Meter, logger *log.Logger) *pipelineMetrics {
	if meter == nil {
		return nil
	}
	m := &pipelineMetrics{}
	var err error
	m.messages, err = meter.Int64Counter("swimctl_messages_found_total",
		otelmetric.WithDescription("Message spans found in ingested documents"))
	if err != nil {
		logger.Printf("[WARN] create messages counter failed: %v", err)
	}
	m.persisted, err = meter.Int64Counter("swimctl_records_persisted_total",
		otelmetric.WithDescription("Flight records the sink reported as stored"))
	if err != nil {
		logger.Printf("[WARN] create persisted counter failed: %v", err)
	}
	m.dropped, err = meter.Int64Counter("swimctl_records_dropped_total",
		otelmetric.WithDescription("Message units dropped before reaching the sink"))
	if err != nil {
		logger.Printf("[WARN] create dropped counter failed: %v", err)
	}
	m.sinkFails, err = meter.Int64Counter("swimctl_sink_failures_total",
		otelmetric.WithDescription("Sink calls that reported failure"))
	if err != nil {
		logger.Printf("[WARN] create sink failure counter failed: %v", err)
	}
	m.runs, err = meter.Int64Counter("swimctl_runs_total",
		otelmetric.WithDescription("Completed document runs"))
	if err != nil {
		logger.Printf("[WARN] create runs counter failed: %v", err)
	}
	return m
}

func (m *pipelineMetrics) record(ctx context.Context, res Result) {
	if m == nil {
		return
	}
	if m.runs != nil {
		m.runs.Add(ctx, 1)
	}
	if m.messages != nil {
		m.messages.Add(ctx, int64(res.MessagesFound))
	}
	if m.persisted != nil {
		m.persisted.Add(ctx, int64(res.RecordsPersisted))
	}
	if m.dropped != nil {
		m.dropped.Add(ctx, int64(res.ParseFailures), otelmetric.WithAttributes(attribute.String("reason", "parse")))
		m.dropped.Add(ctx, int64(res.Ineligible), otelmetric.WithAttributes(attribute.String("reason", "ineligible")))
	}
	if m.sinkFails != nil {
		m.sinkFails.Add(ctx, int64(res.SinkFailures))
	}
}
