package ingest

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/swimctl/swimctl/internal/flight"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// DefaultPreviewCount is how many normalized records are logged per run.
const DefaultPreviewCount = 3

// Sink durably stores one flight record and reports whether it succeeded.
// Implementations log their own failures.
type Sink interface {
	Persist(ctx context.Context, rec *flight.Record) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec *flight.Record) bool

// Persist calls f.
func (f SinkFunc) Persist(ctx context.Context, rec *flight.Record) bool { return f(ctx, rec) }

// Publisher receives records after they were persisted. Publish errors never
// change the persistence outcome.
type Publisher interface {
	PublishFlight(ctx context.Context, runID string, rec *flight.Record) error
}

// Result summarises one document run.
type Result struct {
	RunID            string `json:"run_id"`
	MessagesFound    int    `json:"messages_found"`
	RecordsPersisted int    `json:"records_persisted"`
	ParseFailures    int    `json:"parse_failures"`
	Ineligible       int    `json:"ineligible"`
	SinkFailures     int    `json:"sink_failures"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithPublisher forwards persisted records to pub.
func WithPublisher(pub Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithPreviewCount sets how many normalized records are logged per run.
func WithPreviewCount(n int) Option {
	return func(p *Pipeline) {
		if n >= 0 {
			p.preview = n
		}
	}
}

// WithMeter records pipeline counters on meter.
func WithMeter(meter otelmetric.Meter) Option {
	return func(p *Pipeline) { p.metrics = newPipelineMetrics(meter, p.logger) }
}

// WithTracer sets the tracer used for run spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

// Pipeline runs Extract -> Normalize -> Sink over one document at a time.
// It holds no per-document state and may be reused.
type Pipeline struct {
	logger    *log.Logger
	sink      Sink
	publisher Publisher
	preview   int
	metrics   *pipelineMetrics
	tracer    trace.Tracer
}

// NewPipeline constructs a Pipeline writing eligible records to sink.
func NewPipeline(logger *log.Logger, sink Sink, opts ...Option) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	p := &Pipeline{
		logger:  logger,
		sink:    sink,
		preview: DefaultPreviewCount,
		tracer:  noop.NewTracerProvider().Tracer("ingest"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes every message unit of document in order. Units that fail to
// parse, and records without a callsign, are dropped. A sink failure only
// affects its own record. The counts are returned once the document is
// exhausted.
func (p *Pipeline) Run(ctx context.Context, document string) Result {
	res := Result{RunID: uuid.NewString()}
	ctx, span := p.tracer.Start(ctx, "ingest.run", trace.WithAttributes(attribute.String("run_id", res.RunID)))
	defer span.End()

	for unit := range flight.Extract(document) {
		i := res.MessagesFound
		res.MessagesFound++

		rec, ok := flight.Normalize(unit)
		if i < p.preview {
			p.logger.Printf("[DEBUG] Message %d parsed: %s", i, rec)
		}
		if !ok {
			res.ParseFailures++
			continue
		}
		if !rec.Eligible() {
			res.Ineligible++
			continue
		}
		if !p.sink.Persist(ctx, rec) {
			res.SinkFailures++
			continue
		}
		res.RecordsPersisted++
		p.logger.Printf("[%d] %s - %s → %s", res.RecordsPersisted, flight.Deref(rec.Callsign), flight.Deref(rec.Departure), flight.Deref(rec.Arrival))

		if p.publisher != nil {
			if err := p.publisher.PublishFlight(ctx, res.RunID, rec); err != nil {
				p.logger.Printf("[WARN] publish %s: %v", flight.Deref(rec.Callsign), err)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("messages_found", res.MessagesFound),
		attribute.Int("records_persisted", res.RecordsPersisted),
	)
	p.metrics.record(ctx, res)
	return res
}
