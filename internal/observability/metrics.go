package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for spans started by the services.
const TracerName = "github.com/tbourn/homework-tutor-backend"

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer { return otel.Tracer(TracerName) }

// Domain collectors. Label values are closed sets chosen by the callers.
var (
	// LLMTokens counts provider-reported tokens across unary and streaming calls.
	LLMTokens = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Total tokens reported by the LLM provider.",
	})

	// LLMRequests counts provider calls by mode (unary|stream) and outcome (ok|error|truncated).
	LLMRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_requests_total",
		Help: "LLM provider calls by mode and outcome.",
	}, []string{"mode", "outcome"})

	// StreamKeepalives counts synthetic keepalive events sent to clients.
	StreamKeepalives = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stream_keepalives_total",
		Help: "Keepalive events emitted during provider silence.",
	})

	// Corrections counts correction runs by outcome (ok|retried|unparseable|upstream).
	Corrections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "corrections_total",
		Help: "Homework correction runs by outcome.",
	}, []string{"outcome"})

	// MistakesCreated counts materialized mistake records by source kind.
	MistakesCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mistakes_created_total",
		Help: "Mistake records created by source kind.",
	}, []string{"source"})

	// OCRAttempts counts OCR engine calls by recognition kind and outcome.
	OCRAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ocr_attempts_total",
		Help: "OCR attempts by recognition kind and outcome.",
	}, []string{"kind", "outcome"})

	// HomeworkQueueDepth gauges submissions waiting for or in correction.
	HomeworkQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "homework_queue_depth",
		Help: "Homework submissions queued or being corrected.",
	})
)

func init() {
	prometheus.MustRegister(
		LLMTokens, LLMRequests, StreamKeepalives, Corrections,
		MistakesCreated, OCRAttempts, HomeworkQueueDepth,
	)
}
