package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDomainCollectors_Registered(t *testing.T) {
	// touch vectors so they export at least one series
	LLMRequests.WithLabelValues("stream", "ok")
	Corrections.WithLabelValues("ok")
	MistakesCreated.WithLabelValues("qa")
	OCRAttempts.WithLabelValues("general", "ok")

	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	got := map[string]bool{}
	for _, mf := range mfs {
		got[mf.GetName()] = true
	}
	for _, name := range []string{
		"llm_tokens_total", "llm_requests_total", "stream_keepalives_total",
		"corrections_total", "mistakes_created_total", "ocr_attempts_total", "homework_queue_depth",
	} {
		if !got[name] {
			t.Fatalf("collector %s not registered", name)
		}
	}
}

func TestDomainCollectors_Count(t *testing.T) {
	before := testutil.ToFloat64(LLMTokens)
	LLMTokens.Add(42)
	if d := testutil.ToFloat64(LLMTokens) - before; d != 42 {
		t.Fatalf("llm_tokens_total delta = %v; want 42", d)
	}

	HomeworkQueueDepth.Inc()
	HomeworkQueueDepth.Dec()
	if v := testutil.ToFloat64(HomeworkQueueDepth); v != 0 {
		t.Fatalf("homework_queue_depth = %v; want 0", v)
	}

	if Tracer() == nil {
		t.Fatalf("nil tracer")
	}
}
