// Package metrics exposes the orchestrator's Prometheus instrumentation:
// gate selections, subgraph outcomes, backend/LLM call
// latency, circuit-breaker state, and OCC conflict/retry counts. Served
// on METRICS_PORT via promhttp.Handler.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Registry bundles every metric the orchestrator records, constructed
// once at process startup and threaded through the engine, router,
// backend adapter, and LLM gateway call sites. Alongside the Prometheus
// instrumentation it carries a Tracer for per-turn spans and a Meter for
// the OTel SDK an operator wires in via otel.SetTracerProvider/
// SetMeterProvider — with no provider configured both fall back to the
// no-op implementation, so this package never forces an exporter choice.
type Registry struct {
	GateSelections      *prometheus.CounterVec
	SubgraphOutcomes    *prometheus.CounterVec
	BackendCallDuration *prometheus.HistogramVec
	BackendCircuitState *prometheus.GaugeVec
	LLMCallDuration     *prometheus.HistogramVec
	LLMMalformedJSON    *prometheus.CounterVec
	OCCConflicts        *prometheus.CounterVec
	OCCRetries          prometheus.Counter
	LockDenied          prometheus.Counter

	Tracer     trace.Tracer
	TurnsTotal metric.Int64Counter
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	tracer := otel.Tracer("github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/engine")
	turnsTotal, err := otel.Meter("github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/engine").
		Int64Counter("orchestrator.turns", metric.WithDescription("Count of engine turns by outcome code."))
	if err != nil {
		// The no-op meter never errors; a non-nil error here only happens
		// with a misconfigured SDK provider, in which case turn counting
		// is simply skipped rather than failing process startup.
		turnsTotal = nil
	}

	m := &Registry{
		Tracer:     tracer,
		TurnsTotal: turnsTotal,
		GateSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "gate_selections_total",
			Help:      "Count of router gate selections by subgraph and reason.",
		}, []string{"subgraph", "reason"}),
		SubgraphOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "subgraph_outcomes_total",
			Help:      "Count of subgraph outcomes by subgraph and outcome code.",
		}, []string{"subgraph", "outcome_code"}),
		BackendCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "backend_call_duration_seconds",
			Help:      "Backend adapter call latency by endpoint and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint", "outcome"}),
		BackendCircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "orchestrator",
			Name:      "backend_circuit_state",
			Help:      "Circuit breaker state by name (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
		LLMCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orchestrator",
			Name:      "llm_call_duration_seconds",
			Help:      "LLM gateway call latency by call name and provider.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"call", "provider"}),
		LLMMalformedJSON: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "llm_malformed_json_total",
			Help:      "Count of LLM responses that failed JSON validation by call name.",
		}, []string{"call"}),
		OCCConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "occ_conflicts_total",
			Help:      "Count of optimistic-concurrency conflicts on session save, by outcome.",
		}, []string{"outcome"}),
		OCCRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "occ_retries_total",
			Help:      "Count of OCC retry-loop iterations across all sessions.",
		}),
		LockDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orchestrator",
			Name:      "lock_denied_total",
			Help:      "Count of per-session lock acquisitions that exhausted their retry budget.",
		}),
	}

	reg.MustRegister(
		m.GateSelections,
		m.SubgraphOutcomes,
		m.BackendCallDuration,
		m.BackendCircuitState,
		m.LLMCallDuration,
		m.LLMMalformedJSON,
		m.OCCConflicts,
		m.OCCRetries,
		m.LockDenied,
	)
	return m
}

// RecordTurn increments the OTel turn counter with outcomeCode as an
// attribute, alongside whatever the Prometheus SubgraphOutcomes counter
// already records. A nil TurnsTotal (construction failure against a
// misconfigured SDK provider) makes this a no-op.
func (m *Registry) RecordTurn(ctx context.Context, outcomeCode string) {
	if m.TurnsTotal == nil {
		return
	}
	m.TurnsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome_code", outcomeCode)))
}

// Handler returns the promhttp handler to mount on METRICS_PORT.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
