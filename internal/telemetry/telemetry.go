// Package telemetry provides the process-wide metrics registry and
// tracer used by the requestor and session layers: hook latency and task
// duration histograms, retry/reconnect counters, and one tracing span
// per outbound hook call. Task exec is timed by TaskDuration but not
// traced.
package telemetry

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Collector bundles the shared, append-only counters and histograms.
// A single Collector is constructed at process start and injected into
// every CallSession and Requestor; tests construct their own to avoid
// cross-test registration collisions.
type Collector struct {
	HookLatency   *prometheus.HistogramVec
	TaskDuration  *prometheus.HistogramVec
	HookRetries   *prometheus.CounterVec
	WSReconnects  prometheus.Counter
	tracer        trace.Tracer
}

// New builds a Collector and registers its metrics against reg. Pass
// prometheus.NewRegistry() in tests; pass prometheus.DefaultRegisterer
// in production to expose via the standard /metrics endpoint.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		HookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "featureserver",
			Name:      "hook_duration_seconds",
			Help:      "Round-trip latency of a webhook/command request, by hook type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type", "transport"}),
		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "featureserver",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock duration of a task's exec call, by verb.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"verb"}),
		HookRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "featureserver",
			Name:      "hook_retries_total",
			Help:      "Count of webhook retry attempts, by hook type and transport.",
		}, []string{"type", "transport"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "featureserver",
			Name:      "ws_reconnects_total",
			Help:      "Count of WebSocket requestor reconnect attempts.",
		}),
		tracer: otel.Tracer("github.com/sebas/featureserver"),
	}

	reg.MustRegister(c.HookLatency, c.TaskDuration, c.HookRetries, c.WSReconnects)
	return c
}

// StartSpan opens a span named name as a child of ctx, returning the
// derived context to thread through the remainder of the operation.
func (c *Collector) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name)
}

// B3Header renders ctx's current span context as a single-header b3
// value ("traceid-spanid-sampled"), the tracing header carried verbatim
// on both the HTTP requestor's headers and the WS requestor's frame
// data. Returns "" if ctx carries no valid span.
func B3Header(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	sampled := "0"
	if sc.IsSampled() {
		sampled = "1"
	}
	return sc.TraceID().String() + "-" + sc.SpanID().String() + "-" + sampled
}
