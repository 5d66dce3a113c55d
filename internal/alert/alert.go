// Package alert emits user-visible reliability alerts. Alerts never block
// the call they describe: Emit fires the side effects on its own
// goroutine and returns immediately.
package alert

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// Kind enumerates the alert taxonomy named by the error-handling design.
type Kind string

const (
	WebhookConnectionFailure Kind = "WEBHOOK_CONNECTION_FAILURE"
	WebhookStatusFailure     Kind = "WEBHOOK_STATUS_FAILURE"
	InvalidAppPayload        Kind = "INVALID_APP_PAYLOAD"
	WebhookRetriesExceeded   Kind = "WEBHOOK_RETRIES_EXCEEDED"
)

// Emitter raises alerts for operational visibility. Implementations must
// not block the caller.
type Emitter interface {
	Emit(ctx context.Context, kind Kind, fields map[string]any)
}

var alertsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "featureserver",
		Name:      "alerts_total",
		Help:      "Count of alerts raised, by kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(alertsTotal)
}

// Logger is the default Emitter: it logs the alert and increments a
// Prometheus counter labeled by kind, both asynchronously.
type Logger struct {
	Log *slog.Logger
}

// New returns a Logger-backed Emitter using the given logger, or a
// process-default logger if nil.
func New(log *slog.Logger) *Logger {
	if log == nil {
		log = slog.Default()
	}
	return &Logger{Log: log}
}

// Emit logs the alert and bumps the counter on a fresh goroutine so a
// slow logging sink never stalls the call that triggered it.
func (l *Logger) Emit(ctx context.Context, kind Kind, fields map[string]any) {
	go func() {
		attrs := make([]any, 0, len(fields)*2+2)
		attrs = append(attrs, "kind", string(kind))
		for k, v := range fields {
			attrs = append(attrs, k, v)
		}
		l.Log.Warn("alert", attrs...)
		alertsTotal.WithLabelValues(string(kind)).Inc()
	}()
}
