package requestor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/featureserver/internal/alert"
	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/config"
	"github.com/sebas/featureserver/internal/telemetry"
)

// HttpRequestor delivers hook requests over plain HTTP(S), with a pooled
// keep-alive client per origin and an explicit retry/backoff loop that
// follows the hook's own #rp/#rc policy rather than resty's defaults.
type HttpRequestor struct {
	BaseRequestor

	pool   *Pool
	alerts alert.Emitter
}

// NewHttpRequestor builds an HTTP transport bound to accountSID/secret,
// resolving relative hook URLs against baseURL.
func NewHttpRequestor(accountSID, secret, baseURL string, cfg *config.Config, pool *Pool, tel *telemetry.Collector, alerts alert.Emitter, log *slog.Logger) *HttpRequestor {
	return &HttpRequestor{
		BaseRequestor: NewBase(accountSID, secret, baseURL, cfg, tel, log),
		pool:          pool,
		alerts:        alerts,
	}
}

// Request performs msgType against hook, snake-casing params (aside from
// the exception keys) and retrying per the resolved policy. A 2xx/202/204
// response with no body yields (nil, nil); a JSON body is parsed and
// returned so the caller can treat it as a new application (verb list).
func (h *HttpRequestor) Request(ctx context.Context, msgType string, hook Hook, params map[string]any) (any, error) {
	u, policy, err := h.ResolveHook(hook)
	if err != nil {
		return nil, err
	}

	if schemeIsWS(u) {
		ws := NewWsRequestor(h.AccountSID, h.Secret, h.BaseURL, h.Config, h.Telemetry, h.alerts, h.Log)
		ws.OnCommand(h.onCommand)
		ws.OnConnectionDropped(h.onConnectionDropped)
		h.fireHandover(ws)
		return ws.Request(ctx, msgType, hook, params)
	}
	if !schemeIsHTTP(u) {
		return nil, &callerr.ProtocolError{Reason: fmt.Sprintf("unsupported hook scheme %q", u.Scheme)}
	}

	body, err := json.Marshal(snakeCaseBody(params))
	if err != nil {
		return nil, &callerr.ProtocolError{Reason: "marshal request body", Cause: err}
	}

	client := h.pool.Get(u)

	var lastErr error
	maxAttempts := policy.Count
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(Backoff(attempt - 1)):
			}
			if h.Telemetry != nil {
				h.Telemetry.HookRetries.WithLabelValues(msgType, "http").Inc()
			}
		}

		result, err := h.doOnce(ctx, client, Method(hook), u, hook, body, msgType)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if msgType == "jambonz:error" {
			// Errors reporting a prior failure never themselves retry or alert.
			return nil, err
		}

		if !ShouldRetry(err, policy) || attempt == maxAttempts {
			break
		}
		if h.Log != nil {
			h.Log.Warn("webhook attempt failed, retrying", "url", u.String(), "attempt", attempt, "err", err)
		}
	}

	h.emitFailureAlert(ctx, u, lastErr)
	return nil, lastErr
}

func (h *HttpRequestor) doOnce(ctx context.Context, client *resty.Client, method string, u *url.URL, hook Hook, body []byte, msgType string) (any, error) {
	spanCtx := ctx
	if h.Telemetry != nil {
		var span trace.Span
		spanCtx, span = h.Telemetry.StartSpan(ctx, "webhook.http")
		defer span.End()
	}

	req := client.R().
		SetContext(spanCtx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)

	if sig := h.Signer.Sign(body); sig != "" {
		req.SetHeader("JB-Signature", sig)
	}
	if auth := BasicAuthHeader(hook); auth != "" {
		req.SetHeader("Authorization", auth)
	}
	if b3 := telemetry.B3Header(spanCtx); b3 != "" {
		req.SetHeader("b3", b3)
	}

	start := time.Now()
	resp, err := req.Execute(method, u.String())
	elapsed := time.Since(start)
	if h.Telemetry != nil {
		h.Telemetry.HookLatency.WithLabelValues(msgType, "http").Observe(elapsed.Seconds())
	}

	if err != nil {
		return nil, &callerr.TransportError{Op: method + " " + u.String(), Cause: err}
	}

	code := resp.StatusCode()
	switch {
	case code == 202 || code == 204:
		return nil, nil
	case code >= 200 && code < 300:
		if len(resp.Body()) == 0 {
			return nil, nil
		}
		var parsed any
		if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
			return nil, &callerr.ProtocolError{Reason: "parse webhook response", Cause: err}
		}
		return parsed, nil
	default:
		return nil, &callerr.HTTPStatusError{StatusCode: code, Body: string(resp.Body())}
	}
}

func (h *HttpRequestor) emitFailureAlert(ctx context.Context, u *url.URL, err error) {
	if h.alerts == nil || err == nil {
		return
	}
	kind := alert.WebhookStatusFailure
	if se, ok := err.(*callerr.HTTPStatusError); !ok || se == nil {
		kind = alert.WebhookConnectionFailure
	}
	h.alerts.Emit(ctx, kind, map[string]any{"url": u.String(), "error": err.Error()})
}

// Close is a no-op: the pooled client outlives any single HttpRequestor.
func (h *HttpRequestor) Close() error { return nil }
