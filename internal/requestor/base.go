package requestor

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/sebas/featureserver/internal/config"
	"github.com/sebas/featureserver/internal/telemetry"
	"log/slog"
)

// BaseRequestor holds the state common to HttpRequestor and WsRequestor:
// identity fixed at construction, URL resolution against a base URL, and
// the shared event callbacks. It is embedded, not used directly.
type BaseRequestor struct {
	AccountSID string
	Secret     string
	BaseURL    string

	Config    *config.Config
	Telemetry *telemetry.Collector
	Log       *slog.Logger
	Signer    Signer

	onHandover           func(Requestor)
	onCommand            func(Command)
	onConnectionDropped  func()
}

// NewBase builds a BaseRequestor. accountSID/secret/baseURL are fixed
// for the requestor's lifetime, including across a handover.
func NewBase(accountSID, secret, baseURL string, cfg *config.Config, tel *telemetry.Collector, log *slog.Logger) BaseRequestor {
	if log == nil {
		log = slog.Default()
	}
	return BaseRequestor{
		AccountSID: accountSID,
		Secret:     secret,
		BaseURL:    baseURL,
		Config:     cfg,
		Telemetry:  tel,
		Log:        log,
		Signer:     Signer{Secret: secret},
	}
}

func (b *BaseRequestor) OnHandover(fn func(Requestor))          { b.onHandover = fn }
func (b *BaseRequestor) OnCommand(fn func(Command))             { b.onCommand = fn }
func (b *BaseRequestor) OnConnectionDropped(fn func())          { b.onConnectionDropped = fn }

func (b *BaseRequestor) fireHandover(r Requestor) {
	if b.onHandover != nil {
		b.onHandover(r)
	}
}

func (b *BaseRequestor) fireCommand(c Command) {
	if b.onCommand != nil {
		b.onCommand(c)
	}
}

func (b *BaseRequestor) fireConnectionDropped() {
	if b.onConnectionDropped != nil {
		b.onConnectionDropped()
	}
}

// ResolveHook turns a Hook into an absolute *url.URL plus its parsed
// retry policy. A relative hook URL resolves against BaseURL.
func (b *BaseRequestor) ResolveHook(h Hook) (*url.URL, RetryPolicy, error) {
	raw := h.URL
	u, err := url.Parse(raw)
	if err != nil {
		return nil, RetryPolicy{}, fmt.Errorf("parse hook url %q: %w", raw, err)
	}

	if !u.IsAbs() {
		base, err := url.Parse(b.BaseURL)
		if err != nil {
			return nil, RetryPolicy{}, fmt.Errorf("parse base url %q: %w", b.BaseURL, err)
		}
		u = base.ResolveReference(u)
	}

	policy := ParseRetryFragment(u.Fragment)
	return u, policy, nil
}

// BasicAuthHeader returns the "Authorization: Basic ..." header value
// for a hook's credentials, or "" if none are set.
func BasicAuthHeader(h Hook) string {
	if h.Username == "" && h.Password == "" {
		return ""
	}
	raw := h.Username + ":" + h.Password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

// Method returns the hook's HTTP method, defaulting to POST.
func Method(h Hook) string {
	m := strings.ToUpper(strings.TrimSpace(h.Method))
	if m == "" {
		return "POST"
	}
	return m
}
