package requestor

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sebas/featureserver/internal/callerr"
)

// RetryPolicy is a per-hook override parsed from a URL's #-fragment,
// e.g. "#rp=5xx,ct&rc=3". Tokens recognized: ct (connect/transport),
// rt (response timeout), 4xx, 5xx, all.
type RetryPolicy struct {
	Tokens []string
	Count  int
}

// DefaultRetryPolicy is used when a hook carries no #rp/#rc fragment:
// retry connect-timeout/transport errors only, up to 1 attempt (no
// retry) unless the caller asked for more via #rc.
var DefaultRetryPolicy = RetryPolicy{Tokens: []string{"ct"}, Count: 1}

// ParseRetryFragment parses a URL fragment's rp/rc query-style options.
// Unknown options are ignored. rc is clamped to [1,5].
func ParseRetryFragment(fragment string) RetryPolicy {
	policy := DefaultRetryPolicy
	if fragment == "" {
		return policy
	}

	values, err := url.ParseQuery(fragment)
	if err != nil {
		return policy
	}

	if rp := values.Get("rp"); rp != "" {
		tokens := strings.Split(rp, ",")
		for i, t := range tokens {
			tokens[i] = strings.TrimSpace(t)
		}
		policy.Tokens = tokens
	}

	if rc := values.Get("rc"); rc != "" {
		if n, err := strconv.Atoi(rc); err == nil {
			policy.Count = clampRetryCount(n)
		}
	}

	return policy
}

func clampRetryCount(n int) int {
	if n < 0 {
		n = -n
	}
	if n < 1 {
		return 1
	}
	if n > 5 {
		return 5
	}
	return n
}

// ShouldRetry reports whether err's class matches any token in the
// policy. "all" matches everything retryable.
func ShouldRetry(err error, policy RetryPolicy) bool {
	for _, tok := range policy.Tokens {
		if tok == "all" {
			return true
		}
		if tokenMatches(err, tok) {
			return true
		}
	}
	return false
}

func tokenMatches(err error, token string) bool {
	switch token {
	case "ct":
		var te *callerr.TransportError
		var he *callerr.HandshakeError
		return errors.As(err, &te) || errors.As(err, &he)
	case "rt":
		var rte *callerr.ResponseTimeoutError
		return errors.As(err, &rte)
	case "4xx", "5xx":
		var se *callerr.HTTPStatusError
		if !errors.As(err, &se) {
			return false
		}
		return se.Class() == token
	default:
		return false
	}
}

// Backoff computes the exponential backoff curve: 500ms, doubling each
// step until it reaches 2000ms, then +2000ms per further step (500ms,
// 1s, 2s, 4s, 6s, ...). attempt is 1-indexed: Backoff(1) is the delay
// before the first retry.
func Backoff(attempt int) time.Duration {
	d := 500 * time.Millisecond
	for i := 1; i < attempt; i++ {
		if d < 2000*time.Millisecond {
			d *= 2
		} else {
			d += 2000 * time.Millisecond
		}
	}
	return d
}
