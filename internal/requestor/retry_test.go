package requestor

import (
	"testing"

	"github.com/sebas/featureserver/internal/callerr"
)

func TestParseRetryFragmentClampsCount(t *testing.T) {
	cases := []struct {
		fragment string
		wantRC   int
	}{
		{"rc=3", 3},
		{"rc=0", 1},
		{"rc=-2", 2},
		{"rc=99", 5},
		{"", 1},
	}

	for _, tc := range cases {
		got := ParseRetryFragment(tc.fragment)
		if got.Count != tc.wantRC {
			t.Errorf("ParseRetryFragment(%q).Count = %d, want %d", tc.fragment, got.Count, tc.wantRC)
		}
	}
}

func TestParseRetryFragmentTokens(t *testing.T) {
	got := ParseRetryFragment("rp=5xx,ct&rc=3")
	want := []string{"5xx", "ct"}
	if len(got.Tokens) != len(want) {
		t.Fatalf("Tokens = %v, want %v", got.Tokens, want)
	}
	for i, tok := range want {
		if got.Tokens[i] != tok {
			t.Errorf("Tokens[%d] = %q, want %q", i, got.Tokens[i], tok)
		}
	}
}

func TestShouldRetryMatchesStatusClass(t *testing.T) {
	policy := RetryPolicy{Tokens: []string{"5xx"}, Count: 3}

	if !ShouldRetry(&callerr.HTTPStatusError{StatusCode: 503}, policy) {
		t.Error("expected 503 to match 5xx token")
	}
	if ShouldRetry(&callerr.HTTPStatusError{StatusCode: 404}, policy) {
		t.Error("expected 404 not to match 5xx token")
	}
}

func TestShouldRetryAllMatchesAnyError(t *testing.T) {
	policy := RetryPolicy{Tokens: []string{"all"}, Count: 1}
	if !ShouldRetry(&callerr.ResponseTimeoutError{MsgID: "x"}, policy) {
		t.Error("expected all token to match response-timeout error")
	}
}

func TestBackoffIncreasesWithAttempt(t *testing.T) {
	first := Backoff(1)
	second := Backoff(2)
	third := Backoff(3)

	if first >= second || second >= third {
		t.Fatalf("expected strictly increasing backoff, got %v, %v, %v", first, second, third)
	}
}
