package requestor

import (
	"errors"
	"testing"

	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/config"
)

func newTestWsRequestor() *WsRequestor {
	cfg := &config.Config{WSQueueHighWaterMark: 1}
	return NewWsRequestor("AC123", "secret", "https://app.example", cfg, nil, nil, nil)
}

func TestWsRequestorClosedGracefullyDiscardsSend(t *testing.T) {
	w := newTestWsRequestor()
	w.closedGracefully = true

	err := w.send("msg-1", "call:status", map[string]any{}, nil)
	if !errors.Is(err, callerr.ErrClosedGracefully) {
		t.Fatalf("send() after graceful close = %v, want ErrClosedGracefully", err)
	}
	if len(w.queue) != 0 {
		t.Error("expected no frame to be queued after graceful close")
	}
}

func TestWsRequestorQueueOverflow(t *testing.T) {
	w := newTestWsRequestor()

	if err := w.send("msg-1", "verb:status", map[string]any{}, nil); err != nil {
		t.Fatalf("first queued send unexpectedly failed: %v", err)
	}
	if len(w.queue) != 1 {
		t.Fatalf("expected 1 queued message, got %d", len(w.queue))
	}

	err := w.send("msg-2", "verb:status", map[string]any{}, nil)
	if !errors.Is(err, callerr.ErrQueueOverflow) {
		t.Fatalf("second send at capacity = %v, want ErrQueueOverflow", err)
	}
}

func TestWsRequestorFailAllInFlightResolvesExactlyOnce(t *testing.T) {
	w := newTestWsRequestor()

	pending := &pendingRequest{resultCh: make(chan wsResult, 1)}
	w.inFlight["msg-1"] = pending

	w.failAllInFlight(callerr.ErrSessionTerminated)

	select {
	case res := <-pending.resultCh:
		if !errors.Is(res.err, callerr.ErrSessionTerminated) {
			t.Errorf("resolved error = %v, want ErrSessionTerminated", res.err)
		}
	default:
		t.Fatal("expected pending request to resolve after failAllInFlight")
	}

	if len(w.inFlight) != 0 {
		t.Error("expected inFlight table to be cleared")
	}
}
