package task

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/requestor"
)

// fakeRequestor returns a canned response to every Request call.
type fakeRequestor struct {
	response any
	err      error
	calls    int
}

func (f *fakeRequestor) Request(ctx context.Context, msgType string, hook requestor.Hook, params map[string]any) (any, error) {
	f.calls++
	return f.response, f.err
}
func (f *fakeRequestor) Close() error                               { return nil }
func (f *fakeRequestor) OnHandover(func(requestor.Requestor))        {}
func (f *fakeRequestor) OnCommand(func(requestor.Command))           {}
func (f *fakeRequestor) OnConnectionDropped(func())                  {}

// fakeSession is a minimal task.Session for unit tests.
type fakeSession struct {
	epoch       uint64
	req         requestor.Requestor
	replaced    []Task
	bumpOnReplace bool
}

func (s *fakeSession) CallID() string            { return "call-1" }
func (s *fakeSession) AccountSID() string        { return "AC123" }
func (s *fakeSession) ApplicationEpoch() uint64   { return s.epoch }
func (s *fakeSession) ReplaceApplication(t []Task) {
	s.replaced = t
	if s.bumpOnReplace {
		s.epoch++
	}
}
func (s *fakeSession) Requestor() requestor.Requestor { return s.req }
func (s *fakeSession) IsTerminated() bool             { return false }
func (s *fakeSession) TrackTmpFile(string)            {}

func TestPerformActionAppliesVerbArrayResponse(t *testing.T) {
	fr := &fakeRequestor{response: []any{map[string]any{"verb": "hangup"}}}
	sess := &fakeSession{req: fr, bumpOnReplace: true}
	hook := &requestor.Hook{URL: "https://app.example/a"}

	if err := performAction(context.Background(), sess, DefaultRegistry(), hook, "say", map[string]any{}); err != nil {
		t.Fatalf("performAction failed: %v", err)
	}
	if len(sess.replaced) != 1 || sess.replaced[0].Name() != "hangup" {
		t.Fatalf("expected replacement with one hangup task, got %+v", sess.replaced)
	}
}

func TestPerformActionDiscardsStaleEpochResponse(t *testing.T) {
	fr := &fakeRequestor{response: []any{map[string]any{"verb": "hangup"}}}
	sess := &fakeSession{req: fr, epoch: 1}

	// Simulate the epoch having advanced while the hook request was in
	// flight: by the time Request returns, ApplicationEpoch() must read
	// differently from what it was when the request started for this
	// path to discard. We fake that by bumping epoch inside the fake
	// requestor itself, before it returns its canned response.
	sess.req = requestorFunc(func(ctx context.Context, msgType string, hook requestor.Hook, params map[string]any) (any, error) {
		sess.epoch++
		return fr.response, nil
	})

	hook := &requestor.Hook{URL: "https://app.example/a"}
	if err := performAction(context.Background(), sess, DefaultRegistry(), hook, "say", map[string]any{}); err != nil {
		t.Fatalf("performAction failed: %v", err)
	}
	if sess.replaced != nil {
		t.Fatalf("expected stale-epoch response to be discarded, got replacement %+v", sess.replaced)
	}
}

func TestPerformActionSwallowsHookRequestError(t *testing.T) {
	fr := &fakeRequestor{err: &callerr.TransportError{Op: "ws write", Cause: context.DeadlineExceeded}}
	sess := &fakeSession{req: fr}
	hook := &requestor.Hook{URL: "https://app.example/a"}

	if err := performAction(context.Background(), sess, DefaultRegistry(), hook, "say", map[string]any{}); err != nil {
		t.Fatalf("performAction should swallow a rejected hook, got %v", err)
	}
	if sess.replaced != nil {
		t.Fatalf("expected no application replacement, got %+v", sess.replaced)
	}
	if fr.calls != 1 {
		t.Fatalf("expected exactly one Request call, got %d", fr.calls)
	}
}

// requestorFunc adapts a function to the requestor.Requestor interface
// for tests that need to observe the moment Request is invoked.
type requestorFunc func(ctx context.Context, msgType string, hook requestor.Hook, params map[string]any) (any, error)

func (f requestorFunc) Request(ctx context.Context, msgType string, hook requestor.Hook, params map[string]any) (any, error) {
	return f(ctx, msgType, hook, params)
}
func (f requestorFunc) Close() error                        { return nil }
func (f requestorFunc) OnHandover(func(requestor.Requestor)) {}
func (f requestorFunc) OnCommand(func(requestor.Command))    {}
func (f requestorFunc) OnConnectionDropped(func())           {}

func TestHangupExecReturnsSessionTerminated(t *testing.T) {
	h, err := NewHangup(map[string]any{"reason": "caller_hangup"})
	if err != nil {
		t.Fatalf("NewHangup failed: %v", err)
	}

	err = h.Exec(context.Background(), &fakeSession{}, nil)
	var term *callerr.SessionTerminatedError
	if err == nil {
		t.Fatal("expected hangup to return a SessionTerminatedError")
	}
	if e, ok := err.(*callerr.SessionTerminatedError); !ok {
		t.Fatalf("Exec returned %T, want *callerr.SessionTerminatedError", err)
	} else {
		term = e
	}
	if term.Reason != "caller_hangup" {
		t.Errorf("Reason = %q, want %q", term.Reason, "caller_hangup")
	}
}

func TestPauseKillReturnsPromptly(t *testing.T) {
	p, err := NewPause(map[string]any{"length": 30})
	if err != nil {
		t.Fatalf("NewPause failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- p.Exec(context.Background(), &fakeSession{}, nil) }()

	time.Sleep(10 * time.Millisecond)
	p.Kill(&fakeSession{})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Exec did not return promptly after Kill")
	}
}
