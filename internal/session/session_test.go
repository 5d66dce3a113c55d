package session

import (
	"context"
	"testing"
	"time"

	"github.com/sebas/featureserver/internal/endpoint"
	"github.com/sebas/featureserver/internal/requestor"
	"github.com/sebas/featureserver/internal/task"
)

// recordingTask is a minimal task.Task that runs its scripted exec
// function, if any; Kill only records that it was called.
type recordingTask struct {
	name   string
	execFn func(s task.Session) error
	killed bool
}

func (r *recordingTask) Name() string                       { return r.name }
func (r *recordingTask) Preconditions() task.Precondition    { return task.PreconditionNone }
func (r *recordingTask) Kill(task.Session)                   { r.killed = true }
func (r *recordingTask) HandleCommand(requestor.Command) bool { return false }
func (r *recordingTask) Exec(ctx context.Context, s task.Session, ep endpoint.Endpoint) error {
	if r.execFn != nil {
		return r.execFn(s)
	}
	return nil
}

// noopRequestor never expects to be driven by the real transport in
// these tests; only Close/Request are exercised.
type noopRequestor struct {
	requests []string
	closed   bool
}

func (n *noopRequestor) Request(ctx context.Context, msgType string, hook requestor.Hook, params map[string]any) (any, error) {
	n.requests = append(n.requests, msgType)
	return nil, nil
}
func (n *noopRequestor) Close() error                        { n.closed = true; return nil }
func (n *noopRequestor) OnHandover(func(requestor.Requestor)) {}
func (n *noopRequestor) OnCommand(func(requestor.Command))    {}
func (n *noopRequestor) OnConnectionDropped(func())           {}

func TestRunExecutesTasksInOrder(t *testing.T) {
	var order []string
	first := &recordingTask{name: "first", execFn: func(task.Session) error {
		order = append(order, "first")
		return nil
	}}
	second := &recordingTask{name: "second", execFn: func(task.Session) error {
		order = append(order, "second")
		return nil
	}}

	s := New(Config{
		CallID:    "call-1",
		Requestor: &noopRequestor{},
		Tasks:     []task.Task{first, second},
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("unexpected execution order: %v", order)
	}
}

func TestReplaceApplicationBumpsEpochAndKillsCurrent(t *testing.T) {
	var killTarget *recordingTask
	killTarget = &recordingTask{name: "blocked", execFn: func(s task.Session) error {
		// Replace the application from within the running task, the way
		// a redirect verb would; ReplaceApplication kills this task before
		// it returns, so the task then returns as a killed task would.
		s.ReplaceApplication([]task.Task{&recordingTask{name: "next"}})
		if !killTarget.killed {
			<-time.After(2 * time.Second)
		}
		return nil
	}}

	s := New(Config{
		CallID:    "call-1",
		Requestor: &noopRequestor{},
		Tasks:     []task.Task{killTarget},
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not complete after application replacement killed the blocked task")
	}

	if s.ApplicationEpoch() != 1 {
		t.Errorf("ApplicationEpoch() = %d, want 1", s.ApplicationEpoch())
	}
	if !killTarget.killed {
		t.Error("expected ReplaceApplication to kill the running task")
	}
}

func TestTeardownSendsCallStatusAndClosesRequestor(t *testing.T) {
	req := &noopRequestor{}
	s := New(Config{
		CallID:    "call-1",
		Requestor: req,
		Tasks:     nil,
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	found := false
	for _, msgType := range req.requests {
		if msgType == "call:status" {
			found = true
		}
	}
	if !found {
		t.Error("expected teardown to send a call:status message")
	}
	if !req.closed {
		t.Error("expected teardown to close the requestor")
	}
}
