// Package task implements the verb catalogue a CallSession interprets:
// the Task contract, its preconditions, the registry that builds a task
// list from a parsed application payload, and the concrete verbs
// themselves (Say, Play, Gather, Dial, Transcribe, Record, Pause,
// Redirect, Hangup).
package task

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/endpoint"
	"github.com/sebas/featureserver/internal/requestor"
)

// Precondition is what a CallSession must guarantee before a task's Exec
// is invoked.
type Precondition string

const (
	PreconditionNone           Precondition = "none"
	PreconditionStableCall     Precondition = "stable_call"
	PreconditionEndpoint       Precondition = "endpoint"
	PreconditionUnansweredCall Precondition = "unanswered_call"
)

// Session is the narrow view of a CallSession a Task needs: enough to
// post action/event hooks, trigger an application replacement, and read
// identity and epoch for staleness checks. The concrete CallSession
// (package session) implements this.
type Session interface {
	CallID() string
	AccountSID() string
	ApplicationEpoch() uint64
	ReplaceApplication(tasks []Task)
	Requestor() requestor.Requestor
	IsTerminated() bool
	TrackTmpFile(path string)
}

// Task is a single verb in an application's task list.
type Task interface {
	// Name returns the verb's registry key (e.g. "play", "dial").
	Name() string

	// Preconditions reports what the session must satisfy before Exec.
	Preconditions() Precondition

	// Exec runs the verb to completion or until Kill is called. The
	// caller awaits exactly this call before advancing to the next task.
	Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error

	// Kill is idempotent and must cause a blocked Exec to return promptly.
	Kill(session Session)

	// HandleCommand offers an inbound WS command to the task; it returns
	// true if the task consumed it (e.g. tts:flush while a Say is
	// playing), false if the session should handle or ignore it instead.
	HandleCommand(cmd requestor.Command) bool
}

// baseTask carries the fields every concrete verb needs: its hooks, its
// precondition, and the idempotent kill signal. Verbs embed it.
type baseTask struct {
	name          string
	precondition  Precondition
	eventHook     *requestor.Hook
	actionHook    *requestor.Hook
	killed        atomic.Bool
	doneCh        chan struct{}
}

func newBaseTask(name string, pre Precondition, eventHook, actionHook *requestor.Hook) baseTask {
	return baseTask{
		name:         name,
		precondition: pre,
		eventHook:    eventHook,
		actionHook:   actionHook,
		doneCh:       make(chan struct{}),
	}
}

func (b *baseTask) Name() string                  { return b.name }
func (b *baseTask) Preconditions() Precondition    { return b.precondition }
func (b *baseTask) HandleCommand(requestor.Command) bool { return false }

// killOnce closes doneCh exactly once, signaling any goroutine blocked
// in Exec to unwind. Exec implementations select on b.done().
func (b *baseTask) killOnce() {
	if b.killed.CompareAndSwap(false, true) {
		close(b.doneCh)
	}
}

func (b *baseTask) isKilled() bool { return b.killed.Load() }
func (b *baseTask) done() <-chan struct{} { return b.doneCh }

// performAction posts the task's actionHook (if any) with result plus
// standard call identifiers. A response that is a JSON array of verb
// nodes triggers an application replacement on session.
func performAction(ctx context.Context, session Session, reg *Registry, hook *requestor.Hook, verb string, result map[string]any) error {
	if hook == nil {
		return nil
	}
	return postAndMaybeReplace(ctx, session, reg, *hook, "verb:status", withCallIdentifiers(session, result, verb))
}

// performHook posts an event-hook with results; same replacement
// semantics as performAction but under the "verb:hook" message type.
func performHook(ctx context.Context, session Session, reg *Registry, hook *requestor.Hook, verb string, results map[string]any) error {
	if hook == nil {
		return nil
	}
	return postAndMaybeReplace(ctx, session, reg, *hook, "verb:hook", withCallIdentifiers(session, results, verb))
}

func withCallIdentifiers(session Session, result map[string]any, verb string) map[string]any {
	out := make(map[string]any, len(result)+3)
	for k, v := range result {
		out[k] = v
	}
	out["call_sid"] = session.CallID()
	out["account_sid"] = session.AccountSID()
	out["verb"] = verb
	return out
}

// postAndMaybeReplace posts body to hook and, on a verb-array response,
// replaces the session's application. A rejected hook never re-raises
// past the caller's Exec: it becomes a TaskError that is recorded and
// swallowed here, and the task simply completes so the session advances
// to its next task, per the hook error-propagation policy.
func postAndMaybeReplace(ctx context.Context, session Session, reg *Registry, hook requestor.Hook, msgType string, body map[string]any) error {
	verb, _ := body["verb"].(string)

	req := session.Requestor()
	if req == nil {
		return &callerr.SessionTerminatedError{Reason: "requestor unavailable"}
	}

	epoch := session.ApplicationEpoch()
	resp, err := req.Request(ctx, msgType, hook, body)
	if err != nil {
		taskErr := &callerr.TaskError{Verb: verb, Cause: err}
		slog.Default().Warn("hook request failed, continuing to next task",
			"verb", verb, "msg_type", msgType, "err", taskErr)
		return nil
	}
	if session.ApplicationEpoch() != epoch {
		// A newer application already superseded this one; discard.
		return nil
	}

	verbs, ok := resp.([]any)
	if !ok || len(verbs) == 0 {
		return nil
	}
	tasks, err := reg.BuildTasks(verbs)
	if err != nil {
		return err
	}
	session.ReplaceApplication(tasks)
	return nil
}
