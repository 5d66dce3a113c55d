// Package session implements the CallSession interpreter: the per-call
// state machine that owns a media-server endpoint, drives a task list to
// completion, applies application replacements, dispatches inbound WS
// commands, and guarantees resource teardown exactly once.
package session

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/dialog"
	"github.com/sebas/featureserver/internal/endpoint"
	"github.com/sebas/featureserver/internal/requestor"
	"github.com/sebas/featureserver/internal/task"
	"github.com/sebas/featureserver/internal/telemetry"
)

// state is the session's coarse lifecycle phase.
type state int

const (
	stateRunning state = iota
	stateEnding
	stateEnded
)

// CallSession is the interpreter loop for one call: it owns the current
// task, the active requestor, and the endpoint allocated on first use.
type CallSession struct {
	mu sync.Mutex

	callID     string
	accountSID string
	handle     *dialog.Handle

	req requestor.Requestor
	ep  endpoint.Endpoint
	reg *task.Registry
	log *slog.Logger
	tel *telemetry.Collector

	current task.Task
	tasks   []task.Task

	applicationEpoch uint64

	state            state
	tmpFiles         []string
	allocateEndpoint func(ctx context.Context) (endpoint.Endpoint, error)

	// muted/audioPaused are the session-level audio state mute/unmute
	// and pause/resume commands fall back to when the current task
	// doesn't implement the capability itself.
	muted       bool
	audioPaused bool
}

// Config carries everything needed to construct a CallSession.
type Config struct {
	CallID           string
	AccountSID       string
	Handle           *dialog.Handle
	Requestor        requestor.Requestor
	Registry         *task.Registry
	Logger           *slog.Logger
	Telemetry        *telemetry.Collector
	Tasks            []task.Task
	AllocateEndpoint func(ctx context.Context) (endpoint.Endpoint, error)
}

// New constructs a CallSession ready to run. Call Run to execute it.
func New(cfg Config) *CallSession {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registry == nil {
		cfg.Registry = task.DefaultRegistry()
	}
	s := &CallSession{
		callID:           cfg.CallID,
		accountSID:       cfg.AccountSID,
		handle:           cfg.Handle,
		reg:              cfg.Registry,
		log:              cfg.Logger,
		tel:              cfg.Telemetry,
		tasks:            cfg.Tasks,
		allocateEndpoint: cfg.AllocateEndpoint,
	}
	if cfg.Requestor != nil {
		s.SetRequestor(cfg.Requestor)
	}
	return s
}

// CallID, AccountSID, ApplicationEpoch, Requestor, IsTerminated, and
// TrackTmpFile implement task.Session.
func (s *CallSession) CallID() string     { return s.callID }
func (s *CallSession) AccountSID() string { return s.accountSID }

func (s *CallSession) ApplicationEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applicationEpoch
}

func (s *CallSession) Requestor() requestor.Requestor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.req
}

func (s *CallSession) IsTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateEnded || s.state == stateEnding
}

func (s *CallSession) TrackTmpFile(path string) {
	if path == "" {
		return
	}
	s.mu.Lock()
	s.tmpFiles = append(s.tmpFiles, path)
	s.mu.Unlock()
}

// ReplaceApplication kills the current task, discards the remaining task
// list, installs newTasks, and bumps applicationEpoch so stale hook
// replies are ignored on arrival. command:redirect, action-hook
// redirects, and event-hook redirects all funnel through here.
func (s *CallSession) ReplaceApplication(newTasks []task.Task) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()

	if current != nil {
		current.Kill(s)
	}

	s.mu.Lock()
	s.tasks = newTasks
	s.applicationEpoch++
	s.mu.Unlock()
}

// appendTasks implements queueCommand=true: the new tasks are appended
// after the current queue rather than replacing it.
func (s *CallSession) appendTasks(newTasks []task.Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, newTasks...)
	s.mu.Unlock()
}

// SetRequestor installs a new transport, used both at construction and
// on a handover. onHandover/onCommand/onConnectionDropped are wired here
// so every requestor the session ever uses reports back to it.
func (s *CallSession) SetRequestor(r requestor.Requestor) {
	r.OnHandover(s.SetRequestor)
	r.OnCommand(s.dispatchCommand)
	r.OnConnectionDropped(func() {
		if s.log != nil {
			s.log.Warn("requestor connection dropped", "call_id", s.callID)
		}
	})

	s.mu.Lock()
	s.req = r
	s.mu.Unlock()
}

// Run is the interpreter's main loop: shift a task, satisfy its
// preconditions, run it to completion, then apply any pending
// application replacement before continuing. It returns once the task
// list is exhausted or the session ends, and always tears down.
func (s *CallSession) Run(ctx context.Context) error {
	defer s.teardown(ctx)

	for {
		s.mu.Lock()
		if len(s.tasks) == 0 || s.state != stateRunning {
			s.mu.Unlock()
			return nil
		}
		t := s.tasks[0]
		s.tasks = s.tasks[1:]
		s.current = t
		s.mu.Unlock()

		ep, err := s.ensurePrecondition(ctx, t)
		if err != nil {
			var pe *callerr.PreconditionError
			if asPreconditionError(err, &pe) {
				s.log.Warn("task precondition not satisfied, skipping", "verb", t.Name(), "precondition", pe.Precondition)
				continue
			}
			return err
		}

		execErr := s.execTimed(ctx, t, ep)
		if execErr != nil {
			err := execErr
			var term *callerr.SessionTerminatedError
			if asSessionTerminatedError(err, &term) {
				s.beginEnding()
				return nil
			}
			s.log.Warn("task exec failed", "verb", t.Name(), "err", err)
			return err
		}
	}
}

func (s *CallSession) execTimed(ctx context.Context, t task.Task, ep endpoint.Endpoint) error {
	if s.tel == nil {
		return t.Exec(ctx, s, ep)
	}
	start := time.Now()
	err := t.Exec(ctx, s, ep)
	s.tel.TaskDuration.WithLabelValues(t.Name()).Observe(time.Since(start).Seconds())
	return err
}

func (s *CallSession) ensurePrecondition(ctx context.Context, t task.Task) (endpoint.Endpoint, error) {
	switch t.Preconditions() {
	case task.PreconditionNone, task.PreconditionUnansweredCall:
		return s.endpointIfAny(), nil
	case task.PreconditionStableCall:
		if s.handle == nil {
			return nil, &callerr.PreconditionError{Task: t.Name(), Precondition: string(task.PreconditionStableCall)}
		}
		return s.allocateEndpointOnce(ctx)
	case task.PreconditionEndpoint:
		return s.allocateEndpointOnce(ctx)
	default:
		return s.endpointIfAny(), nil
	}
}

func (s *CallSession) endpointIfAny() endpoint.Endpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep
}

func (s *CallSession) allocateEndpointOnce(ctx context.Context) (endpoint.Endpoint, error) {
	s.mu.Lock()
	if s.ep != nil {
		ep := s.ep
		s.mu.Unlock()
		return ep, nil
	}
	alloc := s.allocateEndpoint
	s.mu.Unlock()

	if alloc == nil {
		return nil, &callerr.PreconditionError{Task: "endpoint", Precondition: string(task.PreconditionEndpoint)}
	}
	ep, err := alloc(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.ep = ep
	s.mu.Unlock()
	return ep, nil
}

func (s *CallSession) beginEnding() {
	s.mu.Lock()
	if s.state == stateRunning {
		s.state = stateEnding
	}
	s.mu.Unlock()
}

// dispatchCommand routes one inbound WS command per the session's
// dispatch table: redirect, mute/unmute/pause/resume, hangup, or a
// verb-specific command handled by the current task.
func (s *CallSession) dispatchCommand(cmd requestor.Command) {
	switch cmd.Command {
	case "redirect":
		verbs, _ := cmd.Data["tasks"].([]any)
		tasks, err := s.reg.BuildTasks(verbs)
		if err != nil {
			s.log.Warn("redirect command with invalid tasks", "err", err)
			return
		}
		if cmd.QueueCommand {
			s.appendTasks(tasks)
			return
		}
		s.ReplaceApplication(tasks)
	case "hangup":
		s.beginEnding()
		s.mu.Lock()
		current := s.current
		s.mu.Unlock()
		if current != nil {
			current.Kill(s)
		}
	case "mute", "unmute", "pause", "resume":
		s.mu.Lock()
		current := s.current
		s.mu.Unlock()
		if current != nil && current.HandleCommand(cmd) {
			return
		}
		s.applyAudioState(cmd.Command)
	default:
		s.mu.Lock()
		current := s.current
		s.mu.Unlock()
		if current == nil || !current.HandleCommand(cmd) {
			s.replyUnhandledCommand(cmd)
		}
	}
}

// applyAudioState updates the session-level mute/pause flags consulted
// when the current task doesn't implement mute/unmute/pause/resume
// itself, and best-effort applies the change at the endpoint if one is
// allocated.
func (s *CallSession) applyAudioState(command string) {
	s.mu.Lock()
	switch command {
	case "mute":
		s.muted = true
	case "unmute":
		s.muted = false
	case "pause":
		s.audioPaused = true
	case "resume":
		s.audioPaused = false
	}
	ep := s.ep
	s.mu.Unlock()

	if ep != nil {
		if _, err := ep.API(context.Background(), command, nil); err != nil {
			s.log.Warn("session-level audio state command failed", "command", command, "err", err)
		}
	}
}

func (s *CallSession) replyUnhandledCommand(cmd requestor.Command) {
	r := s.Requestor()
	if r == nil {
		return
	}
	_, _ = r.Request(context.Background(), "jambonz:error", requestor.Hook{URL: ""}, map[string]any{
		"msgid": cmd.MsgID,
		"error": "command not handled: " + cmd.Command,
	})
}

// teardown runs the resource-lifecycle sequence on session end: kill the
// current task, release the endpoint once, delete tracked temp files,
// send a final call:status, then close the requestor. Every step is
// attempted even if an earlier one errors.
func (s *CallSession) teardown(ctx context.Context) {
	s.mu.Lock()
	s.state = stateEnded
	current := s.current
	ep := s.ep
	tmpFiles := s.tmpFiles
	req := s.req
	s.mu.Unlock()

	if current != nil {
		current.Kill(s)
	}

	if ep != nil {
		if err := ep.Release(ctx); err != nil {
			s.log.Warn("endpoint release failed", "call_id", s.callID, "err", err)
		}
	}

	for _, f := range tmpFiles {
		deleteTmpFile(s.log, f)
	}

	if req != nil {
		_, err := req.Request(context.Background(), "call:status", requestor.Hook{URL: ""}, map[string]any{
			"call_status": "completed",
			"call_sid":    s.callID,
		})
		if err != nil {
			s.log.Warn("final call:status failed", "call_id", s.callID, "err", err)
		}
		if err := req.Close(); err != nil {
			s.log.Warn("requestor close failed", "call_id", s.callID, "err", err)
		}
	}
}

func deleteTmpFile(log *slog.Logger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove temp file", "path", path, "err", err)
	}
}

func asPreconditionError(err error, target **callerr.PreconditionError) bool {
	pe, ok := err.(*callerr.PreconditionError)
	if ok {
		*target = pe
	}
	return ok
}

func asSessionTerminatedError(err error, target **callerr.SessionTerminatedError) bool {
	te, ok := err.(*callerr.SessionTerminatedError)
	if ok {
		*target = te
	}
	return ok
}
