package task

import (
	"context"
	"time"

	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/endpoint"
)

// --- say --------------------------------------------------------------

type sayParams struct {
	Text   string `json:"text"`
	Loop   int    `json:"loop"`
	Synth  string `json:"synthesizer"`
}

// Say plays synthesized speech. Text synthesis itself is out of scope;
// the task treats Text as an already-resolved audio handle passed
// straight to the endpoint, consistent with the recording/TTS non-goals.
type Say struct {
	baseTask
	params sayParams
}

func NewSay(data map[string]any) (Task, error) {
	var p sayParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	return &Say{
		baseTask: newBaseTask("say", PreconditionStableCall, ParseHook(data, "eventHook"), ParseHook(data, "actionHook")),
		params:   p,
	}, nil
}

func (s *Say) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	done := make(chan error, 1)
	go func() { done <- ep.Play(ctx, s.params.Text) }()

	select {
	case err := <-done:
		if err != nil {
			return &callerr.TaskError{Verb: "say", Cause: err}
		}
		return performAction(ctx, session, DefaultRegistry(), s.actionHook, "say", map[string]any{"speech_completed": true})
	case <-s.done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Say) Kill(Session) { s.killOnce() }

// --- play ---------------------------------------------------------------

type playParams struct {
	URL  string `json:"url"`
	Loop int    `json:"loop"`
}

// Play plays a media file through the endpoint.
type Play struct {
	baseTask
	params playParams
}

func NewPlay(data map[string]any) (Task, error) {
	var p playParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	return &Play{
		baseTask: newBaseTask("play", PreconditionEndpoint, ParseHook(data, "eventHook"), ParseHook(data, "actionHook")),
		params:   p,
	}, nil
}

func (p *Play) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	done := make(chan error, 1)
	go func() { done <- ep.Play(ctx, p.params.URL) }()

	select {
	case err := <-done:
		if err != nil {
			return &callerr.TaskError{Verb: "play", Cause: err}
		}
		return performAction(ctx, session, DefaultRegistry(), p.actionHook, "play", map[string]any{"play_completed": true})
	case <-p.done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Play) Kill(Session) { p.killOnce() }

// --- gather ------------------------------------------------------------

type gatherParams struct {
	NumDigits    int    `json:"numDigits"`
	FinishOnKey  string `json:"finishOnKey"`
	InputTimeout int    `json:"input_timeout_ms"`
}

// Gather collects DTMF (speech input is out of scope) and reports the
// result via actionHook. eventHook is parsed but not posted to.
type Gather struct {
	baseTask
	params gatherParams
	digits chan string
}

func NewGather(data map[string]any) (Task, error) {
	var p gatherParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	if p.InputTimeout <= 0 {
		p.InputTimeout = 5000
	}
	return &Gather{
		baseTask: newBaseTask("gather", PreconditionEndpoint, ParseHook(data, "eventHook"), ParseHook(data, "actionHook")),
		params:   p,
		digits:   make(chan string, 1),
	}, nil
}

func (g *Gather) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	var collected string
	unregister := ep.OnDTMF(func(evt endpoint.DTMFEvent) {
		collected += evt.Digit
		if g.params.FinishOnKey != "" && evt.Digit == g.params.FinishOnKey {
			select {
			case g.digits <- collected:
			default:
			}
			return
		}
		if g.params.NumDigits > 0 && len(collected) >= g.params.NumDigits {
			select {
			case g.digits <- collected:
			default:
			}
		}
	})
	defer unregister()

	timeout := time.Duration(g.params.InputTimeout) * time.Millisecond
	select {
	case digits := <-g.digits:
		return performAction(ctx, session, DefaultRegistry(), g.actionHook, "gather", map[string]any{"digits": digits})
	case <-time.After(timeout):
		return performAction(ctx, session, DefaultRegistry(), g.actionHook, "gather", map[string]any{"digits": collected, "reason": "timeout"})
	case <-g.done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gather) Kill(Session) { g.killOnce() }

// --- dial ----------------------------------------------------------------

type dialParams struct {
	Target  string `json:"target"`
	TimeoutSec int `json:"timeout"`
}

// Dial bridges the call to another party via the media-server endpoint's
// dial verb, reporting the outcome via actionHook. Killable mid-ring and
// mid-bridge; the underlying leg teardown is driven through ep.API.
type Dial struct {
	baseTask
	params dialParams
}

func NewDial(data map[string]any) (Task, error) {
	var p dialParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	if p.TimeoutSec <= 0 {
		p.TimeoutSec = 60
	}
	return &Dial{
		baseTask: newBaseTask("dial", PreconditionStableCall, ParseHook(data, "eventHook"), ParseHook(data, "actionHook")),
		params:   p,
	}, nil
}

func (d *Dial) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	dialCtx, cancel := context.WithTimeout(ctx, time.Duration(d.params.TimeoutSec)*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := ep.API(dialCtx, "dial", []string{d.params.Target})
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return &callerr.TaskError{Verb: "dial", Cause: err}
		}
		return performAction(ctx, session, DefaultRegistry(), d.actionHook, "dial", map[string]any{"dial_call_status": "completed"})
	case <-d.done():
		_, _ = ep.API(context.Background(), "uuid_break", []string{})
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dial) Kill(Session) { d.killOnce() }

// --- transcribe ----------------------------------------------------------

type transcribeParams struct {
	Language string `json:"language"`
}

// Transcribe attaches a streaming transcription to the endpoint's custom
// event stream and forwards partial/final results via eventHook.
type Transcribe struct {
	baseTask
	params transcribeParams
}

func NewTranscribe(data map[string]any) (Task, error) {
	var p transcribeParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	return &Transcribe{
		baseTask: newBaseTask("transcribe", PreconditionEndpoint, ParseHook(data, "eventHook"), ParseHook(data, "actionHook")),
		params:   p,
	}, nil
}

func (t *Transcribe) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	if _, err := ep.API(ctx, "start_transcribe", []string{t.params.Language}); err != nil {
		return &callerr.TaskError{Verb: "transcribe", Cause: err}
	}

	unregister := ep.OnCustomEvent("transcription", func(evt endpoint.CustomEvent) {
		_ = performHook(ctx, session, DefaultRegistry(), t.eventHook, "transcribe", evt.Data)
	})
	defer unregister()

	<-t.done()
	_, _ = ep.API(context.Background(), "stop_transcribe", []string{})
	return nil
}

func (t *Transcribe) Kill(Session) { t.killOnce() }

// --- record ----------------------------------------------------------

type recordParams struct {
	Direction string `json:"direction"`
}

// Record starts a call recording sink. The sink's storage backend is
// external and out of scope; this task only starts/stops it via the
// endpoint API.
type Record struct {
	baseTask
	params recordParams
	path   string
}

func NewRecord(data map[string]any) (Task, error) {
	var p recordParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	return &Record{
		baseTask: newBaseTask("record", PreconditionEndpoint, ParseHook(data, "eventHook"), ParseHook(data, "actionHook")),
		params:   p,
	}, nil
}

func (r *Record) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	path, err := ep.API(ctx, "record_session", []string{r.params.Direction})
	if err != nil {
		return &callerr.TaskError{Verb: "record", Cause: err}
	}
	r.path = path
	session.TrackTmpFile(path)

	<-r.done()
	_, _ = ep.API(context.Background(), "stop_record_session", []string{r.path})
	return nil
}

func (r *Record) Kill(Session) { r.killOnce() }

// --- pause ----------------------------------------------------------

type pauseParams struct {
	LengthSec int `json:"length"`
}

// Pause sleeps for a fixed duration; trivially killable.
type Pause struct {
	baseTask
	params pauseParams
}

func NewPause(data map[string]any) (Task, error) {
	var p pauseParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	if p.LengthSec <= 0 {
		p.LengthSec = 1
	}
	return &Pause{
		baseTask: newBaseTask("pause", PreconditionNone, nil, nil),
		params:   p,
	}, nil
}

func (p *Pause) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	select {
	case <-time.After(time.Duration(p.params.LengthSec) * time.Second):
		return nil
	case <-p.done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pause) Kill(Session) { p.killOnce() }

// --- redirect ----------------------------------------------------------

type redirectParams struct {
	ActionHook any `json:"actionHook"`
}

// Redirect is a pure control-flow verb: its entire job is to fetch a new
// task list from actionHook and trigger session.ReplaceApplication.
type Redirect struct {
	baseTask
	params redirectParams
}

func NewRedirect(data map[string]any) (Task, error) {
	var p redirectParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	hook := ParseHook(data, "actionHook")
	return &Redirect{
		baseTask: newBaseTask("redirect", PreconditionNone, nil, hook),
		params:   p,
	}, nil
}

func (r *Redirect) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	return performAction(ctx, session, DefaultRegistry(), r.actionHook, "redirect", map[string]any{})
}

func (r *Redirect) Kill(Session) { r.killOnce() }

// --- hangup ----------------------------------------------------------

type hangupParams struct {
	Reason string `json:"reason"`
}

// Hangup terminates the call; no preconditions.
type Hangup struct {
	baseTask
	params hangupParams
}

func NewHangup(data map[string]any) (Task, error) {
	var p hangupParams
	if err := marshalRoundTrip(data, &p); err != nil {
		return nil, err
	}
	if p.Reason == "" {
		p.Reason = "normal_clearing"
	}
	return &Hangup{
		baseTask: newBaseTask("hangup", PreconditionNone, nil, ParseHook(data, "actionHook")),
		params:   p,
	}, nil
}

func (h *Hangup) Exec(ctx context.Context, session Session, ep endpoint.Endpoint) error {
	if ep != nil {
		_, _ = ep.API(ctx, "hangup", []string{h.params.Reason})
	}
	return &callerr.SessionTerminatedError{Reason: h.params.Reason}
}

func (h *Hangup) Kill(Session) { h.killOnce() }
