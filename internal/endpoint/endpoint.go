// Package endpoint declares the media-server control surface a
// CallSession drives. The media server itself — its audio engine, RTP
// handling, and wire protocol — is an external collaborator and out of
// scope here; Endpoint is the interface boundary the task layer programs
// against, matching the consumed surface named in the external
// interfaces: api/play/set, custom events, and DTMF.
package endpoint

import "context"

// DTMFEvent carries one detected DTMF digit.
type DTMFEvent struct {
	Digit    string
	Duration int // milliseconds
}

// CustomEvent carries a media-server event not modeled as DTMF, e.g. a
// transcription partial/final or a recording started/stopped signal.
type CustomEvent struct {
	Name string
	Data map[string]any
}

// Endpoint is a handle through which one call leg's audio is played,
// recorded, and manipulated. A Task never constructs an Endpoint; the
// CallSession allocates one on first use per the Endpoint precondition
// and releases it exactly once at teardown.
type Endpoint interface {
	// UUID identifies the endpoint at the media server.
	UUID() string

	// Connected reports whether the media server still has this
	// endpoint under its control.
	Connected() bool

	// API issues a synchronous control-plane command, e.g. "uuid_break"
	// to interrupt the current play, or a verb-specific command.
	API(ctx context.Context, verb string, args []string) (string, error)

	// Play streams the given audio resource and blocks until playback
	// finishes, is interrupted, or the context is canceled.
	Play(ctx context.Context, file string) error

	// Set assigns a media-server channel variable.
	Set(ctx context.Context, key, value string) error

	// OnDTMF registers a callback for inbound DTMF events. Returns an
	// unregister function.
	OnDTMF(fn func(DTMFEvent)) (unregister func())

	// OnCustomEvent registers a callback for a named custom event
	// class, e.g. "transcription" or "recording". Returns an
	// unregister function.
	OnCustomEvent(name string, fn func(CustomEvent)) (unregister func())

	// Release tears down the endpoint. Idempotent; safe to call more
	// than once, e.g. from both a task's kill and session teardown.
	Release(ctx context.Context) error
}
