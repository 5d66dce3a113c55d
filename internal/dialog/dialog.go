// Package dialog models the accepted SIP dialog handle a CallSession
// owns. The SIP stack itself is out of scope here: a Handle is produced
// by the signalling layer once INVITE has been accepted and carries only
// what the interpreter needs for caller info (From/To, display name) and to report the
// call's direction and identifiers.
package dialog

import (
	"context"

	"github.com/emiago/sipgo/sip"
)

// Direction indicates which side originated the dialog.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

func (d Direction) String() string {
	if d == DirectionOutbound {
		return "outbound"
	}
	return "inbound"
}

// Handle is the opaque SIP dialog handle a CallSession owns. It is
// produced by the signalling layer, never constructed by task or
// requestor code, and is read-only from the interpreter's point of view.
type Handle struct {
	CallID    string
	Direction Direction

	// InviteRequest/InviteResponse are retained only to extract From/To
	// URIs and display names (From, To, FromDisplayName); the interpreter never sends
	// SIP messages of its own.
	InviteRequest  *sip.Request
	InviteResponse *sip.Response

	ctx    context.Context
	cancel context.CancelFunc
}

// New derives a Handle from an accepted INVITE/response pair. ctx is
// canceled when the signalling layer tears the dialog down (BYE,
// CANCEL, or transport failure); the CallSession derives its own
// lifetime from it.
func New(parent context.Context, callID string, dir Direction, req *sip.Request, resp *sip.Response) *Handle {
	ctx, cancel := context.WithCancel(parent)
	return &Handle{
		CallID:         callID,
		Direction:      dir,
		InviteRequest:  req,
		InviteResponse: resp,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Context is canceled when the dialog ends.
func (h *Handle) Context() context.Context { return h.ctx }

// Terminate cancels the dialog's context. Idempotent.
func (h *Handle) Terminate() { h.cancel() }

// From returns the caller's URI user part, if available.
func (h *Handle) From() string {
	if h.InviteRequest == nil {
		return ""
	}
	if from := h.InviteRequest.From(); from != nil {
		return from.Address.User
	}
	return ""
}

// To returns the dialed URI user part, if available.
func (h *Handle) To() string {
	if h.InviteRequest == nil {
		return ""
	}
	if to := h.InviteRequest.To(); to != nil {
		return to.Address.User
	}
	return ""
}

// FromDisplayName returns the caller's display name, if present.
func (h *Handle) FromDisplayName() string {
	if h.InviteRequest == nil {
		return ""
	}
	if from := h.InviteRequest.From(); from != nil {
		return from.DisplayName
	}
	return ""
}
