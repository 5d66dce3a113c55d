// Package requestor implements the pluggable webhook transport: a
// process-wide HTTP(S) client with retry/pooling, and a persistent,
// ack-tracked WebSocket channel, with seamless handover between the two
// when a hook's URL scheme crosses transports.
package requestor

import (
	"context"
	"net/url"
	"regexp"
	"strings"
)

// Hook is a target for an event or action callback: a bare URL, or a URL
// plus method/basic-auth credentials. A relative URL is resolved against
// the owning Requestor's base URL.
type Hook struct {
	URL      string
	Method   string // "GET" or "POST"; POST if empty.
	Username string
	Password string
}

// noAckTypes is the fixed set of outbound message types that never
// expect an ack, even over the WebSocket transport.
var noAckTypes = map[string]bool{
	"call:status":          true,
	"verb:status":          true,
	"jambonz:error":        true,
	"llm:event":            true,
	"llm:tool-call":        true,
	"tts:streaming-event":  true,
	"tts:tokens-result":    true,
}

// WantsAck reports whether an outbound message of the given type
// expects an ack when sent over the WebSocket transport.
func WantsAck(msgType string) bool {
	return !noAckTypes[msgType]
}

// hookTypesWithHookField is the set of message types whose outbound
// frame the source carries a "hook" field on, per the open question in
// the design notes: source includes it only for these six types.
var hookTypesWithHookField = map[string]bool{
	"session:new":       true,
	"session:reconnect": true,
	"session:redirect":  true,
	"call:status":       true,
	"verb:hook":         true,
	"verb:status":       true,
}

// HasHookField reports whether an outbound frame of msgType should carry
// the resolved hook URL in its "hook" field.
func HasHookField(msgType string) bool {
	return hookTypesWithHookField[msgType]
}

// Command is an unsolicited inbound command delivered by a WsRequestor
// at any time, independent of any in-flight request/ack.
type Command struct {
	MsgID        string
	Command      string
	CallSID      string
	QueueCommand bool
	ToolCallID   string
	Data         map[string]any
}

// Requestor is the transport abstraction a CallSession drives: fire a
// request at a hook and get back either a parsed JSON body (possibly a
// new application) or nothing.
type Requestor interface {
	// Request sends msgType to hook with params as the body/payload.
	// Returns the parsed response body (typically []any for a verb-list
	// redirect, or nil) or an error from the callerr taxonomy.
	Request(ctx context.Context, msgType string, hook Hook, params map[string]any) (any, error)

	// Close tears down the transport. Idempotent.
	Close() error

	// OnHandover registers the callback invoked when this requestor
	// determines a hook's scheme requires a different transport; the
	// new Requestor is already constructed and ready to use.
	OnHandover(fn func(Requestor))

	// OnCommand registers the callback for inbound WS commands; a no-op
	// for HttpRequestor, which never receives unsolicited commands.
	OnCommand(fn func(Command))

	// OnConnectionDropped registers the callback fired when the
	// underlying connection drops (WS only).
	OnConnectionDropped(fn func())
}

// schemeIsWS reports whether url scheme implies the WebSocket transport.
func schemeIsWS(u *url.URL) bool {
	return u.Scheme == "ws" || u.Scheme == "wss"
}

// schemeIsHTTP reports whether url scheme implies the HTTP transport.
func schemeIsHTTP(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

// snakeCaseExceptions lists the top-level param keys whose inner map is
// preserved verbatim rather than recursively snake-cased: these carry
// customer-controlled or already-wire-formatted data.
var snakeCaseExceptions = map[string]bool{
	"customerData": true,
	"sip":          true,
	"env_vars":     true,
	"args":         true,
}

var camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)

// toSnakeCase converts a single camelCase key to snake_case.
func toSnakeCase(key string) string {
	snake := camelBoundary.ReplaceAllString(key, "${1}_${2}")
	return strings.ToLower(snake)
}

// snakeCaseBody recursively converts map keys to snake_case, except
// for keys in snakeCaseExceptions, which keep their own name and whose
// values are copied untouched so customer-supplied structures
// round-trip byte-for-byte.
func snakeCaseBody(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			sk := toSnakeCase(k)
			if snakeCaseExceptions[k] || snakeCaseExceptions[sk] {
				out[k] = inner
				continue
			}
			out[sk] = snakeCaseBody(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = snakeCaseBody(item)
		}
		return out
	default:
		return v
	}
}
