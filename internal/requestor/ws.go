package requestor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"

	"github.com/sebas/featureserver/internal/alert"
	"github.com/sebas/featureserver/internal/callerr"
	"github.com/sebas/featureserver/internal/config"
	"github.com/sebas/featureserver/internal/telemetry"
)

const wsSubprotocol = "ws.jambonz.org"

// pendingRequest tracks one outbound message awaiting an ack.
type pendingRequest struct {
	resultCh chan wsResult
}

type wsResult struct {
	value any
	err   error
}

// queuedMsg is an outbound frame buffered while the socket is down.
type queuedMsg struct {
	msgID   string
	msgType string
	frame   map[string]any
	pending *pendingRequest
}

// WsRequestor is a persistent, ack-tracked WebSocket channel to a single
// application server. It reconnects with backoff, re-keys in-flight
// messages across a reconnect, queues sends while down up to a
// configured high-water mark, and tears itself down on a binary or
// unparseable frame from the peer.
type WsRequestor struct {
	BaseRequestor

	alerts alert.Emitter

	mu               sync.Mutex
	url              *url.URL
	conn             *websocket.Conn
	connected        bool
	closedGracefully bool
	closing          bool
	reconnectCount   int

	inFlight map[string]*pendingRequest
	queue    []queuedMsg

	done chan struct{}

	sessionEstablished bool
	// sessionParams is the data payload from the session:new frame that
	// established this session, cached so a reconnect can resend it
	// verbatim as session:reconnect's data.
	sessionParams map[string]any
	// initMsgID is the msgid of the still-unacked session:new/reconnect
	// request, re-keyed onto each reconnect's new frame so an ack to
	// whichever id is currently live resolves the original caller.
	initMsgID string
}

// NewWsRequestor builds a WS transport bound to accountSID/secret. The
// connection is established lazily on the first Request call.
func NewWsRequestor(accountSID, secret, baseURL string, cfg *config.Config, tel *telemetry.Collector, alerts alert.Emitter, log *slog.Logger) *WsRequestor {
	return &WsRequestor{
		BaseRequestor: NewBase(accountSID, secret, baseURL, cfg, tel, log),
		alerts:        alerts,
		inFlight:      make(map[string]*pendingRequest),
		done:          make(chan struct{}),
	}
}

// Request sends msgType to hook over the WS channel, resolving a fresh
// target if the scheme is HTTP (handover), and either waits for the ack
// (WantsAck) or returns immediately otherwise.
func (w *WsRequestor) Request(ctx context.Context, msgType string, hook Hook, params map[string]any) (any, error) {
	u, _, err := w.ResolveHook(hook)
	if err != nil {
		return nil, err
	}

	if schemeIsHTTP(u) {
		http := NewHttpRequestor(w.AccountSID, w.Secret, w.BaseURL, w.Config, NewPool(w.Config), w.Telemetry, w.alerts, w.Log)
		w.fireHandover(http)
		return http.Request(ctx, msgType, hook, params)
	}
	if !schemeIsWS(u) {
		return nil, &callerr.ProtocolError{Reason: fmt.Sprintf("unsupported hook scheme %q", u.Scheme)}
	}

	w.mu.Lock()
	if w.conn == nil && !w.connected {
		w.mu.Unlock()
		if err := w.connect(ctx, u); err != nil {
			return nil, err
		}
		w.mu.Lock()
	}
	w.mu.Unlock()

	spanCtx := ctx
	var span trace.Span
	if w.Telemetry != nil {
		spanCtx, span = w.Telemetry.StartSpan(ctx, "webhook.ws")
		defer span.End()
	}

	msgID := uuid.NewString()
	data := snakeCaseBody(params)
	frame := map[string]any{
		"msgid": msgID,
		"type":  msgType,
		"data":  data,
	}
	if HasHookField(msgType) {
		frame["hook"] = u.String()
	}
	if b3 := telemetry.B3Header(spanCtx); b3 != "" {
		frame["b3"] = b3
	}

	if msgType == "session:new" {
		w.mu.Lock()
		w.sessionEstablished = true
		w.sessionParams = data
		w.initMsgID = msgID
		w.mu.Unlock()
	}

	wantsAck := WantsAck(msgType)
	var pending *pendingRequest
	if wantsAck {
		pending = &pendingRequest{resultCh: make(chan wsResult, 1)}
	}

	start := time.Now()
	if err := w.send(msgID, msgType, frame, pending); err != nil {
		return nil, err
	}
	if !wantsAck {
		if w.Telemetry != nil {
			w.Telemetry.HookLatency.WithLabelValues(msgType, "ws").Observe(time.Since(start).Seconds())
		}
		return nil, nil
	}

	timeout := w.Config.ResponseTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case res := <-pending.resultCh:
		if w.Telemetry != nil {
			w.Telemetry.HookLatency.WithLabelValues(msgType, "ws").Observe(time.Since(start).Seconds())
		}
		return res.value, res.err
	case <-time.After(timeout):
		w.mu.Lock()
		delete(w.inFlight, msgID)
		if w.initMsgID == msgID {
			w.initMsgID = ""
		}
		w.mu.Unlock()
		return nil, &callerr.ResponseTimeoutError{MsgID: msgID}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send either writes the frame immediately, or queues it (honoring the
// high-water mark) if the socket is currently down.
func (w *WsRequestor) send(msgID, msgType string, frame map[string]any, pending *pendingRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closedGracefully {
		return callerr.ErrClosedGracefully
	}

	if pending != nil {
		w.inFlight[msgID] = pending
	}

	if !w.connected || w.conn == nil {
		hwm := w.Config.WSQueueHighWaterMark
		if hwm <= 0 {
			hwm = 1000
		}
		if len(w.queue) >= hwm {
			delete(w.inFlight, msgID)
			return callerr.ErrQueueOverflow
		}
		w.queue = append(w.queue, queuedMsg{msgID: msgID, msgType: msgType, frame: frame, pending: pending})
		return nil
	}

	return w.writeLocked(frame)
}

func (w *WsRequestor) writeLocked(frame map[string]any) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return &callerr.ProtocolError{Reason: "marshal outbound frame", Cause: err}
	}
	if err := w.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return &callerr.TransportError{Op: "ws write", Cause: err}
	}
	return nil
}

// connect dials u and starts the read/keepalive loops. On a reconnect
// (not the first connect) it also sends the session:reconnect
// handshake frame.
func (w *WsRequestor) connect(ctx context.Context, u *url.URL) error {
	handshakeTimeout := w.Config.WSHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 1500 * time.Millisecond
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
		Subprotocols:     []string{wsSubprotocol},
	}

	header := http.Header{}
	if auth := BasicAuthHeader(Hook{}); auth != "" {
		header.Set("Authorization", auth)
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		return &callerr.HandshakeError{StatusCode: status, Cause: err}
	}

	if w.Config.WSMaxPayload > 0 {
		conn.SetReadLimit(w.Config.WSMaxPayload)
	}

	w.mu.Lock()
	w.url = u
	w.conn = conn
	w.connected = true
	w.closedGracefully = false
	isReconnect := w.sessionEstablished
	w.mu.Unlock()

	go w.readLoop(conn)
	if w.Config.WSPingInterval > 15*time.Second {
		go w.pingLoop(conn, w.Config.WSPingInterval)
	}

	// The very first connect sends no frame of its own: the caller's own
	// Request("session:new", ...) call, still in flight above us, is the
	// first (and only) outbound frame. Only a reconnect after an
	// established session sends its own handshake frame.
	if isReconnect {
		w.handshake()
	}
	w.flushQueue()
	return nil
}

// handshake sends a session:reconnect frame carrying the data payload
// cached from the original session:new and the connected URL as its
// hook. It is invoked only when reconnecting after an already-established
// session. If the original session:new (or a prior reconnect's frame)
// is still unacked, its pending request is moved onto this frame's new
// msgid, so an ack to the new id resolves the original caller; the old
// id is removed from the in-flight table and an ack to it is no longer
// matched.
func (w *WsRequestor) handshake() {
	w.mu.Lock()
	data := w.sessionParams
	hookURL := ""
	if w.url != nil {
		hookURL = w.url.String()
	}
	oldInitID := w.initMsgID
	pending, hasPending := w.inFlight[oldInitID]
	if hasPending {
		delete(w.inFlight, oldInitID)
	}
	w.mu.Unlock()

	newMsgID := uuid.NewString()
	frame := map[string]any{
		"msgid": newMsgID,
		"type":  "session:reconnect",
		"hook":  hookURL,
		"data":  data,
	}

	w.mu.Lock()
	w.initMsgID = newMsgID
	w.mu.Unlock()

	var toTrack *pendingRequest
	if hasPending {
		toTrack = pending
	}
	_ = w.send(newMsgID, "session:reconnect", frame, toTrack)
}

// flushQueue drains any messages buffered while disconnected, re-keying
// their msgid so a reply that arrives against the old id after a
// reconnect is not mistaken for a match.
func (w *WsRequestor) flushQueue() {
	w.mu.Lock()
	pending := w.queue
	w.queue = nil
	w.mu.Unlock()

	for _, qm := range pending {
		newID := uuid.NewString()
		qm.frame["msgid"] = newID

		w.mu.Lock()
		if qm.pending != nil {
			delete(w.inFlight, qm.msgID)
			w.inFlight[newID] = qm.pending
		}
		err := w.writeLocked(qm.frame)
		w.mu.Unlock()

		if err != nil && qm.pending != nil {
			qm.pending.resultCh <- wsResult{err: err}
		}
	}
}

// readLoop processes inbound frames until the connection closes, which
// triggers a reconnect unless the requestor is closing, or until a
// malicious frame is detected, which tears the connection down without
// a reconnect.
func (w *WsRequestor) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			w.handleDisconnect(conn)
			return
		}

		if msgType == websocket.BinaryMessage {
			w.handleMaliciousFrame(conn, callerr.ErrMaliciousClient)
			return
		}

		var frame map[string]any
		if err := json.Unmarshal(data, &frame); err != nil {
			w.handleMaliciousFrame(conn, err)
			return
		}

		w.dispatchFrame(frame)
	}
}

func (w *WsRequestor) handleMaliciousFrame(conn *websocket.Conn, cause error) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "invalid frame"),
		time.Now().Add(time.Second))
	_ = conn.Close()

	if w.alerts != nil {
		w.alerts.Emit(context.Background(), alert.InvalidAppPayload, map[string]any{"error": cause.Error()})
	}

	w.mu.Lock()
	stillOpen := w.connected
	w.connected = false
	w.mu.Unlock()

	if stillOpen {
		_, _ = w.Request(context.Background(), "jambonz:error", Hook{URL: w.BaseURL}, map[string]any{
			"error": cause.Error(),
		})
	}

	w.failAllInFlight(&callerr.ProtocolError{Reason: "malicious client frame", Cause: cause})
}

// dispatchFrame routes an inbound frame to an ack match (resolving a
// pending Request) or to the unsolicited-command callback.
func (w *WsRequestor) dispatchFrame(frame map[string]any) {
	msgID, _ := frame["msgid"].(string)

	w.mu.Lock()
	pending, isAck := w.inFlight[msgID]
	if isAck {
		delete(w.inFlight, msgID)
	}
	if msgID == w.initMsgID {
		w.initMsgID = ""
	}
	w.mu.Unlock()

	if isAck {
		pending.resultCh <- wsResult{value: frame["data"]}
		return
	}

	cmd := Command{MsgID: msgID}
	if t, ok := frame["command"].(string); ok {
		cmd.Command = t
	}
	if sid, ok := frame["call_sid"].(string); ok {
		cmd.CallSID = sid
	}
	if qc, ok := frame["queueCommand"].(bool); ok {
		cmd.QueueCommand = qc
	}
	if tc, ok := frame["tool_call_id"].(string); ok {
		cmd.ToolCallID = tc
	}
	if d, ok := frame["data"].(map[string]any); ok {
		cmd.Data = d
	}
	w.fireCommand(cmd)
}

func (w *WsRequestor) handleDisconnect(conn *websocket.Conn) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	w.connected = false
	closing := w.closing
	w.mu.Unlock()

	if closing {
		return
	}

	w.fireConnectionDropped()
	if w.Telemetry != nil {
		w.Telemetry.WSReconnects.Inc()
	}

	maxReconnects := w.Config.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 5
	}

	w.mu.Lock()
	target := w.url
	w.mu.Unlock()
	if target == nil {
		w.failAllInFlight(callerr.ErrSessionTerminated)
		return
	}

	for attempt := 1; attempt <= maxReconnects; attempt++ {
		w.mu.Lock()
		w.reconnectCount++
		w.mu.Unlock()

		time.Sleep(Backoff(attempt))
		if err := w.connect(context.Background(), target); err == nil {
			return
		}
	}

	w.failAllInFlight(callerr.ErrSessionTerminated)
}

func (w *WsRequestor) failAllInFlight(err error) {
	w.mu.Lock()
	pending := w.inFlight
	w.inFlight = make(map[string]*pendingRequest)
	w.initMsgID = ""
	w.mu.Unlock()

	for _, p := range pending {
		p.resultCh <- wsResult{err: err}
	}
}

func (w *WsRequestor) pingLoop(conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			current := w.conn
			w.mu.Unlock()
			if current != conn {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}

// Close tears the channel down gracefully: in-flight requests are
// resolved with ErrClosedGracefully rather than retried.
func (w *WsRequestor) Close() error {
	w.mu.Lock()
	w.closing = true
	w.closedGracefully = true
	conn := w.conn
	w.mu.Unlock()

	close(w.done)
	w.failAllInFlight(callerr.ErrClosedGracefully)

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	}
	return nil
}
