// Package protocol implements the per-connection session state machine
// described by the broker's wire contract: it decodes inbound frames,
// validates their shape, calls into the broker, and emits ack/error/pong
// frames through the session's Dispatcher.
package protocol

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pubsubd/pubsubd/internal/broker"
	"github.com/pubsubd/pubsubd/internal/metrics"
)

// inbound is the generic shape of a client frame (spec §4.6). Fields
// not relevant to a given type are simply left zero.
type inbound struct {
	Type      string          `json:"type"`
	RequestID *string         `json:"request_id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	ClientID  string          `json:"client_id,omitempty"`
	LastN     *int            `json:"last_n,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
}

// Handler is a per-connection state machine. It starts in the OPEN
// state the moment a connection is accepted (ProvisionalID is already
// attached to the broker) and transitions to CLOSED on disconnect,
// never re-opening.
type Handler struct {
	b      *broker.Broker
	logger zerolog.Logger

	// clientID is the session's identity in the broker. It starts as a
	// server-minted provisional id and is replaced by the client-
	// supplied id the first time a subscribe frame names one (spec §9
	// "Session identity").
	clientID   string
	identified bool

	closed bool
}

// New creates a Handler bound to a freshly attached provisional session.
// provisionalID should already be registered with b via AttachSession.
func New(b *broker.Broker, provisionalID string, logger zerolog.Logger) *Handler {
	return &Handler{b: b, logger: logger, clientID: provisionalID}
}

// ClientID returns the handler's current session identity.
func (h *Handler) ClientID() string { return h.clientID }

// HandleFrame decodes and dispatches one inbound text frame, returning
// the response frame to enqueue (ProtocolHandler always responds
// exactly once per inbound frame, per spec §4.6).
func (h *Handler) HandleFrame(raw []byte) broker.Frame {
	var req inbound
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorFrame(nil, broker.ErrBadRequest, "invalid JSON")
	}

	switch req.Type {
	case "subscribe":
		return h.handleSubscribe(req)
	case "unsubscribe":
		return h.handleUnsubscribe(req)
	case "publish":
		return h.handlePublish(req)
	case "ping":
		return broker.Frame{Type: "pong", RequestID: req.RequestID, TS: nowTS()}
	default:
		return errorFrame(req.RequestID, broker.ErrBadRequest, "unknown type: "+req.Type)
	}
}

func (h *Handler) handleSubscribe(req inbound) broker.Frame {
	if req.Topic == "" || req.ClientID == "" {
		return errorFrame(req.RequestID, broker.ErrBadRequest, "topic and client_id are required")
	}
	if _, err := uuid.Parse(req.ClientID); err != nil {
		return errorFrame(req.RequestID, broker.ErrBadRequest, "client_id must be a UUID")
	}

	h.rebind(req.ClientID)

	lastN := 0
	if req.LastN != nil {
		if *req.LastN < 0 {
			return errorFrame(req.RequestID, broker.ErrBadRequest, "last_n must be >= 0")
		}
		lastN = *req.LastN
	}

	if berr := h.b.Subscribe(h.clientID, req.Topic, lastN); berr != nil {
		return errorFrame(req.RequestID, berr.Code, berr.Message)
	}

	return broker.Frame{
		Type:      "ack",
		RequestID: req.RequestID,
		Topic:     req.Topic,
		Status:    "subscribed",
		TS:        nowTS(),
	}
}

func (h *Handler) handleUnsubscribe(req inbound) broker.Frame {
	if req.Topic == "" {
		return errorFrame(req.RequestID, broker.ErrBadRequest, "topic is required")
	}
	if berr := h.b.Unsubscribe(h.clientID, req.Topic); berr != nil {
		return errorFrame(req.RequestID, berr.Code, berr.Message)
	}
	return broker.Frame{
		Type:      "ack",
		RequestID: req.RequestID,
		Topic:     req.Topic,
		Status:    "unsubscribed",
		TS:        nowTS(),
	}
}

func (h *Handler) handlePublish(req inbound) broker.Frame {
	if req.Topic == "" {
		return errorFrame(req.RequestID, broker.ErrBadRequest, "topic is required")
	}
	if berr := h.b.Publish(req.Topic, req.Message); berr != nil {
		return errorFrame(req.RequestID, berr.Code, berr.Message)
	}
	return broker.Frame{
		Type:      "ack",
		RequestID: req.RequestID,
		Topic:     req.Topic,
		Status:    "published",
		TS:        nowTS(),
	}
}

// rebind swaps the session's broker identity from the provisional id to
// clientID the first time a client supplies one, per spec §9. No broker
// state exists under the provisional id before the first subscribe, so
// the swap is always safe.
func (h *Handler) rebind(clientID string) {
	if h.identified || clientID == h.clientID {
		return
	}
	if h.b.RebindSession(h.clientID, clientID) != nil {
		h.clientID = clientID
	}
	h.identified = true
}

// Close detaches the session from the broker, releasing every
// subscription it held (invariant I1 holds even on abrupt disconnect).
func (h *Handler) Close() {
	if h.closed {
		return
	}
	h.closed = true
	h.b.DetachSession(h.clientID)
}

func errorFrame(requestID *string, code broker.ErrorCode, msg string) broker.Frame {
	metrics.ErrorsTotal.WithLabelValues(string(code)).Inc()
	return broker.Frame{
		Type:      "error",
		RequestID: requestID,
		Error:     &broker.FrameError{Code: code, Message: msg},
		TS:        nowTS(),
	}
}
