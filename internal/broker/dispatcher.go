package broker

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pubsubd/pubsubd/internal/metrics"
)

// defaultDispatcherQueueSize is the recommended bound from spec §5
// (per-session outbound queue depth before drop-oldest kicks in), used
// when a Broker is constructed without an explicit size.
const defaultDispatcherQueueSize = 1024

// FrameError is the {code, message} pair carried by an error frame.
type FrameError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Frame is the single wire shape for everything a session can receive:
// event, info, ack, error, and pong all marshal from this struct with
// the irrelevant fields omitted (spec §4.6). Both the Broker (event,
// info) and the ProtocolHandler (ack, error, pong) enqueue through the
// same Dispatcher so ordering (invariant I5) holds across frame kinds.
type Frame struct {
	Type      string          `json:"type"`
	RequestID *string         `json:"request_id,omitempty"`
	Topic     string          `json:"topic,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Msg       string          `json:"msg,omitempty"`
	Error     *FrameError     `json:"error,omitempty"`
	TS        string          `json:"ts"`
}

// Dispatcher is a per-session bounded outbound queue with a single writer.
// Enqueue never blocks: a full queue drops the oldest pending frame to make
// room for the new one, preserving liveness for new events (spec §4.5, §5).
//
// mu serializes Enqueue against Close so a send can never race a concurrent
// close of out: every caller observes either a live channel or closed==true,
// never a send on an already-closed channel.
type Dispatcher struct {
	mu     sync.Mutex
	out    chan Frame
	closed bool
	logger zerolog.Logger
}

// NewDispatcher creates a Dispatcher bounded to queueSize (falling back to
// defaultDispatcherQueueSize if queueSize <= 0). The returned channel (Out)
// is meant to be ranged over by exactly one writer goroutine bound to the
// session's connection.
func NewDispatcher(logger zerolog.Logger, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = defaultDispatcherQueueSize
	}
	return &Dispatcher{
		out:    make(chan Frame, queueSize),
		logger: logger,
	}
}

// Out exposes the outbound channel for the connection's single writer.
func (d *Dispatcher) Out() <-chan Frame { return d.out }

// Enqueue adds f to the queue, evicting the oldest pending frame first if
// the queue is full. Never blocks the caller (a Broker operation holding a
// lock must not stall on a slow connection). A no-op once Close has run,
// since the session's connection is gone by then and there's no writer
// left to drain it.
func (d *Dispatcher) Enqueue(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for {
		select {
		case d.out <- f:
			return
		default:
		}
		select {
		case <-d.out:
			metrics.FramesDropped.WithLabelValues("queue_full").Inc()
		default:
			// raced with the writer draining concurrently; retry
		}
	}
}

// Close abandons the queue. The writer goroutine observes this via the
// closed channel and terminates. Safe to call more than once; safe to race
// against Enqueue from another goroutine (connection churn on detach).
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.out)
}
