// Package transport upgrades HTTP connections to WebSocket sessions and
// runs the read/write pumps that bridge the wire to a protocol.Handler.
package transport

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pubsubd/pubsubd/internal/broker"
	"github.com/pubsubd/pubsubd/internal/metrics"
	"github.com/pubsubd/pubsubd/internal/protocol"
	"github.com/pubsubd/pubsubd/internal/ratelimit"
)

const (
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second

	timeLayout = "2006-01-02T15:04:05.000Z"
)

func nowTS() string {
	return time.Now().UTC().Format(timeLayout)
}

// Server accepts WebSocket connections at /ws and runs one read pump and
// one write pump per connection, matching the teacher's single-writer,
// single-reader-per-connection shape.
type Server struct {
	broker   *broker.Broker
	logger   zerolog.Logger
	limiters *ratelimit.Limiters

	mu       sync.Mutex
	shutdown bool
}

func NewServer(b *broker.Broker, limiters *ratelimit.Limiters, logger zerolog.Logger) *Server {
	return &Server{broker: b, limiters: limiters, logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket connection and spawns
// the pumps for it. It implements http.Handler so it can be registered
// directly on a mux at /ws.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	down := s.shutdown
	s.mu.Unlock()
	if down {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	provisionalID := uuid.NewString()
	session := s.broker.AttachSession(provisionalID)
	handler := protocol.New(s.broker, provisionalID, s.logger)
	limiter := s.limiters.For(provisionalID)

	metrics.ConnectionsTotal.Inc()
	metrics.ConnectionsActive.Inc()
	defer metrics.ConnectionsActive.Dec()

	go s.writePump(conn, session.Dispatcher)
	s.readPump(conn, handler, limiter)
}

// readPump decodes frames and enqueues the handler's response onto the
// session's current Dispatcher. It looks the session up fresh on every
// frame because a subscribe can rebind the session to a new client id
// (and, with it, nothing about the Dispatcher changes — Rebind keeps
// the same Dispatcher instance — but ClientID is the stable handle for
// looking it up).
func (s *Server) readPump(conn net.Conn, handler *protocol.Handler, limiter *ratelimit.Limiter) {
	limiterID := handler.ClientID()
	defer func() {
		handler.Close()
		s.limiters.Remove(limiterID)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch op {
		case ws.OpText:
			session, ok := s.broker.Session(handler.ClientID())
			if !ok {
				return
			}
			if !limiter.Allow() {
				metrics.RateLimited.Inc()
				session.Dispatcher.Enqueue(broker.Frame{
					Type: "error",
					Error: &broker.FrameError{
						Code:    broker.ErrBadRequest,
						Message: "rate limit exceeded",
					},
					TS: nowTS(),
				})
				continue
			}
			resp := handler.HandleFrame(msg)
			if session, ok := s.broker.Session(handler.ClientID()); ok {
				session.Dispatcher.Enqueue(resp)
			}
		case ws.OpClose:
			return
		}
	}
}

func (s *Server) writePump(conn net.Conn, d *broker.Dispatcher) {
	writer := bufio.NewWriter(conn)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame, ok := <-d.Out():
			if !ok {
				wsutil.WriteServerMessage(conn, ws.OpClose, nil)
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := writeJSON(writer, frame); err != nil {
				return
			}
			if err := writer.Flush(); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsutil.WriteServerMessage(conn, ws.OpPing, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w *bufio.Writer, f broker.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return wsutil.WriteServerMessage(w, ws.OpText, data)
}

// Shutdown stops accepting new connections; existing sessions keep
// running until their connections close.
func (s *Server) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}
