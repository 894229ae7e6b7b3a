package broker

import (
	"sync"

	"github.com/rs/zerolog"
)

// Session is the registry's record of one connected client: its
// Dispatcher (so the broker can enqueue frames to it) and the set of
// topics it currently subscribes to, kept in lockstep with each topic's
// subscriber set (invariant I1).
type Session struct {
	ID         string
	Dispatcher *Dispatcher

	mu   sync.RWMutex
	subs map[string]struct{}
}

func newSession(id string, logger zerolog.Logger, dispatcherQueueSize int) *Session {
	return &Session{
		ID:         id,
		Dispatcher: NewDispatcher(logger, dispatcherQueueSize),
		subs:       make(map[string]struct{}),
	}
}

func (s *Session) addSub(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[topic] = struct{}{}
}

func (s *Session) removeSub(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, topic)
}

// Topics returns a snapshot of the session's current subscriptions.
func (s *Session) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for t := range s.subs {
		out = append(out, t)
	}
	return out
}

// SessionTable holds every connected session, keyed by client id. The
// broker always acquires the TopicRegistry lock before touching a
// session's subscription set, so deadlock can't occur between the two
// locks (registry -> session lock order).
type SessionTable struct {
	mu                  sync.RWMutex
	sessions            map[string]*Session
	dispatcherQueueSize int
}

// NewSessionTable creates a table whose sessions get a Dispatcher bounded
// to dispatcherQueueSize (falling back to defaultDispatcherQueueSize if
// <= 0).
func NewSessionTable(dispatcherQueueSize int) *SessionTable {
	return &SessionTable{sessions: make(map[string]*Session), dispatcherQueueSize: dispatcherQueueSize}
}

// Attach registers a new session under id. If id is already attached
// (a reconnect racing a stale entry) the prior session's dispatcher is
// closed and replaced.
func (t *SessionTable) Attach(id string, logger zerolog.Logger) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.sessions[id]; ok {
		old.Dispatcher.Close()
	}
	s := newSession(id, logger, t.dispatcherQueueSize)
	t.sessions[id] = s
	return s
}

// Rebind moves the session at oldID to newID, preserving its Dispatcher
// and subscription set. Used when a client supplies its own id on first
// subscribe, replacing the server-minted provisional id (spec §9). If
// newID is already attached (a racing reconnect), that prior session's
// dispatcher is closed and replaced, same as Attach. Returns the session
// under its new key, or nil if oldID was not attached.
func (t *SessionTable) Rebind(oldID, newID string) *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[oldID]
	if !ok {
		return nil
	}
	delete(t.sessions, oldID)
	if old, ok := t.sessions[newID]; ok {
		old.Dispatcher.Close()
	}
	s.ID = newID
	t.sessions[newID] = s
	return s
}

// Detach removes id from the table and returns the topics it was
// subscribed to, so the caller can unwind the registry's subscriber
// sets for each.
func (t *SessionTable) Detach(id string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	if !ok {
		return nil
	}
	delete(t.sessions, id)
	s.Dispatcher.Close()
	return s.Topics()
}

// Get returns the session for id, if attached.
func (t *SessionTable) Get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Count returns the number of attached sessions.
func (t *SessionTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
