package broker

import (
	"sort"
	"sync"
	"time"
)

// topic is the registry's record for one named topic: creation time,
// lifetime publish count, the set of subscribed session ids, and the
// bounded history ring (spec §3, §4.1).
type topic struct {
	name        string
	createdAt   time.Time
	messageCount int64
	subscribers map[string]struct{}
	history     *history
}

func newTopic(name string, historyCapacity int) *topic {
	return &topic{
		name:        name,
		createdAt:   time.Now().UTC(),
		subscribers: make(map[string]struct{}),
		history:     newHistory(historyCapacity),
	}
}

// TopicInfo is the read-only snapshot returned by registry queries.
type TopicInfo struct {
	Name             string
	CreatedAt        time.Time
	MessageCount     int64
	SubscriberCount  int
}

// TopicRegistry holds every live topic and enforces invariant I2
// (subscriber_count == len(subscribers)) and I3 (atomic delete: once
// delete_topic returns, no publish can see that topic again).
//
// Callers that also touch a SessionTable must acquire the registry lock
// first (registry -> session), per the broker's documented lock order.
type TopicRegistry struct {
	mu              sync.RWMutex
	topics          map[string]*topic
	historyCapacity int
}

// NewTopicRegistry creates a registry whose topics retain up to
// historyCapacity events each (falling back to defaultHistoryCapacity
// if <= 0).
func NewTopicRegistry(historyCapacity int) *TopicRegistry {
	return &TopicRegistry{topics: make(map[string]*topic), historyCapacity: historyCapacity}
}

// Create adds a new, empty topic. Returns ErrAlreadyExists if name is
// already registered (control-plane 409 per spec §6).
func (r *TopicRegistry) Create(name string) *Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.topics[name]; ok {
		return newErr(ErrAlreadyExists, "topic already exists")
	}
	r.topics[name] = newTopic(name, r.historyCapacity)
	return nil
}

// Delete removes a topic and returns the snapshot of subscriber ids that
// were attached at the moment of deletion, so the caller can notify them.
// The topic is already unreachable to new operations when Delete returns.
func (r *TopicRegistry) Delete(name string) ([]string, *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return nil, newErr(ErrTopicNotFound, "topic not found")
	}
	subs := make([]string, 0, len(t.subscribers))
	for id := range t.subscribers {
		subs = append(subs, id)
	}
	delete(r.topics, name)
	return subs, nil
}

// List returns every topic's info, sorted by name for stable output.
func (r *TopicRegistry) List() []TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TopicInfo, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, TopicInfo{
			Name:            t.name,
			CreatedAt:       t.createdAt,
			MessageCount:    t.messageCount,
			SubscriberCount: len(t.subscribers),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns one topic's info.
func (r *TopicRegistry) Get(name string) (TopicInfo, *Error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return TopicInfo{}, newErr(ErrTopicNotFound, "topic not found")
	}
	return TopicInfo{
		Name:            t.name,
		CreatedAt:       t.createdAt,
		MessageCount:    t.messageCount,
		SubscriberCount: len(t.subscribers),
	}, nil
}

// Stats aggregates totals across every topic; Broker.Health reads its
// topic count and total subscriptions from it.
type Stats struct {
	TopicCount        int
	TotalMessages     int64
	TotalSubscriptions int
}

func (r *TopicRegistry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := Stats{TopicCount: len(r.topics)}
	for _, t := range r.topics {
		s.TotalMessages += t.messageCount
		s.TotalSubscriptions += len(t.subscribers)
	}
	return s
}

// addSubscriber records clientID against name. Idempotent: subscribing
// twice is a no-op on the set (spec §4.2) — added reports whether this
// call actually created the membership, so callers can keep external
// counters (metrics) from double-counting an idempotent resubscribe.
// ok is false if the topic is gone, so the caller can report
// TOPIC_NOT_FOUND.
func (r *TopicRegistry) addSubscriber(name, clientID string) (ok, added bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return false, false
	}
	if _, already := t.subscribers[clientID]; already {
		return true, false
	}
	t.subscribers[clientID] = struct{}{}
	return true, true
}

// removeSubscriber drops clientID from name's subscriber set. Unsubscribe
// is safe to call even if the client was never subscribed (spec §9,
// matching the original implementation's always-succeeds semantics) —
// it only reports failure when the topic itself no longer exists.
func (r *TopicRegistry) removeSubscriber(name, clientID string) (exists, removed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return false, false
	}
	if _, had := t.subscribers[clientID]; !had {
		return true, false
	}
	delete(t.subscribers, clientID)
	return true, true
}

// publish validates msg, appends it to name's history and bumps its
// message count, and returns a snapshot of subscriber ids to fan the
// envelope out to. The append and the snapshot happen under the registry
// lock, so a concurrent delete either sees the message in history or
// makes the publish fail (invariant I3); the caller's fan-out is not
// covered by the lock.
//
// Topic existence is checked before message validation: publishing a
// malformed message to a nonexistent topic reports TOPIC_NOT_FOUND, not
// BAD_REQUEST.
func (r *TopicRegistry) publish(name string, raw []byte) (Envelope, []string, *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.topics[name]
	if !ok {
		return Envelope{}, nil, newErr(ErrTopicNotFound, "topic not found")
	}

	if berr := validateMessage(raw); berr != nil {
		return Envelope{}, nil, berr
	}

	env := Envelope{
		Type:    "event",
		Topic:   name,
		Message: raw,
		TS:      nowTS(),
	}
	t.history.append(env)
	t.messageCount++

	subs := make([]string, 0, len(t.subscribers))
	for sid := range t.subscribers {
		subs = append(subs, sid)
	}
	return env, subs, nil
}

// replay returns the last n history entries for name, used when a fresh
// subscribe asks to be caught up (spec §4.2 last_n).
func (r *TopicRegistry) replay(name string, n int) []Envelope {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[name]
	if !ok {
		return nil
	}
	return t.history.tail(n)
}
