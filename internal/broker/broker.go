// Package broker implements the in-process pub/sub core: the topic
// registry, the session table, per-session dispatch, and the Broker
// façade that ties them together behind a fixed lock order.
package broker

import (
	"github.com/rs/zerolog"

	"github.com/pubsubd/pubsubd/internal/metrics"
)

// Broker is the single entry point the protocol handler and the HTTP
// control plane both call into. It owns a TopicRegistry and a
// SessionTable and is safe for concurrent use from many goroutines.
//
// Lock order is always registry -> session: any operation that needs
// both locks acquires the registry's first. Fan-out (Publish) takes a
// subscriber-id snapshot under the registry lock, then releases it
// before touching any session's dispatcher, so a slow or blocked
// session can never stall a publish or a delete.
type Broker struct {
	registry *TopicRegistry
	sessions *SessionTable
	logger   zerolog.Logger
}

// Config holds the tunables New needs to build a Broker's registry and
// session table. Zero values fall back to the package defaults.
type Config struct {
	HistoryCapacity     int
	DispatcherQueueSize int
}

func New(logger zerolog.Logger, cfg Config) *Broker {
	return &Broker{
		registry: NewTopicRegistry(cfg.HistoryCapacity),
		sessions: NewSessionTable(cfg.DispatcherQueueSize),
		logger:   logger,
	}
}

// AttachSession registers a new connection under clientID, returning its
// Session (and Dispatcher) for the transport layer to drain.
func (b *Broker) AttachSession(clientID string) *Session {
	return b.sessions.Attach(clientID, b.logger)
}

// RebindSession moves the session at oldID to newID in place, keeping
// its Dispatcher and any subscriptions intact. Used for the provisional
// to client-supplied id swap (spec §9); since no subscriptions exist
// under the provisional id before a client identifies itself, the
// registry needs no corresponding update.
func (b *Broker) RebindSession(oldID, newID string) *Session {
	return b.sessions.Rebind(oldID, newID)
}

// Session returns the attached session for id, if any, so transport can
// reach its Dispatcher directly (e.g. to drain it in a write pump).
func (b *Broker) Session(id string) (*Session, bool) {
	return b.sessions.Get(id)
}

// DetachSession removes clientID and unwinds its subscriptions from
// every topic it had joined, preserving invariant I1 (subscriber/
// subscription symmetry) even on abrupt disconnect.
func (b *Broker) DetachSession(clientID string) {
	topics := b.sessions.Detach(clientID)
	for _, t := range topics {
		if _, removed := b.registry.removeSubscriber(t, clientID); removed {
			metrics.SubscriptionsActive.Dec()
		}
	}
}

// CreateTopic registers a new, empty topic (control plane only).
func (b *Broker) CreateTopic(name string) *Error {
	err := b.registry.Create(name)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(err.Code)).Inc()
		return err
	}
	metrics.TopicsActive.Inc()
	return nil
}

// DeleteTopic removes a topic from the registry and then enqueues an info
// frame to every subscriber that was attached at the moment of removal.
// The frames are enqueued after the topic is gone: a publish or subscribe
// that reaches the registry in between already gets TOPIC_NOT_FOUND.
func (b *Broker) DeleteTopic(name string) *Error {
	subs, err := b.registry.Delete(name)
	if err != nil {
		metrics.ErrorsTotal.WithLabelValues(string(err.Code)).Inc()
		return err
	}
	metrics.TopicsActive.Dec()
	frame := Frame{Type: "info", Topic: name, Msg: "topic_deleted", TS: nowTS()}
	for _, clientID := range subs {
		if s, ok := b.sessions.Get(clientID); ok {
			s.removeSub(name)
			s.Dispatcher.Enqueue(frame)
			metrics.SubscriptionsActive.Dec()
		}
	}
	return nil
}

// ListTopics returns every topic's summary info.
func (b *Broker) ListTopics() []TopicInfo {
	return b.registry.List()
}

// TopicStats returns one topic's summary info.
func (b *Broker) TopicStats(name string) (TopicInfo, *Error) {
	return b.registry.Get(name)
}

// Stats aggregates totals across all topics. The control plane's GET
// /stats builds its per-topic view from ListTopics instead.
func (b *Broker) Stats() Stats {
	return b.registry.Stats()
}

// Health reports the broker-level counters the control plane folds into
// its health response: topic count, session count, and total
// subscriptions (counted with multiplicity across topics, matching the
// original implementation's get_health semantics), plus the distinct
// number of subscribed clients.
type Health struct {
	Topics            int
	Sessions          int
	Subscriptions     int
	DistinctSubscribers int
}

func (b *Broker) Health() Health {
	stats := b.registry.Stats()

	// DistinctSubscribers requires walking session->topic membership
	// rather than topic->subscriber sets, since a session counts once
	// regardless of how many topics it joined.
	distinct := make(map[string]struct{})
	b.sessions.mu.RLock()
	for id, s := range b.sessions.sessions {
		if len(s.Topics()) > 0 {
			distinct[id] = struct{}{}
		}
	}
	b.sessions.mu.RUnlock()

	return Health{
		Topics:              stats.TopicCount,
		Sessions:            b.sessions.Count(),
		Subscriptions:       stats.TotalSubscriptions,
		DistinctSubscribers: len(distinct),
	}
}

// Subscribe adds clientID to topic's subscriber set and mirrors the
// membership into the session's own subscription set (invariant I1). If
// lastN > 0, up to that many recent history entries are enqueued to the
// session's Dispatcher as event frames before Subscribe returns, so they
// precede any live event a concurrent publish enqueues afterwards
// (spec §4.4).
func (b *Broker) Subscribe(clientID, topicName string, lastN int) *Error {
	s, ok := b.sessions.Get(clientID)
	if !ok {
		return newErr(ErrInternal, "session not attached")
	}
	exists, added := b.registry.addSubscriber(topicName, clientID)
	if !exists {
		return newErr(ErrTopicNotFound, "topic not found")
	}
	s.addSub(topicName)
	if added {
		metrics.SubscriptionsActive.Inc()
	}

	if lastN > 0 {
		for _, env := range b.registry.replay(topicName, lastN) {
			s.Dispatcher.Enqueue(Frame{
				Type:    "event",
				Topic:   env.Topic,
				Message: env.Message,
				TS:      env.TS,
			})
		}
	}
	return nil
}

// Unsubscribe removes clientID from topic's subscriber set. Per spec §9
// this always succeeds for an attached session as long as the topic
// still exists, even if the client was never subscribed to it.
func (b *Broker) Unsubscribe(clientID, topicName string) *Error {
	s, ok := b.sessions.Get(clientID)
	if !ok {
		return newErr(ErrInternal, "session not attached")
	}
	exists, removed := b.registry.removeSubscriber(topicName, clientID)
	if !exists {
		return newErr(ErrTopicNotFound, "topic not found")
	}
	s.removeSub(topicName)
	if removed {
		metrics.SubscriptionsActive.Dec()
	}
	return nil
}

// Publish validates and appends msg to topic's history, then fans the
// resulting envelope out to every current subscriber's dispatcher. The
// subscriber snapshot is taken atomically with the history append under
// the registry lock, so a publish either lands in history before a
// concurrent DeleteTopic or fails with TOPIC_NOT_FOUND. The fan-out runs
// after that lock is released, so a subscriber can receive the event
// after the topic's topic_deleted frame.
func (b *Broker) Publish(topicName string, raw []byte) *Error {
	env, subs, err := b.registry.publish(topicName, raw)
	if err != nil {
		return err
	}
	metrics.MessagesPublished.Inc()

	frame := Frame{Type: "event", Topic: topicName, Message: env.Message, TS: env.TS}
	for _, clientID := range subs {
		if s, ok := b.sessions.Get(clientID); ok {
			s.Dispatcher.Enqueue(frame)
			metrics.MessagesDelivered.Inc()
		}
	}
	return nil
}
