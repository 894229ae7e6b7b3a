package broker

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestBroker() *Broker {
	return New(testLogger(), Config{HistoryCapacity: 100, DispatcherQueueSize: 64})
}

func validMessage(id string) []byte {
	data, _ := json.Marshal(map[string]any{"id": id, "payload": map[string]any{"t": 20}})
	return data
}

const (
	clientA = "11111111-1111-1111-1111-111111111111"
	clientB = "22222222-2222-2222-2222-222222222222"
	clientC = "33333333-3333-3333-3333-333333333333"
)

// drain reads every frame currently queued on d without blocking.
func drain(d *Dispatcher) []Frame {
	var out []Frame
	for {
		select {
		case f := <-d.Out():
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribePreservesInvariants(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))

	b.AttachSession(clientA)
	require.Nil(t, b.Subscribe(clientA, "weather", 0))

	info, berr := b.TopicStats("weather")
	require.Nil(t, berr)
	assert.Equal(t, 1, info.SubscriberCount)

	session, ok := b.Session(clientA)
	require.True(t, ok)
	assert.Contains(t, session.Topics(), "weather")

	require.Nil(t, b.Unsubscribe(clientA, "weather"))
	info, berr = b.TopicStats("weather")
	require.Nil(t, berr)
	assert.Equal(t, 0, info.SubscriberCount)
	assert.NotContains(t, session.Topics(), "weather")
}

func TestSubscribeUnknownTopic(t *testing.T) {
	b := newTestBroker()
	b.AttachSession(clientA)
	err := b.Subscribe(clientA, "ghost", 0)
	require.NotNil(t, err)
	assert.Equal(t, ErrTopicNotFound, err.Code)
}

// P4: double-subscribe yields one membership, so the topic's subscriber
// count (as reported by TopicStats) doesn't double count.
func TestSubscribeIdempotent(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))
	b.AttachSession(clientA)

	require.Nil(t, b.Subscribe(clientA, "weather", 0))
	require.Nil(t, b.Subscribe(clientA, "weather", 0))

	info, _ := b.TopicStats("weather")
	assert.Equal(t, 1, info.SubscriberCount)
}

// P4: double-unsubscribe after the first succeeds is a no-op, not an error,
// as long as the topic still exists.
func TestUnsubscribeIdempotent(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))
	b.AttachSession(clientA)
	require.Nil(t, b.Subscribe(clientA, "weather", 0))

	require.Nil(t, b.Unsubscribe(clientA, "weather"))
	require.Nil(t, b.Unsubscribe(clientA, "weather"))
}

func TestUnsubscribeUnknownTopic(t *testing.T) {
	b := newTestBroker()
	b.AttachSession(clientA)
	err := b.Unsubscribe(clientA, "ghost")
	require.NotNil(t, err)
	assert.Equal(t, ErrTopicNotFound, err.Code)
}

// P7: fan-out delivers one identical envelope to every subscriber.
func TestPublishFanOut(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))

	sessA := b.AttachSession(clientA)
	sessB := b.AttachSession(clientB)
	require.Nil(t, b.Subscribe(clientA, "weather", 0))
	require.Nil(t, b.Subscribe(clientB, "weather", 0))

	require.Nil(t, b.Publish("weather", validMessage(clientC)))

	framesA := drain(sessA.Dispatcher)
	framesB := drain(sessB.Dispatcher)
	require.Len(t, framesA, 1)
	require.Len(t, framesB, 1)
	assert.Equal(t, "event", framesA[0].Type)
	assert.Equal(t, "weather", framesA[0].Topic)
	assert.JSONEq(t, string(framesA[0].Message), string(framesB[0].Message))
	assert.Equal(t, framesA[0].TS, framesB[0].TS)
}

func TestPublishUnknownTopic(t *testing.T) {
	b := newTestBroker()
	err := b.Publish("ghost", validMessage(clientA))
	require.NotNil(t, err)
	assert.Equal(t, ErrTopicNotFound, err.Code)
}

// P5: malformed messages are rejected without mutating history or counters.
func TestPublishMalformedMessage(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
	}{
		{"missing id", []byte(`{"payload":{}}`)},
		{"non-uuid id", []byte(`{"id":"not-a-uuid","payload":{}}`)},
		{"missing payload", []byte(`{"id":"11111111-1111-1111-1111-111111111111"}`)},
		{"not an object", []byte(`"just a string"`)},
		{"empty", []byte(``)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBroker()
			require.Nil(t, b.CreateTopic("weather"))

			err := b.Publish("weather", tc.raw)
			require.NotNil(t, err)
			assert.Equal(t, ErrBadRequest, err.Code)

			info, _ := b.TopicStats("weather")
			assert.Zero(t, info.MessageCount)
		})
	}
}

// P2/P3: history stays bounded at 100 and replay returns exactly the
// requested tail in publish order.
func TestHistoryBoundedAndReplay(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))

	for i := 0; i < 150; i++ {
		require.Nil(t, b.Publish("weather", validMessage(fmt.Sprintf("%08d-0000-0000-0000-000000000000", i))))
	}

	info, _ := b.TopicStats("weather")
	assert.EqualValues(t, 150, info.MessageCount)

	replayed := b.registry.replay("weather", 1000)
	require.Len(t, replayed, 100)

	var first struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(replayed[0].Message, &first))
	assert.Equal(t, "00000050-0000-0000-0000-000000000000", first.ID)

	var last struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(replayed[len(replayed)-1].Message, &last))
	assert.Equal(t, "00000149-0000-0000-0000-000000000000", last.ID)
}

// P3: subscribe with last_n right after k publishes delivers exactly those
// k events, in order, before any later live event.
func TestSubscribeLastNReplayExactness(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))

	for i := 0; i < 3; i++ {
		require.Nil(t, b.Publish("weather", validMessage(fmt.Sprintf("%08d-0000-0000-0000-000000000000", i))))
	}

	sessC := b.AttachSession(clientC)
	require.Nil(t, b.Subscribe(clientC, "weather", 5))

	require.Nil(t, b.Publish("weather", validMessage("99999999-0000-0000-0000-000000000000")))

	frames := drain(sessC.Dispatcher)
	require.Len(t, frames, 4)

	for i := 0; i < 3; i++ {
		var payload struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(frames[i].Message, &payload))
		assert.Equal(t, fmt.Sprintf("%08d-0000-0000-0000-000000000000", i), payload.ID)
	}
	var last struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(frames[3].Message, &last))
	assert.Equal(t, "99999999-0000-0000-0000-000000000000", last.ID)
}

// P6: delete notifies every current subscriber with topic_deleted exactly
// once, and removes them from the topic.
func TestDeleteTopicNotifiesSubscribersOnce(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))

	sessA := b.AttachSession(clientA)
	sessB := b.AttachSession(clientB)
	require.Nil(t, b.Subscribe(clientA, "weather", 0))
	require.Nil(t, b.Subscribe(clientB, "weather", 0))

	require.Nil(t, b.DeleteTopic("weather"))

	for _, sess := range []*Session{sessA, sessB} {
		frames := drain(sess.Dispatcher)
		require.Len(t, frames, 1)
		assert.Equal(t, "info", frames[0].Type)
		assert.Equal(t, "topic_deleted", frames[0].Msg)
		assert.Equal(t, "weather", frames[0].Topic)
	}

	assert.Empty(t, sessA.Topics())
	assert.Empty(t, sessB.Topics())

	err := b.Publish("weather", validMessage(clientA))
	require.NotNil(t, err)
	assert.Equal(t, ErrTopicNotFound, err.Code)
}

func TestCreateTopicAlreadyExists(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))
	err := b.CreateTopic("weather")
	require.NotNil(t, err)
	assert.Equal(t, ErrAlreadyExists, err.Code)
}

func TestDeleteTopicNotFound(t *testing.T) {
	b := newTestBroker()
	err := b.DeleteTopic("ghost")
	require.NotNil(t, err)
	assert.Equal(t, ErrTopicNotFound, err.Code)
}

// I1: detaching a session unwinds its subscriptions from every topic it
// had joined, even on abrupt disconnect.
func TestDetachSessionUnwindsSubscriptions(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))
	require.Nil(t, b.CreateTopic("news"))
	b.AttachSession(clientA)
	require.Nil(t, b.Subscribe(clientA, "weather", 0))
	require.Nil(t, b.Subscribe(clientA, "news", 0))

	b.DetachSession(clientA)

	info, _ := b.TopicStats("weather")
	assert.Zero(t, info.SubscriberCount)
	info, _ = b.TopicStats("news")
	assert.Zero(t, info.SubscriberCount)

	_, ok := b.Session(clientA)
	assert.False(t, ok)
}

// Concurrency smoke test: many goroutines subscribing/publishing/
// unsubscribing concurrently must never panic and must leave I1/I2 intact.
func TestConcurrentSubscribePublishUnsubscribe(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))

	const n = 50
	errs := make(chan error, n*3)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("%08x-0000-0000-0000-000000000000", i)
			b.AttachSession(id)
			if err := b.Subscribe(id, "weather", 0); err != nil {
				errs <- err
			}
			if err := b.Publish("weather", validMessage(id)); err != nil {
				errs <- err
			}
			if err := b.Unsubscribe(id, "weather"); err != nil {
				errs <- err
			}
			b.DetachSession(id)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	info, _ := b.TopicStats("weather")
	assert.Zero(t, info.SubscriberCount)
	assert.EqualValues(t, n, info.MessageCount)
}

func TestHealthCountsDistinctSubscribers(t *testing.T) {
	b := newTestBroker()
	require.Nil(t, b.CreateTopic("weather"))
	require.Nil(t, b.CreateTopic("news"))
	b.AttachSession(clientA)
	b.AttachSession(clientB)
	require.Nil(t, b.Subscribe(clientA, "weather", 0))
	require.Nil(t, b.Subscribe(clientA, "news", 0))
	require.Nil(t, b.Subscribe(clientB, "weather", 0))

	h := b.Health()
	assert.Equal(t, 2, h.Topics)
	assert.Equal(t, 2, h.Sessions)
	assert.Equal(t, 3, h.Subscriptions)
	assert.Equal(t, 2, h.DistinctSubscribers)
}
