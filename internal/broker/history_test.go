package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// I4: history length never exceeds capacity; eviction is strictly oldest-first.
func TestHistoryEvictsOldestFirst(t *testing.T) {
	h := newHistory(3)
	for i := 0; i < 5; i++ {
		h.append(Envelope{Topic: "t", TS: itoaTS(i)})
	}
	assert.Equal(t, 3, h.size)

	tail := h.tail(10)
	require.Len(t, tail, 3)
	assert.Equal(t, itoaTS(2), tail[0].TS)
	assert.Equal(t, itoaTS(3), tail[1].TS)
	assert.Equal(t, itoaTS(4), tail[2].TS)
}

func TestHistoryTailReturnsInsertionOrder(t *testing.T) {
	h := newHistory(100)
	for i := 0; i < 10; i++ {
		h.append(Envelope{Topic: "t", TS: itoaTS(i)})
	}

	tail := h.tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, []string{itoaTS(7), itoaTS(8), itoaTS(9)}, []string{tail[0].TS, tail[1].TS, tail[2].TS})
}

func TestHistoryTailClampsToSize(t *testing.T) {
	h := newHistory(100)
	h.append(Envelope{TS: "a"})
	h.append(Envelope{TS: "b"})

	tail := h.tail(50)
	require.Len(t, tail, 2)
}

func TestHistoryTailZeroOrEmpty(t *testing.T) {
	h := newHistory(10)
	assert.Nil(t, h.tail(5))
	assert.Nil(t, h.tail(0))

	h.append(Envelope{TS: "a"})
	assert.Nil(t, h.tail(0))
}

func TestHistoryFallsBackToDefaultCapacity(t *testing.T) {
	h := newHistory(0)
	assert.Equal(t, defaultHistoryCapacity, h.cap)
}

func itoaTS(i int) string {
	const digits = "0123456789"
	if i < 10 {
		return string(digits[i])
	}
	return string(digits[i/10]) + string(digits[i%10])
}
