package ingestion

import (
	"testing"
	"time"

	"restaurant-sync/internal/ingestion/platforms"

	"github.com/stretchr/testify/assert"
)

func TestPendingBuffer(t *testing.T) {
	t.Parallel()

	c := &clock{t: time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC)}
	b := newPendingBuffer(time.Minute, 2, c.now)
	key := pendingKey("swiggy", "SW-1")

	assert.False(t, b.add(key, platforms.Envelope{Status: "ACCEPTED"}))
	c.advance(10 * time.Second)
	assert.False(t, b.add(key, platforms.Envelope{Status: "PREPARING"}))
	assert.True(t, b.add(key, platforms.Envelope{Status: "READY_FOR_PICKUP"}))
	b.add(pendingKey("zomato", "SW-1"), platforms.Envelope{Status: "READY"})
	assert.Equal(t, 2, b.sweep())

	got := b.take(key)
	assert.Equal(t, []platforms.Envelope{{Status: "PREPARING"}, {Status: "READY_FOR_PICKUP"}}, got)
	assert.Empty(t, b.take(key))

	c.advance(2 * time.Minute)
	assert.Zero(t, b.sweep())
	assert.Empty(t, b.take(pendingKey("zomato", "SW-1")))
}
