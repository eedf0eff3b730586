package ingestion

import (
	"sync"
	"time"

	"restaurant-sync/internal/ingestion/platforms"
)

// pendingBuffer holds status updates that arrived before the order they
// refer to. Entries expire after ttl and each key keeps at most perKey
// entries, oldest dropped first.
type pendingBuffer struct {
	mu     sync.Mutex
	ttl    time.Duration
	perKey int
	now    func() time.Time
	items  map[string][]pendingUpdate
}

type pendingUpdate struct {
	env        platforms.Envelope
	receivedAt time.Time
}

func newPendingBuffer(ttl time.Duration, perKey int, now func() time.Time) *pendingBuffer {
	return &pendingBuffer{
		ttl:    ttl,
		perKey: perKey,
		now:    now,
		items:  make(map[string][]pendingUpdate),
	}
}

func pendingKey(platform, externalOrderID string) string {
	return platform + "\x00" + externalOrderID
}

// add reports whether an older entry had to be dropped to make room.
func (b *pendingBuffer) add(key string, env platforms.Envelope) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.fresh(b.items[key])
	dropped := false
	if len(list) >= b.perKey {
		list = list[len(list)-b.perKey+1:]
		dropped = true
	}
	b.items[key] = append(list, pendingUpdate{env: env, receivedAt: b.now()})
	return dropped
}

// take removes and returns the unexpired entries for key in arrival order.
func (b *pendingBuffer) take(key string) []platforms.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.fresh(b.items[key])
	delete(b.items, key)
	out := make([]platforms.Envelope, 0, len(list))
	for _, p := range list {
		out = append(out, p.env)
	}
	return out
}

// sweep drops expired entries and returns how many keys remain.
func (b *pendingBuffer) sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k, list := range b.items {
		if list = b.fresh(list); len(list) == 0 {
			delete(b.items, k)
		} else {
			b.items[k] = list
		}
	}
	return len(b.items)
}

func (b *pendingBuffer) fresh(list []pendingUpdate) []pendingUpdate {
	cutoff := b.now().Add(-b.ttl)
	i := 0
	for i < len(list) && list[i].receivedAt.Before(cutoff) {
		i++
	}
	return list[i:]
}
