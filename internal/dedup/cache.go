package dedup

import (
	"sync"
	"time"
)

// ContentTTL is the rolling window during which an identical command content
// hash is suppressed, regardless of which provider event produced it.
const ContentTTL = 10 * time.Second

// EventSet tracks provider event ids admitted during one session's lifetime.
// It is owned by a single session and discarded when the session closes.
type EventSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewEventSet() *EventSet {
	return &EventSet{seen: make(map[string]struct{})}
}

// Admit returns true exactly once per unique non-empty event id. An empty id
// cannot be deduplicated and is always admitted; callers must log the gap.
func (s *EventSet) Admit(eventID string) bool {
	if eventID == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[eventID]; ok {
		return false
	}
	s.seen[eventID] = struct{}{}
	return true
}

// Len reports how many distinct event ids have been admitted.
func (s *EventSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// ContentCache suppresses near-duplicate command content across all sessions
// within a rolling TTL window. Process-scoped; guarded by a single mutex since
// concurrent sessions may classify overlapping content.
type ContentCache struct {
	mu   sync.Mutex
	ttl  time.Duration
	now  func() time.Time
	seen map[string]time.Time
}

func NewContentCache(ttl time.Duration) *ContentCache {
	if ttl <= 0 {
		ttl = ContentTTL
	}
	return &ContentCache{
		ttl:  ttl,
		now:  time.Now,
		seen: make(map[string]time.Time),
	}
}

// Admit returns true iff the hash has not been admitted within the TTL
// window. A successful admission records the current time for the key.
// Expired records are pruned lazily on each call.
func (c *ContentCache) Admit(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, k)
		}
	}
	if at, ok := c.seen[hash]; ok && now.Sub(at) <= c.ttl {
		return false
	}
	c.seen[hash] = now
	return true
}
