package protect

import (
	"fmt"
	"sync"
	"time"
)

type cacheEntry struct {
	answer  Answer
	gen     uint64
	expires time.Time
}

// answerCache memoises environment (actor-less) answers per position.
// Entries from an older registry generation are treated as misses.
type answerCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newAnswerCache(ttl time.Duration, max int) *answerCache {
	if ttl <= 0 || max <= 0 {
		return nil
	}
	return &answerCache{ttl: ttl, max: max, entries: make(map[string]cacheEntry)}
}

func cacheKey(q Query) string {
	return fmt.Sprintf("%s:%d,%d,%d:%s", q.World, q.Pos.X, q.Pos.Y, q.Pos.Z, q.Action)
}

func (c *answerCache) get(key string, gen uint64, now time.Time) (Answer, bool) {
	if c == nil {
		return Answer{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.gen != gen || !now.Before(e.expires) {
		return Answer{}, false
	}
	return e.answer.clone(), true
}

func (c *answerCache) put(key string, gen uint64, a Answer, now time.Time) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.max {
		for k, e := range c.entries {
			if e.gen != gen || !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
		if len(c.entries) >= c.max {
			return
		}
	}
	c.entries[key] = cacheEntry{answer: a.clone(), gen: gen, expires: now.Add(c.ttl)}
}

func (c *answerCache) clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *answerCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
