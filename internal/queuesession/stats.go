package queuesession

import (
	"context"
	"sync"
	"time"

	"github.com/dawidpereira/quetty/internal/broker"
	"github.com/dawidpereira/quetty/internal/model"
)

type statsRequest struct {
	queue model.QueueIdentity
	reply chan statsResult
}

type statsResult struct {
	stats broker.QueueStats
	err   error
}

// StatisticsRequest forwards to the management surface, serving a
// cached value when one is still fresh (spec §4.4).
func (a *Actor) StatisticsRequest(ctx context.Context, queue model.QueueIdentity) (broker.QueueStats, error) {
	if stats, ok := a.stats.get(queue.WireName()); ok {
		return stats, nil
	}

	reply := make(chan statsResult, 1)
	req := &statsRequest{queue: queue, reply: reply}
	if err := a.send(ctx, req); err != nil {
		return broker.QueueStats{}, err
	}
	select {
	case res := <-reply:
		return res.stats, res.err
	case <-ctx.Done():
		return broker.QueueStats{}, ctx.Err()
	}
}

func (a *Actor) handleStats(ctx context.Context, req *statsRequest) {
	stats, err := a.mgmt.QueueStats(ctx, req.queue)
	if err != nil {
		req.reply <- statsResult{err: err}
		return
	}
	a.stats.set(req.queue.WireName(), stats)
	req.reply <- statsResult{stats: stats}
}

// statsCache is a small TTL cache of per-queue statistics. A periodic
// sweep (driven from Actor.Run's ticker) evicts expired entries instead
// of relying solely on lazy expiry-on-read, so a queue that falls out
// of use does not pin a stale entry in memory indefinitely — this is a
// refinement spec.md's TTL-cache language leaves unstated.
type statsCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]statsCacheEntry
}

type statsCacheEntry struct {
	stats     broker.QueueStats
	expiresAt time.Time
}

func newStatsCache(ttl time.Duration) *statsCache {
	return &statsCache{ttl: ttl, entries: make(map[string]statsCacheEntry)}
}

func (c *statsCache) get(key string) (broker.QueueStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return broker.QueueStats{}, false
	}
	return entry.stats, true
}

func (c *statsCache) set(key string, stats broker.QueueStats) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = statsCacheEntry{stats: stats, expiresAt: time.Now().Add(c.ttl)}
}

func (c *statsCache) evictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
