package session

import (
	"sync"
	"time"

	"github.com/user/hatsuka/internal/trend"
)

// MessageCache keeps a bounded per-channel window of recent messages for
// the trend engine. Eviction is by size and by age.
type MessageCache struct {
	maxPerChannel int
	maxAge        time.Duration
	now           func() time.Time

	mu       sync.Mutex
	channels map[string][]cachedEntry
}

type cachedEntry struct {
	msg  trend.CachedMessage
	seen time.Time
}

// NewMessageCache creates a cache holding up to maxPerChannel messages per
// channel, dropping entries older than maxAge.
func NewMessageCache(maxPerChannel int, maxAge time.Duration) *MessageCache {
	if maxPerChannel <= 0 {
		maxPerChannel = 50
	}
	if maxAge <= 0 {
		maxAge = time.Hour
	}
	return &MessageCache{
		maxPerChannel: maxPerChannel,
		maxAge:        maxAge,
		now:           time.Now,
		channels:      make(map[string][]cachedEntry),
	}
}

// Add appends a message to the channel window, evicting by size and age.
func (c *MessageCache) Add(channelID string, msg trend.CachedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := append(c.channels[channelID], cachedEntry{msg: msg, seen: c.now()})
	entries = c.evict(entries)
	c.channels[channelID] = entries
}

// Recent returns up to n most recent messages, oldest first.
func (c *MessageCache) Recent(channelID string, n int) []trend.CachedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.evict(c.channels[channelID])
	c.channels[channelID] = entries

	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	out := make([]trend.CachedMessage, len(entries))
	for i, e := range entries {
		out[i] = e.msg
	}
	return out
}

func (c *MessageCache) evict(entries []cachedEntry) []cachedEntry {
	cutoff := c.now().Add(-c.maxAge)
	for len(entries) > 0 && entries[0].seen.Before(cutoff) {
		entries = entries[1:]
	}
	if len(entries) > c.maxPerChannel {
		entries = entries[len(entries)-c.maxPerChannel:]
	}
	return entries
}
