package subscription

import "sync"

// channelLocks serializes lease mutations per channel, so an overlapping
// renewal sweep and retry sweep cannot interleave the upsert-then-call
// sequence for the same lease. Entries are never removed; the set is bounded
// by the number of followed channels.
type channelLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newChannelLocks() *channelLocks {
	return &channelLocks{locks: map[string]*sync.Mutex{}}
}

func (c *channelLocks) lock(channelID string) (unlock func()) {
	c.mu.Lock()
	l, ok := c.locks[channelID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[channelID] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
