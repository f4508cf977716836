package timeline

import (
	"sync"

	"chatsync/pkg/models"
)

// ReplyCache holds resolved reply snapshots, partitioned by conversation.
// It is an explicit object owned by the timeline set and passed to each
// timeline by reference; entries are bounded to the currently loaded
// conversations and evicted when a conversation's timeline is closed.
type ReplyCache struct {
	mu      sync.Mutex
	byConv  map[string]map[string]*models.ReplySnapshot
	perConv int
}

// defaultRepliesPerConversation caps snapshots retained per conversation.
const defaultRepliesPerConversation = 256

// NewReplyCache creates a cache capping perConv snapshots per
// conversation (<=0 selects the default).
func NewReplyCache(perConv int) *ReplyCache {
	if perConv <= 0 {
		perConv = defaultRepliesPerConversation
	}
	return &ReplyCache{byConv: make(map[string]map[string]*models.ReplySnapshot), perConv: perConv}
}

// Get returns the cached snapshot for msgID within convID.
func (c *ReplyCache) Get(convID, msgID string) (*models.ReplySnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byConv[convID]
	if !ok {
		return nil, false
	}
	s, ok := m[msgID]
	return s, ok
}

// Put records a resolved snapshot. When a conversation's partition is
// full the snapshot is dropped; the reply preview for an uncached id
// simply resolves again later.
func (c *ReplyCache) Put(convID string, snap *models.ReplySnapshot) {
	if snap == nil || snap.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.byConv[convID]
	if !ok {
		m = make(map[string]*models.ReplySnapshot)
		c.byConv[convID] = m
	}
	if _, exists := m[snap.ID]; !exists && len(m) >= c.perConv {
		return
	}
	m[snap.ID] = snap
}

// Evict drops all snapshots cached for a conversation.
func (c *ReplyCache) Evict(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byConv, convID)
}

// Len returns the number of snapshots cached for a conversation.
func (c *ReplyCache) Len(convID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byConv[convID])
}
