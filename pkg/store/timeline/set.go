package timeline

import (
	"sync"

	"chatsync/pkg/metrics"
)

// Set owns one Timeline per open conversation plus the shared reply
// cache. Timelines are created on first open and evicted, together with
// their cached reply snapshots, when closed.
type Set struct {
	mu      sync.Mutex
	byConv  map[string]*Timeline
	replies *ReplyCache
}

// NewSet creates an empty timeline set.
func NewSet() *Set {
	return &Set{byConv: make(map[string]*Timeline), replies: NewReplyCache(0)}
}

// Open returns the conversation's timeline, creating it on first use.
func (s *Set) Open(convID string) *Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byConv[convID]
	if !ok {
		t = newTimeline(convID, s.replies)
		s.byConv[convID] = t
		metrics.OpenTimelines.Set(float64(len(s.byConv)))
	}
	return t
}

// Peek returns the timeline only if it is already open.
func (s *Set) Peek(convID string) (*Timeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byConv[convID]
	return t, ok
}

// Close evicts a conversation's timeline and its reply snapshots.
func (s *Set) Close(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byConv[convID]; !ok {
		return
	}
	delete(s.byConv, convID)
	s.replies.Evict(convID)
	metrics.OpenTimelines.Set(float64(len(s.byConv)))
}

// Len returns the number of open timelines.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byConv)
}

// Replies exposes the shared reply cache.
func (s *Set) Replies() *ReplyCache { return s.replies }
