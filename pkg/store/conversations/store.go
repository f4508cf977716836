// Package conversations holds the ordered conversation list: most
// recently active first, with denormalized last-message previews and
// unread counters. The store is mutated only through its documented
// methods; the event bus and the mutation handler are the only writers.
package conversations

import (
	"sort"
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// TombstonePreview replaces the last-message preview text when the
// previewed message is deleted.
const TombstonePreview = "message deleted"

// Store is the in-memory conversation list. All methods are safe for
// concurrent use.
type Store struct {
	mu        sync.RWMutex
	localUser string
	order     []*models.Conversation // head = most recently active
	byID      map[string]*models.Conversation
}

// New creates an empty store. localUser identifies the local user so
// incoming own messages never count as unread.
func New(localUser string) *Store {
	return &Store{localUser: localUser, byID: make(map[string]*models.Conversation)}
}

// LoadSnapshot replaces the list with the given conversations, sorted
// descending by UpdatedAt. Idempotent: loading the same snapshot twice
// yields the same state.
func (s *Store) LoadSnapshot(convs []models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.byID = make(map[string]*models.Conversation, len(convs))
	for i := range convs {
		c := convs[i]
		if c.ID == "" {
			continue
		}
		if c.UnreadCount < 0 {
			c.UnreadCount = 0
		}
		if _, dup := s.byID[c.ID]; dup {
			continue
		}
		cp := c
		s.byID[cp.ID] = &cp
		s.order = append(s.order, &cp)
	}
	sort.SliceStable(s.order, func(i, j int) bool {
		return s.order[i].UpdatedAt > s.order[j].UpdatedAt
	})
}

// ApplyNewConversation inserts a conversation announced over the push
// channel. Applying an already-known id is a no-op (the snapshot load
// remains the source of truth for its state).
func (s *Store) ApplyNewConversation(c models.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[c.ID]; ok {
		return
	}
	if c.UnreadCount < 0 {
		c.UnreadCount = 0
	}
	cp := c
	s.byID[cp.ID] = &cp
	s.insert(&cp)
}

// ApplyIncomingMessage updates the target conversation for a newly
// arrived message: bumps the preview and UpdatedAt, splices the
// conversation to the head of the list, and increments the unread
// counter unless the conversation is the currently open one or the
// sender is the local user. Unknown conversation ids are ignored; the
// next snapshot load will include them.
func (s *Store) ApplyIncomingMessage(msg models.Message, activeConvID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[msg.ConversationID]
	if !ok {
		logger.Debug("conv_store_unknown_conversation", "conversation", msg.ConversationID, "msg", msg.ID)
		return
	}
	mc := msg
	c.LastMessage = &mc
	if msg.CreatedAt > c.UpdatedAt {
		c.UpdatedAt = msg.CreatedAt
	}
	if msg.ConversationID != activeConvID && msg.SenderID != s.localUser && !msg.Pending {
		c.UnreadCount++
	}
	s.moveToFront(c)
}

// ApplyUpdatedMessage patches the preview in place when the edited
// message is the previewed one. Edits never reorder the list or touch
// unread counters.
func (s *Store) ApplyUpdatedMessage(msg models.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[msg.ConversationID]
	if !ok {
		logger.Debug("conv_store_unknown_conversation", "conversation", msg.ConversationID, "msg", msg.ID)
		return
	}
	if c.LastMessage == nil || c.LastMessage.ID != msg.ID {
		return
	}
	mc := msg
	mc.CreatedAt = c.LastMessage.CreatedAt
	c.LastMessage = &mc
}

// ApplyDeletedMessage reflects a message deletion in the conversation
// preview: if the deleted message is the previewed one its text is
// replaced with a tombstone, and the unread counter is decremented if
// the message had contributed to it (floored at zero).
func (s *Store) ApplyDeletedMessage(convID, msgID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		logger.Debug("conv_store_unknown_conversation", "conversation", convID, "msg", msgID)
		return
	}
	lm := c.LastMessage
	if lm == nil || lm.ID != msgID {
		return
	}
	if lm.SenderID != s.localUser && !c.ReadBy(s.localUser, lm) && c.UnreadCount > 0 {
		c.UnreadCount--
	}
	lm.Content = TombstonePreview
	lm.DeletedAt = lm.UpdatedAt
	if lm.DeletedAt == 0 {
		lm.DeletedAt = lm.CreatedAt
	}
}

// MarkRead zeroes the unread counter for the conversation and advances
// the local participant's last-read position to the newest message.
// Other conversations are unaffected.
func (s *Store) MarkRead(convID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		logger.Debug("conv_store_unknown_conversation", "conversation", convID)
		return
	}
	c.UnreadCount = 0
	if c.LastMessage == nil {
		return
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == s.localUser {
			if c.LastMessage.CreatedAt > c.Participants[i].LastReadAt {
				c.Participants[i].LastReadAt = c.LastMessage.CreatedAt
			}
			return
		}
	}
}

// ApplyRead applies a messages-read push event. For the local user it
// overwrites the conversation's unread counter with the server-computed
// value (clamped at zero); for a remote participant it advances that
// participant's last-read position.
func (s *Store) ApplyRead(userID string, unread int, convID string, readAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.byID[convID]
	if !ok {
		logger.Debug("conv_store_unknown_conversation", "conversation", convID, "user", userID)
		return
	}
	if userID == s.localUser {
		if unread < 0 {
			unread = 0
		}
		c.UnreadCount = unread
		return
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			if readAt > c.Participants[i].LastReadAt {
				c.Participants[i].LastReadAt = readAt
			}
			return
		}
	}
}

// Get returns a copy of the conversation, if known.
func (s *Store) Get(id string) (models.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[id]
	if !ok {
		return models.Conversation{}, false
	}
	return *c, true
}

// List returns a copy of the ordered conversation list.
func (s *Store) List() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.order))
	for _, c := range s.order {
		out = append(out, *c)
	}
	return out
}

// Len returns the number of known conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// TotalUnread sums unread counters across all conversations.
func (s *Store) TotalUnread() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.order {
		n += c.UnreadCount
	}
	return n
}

// insert places c at its UpdatedAt position; callers hold s.mu.
func (s *Store) insert(c *models.Conversation) {
	i := sort.Search(len(s.order), func(i int) bool {
		return s.order[i].UpdatedAt <= c.UpdatedAt
	})
	s.order = append(s.order, nil)
	copy(s.order[i+1:], s.order[i:])
	s.order[i] = c
}

// moveToFront re-splices c to the head of the order; callers hold s.mu.
func (s *Store) moveToFront(c *models.Conversation) {
	if len(s.order) > 0 && s.order[0] == c {
		return
	}
	for i, o := range s.order {
		if o == c {
			copy(s.order[1:i+1], s.order[:i])
			s.order[0] = c
			return
		}
	}
}
