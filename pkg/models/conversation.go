package models

// Participant is a conversation member plus their last-read position.
type Participant struct {
	UserID string `json:"user_id"`
	// LastReadAt is the Unix-millisecond timestamp of the newest message
	// this participant has read. A message is considered read by a
	// participant when CreatedAt <= LastReadAt.
	LastReadAt int64 `json:"last_read_at"`
}

// Conversation is a set of participants plus denormalized preview state
// for the conversation list. Conversations are never deleted locally;
// only preview and unread state change after creation.
type Conversation struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
	// LastMessage is the denormalized preview of the newest message;
	// nil for a conversation with no messages yet.
	LastMessage *Message `json:"last_message,omitempty"`
	// UnreadCount is recomputed from read-receipt state, clamped at zero.
	UnreadCount int `json:"unread_count"`
	// UpdatedAt (Unix millis) orders the conversation list, newest first.
	UpdatedAt int64 `json:"updated_at"`
}

// Has reports whether userID participates in the conversation.
func (c *Conversation) Has(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// ReadBy reports whether the given participant has read msg, derived from
// the participant's last-read timestamp. Unknown participants count as
// unread.
func (c *Conversation) ReadBy(userID string, msg *Message) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return msg.CreatedAt <= p.LastReadAt
		}
	}
	return false
}
