package models

// MessageType enumerates the payload kinds a message can carry.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeDocument MessageType = "document"
	TypeAudio    MessageType = "audio"
)

// Message is one entry in a conversation timeline. Within a timeline
// messages are strictly ordered by (CreatedAt, ID) and IDs are unique.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Type           MessageType `json:"message_type"`
	// Content holds the text payload, or the file reference for
	// image/document/audio messages.
	Content string `json:"content"`
	// CreatedAt/UpdatedAt are Unix milliseconds. UpdatedAt equals
	// CreatedAt unless the message was edited.
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
	// DeletedAt marks a soft-deleted message (tombstone). The message
	// stays in the timeline and renders as "message deleted".
	DeletedAt int64 `json:"deleted_at,omitempty"`
	// ReplyToID references the replied-to message; ReplyTo is the lazily
	// resolved snapshot (may stay nil if resolution fails).
	ReplyToID string        `json:"reply_to_id,omitempty"`
	ReplyTo   *ReplySnapshot `json:"reply_to,omitempty"`
	// Likes is a denormalized like counter; Liked reflects the local
	// user's own like state.
	Likes int  `json:"likes,omitempty"`
	Liked bool `json:"liked,omitempty"`
	// Pending marks a locally created message awaiting server ack. Only
	// the mutation handler may create pending messages; they are never
	// received over the wire.
	Pending bool `json:"pending,omitempty"`
}

// ReplySnapshot is the denormalized preview of a replied-to message.
type ReplySnapshot struct {
	ID       string      `json:"id"`
	SenderID string      `json:"sender_id"`
	Type     MessageType `json:"message_type"`
	Content  string      `json:"content"`
}

// Deleted reports whether the message is a tombstone.
func (m *Message) Deleted() bool { return m.DeletedAt != 0 }

// Before reports whether m precedes o in timeline order: ascending
// CreatedAt, ties broken by ID.
func (m *Message) Before(o *Message) bool {
	if m.CreatedAt != o.CreatedAt {
		return m.CreatedAt < o.CreatedAt
	}
	return m.ID < o.ID
}

// Snapshot returns the reply preview form of the message.
func (m *Message) Snapshot() *ReplySnapshot {
	return &ReplySnapshot{ID: m.ID, SenderID: m.SenderID, Type: m.Type, Content: m.Content}
}
