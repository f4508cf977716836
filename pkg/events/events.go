// Package events defines the typed domain events delivered over the push
// channel and the decode step that narrows raw payloads into them. Raw
// payloads are validated here once; stores and timelines only ever see
// one of the five named event types.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"chatsync/pkg/models"
)

// Kind names the five push event kinds of the channel contract.
type Kind string

const (
	KindNewConversation Kind = "new-conversation"
	KindNewMessage      Kind = "new-message"
	KindMessageUpdated  Kind = "message-updated"
	KindMessageDeleted  Kind = "message-deleted"
	KindMessagesRead    Kind = "messages-read"
)

// ErrUnknownEvent is returned for event names outside the contract.
// Callers drop such events rather than guessing at their shape.
var ErrUnknownEvent = errors.New("unknown push event")

// Event is one decoded push event.
type Event interface {
	Kind() Kind
}

// NewConversation announces a conversation the client may not have seen.
type NewConversation struct {
	Conversation models.Conversation
}

func (NewConversation) Kind() Kind { return KindNewConversation }

// NewMessage carries a freshly created message.
type NewMessage struct {
	Message models.Message
}

func (NewMessage) Kind() Kind { return KindNewMessage }

// MessageUpdated carries the full post-edit message.
type MessageUpdated struct {
	Message models.Message
}

func (MessageUpdated) Kind() Kind { return KindMessageUpdated }

// MessageDeleted identifies a soft-deleted message.
type MessageDeleted struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

func (MessageDeleted) Kind() Kind { return KindMessageDeleted }

// MessagesRead reports a participant's read state: on the user channel it
// carries the local user's aggregate unread count; on a conversation
// channel it reports the reading participant.
type MessagesRead struct {
	UserID         string `json:"user_id"`
	UnreadCount    int    `json:"unread_count"`
	ConversationID string `json:"conversation_id,omitempty"`
	ReadAt         int64  `json:"read_at,omitempty"`
}

func (MessagesRead) Kind() Kind { return KindMessagesRead }

// Decode validates and narrows a raw push payload into a typed Event.
// The payload may arrive double-encoded (a JSON string containing JSON),
// which is normalized first. Unrecognized names return ErrUnknownEvent;
// recognized names with malformed payloads return a decode error. In both
// cases the caller ignores the event.
func Decode(name string, data []byte) (Event, error) {
	data = unquote(data)
	switch Kind(name) {
	case KindNewConversation:
		var c models.Conversation
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if c.ID == "" {
			return nil, fmt.Errorf("decode %s: missing conversation id", name)
		}
		return NewConversation{Conversation: c}, nil
	case KindNewMessage, KindMessageUpdated:
		var m models.Message
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if m.ID == "" || m.ConversationID == "" {
			return nil, fmt.Errorf("decode %s: missing ids", name)
		}
		if Kind(name) == KindNewMessage {
			return NewMessage{Message: m}, nil
		}
		return MessageUpdated{Message: m}, nil
	case KindMessageDeleted:
		var ev MessageDeleted
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if ev.ConversationID == "" || ev.MessageID == "" {
			return nil, fmt.Errorf("decode %s: missing ids", name)
		}
		return ev, nil
	case KindMessagesRead:
		var ev MessagesRead
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		if ev.UserID == "" {
			return nil, fmt.Errorf("decode %s: missing user id", name)
		}
		return ev, nil
	default:
		return nil, ErrUnknownEvent
	}
}

// unquote unwraps a payload that arrived as a JSON-encoded string (the
// push transport encodes event data that way).
func unquote(data []byte) []byte {
	if len(data) == 0 || data[0] != '"' {
		return data
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return data
	}
	return []byte(s)
}
