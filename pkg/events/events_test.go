package events

import (
	"errors"
	"testing"
)

func TestDecodeNewMessage(t *testing.T) {
	data := []byte(`{"id":"m1","conversation_id":"c1","sender_id":"u2","message_type":"text","content":"hi","created_at":1700000000000,"updated_at":1700000000000}`)
	ev, err := Decode("new-message", data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	nm, ok := ev.(NewMessage)
	if !ok {
		t.Fatalf("wrong type %T", ev)
	}
	if nm.Message.ID != "m1" || nm.Message.ConversationID != "c1" || nm.Message.CreatedAt != 1700000000000 {
		t.Fatalf("fields lost: %+v", nm.Message)
	}
}

func TestDecodeDoubleEncodedPayload(t *testing.T) {
	// the push transport delivers event data as a JSON-encoded string
	data := []byte(`"{\"id\":\"m1\",\"conversation_id\":\"c1\",\"sender_id\":\"u2\",\"message_type\":\"text\",\"content\":\"hi\",\"created_at\":1,\"updated_at\":1}"`)
	ev, err := Decode("new-message", data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if ev.(NewMessage).Message.ID != "m1" {
		t.Fatalf("double-encoded payload not normalized")
	}
}

func TestDecodeMessageUpdatedSharesShape(t *testing.T) {
	data := []byte(`{"id":"m1","conversation_id":"c1","sender_id":"u2","message_type":"text","content":"edited","created_at":1,"updated_at":2}`)
	ev, err := Decode("message-updated", data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if _, ok := ev.(MessageUpdated); !ok {
		t.Fatalf("wrong type %T", ev)
	}
}

func TestDecodeMessageDeleted(t *testing.T) {
	ev, err := Decode("message-deleted", []byte(`{"conversation_id":"c1","message_id":"m1"}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	md := ev.(MessageDeleted)
	if md.ConversationID != "c1" || md.MessageID != "m1" {
		t.Fatalf("fields lost: %+v", md)
	}
}

func TestDecodeMessagesRead(t *testing.T) {
	ev, err := Decode("messages-read", []byte(`{"user_id":"u2","unread_count":3,"conversation_id":"c1","read_at":5}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	mr := ev.(MessagesRead)
	if mr.UserID != "u2" || mr.UnreadCount != 3 || mr.ReadAt != 5 {
		t.Fatalf("fields lost: %+v", mr)
	}
}

func TestDecodeNewConversation(t *testing.T) {
	ev, err := Decode("new-conversation", []byte(`{"id":"c9","participants":[{"user_id":"u1"},{"user_id":"u2"}],"updated_at":7}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	nc := ev.(NewConversation)
	if nc.Conversation.ID != "c9" || len(nc.Conversation.Participants) != 2 {
		t.Fatalf("fields lost: %+v", nc.Conversation)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode("typing-indicator", []byte(`{}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestDecodeMalformedAndMissingIDs(t *testing.T) {
	if _, err := Decode("new-message", []byte(`{not json`)); err == nil {
		t.Fatalf("malformed payload accepted")
	}
	if _, err := Decode("new-message", []byte(`{"content":"no ids"}`)); err == nil {
		t.Fatalf("payload without ids accepted")
	}
	if _, err := Decode("message-deleted", []byte(`{"message_id":"m1"}`)); err == nil {
		t.Fatalf("deletion without conversation id accepted")
	}
	if _, err := Decode("messages-read", []byte(`{"unread_count":1}`)); err == nil {
		t.Fatalf("read receipt without user accepted")
	}
}
