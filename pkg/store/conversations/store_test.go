package conversations

import (
	"testing"

	"chatsync/pkg/models"
)

const me = "u-local"

func conv(id string, updatedAt int64, participants ...string) models.Conversation {
	c := models.Conversation{ID: id, UpdatedAt: updatedAt}
	for _, p := range participants {
		c.Participants = append(c.Participants, models.Participant{UserID: p})
	}
	return c
}

func msg(id, convID, sender string, ts int64) models.Message {
	return models.Message{ID: id, ConversationID: convID, SenderID: sender, Type: models.TypeText, Content: "m-" + id, CreatedAt: ts, UpdatedAt: ts}
}

func order(s *Store) []string {
	var out []string
	for _, c := range s.List() {
		out = append(out, c.ID)
	}
	return out
}

func eq(t *testing.T, got, want []string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("order mismatch: got %v want %v", got, want)
		}
	}
}

func TestLoadSnapshotSortsAndClamps(t *testing.T) {
	s := New(me)
	c := conv("c2", 200, me)
	c.UnreadCount = -3
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me), c, conv("c3", 300, me)})
	eq(t, order(s), []string{"c3", "c2", "c1"})
	got, _ := s.Get("c2")
	if got.UnreadCount != 0 {
		t.Fatalf("negative unread not clamped: %d", got.UnreadCount)
	}
	// idempotent
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me), conv("c2", 200, me), conv("c3", 300, me)})
	eq(t, order(s), []string{"c3", "c2", "c1"})
}

func TestApplyNewConversation(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me)})
	s.ApplyNewConversation(conv("c2", 200, me))
	eq(t, order(s), []string{"c2", "c1"})
	// known id is a no-op
	dup := conv("c1", 999, me)
	dup.UnreadCount = 7
	s.ApplyNewConversation(dup)
	got, _ := s.Get("c1")
	if got.UnreadCount != 0 || got.UpdatedAt != 100 {
		t.Fatalf("duplicate announce mutated state: %+v", got)
	}
}

func TestIncomingMessageBumpsAndReorders(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("a", 300, me, "u2"), conv("b", 200, me, "u2"), conv("c", 100, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "c", "u2", 400), "")
	eq(t, order(s), []string{"c", "a", "b"})
	got, _ := s.Get("c")
	if got.UnreadCount != 1 || got.LastMessage == nil || got.LastMessage.ID != "m1" || got.UpdatedAt != 400 {
		t.Fatalf("bump incomplete: %+v", got)
	}
	if s.TotalUnread() != 1 {
		t.Fatalf("total unread = %d", s.TotalUnread())
	}
}

func TestIncomingMessageActiveConversationStaysRead(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "c1", "u2", 200), "c1")
	got, _ := s.Get("c1")
	if got.UnreadCount != 0 {
		t.Fatalf("open conversation accrued unread: %d", got.UnreadCount)
	}
}

func TestIncomingOwnMessageNotUnread(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "c1", me, 200), "")
	got, _ := s.Get("c1")
	if got.UnreadCount != 0 {
		t.Fatalf("own message counted unread: %d", got.UnreadCount)
	}
}

func TestIncomingMessageUnknownConversationIgnored(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me)})
	s.ApplyIncomingMessage(msg("m1", "ghost", "u2", 200), "")
	if s.Len() != 1 {
		t.Fatalf("unknown conversation materialized")
	}
}

func TestUpdatedMessagePatchesPreviewInPlace(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("a", 100, me, "u2"), conv("b", 200, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "a", "u2", 300), "")
	eq(t, order(s), []string{"a", "b"})

	edit := msg("m1", "a", "u2", 300)
	edit.Content = "edited"
	edit.UpdatedAt = 400
	s.ApplyUpdatedMessage(edit)
	eq(t, order(s), []string{"a", "b"}) // edits never reorder
	got, _ := s.Get("a")
	if got.LastMessage.Content != "edited" || got.UnreadCount != 1 {
		t.Fatalf("preview patch wrong: %+v", got)
	}

	// edit of a non-previewed message is a no-op
	other := msg("m0", "a", "u2", 50)
	other.Content = "older"
	s.ApplyUpdatedMessage(other)
	got, _ = s.Get("a")
	if got.LastMessage.ID != "m1" {
		t.Fatalf("non-preview edit replaced preview: %+v", got.LastMessage)
	}
}

func TestDeletedMessageTombstonesPreview(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "c1", "u2", 200), "")
	s.ApplyDeletedMessage("c1", "m1")
	got, _ := s.Get("c1")
	if got.LastMessage.Content != TombstonePreview {
		t.Fatalf("preview not tombstoned: %q", got.LastMessage.Content)
	}
	if got.UnreadCount != 0 {
		t.Fatalf("deleting the unread message left counter at %d", got.UnreadCount)
	}
	// repeated delete must not go negative
	s.ApplyDeletedMessage("c1", "m1")
	got, _ = s.Get("c1")
	if got.UnreadCount != 0 {
		t.Fatalf("unread went negative: %d", got.UnreadCount)
	}
}

func TestMarkRead(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("a", 100, me, "u2"), conv("b", 100, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "a", "u2", 200), "")
	s.ApplyIncomingMessage(msg("m2", "b", "u2", 200), "")
	s.MarkRead("a")
	a, _ := s.Get("a")
	b, _ := s.Get("b")
	if a.UnreadCount != 0 || b.UnreadCount != 1 {
		t.Fatalf("mark read leaked: a=%d b=%d", a.UnreadCount, b.UnreadCount)
	}
	if !a.ReadBy(me, a.LastMessage) {
		t.Fatalf("local last-read not advanced")
	}
}

func TestApplyReadLocalAndRemote(t *testing.T) {
	s := New(me)
	s.LoadSnapshot([]models.Conversation{conv("c1", 100, me, "u2")})
	s.ApplyIncomingMessage(msg("m1", "c1", "u2", 200), "")

	// server-computed unread for the local user wins
	s.ApplyRead(me, 0, "c1", 250)
	got, _ := s.Get("c1")
	if got.UnreadCount != 0 {
		t.Fatalf("local read not applied: %d", got.UnreadCount)
	}

	// remote participant advances their last-read position
	s.ApplyRead("u2", 0, "c1", 300)
	got, _ = s.Get("c1")
	if !got.ReadBy("u2", got.LastMessage) {
		t.Fatalf("remote read position not advanced")
	}

	// stale receipt never rewinds
	s.ApplyRead("u2", 0, "c1", 10)
	got, _ = s.Get("c1")
	if !got.ReadBy("u2", got.LastMessage) {
		t.Fatalf("stale receipt rewound read position")
	}
}
