package timeline

import (
	"errors"
	"testing"

	"chatsync/pkg/models"
)

func msg(id string, ts int64) models.Message {
	return models.Message{ID: id, ConversationID: "c1", SenderID: "u1", Type: models.TypeText, Content: "m-" + id, CreatedAt: ts}
}

func ids(t *Timeline) []string {
	msgs := t.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
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
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestMergeOrdersByCreatedAtThenID(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("b", 200))
	tl.AppendLive(msg("a", 100))
	tl.AppendLive(msg("c", 200))
	eq(t, ids(tl), []string{"a", "b", "c"}) // ties break by id
}

func TestMergeOutOfOrderArrival(t *testing.T) {
	// m1 and m3 arrive first, m2 trails; final order must not depend on
	// arrival order.
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("m1", 100))
	if got := tl.AppendLive(msg("m3", 300)); got != MutationAppend {
		t.Fatalf("expected append, got %s", got)
	}
	if got := tl.AppendLive(msg("m2", 200)); got != MutationPrepend {
		t.Fatalf("expected prepend for interior insert, got %s", got)
	}
	eq(t, ids(tl), []string{"m1", "m2", "m3"})
}

func TestConfirmedLenExcludesPending(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("m1", 100))
	tl.AppendLive(msg("m2", 200))
	local := msg("local-1", 300)
	local.Pending = true
	tl.AppendLive(local)

	if tl.Len() != 3 {
		t.Fatalf("expected 3 loaded, got %d", tl.Len())
	}
	if got := tl.ConfirmedLen(); got != 2 {
		t.Fatalf("pending send counted as server-confirmed: got %d want 2", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	tl := NewSet().Open("c1")
	m := msg("x", 100)
	tl.AppendLive(m)
	if got := tl.AppendLive(m); got != MutationReplace {
		t.Fatalf("same id same ts should replace in place, got %s", got)
	}
	if tl.Len() != 1 {
		t.Fatalf("duplicate merge grew the sequence: %d", tl.Len())
	}
}

func TestMergeMovedTimestampReinserts(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("a", 100))
	tl.AppendLive(msg("b", 300))
	// b's ordering key moves earlier (server-assigned timestamp)
	tl.AppendLive(msg("b", 50))
	eq(t, ids(tl), []string{"b", "a"})
	if tl.Len() != 2 {
		t.Fatalf("reinsert duplicated: %d", tl.Len())
	}
	got, ok := tl.Get("b")
	if !ok || got.CreatedAt != 50 {
		t.Fatalf("stale index after reinsert: %+v ok=%v", got, ok)
	}
}

func TestApplyPageOverlapWithLiveEvents(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.BeginInitialLoad()
	tl.AppendLive(msg("m5", 500)) // live event lands before the page
	tl.ApplyPage(0, 3, []models.Message{msg("m5", 500), msg("m4", 400), msg("m3", 300)})
	eq(t, ids(tl), []string{"m3", "m4", "m5"})
}

func TestApplyPageFirstPagePreservesPending(t *testing.T) {
	tl := NewSet().Open("c1")
	p := msg("local-1", 900)
	p.Pending = true
	tl.AppendLive(p)
	tl.AppendLive(msg("old", 100))
	tl.BeginInitialLoad()
	tl.ApplyPage(0, 2, []models.Message{msg("m2", 200), msg("m1", 150)})
	eq(t, ids(tl), []string{"m1", "m2", "local-1"})
	got, _ := tl.Get("local-1")
	if !got.Pending {
		t.Fatalf("pending flag lost across replace")
	}
}

func TestApplyPageHasMore(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.BeginInitialLoad()
	tl.ApplyPage(0, 3, []models.Message{msg("a", 1), msg("b", 2), msg("c", 3)})
	if !tl.HasMore() {
		t.Fatalf("full page must keep hasMore true")
	}
	tl.BeginLoadMore()
	tl.ApplyPage(3, 3, []models.Message{msg("z", 0)})
	if tl.HasMore() {
		t.Fatalf("short page must exhaust history")
	}
	if tl.BeginLoadMore() {
		t.Fatalf("load more allowed with exhausted history")
	}
}

func TestStateMachine(t *testing.T) {
	tl := NewSet().Open("c1")
	if tl.State() != StateEmpty {
		t.Fatalf("fresh timeline state = %s", tl.State())
	}
	if !tl.BeginInitialLoad() {
		t.Fatalf("initial load refused from empty")
	}
	if tl.BeginInitialLoad() {
		t.Fatalf("second initial load allowed while loading")
	}
	tl.Fail(errors.New("boom"))
	if tl.State() != StateError || tl.LastErr() == nil {
		t.Fatalf("fail not recorded: %s %v", tl.State(), tl.LastErr())
	}
	if !tl.BeginInitialLoad() {
		t.Fatalf("retry refused from error state")
	}
	tl.ApplyPage(0, 25, []models.Message{msg("a", 1)})
	if tl.State() != StateReady || tl.LastErr() != nil {
		t.Fatalf("page apply did not settle: %s %v", tl.State(), tl.LastErr())
	}
}

func TestApplyUpdateKeepsPosition(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("a", 100))
	tl.AppendLive(msg("b", 200))
	upd := msg("a", 999) // server copies sometimes carry a bumped ts
	upd.Content = "edited"
	upd.UpdatedAt = 999
	if got := tl.ApplyUpdate(upd); got != MutationReplace {
		t.Fatalf("update outcome = %s", got)
	}
	eq(t, ids(tl), []string{"a", "b"})
	cur, _ := tl.Get("a")
	if cur.Content != "edited" || cur.CreatedAt != 100 {
		t.Fatalf("update mangled the message: %+v", cur)
	}
}

func TestApplyUpdateUnknownIsNoop(t *testing.T) {
	tl := NewSet().Open("c1")
	if got := tl.ApplyUpdate(msg("ghost", 1)); got != MutationNone {
		t.Fatalf("unknown update outcome = %s", got)
	}
	if tl.Len() != 0 {
		t.Fatalf("unknown update inserted a message")
	}
}

func TestApplyTombstone(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("a", 100))
	if got := tl.ApplyTombstone("a", 500); got != MutationReplace {
		t.Fatalf("tombstone outcome = %s", got)
	}
	cur, _ := tl.Get("a")
	if cur.Content != "" || cur.DeletedAt != 500 || !cur.Deleted() {
		t.Fatalf("tombstone incomplete: %+v", cur)
	}
	if tl.Len() != 1 {
		t.Fatalf("tombstone removed the entry")
	}
}

func TestReplaceTempWithCanonical(t *testing.T) {
	tl := NewSet().Open("c1")
	tmp := msg("local-1", 900)
	tmp.Pending = true
	tl.AppendLive(tmp)
	canonical := msg("srv-1", 905)
	if got := tl.Replace("local-1", canonical); got != MutationAppend {
		t.Fatalf("replace outcome = %s", got)
	}
	if _, ok := tl.Get("local-1"); ok {
		t.Fatalf("temp id survived the swap")
	}
	if cur, ok := tl.Get("srv-1"); !ok || cur.Pending {
		t.Fatalf("canonical not in place: %+v ok=%v", cur, ok)
	}
}

func TestRemoveAndRestore(t *testing.T) {
	tl := NewSet().Open("c1")
	tl.AppendLive(msg("a", 100))
	tl.AppendLive(msg("b", 200))
	prior, ok := tl.Remove("a")
	if !ok || tl.Len() != 1 {
		t.Fatalf("remove failed: ok=%v len=%d", ok, tl.Len())
	}
	tl.Restore(prior)
	eq(t, ids(tl), []string{"a", "b"})
}

func TestReplyResolution(t *testing.T) {
	set := NewSet()
	tl := set.Open("c1")
	reply := msg("r1", 200)
	reply.ReplyToID = "orig"
	tl.AppendLive(reply)

	wanted := tl.WantedReplies()
	if len(wanted) != 1 || wanted[0] != "orig" {
		t.Fatalf("wanted = %v", wanted)
	}

	snap := &models.ReplySnapshot{ID: "orig", SenderID: "u2", Content: "hello"}
	if n := tl.ApplyReply(snap); n != 1 {
		t.Fatalf("patched %d messages", n)
	}
	cur, _ := tl.Get("r1")
	if cur.ReplyTo == nil || cur.ReplyTo.Content != "hello" {
		t.Fatalf("reply snapshot not attached: %+v", cur.ReplyTo)
	}
	if len(tl.WantedReplies()) != 0 {
		t.Fatalf("resolved reply still wanted")
	}

	// later arrivals replying to the same message resolve from the cache
	late := msg("r2", 300)
	late.ReplyToID = "orig"
	tl.AppendLive(late)
	cur2, _ := tl.Get("r2")
	if cur2.ReplyTo == nil || cur2.ReplyTo.ID != "orig" {
		t.Fatalf("cache miss for resolved reply: %+v", cur2.ReplyTo)
	}
}

func TestReplyResolvedFromLoadedSequence(t *testing.T) {
	tl := NewSet().Open("c1")
	orig := msg("orig", 100)
	orig.Content = "first"
	tl.AppendLive(orig)
	reply := msg("r1", 200)
	reply.ReplyToID = "orig"
	tl.AppendLive(reply)
	cur, _ := tl.Get("r1")
	if cur.ReplyTo == nil || cur.ReplyTo.Content != "first" {
		t.Fatalf("in-sequence reply not resolved: %+v", cur.ReplyTo)
	}
	if len(tl.WantedReplies()) != 0 {
		t.Fatalf("in-sequence reply still wanted")
	}
}

func TestSetOpenCloseEvictsReplies(t *testing.T) {
	set := NewSet()
	tl := set.Open("c1")
	reply := msg("r1", 100)
	reply.ReplyToID = "orig"
	tl.AppendLive(reply)
	tl.ApplyReply(&models.ReplySnapshot{ID: "orig", Content: "x"})
	if set.Replies().Len("c1") == 0 {
		t.Fatalf("reply cache empty after resolution")
	}
	set.Close("c1")
	if set.Replies().Len("c1") != 0 {
		t.Fatalf("close left reply cache entries behind")
	}
	if _, ok := set.Peek("c1"); ok {
		t.Fatalf("closed timeline still open")
	}
}
