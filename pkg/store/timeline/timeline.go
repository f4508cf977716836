// Package timeline holds per-conversation message sequences: strictly
// ordered by (created_at, id), duplicate-free, merged from pagination
// pages and live push events through one merge function.
package timeline

import (
	"sync"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
)

// State is the per-conversation load state.
type State string

const (
	StateEmpty          State = "empty"
	StateLoadingInitial State = "loading_initial"
	StateReady          State = "ready"
	StateLoadingMore    State = "loading_more"
	StateError          State = "error"
)

// Timeline is one conversation's ordered message sequence. All methods
// are safe for concurrent use.
type Timeline struct {
	mu     sync.Mutex
	convID string

	msgs  []models.Message
	index map[string]int // message id -> position in msgs

	state   State
	lastErr error
	hasMore bool

	replies *ReplyCache
}

func newTimeline(convID string, replies *ReplyCache) *Timeline {
	return &Timeline{
		convID:  convID,
		index:   make(map[string]int),
		state:   StateEmpty,
		hasMore: true,
		replies: replies,
	}
}

// ConversationID returns the owning conversation's id.
func (t *Timeline) ConversationID() string { return t.convID }

// State returns the current load state.
func (t *Timeline) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastErr returns the error that moved the timeline into StateError.
func (t *Timeline) LastErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// HasMore reports whether older history remains to be fetched. A short
// page means history is exhausted.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Len returns the number of messages currently loaded.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.msgs)
}

// ConfirmedLen returns the number of server-confirmed messages loaded,
// excluding locally pending sends. Pagination offsets must count only
// rows the server knows about.
func (t *Timeline) ConfirmedLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.msgs {
		if !t.msgs[i].Pending {
			n++
		}
	}
	return n
}

// Messages returns a copy of the ordered sequence.
func (t *Timeline) Messages() []models.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]models.Message, len(t.msgs))
	copy(out, t.msgs)
	return out
}

// Get returns a copy of the message with the given id.
func (t *Timeline) Get(msgID string) (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.index[msgID]
	if !ok {
		return models.Message{}, false
	}
	return t.msgs[j], true
}

// BeginInitialLoad moves empty (or error, on retry) into loading_initial.
// Returns false if a load is already running or the first page is done.
func (t *Timeline) BeginInitialLoad() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateEmpty && t.state != StateError {
		return false
	}
	t.state = StateLoadingInitial
	t.lastErr = nil
	return true
}

// BeginLoadMore moves ready (or error, on retry) into loading_more when
// older history remains.
func (t *Timeline) BeginLoadMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateReady && t.state != StateError {
		return false
	}
	if !t.hasMore {
		return false
	}
	t.state = StateLoadingMore
	t.lastErr = nil
	return true
}

// Fail records a fetch failure; the state is recoverable, a retry
// re-enters loading via BeginInitialLoad/BeginLoadMore.
func (t *Timeline) Fail(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = StateError
	t.lastErr = err
	logger.Warn("timeline_load_failed", "conversation", t.convID, "error", err)
}

// ApplyPage merges one fetched page (served newest-first) into the
// sequence. The first page (offset 0) replaces the sequence — locally
// pending messages survive the replace — and later pages prepend. Either
// way every message funnels through the merge, so a page overlapping
// already-received live events re-overwrites instead of duplicating.
func (t *Timeline) ApplyPage(offset, pageSize int, page []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if offset == 0 {
		var pending []models.Message
		for _, m := range t.msgs {
			if m.Pending {
				pending = append(pending, m)
			}
		}
		t.msgs = t.msgs[:0]
		t.index = make(map[string]int, len(page)+len(pending))
		for _, m := range pending {
			t.merge(m)
		}
	}
	sortPage(page)
	for _, m := range page {
		t.patchReply(&m)
		outcome := t.merge(m)
		metrics.Merges.WithLabelValues(string(outcome)).Inc()
	}
	t.hasMore = len(page) == pageSize
	t.state = StateReady
	t.lastErr = nil
	metrics.PagesLoaded.Inc()
}

// AppendLive merges a live message and returns the mutation outcome for
// the scroll-anchoring contract.
func (t *Timeline) AppendLive(m models.Message) Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.patchReply(&m)
	outcome := t.merge(m)
	metrics.Merges.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// ApplyUpdate replaces a message's content fields in place. An unknown id
// is a no-op: the update refers to a page not yet loaded and will be
// correct once that page is fetched, the server being the source of
// truth for content.
func (t *Timeline) ApplyUpdate(m models.Message) Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.index[m.ID]
	if !ok {
		logger.Debug("timeline_update_unknown_msg", "conversation", t.convID, "msg", m.ID)
		return MutationNone
	}
	old := t.msgs[j]
	t.patchReply(&m)
	// Content edits never move a message; keep the original ordering key.
	m.CreatedAt = old.CreatedAt
	t.msgs[j] = m
	return MutationReplace
}

// ApplyTombstone soft-deletes a message in place: content cleared,
// deleted_at set. The entry stays in the sequence and renders as
// "message deleted". Unknown ids are no-ops.
func (t *Timeline) ApplyTombstone(msgID string, deletedAt int64) Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.index[msgID]
	if !ok {
		logger.Debug("timeline_tombstone_unknown_msg", "conversation", t.convID, "msg", msgID)
		return MutationNone
	}
	t.msgs[j].Content = ""
	t.msgs[j].DeletedAt = deletedAt
	t.msgs[j].UpdatedAt = deletedAt
	return MutationReplace
}

// Replace swaps an existing message (by id) for another, re-merging so a
// changed ordering key lands at the right position. Used by the mutation
// handler to exchange a temporary send for the server's canonical copy.
func (t *Timeline) Replace(oldID string, m models.Message) Mutation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if j, ok := t.index[oldID]; ok {
		t.removeAt(j)
	}
	t.patchReply(&m)
	outcome := t.merge(m)
	metrics.Merges.WithLabelValues(string(outcome)).Inc()
	return outcome
}

// Remove deletes a message outright and returns it. Only the mutation
// handler removes messages, and only ones it created (failed sends leave
// no orphaned entry behind).
func (t *Timeline) Remove(msgID string) (models.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j, ok := t.index[msgID]
	if !ok {
		return models.Message{}, false
	}
	m := t.msgs[j]
	t.removeAt(j)
	return m, true
}

// Restore re-merges a previously captured message verbatim (rollback of
// an optimistic edit or delete).
func (t *Timeline) Restore(m models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.merge(m)
}

// WantedReplies returns the distinct reply_to ids still lacking a
// resolved snapshot, for best-effort resolution.
func (t *Timeline) WantedReplies() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for i := range t.msgs {
		m := &t.msgs[i]
		if m.ReplyToID == "" || m.ReplyTo != nil {
			continue
		}
		if _, dup := seen[m.ReplyToID]; dup {
			continue
		}
		seen[m.ReplyToID] = struct{}{}
		out = append(out, m.ReplyToID)
	}
	return out
}

// ApplyReply patches every message replying to snap.ID with the resolved
// snapshot and records it in the reply cache. A failed resolution simply
// never calls this; the reply preview stays blank rather than blocking
// rendering.
func (t *Timeline) ApplyReply(snap *models.ReplySnapshot) int {
	if snap == nil || snap.ID == "" {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies.Put(t.convID, snap)
	n := 0
	for i := range t.msgs {
		if t.msgs[i].ReplyToID == snap.ID && t.msgs[i].ReplyTo == nil {
			t.msgs[i].ReplyTo = snap
			n++
		}
	}
	return n
}

// patchReply fills m.ReplyTo from the cache, or from the already-loaded
// sequence when the replied-to message is present. Callers hold t.mu.
func (t *Timeline) patchReply(m *models.Message) {
	if m.ReplyToID == "" || m.ReplyTo != nil {
		return
	}
	if snap, ok := t.replies.Get(t.convID, m.ReplyToID); ok {
		m.ReplyTo = snap
		return
	}
	if j, ok := t.index[m.ReplyToID]; ok {
		snap := t.msgs[j].Snapshot()
		t.replies.Put(t.convID, snap)
		m.ReplyTo = snap
	}
}
