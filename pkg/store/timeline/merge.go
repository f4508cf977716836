package timeline

import (
	"sort"

	"chatsync/pkg/models"
)

// Mutation describes how a merge changed the sequence, so the rendering
// layer can keep the viewport stable: preserve the scroll offset on a
// prepend, auto-scroll on an append when already at the bottom, and do
// nothing for an in-place replace.
type Mutation string

const (
	MutationNone    Mutation = "none"
	MutationPrepend Mutation = "prepend"
	MutationAppend  Mutation = "append"
	MutationReplace Mutation = "replace"
)

// merge inserts m into the sorted sequence, or overwrites an existing
// message with the same id. This is the single ordering authority: every
// write path (pagination, live events, optimistic writes, rollback)
// funnels through it, so the final order is invariant to arrival order
// and the same message arriving via both a page and a live event never
// duplicates. Callers hold t.mu.
func (t *Timeline) merge(m models.Message) Mutation {
	if m.ID == "" {
		return MutationNone
	}
	if j, ok := t.index[m.ID]; ok {
		if t.msgs[j].CreatedAt == m.CreatedAt {
			// Same position: overwrite in place. Covers an edit or
			// delete arriving as a full resend.
			t.msgs[j] = m
			return MutationReplace
		}
		// The ordering key moved (temp timestamp replaced by the
		// server's); take the old entry out and fall through to a
		// fresh insert.
		t.removeAt(j)
	}
	i := sort.Search(len(t.msgs), func(i int) bool {
		return !t.msgs[i].Before(&m)
	})
	t.msgs = append(t.msgs, models.Message{})
	copy(t.msgs[i+1:], t.msgs[i:])
	t.msgs[i] = m
	for k := i; k < len(t.msgs); k++ {
		t.index[t.msgs[k].ID] = k
	}
	if i == len(t.msgs)-1 {
		return MutationAppend
	}
	return MutationPrepend
}

// removeAt deletes the message at index j and reindexes. Callers hold t.mu.
func (t *Timeline) removeAt(j int) {
	delete(t.index, t.msgs[j].ID)
	copy(t.msgs[j:], t.msgs[j+1:])
	t.msgs = t.msgs[:len(t.msgs)-1]
	for k := j; k < len(t.msgs); k++ {
		t.index[t.msgs[k].ID] = k
	}
}

// sortPage orders a fetched page ascending by (CreatedAt, ID); the server
// returns pages newest-first.
func sortPage(page []models.Message) {
	sort.SliceStable(page, func(i, j int) bool {
		return page[i].Before(&page[j])
	})
}
