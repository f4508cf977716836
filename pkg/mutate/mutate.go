// Package mutate applies local-only tentative state for send, edit,
// delete and like actions, reconciles it against the server
// acknowledgment, and rolls it back on failure. The timeline is always
// left fully at the old value or fully at the new one, never a partial
// merge.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"chatsync/pkg/api"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/store/conversations"
	"chatsync/pkg/store/timeline"
)

// ErrMutationPending is returned when a mutation targets an entity that
// already has one outstanding. Two rapid edits must queue at the caller
// or be rejected, never interleave.
var ErrMutationPending = errors.New("mutation already pending for target")

// API is the slice of the REST client the handler issues writes through.
type API interface {
	SendMessage(ctx context.Context, convID string, req api.SendMessageRequest) (models.Message, error)
	SendFile(ctx context.Context, convID string, f api.FileUpload) (models.Message, error)
	EditMessage(ctx context.Context, msgID string, req api.EditMessageRequest) (models.Message, error)
	DeleteMessage(ctx context.Context, msgID string) error
	Like(ctx context.Context, id string) error
	Unlike(ctx context.Context, id string) error
}

// Handler owns all pending mutations. No other component may create a
// message with a temporary id.
type Handler struct {
	api       API
	timelines *timeline.Set
	convs     *conversations.Store
	localUser string

	mu       sync.Mutex
	inflight map[string]*models.PendingMutation // target entity id -> pending
	notify   func(convID string, m timeline.Mutation)
}

// New creates a mutation handler writing through the given stores.
func New(a API, tl *timeline.Set, cs *conversations.Store, localUser string) *Handler {
	return &Handler{api: a, timelines: tl, convs: cs, localUser: localUser, inflight: make(map[string]*models.PendingMutation)}
}

// SetNotify installs a callback invoked with the mutation outcome of
// every timeline write the handler performs, optimistic and rollback
// alike, for the scroll-anchoring contract.
func (h *Handler) SetNotify(fn func(convID string, m timeline.Mutation)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notify = fn
}

// emit reports a timeline write's outcome to the notify callback. No-op
// outcomes are not reported.
func (h *Handler) emit(convID string, m timeline.Mutation) {
	h.mu.Lock()
	fn := h.notify
	h.mu.Unlock()
	if fn != nil && m != timeline.MutationNone {
		fn(convID, m)
	}
}

// Pending returns a copy of the outstanding mutations, for introspection.
func (h *Handler) Pending() []models.PendingMutation {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.PendingMutation, 0, len(h.inflight))
	for _, pm := range h.inflight {
		out = append(out, *pm)
	}
	return out
}

// begin registers an outstanding mutation for target, rejecting a second
// one on the same entity.
func (h *Handler) begin(target string, pm *models.PendingMutation) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[target]; busy {
		return ErrMutationPending
	}
	h.inflight[target] = pm
	return nil
}

func (h *Handler) end(target string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, target)
}

// Send inserts a tentative message with a temporary id, issues the
// network writes, and on success swaps the temporary entry for the
// server's canonical message. Attachments upload in parallel; the text
// message (if any) goes out only after every upload settles, keeping
// "attachments then caption" ordered as one logical action. The whole
// send is atomic: any failure removes the temporary message and reports
// the error, with no silent retry and no orphaned pending entry.
func (h *Handler) Send(ctx context.Context, convID, content, replyToID string, attachments []api.FileUpload) (models.Message, error) {
	tempID := "local-" + uuid.NewString()
	now := time.Now().UnixMilli()
	pending := models.Message{
		ID:             tempID,
		ConversationID: convID,
		SenderID:       h.localUser,
		Type:           models.TypeText,
		Content:        content,
		CreatedAt:      now,
		UpdatedAt:      now,
		ReplyToID:      replyToID,
		Pending:        true,
	}
	if content == "" && len(attachments) > 0 {
		pending.Type = attachments[0].Type
		pending.Content = attachments[0].Name
	}

	pm := &models.PendingMutation{LocalID: tempID, Kind: models.MutationSend, ConversationID: convID, Status: models.MutationPending}
	if err := h.begin(tempID, pm); err != nil {
		return models.Message{}, err
	}
	defer h.end(tempID)

	tl := h.timelines.Open(convID)
	h.emit(convID, tl.AppendLive(pending))

	uploaded, err := h.uploadAll(ctx, convID, attachments)
	if err == nil && content != "" {
		var m models.Message
		m, err = h.api.SendMessage(ctx, convID, api.SendMessageRequest{Content: content, Type: models.TypeText, ReplyToID: replyToID})
		if err == nil {
			uploaded = append(uploaded, m)
		}
	}
	if err != nil || len(uploaded) == 0 {
		if err == nil {
			err = fmt.Errorf("send %s: nothing to send", convID)
		}
		pm.Status = models.MutationFailed
		if _, removed := tl.Remove(tempID); removed {
			h.emit(convID, timeline.MutationReplace)
		}
		metrics.Rollbacks.WithLabelValues(string(models.MutationSend)).Inc()
		logger.Warn("send_rolled_back", "conversation", convID, "temp_id", tempID, "error", err)
		return models.Message{}, err
	}

	// Swap the temporary entry for the last canonical message (the
	// caption when there is one) and merge the rest.
	canonical := uploaded[len(uploaded)-1]
	h.emit(convID, tl.Replace(tempID, canonical))
	for _, m := range uploaded[:len(uploaded)-1] {
		h.emit(convID, tl.AppendLive(m))
	}
	for _, m := range uploaded {
		h.convs.ApplyIncomingMessage(m, convID)
	}
	pm.Status = models.MutationAcked
	return canonical, nil
}

// uploadAll issues every attachment upload in parallel and fails the
// batch if any upload fails (all-or-nothing; settled siblings are not
// compensated).
func (h *Handler) uploadAll(ctx context.Context, convID string, attachments []api.FileUpload) ([]models.Message, error) {
	if len(attachments) == 0 {
		return nil, nil
	}
	results := make([]models.Message, len(attachments))
	errs := make([]error, len(attachments))
	var wg sync.WaitGroup
	for i := range attachments {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.api.SendFile(ctx, convID, attachments[i])
		}(i)
	}
	wg.Wait()
	var out []models.Message
	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("upload %q: %w", attachments[i].Name, err)
		}
		out = append(out, results[i])
	}
	return out, nil
}

// Edit optimistically replaces a message's content, recording the prior
// value; a failed write restores it.
func (h *Handler) Edit(ctx context.Context, convID, msgID, newContent string) error {
	tl, ok := h.timelines.Peek(convID)
	if !ok {
		return fmt.Errorf("edit %s: conversation %s not loaded", msgID, convID)
	}
	prior, ok := tl.Get(msgID)
	if !ok {
		return fmt.Errorf("edit %s: message not loaded", msgID)
	}
	pm := &models.PendingMutation{LocalID: "local-" + uuid.NewString(), Kind: models.MutationEdit, TargetMessageID: msgID, ConversationID: convID, Status: models.MutationPending}
	if err := h.begin(msgID, pm); err != nil {
		return err
	}
	defer h.end(msgID)

	draft := prior
	draft.Content = newContent
	draft.UpdatedAt = time.Now().UnixMilli()
	h.emit(convID, tl.ApplyUpdate(draft))

	acked, err := h.api.EditMessage(ctx, msgID, api.EditMessageRequest{Content: newContent, Type: prior.Type})
	if err != nil {
		pm.Status = models.MutationFailed
		tl.Restore(prior)
		h.emit(convID, timeline.MutationReplace)
		metrics.Rollbacks.WithLabelValues(string(models.MutationEdit)).Inc()
		logger.Warn("edit_rolled_back", "msg", msgID, "error", err)
		return err
	}
	pm.Status = models.MutationAcked
	h.emit(convID, tl.ApplyUpdate(acked))
	return nil
}

// Delete optimistically tombstones a message, recording the prior full
// message; a failed write restores it verbatim.
func (h *Handler) Delete(ctx context.Context, convID, msgID string) error {
	tl, ok := h.timelines.Peek(convID)
	if !ok {
		return fmt.Errorf("delete %s: conversation %s not loaded", msgID, convID)
	}
	prior, ok := tl.Get(msgID)
	if !ok {
		return fmt.Errorf("delete %s: message not loaded", msgID)
	}
	pm := &models.PendingMutation{LocalID: "local-" + uuid.NewString(), Kind: models.MutationDelete, TargetMessageID: msgID, ConversationID: convID, Status: models.MutationPending}
	if err := h.begin(msgID, pm); err != nil {
		return err
	}
	defer h.end(msgID)

	h.emit(convID, tl.ApplyTombstone(msgID, time.Now().UnixMilli()))

	if err := h.api.DeleteMessage(ctx, msgID); err != nil {
		pm.Status = models.MutationFailed
		tl.Restore(prior)
		h.emit(convID, timeline.MutationReplace)
		metrics.Rollbacks.WithLabelValues(string(models.MutationDelete)).Inc()
		logger.Warn("delete_rolled_back", "msg", msgID, "error", err)
		return err
	}
	pm.Status = models.MutationAcked
	h.convs.ApplyDeletedMessage(convID, msgID)
	return nil
}

// Like optimistically flips the liked flag and adjusts the counter by
// one; a failed write reverts both to the values captured at call time,
// not recomputed, so a concurrent live update cannot compound.
func (h *Handler) Like(ctx context.Context, convID, msgID string, currentlyLiked bool) error {
	tl, ok := h.timelines.Peek(convID)
	if !ok {
		return fmt.Errorf("like %s: conversation %s not loaded", msgID, convID)
	}
	prior, ok := tl.Get(msgID)
	if !ok {
		return fmt.Errorf("like %s: message not loaded", msgID)
	}
	pm := &models.PendingMutation{LocalID: "local-" + uuid.NewString(), Kind: models.MutationLike, TargetMessageID: msgID, ConversationID: convID, Status: models.MutationPending}
	if err := h.begin(msgID, pm); err != nil {
		return err
	}
	defer h.end(msgID)

	capturedLiked, capturedLikes := prior.Liked, prior.Likes

	draft := prior
	draft.Liked = !currentlyLiked
	if draft.Liked {
		draft.Likes = capturedLikes + 1
	} else if capturedLikes > 0 {
		draft.Likes = capturedLikes - 1
	}
	h.emit(convID, tl.ApplyUpdate(draft))

	var err error
	if currentlyLiked {
		err = h.api.Unlike(ctx, msgID)
	} else {
		err = h.api.Like(ctx, msgID)
	}
	if err != nil {
		pm.Status = models.MutationFailed
		if cur, ok := tl.Get(msgID); ok {
			cur.Liked = capturedLiked
			cur.Likes = capturedLikes
			h.emit(convID, tl.ApplyUpdate(cur))
		}
		metrics.Rollbacks.WithLabelValues(string(models.MutationLike)).Inc()
		logger.Warn("like_rolled_back", "msg", msgID, "error", err)
		return err
	}
	pm.Status = models.MutationAcked
	return nil
}
