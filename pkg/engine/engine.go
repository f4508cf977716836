// Package engine orchestrates the sync state: it drives snapshot and
// page fetches, funnels push events into the stores, owns the active
// conversation pointer, and discards responses that arrive for a
// conversation no longer active.
package engine

import (
	"context"
	"errors"
	"sync"

	"chatsync/pkg/api"
	"chatsync/pkg/cache"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/models"
	"chatsync/pkg/mutate"
	"chatsync/pkg/store/conversations"
	"chatsync/pkg/store/timeline"
)

// ErrStaleResponse marks a page response for a conversation that is no
// longer active. It is recovered silently, never surfaced to the user.
var ErrStaleResponse = errors.New("stale page response")

const (
	defaultPageSize     = 25
	snapshotLimit       = 100
	cachedMessagesLimit = 50
)

// API is the read side of the REST client the engine fetches through.
type API interface {
	ListConversations(ctx context.Context, limit, offset int) ([]models.Conversation, error)
	GetConversation(ctx context.Context, id string) (models.Conversation, error)
	ListMessages(ctx context.Context, convID string, limit, offset int) ([]models.Message, error)
	CreateConversation(ctx context.Context, req api.CreateConversationRequest) (models.Conversation, error)
	MarkRead(ctx context.Context, convID string) error
	ResolveMessage(ctx context.Context, msgID string) (models.Message, error)
}

// Subscriber switches the push channel subscription when the active
// conversation changes. Satisfied by *push.Bus.
type Subscriber interface {
	SubscribeConversation(ctx context.Context, convID string) error
}

// ScrollHint informs the rendering layer which kind of timeline mutation
// occurred, so it can preserve the scroll offset on a prepend,
// auto-scroll on an append when already at the bottom, and hold still on
// an in-place replace. The scroll position itself belongs to the
// renderer.
type ScrollHint func(convID string, m timeline.Mutation)

// Config carries the engine's collaborators.
type Config struct {
	API       API
	Mutations *mutate.Handler
	Convs     *conversations.Store
	Timelines *timeline.Set
	Cache     *cache.Cache // optional
	Sub       Subscriber   // optional
	Scroll    ScrollHint   // optional
	LocalUser string
	PageSize  int
}

// Engine is safe for concurrent use; the stores serialize their own
// mutations and the engine serializes activation state.
type Engine struct {
	api       API
	muts      *mutate.Handler
	convs     *conversations.Store
	timelines *timeline.Set
	cache     *cache.Cache
	sub       Subscriber
	scroll    ScrollHint
	localUser string
	pageSize  int

	mu          sync.Mutex
	activeConv  string
	epoch       uint64
	cancelFetch context.CancelFunc
}

// New creates an engine from the given collaborators.
func New(cfg Config) *Engine {
	ps := cfg.PageSize
	if ps <= 0 {
		ps = defaultPageSize
	}
	e := &Engine{
		api:       cfg.API,
		muts:      cfg.Mutations,
		convs:     cfg.Convs,
		timelines: cfg.Timelines,
		cache:     cfg.Cache,
		sub:       cfg.Sub,
		scroll:    cfg.Scroll,
		localUser: cfg.LocalUser,
		pageSize:  ps,
	}
	// The mutation handler reports the real merge outcome of each of its
	// timeline writes; the engine forwards it to the renderer.
	if e.muts != nil {
		e.muts.SetNotify(e.hint)
	}
	return e
}

// SetSubscriber installs the push channel switcher after construction.
// The bus and the engine reference each other, so one side is wired late.
func (e *Engine) SetSubscriber(s Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sub = s
}

// ActiveConversation returns the currently open conversation id.
func (e *Engine) ActiveConversation() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeConv
}

// SeedFromCache loads the warm-start cache into the conversation store
// before the first REST round trip. The snapshot load re-overwrites.
func (e *Engine) SeedFromCache() {
	if e.cache == nil {
		return
	}
	convs, err := e.cache.ListConversations()
	if err != nil {
		logger.Warn("cache_seed_failed", "error", err)
		return
	}
	if len(convs) == 0 {
		return
	}
	e.convs.LoadSnapshot(convs)
	logger.Info("cache_seeded", "conversations", len(convs))
}

// SyncConversations fetches the conversation list snapshot and replaces
// the store. Also invoked after every push reconnect, since missed
// events are not replayed.
func (e *Engine) SyncConversations(ctx context.Context) error {
	convs, err := e.api.ListConversations(ctx, snapshotLimit, 0)
	if err != nil {
		return err
	}
	e.convs.LoadSnapshot(convs)
	if e.cache != nil {
		for _, c := range convs {
			if err := e.cache.PutConversation(c); err != nil {
				logger.Warn("cache_put_conversation_failed", "conversation", c.ID, "error", err)
			}
		}
	}
	return nil
}

// ActivateConversation makes convID the open conversation: cancels the
// previous conversation's in-flight fetch, switches the push channel,
// marks the conversation read, and starts the initial page load. The
// returned timeline is live immediately (seeded from cache when warm).
func (e *Engine) ActivateConversation(ctx context.Context, convID string) *timeline.Timeline {
	e.mu.Lock()
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.activeConv = convID
	e.epoch++
	epoch := e.epoch
	e.mu.Unlock()

	if e.sub != nil {
		if err := e.sub.SubscribeConversation(ctx, convID); err != nil {
			logger.Warn("subscribe_conversation_failed", "conversation", convID, "error", err)
		}
	}

	tl := e.timelines.Open(convID)
	if e.cache != nil && tl.Len() == 0 {
		if msgs, err := e.cache.ListMessages(convID, cachedMessagesLimit); err == nil && len(msgs) > 0 {
			for _, m := range msgs {
				tl.AppendLive(m)
			}
		}
	}

	e.convs.MarkRead(convID)
	go func() {
		if err := e.api.MarkRead(ctx, convID); err != nil {
			logger.Warn("mark_read_failed", "conversation", convID, "error", err)
		}
	}()

	if tl.BeginInitialLoad() || tl.State() == timeline.StateReady {
		e.fetchPage(ctx, tl, 0, epoch)
	}
	return tl
}

// Deactivate closes the active conversation: the channel is
// unsubscribed and late page responses will be discarded.
func (e *Engine) Deactivate(ctx context.Context) {
	e.mu.Lock()
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.activeConv = ""
	e.epoch++
	e.mu.Unlock()
	if e.sub != nil {
		_ = e.sub.SubscribeConversation(ctx, "")
	}
}

// LoadOlder fetches the next older page for the active conversation,
// triggered by a backward scroll.
func (e *Engine) LoadOlder(ctx context.Context) error {
	e.mu.Lock()
	convID, epoch := e.activeConv, e.epoch
	e.mu.Unlock()
	if convID == "" {
		return nil
	}
	tl := e.timelines.Open(convID)
	if !tl.BeginLoadMore() {
		return nil
	}
	e.fetchPage(ctx, tl, tl.ConfirmedLen(), epoch)
	return nil
}

// ReloadActive re-fetches the active conversation's first page; used
// after a push reconnect. The merge re-overwrites instead of
// duplicating.
func (e *Engine) ReloadActive(ctx context.Context) {
	e.mu.Lock()
	convID, epoch := e.activeConv, e.epoch
	e.mu.Unlock()
	if convID == "" {
		return
	}
	tl := e.timelines.Open(convID)
	e.fetchPage(ctx, tl, 0, epoch)
}

// fetchPage runs one page fetch on its own goroutine and applies the
// result only if the conversation is still the active one at the same
// epoch. A stale response must not overwrite a newer conversation's
// timeline.
func (e *Engine) fetchPage(ctx context.Context, tl *timeline.Timeline, offset int, epoch uint64) {
	fctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelFetch = cancel
	e.mu.Unlock()

	convID := tl.ConversationID()
	go func() {
		page, err := e.api.ListMessages(fctx, convID, e.pageSize, offset)
		cancel()
		if aerr := e.applyPage(tl, offset, epoch, page, err); aerr != nil {
			return
		}
		// Reply resolution runs on the caller's context, not the fetch's:
		// the fetch context is already canceled by the time the page is
		// applied and would abort every resolver call.
		e.resolveReplies(ctx, tl)
	}()
}

// applyPage applies one fetch result, guarding against responses for a
// conversation that is no longer the active one.
func (e *Engine) applyPage(tl *timeline.Timeline, offset int, epoch uint64, page []models.Message, fetchErr error) error {
	convID := tl.ConversationID()
	if !e.stillActive(convID, epoch) {
		metrics.StaleResponses.Inc()
		logger.Debug("stale_page_dropped", "conversation", convID, "offset", offset)
		return ErrStaleResponse
	}
	if fetchErr != nil {
		tl.Fail(fetchErr)
		return fetchErr
	}
	tl.ApplyPage(offset, e.pageSize, page)
	if e.cache != nil {
		for _, m := range page {
			if err := e.cache.PutMessage(m); err != nil {
				logger.Warn("cache_put_message_failed", "msg", m.ID, "error", err)
			}
		}
	}
	return nil
}

// stillActive reports whether convID is still the open conversation at
// the given activation epoch.
func (e *Engine) stillActive(convID string, epoch uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeConv == convID && e.epoch == epoch
}

// resolveReplies issues best-effort fetches for unresolved reply
// snapshots and patches the timeline in place. Failures leave the reply
// preview blank rather than blocking rendering.
func (e *Engine) resolveReplies(ctx context.Context, tl *timeline.Timeline) {
	wanted := tl.WantedReplies()
	if len(wanted) == 0 {
		return
	}
	go func() {
		for _, id := range wanted {
			m, err := e.api.ResolveMessage(ctx, id)
			if err != nil {
				logger.Debug("reply_resolution_failed", "msg", id, "error", err)
				continue
			}
			tl.ApplyReply(m.Snapshot())
		}
	}()
}

// MarkRead zeroes the conversation's unread counter and records the
// read position with the server.
func (e *Engine) MarkRead(ctx context.Context, convID string) error {
	e.convs.MarkRead(convID)
	return e.api.MarkRead(ctx, convID)
}

// StartConversation creates a conversation, optionally seeded with a
// first message, and registers it locally.
func (e *Engine) StartConversation(ctx context.Context, participantIDs []string, firstMessage string) (models.Conversation, error) {
	req := api.CreateConversationRequest{ParticipantIDs: participantIDs}
	if firstMessage != "" {
		req.Message = &api.SendMessageRequest{Content: firstMessage, Type: models.TypeText}
	}
	conv, err := e.api.CreateConversation(ctx, req)
	if err != nil {
		return models.Conversation{}, err
	}
	e.convs.ApplyNewConversation(conv)
	if e.cache != nil {
		_ = e.cache.PutConversation(conv)
	}
	return conv, nil
}

// Send issues an optimistic send through the mutation handler. Scroll
// hints come from the handler's own timeline writes, so a rolled-back
// send never leaves the renderer with a dangling auto-scroll.
func (e *Engine) Send(ctx context.Context, convID, content, replyToID string, attachments []api.FileUpload) (models.Message, error) {
	m, err := e.muts.Send(ctx, convID, content, replyToID, attachments)
	if err != nil {
		return models.Message{}, err
	}
	if e.cache != nil {
		_ = e.cache.PutMessage(m)
		if c, ok := e.convs.Get(convID); ok {
			_ = e.cache.PutConversation(c)
		}
	}
	return m, nil
}

// Edit issues an optimistic edit.
func (e *Engine) Edit(ctx context.Context, convID, msgID, newContent string) error {
	err := e.muts.Edit(ctx, convID, msgID, newContent)
	if err == nil {
		e.cacheMessage(convID, msgID)
	}
	return err
}

// Delete issues an optimistic delete.
func (e *Engine) Delete(ctx context.Context, convID, msgID string) error {
	err := e.muts.Delete(ctx, convID, msgID)
	if err == nil {
		e.cacheMessage(convID, msgID)
	}
	return err
}

// Like issues an optimistic like toggle.
func (e *Engine) Like(ctx context.Context, convID, msgID string, currentlyLiked bool) error {
	return e.muts.Like(ctx, convID, msgID, currentlyLiked)
}

// Conversations returns the ordered conversation list for rendering and
// introspection.
func (e *Engine) Conversations() []models.Conversation { return e.convs.List() }

// Messages returns the loaded sequence for a conversation, if open.
func (e *Engine) Messages(convID string) ([]models.Message, bool) {
	tl, ok := e.timelines.Peek(convID)
	if !ok {
		return nil, false
	}
	return tl.Messages(), true
}

// PendingMutations exposes outstanding optimistic mutations.
func (e *Engine) PendingMutations() []models.PendingMutation { return e.muts.Pending() }

func (e *Engine) hint(convID string, m timeline.Mutation) {
	if e.scroll != nil {
		e.scroll(convID, m)
	}
}

func (e *Engine) cacheMessage(convID, msgID string) {
	if e.cache == nil {
		return
	}
	if tl, ok := e.timelines.Peek(convID); ok {
		if m, ok := tl.Get(msgID); ok {
			_ = e.cache.PutMessage(m)
		}
	}
}
