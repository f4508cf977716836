package engine

import (
	"context"
	"strings"
	"time"

	"chatsync/pkg/events"
	"chatsync/pkg/logger"
)

// HandleEvent consumes one decoded push event. Wire it as the bus's
// event handler. Events referencing unknown entities are ignored; the
// snapshot load will eventually include them.
func (e *Engine) HandleEvent(channel string, ev events.Event) {
	switch ev := ev.(type) {
	case events.NewConversation:
		e.convs.ApplyNewConversation(ev.Conversation)
		if e.cache != nil {
			_ = e.cache.PutConversation(ev.Conversation)
		}

	case events.NewMessage:
		active := e.ActiveConversation()
		e.convs.ApplyIncomingMessage(ev.Message, active)
		if tl, ok := e.timelines.Peek(ev.Message.ConversationID); ok {
			outcome := tl.AppendLive(ev.Message)
			e.hint(ev.Message.ConversationID, outcome)
			e.resolveReplies(context.Background(), tl)
			// Reading the open conversation keeps it read.
			if ev.Message.ConversationID == active {
				go func() {
					if err := e.MarkRead(context.Background(), active); err != nil {
						logger.Warn("mark_read_failed", "conversation", active, "error", err)
					}
				}()
			}
		}
		e.cachePut(ev.Message.ConversationID, ev.Message.ID)

	case events.MessageUpdated:
		e.convs.ApplyUpdatedMessage(ev.Message)
		if tl, ok := e.timelines.Peek(ev.Message.ConversationID); ok {
			outcome := tl.ApplyUpdate(ev.Message)
			e.hint(ev.Message.ConversationID, outcome)
		}
		e.cachePut(ev.Message.ConversationID, ev.Message.ID)

	case events.MessageDeleted:
		e.convs.ApplyDeletedMessage(ev.ConversationID, ev.MessageID)
		if tl, ok := e.timelines.Peek(ev.ConversationID); ok {
			outcome := tl.ApplyTombstone(ev.MessageID, time.Now().UnixMilli())
			e.hint(ev.ConversationID, outcome)
		}
		e.cachePut(ev.ConversationID, ev.MessageID)

	case events.MessagesRead:
		convID := ev.ConversationID
		if convID == "" {
			convID = conversationFromChannel(channel)
		}
		if convID == "" {
			logger.Debug("messages_read_without_conversation", "user", ev.UserID)
			return
		}
		readAt := ev.ReadAt
		if readAt == 0 {
			readAt = time.Now().UnixMilli()
		}
		e.convs.ApplyRead(ev.UserID, ev.UnreadCount, convID, readAt)

	default:
		logger.Warn("unhandled_event_kind", "kind", ev.Kind())
	}
}

// OnConnected re-syncs after every push (re)connect: events missed while
// disconnected are not replayed, so the conversation snapshot and the
// active conversation's first page are re-fetched. The merge re-overwrites
// instead of duplicating, making the reload safe. Wire it as the bus's
// connect hook.
func (e *Engine) OnConnected() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancel()
		if err := e.SyncConversations(ctx); err != nil {
			logger.Warn("resync_conversations_failed", "error", err)
		}
	}()
	e.ReloadActive(context.Background())
}

// conversationFromChannel extracts the conversation id from a
// private-conversation channel name.
func conversationFromChannel(channel string) string {
	const prefix = "private-conversation-"
	if strings.HasPrefix(channel, prefix) {
		return strings.TrimPrefix(channel, prefix)
	}
	return ""
}

// cachePut writes the current copy of a message through to the cache.
func (e *Engine) cachePut(convID, msgID string) {
	e.cacheMessage(convID, msgID)
	if e.cache != nil {
		if c, ok := e.convs.Get(convID); ok {
			_ = e.cache.PutConversation(c)
		}
	}
}
