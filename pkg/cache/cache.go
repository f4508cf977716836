// Package cache is the optional warm-start cache: a write-through pebble
// store of conversation snapshots and recent messages. On startup the
// engine seeds its stores from here so the UI has content before the
// first REST round trip; the snapshot load then re-overwrites, which the
// timeline merge makes safe.
package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cockroachdb/pebble"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// Cache wraps a pebble DB. Keys:
//
//	conv:<convID>                      conversation snapshot JSON
//	msg:<convID>:<padded_ts>-<id>      message JSON, ascending by time
type Cache struct {
	db   *pebble.DB
	path string
}

// Open opens (or creates) the cache at path.
func Open(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, fmt.Errorf("open cache at %s: %w", path, err)
	}
	logger.Info("cache_opened", "path", path)
	return &Cache{db: db, path: path}, nil
}

// Close closes the underlying DB.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func convKey(convID string) []byte {
	return []byte("conv:" + convID)
}

func msgKey(m *models.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%020d-%s", m.ConversationID, m.CreatedAt, m.ID))
}

// PutConversation stores a conversation snapshot.
func (c *Cache) PutConversation(conv models.Conversation) error {
	b, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	return c.db.Set(convKey(conv.ID), b, pebble.NoSync)
}

// PutMessage stores one message under its timeline position. Pending
// messages are never cached; they exist only until acked or rolled back.
func (c *Cache) PutMessage(m models.Message) error {
	if m.Pending {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", m.ID, err)
	}
	return c.db.Set(msgKey(&m), b, pebble.NoSync)
}

// ListConversations returns every cached snapshot, most recently active
// first.
func (c *Cache) ListConversations() ([]models.Conversation, error) {
	prefix := []byte("conv:")
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Conversation
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var conv models.Conversation
		if err := json.Unmarshal(iter.Value(), &conv); err != nil {
			logger.Warn("cache_bad_conversation", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, conv)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

// ListMessages returns up to limit of the newest cached messages for a
// conversation, in ascending timeline order.
func (c *Cache) ListMessages(convID string, limit int) ([]models.Message, error) {
	prefix := []byte("msg:" + convID + ":")
	iter, err := c.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var out []models.Message
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var m models.Message
		if err := json.Unmarshal(iter.Value(), &m); err != nil {
			logger.Warn("cache_bad_message", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, m)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// EvictConversation drops a conversation's snapshot and all its cached
// messages.
func (c *Cache) EvictConversation(convID string) error {
	if err := c.db.Delete(convKey(convID), pebble.NoSync); err != nil {
		return err
	}
	lo := []byte("msg:" + convID + ":")
	hi := append(append([]byte(nil), lo...), 0xff)
	return c.db.DeleteRange(lo, hi, pebble.NoSync)
}

// Sweep bounds the cache to the maxConversations most recently active
// conversations, evicting the rest. Invoked by the cron sweeper.
func (c *Cache) Sweep(maxConversations int) (evicted int, _ error) {
	if maxConversations <= 0 {
		return 0, nil
	}
	convs, err := c.ListConversations()
	if err != nil {
		return 0, err
	}
	if len(convs) <= maxConversations {
		return 0, nil
	}
	for _, conv := range convs[maxConversations:] {
		if err := c.EvictConversation(conv.ID); err != nil {
			return evicted, err
		}
		evicted++
	}
	logger.Info("cache_swept", "evicted", evicted, "kept", maxConversations)
	return evicted, nil
}
