// Package push maintains the persistent subscription to the per-entity
// push channels: one private user channel plus at most one conversation
// channel at a time. Inbound payloads are normalized into typed domain
// events at this boundary; the stores never see raw JSON.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"chatsync/pkg/events"
	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
)

const (
	dialTimeout    = 10 * time.Second
	writeTimeout   = 10 * time.Second
	readTimeout    = 2 * time.Minute
	pingInterval   = 30 * time.Second
	backoffInitial = time.Second
	backoffMax     = 30 * time.Second
)

// Authorizer exchanges a socket id and channel name for the signed grant
// private channels require.
type Authorizer interface {
	ChannelAuth(ctx context.Context, socketID, channel string) (string, error)
}

// EventHandler receives each decoded domain event with its channel.
type EventHandler func(channel string, ev events.Event)

// Bus is the event bus over the push websocket. Connection loss triggers
// automatic reconnection with capped exponential backoff; events missed
// while disconnected are not replayed, so the OnConnected hook must
// re-fetch the conversation snapshot and the active first page (the
// timeline merge makes the reload safe).
type Bus struct {
	url  string
	auth Authorizer

	onEvent     EventHandler
	onConnected func()

	mu          sync.Mutex
	conn        *websocket.Conn
	socketID    string
	userChannel string
	convChannel string

	writeMu sync.Mutex
}

// New creates a bus for the given websocket URL. handler receives
// decoded events; onConnected fires after every successful (re)connect
// and channel resubscription.
func New(url string, auth Authorizer, handler EventHandler, onConnected func()) *Bus {
	return &Bus{url: url, auth: auth, onEvent: handler, onConnected: onConnected}
}

// SubscribeUser opens the user's private channel. Re-entrant: calling
// again with the same id is a no-op.
func (b *Bus) SubscribeUser(ctx context.Context, userID string) error {
	ch := UserChannel(userID)
	b.mu.Lock()
	if b.userChannel == ch {
		b.mu.Unlock()
		return nil
	}
	b.userChannel = ch
	conn, socketID := b.conn, b.socketID
	b.mu.Unlock()
	if conn == nil {
		return nil // subscribed on next connect
	}
	return b.subscribe(ctx, socketID, ch)
}

// SubscribeConversation switches the single conversation channel: the
// previous channel is unsubscribed first, then the new one subscribed.
// Events that fall into the gap are covered by the REST page load issued
// concurrently by the caller. An empty convID just unsubscribes.
func (b *Bus) SubscribeConversation(ctx context.Context, convID string) error {
	var ch string
	if convID != "" {
		ch = ConversationChannel(convID)
	}
	b.mu.Lock()
	prev := b.convChannel
	if prev == ch {
		b.mu.Unlock()
		return nil
	}
	b.convChannel = ch
	conn, socketID := b.conn, b.socketID
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	if prev != "" {
		if err := b.unsubscribe(prev); err != nil {
			logger.Warn("push_unsubscribe_failed", "channel", prev, "error", err)
		}
	}
	if ch == "" {
		return nil
	}
	return b.subscribe(ctx, socketID, ch)
}

// Run dials and serves the connection until ctx is canceled,
// reconnecting on failure. Blocks; run it on its own goroutine.
func (b *Bus) Run(ctx context.Context) {
	backoff := backoffInitial
	for {
		established, err := b.serveOnce(ctx)
		if err != nil {
			logger.Warn("push_connection_lost", "error", err)
		}
		if established {
			backoff = backoffInitial
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
		metrics.Reconnects.Inc()
	}
}

// serveOnce performs one dial + handshake + read loop. Returns when the
// connection drops or ctx is canceled; established reports whether the
// handshake completed (used to reset the reconnect backoff).
func (b *Bus) serveOnce(ctx context.Context) (established bool, _ error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", b.url, err)
	}
	defer conn.Close()

	// Handshake: the first frame announces our socket id.
	socketID, err := b.awaitEstablished(conn)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	b.conn = conn
	b.socketID = socketID
	user, conv := b.userChannel, b.convChannel
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.conn = nil
		b.socketID = ""
		b.mu.Unlock()
	}()

	for _, ch := range []string{user, conv} {
		if ch == "" {
			continue
		}
		if err := b.subscribe(ctx, socketID, ch); err != nil {
			return true, err
		}
	}
	logger.Info("push_connected", "socket", socketID, "user_channel", user, "conversation_channel", conv)
	if b.onConnected != nil {
		b.onConnected()
	}

	stopPing := make(chan struct{})
	defer close(stopPing)
	go b.pingLoop(conn, stopPing)

	// Cancel unblocks the blocked read by closing the socket.
	stopWatch := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopWatch()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("read: %w", err)
		}
		b.handleFrame(data)
	}
}

func (b *Bus) awaitEstablished(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("handshake read: %w", err)
	}
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return "", fmt.Errorf("handshake decode: %w", err)
	}
	if f.Event != frameConnEstablished {
		return "", fmt.Errorf("handshake: unexpected first frame %q", f.Event)
	}
	return parseSocketID(f.Data)
}

// handleFrame routes one inbound frame: protocol control frames are
// handled here, anything else goes through the typed decode step.
func (b *Bus) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		metrics.EventsDropped.Inc()
		logger.Warn("push_bad_frame", "error", err)
		return
	}
	switch f.Event {
	case framePing:
		_ = b.send(frame{Event: framePong})
		return
	case framePong, frameSubSucceeded:
		return
	case frameError:
		logger.Warn("push_server_error", "data", string(f.Data))
		return
	}
	ev, err := events.Decode(f.Event, f.Data)
	if err != nil {
		// Unrecognized or malformed shapes are dropped rather than
		// trusted; the REST snapshot remains the source of truth.
		metrics.EventsDropped.Inc()
		logger.Warn("push_event_dropped", "event", f.Event, "error", err)
		return
	}
	metrics.EventsReceived.WithLabelValues(string(ev.Kind())).Inc()
	if b.onEvent != nil {
		b.onEvent(f.Channel, ev)
	}
}

func (b *Bus) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := b.send(frame{Event: framePing}); err != nil {
				return
			}
		}
	}
}

// subscribe authorizes and joins one private channel.
func (b *Bus) subscribe(ctx context.Context, socketID, channel string) error {
	grant, err := b.auth.ChannelAuth(ctx, socketID, channel)
	if err != nil {
		return fmt.Errorf("authorize %s: %w", channel, err)
	}
	payload, _ := json.Marshal(subscribePayload{Channel: channel, Auth: grant})
	return b.send(frame{Event: frameSubscribe, Data: payload})
}

func (b *Bus) unsubscribe(channel string) error {
	payload, _ := json.Marshal(unsubscribePayload{Channel: channel})
	return b.send(frame{Event: frameUnsubscribe, Data: payload})
}

// send writes one frame; writes are serialized (the bus writes from both
// the ping loop and subscription changes).
func (b *Bus) send(f frame) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("push: not connected")
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(f)
}

// Channels returns the currently requested channels, for introspection.
func (b *Bus) Channels() (user, conversation string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.userChannel, b.convChannel
}

// Connected reports whether a live connection is established.
func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}
