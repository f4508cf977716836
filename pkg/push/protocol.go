package push

import (
	"encoding/json"
	"fmt"
)

// The push service speaks a small JSON frame protocol over the
// websocket. Control frames use the "pusher:" prefix; anything else is
// an application event scoped to a channel.
const (
	frameConnEstablished = "pusher:connection_established"
	frameSubscribe       = "pusher:subscribe"
	frameUnsubscribe     = "pusher:unsubscribe"
	framePing            = "pusher:ping"
	framePong            = "pusher:pong"
	frameError           = "pusher:error"
	frameSubSucceeded    = "pusher_internal:subscription_succeeded"
)

// UserChannel names the private per-user channel.
func UserChannel(userID string) string { return "private-user-" + userID }

// ConversationChannel names the private per-conversation channel.
func ConversationChannel(convID string) string { return "private-conversation-" + convID }

type frame struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type subscribePayload struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

type unsubscribePayload struct {
	Channel string `json:"channel"`
}

// parseSocketID extracts the socket id from a connection_established
// frame. The payload arrives double-encoded.
func parseSocketID(data json.RawMessage) (string, error) {
	raw := data
	var s string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("unwrap connection payload: %w", err)
		}
		raw = []byte(s)
	}
	var payload struct {
		SocketID string `json:"socket_id"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("decode connection payload: %w", err)
	}
	if payload.SocketID == "" {
		return "", fmt.Errorf("connection payload missing socket_id")
	}
	return payload.SocketID, nil
}
