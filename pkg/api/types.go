package api

import "chatsync/pkg/models"

// SendMessageRequest is the body of POST /v1/conversations/{id}/messages.
type SendMessageRequest struct {
	Content   string             `json:"content"`
	Type      models.MessageType `json:"message_type"`
	ReplyToID string             `json:"reply_to_id,omitempty"`
}

// EditMessageRequest is the body of PUT /v1/messages/{id}.
type EditMessageRequest struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"message_type"`
}

// CreateConversationRequest is the body of POST /v1/conversations.
type CreateConversationRequest struct {
	ParticipantIDs []string            `json:"participant_ids"`
	Message        *SendMessageRequest `json:"message,omitempty"`
}

// FileUpload describes one attachment for POST /v1/conversations/{id}/files.
type FileUpload struct {
	Name        string
	ContentType string
	Type        models.MessageType
	Data        []byte
}

type conversationsResponse struct {
	Conversations []models.Conversation `json:"conversations"`
}

type messagesResponse struct {
	Conversation string           `json:"conversation"`
	Messages     []models.Message `json:"messages"`
}

type authResponse struct {
	Auth string `json:"auth"`
}
