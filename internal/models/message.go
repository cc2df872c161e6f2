package models

import "branchchat-backend/internal/conversation"

// MessageInput is the user turn submitted to POST /conversation.
// A nil or unknown ParentMessageID starts a new root in the map.
type MessageInput struct {
	Role            conversation.Role    `json:"role"`
	Content         conversation.Content `json:"content"`
	Model           string               `json:"model"`
	ParentMessageID *string              `json:"parentMessageId"`
}

// ChatInput continues the conversation named by ConversationID. A nil or
// empty id starts a new conversation with a generated id, an unknown id starts
// one under that id.
type ChatInput struct {
	ConversationID *string      `json:"conversationId"`
	Message        MessageInput `json:"message"`
}

// ChatOutput carries the assistant reply appended by a chat call.
type ChatOutput struct {
	ConversationID string                    `json:"conversationId"`
	CreateTime     int64                     `json:"createTime"`
	UserMessageID  string                    `json:"userMessageId"`
	MessageID      string                    `json:"messageId"`
	Message        *conversation.MessageNode `json:"message"`
}

// StreamChunk is the payload of one server-sent completion fragment.
type StreamChunk struct {
	Completion string `json:"completion"`
}

// EditMessageInput replaces the body of a message.
type EditMessageInput struct {
	Body string `json:"body"`
}

// DeletedMessages reports a removed subtree and the conversation's new leaf.
type DeletedMessages struct {
	Removed       []string `json:"removed"`
	LastMessageID string   `json:"lastMessageId"`
}
