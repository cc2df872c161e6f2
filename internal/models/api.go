package models

import "branchchat-backend/internal/conversation"

// ErrorResponse defines the standard structure for API errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ConversationMeta is a list entry; it never carries the message map.
type ConversationMeta struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	CreateTime int64  `json:"createTime"` // unix millis
	Model      string `json:"model"`
}

// Conversation is the full persisted conversation as returned by GET.
type Conversation struct {
	ID            string           `json:"id"`
	Title         string           `json:"title"`
	CreateTime    int64            `json:"createTime"`
	LastMessageID string           `json:"lastMessageId"`
	MessageMap    conversation.Map `json:"messageMap"`
}

// ConversationPath is the resolved display path of a conversation.
type ConversationPath struct {
	ConversationID string `json:"conversationId"`
	SelectedID     string `json:"selectedId"`
	conversation.Path
}

// ProposedTitle is the model-suggested title for a conversation.
type ProposedTitle struct {
	Title string `json:"title"`
}

// NewTitleInput renames a conversation.
type NewTitleInput struct {
	NewTitle string `json:"newTitle"`
}

// DeletedConversations reports how many conversations a bulk delete removed.
type DeletedConversations struct {
	Deleted int `json:"deleted"`
}
