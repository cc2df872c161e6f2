// Package events announces conversation changes to other services.
package events

import (
	"context"
	"time"
)

// Type names a conversation change.
type Type string

const (
	ConversationCreated  Type = "conversation.created"
	ConversationRenamed  Type = "conversation.renamed"
	ConversationDeleted  Type = "conversation.deleted"
	ConversationsCleared Type = "conversations.cleared"
	MessagesAppended     Type = "messages.appended"
	MessageEdited        Type = "message.edited"
	MessagesRemoved      Type = "messages.removed"
)

// Event is published after a change has been saved.
type Event struct {
	Type           Type      `json:"type"`
	UserID         string    `json:"userId"`
	ConversationID string    `json:"conversationId,omitempty"`
	MessageIDs     []string  `json:"messageIds,omitempty"`
	Model          string    `json:"model,omitempty"`
	Time           time.Time `json:"time"`
}

// Publisher delivers events. Delivery is best effort; callers log failures
// and carry on.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close()
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close()                               {}
