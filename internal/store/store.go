package store

import (
	"context"
	"errors"

	"branchchat-backend/internal/models"
)

// ErrNotFound is returned when a specific record is not found.
var ErrNotFound = errors.New("record not found")

// Store persists whole conversations. Every write replaces the stored row;
// concurrent writers to one conversation resolve as last-write-wins.
// All operations are scoped to the owning user.
type Store interface {
	// PutConversation inserts or replaces the record. CreatedAt is kept from
	// the first write.
	PutConversation(ctx context.Context, rec *models.ConversationRecord) error
	GetConversation(ctx context.Context, userID, conversationID string) (*models.ConversationRecord, error)
	// ListConversations returns the user's conversations newest first,
	// without their message maps.
	ListConversations(ctx context.Context, userID string) ([]models.ConversationRecord, error)
	UpdateConversationTitle(ctx context.Context, userID, conversationID, title string) error
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	// DeleteConversationsByUser removes every conversation of the user and
	// returns how many were deleted.
	DeleteConversationsByUser(ctx context.Context, userID string) (int, error)
	Close() error
}
