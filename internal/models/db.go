package models

import "time"

// ConversationRecord is one row of the conversation table. MessageMap is the
// encoded message map and is opaque to the store; it is nil in list results.
type ConversationRecord struct {
	UserID         string    `db:"user_id"`
	ConversationID string    `db:"conversation_id"`
	Title          string    `db:"title"`
	Model          string    `db:"model"`
	LastMessageID  string    `db:"last_message_id"`
	MessageMap     []byte    `db:"message_map"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}
