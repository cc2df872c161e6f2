package postgres

import (
	"context"
	"errors"
	"fmt"

	"branchchat-backend/internal/models"
	"branchchat-backend/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Compile-time check to ensure PostgresStore implements store.Store
var _ store.Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db     *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db, logger: log.With().Str("component", "postgres_store").Logger()}
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    user_id         TEXT        NOT NULL,
    conversation_id TEXT        NOT NULL,
    title           TEXT        NOT NULL DEFAULT '',
    model           TEXT        NOT NULL DEFAULT '',
    last_message_id TEXT        NOT NULL DEFAULT '',
    message_map     BYTEA       NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, conversation_id)
);
CREATE INDEX IF NOT EXISTS conversations_user_created_idx ON conversations (user_id, created_at DESC);
`

// EnsureSchema creates the conversations table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("database error creating schema: %w", err)
	}
	return nil
}

const putConversation = `
INSERT INTO conversations (user_id, conversation_id, title, model, last_message_id, message_map, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()), NOW())
ON CONFLICT (user_id, conversation_id) DO UPDATE SET
    title = EXCLUDED.title,
    model = EXCLUDED.model,
    last_message_id = EXCLUDED.last_message_id,
    message_map = EXCLUDED.message_map,
    updated_at = NOW()
RETURNING created_at, updated_at`

func (s *PostgresStore) PutConversation(ctx context.Context, rec *models.ConversationRecord) error {
	var createdAt any
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt
	}
	err := s.db.QueryRow(ctx, putConversation,
		rec.UserID,
		rec.ConversationID,
		rec.Title,
		rec.Model,
		rec.LastMessageID,
		rec.MessageMap,
		createdAt,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			s.logger.Error().Str("code", pgErr.Code).Str("detail", pgErr.Detail).
				Str("conversation_id", rec.ConversationID).Msg("upsert failed")
		}
		return fmt.Errorf("database error saving conversation %s: %w", rec.ConversationID, err)
	}
	s.logger.Debug().Str("user_id", rec.UserID).Str("conversation_id", rec.ConversationID).Msg("conversation saved")
	return nil
}

const getConversation = `
SELECT user_id, conversation_id, title, model, last_message_id, message_map, created_at, updated_at
FROM conversations
WHERE user_id = $1 AND conversation_id = $2`

func (s *PostgresStore) GetConversation(ctx context.Context, userID, conversationID string) (*models.ConversationRecord, error) {
	var rec models.ConversationRecord
	err := s.db.QueryRow(ctx, getConversation, userID, conversationID).Scan(
		&rec.UserID,
		&rec.ConversationID,
		&rec.Title,
		&rec.Model,
		&rec.LastMessageID,
		&rec.MessageMap,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching conversation %s: %w", conversationID, err)
	}
	return &rec, nil
}

const listConversations = `
SELECT user_id, conversation_id, title, model, last_message_id, created_at, updated_at
FROM conversations
WHERE user_id = $1
ORDER BY created_at DESC, conversation_id`

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]models.ConversationRecord, error) {
	rows, err := s.db.Query(ctx, listConversations, userID)
	if err != nil {
		return nil, fmt.Errorf("database error listing conversations: %w", err)
	}
	defer rows.Close()

	out := []models.ConversationRecord{}
	for rows.Next() {
		var rec models.ConversationRecord
		if err := rows.Scan(
			&rec.UserID,
			&rec.ConversationID,
			&rec.Title,
			&rec.Model,
			&rec.LastMessageID,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("error scanning conversation row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversation rows: %w", err)
	}
	return out, nil
}

const updateTitle = `
UPDATE conversations SET title = $3, updated_at = NOW()
WHERE user_id = $1 AND conversation_id = $2`

func (s *PostgresStore) UpdateConversationTitle(ctx context.Context, userID, conversationID, title string) error {
	tag, err := s.db.Exec(ctx, updateTitle, userID, conversationID, title)
	if err != nil {
		return fmt.Errorf("database error updating title of %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1 AND conversation_id = $2`, userID, conversationID)
	if err != nil {
		return fmt.Errorf("database error deleting conversation %s: %w", conversationID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteConversationsByUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("database error deleting conversations: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Int64("deleted", tag.RowsAffected()).Msg("conversations deleted")
	return int(tag.RowsAffected()), nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
