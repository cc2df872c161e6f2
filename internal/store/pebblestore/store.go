// Package pebblestore keeps conversations in an embedded Pebble key-value store.
//
// Keys are conversation/<user>/<conversation> with both ids path-escaped, so a
// user's conversations form one contiguous key range.
package pebblestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"
	"time"

	"branchchat-backend/internal/models"
	"branchchat-backend/internal/store"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var _ store.Store = (*Store)(nil)

const keyPrefix = "conversation/"

type Store struct {
	db     *pebble.DB
	logger zerolog.Logger
	now    func() time.Time

	// serialises read-modify-write cycles
	mu sync.Mutex
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	return open(path, &pebble.Options{})
}

// OpenInMemory opens a database backed by memory only.
func OpenInMemory() (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()})
}

func open(path string, opts *pebble.Options) (*Store, error) {
	logger := log.With().Str("component", "pebble_store").Logger()
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("opening pebble at %q: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("pebble opened")
	return &Store{db: db, logger: logger, now: time.Now}, nil
}

// record is the stored value. The message map is kept as raw bytes.
type record struct {
	Title         string    `json:"title"`
	Model         string    `json:"model"`
	LastMessageID string    `json:"lastMessageId"`
	MessageMap    []byte    `json:"messageMap"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func userPrefix(userID string) []byte {
	return []byte(keyPrefix + url.PathEscape(userID) + "/")
}

func conversationKey(userID, conversationID string) []byte {
	return append(userPrefix(userID), url.PathEscape(conversationID)...)
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *Store) load(key []byte) (*record, error) {
	v, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()

	var r record
	if err := json.Unmarshal(v, &r); err != nil {
		return nil, fmt.Errorf("decoding stored conversation: %w", err)
	}
	return &r, nil
}

func (s *Store) save(key []byte, r *record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding conversation: %w", err)
	}
	if err := s.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	return nil
}

func (s *Store) PutConversation(_ context.Context, rec *models.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conversationKey(rec.UserID, rec.ConversationID)
	now := s.now().UTC()
	created := rec.CreatedAt
	existing, err := s.load(key)
	switch {
	case err == nil:
		created = existing.CreatedAt
	case !errors.Is(err, store.ErrNotFound):
		return err
	}
	if created.IsZero() {
		created = now
	}

	r := &record{
		Title:         rec.Title,
		Model:         rec.Model,
		LastMessageID: rec.LastMessageID,
		MessageMap:    rec.MessageMap,
		CreatedAt:     created.UTC(),
		UpdatedAt:     now,
	}
	if err := s.save(key, r); err != nil {
		s.logger.Error().Err(err).Str("conversation_id", rec.ConversationID).Msg("save failed")
		return err
	}
	rec.CreatedAt, rec.UpdatedAt = r.CreatedAt, r.UpdatedAt
	return nil
}

func (s *Store) GetConversation(_ context.Context, userID, conversationID string) (*models.ConversationRecord, error) {
	r, err := s.load(conversationKey(userID, conversationID))
	if err != nil {
		return nil, err
	}
	rec := r.toModel(userID, conversationID)
	return &rec, nil
}

func (s *Store) ListConversations(_ context.Context, userID string) ([]models.ConversationRecord, error) {
	prefix := userPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return nil, fmt.Errorf("pebble iterator: %w", err)
	}
	defer iter.Close()

	out := []models.ConversationRecord{}
	for iter.First(); iter.Valid(); iter.Next() {
		var r record
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			s.logger.Warn().Err(err).Bytes("key", iter.Key()).Msg("skipping undecodable conversation")
			continue
		}
		conversationID, err := url.PathUnescape(string(iter.Key()[len(prefix):]))
		if err != nil {
			continue
		}
		r.MessageMap = nil
		out = append(out, r.toModel(userID, conversationID))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("pebble iteration: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out, nil
}

func (s *Store) UpdateConversationTitle(_ context.Context, userID, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conversationKey(userID, conversationID)
	r, err := s.load(key)
	if err != nil {
		return err
	}
	r.Title = title
	r.UpdatedAt = s.now().UTC()
	return s.save(key, r)
}

func (s *Store) DeleteConversation(_ context.Context, userID, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := conversationKey(userID, conversationID)
	if _, err := s.load(key); err != nil {
		return err
	}
	if err := s.db.Delete(key, pebble.Sync); err != nil {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (s *Store) DeleteConversationsByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := userPrefix(userID)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return 0, fmt.Errorf("pebble iterator: %w", err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		if err := batch.Delete(bytes.Clone(iter.Key()), nil); err != nil {
			iter.Close()
			return 0, fmt.Errorf("pebble batch delete: %w", err)
		}
		n++
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("pebble iteration: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("pebble commit: %w", err)
	}
	s.logger.Info().Str("user_id", userID).Int("deleted", n).Msg("conversations deleted")
	return n, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return err
	}
	s.logger.Info().Msg("pebble closed")
	return nil
}

func (r record) toModel(userID, conversationID string) models.ConversationRecord {
	return models.ConversationRecord{
		UserID:         userID,
		ConversationID: conversationID,
		Title:          r.Title,
		Model:          r.Model,
		LastMessageID:  r.LastMessageID,
		MessageMap:     r.MessageMap,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}
