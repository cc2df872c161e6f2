package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"branchchat-backend/internal/conversation"
	"branchchat-backend/internal/events"
	"branchchat-backend/internal/metrics"
	"branchchat-backend/internal/models"
	"branchchat-backend/internal/store"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrValidation      = errors.New("input validation failed")
	ErrMessageNotFound = errors.New("message not found")
)

// DefaultTitle names a conversation until it is renamed.
const DefaultTitle = "New conversation"

const titleInstruction = `Reading the conversation above, what is the appropriate title for the conversation? When answering the title, please follow the rules below:
<rules>
- Title must be in the same language as the conversation.
- Title length must be from 15 to 20 characters.
- Prefer more specific title than general. Your title should always be distinct from others.
- Return the conversation title only. DO NOT include any strings other than the title.
</rules>
`

// Completer turns a prompt into a completion for a public model name.
// *inference.Registry implements it.
type Completer interface {
	Complete(ctx context.Context, model, prompt string) (string, error)
	Stream(ctx context.Context, model, prompt string, onChunk func(string) error) (string, error)
}

// ConversationService loads a conversation, applies one change to its message
// map and saves the whole map back. It holds no per-conversation state.
type ConversationService struct {
	store      store.Store
	codec      *store.MessageMapCodec
	llm        Completer
	events     events.Publisher
	metrics    *metrics.Metrics
	titleModel string
	logger     zerolog.Logger

	now   func() time.Time
	newID func() string
}

func NewConversationService(s store.Store, codec *store.MessageMapCodec, llm Completer, pub events.Publisher, m *metrics.Metrics, titleModel string) *ConversationService {
	if pub == nil {
		pub = events.Nop{}
	}
	if codec == nil {
		codec = store.NewMessageMapCodec(nil)
	}
	return &ConversationService{
		store:      s,
		codec:      codec,
		llm:        llm,
		events:     pub,
		metrics:    m,
		titleModel: titleModel,
		logger:     log.With().Str("component", "conversation_service").Logger(),
		now:        time.Now,
		newID:      conversation.NewID,
	}
}

// loaded is a conversation row with its decoded message map.
type loaded struct {
	rec *models.ConversationRecord
	m   conversation.Map
}

func (s *ConversationService) load(ctx context.Context, userID, conversationID string) (*loaded, error) {
	rec, err := s.store.GetConversation(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	m, err := s.codec.Decode(userID, conversationID, rec.MessageMap)
	if err != nil {
		return nil, fmt.Errorf("failed to decode conversation %s: %w", conversationID, err)
	}
	return &loaded{rec: rec, m: m}, nil
}

func (s *ConversationService) save(ctx context.Context, c *loaded) error {
	blob, err := s.codec.Encode(c.rec.UserID, c.rec.ConversationID, c.m)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	c.rec.MessageMap = blob
	if err := s.store.PutConversation(ctx, c.rec); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// resolve wraps conversation.Resolve, reporting any truncation.
func (s *ConversationService) resolve(conversationID string, m conversation.Map, selected string) conversation.Path {
	p := conversation.Resolve(m, selected)
	for _, t := range p.Truncations {
		s.logger.Warn().
			Str("conversation_id", conversationID).
			Str("reason", string(t.Reason)).
			Str("message_id", t.NodeID).
			Str("ref", t.Ref).
			Msg("conversation path truncated")
		s.metrics.PathTruncated(string(t.Reason))
	}
	return p
}

func (s *ConversationService) publish(ctx context.Context, ev events.Event) {
	ev.Time = s.now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.metrics.EventPublishFailed()
		s.logger.Warn().Err(err).Str("event", string(ev.Type)).Str("conversation_id", ev.ConversationID).Msg("event publish failed")
	}
}

// turn is a chat request applied to the in-memory map but not yet answered.
type turn struct {
	conv          *loaded
	created       bool
	model         string
	userMessageID string
	prompt        string
}

func (s *ConversationService) prepareTurn(ctx context.Context, userID string, in models.ChatInput) (*turn, error) {
	msg := in.Message
	if msg.Role != conversation.RoleUser {
		return nil, fmt.Errorf("%w: message role must be %q", ErrValidation, conversation.RoleUser)
	}
	if msg.Content.ContentType == "" {
		msg.Content.ContentType = conversation.ContentTypeText
	}
	if msg.Content.ContentType != conversation.ContentTypeText {
		return nil, fmt.Errorf("%w: unsupported content type %q", ErrValidation, msg.Content.ContentType)
	}
	if strings.TrimSpace(msg.Content.Body) == "" {
		return nil, fmt.Errorf("%w: message body cannot be empty", ErrValidation)
	}
	if msg.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrValidation)
	}

	now := s.now()
	t := &turn{model: msg.Model}
	parent := conversation.Root()
	if msg.ParentMessageID != nil {
		parent = conversation.ChildOf(*msg.ParentMessageID)
	}

	conversationID := ""
	if in.ConversationID != nil {
		conversationID = *in.ConversationID
	}
	if conversationID != "" {
		c, err := s.load(ctx, userID, conversationID)
		switch {
		case err == nil:
			t.conv = c
		case errors.Is(err, store.ErrNotFound):
			// clients may pick the id of a new conversation themselves
		default:
			return nil, err
		}
	}
	if t.conv == nil {
		if conversationID == "" {
			conversationID = s.newID()
		}
		t.created = true
		t.conv = &loaded{
			rec: &models.ConversationRecord{
				UserID:         userID,
				ConversationID: conversationID,
				Title:          DefaultTitle,
				CreatedAt:      now,
			},
			m: conversation.New(msg.Model, now),
		}
		if parent.IsRoot() {
			parent = conversation.ChildOf(conversation.SystemID)
		}
	}

	t.userMessageID = s.newID()
	if !t.conv.m.Insert(t.userMessageID, parent, conversation.Draft{
		Role:       conversation.RoleUser,
		Content:    msg.Content,
		Model:      msg.Model,
		CreateTime: now,
	}) {
		return nil, fmt.Errorf("message id %s already in use", t.userMessageID)
	}

	path := s.resolve(t.conv.rec.ConversationID, t.conv.m, t.userMessageID)
	prompt, err := conversation.FormatPrompt(path.Nodes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	t.prompt = prompt
	return t, nil
}

func (s *ConversationService) finishTurn(ctx context.Context, t *turn, reply string) (*models.ChatOutput, error) {
	assistantID := s.newID()
	t.conv.m.Insert(assistantID, conversation.ChildOf(t.userMessageID), conversation.Draft{
		Role:       conversation.RoleAssistant,
		Content:    conversation.Text(reply),
		Model:      t.model,
		CreateTime: s.now(),
	})
	t.conv.rec.LastMessageID = assistantID
	t.conv.rec.Model = t.model

	if err := s.save(ctx, t.conv); err != nil {
		return nil, err
	}

	convID := t.conv.rec.ConversationID
	if t.created {
		s.publish(ctx, events.Event{Type: events.ConversationCreated, UserID: t.conv.rec.UserID, ConversationID: convID, Model: t.model})
	}
	s.publish(ctx, events.Event{
		Type:           events.MessagesAppended,
		UserID:         t.conv.rec.UserID,
		ConversationID: convID,
		MessageIDs:     []string{t.userMessageID, assistantID},
		Model:          t.model,
	})
	s.logger.Info().Str("conversation_id", convID).Str("message_id", assistantID).Str("model", t.model).Msg("chat turn saved")

	node, _ := t.conv.m.Get(assistantID)
	return &models.ChatOutput{
		ConversationID: convID,
		CreateTime:     t.conv.rec.CreatedAt.UnixMilli(),
		UserMessageID:  t.userMessageID,
		MessageID:      assistantID,
		Message:        node,
	}, nil
}

// Chat appends the user's message, asks the model for a reply and saves both.
// Nothing is saved when the model call fails.
func (s *ConversationService) Chat(ctx context.Context, userID string, in models.ChatInput) (*models.ChatOutput, error) {
	t, err := s.prepareTurn(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	start := s.now()
	reply, err := s.llm.Complete(ctx, t.model, t.prompt)
	s.metrics.ObserveInference(t.model, err, s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("model invocation failed: %w", err)
	}
	return s.finishTurn(ctx, t, reply)
}

// ChatStream is Chat with each completion fragment passed to onChunk as it
// arrives. The saved reply is the concatenated stream.
func (s *ConversationService) ChatStream(ctx context.Context, userID string, in models.ChatInput, onChunk func(string) error) (*models.ChatOutput, error) {
	t, err := s.prepareTurn(ctx, userID, in)
	if err != nil {
		return nil, err
	}
	start := s.now()
	reply, err := s.llm.Stream(ctx, t.model, t.prompt, onChunk)
	s.metrics.ObserveInference(t.model, err, s.now().Sub(start))
	if err != nil {
		return nil, fmt.Errorf("model stream failed: %w", err)
	}
	return s.finishTurn(ctx, t, reply)
}

func (s *ConversationService) GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	c, err := s.load(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return &models.Conversation{
		ID:            c.rec.ConversationID,
		Title:         c.rec.Title,
		CreateTime:    c.rec.CreatedAt.UnixMilli(),
		LastMessageID: c.rec.LastMessageID,
		MessageMap:    c.m,
	}, nil
}

func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]models.ConversationMeta, error) {
	recs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	out := make([]models.ConversationMeta, 0, len(recs))
	for _, r := range recs {
		out = append(out, models.ConversationMeta{
			ID:         r.ConversationID,
			Title:      r.Title,
			CreateTime: r.CreatedAt.UnixMilli(),
			Model:      r.Model,
		})
	}
	return out, nil
}

func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	if err := s.store.DeleteConversation(ctx, userID, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.publish(ctx, events.Event{Type: events.ConversationDeleted, UserID: userID, ConversationID: conversationID})
	return nil
}

// DeleteAllConversations removes every conversation of the user.
func (s *ConversationService) DeleteAllConversations(ctx context.Context, userID string) (int, error) {
	n, err := s.store.DeleteConversationsByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete conversations: %w", err)
	}
	s.publish(ctx, events.Event{Type: events.ConversationsCleared, UserID: userID})
	return n, nil
}

func (s *ConversationService) UpdateTitle(ctx context.Context, userID, conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrValidation)
	}
	if err := s.store.UpdateConversationTitle(ctx, userID, conversationID, title); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to update title: %w", err)
	}
	s.publish(ctx, events.Event{Type: events.ConversationRenamed, UserID: userID, ConversationID: conversationID})
	return nil
}

// ProposeTitle asks the title model to name the conversation from the path
// ending at its last message. The title is not saved.
func (s *ConversationService) ProposeTitle(ctx context.Context, userID, conversationID string) (string, error) {
	c, err := s.load(ctx, userID, conversationID)
	if err != nil {
		return "", err
	}
	path := s.resolve(conversationID, c.m, c.rec.LastMessageID)
	nodes := append(path.Nodes, conversation.PathNode{
		Role:    conversation.RoleUser,
		Content: conversation.Text(titleInstruction),
		Model:   s.titleModel,
	})
	prompt, err := conversation.FormatPrompt(nodes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	start := s.now()
	reply, err := s.llm.Complete(ctx, s.titleModel, prompt)
	s.metrics.ObserveInference(s.titleModel, err, s.now().Sub(start))
	if err != nil {
		return "", fmt.Errorf("model invocation failed: %w", err)
	}
	return strings.TrimSpace(strings.ReplaceAll(reply, "\n", "")), nil
}

// ResolvePath returns the display path through the conversation for
// selectedID, defaulting to the last message.
func (s *ConversationService) ResolvePath(ctx context.Context, userID, conversationID, selectedID string) (*models.ConversationPath, error) {
	c, err := s.load(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if selectedID == "" {
		selectedID = c.rec.LastMessageID
	}
	return &models.ConversationPath{
		ConversationID: conversationID,
		SelectedID:     selectedID,
		Path:           s.resolve(conversationID, c.m, selectedID),
	}, nil
}

// EditMessage replaces the body of one message in place.
func (s *ConversationService) EditMessage(ctx context.Context, userID, conversationID, messageID, body string) (*conversation.MessageNode, error) {
	if messageID == conversation.SystemID {
		return nil, fmt.Errorf("%w: the system message cannot be edited", ErrValidation)
	}
	c, err := s.load(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if !c.m.Edit(messageID, body) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.MessageEdited, UserID: userID, ConversationID: conversationID, MessageIDs: []string{messageID}})
	node, _ := c.m.Get(messageID)
	return node, nil
}

// DeleteMessage removes a message with its whole subtree. When the last
// message goes with it, the conversation's last message becomes the leaf of
// the path through the removed message's parent.
func (s *ConversationService) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) (*models.DeletedMessages, error) {
	if messageID == conversation.SystemID {
		return nil, fmt.Errorf("%w: the system message cannot be removed", ErrValidation)
	}
	c, err := s.load(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	node, ok := c.m.Get(messageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, messageID)
	}
	parentID, _ := node.Parent.ID()

	removed := c.m.Remove(messageID)
	for _, id := range removed {
		if id != c.rec.LastMessageID {
			continue
		}
		c.rec.LastMessageID = ""
		if last, ok := s.resolve(conversationID, c.m, parentID).Last(); ok {
			c.rec.LastMessageID = last.ID
		}
		break
	}

	if err := s.save(ctx, c); err != nil {
		return nil, err
	}
	s.publish(ctx, events.Event{Type: events.MessagesRemoved, UserID: userID, ConversationID: conversationID, MessageIDs: removed})
	s.logger.Info().Str("conversation_id", conversationID).Strs("removed", removed).Msg("messages removed")
	return &models.DeletedMessages{Removed: removed, LastMessageID: c.rec.LastMessageID}, nil
}
