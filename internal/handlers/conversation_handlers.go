package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"branchchat-backend/internal/auth"
	"branchchat-backend/internal/conversation"
	"branchchat-backend/internal/inference"
	"branchchat-backend/internal/models"
	"branchchat-backend/internal/services"
	"branchchat-backend/internal/store"
	"branchchat-backend/pkg/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConversationService defines the interface expected from the conversation service.
type ConversationService interface {
	Chat(ctx context.Context, userID string, in models.ChatInput) (*models.ChatOutput, error)
	ChatStream(ctx context.Context, userID string, in models.ChatInput, onChunk func(string) error) (*models.ChatOutput, error)
	GetConversation(ctx context.Context, userID, conversationID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationMeta, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	DeleteAllConversations(ctx context.Context, userID string) (int, error)
	UpdateTitle(ctx context.Context, userID, conversationID, title string) error
	ProposeTitle(ctx context.Context, userID, conversationID string) (string, error)
	ResolvePath(ctx context.Context, userID, conversationID, selectedID string) (*models.ConversationPath, error)
	EditMessage(ctx context.Context, userID, conversationID, messageID, body string) (*conversation.MessageNode, error)
	DeleteMessage(ctx context.Context, userID, conversationID, messageID string) (*models.DeletedMessages, error)
}

type ConversationHandler struct {
	svc    ConversationService
	logger zerolog.Logger
}

func NewConversationHandler(svc ConversationService) *ConversationHandler {
	return &ConversationHandler{
		svc:    svc,
		logger: log.With().Str("component", "conversation_handler").Logger(),
	}
}

func (h *ConversationHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		httputil.RespondError(w, http.StatusUnauthorized, "User ID not found in token context")
	}
	return userID, ok
}

// respondServiceError maps a service error onto a status code and logs the
// unexpected ones.
func (h *ConversationHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, services.ErrMessageNotFound):
		httputil.RespondError(w, http.StatusNotFound, "Message not found")
	case errors.Is(err, services.ErrValidation), errors.Is(err, inference.ErrUnsupportedModel):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error().Err(err).
			Str("path", r.URL.Path).
			Str("conversation_id", chi.URLParam(r, "conversationID")).
			Msgf("%s failed", action)
		httputil.RespondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// HandleListConversations handles GET /v1/conversations
func (h *ConversationHandler) HandleListConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListConversations(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "list conversations")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, list)
}

// HandleDeleteAllConversations handles DELETE /v1/conversations
func (h *ConversationHandler) HandleDeleteAllConversations(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	n, err := h.svc.DeleteAllConversations(r.Context(), userID)
	if err != nil {
		h.respondServiceError(w, r, err, "delete conversations")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.DeletedConversations{Deleted: n})
}

func decodeChatInput(w http.ResponseWriter, r *http.Request) (models.ChatInput, bool) {
	var in models.ChatInput
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return in, false
	}
	return in, true
}

// HandleChat handles POST /v1/conversation
func (h *ConversationHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	in, ok := decodeChatInput(w, r)
	if !ok {
		return
	}
	out, err := h.svc.Chat(r.Context(), userID, in)
	if err != nil {
		h.respondServiceError(w, r, err, "post message")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, out)
}

// HandleChatStream handles POST /v1/conversation/stream. Fragments are sent as
// unnamed events; the final "done" event carries the saved reply.
func (h *ConversationHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	in, ok := decodeChatInput(w, r)
	if !ok {
		return
	}
	sse, err := httputil.NewSSEWriter(w)
	if err != nil {
		httputil.RespondError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	out, err := h.svc.ChatStream(r.Context(), userID, in, func(chunk string) error {
		return sse.Event("", models.StreamChunk{Completion: chunk})
	})
	if err != nil {
		if !sse.Started() {
			h.respondServiceError(w, r, err, "stream message")
			return
		}
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("stream aborted")
		_ = sse.Event("error", models.ErrorResponse{Error: "stream aborted"})
		return
	}
	if err := sse.Event("done", out); err != nil {
		h.logger.Warn().Err(err).Str("conversation_id", out.ConversationID).Msg("failed to send done event")
	}
}

// HandleGetConversation handles GET /v1/conversation/{conversationID}
func (h *ConversationHandler) HandleGetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	conv, err := h.svc.GetConversation(r.Context(), userID, chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, r, err, "get conversation")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, conv)
}

// HandleDeleteConversation handles DELETE /v1/conversation/{conversationID}
func (h *ConversationHandler) HandleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteConversation(r.Context(), userID, chi.URLParam(r, "conversationID")); err != nil {
		h.respondServiceError(w, r, err, "delete conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUpdateTitle handles PATCH /v1/conversation/{conversationID}/title
func (h *ConversationHandler) HandleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in models.NewTitleInput
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	if err := h.svc.UpdateTitle(r.Context(), userID, chi.URLParam(r, "conversationID"), in.NewTitle); err != nil {
		h.respondServiceError(w, r, err, "update title")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleProposeTitle handles GET /v1/conversation/{conversationID}/proposed-title
func (h *ConversationHandler) HandleProposeTitle(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	title, err := h.svc.ProposeTitle(r.Context(), userID, chi.URLParam(r, "conversationID"))
	if err != nil {
		h.respondServiceError(w, r, err, "propose title")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, models.ProposedTitle{Title: title})
}

// HandleResolvePath handles GET /v1/conversation/{conversationID}/path?selected=
func (h *ConversationHandler) HandleResolvePath(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.ResolvePath(r.Context(), userID, chi.URLParam(r, "conversationID"), r.URL.Query().Get("selected"))
	if err != nil {
		h.respondServiceError(w, r, err, "resolve path")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, p)
}

// HandleEditMessage handles PATCH /v1/conversation/{conversationID}/messages/{messageID}
func (h *ConversationHandler) HandleEditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	var in models.EditMessageInput
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	node, err := h.svc.EditMessage(r.Context(), userID, chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"), in.Body)
	if err != nil {
		h.respondServiceError(w, r, err, "edit message")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, node)
}

// HandleDeleteMessage handles DELETE /v1/conversation/{conversationID}/messages/{messageID}
func (h *ConversationHandler) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	res, err := h.svc.DeleteMessage(r.Context(), userID, chi.URLParam(r, "conversationID"), chi.URLParam(r, "messageID"))
	if err != nil {
		h.respondServiceError(w, r, err, "delete message")
		return
	}
	httputil.RespondJSON(w, http.StatusOK, res)
}

// Mount registers the conversation routes on r.
func (h *ConversationHandler) Mount(r chi.Router) {
	r.Get("/conversations", h.HandleListConversations)
	r.Delete("/conversations", h.HandleDeleteAllConversations)

	r.Route("/conversation", func(r chi.Router) {
		r.Post("/", h.HandleChat)
		r.Post("/stream", h.HandleChatStream)
		r.Get("/{conversationID}", h.HandleGetConversation)
		r.Delete("/{conversationID}", h.HandleDeleteConversation)
		r.Patch("/{conversationID}/title", h.HandleUpdateTitle)
		r.Get("/{conversationID}/proposed-title", h.HandleProposeTitle)
		r.Get("/{conversationID}/path", h.HandleResolvePath)
		r.Patch("/{conversationID}/messages/{messageID}", h.HandleEditMessage)
		r.Delete("/{conversationID}/messages/{messageID}", h.HandleDeleteMessage)
	})
}
