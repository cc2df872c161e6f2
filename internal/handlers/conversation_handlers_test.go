package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"branchchat-backend/internal/auth"
	"branchchat-backend/internal/conversation"
	"branchchat-backend/internal/inference"
	"branchchat-backend/internal/models"
	"branchchat-backend/internal/services"
	"branchchat-backend/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService answers every call with err, or a canned value.
type stubService struct {
	err      error
	chunks   []string
	lastUser string
	lastIn   models.ChatInput
	selected string
	title    string
}

func (s *stubService) Chat(_ context.Context, userID string, in models.ChatInput) (*models.ChatOutput, error) {
	s.lastUser, s.lastIn = userID, in
	if s.err != nil {
		return nil, s.err
	}
	return &models.ChatOutput{ConversationID: "c1", UserMessageID: "u1", MessageID: "a1",
		Message: &conversation.MessageNode{ID: "a1", Role: conversation.RoleAssistant, Content: conversation.Text("hi")}}, nil
}

func (s *stubService) ChatStream(_ context.Context, userID string, in models.ChatInput, onChunk func(string) error) (*models.ChatOutput, error) {
	s.lastUser, s.lastIn = userID, in
	for _, c := range s.chunks {
		if err := onChunk(c); err != nil {
			return nil, err
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return &models.ChatOutput{ConversationID: "c1", MessageID: "a1"}, nil
}

func (s *stubService) GetConversation(_ context.Context, _, conversationID string) (*models.Conversation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Conversation{ID: conversationID, Title: "t", MessageMap: conversation.New("claude-v2", time.Time{})}, nil
}

func (s *stubService) ListConversations(context.Context, string) ([]models.ConversationMeta, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.ConversationMeta{{ID: "c1", Title: "t", Model: "claude-v2"}}, nil
}

func (s *stubService) DeleteConversation(context.Context, string, string) error { return s.err }

func (s *stubService) DeleteAllConversations(context.Context, string) (int, error) {
	return 3, s.err
}

func (s *stubService) UpdateTitle(_ context.Context, _, _, title string) error {
	s.title = title
	return s.err
}

func (s *stubService) ProposeTitle(context.Context, string, string) (string, error) {
	return "Go basics", s.err
}

func (s *stubService) ResolvePath(_ context.Context, _, conversationID, selectedID string) (*models.ConversationPath, error) {
	s.selected = selectedID
	if s.err != nil {
		return nil, s.err
	}
	return &models.ConversationPath{ConversationID: conversationID, SelectedID: selectedID}, nil
}

func (s *stubService) EditMessage(_ context.Context, _, _, messageID, body string) (*conversation.MessageNode, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &conversation.MessageNode{ID: messageID, Role: conversation.RoleUser, Content: conversation.Text(body)}, nil
}

func (s *stubService) DeleteMessage(_ context.Context, _, _, messageID string) (*models.DeletedMessages, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.DeletedMessages{Removed: []string{messageID}, LastMessageID: "x"}, nil
}

func newTestRouter(svc ConversationService, authenticated bool) http.Handler {
	h := NewConversationHandler(svc)
	r := chi.NewRouter()
	if authenticated {
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				claims := &auth.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"}}
				next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
			})
		})
	}
	h.Mount(r)
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestChatHandler(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc, true)

	rec := do(t, h, http.MethodPost, "/conversation",
		`{"conversationId":null,"message":{"role":"user","content":{"contentType":"text","body":"hello"},"model":"claude-v2","parentMessageId":null}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", svc.lastUser)
	assert.Nil(t, svc.lastIn.ConversationID)
	assert.Equal(t, "hello", svc.lastIn.Message.Content.Body)
	assert.Contains(t, rec.Body.String(), `"messageId":"a1"`)
	assert.Contains(t, rec.Body.String(), `"children":[]`)

	rec = do(t, h, http.MethodPost, "/conversation", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlersRequireUser(t *testing.T) {
	h := newTestRouter(&stubService{}, false)
	rec := do(t, h, http.MethodGet, "/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{store.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: m1", services.ErrMessageNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: body cannot be empty", services.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("model invocation failed: %w", inference.ErrUnsupportedModel), http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := newTestRouter(&stubService{err: tc.err}, true)
		rec := do(t, h, http.MethodGet, "/conversation/c1", "")
		assert.Equal(t, tc.code, rec.Code, tc.err.Error())
		assert.Contains(t, rec.Body.String(), `"error"`)
	}
}

func TestConversationRoutes(t *testing.T) {
	svc := &stubService{}
	h := newTestRouter(svc, true)

	rec := do(t, h, http.MethodGet, "/conversations", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"c1","title":"t","createTime":0,"model":"claude-v2"}]`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/conversations", "")
	assert.JSONEq(t, `{"deleted":3}`, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/conversation/c1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPatch, "/conversation/c1/title", `{"newTitle":"Renamed"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "Renamed", svc.title)

	rec = do(t, h, http.MethodGet, "/conversation/c1/proposed-title", "")
	assert.JSONEq(t, `{"title":"Go basics"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/conversation/c1/path?selected=m7", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "m7", svc.selected)
	assert.Contains(t, rec.Body.String(), `"selectedId":"m7"`)

	rec = do(t, h, http.MethodPatch, "/conversation/c1/messages/m1", `{"body":"edited"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"body":"edited"`)

	rec = do(t, h, http.MethodDelete, "/conversation/c1/messages/m1", "")
	assert.JSONEq(t, `{"removed":["m1"],"lastMessageId":"x"}`, rec.Body.String())
}

func TestChatStreamHandler(t *testing.T) {
	svc := &stubService{chunks: []string{"Hel", "lo"}}
	h := newTestRouter(svc, true)

	rec := do(t, h, http.MethodPost, "/conversation/stream",
		`{"message":{"role":"user","content":{"contentType":"text","body":"hi"},"model":"claude-v2"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "data: {\"completion\":\"Hel\"}\n\ndata: {\"completion\":\"lo\"}\n\nevent: done\n"), body)
}

func TestChatStreamErrors(t *testing.T) {
	// failure before the first fragment is a plain JSON error
	h := newTestRouter(&stubService{err: fmt.Errorf("%w: x", services.ErrValidation)}, true)
	rec := do(t, h, http.MethodPost, "/conversation/stream", `{"message":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// failure mid-stream is reported in-band
	h = newTestRouter(&stubService{chunks: []string{"a"}, err: errors.New("upstream closed")}, true)
	rec = do(t, h, http.MethodPost, "/conversation/stream", `{"message":{}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "event: error\n")
	assert.NotContains(t, rec.Body.String(), "event: done")
}
