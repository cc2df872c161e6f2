package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"branchchat-backend/internal/auth"
	"branchchat-backend/internal/config"
	"branchchat-backend/internal/handlers"
	"branchchat-backend/internal/metrics"
	"branchchat-backend/internal/models"
	"branchchat-backend/internal/services"
	"branchchat-backend/internal/store/pebblestore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

type echoLLM struct{}

func (echoLLM) Complete(context.Context, string, string) (string, error) {
	return "echo", nil
}

func (echoLLM) Stream(_ context.Context, _, _ string, onChunk func(string) error) (string, error) {
	if err := onChunk("ec"); err != nil {
		return "", err
	}
	if err := onChunk("ho"); err != nil {
		return "", err
	}
	return "echo", nil
}

func newTestServer(t *testing.T, rps float64, burst int) *Router {
	t.Helper()
	st, err := pebblestore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	m := metrics.New()
	svc := services.NewConversationService(st, nil, echoLLM{}, nil, m, "claude-instant-v1")
	r := NewRouter(RouterDependencies{
		ConversationHandler: handlers.NewConversationHandler(svc),
		Metrics:             m,
		Config: &config.Config{
			JWTSecret:          testSecret,
			JWTIssuer:          "branchchat",
			RateLimitRPS:       rps,
			RateLimitBurst:     burst,
			CORSAllowedOrigins: []string{"http://localhost:3000"},
		},
	})
	t.Cleanup(r.Shutdown)
	return r
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	tok, err := auth.NewAccessToken(userID, userID+"@example.com", testSecret, auth.TokenOptions{Issuer: "branchchat"}, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func send(r http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPublicRoutes(t *testing.T) {
	r := newTestServer(t, 5, 10)

	rec := send(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = send(r, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "branchchat_http_requests_total")
}

func TestAuthRequired(t *testing.T) {
	r := newTestServer(t, 5, 10)

	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodGet, "/v1/conversations", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodGet, "/v1/conversations", "Token abc", "").Code)
	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodGet, "/v1/conversations", "Bearer abc", "").Code)

	wrongIssuer, err := auth.NewAccessToken("alice", "", testSecret, auth.TokenOptions{Issuer: "other"}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, send(r, http.MethodGet, "/v1/conversations", "Bearer "+wrongIssuer, "").Code)

	expired, err := auth.NewAccessToken("alice", "", testSecret, auth.TokenOptions{Issuer: "branchchat"}, -time.Minute)
	require.NoError(t, err)
	rec := send(r, http.MethodGet, "/v1/conversations", "Bearer "+expired, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestConversationFlow(t *testing.T) {
	r := newTestServer(t, 100, 100)
	alice := bearer(t, "alice")

	rec := send(r, http.MethodPost, "/v1/conversation", alice,
		`{"message":{"role":"user","content":{"contentType":"text","body":"hello"},"model":"claude-v2"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out models.ChatOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "echo", out.Message.Content.Body)

	rec = send(r, http.MethodGet, "/v1/conversation/"+out.ConversationID+"/path", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var p models.ConversationPath
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.Equal(t, []string{out.UserMessageID, out.MessageID}, p.IDs())

	// other users cannot see it
	rec = send(r, http.MethodGet, "/v1/conversation/"+out.ConversationID, bearer(t, "bob"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = send(r, http.MethodPost, "/v1/conversation/stream", alice,
		`{"conversationId":"`+out.ConversationID+`","message":{"role":"user","content":{"contentType":"text","body":"more"},"model":"claude-v2","parentMessageId":"`+out.MessageID+`"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data: {"completion":"ec"}`)
	assert.Contains(t, rec.Body.String(), "event: done\n")

	rec = send(r, http.MethodGet, "/metrics", "", "")
	assert.Contains(t, rec.Body.String(), `branchchat_http_requests_total{method="GET",route="/v1/conversation/{conversationID}",status="404"} 1`)
}

func TestChatWithClientChosenConversationID(t *testing.T) {
	r := newTestServer(t, 100, 100)
	alice := bearer(t, "alice")

	rec := send(r, http.MethodPost, "/v1/conversation", alice,
		`{"conversationId":"01HCLIENTULID","message":{"role":"user","content":{"contentType":"text","body":"hello"},"model":"claude-v2"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out models.ChatOutput
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "01HCLIENTULID", out.ConversationID)

	rec = send(r, http.MethodGet, "/v1/conversation/01HCLIENTULID", alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit(t *testing.T) {
	r := newTestServer(t, 0.001, 2)
	alice := bearer(t, "alice")

	assert.Equal(t, http.StatusOK, send(r, http.MethodGet, "/v1/conversations", alice, "").Code)
	assert.Equal(t, http.StatusOK, send(r, http.MethodGet, "/v1/conversations", alice, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(r, http.MethodGet, "/v1/conversations", alice, "").Code)

	// buckets are per user
	assert.Equal(t, http.StatusOK, send(r, http.MethodGet, "/v1/conversations", bearer(t, "bob"), "").Code)
}

func TestLimiterPoolEvictsIdleKeys(t *testing.T) {
	p := newLimiterPool(1, 1)
	defer p.Shutdown()
	p.Allow("a")
	p.Allow("b")
	p.m["a"].lastSeen = time.Now().Add(-time.Hour)

	p.evictIdle(time.Now().Add(-time.Minute))
	assert.NotContains(t, p.m, "a")
	assert.Contains(t, p.m, "b")
}
