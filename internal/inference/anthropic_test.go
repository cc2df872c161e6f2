package inference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() Request {
	return Request{
		Model:         "claude-2.1",
		Prompt:        "Human: hi\nAssistant: ",
		MaxTokens:     100,
		Temperature:   0.6,
		TopP:          0.999,
		TopK:          250,
		StopSequences: []string{"Human: "},
	}
}

func TestAnthropicComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "claude-2.1", req.Model)
		assert.Equal(t, 100, req.MaxTokens)
		assert.Equal(t, 250, req.TopK)
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.6, *req.Temperature, 1e-6)
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "Human: hi\nAssistant: ", req.Messages[0].Content)

		fmt.Fprint(w, `{"content":[{"type":"text","text":" Hello"},{"type":"text","text":" there"}],"stop_reason":"end_turn"}`)
	}))
	defer server.Close()

	out, err := NewAnthropic("test-key", server.URL).Complete(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, " Hello there", out)
}

func TestAnthropicAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens is too large"}}`)
	}))
	defer server.Close()

	_, err := NewAnthropic("k", server.URL).Complete(context.Background(), testRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "max_tokens is too large")
}

func TestAnthropicEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer server.Close()

	_, err := NewAnthropic("k", server.URL).Complete(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

const anthropicStream = `event: message_start
data: {"type":"message_start","message":{"id":"msg_1"}}

event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}

event: ping
data: {"type":"ping"}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}

event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}

event: content_block_stop
data: {"type":"content_block_stop","index":0}

event: message_stop
data: {"type":"message_stop"}

`

func TestAnthropicStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, anthropicStream)
	}))
	defer server.Close()

	var chunks []string
	out, err := NewAnthropic("k", server.URL).Stream(context.Background(), testRequest(), func(s string) error {
		chunks = append(chunks, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello", out)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
}

func TestAnthropicStreamErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"a\"}}\n\n")
		fmt.Fprint(w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n")
	}))
	defer server.Close()

	_, err := NewAnthropic("k", server.URL).Stream(context.Background(), testRequest(), func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded_error")

	stop := errors.New("client gone")
	_, err = NewAnthropic("k", server.URL).Stream(context.Background(), testRequest(), func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestAnthropicStreamOutlivesHeaderTimeout(t *testing.T) {
	a := NewAnthropic("k", "")
	assert.Zero(t, a.client.Timeout)
	tr, ok := a.client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, anthropicHeaderTimeout, tr.ResponseHeaderTimeout)

	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"a\"}}\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	a = NewAnthropic("k", server.URL)
	a.client.Transport.(*http.Transport).ResponseHeaderTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	var chunks []string
	start := time.Now()
	_, err := a.Stream(ctx, testRequest(), func(s string) error {
		chunks = append(chunks, s)
		time.AfterFunc(200*time.Millisecond, cancel)
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, chunks)
	// the body kept streaming past the header timeout until the caller cancelled
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
