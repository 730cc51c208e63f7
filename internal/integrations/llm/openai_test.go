package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scoreledger/internal/domain"
	"scoreledger/internal/logging"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc) (*OpenAIExtractor, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIExtractor(Options{
		Endpoint:     srv.URL + "/v1",
		APIKey:       "sk-test",
		Model:        "test-model",
		Temperature:  0.3,
		SystemPrompt: "system",
		HTTPClient:   srv.Client(),
		Logger:       logging.Discard(),
	}), srv
}

func TestOpenAIExtractStreamsCompletion(t *testing.T) {
	var got openAIRequest
	extractor, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{`[{"studentName":"张三",`, `"reason":"迟到"}]`, `[]`} {
			_, _ = w.Write([]byte(sseDelta(t, part)))
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})

	text, err := extractor.Extract(context.Background(), "张三迟到")
	require.NoError(t, err)
	assert.Equal(t, `[{"studentName":"张三","reason":"迟到"}][]`, text)

	assert.True(t, got.Stream)
	assert.Equal(t, "test-model", got.Model)
	assert.InDelta(t, 0.3, got.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, openAIMessage{Role: "system", Content: "system"}, got.Messages[0])
	assert.Equal(t, openAIMessage{Role: "user", Content: "张三迟到"}, got.Messages[1])
}

func TestOpenAIExtractNonSuccessStatus(t *testing.T) {
	extractor, srv := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	})

	_, err := extractor.Extract(context.Background(), "text")
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.Equal(t, "overloaded", netErr.Body)
	assert.Equal(t, srv.URL+"/v1/chat/completions", netErr.Endpoint)
}

func TestOpenAIExtractUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	extractor := NewOpenAIExtractor(Options{Endpoint: url, Model: "m", Logger: logging.Discard()})
	_, err := extractor.Extract(context.Background(), "text")
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Zero(t, netErr.StatusCode)
	assert.Error(t, errors.Unwrap(netErr))
}

func TestOpenAIExtractStreamErrorIsNetworkError(t *testing.T) {
	extractor, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(`data: {"error":{"message":"rate limited"}}` + "\n\n"))
	})

	_, err := extractor.Extract(context.Background(), "text")
	var netErr *domain.NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.Equal(t, "rate limited", netErr.Body)
}

func TestOpenAIExtractCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	extractor, _ := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sseDelta(t, "[")))
		w.(http.Flusher).Flush()
		cancel()
		<-r.Context().Done()
	})

	text, err := extractor.Extract(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, text)
}

func TestChatCompletionsURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"https://api.example.com/v1", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/", "https://api.example.com/v1/chat/completions"},
		{"https://api.example.com/v1/chat/completions", "https://api.example.com/v1/chat/completions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, chatCompletionsURL(tt.in), tt.in)
	}
}
