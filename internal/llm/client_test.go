package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func newTestClient(t *testing.T, provider, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		Provider: provider,
		BaseURL:  baseURL,
		APIKey:   "test-key",
		Model:    "test-model",
		Retry:    fastRetry(),
	}, logrus.New())
	require.NoError(t, err)
	return c
}

func TestNewProvider(t *testing.T) {
	for name, want := range map[string]string{
		"openai":    "openai",
		"Anthropic": "anthropic",
		"claude":    "anthropic",
		"gemini":    "gemini",
	} {
		p, err := NewProvider(name)
		require.NoError(t, err)
		assert.Equal(t, want, p.Name())
	}

	_, err := NewProvider("deepseek")
	assert.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(Config{Provider: "openai"}, logrus.New())
	assert.Error(t, err)
}

func TestClient_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"test-model","choices":[{"message":{"role":"assistant","content":"olá"}}],"usage":{"prompt_tokens":10,"completion_tokens":2}}`))
	}))
	defer server.Close()

	client := newTestClient(t, "openai", server.URL)
	resp, err := client.Complete(context.Background(), ChatRequest{
		System:   "sys",
		Messages: []Message{{Role: "user", Content: "oi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "olá", resp.Text)
	assert.Equal(t, 10, resp.InputTokens)
}

func TestClient_Anthropic(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sys", req.System)
		assert.Equal(t, 1024, req.MaxTokens)

		w.Write([]byte(`{"model":"claude","content":[{"type":"text","text":"resposta"}],"usage":{"input_tokens":5,"output_tokens":1}}`))
	}))
	defer server.Close()

	client := newTestClient(t, "anthropic", server.URL)
	resp, err := client.Complete(context.Background(), ChatRequest{
		System:   "sys",
		Messages: []Message{{Role: "user", Content: "oi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "resposta", resp.Text)
	assert.Equal(t, 1, resp.OutputTokens)
}

func TestClient_Gemini(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.SystemInstruction)
		require.Len(t, req.Contents, 2)
		assert.Equal(t, "model", req.Contents[1].Role)

		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"par"},{"text":"te"}]}}],"modelVersion":"gemini-x"}`))
	}))
	defer server.Close()

	client := newTestClient(t, "gemini", server.URL)
	resp, err := client.Complete(context.Background(), ChatRequest{
		System: "sys",
		Messages: []Message{
			{Role: "user", Content: "oi"},
			{Role: "assistant", Content: "olá"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "parte", resp.Text)
	assert.Equal(t, "gemini-x", resp.Model)
}

func TestClient_ErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad model"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, "openai", server.URL)
	_, err := client.CompleteWithRetry(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, err.Error(), "bad model")
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	client := newTestClient(t, "openai", server.URL)
	resp, err := client.CompleteWithRetry(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := newTestClient(t, "openai", server.URL)
	_, err := client.CompleteWithRetry(context.Background(), ChatRequest{Messages: []Message{{Role: "user", Content: "x"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 retries")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestService_Compose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		user := req.Messages[len(req.Messages)-1].Content
		assert.Contains(t, user, "[1] (luos.docx)")
		assert.Contains(t, user, "Pergunta: O que é outorga?")

		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  Outorga é ...  "}}]}`))
	}))
	defer server.Close()

	svc := NewService(newTestClient(t, "openai", server.URL), logrus.New())
	text, err := svc.Compose(context.Background(), "O que é outorga?", []Passage{{Source: "luos.docx", Content: "texto"}})
	require.NoError(t, err)
	assert.Equal(t, "Outorga é ...", text)
	assert.Equal(t, "openai:test-model", svc.Name())

	_, err = svc.Compose(context.Background(), "q", nil)
	assert.Error(t, err)
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", truncateRunes("abc", 5))
	assert.Equal(t, "a…", truncateRunes("aé", 2))
}
