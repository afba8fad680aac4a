package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Provider adapts the common chat request to one vendor's HTTP API.
type Provider interface {
	Name() string
	DefaultBaseURL() string
	FormatRequest(ctx context.Context, baseURL, apiKey string, req ChatRequest) (*http.Request, error)
	ParseResponse(status int, body []byte) (*ChatResponse, error)
}

// StatusError is returned by ParseResponse for non-2xx replies.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NewProvider returns the provider registered under name.
func NewProvider(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "openai":
		return OpenAIProvider{}, nil
	case "anthropic", "claude":
		return AnthropicProvider{}, nil
	case "gemini", "google":
		return GeminiProvider{}, nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

func jsonRequest(ctx context.Context, endpoint string, payload interface{}) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func statusError(status int, body []byte, apiErr *apiError) error {
	msg := strings.TrimSpace(string(body))
	if apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	return &StatusError{StatusCode: status, Message: msg}
}

// OpenAIProvider speaks the chat completions API.
type OpenAIProvider struct{}

func (OpenAIProvider) Name() string           { return "openai" }
func (OpenAIProvider) DefaultBaseURL() string { return "https://api.openai.com/v1" }

func (OpenAIProvider) FormatRequest(ctx context.Context, baseURL, apiKey string, req ChatRequest) (*http.Request, error) {
	msgs := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, req.Messages...)

	httpReq, err := jsonRequest(ctx, strings.TrimRight(baseURL, "/")+"/chat/completions", openAIChatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	return httpReq, nil
}

func (OpenAIProvider) ParseResponse(status int, body []byte) (*ChatResponse, error) {
	var resp openAIChatResponse
	decodeErr := json.Unmarshal(body, &resp)
	if status < 200 || status >= 300 {
		return nil, statusError(status, body, resp.Error)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("response has no choices")
	}
	return &ChatResponse{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// AnthropicProvider speaks the messages API.
type AnthropicProvider struct{}

const anthropicVersion = "2023-06-01"

func (AnthropicProvider) Name() string           { return "anthropic" }
func (AnthropicProvider) DefaultBaseURL() string { return "https://api.anthropic.com" }

func (AnthropicProvider) FormatRequest(ctx context.Context, baseURL, apiKey string, req ChatRequest) (*http.Request, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	httpReq, err := jsonRequest(ctx, strings.TrimRight(baseURL, "/")+"/v1/messages", anthropicRequest{
		Model:       req.Model,
		System:      req.System,
		Messages:    req.Messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return httpReq, nil
}

func (AnthropicProvider) ParseResponse(status int, body []byte) (*ChatResponse, error) {
	var resp anthropicResponse
	decodeErr := json.Unmarshal(body, &resp)
	if status < 200 || status >= 300 {
		return nil, statusError(status, body, resp.Error)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("response has no text content")
	}
	return &ChatResponse{
		Text:         text.String(),
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
	}, nil
}

// GeminiProvider speaks the generateContent REST API.
type GeminiProvider struct{}

func (GeminiProvider) Name() string           { return "gemini" }
func (GeminiProvider) DefaultBaseURL() string { return "https://generativelanguage.googleapis.com" }

func (GeminiProvider) FormatRequest(ctx context.Context, baseURL, apiKey string, req ChatRequest) (*http.Request, error) {
	payload := geminiRequest{}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages {
		role := "user"
		if m.Role == "assistant" {
			role = "model"
		}
		payload.Contents = append(payload.Contents, geminiContent{Role: role, Parts: []geminiPart{{Text: m.Content}}})
	}
	payload.GenerationConfig.Temperature = req.Temperature
	payload.GenerationConfig.MaxOutputTokens = req.MaxTokens

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", strings.TrimRight(baseURL, "/"), url.PathEscape(req.Model))
	httpReq, err := jsonRequest(ctx, endpoint, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)
	return httpReq, nil
}

func (GeminiProvider) ParseResponse(status int, body []byte) (*ChatResponse, error) {
	var resp geminiResponse
	decodeErr := json.Unmarshal(body, &resp)
	if status < 200 || status >= 300 {
		return nil, statusError(status, body, resp.Error)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", decodeErr)
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("response has no candidates")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	return &ChatResponse{
		Text:         text.String(),
		Model:        resp.ModelVersion,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}
