package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Embedder turns text into a vector with the same function used at ingestion time.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
	Name() string
}

// GenAIEmbedder embeds queries with the Gemini embedding API.
type GenAIEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGenAIEmbedder creates a Gemini embedder. dimensions > 0 requests a reduced output size.
func NewGenAIEmbedder(ctx context.Context, apiKey, model string, dimensions int) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEmbedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
	}, nil
}

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"}
	if e.dimensions > 0 {
		d := int32(e.dimensions)
		cfg.OutputDimensionality = &d
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || result.Embeddings[0] == nil {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// Dimensions returns the requested size, or 3072 for gemini-embedding-001 and 768
// for the older text-embedding models.
func (e *GenAIEmbedder) Dimensions() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	if strings.HasPrefix(e.model, "gemini-embedding") {
		return 3072
	}
	return 768
}

func (e *GenAIEmbedder) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

// OpenAIEmbedder calls an OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
}

type openAIEmbeddingRequest struct {
	Model      string `json:"model"`
	Input      string `json:"input"`
	Dimensions int    `json:"dimensions,omitempty"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbedder creates an embedder for text-embedding-3-* style models.
func NewOpenAIEmbedder(baseURL, apiKey, model string, dimensions int, timeout time.Duration) *OpenAIEmbedder {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAIEmbedder{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{
		Model:      e.model,
		Input:      text,
		Dimensions: e.dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}

	var out openAIEmbeddingResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode >= 400 {
		msg := string(raw)
		if out.Error != nil {
			msg = out.Error.Message
		}
		return nil, fmt.Errorf("embedding API error (status %d): %s", resp.StatusCode, msg)
	}
	if len(out.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return out.Data[0].Embedding, nil
}

// Dimensions returns the configured size, or 1536 for text-embedding-3-small.
func (e *OpenAIEmbedder) Dimensions() int {
	if e.dimensions > 0 {
		return e.dimensions
	}
	return 1536
}

func (e *OpenAIEmbedder) Name() string {
	return fmt.Sprintf("openai:%s", e.model)
}
