package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// Config selects and parameterises a provider.
type Config struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Retry       RetryConfig
}

type Client struct {
	provider    Provider
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	retry       RetryConfig
	httpClient  *http.Client
	logger      *logrus.Logger
}

func NewClient(cfg Config, logger *logrus.Logger) (*Client, error) {
	provider, err := NewProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", provider.Name())
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = provider.DefaultBaseURL()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.BaseDelay == 0 {
		retry = DefaultRetryConfig()
	}

	return &Client{
		provider:    provider,
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		retry:       retry,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

// Provider returns the provider name.
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Model returns the configured model.
func (c *Client) Model() string {
	return c.model
}

// Complete sends one chat request, filling model and sampling defaults from the config.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.MaxTokens == 0 {
		req.MaxTokens = c.maxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.temperature
	}

	httpReq, err := c.provider.FormatRequest(ctx, c.baseURL, c.apiKey, req)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"provider": c.provider.Name(),
		"model":    req.Model,
		"url":      httpReq.URL.Path,
	}).Debug("Making LLM API request")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.WithFields(logrus.Fields{
		"provider":      c.provider.Name(),
		"status_code":   resp.StatusCode,
		"response_size": len(body),
		"duration":      time.Since(start).String(),
	}).Debug("LLM API response received")

	return c.provider.ParseResponse(resp.StatusCode, body)
}

// CompleteWithRetry retries transport errors, 429 and 5xx replies.
func (c *Client) CompleteWithRetry(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var result *ChatResponse
	err := c.retryOperation(ctx, func() error {
		var err error
		result, err = c.Complete(ctx, req)
		return err
	})
	return result, err
}
