// Package llm provides a thin HTTP client over a generic chat-completion
// style endpoint, implementing collaborators.Translator and
// collaborators.Summarizer. The provider is illustrative: any endpoint that
// accepts a prompt and returns a single text completion fits this shape.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskbot/daily-digest/internal/collaborators"
)

const defaultTimeout = 30 * time.Second

// Client calls a chat-completion endpoint for translation and summarisation.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// New creates a Client.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var (
	_ collaborators.Translator = (*Client)(nil)
	_ collaborators.Summarizer = (*Client)(nil)
)

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Completion string `json:"completion"`
}

// TranslateTitles translates a batch of English titles to Chinese in one
// call, returning a slice parallel to titles.
func (c *Client) TranslateTitles(ctx context.Context, titles []string) ([]string, error) {
	prompt := "Translate each of the following English headlines to Chinese. " +
		"Return exactly one translation per line, in the same order, with no numbering.\n\n"
	for _, title := range titles {
		prompt += title + "\n"
	}

	completion, err := c.complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("llm: translate titles: %w", err)
	}

	lines := splitNonEmptyLines(completion)
	if len(lines) != len(titles) {
		return nil, fmt.Errorf("llm: translate titles: expected %d lines, got %d", len(titles), len(lines))
	}
	return lines, nil
}

// TranslateTitle translates a single title, used for the inline fallback
// when batch pre-translation was skipped or failed.
func (c *Client) TranslateTitle(ctx context.Context, title string) (string, error) {
	completion, err := c.complete(ctx, "Translate this English headline to Chinese, return only the translation:\n\n"+title)
	if err != nil {
		return "", fmt.Errorf("llm: translate title: %w", err)
	}
	return strings.TrimSpace(completion), nil
}

// SummarizeContent produces a Chinese-language summary of fetched article
// content.
func (c *Client) SummarizeContent(ctx context.Context, content string) (string, error) {
	completion, err := c.complete(ctx, "Summarize this article in Chinese in 2-3 sentences:\n\n"+content)
	if err != nil {
		return "", fmt.Errorf("llm: summarize content: %w", err)
	}
	return completion, nil
}

// SummarizeComment produces a Chinese-language summary of a top comment.
func (c *Client) SummarizeComment(ctx context.Context, comment string) (string, error) {
	completion, err := c.complete(ctx, "Summarize this comment in Chinese in 1-2 sentences:\n\n"+comment)
	if err != nil {
		return "", fmt.Errorf("llm: summarize comment: %w", err)
	}
	return completion, nil
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	var parsed completionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return parsed.Completion, nil
}

// APIError represents an error response from the completion endpoint.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: API error %d: %s", e.StatusCode, e.Message)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
