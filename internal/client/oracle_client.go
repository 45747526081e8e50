package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/draftforge/api/internal/config"
)

// Oracle is the text-generation and evaluation collaborator. Implementations
// may fail transiently; callers route those failures into job retry.
type Oracle interface {
	Evaluate(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error)
}

// ChatMessage is one role-tagged message in a completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionOptions carry the caller-supplied sampling budget.
type CompletionOptions struct {
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// OracleError wraps transport/HTTP failures of the oracle service.
type OracleError struct {
	Status int
	Err    error
}

func (e *OracleError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("oracle error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("oracle error: %v", e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// ParseError means a jsonMode response could not be decoded, even after
// stripping a fenced code block.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	snippet := e.Raw
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return fmt.Sprintf("parse oracle response: %v: %s", e.Err, snippet)
}

func (e *ParseError) Unwrap() error { return e.Err }

// OracleClient talks to an OpenAI-compatible chat completions endpoint.
type OracleClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	attempts   int
	backoff    time.Duration
}

type chatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOracleClient creates a client for the configured completion endpoint.
func NewOracleClient(cfg *config.OracleConfig) *OracleClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OracleClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		attempts:   3,
		backoff:    time.Second,
	}
}

// Evaluate sends a chat completion request, retrying transient failures up
// to 3 times with exponential backoff. This retry is internal to the
// collaborator and independent of job-level retry.
func (c *OracleClient) Evaluate(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	var lastErr error
	for attempt := 0; attempt < c.attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", &OracleError{Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		content, err := c.complete(ctx, messages, opts)
		if err == nil {
			return content, nil
		}
		lastErr = err
	}
	return "", lastErr
}

func (c *OracleClient) complete(ctx context.Context, messages []ChatMessage, opts CompletionOptions) (string, error) {
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
	}
	if opts.JSONMode {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &OracleError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &OracleError{Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &OracleError{Status: resp.StatusCode, Err: fmt.Errorf("%s", respBody)}
	}

	var chatResp chatCompletionResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", &OracleError{Err: fmt.Errorf("unmarshal response: %w", err)}
	}
	if len(chatResp.Choices) == 0 {
		return "", &OracleError{Err: fmt.Errorf("no choices in response")}
	}
	return chatResp.Choices[0].Message.Content, nil
}

// IsConfigured returns true if the client has an API key.
func (c *OracleClient) IsConfigured() bool {
	return c.apiKey != ""
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\n?```")

// EvaluateJSON runs a jsonMode completion and decodes the result into out,
// falling back to stripping a fenced code block before giving up.
func EvaluateJSON(ctx context.Context, oracle Oracle, messages []ChatMessage, opts CompletionOptions, out any) error {
	opts.JSONMode = true
	content, err := oracle.Evaluate(ctx, messages, opts)
	if err != nil {
		return err
	}
	return DecodeJSON(content, out)
}

// DecodeJSON decodes possibly fence-wrapped oracle output.
func DecodeJSON(content string, out any) error {
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	if m := fencedBlock.FindStringSubmatch(content); m != nil {
		if err := json.Unmarshal([]byte(m[1]), out); err == nil {
			return nil
		}
	}
	return &ParseError{Raw: content, Err: fmt.Errorf("invalid JSON")}
}
