package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cognicore/cellar/pkg/cellar/completion"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
)

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string

	HTTPClient *http.Client
}

var _ completion.Completer = (*Client)(nil)

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    *float64        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat request. Transport failures, non-2xx statuses and
// provider errors wrap internalerr.ErrUpstream.
func (c *Client) Complete(ctx context.Context, req completion.Request) (string, error) {
	model := c.Model
	if req.Model != "" {
		model = req.Model
	}
	if c.BaseURL == "" || model == "" {
		return "", fmt.Errorf("llm: base URL and model required: %w", internalerr.ErrInvalidConfig)
	}

	body := chatRequest{Model: model, MaxTokens: req.MaxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.Temperature > 0 {
		temp := req.Temperature
		body.Temperature = &temp
	}
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	payload, err := c.send(ctx, body)
	if err != nil {
		return "", err
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response: %w", internalerr.ErrUpstream)
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) send(ctx context.Context, body chatRequest) (*chatResponse, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm: %v: %w", err, internalerr.ErrUpstream)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llm: status %d: %s: %w", resp.StatusCode, bytes.TrimSpace(snippet), internalerr.ErrUpstream)
	}

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("llm: decode response: %v: %w", err, internalerr.ErrUpstream)
	}
	if payload.Error != nil {
		return nil, fmt.Errorf("llm error: %s: %w", payload.Error.Message, internalerr.ErrUpstream)
	}
	return &payload, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}
