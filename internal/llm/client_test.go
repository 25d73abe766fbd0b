package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/cognicore/cellar/pkg/cellar/completion"
	"github.com/cognicore/cellar/pkg/cellar/internalerr"
)

type roundTrip func(*http.Request) *http.Response

func (rt roundTrip) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req), nil
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func TestCompleteJSONMode(t *testing.T) {
	var sent chatRequest
	client := &Client{
		BaseURL: "https://api.test/v1/chat/completions",
		Model:   "gpt-test",
		APIKey:  "sk-test",
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				if got := req.Header.Get("Authorization"); got != "Bearer sk-test" {
					t.Errorf("authorization = %q", got)
				}
				raw, _ := io.ReadAll(req.Body)
				if err := json.Unmarshal(raw, &sent); err != nil {
					t.Fatalf("decode request: %v", err)
				}
				return respond(200, `{"choices":[{"message":{"role":"assistant","content":"{\"name\":\"Barolo\"}"}}]}`)
			}),
		},
	}

	out, err := client.Complete(context.Background(), completion.Request{
		System:      "extract",
		Prompt:      "Barolo 2018",
		JSON:        true,
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != `{"name":"Barolo"}` {
		t.Errorf("unexpected output: %s", out)
	}
	if sent.ResponseFormat == nil || sent.ResponseFormat.Type != "json_object" {
		t.Errorf("json mode not requested: %+v", sent.ResponseFormat)
	}
	if len(sent.Messages) != 2 || sent.Messages[0].Role != "system" || sent.Messages[1].Content != "Barolo 2018" {
		t.Errorf("unexpected messages: %+v", sent.Messages)
	}
	if sent.MaxTokens != 200 || sent.Temperature == nil || *sent.Temperature != 0.1 {
		t.Errorf("unexpected sampling params: max=%d temp=%v", sent.MaxTokens, sent.Temperature)
	}
}

func TestCompletePlainTextAndModelOverride(t *testing.T) {
	var sent chatRequest
	client := &Client{
		BaseURL: "https://api.test/v1/chat/completions",
		Model:   "gpt-test",
		HTTPClient: &http.Client{
			Transport: roundTrip(func(req *http.Request) *http.Response {
				raw, _ := io.ReadAll(req.Body)
				json.Unmarshal(raw, &sent)
				return respond(200, `{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`)
			}),
		},
	}
	out, err := client.Complete(context.Background(), completion.Request{Prompt: "hello", Model: "other"})
	if err != nil || out != "hi" {
		t.Fatalf("Complete: %q %v", out, err)
	}
	if sent.Model != "other" || sent.ResponseFormat != nil || len(sent.Messages) != 1 {
		t.Errorf("unexpected request: %+v", sent)
	}
}

func TestCompleteUpstreamErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"provider error", 200, `{"error":{"message":"bad"}}`},
		{"server error", 502, `bad gateway`},
		{"empty choices", 200, `{"choices":[]}`},
		{"garbage", 200, `not json`},
	}
	for _, tt := range tests {
		client := &Client{
			BaseURL: "https://api.test/v1/chat/completions",
			Model:   "gpt-test",
			HTTPClient: &http.Client{
				Transport: roundTrip(func(req *http.Request) *http.Response {
					return respond(tt.status, tt.body)
				}),
			},
		}
		_, err := client.Complete(context.Background(), completion.Request{Prompt: "q"})
		if !errors.Is(err, internalerr.ErrUpstream) {
			t.Errorf("%s: err = %v, want ErrUpstream", tt.name, err)
		}
	}
}

func TestCompleteRequiresConfig(t *testing.T) {
	_, err := (&Client{}).Complete(context.Background(), completion.Request{Prompt: "q"})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}
