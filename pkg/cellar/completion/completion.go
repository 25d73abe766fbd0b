// Package completion defines the language-model capability consumed by the
// extractor and the enrichment engine.
package completion

import (
	"context"
	"strings"
)

// Request is a single completion call.
type Request struct {
	System      string
	Prompt      string
	JSON        bool // ask for a JSON object response
	MaxTokens   int
	Temperature float64
	Model       string // optional override of the client's default model
}

// Completer turns a prompt into text.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Completer.
type Func func(ctx context.Context, req Request) (string, error)

func (f Func) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// StripFences removes a surrounding markdown code fence, which models
// sometimes add even in JSON mode.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
