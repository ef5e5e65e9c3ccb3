package domain

import (
	"context"
	"encoding/json"
)

// Completer sends a prompt to a completion model and asks for JSON matching a schema.
// The returned content is untrusted: callers decode it through modeloutput.Decode.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error)
}

// CompletionRequest is a schema-constrained extraction request.
type CompletionRequest struct {
	// Operation labels metrics and logs ("query_parse", "review_extract").
	Operation  string
	System     string
	Prompt     string
	SchemaName string
	Schema     json.RawMessage
}

// CompletionResult is the raw model content with token usage.
type CompletionResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}
