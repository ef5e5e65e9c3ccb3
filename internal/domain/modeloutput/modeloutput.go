// Package modeloutput validates untrusted completion-model payloads into a
// tagged result: either a value that passed schema and domain checks, or a
// malformed marker carrying the reason.
package modeloutput

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/kailas-cloud/venuesearch/internal/domain"
)

// Result is the outcome of decoding one model response.
type Result[T any] struct {
	Value T
	Valid bool
	Raw   string
	Err   error // wraps domain.ErrMalformedOutput when !Valid
}

// Malformed builds an invalid result.
func Malformed[T any](raw string, reason error) Result[T] {
	return Result[T]{
		Raw: raw,
		Err: fmt.Errorf("%w: %w", domain.ErrMalformedOutput, reason),
	}
}

// Decode checks content against schema, unmarshals it into T and runs the
// domain check. Any failure yields a malformed result instead of an error.
func Decode[T any](schema jsonschema.Definition, content string, check func(T) error) Result[T] {
	raw := stripFences(content)
	if raw == "" {
		return Malformed[T](content, fmt.Errorf("empty content"))
	}

	var v T
	if err := jsonschema.VerifySchemaAndUnmarshal(schema, []byte(raw), &v); err != nil {
		return Malformed[T](content, err)
	}
	if check != nil {
		if err := check(v); err != nil {
			return Malformed[T](content, err)
		}
	}
	return Result[T]{Value: v, Valid: true, Raw: content}
}

// Schema marshals a definition for domain.CompletionRequest.
func Schema(def jsonschema.Definition) json.RawMessage {
	b, err := json.Marshal(def)
	if err != nil {
		// Definitions are static literals; a failure here is a programming error.
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	return b
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
