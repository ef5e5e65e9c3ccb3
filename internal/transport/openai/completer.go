package openai

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/venuesearch/internal/domain"
	"github.com/kailas-cloud/venuesearch/internal/metrics"
)

// Completer is a chat completion provider that requests JSON-schema output.
// The schema is advisory: content is returned as-is and validated by the caller.
type Completer struct {
	client      *openai.Client
	model       string
	temperature float32
	user        string
	provider    string
	logger      *zap.Logger
}

// NewCompleter creates an OpenAI-compatible completion provider.
func NewCompleter(cfg *Config) *Completer {
	return &Completer{
		client:      newClient(cfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		user:        cfg.User,
		provider:    cfg.Provider,
		logger:      cfg.Logger,
	}
}

// Complete implements domain.Completer.
func (c *Completer) Complete(ctx context.Context, req domain.CompletionRequest) (domain.CompletionResult, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		User:        c.user,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
	}
	if len(req.Schema) > 0 {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
			},
		}
	}

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	duration := time.Since(start)

	if err != nil {
		err = parseAPIError(err, "completion", domain.ErrCompletionProviderError, nil)
		c.fail(req.Operation, errorType(err))
		return domain.CompletionResult{}, err
	}
	if len(resp.Choices) == 0 {
		c.fail(req.Operation, "empty_response")
		return domain.CompletionResult{}, fmt.Errorf("empty completion response: %w", domain.ErrCompletionProviderError)
	}

	metrics.AIRequestsTotal.WithLabelValues(c.provider, c.model, req.Operation, "success").Inc()
	metrics.AIRequestDuration.WithLabelValues(c.provider, req.Operation).Observe(duration.Seconds())
	metrics.AITokensTotal.WithLabelValues(c.provider, req.Operation, "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.AITokensTotal.WithLabelValues(c.provider, req.Operation, "completion").Add(float64(resp.Usage.CompletionTokens))

	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		c.logger.Warn("Completion truncated at token limit", zap.String("operation", req.Operation))
	}

	return domain.CompletionResult{
		Content:          resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (c *Completer) fail(op, kind string) {
	metrics.AIRequestsTotal.WithLabelValues(c.provider, c.model, op, "error").Inc()
	metrics.AIErrorsTotal.WithLabelValues(c.provider, op, kind).Inc()
}
