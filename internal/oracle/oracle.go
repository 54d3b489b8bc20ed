// Package oracle is the single seam between the coaching engine and a
// language model.
//
// Every component that needs generated text (the response arbiter, the
// question generator, the presentation analyzer) depends on the one-method
// [Oracle] interface, so it can be replaced by a scripted stub in tests.
// [LLM] is the production implementation on top of any [llm.Provider].
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/pkg/provider/llm"
)

// ErrEmptyPrompt is returned when a prompt carries neither a system nor a
// user instruction.
var ErrEmptyPrompt = errors.New("oracle: empty prompt")

// Purpose labels a call for metrics and logs.
type Purpose string

const (
	PurposeReply    Purpose = "reply"
	PurposeQuestion Purpose = "question"
	PurposeAnalysis Purpose = "analysis"
	PurposeScript   Purpose = "script"
)

// Prompt is one request to the language model.
type Prompt struct {
	Purpose         Purpose
	System          string
	User            string
	Temperature     float64
	MaxOutputTokens int

	// JSON requests a single JSON object as the reply.
	JSON bool
}

// Oracle turns a prompt into generated text. Implementations must be safe for
// concurrent use.
type Oracle interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// LLM implements [Oracle] on top of an [llm.Provider].
type LLM struct {
	provider llm.Provider
	metrics  *observe.Metrics
}

var _ Oracle = (*LLM)(nil)

// LLMOption configures an [LLM].
type LLMOption func(*LLM)

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) LLMOption {
	return func(o *LLM) {
		o.metrics = m
	}
}

// NewLLM returns an Oracle backed by provider.
func NewLLM(provider llm.Provider, opts ...LLMOption) *LLM {
	o := &LLM{provider: provider}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}
	return o
}

// Generate sends p as a system prompt plus one user message and returns the
// reply text. An empty provider response yields "" and no error.
func (o *LLM) Generate(ctx context.Context, p Prompt) (string, error) {
	if p.System == "" && p.User == "" {
		return "", ErrEmptyPrompt
	}
	purpose := string(p.Purpose)
	if purpose == "" {
		purpose = "unspecified"
	}

	ctx, span := observe.StartSpan(ctx, "oracle.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("oracle.purpose", purpose),
		attribute.Bool("oracle.json", p.JSON),
	)

	req := llm.CompletionRequest{
		SystemPrompt: p.System,
		Temperature:  p.Temperature,
		MaxTokens:    p.MaxOutputTokens,
		JSONMode:     p.JSON,
	}
	if p.User != "" {
		req.Messages = []llm.Message{{Role: llm.RoleUser, Content: p.User}}
	}

	start := time.Now()
	resp, err := o.provider.Complete(ctx, req)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	o.metrics.RecordOracleCall(ctx, purpose, status, elapsed.Seconds())

	if err != nil {
		observe.RecordError(span, err)
		observe.Logger(ctx).Warn("oracle call failed",
			"purpose", purpose,
			"duration", elapsed,
			"err", err,
		)
		return "", fmt.Errorf("oracle: %s: %w", purpose, err)
	}
	if resp == nil {
		return "", nil
	}

	span.SetAttributes(
		attribute.Int("oracle.prompt_tokens", resp.Usage.PromptTokens),
		attribute.Int("oracle.completion_tokens", resp.Usage.CompletionTokens),
	)
	observe.Logger(ctx).Debug("oracle call completed",
		"purpose", purpose,
		"duration", elapsed,
		"finish_reason", resp.FinishReason,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return resp.Content, nil
}
