// Package arbiter decides whether the customer avatar speaks after a
// presenter pause, and what it says.
//
// The decision combines three inputs: the direct-question classification of
// the presenter's utterance, the recent conversation, and the reply suggested
// by the language model. Direct questions are always answered, with a fixed
// fallback line when the model declines. Everything else defaults to
// silence. Model failures are never surfaced: the avatar simply stays quiet.
package arbiter

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/pitchcoach/internal/conversation"
	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/oracle"
	"github.com/MrWong99/pitchcoach/internal/turn"
)

// DefaultFallbackReply is spoken when a direct question must be answered but
// the model produced nothing usable.
const DefaultFallbackReply = "That's a good question. Could you elaborate a bit more?"

// DefaultContextTurns is the number of previous turns shown to the model.
const DefaultContextTurns = 4

// minSpeakLength is the shortest reply, in characters, ever spoken.
const minSpeakLength = 3

// Action is what the avatar does after a pause.
type Action string

const (
	Speak  Action = "speak"
	Silent Action = "silent"
)

// Reasons attached to decisions for logs and metrics.
const (
	ReasonQuestion         = "question"
	ReasonQuestionFallback = "question_fallback"
	ReasonReply            = "reply"
	ReasonOracleSilent     = "oracle_silent"
	ReasonDegenerate       = "degenerate_reply"
	ReasonOracleError      = "oracle_error"
)

// Decision is the outcome of one pause. Text is non-empty iff Action is
// [Speak].
type Decision struct {
	Action Action
	Text   string
	Reason string
}

// Arbiter produces speak/silent decisions. It is safe for concurrent use;
// the classifier may be swapped at runtime with [Arbiter.SetClassifier].
type Arbiter struct {
	oracle       oracle.Oracle
	classifier   atomic.Pointer[turn.Classifier]
	fallback     string
	contextTurns int
	timeout      time.Duration
	metrics      *observe.Metrics
}

// Option configures an [Arbiter].
type Option func(*Arbiter)

// WithClassifier sets the direct-question classifier.
func WithClassifier(c *turn.Classifier) Option {
	return func(a *Arbiter) {
		if c != nil {
			a.classifier.Store(c)
		}
	}
}

// WithFallbackReply overrides [DefaultFallbackReply]. Replies shorter than
// three characters are ignored so a forced answer is always speakable.
func WithFallbackReply(s string) Option {
	return func(a *Arbiter) {
		if s = strings.TrimSpace(s); utf8.RuneCountInString(s) >= minSpeakLength {
			a.fallback = s
		}
	}
}

// WithContextTurns overrides [DefaultContextTurns].
func WithContextTurns(n int) Option {
	return func(a *Arbiter) {
		if n > 0 {
			a.contextTurns = n
		}
	}
}

// WithTimeout bounds each model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Arbiter) {
		a.timeout = d
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Arbiter) {
		a.metrics = m
	}
}

// New returns an Arbiter consulting o.
func New(o oracle.Oracle, opts ...Option) *Arbiter {
	a := &Arbiter{
		oracle:       o,
		fallback:     DefaultFallbackReply,
		contextTurns: DefaultContextTurns,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.classifier.Load() == nil {
		a.classifier.Store(turn.NewClassifier())
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// SetClassifier atomically replaces the classifier used by later decisions.
func (a *Arbiter) SetClassifier(c *turn.Classifier) {
	if c != nil {
		a.classifier.Store(c)
	}
}

// Decide returns the avatar's reaction to presenterText given the prior
// history. The caller is responsible for the preconditions: the utterance
// passed the [turn.Gate] and the session greeting has been delivered.
//
// Decide never fails. Model errors and timeouts yield a silent decision.
func (a *Arbiter) Decide(ctx context.Context, presenterText string, history []conversation.Turn) Decision {
	ctx, span := observe.StartSpan(ctx, "arbiter.decide")
	defer span.End()

	cls := a.classifier.Load().Classify(presenterText)
	span.SetAttributes(attribute.Bool("arbiter.direct_question", cls.DirectQuestion))

	prompt := oracle.Prompt{
		Purpose:         oracle.PurposeReply,
		System:          customerPersona,
		User:            buildReplyPrompt(presenterText, a.window(history)),
		Temperature:     0.8,
		MaxOutputTokens: 60,
	}

	callCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	raw, err := a.oracle.Generate(callCtx, prompt)
	var d Decision
	if err != nil {
		observe.RecordError(span, err)
		observe.Logger(ctx).Warn("customer reply failed, staying silent", "err", err)
		d = Decision{Action: Silent, Reason: ReasonOracleError}
	} else {
		d = a.apply(cls, cleanReply(raw))
	}

	span.SetAttributes(
		attribute.String("arbiter.action", string(d.Action)),
		attribute.String("arbiter.reason", d.Reason),
	)
	a.metrics.RecordDecision(ctx, string(d.Action), d.Reason)
	observe.Logger(ctx).Info("arbiter decision",
		"action", d.Action,
		"reason", d.Reason,
		"direct_question", cls.DirectQuestion,
	)
	return d
}

// apply maps a cleaned model reply onto a decision.
func (a *Arbiter) apply(cls turn.Classification, reply string) Decision {
	usable := !isSilenceToken(reply) && utf8.RuneCountInString(reply) >= minSpeakLength

	if cls.DirectQuestion {
		if !usable {
			return Decision{Action: Speak, Text: a.fallback, Reason: ReasonQuestionFallback}
		}
		return Decision{Action: Speak, Text: reply, Reason: ReasonQuestion}
	}
	if isSilenceToken(reply) {
		return Decision{Action: Silent, Reason: ReasonOracleSilent}
	}
	if !usable {
		return Decision{Action: Silent, Reason: ReasonDegenerate}
	}
	return Decision{Action: Speak, Text: reply, Reason: ReasonReply}
}

func (a *Arbiter) window(history []conversation.Turn) []conversation.Turn {
	if len(history) > a.contextTurns {
		return history[len(history)-a.contextTurns:]
	}
	return history
}

// quoteChars are stripped from both ends of a model reply.
const quoteChars = "\"'“”‘’"

// cleanReply strips surrounding whitespace and quote characters.
func cleanReply(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, quoteChars)
	return strings.TrimSpace(s)
}

// isSilenceToken reports whether the model asked to stay quiet. A trailing
// period is tolerated ("SILENT.").
func isSilenceToken(s string) bool {
	switch strings.ToUpper(strings.TrimRight(s, ".!")) {
	case "SILENT", "SILENCE", "NO RESPONSE":
		return true
	}
	return false
}

const customerPersona = "You are an engaged customer in a sales conversation. " +
	"Respond naturally to questions and engage in dialogue."

func buildReplyPrompt(presenterText string, window []conversation.Turn) string {
	recent := conversation.Render(window)
	if recent == "" {
		recent = "(Just started)"
	}
	return fmt.Sprintf(`You are a customer in a sales meeting. The salesperson just spoke.

Recent conversation:
%s

Salesperson: %q

HOW TO RESPOND:

If they asked you a DIRECT QUESTION:
- Answer naturally in 10-25 words.

If they made a STATEMENT or are still presenting:
- STAY SILENT and let them finish their pitch.
- Only respond if ALL of these are true:
  * they have clearly finished a complete thought, not just paused mid-sentence
  * you need a critical clarification
  * interjecting would feel natural for a real customer

Be a patient listener. Most pauses are the salesperson gathering their thoughts.

Response (or "SILENT" to stay quiet):`, recent, presenterText)
}
