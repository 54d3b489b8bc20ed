package arbiter

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/oracle"
)

// DefaultQuestion is asked when no follow-up question could be generated.
const DefaultQuestion = "Could you tell me more about that?"

// Questioner makes the customer avatar ask a follow-up question on demand.
type Questioner struct {
	oracle  oracle.Oracle
	timeout time.Duration
}

// NewQuestioner returns a Questioner. A zero timeout leaves calls unbounded.
func NewQuestioner(o oracle.Oracle, timeout time.Duration) *Questioner {
	return &Questioner{oracle: o, timeout: timeout}
}

// Ask returns one short customer question about recent. It never fails and
// never returns an empty string.
func (q *Questioner) Ask(ctx context.Context, recent string) string {
	ctx, span := observe.StartSpan(ctx, "arbiter.ask")
	defer span.End()

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	raw, err := q.oracle.Generate(ctx, oracle.Prompt{
		Purpose:         oracle.PurposeQuestion,
		System:          "You are a curious potential customer asking natural follow-up questions.",
		User:            buildQuestionPrompt(recent),
		Temperature:     0.9,
		MaxOutputTokens: 50,
	})
	if err != nil {
		observe.RecordError(span, err)
		observe.Logger(ctx).Warn("customer question failed, using default", "err", err)
		return DefaultQuestion
	}
	question := cleanReply(raw)
	if utf8.RuneCountInString(question) < minSpeakLength || isSilenceToken(question) {
		return DefaultQuestion
	}
	return question
}

func buildQuestionPrompt(recent string) string {
	return fmt.Sprintf(`You are a potential customer listening to a sales presentation.
Ask ONE brief, natural follow-up question about what the salesperson just said.

Requirements:
- conversational, like real speech
- specific to what they just mentioned
- under 20 words
- about clarification, details, pricing, implementation, benefits or comparisons
- curious, not confrontational

What the salesperson said:
"%s"

Return only the question text, no labels:`, recent)
}
