// Package turn decides how a presenter utterance should be treated by the
// customer avatar.
//
// [Classifier] detects direct questions that must always be answered.
// [Gate] filters out utterances too short to be worth a reaction before any
// language model is consulted.
package turn

import (
	"strings"
	"unicode/utf8"
)

// DefaultQuestionPhrases are sentence openings that invite a reply even
// without a trailing question mark.
var DefaultQuestionPhrases = []string{
	"what do you think",
	"any questions",
	"does that make sense",
	"do you have any",
	"tell me what you",
}

// DefaultPrefixLength is the number of leading characters of each sentence
// compared against the phrase set.
const DefaultPrefixLength = 20

// Classification is the result of [Classifier.Classify].
type Classification struct {
	// DirectQuestion is true when the presenter addressed the customer with a
	// question that must not go unanswered.
	DirectQuestion bool
}

// Classifier detects direct questions. It is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	phrases   []string
	prefixLen int
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithPhrases replaces the question phrase set. Phrases are matched
// case-insensitively; blank entries are ignored.
func WithPhrases(phrases []string) Option {
	return func(c *Classifier) {
		c.phrases = c.phrases[:0]
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				c.phrases = append(c.phrases, p)
			}
		}
	}
}

// WithPrefixLength sets how many characters of each sentence are compared.
// Non-positive values keep the default.
func WithPrefixLength(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.prefixLen = n
		}
	}
}

// NewClassifier returns a Classifier using [DefaultQuestionPhrases] and
// [DefaultPrefixLength] unless overridden.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{
		phrases:   append([]string(nil), DefaultQuestionPhrases...),
		prefixLen: DefaultPrefixLength,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Phrases returns a copy of the configured phrase set.
func (c *Classifier) Phrases() []string {
	return append([]string(nil), c.phrases...)
}

// Classify reports whether utterance is a direct question. It is a pure
// function of its input.
func (c *Classifier) Classify(utterance string) Classification {
	trimmed := strings.TrimSpace(utterance)
	if trimmed == "" {
		return Classification{}
	}
	if strings.HasSuffix(trimmed, "?") {
		return Classification{DirectQuestion: true}
	}
	for sentence := range strings.SplitSeq(utterance, ".") {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		prefix := runePrefix(strings.ToLower(sentence), c.prefixLen)
		for _, p := range c.phrases {
			if strings.HasPrefix(prefix, p) {
				return Classification{DirectQuestion: true}
			}
		}
	}
	return Classification{}
}

// runePrefix returns at most n leading runes of s.
func runePrefix(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
