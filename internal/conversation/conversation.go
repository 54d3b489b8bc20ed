// Package conversation holds the ordered history of a presentation: who said
// what, in which order.
//
// A [Conversation] is append-only. Every [Turn] receives the next sequence
// number on [Conversation.Append] and is never modified, removed or reordered
// afterwards. The same history feeds the customer avatar's context window
// ([Conversation.Recent]) and the end-of-presentation analysis
// ([Conversation.FullTranscript]).
//
// All methods are safe for concurrent use.
package conversation

import (
	"strings"
	"sync"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	// Presenter is the human practising the sales pitch.
	Presenter Speaker = "presenter"

	// Customer is the simulated customer avatar.
	Customer Speaker = "customer"
)

// IsValid reports whether s is a recognised speaker.
func (s Speaker) IsValid() bool {
	return s == Presenter || s == Customer
}

// Turn is one recorded utterance.
type Turn struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Seq     int     `json:"seq"`
}

// Line renders t as "SPEAKER: text". Line breaks inside the text are
// collapsed to spaces so one turn is always one line.
func (t Turn) Line() string {
	return strings.ToUpper(string(t.Speaker)) + ": " + lineBreaks.Replace(t.Text)
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Conversation is the append-only turn history of one session.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
}

// New returns an empty Conversation.
func New() *Conversation {
	return &Conversation{}
}

// Append records a new turn and returns it. Empty text is allowed.
func (c *Conversation) Append(speaker Speaker, text string) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := Turn{Speaker: speaker, Text: text, Seq: len(c.turns)}
	c.turns = append(c.turns, t)
	return t
}

// Recent returns up to the last n turns in original order. It returns fewer
// when the history is shorter and nil when n <= 0.
func (c *Conversation) Recent(n int) []Turn {
	if n <= 0 {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	start := max(len(c.turns)-n, 0)
	out := make([]Turn, len(c.turns)-start)
	copy(out, c.turns[start:])
	return out
}

// Turns returns a copy of the full history.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len returns the number of recorded turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// FullTranscript renders every turn as a "SPEAKER: text" line, joined by
// newlines in sequence order.
func (c *Conversation) FullTranscript() string {
	return Render(c.Turns())
}

// Render formats turns the same way as [Conversation.FullTranscript].
func Render(turns []Turn) string {
	lines := make([]string, len(turns))
	for i, t := range turns {
		lines[i] = t.Line()
	}
	return strings.Join(lines, "\n")
}
