package turn

import "strings"

// DefaultMinWords is the smallest utterance, in words, worth a reaction.
const DefaultMinWords = 5

// Gate is the cheap pre-filter run before the arbiter: it rejects noise such
// as single words or a stray cough transcription so no language model call is
// spent on them. Passing the gate only authorises a decision; it never
// decides speak or silent itself.
type Gate struct {
	// MinWords is the minimum number of whitespace-delimited words. Zero or
	// negative means [DefaultMinWords].
	MinWords int
}

// ShouldConsiderSpeaking reports whether recentText is long enough to be
// handed to the arbiter.
func (g Gate) ShouldConsiderSpeaking(recentText string) bool {
	minWords := g.MinWords
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	return len(strings.Fields(recentText)) >= minWords
}
