package rules

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultPhoneticThreshold is the minimum Jaro-Winkler score for a
// phonetically matching token to count as a hit.
const DefaultPhoneticThreshold = 0.90

// minPhoneticLen is the shortest token eligible for phonetic matching.
// Shorter tokens must match exactly.
const minPhoneticLen = 4

// Hit is one phrase found in the presenter's speech.
type Hit struct {
	Phrase string
	Count  int
	// Heard holds the distinct transcribed forms that matched Phrase.
	Heard []string
	// Prefer is set for discouraged company wording.
	Prefer []string
}

// Findings is the result of a deterministic rulebook scan.
type Findings struct {
	Forbidden       []Hit
	Discouraged     []Hit
	MissingRequired []string

	FillerCounts     map[string]int
	FillerTotal      int
	FillersPerMinute float64 // zero when the duration is unknown
	FillerLimit      int
	FillerExceeded   bool

	QuestionCount   int
	MinQuestions    int
	TooFewQuestions bool
}

// Empty reports whether the scan found nothing worth mentioning.
func (f Findings) Empty() bool {
	return len(f.Forbidden) == 0 && len(f.Discouraged) == 0 &&
		len(f.MissingRequired) == 0 && f.FillerTotal == 0 && !f.TooFewQuestions
}

// PromptLines renders the findings as a bullet list for the analysis
// instructions. Empty findings render as "".
func (f Findings) PromptLines() string {
	if f.Empty() {
		return ""
	}
	var b strings.Builder
	for _, h := range f.Forbidden {
		fmt.Fprintf(&b, "- Forbidden phrase %q used %d time(s)%s\n", h.Phrase, h.Count, heardSuffix(h))
	}
	for _, h := range f.Discouraged {
		fmt.Fprintf(&b, "- Discouraged term %q used %d time(s)%s; prefer: %s\n",
			h.Phrase, h.Count, heardSuffix(h), strings.Join(h.Prefer, ", "))
	}
	for _, p := range f.MissingRequired {
		fmt.Fprintf(&b, "- Required phrase %q never used\n", p)
	}
	if f.FillerTotal > 0 {
		words := make([]string, 0, len(f.FillerCounts))
		for w := range f.FillerCounts {
			words = append(words, w)
		}
		slices.Sort(words)
		parts := make([]string, 0, len(words))
		for _, w := range words {
			parts = append(parts, fmt.Sprintf("%s: %d", w, f.FillerCounts[w]))
		}
		fmt.Fprintf(&b, "- Filler words: %d total (%s)", f.FillerTotal, strings.Join(parts, ", "))
		if f.FillersPerMinute > 0 {
			fmt.Fprintf(&b, ", %.1f per minute, limit %d", f.FillersPerMinute, f.FillerLimit)
		}
		b.WriteByte('\n')
	}
	if f.TooFewQuestions {
		fmt.Fprintf(&b, "- Presenter asked %d question(s), minimum %d\n", f.QuestionCount, f.MinQuestions)
	}
	return strings.TrimRight(b.String(), "\n")
}

func heardSuffix(h Hit) string {
	var other []string
	for _, s := range h.Heard {
		if s != h.Phrase {
			other = append(other, fmt.Sprintf("%q", s))
		}
	}
	if len(other) == 0 {
		return ""
	}
	return " (heard as " + strings.Join(other, ", ") + ")"
}

// Scanner checks presenter speech against a rulebook. Phrases are matched
// per token window, exactly or phonetically (Double Metaphone overlap plus
// Jaro-Winkler similarity), so transcription misspellings are still caught.
// A Scanner is read-only after construction and safe for concurrent use.
type Scanner struct {
	rules     *Rulebook
	threshold float64
}

// ScannerOption configures a [Scanner].
type ScannerOption func(*Scanner)

// WithPhoneticThreshold sets the Jaro-Winkler score required for phonetic
// token matches. Default: 0.90.
func WithPhoneticThreshold(t float64) ScannerOption {
	return func(s *Scanner) {
		s.threshold = t
	}
}

// NewScanner returns a Scanner for rb. A nil rulebook scans nothing.
func NewScanner(rb *Rulebook, opts ...ScannerOption) *Scanner {
	if rb == nil {
		rb = &Rulebook{}
	}
	s := &Scanner{rules: rb, threshold: DefaultPhoneticThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan inspects the presenter lines of transcript. Lines prefixed with
// "CUSTOMER:" are ignored; when no line carries a speaker prefix the whole
// text is treated as presenter speech. duration may be zero when unknown.
func (s *Scanner) Scan(transcript string, duration time.Duration) Findings {
	lines := presenterLines(transcript)
	tokenized := make([][]string, 0, len(lines))
	for _, l := range lines {
		if toks := tokenize(l); len(toks) > 0 {
			tokenized = append(tokenized, toks)
		}
	}

	var f Findings
	rb := s.rules

	if p := rb.Politeness; p != nil {
		for _, phrase := range p.ForbiddenPhrases {
			if h, ok := s.find(tokenized, phrase, true); ok {
				f.Forbidden = append(f.Forbidden, h)
			}
		}
		for _, phrase := range p.RequiredPhrases {
			if _, ok := s.find(tokenized, phrase, true); !ok && strings.TrimSpace(phrase) != "" {
				f.MissingRequired = append(f.MissingRequired, phrase)
			}
		}
	}

	if cw := rb.CompanyWording; cw != nil {
		for _, tp := range cw.PreferredTerms {
			if h, ok := s.find(tokenized, tp.Avoid, true); ok {
				h.Prefer = tp.Prefer
				f.Discouraged = append(f.Discouraged, h)
			}
		}
	}

	if e := rb.Engagement; e != nil {
		f.FillerLimit = e.MaxFillersPerMinute()
		for _, w := range e.Criteria.FillerWords.Examples {
			h, ok := s.find(tokenized, w, false)
			if !ok {
				continue
			}
			if f.FillerCounts == nil {
				f.FillerCounts = make(map[string]int)
			}
			f.FillerCounts[h.Phrase] += h.Count
			f.FillerTotal += h.Count
		}
		if duration > 0 && f.FillerTotal > 0 {
			f.FillersPerMinute = float64(f.FillerTotal) / duration.Minutes()
			f.FillerExceeded = f.FillersPerMinute > float64(f.FillerLimit)
		}

		f.MinQuestions = e.MinQuestions()
		for _, l := range lines {
			f.QuestionCount += countQuestions(l)
		}
		f.TooFewQuestions = f.QuestionCount < f.MinQuestions
	}
	return f
}

// find counts windows of tokens matching phrase. Phonetic matching is only
// attempted when phonetic is true.
func (s *Scanner) find(lines [][]string, phrase string, phonetic bool) (Hit, bool) {
	want := tokenize(phrase)
	if len(want) == 0 {
		return Hit{}, false
	}
	h := Hit{Phrase: strings.Join(want, " ")}
	for _, toks := range lines {
		for i := 0; i+len(want) <= len(toks); i++ {
			window := toks[i : i+len(want)]
			if !s.windowMatches(window, want, phonetic) {
				continue
			}
			h.Count++
			heard := strings.Join(window, " ")
			if !slices.Contains(h.Heard, heard) {
				h.Heard = append(h.Heard, heard)
			}
		}
	}
	return h, h.Count > 0
}

func (s *Scanner) windowMatches(window, want []string, phonetic bool) bool {
	for i := range want {
		if window[i] == want[i] {
			continue
		}
		if !phonetic || !s.tokensSoundAlike(window[i], want[i]) {
			return false
		}
	}
	return true
}

func (s *Scanner) tokensSoundAlike(a, b string) bool {
	if len(a) < minPhoneticLen || len(b) < minPhoneticLen {
		return false
	}
	if !codesOverlap(a, b) {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= s.threshold
}

func codesOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}

// presenterLines returns the presenter's lines with speaker labels removed.
func presenterLines(transcript string) []string {
	const (
		presenter = "PRESENTER:"
		customer  = "CUSTOMER:"
	)
	var (
		out     []string
		all     []string
		labeled bool
	)
	for line := range strings.Lines(transcript) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		all = append(all, line)
		switch {
		case strings.HasPrefix(line, presenter):
			labeled = true
			out = append(out, strings.TrimSpace(line[len(presenter):]))
		case strings.HasPrefix(line, customer):
			labeled = true
		}
	}
	if !labeled {
		return all
	}
	return out
}

// tokenize lowercases s and splits it into words. Apostrophes inside words
// are kept ("don't").
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '’'
	})
	out := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'’")
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// countQuestions counts runs of '?' in s.
func countQuestions(s string) int {
	n := 0
	prev := false
	for _, r := range s {
		q := r == '?'
		if q && !prev {
			n++
		}
		prev = q
	}
	return n
}
