package rules_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/pitchcoach/internal/rules"
)

const scanRules = `
rules:
  politeness:
    required_phrases: ["thank you", "appreciate"]
    forbidden_phrases: ["honestly", "trust me"]
  company_wording:
    preferred_terms:
      cheap: ["cost-effective"]
  engagement:
    criteria:
      filler_words: {max_count_per_minute: 2, examples: [um, "you know"]}
      questions: {min_count: 2}
`

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	transcript := strings.Join([]string{
		"PRESENTER: Um, thank you for joining. Honestley this is the cheap option.",
		"CUSTOMER: Trust me, I honestly want to know.",
		"PRESENTER: You know, um, trust me on this. Does it fit your budget?",
	}, "\n")

	f := rules.NewScanner(mustParse(t, scanRules)).Scan(transcript, time.Minute)

	if len(f.Forbidden) != 2 {
		t.Fatalf("forbidden hits = %+v, want 2", f.Forbidden)
	}
	honest := f.Forbidden[0]
	if honest.Phrase != "honestly" || honest.Count != 1 {
		t.Errorf("honestly hit = %+v, want one phonetic hit from the presenter only", honest)
	}
	if len(honest.Heard) != 1 || honest.Heard[0] != "honestley" {
		t.Errorf("heard = %v, want the misspelled transcription", honest.Heard)
	}
	if f.Forbidden[1].Phrase != "trust me" || f.Forbidden[1].Count != 1 {
		t.Errorf("trust me hit = %+v, customer line must be ignored", f.Forbidden[1])
	}

	if len(f.Discouraged) != 1 || f.Discouraged[0].Prefer[0] != "cost-effective" {
		t.Errorf("discouraged = %+v", f.Discouraged)
	}

	if len(f.MissingRequired) != 1 || f.MissingRequired[0] != "appreciate" {
		t.Errorf("missing required = %v, want [appreciate]", f.MissingRequired)
	}

	if f.FillerTotal != 3 || f.FillerCounts["um"] != 2 || f.FillerCounts["you know"] != 1 {
		t.Errorf("fillers = %d %v", f.FillerTotal, f.FillerCounts)
	}
	if f.FillersPerMinute != 3 || !f.FillerExceeded {
		t.Errorf("filler rate = %v exceeded=%v, want 3/min over the limit", f.FillersPerMinute, f.FillerExceeded)
	}

	if f.QuestionCount != 1 || !f.TooFewQuestions {
		t.Errorf("questions = %d tooFew=%v", f.QuestionCount, f.TooFewQuestions)
	}
}

func TestScanner_NoPhoneticMatchForDifferentWords(t *testing.T) {
	t.Parallel()

	rb := mustParse(t, "rules:\n  politeness: {forbidden_phrases: [honestly]}\n")
	f := rules.NewScanner(rb).Scan("PRESENTER: I want to be honest with you.", 0)
	if len(f.Forbidden) != 0 {
		t.Errorf("forbidden = %+v, want none", f.Forbidden)
	}
}

func TestScanner_UnlabeledTranscript(t *testing.T) {
	t.Parallel()

	rb := mustParse(t, "rules:\n  company_wording: {preferred_terms: {cheap: [affordable]}}\n")
	f := rules.NewScanner(rb).Scan("It is really cheap.\nVery cheap indeed.", 0)
	if len(f.Discouraged) != 1 || f.Discouraged[0].Count != 2 {
		t.Errorf("discouraged = %+v, want two hits in unlabeled text", f.Discouraged)
	}
}

func TestScanner_UnknownDuration(t *testing.T) {
	t.Parallel()

	rb := mustParse(t, "rules:\n  engagement: {criteria: {filler_words: {examples: [um]}, questions: {min_count: 0}}}\n")
	f := rules.NewScanner(rb).Scan("PRESENTER: um um um um um um", 0)
	if f.FillerTotal != 6 {
		t.Errorf("filler total = %d, want 6", f.FillerTotal)
	}
	if f.FillersPerMinute != 0 || f.FillerExceeded {
		t.Errorf("rate must stay unset without a duration: %v %v", f.FillersPerMinute, f.FillerExceeded)
	}
	if f.TooFewQuestions {
		t.Error("min_count 0 can never be violated")
	}
	if strings.Contains(f.PromptLines(), "per minute") {
		t.Errorf("prompt lines should omit the rate:\n%s", f.PromptLines())
	}
}

func TestScanner_NilRulebook(t *testing.T) {
	t.Parallel()

	f := rules.NewScanner(nil).Scan("PRESENTER: anything at all", time.Minute)
	if !f.Empty() || f.PromptLines() != "" {
		t.Errorf("nil rulebook should find nothing, got %+v", f)
	}
}

func TestFindings_PromptLines(t *testing.T) {
	t.Parallel()

	transcript := "PRESENTER: Honestley, um, this is cheap."
	got := rules.NewScanner(mustParse(t, scanRules)).Scan(transcript, 30*time.Second).PromptLines()

	for _, want := range []string{
		`- Forbidden phrase "honestly" used 1 time(s) (heard as "honestley")`,
		`- Discouraged term "cheap" used 1 time(s); prefer: cost-effective`,
		`- Required phrase "thank you" never used`,
		`- Filler words: 1 total (um: 1), 2.0 per minute, limit 2`,
		`- Presenter asked 0 question(s), minimum 2`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt lines missing %q\n%s", want, got)
		}
	}
}
