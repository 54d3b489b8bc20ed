// Package analysis turns a finished presentation transcript into a
// structured coaching report and a short spoken coaching script.
//
// The report is produced by a single JSON-mode language model call whose
// instructions carry the scoring rubric and the company rulebook. A
// deterministic rulebook scan runs first; its findings are handed to the
// model as evidence. There is no retry: a failed or unparseable reply is
// returned as [ErrAnalysisFailed].
package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/pitchcoach/internal/observe"
	"github.com/MrWong99/pitchcoach/internal/oracle"
	"github.com/MrWong99/pitchcoach/internal/rules"
)

var (
	// ErrEmptyTranscript is returned when there is nothing to analyze.
	ErrEmptyTranscript = errors.New("analysis: empty transcript")

	// ErrAnalysisFailed wraps every model or parse failure of Analyze. Its
	// text is shown to users as-is.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrScriptFailed wraps every failure of Script.
	ErrScriptFailed = errors.New("coaching script failed")
)

// ruleset bundles a rulebook with its derived scanner and prompt text so the
// three are always swapped together.
type ruleset struct {
	book    *rules.Rulebook
	scanner *rules.Scanner
	system  string
}

func newRuleset(rb *rules.Rulebook) *ruleset {
	if rb == nil {
		rb = &rules.Rulebook{}
	}
	return &ruleset{
		book:    rb,
		scanner: rules.NewScanner(rb),
		system:  buildSystemPrompt(rb.PromptSection()),
	}
}

// Analyzer produces coaching reports. It is safe for concurrent use.
type Analyzer struct {
	oracle  oracle.Oracle
	rules   atomic.Pointer[ruleset]
	timeout time.Duration
	metrics *observe.Metrics
}

// Option configures an [Analyzer].
type Option func(*Analyzer)

// WithRules sets the company rulebook.
func WithRules(rb *rules.Rulebook) Option {
	return func(a *Analyzer) {
		a.rules.Store(newRuleset(rb))
	}
}

// WithTimeout bounds each model call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(a *Analyzer) {
		a.timeout = d
	}
}

// WithMetrics overrides the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *Analyzer) {
		a.metrics = m
	}
}

// New returns an Analyzer consulting o.
func New(o oracle.Oracle, opts ...Option) *Analyzer {
	a := &Analyzer{oracle: o}
	for _, opt := range opts {
		opt(a)
	}
	if a.rules.Load() == nil {
		a.rules.Store(newRuleset(nil))
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	return a
}

// SetRules atomically replaces the rulebook used by later analyses.
func (a *Analyzer) SetRules(rb *rules.Rulebook) {
	a.rules.Store(newRuleset(rb))
}

// Rules returns the current rulebook.
func (a *Analyzer) Rules() *rules.Rulebook {
	return a.rules.Load().book
}

// Analyze scores transcript. See [Analyzer.AnalyzeTimed].
func (a *Analyzer) Analyze(ctx context.Context, transcript string) (*Report, error) {
	return a.AnalyzeTimed(ctx, transcript, 0)
}

// AnalyzeTimed scores transcript. duration is the length of the
// presentation, used to rate filler words per minute; zero means unknown.
func (a *Analyzer) AnalyzeTimed(ctx context.Context, transcript string, duration time.Duration) (*Report, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	ctx, span := observe.StartSpan(ctx, "analysis.analyze")
	defer span.End()
	span.SetAttributes(attribute.Int("analysis.transcript_chars", len(transcript)))

	rs := a.rules.Load()
	findings := rs.scanner.Scan(transcript, duration)

	user := "Analyze this sales presentation transcript:\n\n" + transcript
	if lines := findings.PromptLines(); lines != "" {
		user += "\n\n# Pre-computed wording findings\nA keyword scan of the presenter's lines found:\n" + lines
	}

	log := observe.Logger(ctx)
	log.Info("analyzing presentation",
		"transcript_chars", len(transcript),
		"duration", duration,
		"rule_findings", !findings.Empty(),
	)

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	raw, err := a.oracle.Generate(callCtx, oracle.Prompt{
		Purpose:         oracle.PurposeAnalysis,
		System:          rs.system,
		User:            user,
		Temperature:     0.7,
		MaxOutputTokens: 2000,
		JSON:            true,
	})
	if err != nil {
		return nil, a.fail(ctx, span, err)
	}

	report, err := parseReport(raw)
	if err != nil {
		return nil, a.fail(ctx, span, err)
	}

	a.metrics.RecordAnalysis(ctx, "ok")
	span.SetAttributes(attribute.Float64("analysis.overall_score", report.OverallScore))
	log.Info("analysis complete",
		"overall_score", report.OverallScore,
		"performance_level", report.PerformanceLevel,
		"rule_violations", len(report.RuleViolations),
	)
	return report, nil
}

func (a *Analyzer) fail(ctx context.Context, span trace.Span, err error) error {
	observe.RecordError(span, err)
	a.metrics.RecordAnalysis(ctx, "error")
	observe.Logger(ctx).Error("analysis failed", "err", err)
	return fmt.Errorf("%w: %w", ErrAnalysisFailed, err)
}

// Script turns report into a 60-90 second spoken coaching script.
func (a *Analyzer) Script(ctx context.Context, report *Report) (string, error) {
	if report == nil {
		return "", fmt.Errorf("%w: nil report", ErrScriptFailed)
	}

	ctx, span := observe.StartSpan(ctx, "analysis.script")
	defer span.End()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encode report: %w", ErrScriptFailed, err)
	}

	callCtx, cancel := a.withTimeout(ctx)
	defer cancel()

	raw, err := a.oracle.Generate(callCtx, oracle.Prompt{
		Purpose:         oracle.PurposeScript,
		System:          "You are a supportive sales coach providing feedback.",
		User:            fmt.Sprintf(scriptPrompt, data),
		Temperature:     0.8,
		MaxOutputTokens: 800,
	})
	if err != nil {
		observe.RecordError(span, err)
		return "", fmt.Errorf("%w: %w", ErrScriptFailed, err)
	}
	script := strings.TrimSpace(raw)
	if script == "" {
		err := fmt.Errorf("%w: empty reply", ErrScriptFailed)
		observe.RecordError(span, err)
		return "", err
	}
	observe.Logger(ctx).Info("coaching script generated", "chars", len(script))
	return script, nil
}

func (a *Analyzer) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

// rawReport mirrors [Report] with pointers for the required fields so their
// absence can be detected.
type rawReport struct {
	OverallScore     *float64          `json:"overall_score"`
	PerformanceLevel *string           `json:"performance_level"`
	CriteriaScores   *CriteriaScores   `json:"criteria_scores"`
	Strengths        []string          `json:"strengths"`
	Improvements     []ImprovementItem `json:"improvements"`
	RuleViolations   []RuleViolation   `json:"rule_violations"`
	Summary          *string           `json:"summary"`
	NextSteps        []string          `json:"next_steps"`
}

// parseReport decodes a model reply into a Report.
func parseReport(content string) (*Report, error) {
	var r rawReport
	if err := json.Unmarshal([]byte(stripMarkdown(content)), &r); err != nil {
		return nil, fmt.Errorf("parse report: %w", err)
	}

	var missing []string
	if r.OverallScore == nil {
		missing = append(missing, "overall_score")
	}
	if r.PerformanceLevel == nil {
		missing = append(missing, "performance_level")
	}
	if r.CriteriaScores == nil {
		missing = append(missing, "criteria_scores")
	}
	if r.Summary == nil {
		missing = append(missing, "summary")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("parse report: missing %s", strings.Join(missing, ", "))
	}

	report := &Report{
		OverallScore:     *r.OverallScore,
		PerformanceLevel: *r.PerformanceLevel,
		CriteriaScores:   *r.CriteriaScores,
		Strengths:        r.Strengths,
		Improvements:     r.Improvements,
		RuleViolations:   r.RuleViolations,
		Summary:          *r.Summary,
		NextSteps:        r.NextSteps,
	}
	report.normalize()
	return report, nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}
