package analysis

// Performance levels derived from the overall score.
const (
	LevelExcellent        = "excellent"
	LevelGood             = "good"
	LevelFair             = "fair"
	LevelNeedsImprovement = "needs_improvement"
)

// CriteriaScores holds the 1-10 score per evaluation criterion.
type CriteriaScores struct {
	ValueProposition  float64 `json:"value_proposition"`
	ObjectionHandling float64 `json:"objection_handling"`
	ActiveListening   float64 `json:"active_listening"`
	QuestionQuality   float64 `json:"question_quality"`
	CallToAction      float64 `json:"call_to_action"`
	Engagement        float64 `json:"engagement"`
	RuleCompliance    float64 `json:"rule_compliance"`
}

// ImprovementItem is one area the presenter should work on. Example is nil
// when the model quoted nothing and encodes as null.
type ImprovementItem struct {
	Area           string `json:"area"`
	CurrentState   string `json:"current_state"`
	Recommendation string `json:"recommendation"`
	Example        *string `json:"example"`
}

// RuleViolation is one breach of the company rulebook.
type RuleViolation struct {
	RuleCategory string `json:"rule_category"`
	RuleName     string `json:"rule_name"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
	Example      *string `json:"example"`
	Suggestion   string `json:"suggestion"`
}

// Report is the structured coaching report for one presentation.
// OverallScore is taken from the model as-is.
type Report struct {
	OverallScore     float64           `json:"overall_score"`
	PerformanceLevel string            `json:"performance_level"`
	CriteriaScores   CriteriaScores    `json:"criteria_scores"`
	Strengths        []string          `json:"strengths"`
	Improvements     []ImprovementItem `json:"improvements"`
	RuleViolations   []RuleViolation   `json:"rule_violations"`
	Summary          string            `json:"summary"`
	NextSteps        []string          `json:"next_steps"`
}

// EmptyReport returns the report used when a presentation ended before
// anything was said.
func EmptyReport() *Report {
	return &Report{
		PerformanceLevel: LevelNeedsImprovement,
		Strengths:        []string{},
		Improvements:     []ImprovementItem{},
		RuleViolations:   []RuleViolation{},
		Summary:          "No conversation was recorded, so there is nothing to analyze yet.",
		NextSteps:        []string{},
	}
}

// normalize replaces nil slices with empty ones so reports always encode
// lists as [] rather than null.
func (r *Report) normalize() {
	if r.Strengths == nil {
		r.Strengths = []string{}
	}
	if r.Improvements == nil {
		r.Improvements = []ImprovementItem{}
	}
	if r.RuleViolations == nil {
		r.RuleViolations = []RuleViolation{}
	}
	if r.NextSteps == nil {
		r.NextSteps = []string{}
	}
}
