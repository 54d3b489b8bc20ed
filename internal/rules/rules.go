// Package rules loads company coaching rules and renders them for the
// presentation analyzer.
//
// A rulebook is a YAML (or JSON) document with a top-level "rules" key:
//
//	rules:
//	  politeness:
//	    required_phrases: ["thank you"]
//	    forbidden_phrases: ["to be honest"]
//	  company_wording:
//	    preferred_terms:
//	      cheap: ["cost-effective", "affordable"]
//	  sales_structure:
//	    required_elements:
//	      - {name: Introduction, description: Greet and introduce yourself}
//	  engagement:
//	    criteria:
//	      filler_words: {max_count_per_minute: 5, examples: [um, uh]}
//	      questions: {min_count: 2}
//
// Every section is optional. Unset weights fall back to the defaults below.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default section weights used when a rulebook leaves them unset.
const (
	DefaultPolitenessWeight     = 0.2
	DefaultCompanyWordingWeight = 0.25
	DefaultSalesStructureWeight = 0.3
	DefaultEngagementWeight     = 0.25

	DefaultMaxFillersPerMinute = 5
	DefaultMinQuestions        = 2
)

// Rulebook is the full set of company coaching rules. A nil section is
// absent from the rendered prompt.
type Rulebook struct {
	Politeness     *Politeness     `yaml:"politeness"      json:"politeness,omitempty"`
	CompanyWording *CompanyWording `yaml:"company_wording" json:"company_wording,omitempty"`
	SalesStructure *SalesStructure `yaml:"sales_structure" json:"sales_structure,omitempty"`
	Engagement     *Engagement     `yaml:"engagement"      json:"engagement,omitempty"`
}

// Politeness lists phrases the presenter should and should not use.
type Politeness struct {
	RequiredPhrases  []string `yaml:"required_phrases"  json:"required_phrases"`
	ForbiddenPhrases []string `yaml:"forbidden_phrases" json:"forbidden_phrases"`
	Weight           *float64 `yaml:"weight"            json:"weight,omitempty"`
}

// CompanyWording maps discouraged terms to their preferred replacements.
type CompanyWording struct {
	PreferredTerms TermList `yaml:"preferred_terms" json:"preferred_terms"`
	Weight         *float64 `yaml:"weight"          json:"weight,omitempty"`
}

// TermPreference is one discouraged term and its replacements.
type TermPreference struct {
	Avoid  string   `json:"avoid"`
	Prefer []string `json:"prefer"`
}

// TermList keeps preferred terms in document order. It decodes from a YAML
// mapping of avoid -> [prefer...].
type TermList []TermPreference

// UnmarshalYAML implements [yaml.Unmarshaler].
func (l *TermList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("rules: preferred_terms: line %d: expected a mapping", node.Line)
	}
	out := make(TermList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var tp TermPreference
		if err := node.Content[i].Decode(&tp.Avoid); err != nil {
			return fmt.Errorf("rules: preferred_terms: %w", err)
		}
		if err := node.Content[i+1].Decode(&tp.Prefer); err != nil {
			return fmt.Errorf("rules: preferred_terms[%q]: %w", tp.Avoid, err)
		}
		out = append(out, tp)
	}
	*l = out
	return nil
}

// MarshalJSON renders the list as an object in document order, mirroring
// the YAML input shape.
func (l TermList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, tp := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(tp.Avoid)
		if err != nil {
			return nil, err
		}
		prefer := tp.Prefer
		if prefer == nil {
			prefer = []string{}
		}
		v, err := json.Marshal(prefer)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// SalesStructure lists the elements a presentation should contain.
type SalesStructure struct {
	RequiredElements []Element `yaml:"required_elements" json:"required_elements"`
	OrderMatters     *bool     `yaml:"order_matters"     json:"order_matters,omitempty"`
	Weight           *float64  `yaml:"weight"            json:"weight,omitempty"`
}

// Element is one required part of a sales presentation.
type Element struct {
	Name        string `yaml:"name"        json:"name"`
	Description string `yaml:"description" json:"description"`
}

// Engagement holds delivery criteria.
type Engagement struct {
	Criteria EngagementCriteria `yaml:"criteria" json:"criteria"`
	Weight   *float64           `yaml:"weight"   json:"weight,omitempty"`
}

// EngagementCriteria configures filler word and question checks.
type EngagementCriteria struct {
	FillerWords FillerWords `yaml:"filler_words" json:"filler_words"`
	Questions   Questions   `yaml:"questions"    json:"questions"`
}

// FillerWords limits filler word usage.
type FillerWords struct {
	MaxCountPerMinute *int     `yaml:"max_count_per_minute" json:"max_count_per_minute,omitempty"`
	Examples          []string `yaml:"examples"             json:"examples"`
}

// Questions sets the minimum number of engaging questions.
type Questions struct {
	MinCount *int `yaml:"min_count" json:"min_count,omitempty"`
}

type document struct {
	Rules Rulebook `yaml:"rules"`
}

// Load reads and validates the rulebook at path.
func Load(path string) (*Rulebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %q: %w", path, err)
	}
	rb, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("rules: %q: %w", path, err)
	}
	return rb, nil
}

// Parse decodes a rulebook from r. JSON input is accepted since it is valid
// YAML. An empty document yields an empty rulebook. Unknown keys are errors.
func Parse(r io.Reader) (*Rulebook, error) {
	var doc document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &Rulebook{}, nil
		}
		return nil, fmt.Errorf("rules: decode: %w", err)
	}
	if err := doc.Rules.Validate(); err != nil {
		return nil, err
	}
	return &doc.Rules, nil
}

// Validate checks weights and required fields. All problems are joined.
func (rb *Rulebook) Validate() error {
	var errs []error
	checkWeight := func(section string, w *float64) {
		if w != nil && (*w < 0 || *w > 1) {
			errs = append(errs, fmt.Errorf("rules: %s.weight %v must be between 0 and 1", section, *w))
		}
	}

	if p := rb.Politeness; p != nil {
		checkWeight("politeness", p.Weight)
	}
	if cw := rb.CompanyWording; cw != nil {
		checkWeight("company_wording", cw.Weight)
		for i, tp := range cw.PreferredTerms {
			if strings.TrimSpace(tp.Avoid) == "" {
				errs = append(errs, fmt.Errorf("rules: company_wording.preferred_terms[%d]: avoided term is empty", i))
			}
			if len(tp.Prefer) == 0 {
				errs = append(errs, fmt.Errorf("rules: company_wording.preferred_terms[%q]: no preferred terms", tp.Avoid))
			}
		}
	}
	if ss := rb.SalesStructure; ss != nil {
		checkWeight("sales_structure", ss.Weight)
		for i, el := range ss.RequiredElements {
			if strings.TrimSpace(el.Name) == "" {
				errs = append(errs, fmt.Errorf("rules: sales_structure.required_elements[%d].name is required", i))
			}
		}
	}
	if e := rb.Engagement; e != nil {
		checkWeight("engagement", e.Weight)
		if n := e.Criteria.FillerWords.MaxCountPerMinute; n != nil && *n < 0 {
			errs = append(errs, fmt.Errorf("rules: engagement.criteria.filler_words.max_count_per_minute %d must not be negative", *n))
		}
		if n := e.Criteria.Questions.MinCount; n != nil && *n < 0 {
			errs = append(errs, fmt.Errorf("rules: engagement.criteria.questions.min_count %d must not be negative", *n))
		}
	}
	return errors.Join(errs...)
}

// IsEmpty reports whether no section is configured.
func (rb *Rulebook) IsEmpty() bool {
	return rb == nil || (rb.Politeness == nil && rb.CompanyWording == nil &&
		rb.SalesStructure == nil && rb.Engagement == nil)
}

// MaxFillersPerMinute returns the configured filler limit or the default.
func (e *Engagement) MaxFillersPerMinute() int {
	if e == nil || e.Criteria.FillerWords.MaxCountPerMinute == nil {
		return DefaultMaxFillersPerMinute
	}
	return *e.Criteria.FillerWords.MaxCountPerMinute
}

// MinQuestions returns the configured question minimum or the default.
func (e *Engagement) MinQuestions() int {
	if e == nil || e.Criteria.Questions.MinCount == nil {
		return DefaultMinQuestions
	}
	return *e.Criteria.Questions.MinCount
}

// PromptSection renders the rulebook as Markdown sections for the analysis
// instructions. An empty rulebook renders as "".
func (rb *Rulebook) PromptSection() string {
	if rb.IsEmpty() {
		return ""
	}
	var sections []string

	if p := rb.Politeness; p != nil {
		sections = append(sections, fmt.Sprintf(`## Politeness & Professionalism
- Required phrases to include: %s
- Forbidden phrases to avoid: %s
- Weight: %s`,
			strings.Join(p.RequiredPhrases, ", "),
			strings.Join(p.ForbiddenPhrases, ", "),
			weight(p.Weight, DefaultPolitenessWeight)))
	}

	if cw := rb.CompanyWording; cw != nil {
		var b strings.Builder
		b.WriteString("## Company Wording Standards\n")
		for _, tp := range cw.PreferredTerms {
			fmt.Fprintf(&b, "  - Instead of '%s', use: %s\n", tp.Avoid, strings.Join(tp.Prefer, ", "))
		}
		fmt.Fprintf(&b, "- Weight: %s", weight(cw.Weight, DefaultCompanyWordingWeight))
		sections = append(sections, b.String())
	}

	if ss := rb.SalesStructure; ss != nil {
		var b strings.Builder
		b.WriteString("## Sales Presentation Structure\nRequired elements in order:\n")
		for _, el := range ss.RequiredElements {
			fmt.Fprintf(&b, "  - %s: %s\n", el.Name, el.Description)
		}
		orderMatters := ss.OrderMatters == nil || *ss.OrderMatters
		fmt.Fprintf(&b, "- Order matters: %t\n", orderMatters)
		fmt.Fprintf(&b, "- Weight: %s", weight(ss.Weight, DefaultSalesStructureWeight))
		sections = append(sections, b.String())
	}

	if e := rb.Engagement; e != nil {
		sections = append(sections, fmt.Sprintf(`## Engagement & Delivery
- Filler words: Maximum %d per minute
  Examples: %s
- Questions: Minimum %d engaging questions
- Weight: %s`,
			e.MaxFillersPerMinute(),
			strings.Join(e.Criteria.FillerWords.Examples, ", "),
			e.MinQuestions(),
			weight(e.Weight, DefaultEngagementWeight)))
	}

	return strings.Join(sections, "\n\n")
}

func weight(w *float64, def float64) string {
	v := def
	if w != nil {
		v = *w
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
