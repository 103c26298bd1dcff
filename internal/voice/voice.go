package voice

import (
	"github.com/beliefforge/scout/pkg/config"
)

// Severity classifies a finding. Violations cost 15 score points, warnings
// cost 5.
type Severity int

const (
	Warning Severity = iota
	Violation
)

// Finding is one rule hit against a reply text
type Finding struct {
	Severity   Severity
	Rule       string
	Message    string
	Suggestion string
}

// Result is the validation readout for one reply text
type Result struct {
	Valid      bool
	Score      int
	CharCount  int
	Violations []string
	Warnings   []string
	Findings   []Finding
}

// Suggestions returns the improvement hints for every finding that has one
func (r *Result) Suggestions() []string {
	var out []string
	for _, f := range r.Findings {
		if f.Suggestion != "" {
			out = append(out, f.Suggestion)
		}
	}
	return out
}

// Rule checks one voice guideline. Rules are independent of each other and
// free of side effects.
type Rule interface {
	Name() string
	Evaluate(text string) []Finding
}

// Validator runs the ordered rule set against reply texts
type Validator struct {
	rules  []Rule
	strict bool
}

// NewValidator builds the rule set from the voice configuration
func NewValidator(cfg *config.VoiceConfig) *Validator {
	rules := []Rule{
		newCharLimitRule(cfg.PreferredMax, cfg.AbsoluteMax),
		newExclamationRule(),
		newHyphenRule(),
		newDialectRule(cfg.Dialect),
		newJargonRule(cfg.Jargon),
		newSalesyRule(cfg.SalesyPatterns),
		newEmojiRule(cfg.MaxEmoji),
		newHashtagRule(cfg.MaxHashtags),
	}
	return &Validator{rules: rules, strict: cfg.StrictMode}
}

// Strict reports whether the validator treats warnings as blocking
func (v *Validator) Strict() bool {
	return v.strict
}

// Validate runs every rule and folds the findings into a scored result.
// In strict mode warnings also make the text invalid.
func (v *Validator) Validate(text string) *Result {
	res := &Result{CharCount: len([]rune(text))}

	for _, rule := range v.rules {
		for _, f := range rule.Evaluate(text) {
			res.Findings = append(res.Findings, f)
			if f.Severity == Violation {
				res.Violations = append(res.Violations, f.Message)
			} else {
				res.Warnings = append(res.Warnings, f.Message)
			}
		}
	}

	score := 100 - 15*len(res.Violations) - 5*len(res.Warnings)
	if score < 0 {
		score = 0
	}
	res.Score = score
	res.Valid = len(res.Violations) == 0 && (!v.strict || len(res.Warnings) == 0)

	return res
}
