package voice

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/pkg/logging"
)

// charLimitRule enforces the platform character limits. Crossing the
// absolute cap is a violation, crossing the preferred cap only a warning.
type charLimitRule struct {
	preferredMax int
	absoluteMax  int
}

func newCharLimitRule(preferred, absolute int) *charLimitRule {
	return &charLimitRule{preferredMax: preferred, absoluteMax: absolute}
}

func (r *charLimitRule) Name() string { return "char_limit" }

func (r *charLimitRule) Evaluate(text string) []Finding {
	n := len([]rune(text))
	if n > r.absoluteMax {
		return []Finding{{
			Severity:   Violation,
			Rule:       r.Name(),
			Message:    fmt.Sprintf("exceeds absolute max (%d > %d chars)", n, r.absoluteMax),
			Suggestion: fmt.Sprintf("reduce by %d characters", n-r.absoluteMax),
		}}
	}
	if n > r.preferredMax {
		return []Finding{{
			Severity:   Warning,
			Rule:       r.Name(),
			Message:    fmt.Sprintf("exceeds preferred max (%d > %d chars)", n, r.preferredMax),
			Suggestion: fmt.Sprintf("consider reducing by %d characters", n-r.preferredMax),
		}}
	}
	return nil
}

// exclamationRule bans exclamation marks outright
type exclamationRule struct{}

func newExclamationRule() *exclamationRule { return &exclamationRule{} }

func (r *exclamationRule) Name() string { return "exclamation" }

func (r *exclamationRule) Evaluate(text string) []Finding {
	if !strings.Contains(text, "!") {
		return nil
	}
	return []Finding{{
		Severity:   Violation,
		Rule:       r.Name(),
		Message:    "contains exclamation mark(s)",
		Suggestion: "remove exclamation marks",
	}}
}

// hyphenRule flags hyphens used as comma substitutes in running text
type hyphenRule struct{}

func newHyphenRule() *hyphenRule { return &hyphenRule{} }

func (r *hyphenRule) Name() string { return "hyphen" }

func (r *hyphenRule) Evaluate(text string) []Finding {
	count := strings.Count(text, " - ")
	if count <= 1 {
		return nil
	}
	return []Finding{{
		Severity:   Warning,
		Rule:       r.Name(),
		Message:    fmt.Sprintf("multiple hyphens used (%d)", count),
		Suggestion: "use commas or full stops instead of hyphens",
	}}
}

// spellingPair maps a forbidden spelling pattern to its preferred variant
type spellingPair struct {
	pattern   *regexp.Regexp
	preferred string
}

// dialectRule flags spelling variants outside the configured dialect
type dialectRule struct {
	pairs []spellingPair
}

func newDialectRule(dialect string) *dialectRule {
	switch dialect {
	case "british":
		return &dialectRule{pairs: britishPairs()}
	case "":
		return &dialectRule{}
	default:
		logging.WithComponent("voice").Warn("Unknown dialect, spelling rule disabled",
			zap.String("dialect", dialect))
		return &dialectRule{}
	}
}

// britishPairs is the built-in American-to-British spelling table
func britishPairs() []spellingPair {
	raw := []struct{ pattern, preferred string }{
		{`\b\w+ize\b`, "-ise"},
		{`\b\w+ization\b`, "-isation"},
		{`\bcolor\b`, "colour"},
		{`\bfavor\b`, "favour"},
		{`\bhonor\b`, "honour"},
		{`\blabor\b`, "labour"},
		{`\bcenter\b`, "centre"},
		{`\bfiber\b`, "fibre"},
		{`\bmeter\b`, "metre"},
		{`\btheater\b`, "theatre"},
		{`\bdefense\b`, "defence"},
		{`\boffense\b`, "offence"},
		{`\blicense\b`, "licence"},
		{`\bpractice\b`, "practise"},
		{`\b(?:while|among)\b`, "whilst/amongst"},
	}
	pairs := make([]spellingPair, 0, len(raw))
	for _, p := range raw {
		pairs = append(pairs, spellingPair{
			pattern:   regexp.MustCompile(`(?i)` + p.pattern),
			preferred: p.preferred,
		})
	}
	return pairs
}

func (r *dialectRule) Name() string { return "dialect" }

func (r *dialectRule) Evaluate(text string) []Finding {
	var findings []Finding
	seen := map[string]bool{}
	for _, pair := range r.pairs {
		for _, match := range pair.pattern.FindAllString(text, -1) {
			word := strings.ToLower(match)
			if seen[word] {
				continue
			}
			seen[word] = true
			findings = append(findings, Finding{
				Severity:   Violation,
				Rule:       r.Name(),
				Message:    fmt.Sprintf("american spelling: %q", word),
				Suggestion: fmt.Sprintf("replace %q with %q", word, pair.preferred),
			})
		}
	}
	return findings
}

// jargonRule flags corporate jargon by case-insensitive substring match
type jargonRule struct {
	terms []string
}

func newJargonRule(terms []string) *jargonRule {
	return &jargonRule{terms: terms}
}

func (r *jargonRule) Name() string { return "jargon" }

func (r *jargonRule) Evaluate(text string) []Finding {
	lowered := strings.ToLower(text)
	var findings []Finding
	seen := map[string]bool{}
	for _, term := range r.terms {
		t := strings.ToLower(term)
		if !strings.Contains(lowered, t) || seen[t] {
			continue
		}
		seen[t] = true
		findings = append(findings, Finding{
			Severity:   Violation,
			Rule:       r.Name(),
			Message:    fmt.Sprintf("corporate jargon: %q", t),
			Suggestion: "remove corporate jargon, use conversational language",
		})
	}
	return findings
}

// salesyRule flags promotional language by configured regex patterns.
// Patterns that fail to compile are dropped with a warning at construction.
type salesyRule struct {
	patterns []*regexp.Regexp
}

func newSalesyRule(raw []string) *salesyRule {
	rule := &salesyRule{}
	for _, p := range raw {
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			logging.WithComponent("voice").Warn("Invalid salesy pattern skipped",
				zap.String("pattern", p), zap.Error(err))
			continue
		}
		rule.patterns = append(rule.patterns, re)
	}
	return rule
}

func (r *salesyRule) Name() string { return "salesy" }

func (r *salesyRule) Evaluate(text string) []Finding {
	var findings []Finding
	for _, re := range r.patterns {
		match := re.FindString(text)
		if match == "" {
			continue
		}
		findings = append(findings, Finding{
			Severity:   Violation,
			Rule:       r.Name(),
			Message:    fmt.Sprintf("salesy language: %q", strings.ToLower(match)),
			Suggestion: "remove promotional language, be helpful not salesy",
		})
	}
	return findings
}

// emojiRule caps emoji per reply
type emojiRule struct {
	max int
}

var emojiPattern = regexp.MustCompile(`[\x{1F600}-\x{1F64F}\x{1F300}-\x{1F5FF}\x{1F680}-\x{1F6FF}\x{1F1E0}-\x{1F1FF}]`)

func newEmojiRule(max int) *emojiRule { return &emojiRule{max: max} }

func (r *emojiRule) Name() string { return "emoji" }

func (r *emojiRule) Evaluate(text string) []Finding {
	count := len(emojiPattern.FindAllString(text, -1))
	if count <= r.max {
		return nil
	}
	return []Finding{{
		Severity:   Warning,
		Rule:       r.Name(),
		Message:    fmt.Sprintf("too many emoji (%d)", count),
		Suggestion: fmt.Sprintf("use at most %d emoji", r.max),
	}}
}

// hashtagRule allows at most one hashtag, and warns even about that one
type hashtagRule struct {
	max int
}

func newHashtagRule(max int) *hashtagRule { return &hashtagRule{max: max} }

func (r *hashtagRule) Name() string { return "hashtag" }

func (r *hashtagRule) Evaluate(text string) []Finding {
	count := strings.Count(text, "#")
	switch {
	case count > r.max:
		return []Finding{{
			Severity:   Violation,
			Rule:       r.Name(),
			Message:    fmt.Sprintf("too many hashtags (%d)", count),
			Suggestion: fmt.Sprintf("use at most %d hashtag", r.max),
		}}
	case count > 0:
		return []Finding{{
			Severity:   Warning,
			Rule:       r.Name(),
			Message:    fmt.Sprintf("contains %d hashtag (prefer 0)", count),
			Suggestion: "drop the hashtag",
		}}
	}
	return nil
}
