package voice

import (
	"strings"
	"testing"

	"github.com/beliefforge/scout/pkg/config"
)

func testVoiceConfig() *config.VoiceConfig {
	return &config.VoiceConfig{
		PreferredMax: 100,
		AbsoluteMax:  280,
		Dialect:      "british",
		Jargon: []string{
			"synergy", "leverage", "disrupt", "crushing it", "ninja",
			"hustle", "move the needle", "growth hack",
		},
		SalesyPatterns: []string{
			`\bbuy now\b`, `\blimited time\b`, `\bDM me\b`,
			`\bcheck out my\b`, `\blink in bio\b`,
		},
		MaxEmoji:    1,
		MaxHashtags: 1,
		StrictMode:  true,
	}
}

func TestValidator_CleanText(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("That sounds hard. Perhaps focus on what matters most to you?")

	if !res.Valid {
		t.Errorf("clean text should be valid, violations: %v, warnings: %v", res.Violations, res.Warnings)
	}
	if res.Score != 100 {
		t.Errorf("clean text score = %d, want 100", res.Score)
	}
}

func TestValidator_Exclamation(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("This is brilliant! Well done!")

	if res.Valid {
		t.Error("exclamation marks should be invalid in strict mode")
	}
	if len(res.Violations) != 1 {
		t.Errorf("violations = %v, want exactly 1", res.Violations)
	}
	if res.Score != 85 {
		t.Errorf("score = %d, want 85", res.Score)
	}
}

func TestValidator_DialectAndJargon(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("Happy to leverage the color palette here.")

	if len(res.Violations) != 2 {
		t.Fatalf("violations = %v, want exactly 2 (one dialect, one jargon)", res.Violations)
	}
	if res.Score != 70 {
		t.Errorf("score = %d, want 70", res.Score)
	}
	if res.Valid {
		t.Error("dialect and jargon violations should be invalid")
	}
}

func TestValidator_DialectPatterns(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	tests := []struct {
		name           string
		text           string
		wantViolations int
	}{
		{"ize suffix", "I realize that now.", 1},
		{"ization suffix", "The organization grew.", 1},
		{"while", "I tried while it lasted.", 1},
		{"among", "Shared among friends.", 1},
		{"british forms pass", "I realise that now, whilst we organise things.", 0},
		{"duplicate word counted once", "I realize what you realize.", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := v.Validate(tt.text)
			if len(res.Violations) != tt.wantViolations {
				t.Errorf("Validate(%q) violations = %v, want %d", tt.text, res.Violations, tt.wantViolations)
			}
		})
	}
}

func TestValidator_Salesy(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("Check out my course, DM me for details.")

	if len(res.Violations) != 2 {
		t.Errorf("violations = %v, want 2 salesy hits", res.Violations)
	}
}

func TestValidator_Hashtags(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	one := v.Validate("Good luck with the launch #buildinpublic")
	if len(one.Violations) != 0 || len(one.Warnings) != 1 {
		t.Errorf("one hashtag: violations=%v warnings=%v, want warning only", one.Violations, one.Warnings)
	}

	two := v.Validate("Good luck #buildinpublic #indiehackers")
	if len(two.Violations) != 1 {
		t.Errorf("two hashtags: violations=%v, want 1", two.Violations)
	}
}

func TestValidator_CharLimits(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	long := v.Validate(strings.Repeat("a", 150))
	if len(long.Warnings) != 1 || len(long.Violations) != 0 {
		t.Errorf("150 chars: violations=%v warnings=%v, want warning only", long.Violations, long.Warnings)
	}

	over := v.Validate(strings.Repeat("a", 300))
	if len(over.Violations) != 1 {
		t.Errorf("300 chars: violations=%v, want 1", over.Violations)
	}
}

func TestValidator_HyphenRuns(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("It works - mostly - on good days.")
	if len(res.Warnings) != 1 {
		t.Errorf("warnings = %v, want 1 hyphen warning", res.Warnings)
	}

	single := v.Validate("It works - mostly.")
	if len(single.Warnings) != 0 {
		t.Errorf("single hyphen warnings = %v, want none", single.Warnings)
	}
}

func TestValidator_Emoji(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	ok := v.Validate("Nice work \U0001F600")
	if len(ok.Warnings) != 0 {
		t.Errorf("one emoji warnings = %v, want none", ok.Warnings)
	}

	many := v.Validate("Nice \U0001F600\U0001F680\U0001F389 work")
	found := false
	for _, w := range many.Warnings {
		if strings.Contains(w, "emoji") {
			found = true
		}
	}
	if !found {
		t.Errorf("three emoji warnings = %v, want emoji warning", many.Warnings)
	}
}

func TestValidator_StrictMode(t *testing.T) {
	text := "Good luck with the launch #buildinpublic"

	strict := NewValidator(testVoiceConfig())
	if strict.Validate(text).Valid {
		t.Error("warning should invalidate in strict mode")
	}

	cfg := testVoiceConfig()
	cfg.StrictMode = false
	lenient := NewValidator(cfg)
	if !lenient.Validate(text).Valid {
		t.Error("warning alone should be valid outside strict mode")
	}
}

func TestValidator_ScoreFloor(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("Buy now! Limited time! DM me! Check out my link in bio! Leverage synergy, disrupt, hustle, crushing it, ninja moves! #a #b #c " + strings.Repeat("x", 300))

	if res.Score != 0 {
		t.Errorf("score = %d, want floor of 0", res.Score)
	}
	if res.Valid {
		t.Error("heavily violating text must be invalid")
	}
}

func TestValidator_Suggestions(t *testing.T) {
	v := NewValidator(testVoiceConfig())

	res := v.Validate("I realize this is hard!")

	if res.Valid {
		t.Fatal("expected invalid result")
	}
	if len(res.Suggestions()) < 2 {
		t.Errorf("suggestions = %v, want at least one per violation", res.Suggestions())
	}
}
