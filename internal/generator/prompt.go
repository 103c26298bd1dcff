package generator

import (
	"context"
	"fmt"
	"strings"

	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/internal/voice"
)

// buildSystemPrompt states the brand voice and its hard constraints once
// per conversation.
func (g *Generator) buildSystemPrompt() string {
	var b strings.Builder

	b.WriteString("You are a thoughtful assistant helping Belief Forge engage with entrepreneurs.\n\n")

	b.WriteString("# Brand Context\n")
	b.WriteString("Belief Forge helps entrepreneurs overcome belief-based barriers (imposter syndrome, self-doubt, brand clarity struggles) to build authentic, purpose-driven businesses.\n\n")

	b.WriteString("# Voice Guidelines (CRITICAL, MUST FOLLOW)\n\n")
	b.WriteString("## Tone\n")
	b.WriteString("Warm, gentle, encouraging. Understated rather than enthusiastic.\n\n")
	b.WriteString("## Language\n")
	b.WriteString("British English spellings only (realise, colour, whilst, amongst).\n\n")
	b.WriteString("## Character Limits\n")
	fmt.Fprintf(&b, "- Preferred maximum: %d characters\n", g.voiceCfg.PreferredMax)
	fmt.Fprintf(&b, "- Absolute maximum: %d characters\n", g.voiceCfg.AbsoluteMax)
	fmt.Fprintf(&b, "- KEEP IT SHORT: aim for %d characters or less.\n\n", g.voiceCfg.PreferredMax)

	b.WriteString("## Required Patterns\n")
	b.WriteString("- Gentle qualifiers (quite, rather, perhaps, might)\n")
	b.WriteString("- Questions that deepen the conversation\n")
	b.WriteString("- Relatable insights from experience\n\n")

	b.WriteString("## STRICT AVOIDANCE (NEVER USE)\n")
	b.WriteString("- Exclamation marks\n")
	b.WriteString("- American spellings\n")
	b.WriteString("- Corporate jargon\n")
	b.WriteString("- Promotional or salesy language\n")
	b.WriteString("- More than one hashtag or emoji\n\n")

	b.WriteString("# Reply Guidelines\n")
	b.WriteString("1. Be genuinely helpful, not promotional\n")
	b.WriteString("2. Share relatable insights from experience\n")
	b.WriteString("3. Ask thoughtful questions to deepen conversation\n")
	b.WriteString("4. Write as if texting a friend you respect\n")
	b.WriteString("5. Focus on ONE clear point or question\n\n")

	b.WriteString("# Examples of Good Replies\n")
	b.WriteString("- \"I've found that naming the imposter syndrome actually helps. What specific doubt shows up most for you?\"\n")
	b.WriteString("- \"For my fellow founders: the clarity comes through doing, not just thinking. Which first step feels right?\"\n")
	b.WriteString("- \"I used to think I needed perfect positioning. Turns out, serving one person well taught me everything.\"\n\n")

	b.WriteString("Remember:\n")
	b.WriteString("- NO exclamation marks\n")
	b.WriteString("- British English only\n")
	b.WriteString("- Warm and authentic, never corporate\n")
	fmt.Fprintf(&b, "- Under %d characters\n", g.voiceCfg.PreferredMax)

	return b.String()
}

// buildUserPrompt carries the post, its commercial context and rotated
// corpus examples.
func (g *Generator) buildUserPrompt(ctx context.Context, post *models.CandidatePost, sig *signals.Signal) string {
	var b strings.Builder

	b.WriteString("# Post to Reply To\n\n")
	fmt.Fprintf(&b, "Author: @%s\n", post.Author.Handle)
	fmt.Fprintf(&b, "Post: %q\n\n", post.Text)

	b.WriteString("# Context\n")
	if sig != nil && sig.Tier != signals.TierNone {
		fmt.Fprintf(&b, "Priority: %s\n", strings.ToUpper(sig.Tier))
		if kws := sig.Keywords(); len(kws) > 0 {
			fmt.Fprintf(&b, "Keywords detected: %s\n", strings.Join(kws, ", "))
		}
	}

	b.WriteString("\n# Your Task\n")
	b.WriteString("Write a thoughtful, authentic reply that:\n")
	b.WriteString("1. Acknowledges their specific challenge\n")
	b.WriteString("2. Offers a relatable insight or gentle question\n")
	b.WriteString("3. Invites continued conversation\n")
	fmt.Fprintf(&b, "4. Stays under %d characters if possible\n\n", g.voiceCfg.PreferredMax)

	if examples := g.learningExamples(ctx); len(examples) > 0 {
		b.WriteString("# Examples of Successful Past Replies\n\n")
		for i, ex := range examples {
			fmt.Fprintf(&b, "Example %d:\n", i+1)
			fmt.Fprintf(&b, "Original post: %q\n", truncate(ex.PostText, 100))
			fmt.Fprintf(&b, "Our reply: %q\n", ex.ReplyText)
			fmt.Fprintf(&b, "(Engagement rate: %.1f%%)\n\n", ex.EngagementRate*100)
		}
	}

	b.WriteString("Now write your reply (NO explanations, just the reply text):")

	return b.String()
}

// buildFeedbackPrompt appends the failed attempt and its violations so the
// next attempt can correct them.
func (g *Generator) buildFeedbackPrompt(basePrompt, previous string, result *voice.Result) string {
	var b strings.Builder

	b.WriteString(basePrompt)
	b.WriteString("\n\n# Previous Attempt Failed Validation\n\n")
	fmt.Fprintf(&b, "Previous reply: %q\n\n", previous)

	b.WriteString("Violations:\n")
	for _, v := range result.Violations {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(&b, "- %s\n", w)
	}

	b.WriteString("\nPlease write a new reply that fixes these violations. Remember:\n")
	b.WriteString("- NO exclamation marks\n")
	b.WriteString("- British English spellings (realise, colour, whilst, amongst)\n")
	fmt.Fprintf(&b, "- Under %d characters if possible\n", g.voiceCfg.PreferredMax)
	b.WriteString("- No corporate jargon or salesy language\n\n")
	b.WriteString("New reply:")

	return b.String()
}

// trimReply strips whitespace and any quoting the model wrapped the reply in
func trimReply(text string) string {
	text = strings.TrimSpace(text)
	if len(text) >= 2 && strings.HasPrefix(text, `"`) && strings.HasSuffix(text, `"`) {
		text = strings.TrimSpace(text[1 : len(text)-1])
	}
	return text
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
