package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/llm"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/internal/voice"
	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
	"github.com/beliefforge/scout/pkg/telemetry"
)

// ErrAttemptsExhausted is returned when no attempt produced a reply that
// passes voice validation. It is a normal per-candidate outcome, not a
// pipeline failure.
var ErrAttemptsExhausted = errors.New("generation attempts exhausted")

// minExampleScore is the validation score a corpus entry needs before it is
// offered as prompt material.
const minExampleScore = 80

// CompletionClient is the LLM surface the generator needs
type CompletionClient interface {
	Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error)
}

// ExampleSource supplies learning-corpus entries for prompts
type ExampleSource interface {
	SelectForPrompt(ctx context.Context, limit, minScore int, minRate float64) ([]*models.ReplyExample, error)
	TouchUsed(ctx context.Context, ids []int64, at time.Time) error
}

// Reply is one generation outcome. Attempts and CostUSD are filled in even
// when generation fails, so callers can account for spend.
type Reply struct {
	Text        string
	Validation  *voice.Result
	Attempts    int
	CostUSD     float64
	GeneratedAt time.Time
}

// Generator produces voice-compliant replies with a validate-and-retry loop
type Generator struct {
	client    CompletionClient
	validator *voice.Validator
	examples  ExampleSource
	cfg       *config.PipelineConfig
	voiceCfg  *config.VoiceConfig
	logger    *zap.Logger
	now       func() time.Time
}

// New creates a reply generator
func New(client CompletionClient, validator *voice.Validator, examples ExampleSource, cfg *config.PipelineConfig, voiceCfg *config.VoiceConfig) *Generator {
	return &Generator{
		client:    client,
		validator: validator,
		examples:  examples,
		cfg:       cfg,
		voiceCfg:  voiceCfg,
		logger:    logging.WithComponent("generator"),
		now:       time.Now,
	}
}

// Generate writes a reply for the candidate. Each failed validation feeds
// the violations back into the next attempt's prompt, up to the configured
// attempt cap. The returned Reply always carries attempt and cost counters;
// on failure it also wraps ErrAttemptsExhausted or the client error.
func (g *Generator) Generate(ctx context.Context, post *models.CandidatePost, sig *signals.Signal) (*Reply, error) {
	ctx, span := telemetry.StartSpan(ctx, "generator.generate")
	defer span.End()

	systemPrompt := g.buildSystemPrompt()
	basePrompt := g.buildUserPrompt(ctx, post, sig)
	userPrompt := basePrompt

	reply := &Reply{GeneratedAt: g.now()}

	maxAttempts := g.cfg.GenerateAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply.Attempts = attempt

		comp, err := g.client.Complete(ctx, []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		})
		if err != nil {
			return reply, fmt.Errorf("attempt %d: %w", attempt, err)
		}
		reply.CostUSD += comp.CostUSD

		text := trimReply(comp.Content)
		result := g.validator.Validate(text)
		reply.Text = text
		reply.Validation = result

		g.logger.Info("Reply candidate generated",
			zap.String("post_id", post.ID),
			zap.Int("attempt", attempt),
			zap.Int("voice_score", result.Score),
			zap.Bool("valid", result.Valid))

		if result.Valid {
			return reply, nil
		}

		if attempt < maxAttempts {
			userPrompt = g.buildFeedbackPrompt(basePrompt, text, result)
		}
	}

	g.logger.Warn("Dropping candidate, no valid reply produced",
		zap.String("post_id", post.ID),
		zap.Int("attempts", reply.Attempts),
		zap.Strings("last_violations", reply.Validation.Violations))

	return reply, fmt.Errorf("post %s after %d attempts: %w", post.ID, reply.Attempts, ErrAttemptsExhausted)
}

// learningExamples fetches rotated corpus entries and marks them used.
// Failures degrade to an example-free prompt.
func (g *Generator) learningExamples(ctx context.Context) []*models.ReplyExample {
	if g.examples == nil || g.cfg.LearningExamples <= 0 {
		return nil
	}

	examples, err := g.examples.SelectForPrompt(ctx, g.cfg.LearningExamples, minExampleScore, g.cfg.MinEngagementRate)
	if err != nil {
		g.logger.Warn("Learning corpus unavailable", zap.Error(err))
		return nil
	}
	if len(examples) == 0 {
		return nil
	}

	ids := make([]int64, 0, len(examples))
	for _, ex := range examples {
		ids = append(ids, ex.ID)
	}
	if err := g.examples.TouchUsed(ctx, ids, g.now()); err != nil {
		g.logger.Warn("Failed to mark examples used", zap.Error(err))
	}

	return examples
}
