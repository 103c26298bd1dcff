package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/approval"
	"github.com/beliefforge/scout/internal/dedup"
	"github.com/beliefforge/scout/internal/generator"
	"github.com/beliefforge/scout/internal/llm"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/scoring"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
	"github.com/beliefforge/scout/pkg/telemetry"
)

// Source discovers candidate posts for one pass
type Source interface {
	Discover(ctx context.Context) ([]*models.CandidatePost, error)
}

// PassStats summarizes one pipeline pass
type PassStats struct {
	SessionID      string
	InactiveHours  bool
	Discovered     int
	Duplicates     int
	TooOld         int
	NoSignal       int
	BelowThreshold int
	LedgerSkipped  int
	Dropped        int
	Queued         int
	Posted         int
	Purged         int64
	BudgetHalted   bool
	CostUSD        float64
}

// Pipeline runs the discover-score-generate-queue pass on a schedule.
// Generation stops for the pass as soon as the LLM budget pushes back;
// everything queued before that still goes through approval.
type Pipeline struct {
	source    Source
	detector  *signals.Detector
	scorer    *scoring.Scorer
	generator *generator.Generator
	ledger    *dedup.Ledger
	approval  *approval.Service
	cfg       *config.PipelineConfig

	logger *zap.Logger
	now    func() time.Time
}

// New creates a pipeline
func New(
	source Source,
	detector *signals.Detector,
	scorer *scoring.Scorer,
	gen *generator.Generator,
	ledger *dedup.Ledger,
	svc *approval.Service,
	cfg *config.PipelineConfig,
) *Pipeline {
	return &Pipeline{
		source:    source,
		detector:  detector,
		scorer:    scorer,
		generator: gen,
		ledger:    ledger,
		approval:  svc,
		cfg:       cfg,
		logger:    logging.WithComponent("pipeline"),
		now:       time.Now,
	}
}

// Run executes passes on the configured interval until the context is
// cancelled. The first pass runs immediately.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("Pipeline started", zap.Duration("interval", p.cfg.Interval))

	if _, err := p.RunPass(ctx); err != nil {
		p.logger.Error("Pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.RunPass(ctx); err != nil {
				p.logger.Error("Pass failed", zap.Error(err))
			}
		}
	}
}

// RunPass executes one full pass: discover, filter, score, rank, generate
// and queue, then sweep approved items to the platform and purge expired
// ledger rows.
func (p *Pipeline) RunPass(ctx context.Context) (*PassStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "pipeline.pass")
	defer span.End()

	now := p.now()
	stats := &PassStats{SessionID: uuid.NewString()}
	logger := p.logger.With(zap.String("session_id", stats.SessionID))

	if !p.scorer.InActiveHours(now) {
		stats.InactiveHours = true
		logger.Info("Outside active hours, skipping pass")
		return stats, nil
	}

	posts, err := p.source.Discover(ctx)
	if err != nil {
		return stats, err
	}
	stats.Discovered = len(posts)

	scored := p.selectCandidates(posts, now, stats)
	scoring.Rank(scored)

	p.generateAndQueue(ctx, scored, now, stats, logger)

	posted, err := p.approval.PostApproved(ctx)
	if err != nil {
		logger.Warn("Posting sweep failed", zap.Error(err))
	}
	stats.Posted = posted

	purged, err := p.ledger.Purge(ctx, now)
	if err != nil {
		logger.Warn("Ledger purge failed", zap.Error(err))
	}
	stats.Purged = purged

	logger.Info("Pass complete",
		zap.Int("discovered", stats.Discovered),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("too_old", stats.TooOld),
		zap.Int("no_signal", stats.NoSignal),
		zap.Int("below_threshold", stats.BelowThreshold),
		zap.Int("ledger_skipped", stats.LedgerSkipped),
		zap.Int("dropped", stats.Dropped),
		zap.Int("queued", stats.Queued),
		zap.Int("posted", stats.Posted),
		zap.Int64("purged", stats.Purged),
		zap.Bool("budget_halted", stats.BudgetHalted),
		zap.Float64("cost_usd", stats.CostUSD))

	return stats, nil
}

// selectCandidates filters the discovered posts down to scored, in-signal
// candidates. Posts repeated within the pass are counted once.
func (p *Pipeline) selectCandidates(posts []*models.CandidatePost, now time.Time, stats *PassStats) []scoring.Scored {
	seen := make(map[string]struct{}, len(posts))
	var scored []scoring.Scored

	for _, post := range posts {
		if _, dup := seen[post.ID]; dup {
			stats.Duplicates++
			continue
		}
		seen[post.ID] = struct{}{}

		if p.scorer.TooOld(post, now) {
			stats.TooOld++
			continue
		}

		sig := p.detector.Detect(post.Text, post.Author.DisplayName, post.Author.Bio)
		if !p.detector.MeetsMinimum(sig) {
			stats.NoSignal++
			continue
		}

		breakdown := p.scorer.Score(post, now)
		if !breakdown.MeetsThreshold {
			stats.BelowThreshold++
			continue
		}

		scored = append(scored, scoring.Scored{Post: post, Signal: sig, Breakdown: breakdown})
	}

	return scored
}

// generateAndQueue walks the ranked candidates, generating and queueing
// replies until the per-pass cap is reached or the budget halts generation.
func (p *Pipeline) generateAndQueue(ctx context.Context, scored []scoring.Scored, now time.Time, stats *PassStats, logger *zap.Logger) {
	for _, cand := range scored {
		if stats.Queued >= p.cfg.MaxRepliesPerPass {
			break
		}

		ok, reason := p.ledger.Eligible(ctx, cand.Post.ID, cand.Post.Author.Handle, now)
		if !ok {
			stats.LedgerSkipped++
			logger.Debug("Candidate skipped by ledger",
				zap.String("post_id", cand.Post.ID),
				zap.String("reason", reason))
			continue
		}

		reply, err := p.generator.Generate(ctx, cand.Post, cand.Signal)
		if reply != nil {
			stats.CostUSD += reply.CostUSD
		}
		if err != nil {
			if errors.Is(err, llm.ErrBudgetExceeded) {
				stats.BudgetHalted = true
				logger.Warn("LLM budget exhausted, halting generation for this pass")
				break
			}
			stats.Dropped++
			if !errors.Is(err, generator.ErrAttemptsExhausted) {
				logger.Warn("Generation failed",
					zap.String("post_id", cand.Post.ID), zap.Error(err))
			}
			continue
		}

		item := buildItem(cand, reply, stats.SessionID)
		if err := p.approval.Submit(ctx, item); err != nil {
			logger.Error("Failed to queue reply",
				zap.String("post_id", cand.Post.ID), zap.Error(err))
			continue
		}
		stats.Queued++
	}
}

// buildItem snapshots the candidate, score, signal and validation into a
// queue row.
func buildItem(cand scoring.Scored, reply *generator.Reply, sessionID string) *models.ReplyItem {
	item := &models.ReplyItem{
		SessionID:   sessionID,
		PostID:      cand.Post.ID,
		PostAuthor:  cand.Post.Author.Handle,
		PostText:    cand.Post.Text,
		PostCreated: cand.Post.CreatedAt,

		ReplyText:    reply.Text,
		AttemptCount: reply.Attempts,
		CostUSD:      reply.CostUSD,

		Score:                 cand.Breakdown.Total,
		EngagementVelocity:    cand.Breakdown.EngagementVelocity,
		AuthorAuthority:       cand.Breakdown.AuthorAuthority,
		Timing:                cand.Breakdown.Timing,
		DiscussionOpportunity: cand.Breakdown.DiscussionOpportunity,

		PriorityTier:    cand.Signal.Tier,
		CommercialScore: cand.Signal.Score,

		VoiceScore: reply.Validation.Score,
	}
	item.SetKeywords(cand.Signal.Keywords())
	item.SetFindings(reply.Validation.Violations, reply.Validation.Warnings)
	return item
}
