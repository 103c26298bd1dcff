package dedup

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
)

// Ineligibility reasons reported by the ledger
const (
	ReasonAlreadyEngaged = "already engaged with post"
	ReasonAuthorCooldown = "author within cooldown window"
	ReasonLedgerError    = "ledger check failed"
)

// Ledger decides whether a candidate may be engaged: never the same post
// twice, and never the same author inside the cooldown window. Check errors
// count as ineligible so a flaky database can not cause a duplicate reply.
type Ledger struct {
	repo   *db.EngagementRepository
	cfg    *config.DedupConfig
	logger *zap.Logger
}

// NewLedger creates a deduplication ledger
func NewLedger(repo *db.EngagementRepository, cfg *config.DedupConfig) *Ledger {
	return &Ledger{
		repo:   repo,
		cfg:    cfg,
		logger: logging.WithComponent("dedup"),
	}
}

// Eligible reports whether the post may be engaged at the given instant.
// The reason is empty when eligible.
func (l *Ledger) Eligible(ctx context.Context, postID, author string, now time.Time) (bool, string) {
	engaged, err := l.repo.HasEngaged(ctx, postID)
	if err != nil {
		l.logger.Error("Post lookup failed, treating as ineligible",
			zap.String("post_id", postID), zap.Error(err))
		return false, ReasonLedgerError
	}
	if engaged {
		return false, ReasonAlreadyEngaged
	}

	cooling, err := l.repo.AuthorEngagedSince(ctx, author, now.Add(-l.cfg.AuthorCooldown))
	if err != nil {
		l.logger.Error("Author lookup failed, treating as ineligible",
			zap.String("author", author), zap.Error(err))
		return false, ReasonLedgerError
	}
	if cooling {
		return false, ReasonAuthorCooldown
	}

	return true, ""
}

// Record marks the post and author as engaged. Recording an already
// recorded post is a no-op, so retried posting paths stay idempotent.
func (l *Ledger) Record(ctx context.Context, postID, author, sessionID string, now time.Time) error {
	return l.repo.Record(ctx, postID, author, sessionID, now)
}

// Purge removes author-history rows past the retention period. The
// permanent post markers are untouched.
func (l *Ledger) Purge(ctx context.Context, now time.Time) (int64, error) {
	purged, err := l.repo.PurgeExpired(ctx, now.Add(-l.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if purged > 0 {
		l.logger.Info("Purged expired engagement records", zap.Int64("count", purged))
	}
	return purged, nil
}
