package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/cache"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/pkg/telemetry"
)

// Post publishes an approved or auto-approved reply. Posting limits and a
// final ledger check run immediately before the publish call; a publish
// failure lands in post_failed and is never silently retried.
func (s *Service) Post(ctx context.Context, id string) error {
	ctx, span := telemetry.StartSpan(ctx, "approval.post")
	defer span.End()

	// One publish at a time keeps the CAS transitions race-free against
	// concurrent sweeps.
	s.postMu.Lock()
	defer s.postMu.Unlock()

	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}
	if item.Status != models.StatusApproved && item.Status != models.StatusAutoApproved {
		return fmt.Errorf("cannot post from %s: %w", item.Status, ErrInvalidTransition)
	}

	if err := s.checkPostingLimits(ctx); err != nil {
		return err
	}

	now := s.now()
	if ok, reason := s.ledger.Eligible(ctx, item.PostID, item.PostAuthor, now); !ok {
		ferr := s.transition(ctx, id, item.Status, models.StatusPostFailed, map[string]interface{}{
			"rejection_reason": "ledger refused before publish: " + reason,
		})
		if ferr != nil {
			return ferr
		}
		return fmt.Errorf("ledger refused post %s: %s", item.PostID, reason)
	}

	postedID, err := s.publisher.Publish(ctx, item.PostID, item.ReplyText)
	if err != nil {
		ferr := s.transition(ctx, id, item.Status, models.StatusPostFailed, map[string]interface{}{
			"rejection_reason": "publish failed: " + err.Error(),
		})
		if ferr != nil {
			return ferr
		}
		s.logger.Error("Publish failed",
			zap.String("item_id", id),
			zap.String("post_id", item.PostID),
			zap.Error(err))
		return err
	}

	err = s.transition(ctx, id, item.Status, models.StatusPosted, map[string]interface{}{
		"posted_id": postedID,
		"posted_at": now.UTC(),
	})
	if err != nil {
		return err
	}

	if err := s.ledger.Record(ctx, item.PostID, item.PostAuthor, item.SessionID, now); err != nil {
		s.logger.Error("Ledger record failed after publish",
			zap.String("item_id", id), zap.Error(err))
	}

	if s.examples != nil {
		ex := &models.ReplyExample{
			ItemID:     item.ID,
			PostText:   item.PostText,
			ReplyText:  item.ReplyText,
			VoiceScore: item.VoiceScore,
			PostedAt:   now.UTC(),
		}
		if err := s.examples.Insert(ctx, ex); err != nil {
			s.logger.Warn("Learning corpus insert failed",
				zap.String("item_id", id), zap.Error(err))
		}
	}

	s.logger.Info("Reply posted",
		zap.String("item_id", id),
		zap.String("posted_id", postedID))

	return nil
}

// RecordEngagement stores the measured engagement rate for a posted reply
// on its learning corpus example. Rates at or above the selection floor
// make the example eligible as prompt material for future generations.
func (s *Service) RecordEngagement(ctx context.Context, id string, rate float64) error {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}
	if item.Status != models.StatusPosted {
		return fmt.Errorf("cannot record engagement from %s: %w", item.Status, ErrInvalidTransition)
	}
	if s.examples == nil {
		return ErrNotFound
	}

	ok, err := s.examples.UpdateEngagement(ctx, id, rate)
	if err != nil {
		return fmt.Errorf("update corpus engagement: %w", err)
	}
	if !ok {
		return ErrNotFound
	}

	s.logger.Info("Engagement recorded",
		zap.String("item_id", id),
		zap.Float64("engagement_rate", rate))
	return nil
}

// checkPostingLimits enforces the per-hour and per-day posting caps
func (s *Service) checkPostingLimits(ctx context.Context) error {
	now := s.now()

	hourly, err := s.items.CountPostedSince(ctx, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	if hourly >= int64(s.cfg.MaxPostsPerHour) {
		return fmt.Errorf("%d posts in the last hour: %w", hourly, ErrRateLimited)
	}

	daily, err := s.items.CountPostedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	if daily >= int64(s.cfg.MaxPostsPerDay) {
		return fmt.Errorf("%d posts in the last day: %w", daily, ErrRateLimited)
	}

	return nil
}

// PostApproved publishes every approved and auto-approved item, oldest
// first, until done or the posting limits push back. Returns how many were
// posted.
func (s *Service) PostApproved(ctx context.Context) (int, error) {
	posted := 0
	for _, status := range []models.Status{models.StatusApproved, models.StatusAutoApproved} {
		items, err := s.items.ListByStatus(ctx, status)
		if err != nil {
			return posted, err
		}
		for _, item := range items {
			if err := s.Post(ctx, item.ID); err != nil {
				if isRateLimited(err) {
					return posted, nil
				}
				s.logger.Warn("Posting sweep item failed",
					zap.String("item_id", item.ID), zap.Error(err))
				continue
			}
			posted++
		}
	}
	return posted, nil
}

// PendingItems returns the pending queue, via cache when available
func (s *Service) PendingItems(ctx context.Context) ([]*models.ReplyItem, error) {
	if raw, err := s.cache.Get(cache.KeyPendingQueue); err == nil {
		var items []*models.ReplyItem
		if err := json.Unmarshal([]byte(raw), &items); err == nil {
			return items, nil
		}
	}

	items, err := s.items.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return nil, err
	}

	if buf, err := json.Marshal(items); err == nil {
		if err := s.cache.Set(cache.KeyPendingQueue, string(buf), cache.QueueTTL); err != nil && err != cache.ErrCacheDisabled {
			s.logger.Debug("Queue cache write failed", zap.Error(err))
		}
	}

	return items, nil
}

// QueueStats returns reply counts by status, via cache when available
func (s *Service) QueueStats(ctx context.Context) (map[models.Status]int64, error) {
	if raw, err := s.cache.Get(cache.KeyQueueStats); err == nil {
		var stats map[models.Status]int64
		if err := json.Unmarshal([]byte(raw), &stats); err == nil {
			return stats, nil
		}
	}

	stats, err := s.items.QueueStats(ctx)
	if err != nil {
		return nil, err
	}

	if buf, err := json.Marshal(stats); err == nil {
		if err := s.cache.Set(cache.KeyQueueStats, string(buf), cache.QueueTTL); err != nil && err != cache.ErrCacheDisabled {
			s.logger.Debug("Stats cache write failed", zap.Error(err))
		}
	}

	return stats, nil
}

func isRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
