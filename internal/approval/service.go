package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/cache"
	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/internal/dedup"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/notify"
	"github.com/beliefforge/scout/internal/publish"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/internal/voice"
	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
	"github.com/beliefforge/scout/pkg/telemetry"
)

var (
	// ErrInvalidTransition is returned when a decision arrives for an item
	// that is no longer in the expected state. Duplicate and out-of-order
	// decisions surface this error rather than being silently absorbed.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotFound is returned for an unknown reply item id
	ErrNotFound = errors.New("reply item not found")

	// ErrRateLimited is returned when posting limits refuse a publish
	ErrRateLimited = errors.New("posting rate limit reached")
)

// Service owns the reply approval lifecycle. Every transition is a
// compare-and-set on the current status, which makes it safe against races
// between human decisions, auto-approval timers and the posting sweep.
type Service struct {
	items     *db.ReplyItemRepository
	ledger    *dedup.Ledger
	examples  *db.ExampleRepository
	notifier  notify.Notifier
	publisher publish.Publisher
	cache     *cache.Cache
	detector  *signals.Detector
	validator *voice.Validator
	cfg       *config.ApprovalConfig

	timerMu sync.Mutex
	timers  map[string]*time.Timer

	postMu sync.Mutex

	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the approval service
func NewService(
	items *db.ReplyItemRepository,
	ledger *dedup.Ledger,
	examples *db.ExampleRepository,
	notifier notify.Notifier,
	publisher publish.Publisher,
	c *cache.Cache,
	detector *signals.Detector,
	validator *voice.Validator,
	cfg *config.ApprovalConfig,
) *Service {
	return &Service{
		items:     items,
		ledger:    ledger,
		examples:  examples,
		notifier:  notifier,
		publisher: publisher,
		cache:     c,
		detector:  detector,
		validator: validator,
		cfg:       cfg,
		timers:    make(map[string]*time.Timer),
		logger:    logging.WithComponent("approval"),
		now:       time.Now,
	}
}

// Submit queues a generated reply for review. Items below the manual-review
// tier get a cancellable auto-approval deadline; everything waits for a
// human until then.
func (s *Service) Submit(ctx context.Context, item *models.ReplyItem) error {
	ctx, span := telemetry.StartSpan(ctx, "approval.submit")
	defer span.End()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	item.Status = models.StatusPending

	eligible := s.autoApproveEligible(item.PriorityTier)
	if eligible {
		item.AutoApproveAt = sql.NullTime{Time: s.now().Add(s.cfg.GraceWindow), Valid: true}
	}

	if err := s.items.Create(ctx, item); err != nil {
		return fmt.Errorf("queue reply: %w", err)
	}
	s.cache.InvalidateQueue()

	if err := s.notifier.NotifyPending(ctx, item); err != nil {
		s.logger.Warn("Approval notification failed",
			zap.String("item_id", item.ID), zap.Error(err))
	}

	if eligible {
		s.scheduleAutoApproval(item.ID)
	}

	s.logger.Info("Reply queued for approval",
		zap.String("item_id", item.ID),
		zap.String("post_id", item.PostID),
		zap.String("tier", item.PriorityTier),
		zap.Bool("auto_approve", eligible))

	return nil
}

// autoApproveEligible reports whether the tier sits below the configured
// manual-review threshold.
func (s *Service) autoApproveEligible(tier string) bool {
	if s.cfg.AutoApproveBelow == "" {
		return false
	}
	return s.detector.CompareTiers(tier, s.cfg.AutoApproveBelow) < 0
}

// Get loads one reply item
func (s *Service) Get(ctx context.Context, id string) (*models.ReplyItem, error) {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

// Approve records a human approval. Only pending items can be approved.
func (s *Service) Approve(ctx context.Context, id, decidedBy string) error {
	err := s.transition(ctx, id, models.StatusPending, models.StatusApproved, map[string]interface{}{
		"decided_at": s.now().UTC(),
		"decided_by": decidedBy,
	})
	if err != nil {
		return err
	}
	s.cancelTimer(id)
	s.logger.Info("Reply approved", zap.String("item_id", id), zap.String("by", decidedBy))
	return nil
}

// Reject records a human rejection. Rejected is terminal.
func (s *Service) Reject(ctx context.Context, id, decidedBy, reason string) error {
	err := s.transition(ctx, id, models.StatusPending, models.StatusRejected, map[string]interface{}{
		"decided_at":       s.now().UTC(),
		"decided_by":       decidedBy,
		"rejection_reason": reason,
	})
	if err != nil {
		return err
	}
	s.cancelTimer(id)
	s.logger.Info("Reply rejected",
		zap.String("item_id", id),
		zap.String("by", decidedBy),
		zap.String("reason", reason))
	return nil
}

// Edit replaces the reply text on a pending item. The new text is
// re-validated: in strict mode violations reject the item outright,
// otherwise it stays pending carrying the fresh validation snapshot.
// Editing also cancels any auto-approval deadline, since a human is
// clearly reviewing.
func (s *Service) Edit(ctx context.Context, id, newText, decidedBy string) error {
	item, err := s.items.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if item == nil {
		return ErrNotFound
	}

	result := s.validator.Validate(newText)
	if len(result.Violations) > 0 && s.validator.Strict() {
		reason := "edited text failed validation: " + strings.Join(result.Violations, "; ")
		err := s.transition(ctx, id, models.StatusPending, models.StatusRejected, map[string]interface{}{
			"decided_at":       s.now().UTC(),
			"decided_by":       decidedBy,
			"rejection_reason": reason,
		})
		if err != nil {
			return err
		}
		s.cancelTimer(id)
		s.logger.Warn("Edited reply auto-rejected",
			zap.String("item_id", id),
			zap.Strings("violations", result.Violations))
		return nil
	}

	violations, _ := json.Marshal(result.Violations)
	warnings, _ := json.Marshal(result.Warnings)
	err = s.transition(ctx, id, models.StatusPending, models.StatusPending, map[string]interface{}{
		"reply_text":      newText,
		"voice_score":     result.Score,
		"violations":      string(violations),
		"warnings":        string(warnings),
		"auto_approve_at": nil,
	})
	if err != nil {
		return err
	}
	s.cancelTimer(id)
	s.logger.Info("Reply edited", zap.String("item_id", id), zap.Int("voice_score", result.Score))
	return nil
}

// CancelAutoApproval stops the auto-approval timer and clears the deadline.
// The item stays pending until a human decides.
func (s *Service) CancelAutoApproval(ctx context.Context, id string) error {
	err := s.transition(ctx, id, models.StatusPending, models.StatusPending, map[string]interface{}{
		"auto_approve_at": nil,
	})
	if err != nil {
		return err
	}
	s.cancelTimer(id)
	s.logger.Info("Auto-approval cancelled", zap.String("item_id", id))
	return nil
}

// scheduleAutoApproval arms the grace timer. The timer is best-effort; the
// status CAS in autoApprove is what makes the human/timer race safe.
func (s *Service) scheduleAutoApproval(id string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.timers[id] = time.AfterFunc(s.cfg.GraceWindow, func() {
		s.autoApprove(id)
	})
}

func (s *Service) cancelTimer(id string) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// autoApprove fires when the grace window lapses with no human decision
func (s *Service) autoApprove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.transition(ctx, id, models.StatusPending, models.StatusAutoApproved, map[string]interface{}{
		"decided_at": s.now().UTC(),
		"decided_by": "auto",
	})
	if errors.Is(err, ErrInvalidTransition) {
		// A human got there first
		return
	}
	if err != nil {
		s.logger.Error("Auto-approval failed", zap.String("item_id", id), zap.Error(err))
		return
	}
	s.cancelTimer(id)
	s.logger.Info("Reply auto-approved after grace window", zap.String("item_id", id))

	if err := s.Post(ctx, id); err != nil {
		s.logger.Warn("Auto-approved reply not posted yet",
			zap.String("item_id", id), zap.Error(err))
	}
}

// transition runs one compare-and-set status update
func (s *Service) transition(ctx context.Context, id string, from, to models.Status, fields map[string]interface{}) error {
	ok, err := s.items.UpdateStatusIf(ctx, id, from, to, fields)
	if err != nil {
		return err
	}
	if !ok {
		item, getErr := s.items.GetByID(ctx, id)
		if getErr == nil && item == nil {
			return ErrNotFound
		}
		current := models.Status("unknown")
		if item != nil {
			current = item.Status
		}
		return fmt.Errorf("%s -> %s (currently %s): %w", from, to, current, ErrInvalidTransition)
	}
	s.cache.InvalidateQueue()
	return nil
}
