package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/beliefforge/scout/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ReplyItemRepository provides approval queue database operations
type ReplyItemRepository struct {
	*Repository
}

// NewReplyItemRepository creates a new reply item repository
func NewReplyItemRepository(repo *Repository) *ReplyItemRepository {
	return &ReplyItemRepository{Repository: repo}
}

// Create creates a new reply item
func (r *ReplyItemRepository) Create(ctx context.Context, item *models.ReplyItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

// GetByID retrieves a reply item by ID
func (r *ReplyItemRepository) GetByID(ctx context.Context, id string) (*models.ReplyItem, error) {
	var item models.ReplyItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

// ListByStatus retrieves reply items in the given status, oldest first
func (r *ReplyItemRepository) ListByStatus(ctx context.Context, status models.Status) ([]*models.ReplyItem, error) {
	var items []*models.ReplyItem
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateStatusIf transitions a reply item from one status to another with a
// compare-and-set on the current status. Extra fields are applied in the same
// update. Returns false when the item was not in the expected status.
func (r *ReplyItemRepository) UpdateStatusIf(ctx context.Context, id string, from, to models.Status, fields map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now().UTC(),
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.ReplyItem{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CountPostedSince counts replies posted at or after the given instant
func (r *ReplyItemRepository) CountPostedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.ReplyItem{}).
		Where("status = ? AND posted_at >= ?", models.StatusPosted, since).
		Count(&count).Error
	return count, err
}

// QueueStats returns reply item counts grouped by status
func (r *ReplyItemRepository) QueueStats(ctx context.Context) (map[models.Status]int64, error) {
	type row struct {
		Status models.Status
		Count  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.ReplyItem{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	stats := make(map[models.Status]int64, len(rows))
	for _, rw := range rows {
		stats[rw.Status] = rw.Count
	}
	return stats, nil
}

// EngagementRepository provides dedup ledger database operations
type EngagementRepository struct {
	*Repository
}

// NewEngagementRepository creates a new engagement repository
func NewEngagementRepository(repo *Repository) *EngagementRepository {
	return &EngagementRepository{Repository: repo}
}

// HasEngaged reports whether the post has ever been replied to
func (r *EngagementRepository) HasEngaged(ctx context.Context, postID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EngagedPost{}).
		Where("post_id = ?", postID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// AuthorEngagedSince reports whether the author was engaged at or after the
// given instant
func (r *EngagementRepository) AuthorEngagedSince(ctx context.Context, author string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.EngagementRecord{}).
		Where("author_handle = ? AND engaged_at >= ?", author, since).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Record writes both ledger rows for an engagement in one transaction. The
// permanent post marker is keyed on the post id, so recording the same post
// twice is a no-op for both tables.
func (r *EngagementRepository) Record(ctx context.Context, postID, author, sessionID string, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post := models.EngagedPost{PostID: postID, EngagedAt: at}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&post)
		if res.Error != nil {
			return res.Error
		}
		// A replayed record must not add a second cooldown row
		if res.RowsAffected == 0 {
			return nil
		}
		rec := models.EngagementRecord{
			PostID:       postID,
			AuthorHandle: author,
			EngagedAt:    at,
			SessionID:    sessionID,
		}
		return tx.Create(&rec).Error
	})
}

// PurgeExpired deletes engagement records older than the cutoff. Engaged
// post markers are kept forever.
func (r *EngagementRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("engaged_at < ?", before).
		Delete(&models.EngagementRecord{})
	return res.RowsAffected, res.Error
}

// ExampleRepository provides learning corpus database operations
type ExampleRepository struct {
	*Repository
}

// NewExampleRepository creates a new example repository
func NewExampleRepository(repo *Repository) *ExampleRepository {
	return &ExampleRepository{Repository: repo}
}

// Insert adds a reply example to the corpus
func (r *ExampleRepository) Insert(ctx context.Context, ex *models.ReplyExample) error {
	return r.db.WithContext(ctx).Create(ex).Error
}

// SelectForPrompt returns up to limit examples with a validation score of at
// least minScore and an engagement rate of at least minRate, least recently
// used first so prompt material rotates.
func (r *ExampleRepository) SelectForPrompt(ctx context.Context, limit, minScore int, minRate float64) ([]*models.ReplyExample, error) {
	var examples []*models.ReplyExample
	if err := r.db.WithContext(ctx).
		Where("voice_score >= ? AND engagement_rate >= ?", minScore, minRate).
		Order("COALESCE(last_used_at, '1970-01-01 00:00:00') ASC").
		Limit(limit).
		Find(&examples).Error; err != nil {
		return nil, err
	}
	return examples, nil
}

// UpdateEngagement stores the measured engagement rate on the example
// recorded for the given reply item. Returns false when no example exists
// for that item.
func (r *ExampleRepository) UpdateEngagement(ctx context.Context, itemID string, rate float64) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ReplyExample{}).
		Where("item_id = ?", itemID).
		Update("engagement_rate", rate)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// TouchUsed marks examples as used at the given instant
func (r *ExampleRepository) TouchUsed(ctx context.Context, ids []int64, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.ReplyExample{}).
		Where("id IN ?", ids).
		Update("last_used_at", at).Error
}
