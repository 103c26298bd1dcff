package models

import (
	"time"
)

// EngagedPost marks a post the bot has already replied to. Rows are never
// purged; the primary key makes the never-twice check a single index lookup.
type EngagedPost struct {
	PostID    string    `gorm:"type:varchar(64);primaryKey;column:post_id"`
	EngagedAt time.Time `gorm:"not null;column:engaged_at"`
}

// TableName specifies the table name for EngagedPost
func (EngagedPost) TableName() string {
	return "scout_engaged_posts"
}

// EngagementRecord is the per-author engagement history used for the author
// cooldown window. Unlike EngagedPost, these rows expire after the retention
// period.
type EngagementRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement;column:id"`
	PostID       string    `gorm:"type:varchar(64);not null;column:post_id"`
	AuthorHandle string    `gorm:"type:varchar(64);not null;index;column:author_handle"`
	EngagedAt    time.Time `gorm:"not null;index;column:engaged_at"`
	SessionID    string    `gorm:"type:varchar(36);column:session_id"`
}

// TableName specifies the table name for EngagementRecord
func (EngagementRecord) TableName() string {
	return "scout_engagement_records"
}
