package models

import (
	"database/sql"
	"time"
)

// ReplyExample is a posted reply kept as prompt material for future
// generations. Examples are selected by validation score and observed
// engagement and rotated by last use.
type ReplyExample struct {
	ID             int64        `gorm:"primaryKey;autoIncrement;column:id"`
	ItemID         string       `gorm:"type:varchar(36);index;column:item_id"`
	PostText       string       `gorm:"type:text;not null;column:post_text"`
	ReplyText      string       `gorm:"type:text;not null;column:reply_text"`
	VoiceScore     int          `gorm:"not null;column:voice_score"`
	EngagementRate float64      `gorm:"default:0;column:engagement_rate"`
	PostedAt       time.Time    `gorm:"not null;column:posted_at"`
	LastUsedAt     sql.NullTime `gorm:"index;column:last_used_at"`
}

// TableName specifies the table name for ReplyExample
func (ReplyExample) TableName() string {
	return "scout_reply_examples"
}
