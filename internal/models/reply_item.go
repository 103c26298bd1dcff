package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Status is the approval state of a reply item
type Status string

const (
	StatusPending      Status = "pending"
	StatusApproved     Status = "approved"
	StatusRejected     Status = "rejected"
	StatusAutoApproved Status = "auto_approved"
	StatusPosted       Status = "posted"
	StatusPostFailed   Status = "post_failed"
)

// Terminal reports whether no further transition is allowed from s
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusPosted || s == StatusPostFailed
}

// ReplyItem is a generated reply waiting in the approval queue. Score,
// signal and validation results are snapshotted at generation time so the
// queue view does not depend on live recomputation.
type ReplyItem struct {
	ID        string    `gorm:"type:varchar(36);primaryKey;column:id"`
	CreatedAt time.Time `gorm:"not null;column:created_at"`
	UpdatedAt time.Time `gorm:"not null;column:updated_at"`
	SessionID string    `gorm:"type:varchar(36);index;column:session_id"`

	// Candidate snapshot
	PostID       string    `gorm:"type:varchar(64);not null;index;column:post_id"`
	PostAuthor   string    `gorm:"type:varchar(64);not null;column:post_author"`
	PostText     string    `gorm:"type:text;column:post_text"`
	PostCreated  time.Time `gorm:"column:post_created"`

	// Generated reply
	ReplyText    string  `gorm:"type:text;not null;column:reply_text"`
	AttemptCount int     `gorm:"not null;default:1;column:attempt_count"`
	CostUSD      float64 `gorm:"type:decimal(10,6);default:0;column:cost_usd"`

	// Score snapshot
	Score                 float64 `gorm:"not null;column:score"`
	EngagementVelocity    float64 `gorm:"column:engagement_velocity"`
	AuthorAuthority       float64 `gorm:"column:author_authority"`
	Timing                float64 `gorm:"column:timing"`
	DiscussionOpportunity float64 `gorm:"column:discussion_opportunity"`

	// Commercial signal snapshot
	PriorityTier    string  `gorm:"type:varchar(16);not null;index;column:priority_tier"`
	CommercialScore float64 `gorm:"column:commercial_score"`
	MatchedKeywords string  `gorm:"type:text;column:matched_keywords"` // JSON array

	// Validation snapshot
	VoiceScore int    `gorm:"not null;column:voice_score"`
	Violations string `gorm:"type:text;column:violations"` // JSON array
	Warnings   string `gorm:"type:text;column:warnings"`   // JSON array

	// Approval state
	Status          Status       `gorm:"type:varchar(16);not null;index;column:status"`
	AutoApproveAt   sql.NullTime `gorm:"column:auto_approve_at"`
	DecidedAt       sql.NullTime `gorm:"column:decided_at"`
	DecidedBy       string       `gorm:"type:varchar(64);column:decided_by"`
	RejectionReason string       `gorm:"type:text;column:rejection_reason"`
	PostedID        string       `gorm:"type:varchar(64);column:posted_id"`
	PostedAt        sql.NullTime `gorm:"column:posted_at"`
}

// TableName specifies the table name for ReplyItem
func (ReplyItem) TableName() string {
	return "scout_reply_items"
}

// SetKeywords stores the matched keyword list as JSON
func (r *ReplyItem) SetKeywords(kws []string) {
	r.MatchedKeywords = marshalStrings(kws)
}

// Keywords returns the matched keyword list
func (r *ReplyItem) Keywords() []string {
	return unmarshalStrings(r.MatchedKeywords)
}

// SetFindings stores validation violations and warnings as JSON
func (r *ReplyItem) SetFindings(violations, warnings []string) {
	r.Violations = marshalStrings(violations)
	r.Warnings = marshalStrings(warnings)
}

// Findings returns the validation violations and warnings
func (r *ReplyItem) Findings() (violations, warnings []string) {
	return unmarshalStrings(r.Violations), unmarshalStrings(r.Warnings)
}

func marshalStrings(ss []string) string {
	if len(ss) == 0 {
		return "[]"
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil
	}
	return out
}
