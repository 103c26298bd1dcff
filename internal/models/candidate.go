package models

import (
	"time"
)

// CandidatePost is a discovered post under consideration for a reply. It is
// an in-memory value handed between pipeline stages, not a persisted row.
type CandidatePost struct {
	ID          string
	Text        string
	CreatedAt   time.Time
	Source      string // discovery source tag, e.g. search query or list name
	Likes       int
	Replies     int
	Reposts     int
	Impressions int

	Author Author
}

// Author holds the candidate author's public profile fields
type Author struct {
	Handle      string
	DisplayName string
	Bio         string
	Followers   int
	CreatedAt   time.Time
	Verified    bool
}

// EngagementTotal returns the combined interaction count used by the
// engagement velocity curve.
func (p *CandidatePost) EngagementTotal() int {
	return p.Likes + p.Replies + p.Reposts
}

// AgeAt returns how long the post had been up at the given instant
func (p *CandidatePost) AgeAt(now time.Time) time.Duration {
	return now.Sub(p.CreatedAt)
}
