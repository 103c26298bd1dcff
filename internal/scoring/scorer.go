package scoring

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
	"go.uber.org/zap"
)

// Breakdown is the full scoring readout for one candidate. Sub-scores are
// each 0-100; Total is their weighted sum and stays within 0-100 because the
// weights sum to 1.
type Breakdown struct {
	EngagementVelocity    float64
	AuthorAuthority       float64
	Timing                float64
	DiscussionOpportunity float64
	Total                 float64
	MeetsThreshold        bool
	Reasoning             string
}

// Scored pairs a candidate with its signal and score for ranking
type Scored struct {
	Post      *models.CandidatePost
	Signal    *signals.Signal
	Breakdown *Breakdown
}

// Scorer computes engagement opportunity scores for candidate posts
type Scorer struct {
	cfg *config.ScoringConfig
	loc *time.Location
}

// NewScorer creates a scorer. An unknown timezone falls back to UTC.
func NewScorer(cfg *config.ScoringConfig) *Scorer {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logging.WithComponent("scorer").Warn("Unknown timezone, using UTC",
			zap.String("timezone", cfg.Timezone))
		loc = time.UTC
	}
	return &Scorer{cfg: cfg, loc: loc}
}

// Score computes the weighted breakdown for a candidate at the given instant
func (s *Scorer) Score(post *models.CandidatePost, now time.Time) *Breakdown {
	velocity := s.scoreEngagementVelocity(post, now)
	authority := s.scoreAuthorAuthority(post, now)
	timing := s.scoreTiming(post, now)
	discussion := s.scoreDiscussionOpportunity(post)

	total := velocity*s.cfg.Weights.EngagementVelocity +
		authority*s.cfg.Weights.AuthorAuthority +
		timing*s.cfg.Weights.Timing +
		discussion*s.cfg.Weights.DiscussionOpportunity

	if total > 100 {
		total = 100
	}
	if total < 0 {
		total = 0
	}

	b := &Breakdown{
		EngagementVelocity:    velocity,
		AuthorAuthority:       authority,
		Timing:                timing,
		DiscussionOpportunity: discussion,
		Total:                 total,
		MeetsThreshold:        total >= s.cfg.MinScore,
	}
	b.Reasoning = s.reasoning(b)
	return b
}

// scoreEngagementVelocity rates how fast the post is accumulating
// interaction: like/impression ratio (or total interactions when impressions
// are missing), reply rate relative to likes, and a freshness bucket.
func (s *Scorer) scoreEngagementVelocity(post *models.CandidatePost, now time.Time) float64 {
	score := 0.0

	// Like/impression ratio, 0-40 points
	if post.Impressions > 0 {
		rate := float64(post.Likes) / float64(post.Impressions)
		score += math.Min(rate*1000, 40)
	} else if total := post.EngagementTotal(); total > 0 {
		score += math.Min(math.Log10(float64(total)+1)*15, 40)
	}

	// Reply rate, 0-30 points
	if post.Likes > 0 {
		replyRate := float64(post.Replies) / float64(post.Likes)
		score += math.Min(replyRate*100, 30)
	}

	// Freshness, 0-30 points. Velocity peaks in the early part of the
	// golden window.
	ageHours := post.AgeAt(now).Hours()
	lo, hi := s.cfg.GoldenWindowMin, s.cfg.GoldenWindowMax
	peak := lo + (hi-lo)*0.4
	switch {
	case ageHours >= lo && ageHours <= peak:
		score += 30
	case ageHours > peak && ageHours <= hi:
		score += 20
	case ageHours < lo:
		score += 10
	default:
		score += 5
	}

	return math.Min(score, 100)
}

// scoreAuthorAuthority rates the author: log-scale follower count,
// verification, account maturity.
func (s *Scorer) scoreAuthorAuthority(post *models.CandidatePost, now time.Time) float64 {
	score := 0.0

	// Followers, 0-60 points. 500 followers is roughly 27, 50k roughly 47.
	if post.Author.Followers > 0 {
		score += math.Min(math.Log10(float64(post.Author.Followers)+1)*10, 60)
	}

	if post.Author.Verified {
		score += 20
	}

	// Account maturity, 0-20 points
	if !post.Author.CreatedAt.IsZero() {
		ageDays := now.Sub(post.Author.CreatedAt).Hours() / 24
		switch {
		case ageDays > 730:
			score += 20
		case ageDays > 365:
			score += 15
		case ageDays > 180:
			score += 10
		case ageDays > 90:
			score += 5
		}
	}

	return math.Min(score, 100)
}

// scoreTiming rates the reply window: the configured golden window, local
// active-hours alignment and a weekday bonus.
func (s *Scorer) scoreTiming(post *models.CandidatePost, now time.Time) float64 {
	score := 0.0

	// Post age, 0-60 points. The golden window splits into thirds, best
	// first.
	ageHours := post.AgeAt(now).Hours()
	lo, hi := s.cfg.GoldenWindowMin, s.cfg.GoldenWindowMax
	third := (hi - lo) / 3
	switch {
	case ageHours >= lo && ageHours <= lo+third:
		score += 60
	case ageHours > lo+third && ageHours <= hi-third:
		score += 50
	case ageHours > hi-third && ageHours <= hi:
		score += 40
	case ageHours < lo:
		score += 20
	default:
		score += 10
	}

	if post.CreatedAt.IsZero() {
		return math.Min(score+15, 100)
	}

	// Local active hours, 0-30 points
	hour := post.CreatedAt.In(s.loc).Hour()
	if hour >= s.cfg.ActiveHoursStart && hour < s.cfg.ActiveHoursEnd {
		switch {
		case hour >= 9 && hour < 17:
			score += 30
		case (hour >= 7 && hour < 9) || (hour >= 17 && hour < 21):
			score += 25
		default:
			score += 20
		}
	} else {
		score += 5
	}

	// Weekday bonus, 0-10 points
	switch post.CreatedAt.In(s.loc).Weekday() {
	case time.Saturday, time.Sunday:
		score += 5
	default:
		score += 10
	}

	return math.Min(score, 100)
}

// scoreDiscussionOpportunity rates how inviting the post is to reply to:
// questions, target hashtags, substantive length and a reply-count sweet
// spot.
func (s *Scorer) scoreDiscussionOpportunity(post *models.CandidatePost) float64 {
	score := 0.0

	// Questions, 0-30 points
	if q := strings.Count(post.Text, "?"); q > 0 {
		score += math.Min(float64(q)*15, 30)
	}

	// Target hashtags, 0-20 points
	lowered := strings.ToLower(post.Text)
	matches := 0
	for _, tag := range s.cfg.Hashtags {
		if strings.Contains(lowered, strings.ToLower(tag)) {
			matches++
		}
	}
	score += math.Min(float64(matches)*10, 20)

	// Substantive length, 0-25 points
	switch n := len(post.Text); {
	case n >= 100 && n <= 280:
		score += 25
	case n >= 50 && n < 100:
		score += 15
	default:
		score += 5
	}

	// Reply count sweet spot, 0-25 points. A handful of replies means a
	// conversation has started but is not yet crowded.
	switch {
	case post.Replies >= 3 && post.Replies <= 10:
		score += 25
	case post.Replies > 10 && post.Replies <= 20:
		score += 20
	case post.Replies < 3:
		score += 10
	default:
		score += 5
	}

	return math.Min(score, 100)
}

// InActiveHours reports whether the given instant falls inside the
// configured local active window.
func (s *Scorer) InActiveHours(now time.Time) bool {
	hour := now.In(s.loc).Hour()
	return hour >= s.cfg.ActiveHoursStart && hour < s.cfg.ActiveHoursEnd
}

// TooOld reports whether the post is past the maximum considered age
func (s *Scorer) TooOld(post *models.CandidatePost, now time.Time) bool {
	return post.AgeAt(now).Hours() > s.cfg.MaxAgeHours
}

// Rank sorts scored candidates in place: priority tier first (by
// multiplier), then total score descending.
func Rank(scored []Scored) {
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Signal.Multiplier != scored[j].Signal.Multiplier {
			return scored[i].Signal.Multiplier > scored[j].Signal.Multiplier
		}
		return scored[i].Breakdown.Total > scored[j].Breakdown.Total
	})
}

func (s *Scorer) reasoning(b *Breakdown) string {
	var reasons []string

	if b.MeetsThreshold {
		reasons = append(reasons, fmt.Sprintf("score %.1f meets threshold %.0f", b.Total, s.cfg.MinScore))
	} else {
		reasons = append(reasons, fmt.Sprintf("score %.1f below threshold %.0f", b.Total, s.cfg.MinScore))
	}

	switch {
	case b.EngagementVelocity >= 70:
		reasons = append(reasons, "high engagement velocity")
	case b.EngagementVelocity >= 50:
		reasons = append(reasons, "moderate engagement velocity")
	default:
		reasons = append(reasons, "low engagement velocity")
	}

	switch {
	case b.AuthorAuthority >= 70:
		reasons = append(reasons, "authoritative author")
	case b.AuthorAuthority >= 50:
		reasons = append(reasons, "established author")
	default:
		reasons = append(reasons, "emerging author")
	}

	switch {
	case b.Timing >= 70:
		reasons = append(reasons, "optimal timing window")
	case b.Timing >= 50:
		reasons = append(reasons, "acceptable timing")
	default:
		reasons = append(reasons, "suboptimal timing")
	}

	if b.DiscussionOpportunity >= 70 {
		reasons = append(reasons, "strong discussion opportunity")
	} else if b.DiscussionOpportunity >= 50 {
		reasons = append(reasons, "moderate discussion potential")
	}

	return strings.Join(reasons, "; ")
}
