package signals

import (
	"strings"

	"github.com/beliefforge/scout/pkg/config"
)

// TierNone is the priority tier of a post with no commercial keyword match
const TierNone = "none"

// CategoryMatch is one matched keyword category
type CategoryMatch struct {
	Category   string
	Multiplier float64
	Keywords   []string
}

// Signal is the commercial-intent readout for one candidate post
type Signal struct {
	// Tier is the name of the highest-multiplier matched category, or
	// TierNone when nothing matched.
	Tier       string
	Multiplier float64
	Matches    []CategoryMatch
	// ProfileIndicators are the commercial markers found in the author's
	// bio or display name. They raise the score but never set the tier.
	ProfileIndicators []string
	// Score is a 0-100 composite of tier strength, keyword density and
	// profile indicators.
	Score float64
}

// Keywords returns every matched keyword across categories
func (s *Signal) Keywords() []string {
	var kws []string
	for _, m := range s.Matches {
		kws = append(kws, m.Keywords...)
	}
	return kws
}

// Detector matches candidate posts against an ordered commercial keyword
// table. It is deterministic and holds no mutable state.
type Detector struct {
	categories  []config.Category
	indicators  []string
	minPriority string
}

// NewDetector creates a detector from the commercial configuration
func NewDetector(cfg *config.CommercialConfig) *Detector {
	return &Detector{
		categories:  cfg.Categories,
		indicators:  cfg.ProfileIndicators,
		minPriority: cfg.MinPriority,
	}
}

// Detect scans the post text and author profile for commercial signals.
// Matching is case-insensitive substring containment. The tier is the
// highest-multiplier matched category; the declaration order of the category
// table breaks multiplier ties.
func (d *Detector) Detect(text, displayName, bio string) *Signal {
	lowered := strings.ToLower(text)

	sig := &Signal{Tier: TierNone}
	keywordCount := 0

	for _, cat := range d.categories {
		var hits []string
		for _, kw := range cat.Keywords {
			if strings.Contains(lowered, strings.ToLower(kw)) {
				hits = append(hits, kw)
			}
		}
		if len(hits) == 0 {
			continue
		}
		sig.Matches = append(sig.Matches, CategoryMatch{
			Category:   cat.Name,
			Multiplier: cat.Multiplier,
			Keywords:   hits,
		})
		keywordCount += len(hits)
		if cat.Multiplier > sig.Multiplier {
			sig.Tier = cat.Name
			sig.Multiplier = cat.Multiplier
		}
	}

	profile := strings.ToLower(displayName + " " + bio)
	for _, ind := range d.indicators {
		if strings.Contains(profile, strings.ToLower(ind)) {
			sig.ProfileIndicators = append(sig.ProfileIndicators, ind)
		}
	}

	if sig.Tier != TierNone {
		sig.Score = compositeScore(sig.Multiplier, keywordCount, len(sig.ProfileIndicators))
	}

	return sig
}

// compositeScore folds tier strength, keyword density and profile indicators
// into a 0-100 value. Keyword and indicator contributions are capped so a
// keyword-stuffed post cannot dominate the tier signal.
func compositeScore(multiplier float64, keywords, indicators int) float64 {
	score := multiplier * 20

	kw := float64(keywords) * 5
	if kw > 20 {
		kw = 20
	}
	score += kw

	ind := float64(indicators) * 3
	if ind > 15 {
		ind = 15
	}
	score += ind

	if score > 100 {
		score = 100
	}
	return score
}

// MeetsMinimum reports whether the signal passes the configured minimum
// priority tier. An empty minimum disables the filter.
func (d *Detector) MeetsMinimum(sig *Signal) bool {
	if d.minPriority == "" {
		return true
	}
	if sig.Tier == TierNone {
		return false
	}
	min := d.multiplierOf(d.minPriority)
	return sig.Multiplier >= min
}

// CompareTiers orders two tier names by their configured multiplier.
// Returns >0 when a outranks b, 0 when equal, <0 when b outranks a.
func (d *Detector) CompareTiers(a, b string) int {
	ma, mb := d.multiplierOf(a), d.multiplierOf(b)
	switch {
	case ma > mb:
		return 1
	case ma < mb:
		return -1
	default:
		return 0
	}
}

func (d *Detector) multiplierOf(tier string) float64 {
	for _, cat := range d.categories {
		if cat.Name == tier {
			return cat.Multiplier
		}
	}
	return 0
}
