package llm

import (
	"sync"
	"time"
)

// UsageStats is a point-in-time readout of completion spend
type UsageStats struct {
	TotalTokens     int     `json:"total_tokens"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	BudgetUSD       float64 `json:"budget_usd"`
	RemainingUSD    float64 `json:"remaining_usd"`
	UsedPercent     float64 `json:"used_percent"`
	RequestCount    int     `json:"request_count"`
	RefusedRequests int     `json:"refused_requests"`
}

type spendEntry struct {
	at   time.Time
	cost float64
}

// budget is a rolling-period spend ledger. Entries age out of the window;
// spend checks run against real recorded costs, not estimates.
type budget struct {
	mu      sync.Mutex
	limit   float64
	period  time.Duration
	entries []spendEntry

	totalTokens int
	totalCost   float64
	requests    int
	refused     int
}

func newBudget(limit float64, period time.Duration) *budget {
	return &budget{limit: limit, period: period}
}

// allow reports whether an estimated cost fits inside the remaining period
// budget. A refusal is counted but records no spend.
func (b *budget) allow(estimate float64, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.spentLocked(now)+estimate > b.limit {
		b.refused++
		return false
	}
	return true
}

// record adds a completed call's real cost to the ledger
func (b *budget) record(cost float64, tokens int, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, spendEntry{at: now, cost: cost})
	b.totalCost += cost
	b.totalTokens += tokens
	b.requests++
}

// spentLocked sums the entries still inside the rolling window, dropping
// the rest. Callers must hold the mutex.
func (b *budget) spentLocked(now time.Time) float64 {
	cutoff := now.Add(-b.period)
	live := b.entries[:0]
	spent := 0.0
	for _, e := range b.entries {
		if e.at.Before(cutoff) {
			continue
		}
		live = append(live, e)
		spent += e.cost
	}
	b.entries = live
	return spent
}

func (b *budget) stats(now time.Time) UsageStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	spent := b.spentLocked(now)
	remaining := b.limit - spent
	if remaining < 0 {
		remaining = 0
	}
	used := 0.0
	if b.limit > 0 {
		used = spent / b.limit * 100
	}
	return UsageStats{
		TotalTokens:     b.totalTokens,
		TotalCostUSD:    b.totalCost,
		BudgetUSD:       b.limit,
		RemainingUSD:    remaining,
		UsedPercent:     used,
		RequestCount:    b.requests,
		RefusedRequests: b.refused,
	}
}

// reset clears the ledger and the accumulators
func (b *budget) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = nil
	b.totalTokens = 0
	b.totalCost = 0
	b.requests = 0
	b.refused = 0
}
