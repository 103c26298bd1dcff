package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beliefforge/scout/internal/approval"
	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/internal/dedup"
	"github.com/beliefforge/scout/internal/generator"
	"github.com/beliefforge/scout/internal/llm"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/scoring"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/internal/voice"
	"github.com/beliefforge/scout/pkg/config"
)

// Wednesday afternoon, well inside the active window
var passNow = time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)

type fakeSource struct {
	posts []*models.CandidatePost
	calls int
}

func (f *fakeSource) Discover(ctx context.Context) ([]*models.CandidatePost, error) {
	f.calls++
	return f.posts, nil
}

type fakeClient struct {
	mu      sync.Mutex
	content string
	err     error
	calls   int
}

func (f *fakeClient) Complete(ctx context.Context, messages []llm.Message) (*llm.Completion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Content: f.content, CostUSD: 0.002}, nil
}

type fakePublisher struct {
	posted []string
}

func (f *fakePublisher) Publish(ctx context.Context, postID, text string) (string, error) {
	f.posted = append(f.posted, postID)
	return fmt.Sprintf("np-%d", len(f.posted)), nil
}

type noopNotifier struct{}

func (noopNotifier) NotifyPending(ctx context.Context, item *models.ReplyItem) error { return nil }

type fixture struct {
	pipeline  *Pipeline
	svc       *approval.Service
	source    *fakeSource
	client    *fakeClient
	publisher *fakePublisher
	gdb       *gorm.DB
}

func newFixture(t *testing.T, mutate func(*config.PipelineConfig)) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gdb.AutoMigrate(
		&models.ReplyItem{}, &models.EngagedPost{},
		&models.EngagementRecord{}, &models.ReplyExample{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	repo := db.NewRepository(gdb)
	ledger := dedup.NewLedger(db.NewEngagementRepository(repo), &config.DedupConfig{
		AuthorCooldown: 48 * time.Hour,
		Retention:      7 * 24 * time.Hour,
	})

	detector := signals.NewDetector(&config.CommercialConfig{
		Categories:  config.DefaultCategories(),
		MinPriority: "low",
	})
	validator := voice.NewValidator(&config.VoiceConfig{
		PreferredMax: 100,
		AbsoluteMax:  280,
		Dialect:      "british",
		MaxEmoji:     1,
		MaxHashtags:  1,
		StrictMode:   true,
	})
	scorer := scoring.NewScorer(&config.ScoringConfig{
		Weights: config.Weights{
			EngagementVelocity:    0.4,
			AuthorAuthority:       0.3,
			Timing:                0.2,
			DiscussionOpportunity: 0.1,
		},
		MinScore:         60,
		GoldenWindowMin:  2,
		GoldenWindowMax:  12,
		MaxAgeHours:      48,
		ActiveHoursStart: 7,
		ActiveHoursEnd:   24,
		Timezone:         "UTC",
		Hashtags:         []string{"#buildinpublic"},
	})

	pipeCfg := &config.PipelineConfig{
		Interval:          time.Minute,
		MaxRepliesPerPass: 5,
		GenerateAttempts:  3,
		LearningExamples:  0,
	}
	if mutate != nil {
		mutate(pipeCfg)
	}

	client := &fakeClient{content: "That sounds quite hard. What part of it feels heaviest right now?"}
	gen := generator.New(client, validator, db.NewExampleRepository(repo), pipeCfg, &config.VoiceConfig{
		PreferredMax: 100,
		AbsoluteMax:  280,
		Dialect:      "british",
	})

	publisher := &fakePublisher{}
	svc := approval.NewService(
		db.NewReplyItemRepository(repo),
		ledger,
		db.NewExampleRepository(repo),
		noopNotifier{},
		publisher,
		nil,
		detector,
		validator,
		&config.ApprovalConfig{
			GraceWindow:     time.Hour,
			MaxPostsPerHour: 5,
			MaxPostsPerDay:  20,
		},
	)

	source := &fakeSource{}
	p := New(source, detector, scorer, gen, ledger, svc, pipeCfg)
	p.now = func() time.Time { return passNow }

	return &fixture{pipeline: p, svc: svc, source: source, client: client, publisher: publisher, gdb: gdb}
}

// strongPost builds a candidate that clears the score threshold: fresh,
// engaged, authoritative author, question in the text.
func strongPost(id, handle, text string) *models.CandidatePost {
	return &models.CandidatePost{
		ID:          id,
		Text:        text,
		CreatedAt:   passNow.Add(-3 * time.Hour),
		Likes:       500,
		Replies:     20,
		Impressions: 10000,
		Author: models.Author{
			Handle:    handle,
			Followers: 50000,
			Verified:  true,
			CreatedAt: passNow.AddDate(-3, 0, 0),
		},
	}
}

const criticalText = "Been fighting imposter syndrome all week. Every time I sit down to write about my product I freeze. How do people push through this?"

const lowText = "Just launched my side project after six months of evenings. The first customer felt unreal. What should I focus on next to keep momentum?"

func TestPipeline_EndToEndPass(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.source.posts = []*models.CandidatePost{
		strongPost("p1", "maker", criticalText),
		strongPost("p2", "quiet", "Lovely weather for a walk along the canal today, highly recommend it."),
	}

	stats, err := f.pipeline.RunPass(ctx)
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if stats.Discovered != 2 {
		t.Errorf("discovered = %d, want 2", stats.Discovered)
	}
	if stats.NoSignal != 1 {
		t.Errorf("no_signal = %d, want 1", stats.NoSignal)
	}
	if stats.Queued != 1 {
		t.Errorf("queued = %d, want 1", stats.Queued)
	}
	if stats.Posted != 0 {
		t.Errorf("posted = %d, want 0 while pending", stats.Posted)
	}
	if stats.CostUSD <= 0 {
		t.Error("pass should account for generation spend")
	}

	var items []*models.ReplyItem
	if err := f.gdb.Find(&items).Error; err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("queued items = %d, want 1", len(items))
	}
	item := items[0]
	if item.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", item.Status)
	}
	if item.PriorityTier != "critical" {
		t.Errorf("tier = %s, want critical", item.PriorityTier)
	}
	if item.Score < 60 {
		t.Errorf("score = %.1f, want >= threshold", item.Score)
	}
	if len(item.Keywords()) == 0 {
		t.Error("matched keywords missing from snapshot")
	}
	if item.SessionID != stats.SessionID {
		t.Errorf("session id = %s, want %s", item.SessionID, stats.SessionID)
	}

	// A human approves; the next pass sweeps it out
	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Fatal(err)
	}
	f.source.posts = nil
	stats, err = f.pipeline.RunPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Posted != 1 {
		t.Errorf("posted = %d, want 1", stats.Posted)
	}
	if len(f.publisher.posted) != 1 || f.publisher.posted[0] != "p1" {
		t.Errorf("published = %v, want [p1]", f.publisher.posted)
	}

	// Rediscovering the same post is blocked by the ledger
	f.source.posts = []*models.CandidatePost{strongPost("p1", "maker", criticalText)}
	stats, err = f.pipeline.RunPass(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.LedgerSkipped != 1 {
		t.Errorf("ledger_skipped = %d, want 1", stats.LedgerSkipped)
	}
	if stats.Queued != 0 {
		t.Errorf("queued = %d, want 0", stats.Queued)
	}
}

func TestPipeline_SkipsOutsideActiveHours(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.now = func() time.Time {
		return time.Date(2025, 3, 12, 3, 0, 0, 0, time.UTC)
	}
	f.source.posts = []*models.CandidatePost{strongPost("p1", "maker", criticalText)}

	stats, err := f.pipeline.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if !stats.InactiveHours {
		t.Error("expected inactive-hours skip")
	}
	if f.source.calls != 0 {
		t.Errorf("source calls = %d, want 0 outside active hours", f.source.calls)
	}
}

func TestPipeline_PerPassCap(t *testing.T) {
	f := newFixture(t, func(cfg *config.PipelineConfig) {
		cfg.MaxRepliesPerPass = 2
	})

	var posts []*models.CandidatePost
	for i := 0; i < 6; i++ {
		posts = append(posts, strongPost(
			fmt.Sprintf("p%d", i), fmt.Sprintf("author-%d", i), criticalText))
	}
	f.source.posts = posts

	stats, err := f.pipeline.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if stats.Queued != 2 {
		t.Errorf("queued = %d, want the per-pass cap of 2", stats.Queued)
	}
	if f.client.calls != 2 {
		t.Errorf("llm calls = %d, want 2", f.client.calls)
	}
}

func TestPipeline_PriorityOrderWins(t *testing.T) {
	f := newFixture(t, func(cfg *config.PipelineConfig) {
		cfg.MaxRepliesPerPass = 1
	})

	// Low tier discovered first; the critical candidate must still win the
	// single slot.
	f.source.posts = []*models.CandidatePost{
		strongPost("p-low", "alice", lowText),
		strongPost("p-critical", "bob", criticalText),
	}

	stats, err := f.pipeline.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if stats.Queued != 1 {
		t.Fatalf("queued = %d, want 1", stats.Queued)
	}

	var items []*models.ReplyItem
	if err := f.gdb.Find(&items).Error; err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].PostID != "p-critical" {
		t.Errorf("queued post = %v, want p-critical", items)
	}
}

func TestPipeline_BudgetHaltsPass(t *testing.T) {
	f := newFixture(t, nil)
	f.client.err = fmt.Errorf("completion refused: %w", llm.ErrBudgetExceeded)

	f.source.posts = []*models.CandidatePost{
		strongPost("p1", "alice", criticalText),
		strongPost("p2", "bob", criticalText),
	}

	stats, err := f.pipeline.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if !stats.BudgetHalted {
		t.Error("expected budget halt")
	}
	if stats.Queued != 0 {
		t.Errorf("queued = %d, want 0", stats.Queued)
	}
	if f.client.calls != 1 {
		t.Errorf("llm calls = %d, want 1 (no retry against an exhausted budget)", f.client.calls)
	}
}

func TestPipeline_CountsFilters(t *testing.T) {
	f := newFixture(t, nil)

	stale := strongPost("p-old", "carol", criticalText)
	stale.CreatedAt = passNow.Add(-72 * time.Hour)

	weak := &models.CandidatePost{
		ID:        "p-weak",
		Text:      "imposter syndrome",
		CreatedAt: passNow.Add(-40 * time.Hour),
		Author:    models.Author{Handle: "dave"},
	}

	good := strongPost("p-good", "erin", criticalText)

	f.source.posts = []*models.CandidatePost{good, good, stale, weak}

	stats, err := f.pipeline.RunPass(context.Background())
	if err != nil {
		t.Fatalf("RunPass() error = %v", err)
	}
	if stats.Duplicates != 1 {
		t.Errorf("duplicates = %d, want 1", stats.Duplicates)
	}
	if stats.TooOld != 1 {
		t.Errorf("too_old = %d, want 1", stats.TooOld)
	}
	if stats.BelowThreshold != 1 {
		t.Errorf("below_threshold = %d, want 1", stats.BelowThreshold)
	}
	if stats.Queued != 1 {
		t.Errorf("queued = %d, want 1", stats.Queued)
	}
}
