package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/internal/dedup"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/internal/signals"
	"github.com/beliefforge/scout/internal/voice"
	"github.com/beliefforge/scout/pkg/config"
)

type fakeNotifier struct {
	mu    sync.Mutex
	items []string
}

func (f *fakeNotifier) NotifyPending(ctx context.Context, item *models.ReplyItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, item.ID)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	err    error
	posted []string
	nextID int
}

func (f *fakePublisher) Publish(ctx context.Context, postID, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.nextID++
	f.posted = append(f.posted, postID)
	return fmt.Sprintf("np-%d", f.nextID), nil
}

type fixture struct {
	svc       *Service
	gdb       *gorm.DB
	notifier  *fakeNotifier
	publisher *fakePublisher
	ledger    *dedup.Ledger
}

func newFixture(t *testing.T, mutate func(*config.ApprovalConfig)) *fixture {
	return newVoiceFixture(t, mutate, nil)
}

func newVoiceFixture(t *testing.T, mutate func(*config.ApprovalConfig), vmutate func(*config.VoiceConfig)) *fixture {
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

	cfg := &config.ApprovalConfig{
		AutoApproveBelow: "high",
		GraceWindow:      time.Hour,
		MaxPostsPerHour:  5,
		MaxPostsPerDay:   20,
	}
	if mutate != nil {
		mutate(cfg)
	}

	detector := signals.NewDetector(&config.CommercialConfig{
		Categories: config.DefaultCategories(),
	})
	vcfg := &config.VoiceConfig{
		PreferredMax: 100,
		AbsoluteMax:  280,
		Dialect:      "british",
		MaxEmoji:     1,
		MaxHashtags:  1,
		StrictMode:   true,
	}
	if vmutate != nil {
		vmutate(vcfg)
	}
	validator := voice.NewValidator(vcfg)

	notifier := &fakeNotifier{}
	publisher := &fakePublisher{}

	svc := NewService(
		db.NewReplyItemRepository(repo),
		ledger,
		db.NewExampleRepository(repo),
		notifier,
		publisher,
		nil,
		detector,
		validator,
		cfg,
	)

	return &fixture{svc: svc, gdb: gdb, notifier: notifier, publisher: publisher, ledger: ledger}
}

func newItem(tier string) *models.ReplyItem {
	return &models.ReplyItem{
		PostID:       "post-" + tier,
		PostAuthor:   "maker",
		PostText:     "struggling with my launch",
		ReplyText:    "That sounds quite hard. What part feels heaviest right now?",
		Score:        72,
		PriorityTier: tier,
		VoiceScore:   100,
		SessionID:    "sess-1",
	}
}

func (f *fixture) status(t *testing.T, id string) models.Status {
	t.Helper()
	item, err := f.svc.items.GetByID(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("load item %s: %v", id, err)
	}
	return item.Status
}

func TestService_SubmitDeadlines(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	low := newItem("low")
	if err := f.svc.Submit(ctx, low); err != nil {
		t.Fatal(err)
	}
	if !low.AutoApproveAt.Valid {
		t.Error("low tier item should carry an auto-approval deadline")
	}
	f.svc.cancelTimer(low.ID)

	critical := newItem("critical")
	if err := f.svc.Submit(ctx, critical); err != nil {
		t.Fatal(err)
	}
	if critical.AutoApproveAt.Valid {
		t.Error("critical tier item must wait for manual review")
	}

	if len(f.notifier.items) != 2 {
		t.Errorf("notifications = %d, want 2", len(f.notifier.items))
	}
}

func TestService_ApproveThenPost(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if err := f.svc.Post(ctx, item.ID); err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	got, _ := f.svc.items.GetByID(ctx, item.ID)
	if got.Status != models.StatusPosted {
		t.Errorf("status = %s, want posted", got.Status)
	}
	if got.PostedID == "" || !got.PostedAt.Valid {
		t.Errorf("posted fields missing: id=%q at=%v", got.PostedID, got.PostedAt)
	}

	// Publish must be recorded in the ledger
	ok, reason := f.ledger.Eligible(ctx, item.PostID, item.PostAuthor, time.Now())
	if ok {
		t.Error("posted item should be in the engagement ledger")
	} else if reason != dedup.ReasonAlreadyEngaged {
		t.Errorf("reason = %q, want %q", reason, dedup.ReasonAlreadyEngaged)
	}

	// And land in the learning corpus
	var examples int64
	f.gdb.Model(&models.ReplyExample{}).Count(&examples)
	if examples != 1 {
		t.Errorf("corpus examples = %d, want 1", examples)
	}
}

func TestService_InvalidTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Approve(ctx, item.ID, "jo"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("double approve error = %v, want ErrInvalidTransition", err)
	}
	if err := f.svc.Reject(ctx, item.ID, "sam", "changed my mind"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("reject after approve error = %v, want ErrInvalidTransition", err)
	}
	if err := f.svc.Approve(ctx, "no-such-id", "jo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestService_ConcurrentDecisionsSingleWinner(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		results[0] = f.svc.Approve(ctx, item.ID, "jo")
	}()
	go func() {
		defer wg.Done()
		results[1] = f.svc.Reject(ctx, item.ID, "sam", "not right")
	}()
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}

	status := f.status(t, item.ID)
	if status != models.StatusApproved && status != models.StatusRejected {
		t.Errorf("status = %s, want a single decided state", status)
	}
}

func TestService_CancelLeavesPending(t *testing.T) {
	f := newFixture(t, func(cfg *config.ApprovalConfig) {
		cfg.GraceWindow = 100 * time.Millisecond
	})
	ctx := context.Background()

	item := newItem("low")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.CancelAutoApproval(ctx, item.ID); err != nil {
		t.Fatalf("CancelAutoApproval() error = %v", err)
	}

	// Well past the grace window the item must still be pending
	time.Sleep(300 * time.Millisecond)
	if got := f.status(t, item.ID); got != models.StatusPending {
		t.Errorf("status = %s, want pending after cancel", got)
	}

	got, _ := f.svc.items.GetByID(ctx, item.ID)
	if got.AutoApproveAt.Valid {
		t.Error("deadline should be cleared after cancel")
	}

	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Errorf("late approval after cancel should work, got %v", err)
	}
}

func TestService_AutoApproveFires(t *testing.T) {
	f := newFixture(t, func(cfg *config.ApprovalConfig) {
		cfg.GraceWindow = 20 * time.Millisecond
	})
	ctx := context.Background()

	item := newItem("low")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		status := f.status(t, item.ID)
		if status == models.StatusPosted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %s, want posted after auto-approval", status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if len(f.publisher.posted) != 1 {
		t.Errorf("published = %v, want one post", f.publisher.posted)
	}
}

func TestService_EditRevalidates(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}

	// Warning-free edit keeps the item pending with the new snapshot
	if err := f.svc.Edit(ctx, item.ID, "Perhaps start smaller. What would one tiny win look like?", "jo"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	got, _ := f.svc.items.GetByID(ctx, item.ID)
	if got.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", got.Status)
	}
	if !strings.Contains(got.ReplyText, "tiny win") {
		t.Errorf("reply text not updated: %q", got.ReplyText)
	}

	// An edit with strict violations is rejected outright
	if err := f.svc.Edit(ctx, item.ID, "Amazing! Buy now!", "jo"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	got, _ = f.svc.items.GetByID(ctx, item.ID)
	if got.Status != models.StatusRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}
	if !strings.Contains(got.RejectionReason, "failed validation") {
		t.Errorf("rejection reason = %q", got.RejectionReason)
	}
}

func TestService_EditLenientKeepsPending(t *testing.T) {
	f := newVoiceFixture(t, nil, func(cfg *config.VoiceConfig) {
		cfg.StrictMode = false
	})
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}

	// Outside strict mode a violating edit stays pending for another look
	if err := f.svc.Edit(ctx, item.ID, "I realize this is hard", "jo"); err != nil {
		t.Fatalf("Edit() error = %v", err)
	}

	got, _ := f.svc.items.GetByID(ctx, item.ID)
	if got.Status != models.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.ReplyText != "I realize this is hard" {
		t.Errorf("reply text not updated: %q", got.ReplyText)
	}
	violations, _ := got.Findings()
	if len(violations) == 0 {
		t.Error("violation snapshot should carry the spelling hit")
	}
	if got.VoiceScore != 85 {
		t.Errorf("voice score = %d, want 85", got.VoiceScore)
	}
}

func TestService_EngagementFeedsCorpus(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Fatal(err)
	}

	// Engagement can only be measured on a posted reply
	if err := f.svc.RecordEngagement(ctx, item.ID, 0.05); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("engagement before posting error = %v, want ErrInvalidTransition", err)
	}

	if err := f.svc.Post(ctx, item.ID); err != nil {
		t.Fatal(err)
	}

	examples := db.NewExampleRepository(db.NewRepository(f.gdb))

	// Freshly posted replies have no measured engagement yet and stay out
	// of the prompt material
	got, err := examples.SelectForPrompt(ctx, 5, 80, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("unmeasured examples selected = %d, want 0", len(got))
	}

	if err := f.svc.RecordEngagement(ctx, item.ID, 0.05); err != nil {
		t.Fatalf("RecordEngagement() error = %v", err)
	}
	got, err = examples.SelectForPrompt(ctx, 5, 80, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].EngagementRate != 0.05 {
		t.Fatalf("measured examples = %+v, want one at rate 0.05", got)
	}
	if got[0].ItemID != item.ID {
		t.Errorf("example item id = %q, want %q", got[0].ItemID, item.ID)
	}

	// A re-measure below the floor drops it back out
	if err := f.svc.RecordEngagement(ctx, item.ID, 0.001); err != nil {
		t.Fatal(err)
	}
	got, err = examples.SelectForPrompt(ctx, 5, 80, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("below-floor examples selected = %d, want 0", len(got))
	}

	if err := f.svc.RecordEngagement(ctx, "no-such-id", 0.05); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id error = %v, want ErrNotFound", err)
	}
}

func TestService_PostingLimits(t *testing.T) {
	f := newFixture(t, func(cfg *config.ApprovalConfig) {
		cfg.MaxPostsPerHour = 1
		cfg.MaxPostsPerDay = 1
	})
	ctx := context.Background()

	first := newItem("critical")
	first.PostID = "post-a"
	second := newItem("critical")
	second.PostID = "post-b"
	second.PostAuthor = "other"

	for _, item := range []*models.ReplyItem{first, second} {
		if err := f.svc.Submit(ctx, item); err != nil {
			t.Fatal(err)
		}
		if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
			t.Fatal(err)
		}
	}

	if err := f.svc.Post(ctx, first.ID); err != nil {
		t.Fatalf("first Post() error = %v", err)
	}
	if err := f.svc.Post(ctx, second.ID); !errors.Is(err, ErrRateLimited) {
		t.Errorf("second Post() error = %v, want ErrRateLimited", err)
	}
	if got := f.status(t, second.ID); got != models.StatusApproved {
		t.Errorf("rate-limited item status = %s, want still approved", got)
	}
}

func TestService_PostFailureIsTerminal(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Fatal(err)
	}

	f.publisher.err = errors.New("platform down")
	if err := f.svc.Post(ctx, item.ID); err == nil {
		t.Fatal("expected publish error")
	}
	if got := f.status(t, item.ID); got != models.StatusPostFailed {
		t.Errorf("status = %s, want post_failed", got)
	}

	// No silent retry: the failed item cannot be posted again
	f.publisher.err = nil
	if err := f.svc.Post(ctx, item.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("retry error = %v, want ErrInvalidTransition", err)
	}
}

func TestService_FinalLedgerCheck(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	item := newItem("critical")
	if err := f.svc.Submit(ctx, item); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
		t.Fatal(err)
	}

	// Another session engaged the same post between approval and posting
	if err := f.ledger.Record(ctx, item.PostID, item.PostAuthor, "sess-other", time.Now()); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Post(ctx, item.ID); err == nil {
		t.Fatal("expected ledger refusal")
	}
	if got := f.status(t, item.ID); got != models.StatusPostFailed {
		t.Errorf("status = %s, want post_failed", got)
	}
	if len(f.publisher.posted) != 0 {
		t.Errorf("published = %v, want none", f.publisher.posted)
	}
}

func TestService_PostApprovedSweep(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		item := newItem("critical")
		item.PostID = fmt.Sprintf("post-%d", i)
		item.PostAuthor = fmt.Sprintf("author-%d", i)
		if err := f.svc.Submit(ctx, item); err != nil {
			t.Fatal(err)
		}
		if err := f.svc.Approve(ctx, item.ID, "jo"); err != nil {
			t.Fatal(err)
		}
	}

	posted, err := f.svc.PostApproved(ctx)
	if err != nil {
		t.Fatalf("PostApproved() error = %v", err)
	}
	if posted != 3 {
		t.Errorf("posted = %d, want 3", posted)
	}
}
