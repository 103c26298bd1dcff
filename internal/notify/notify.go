package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/pkg/logging"
)

// Notifier announces queue events to the approval channel. Delivery is
// best-effort; a failed notification never blocks the pipeline.
type Notifier interface {
	NotifyPending(ctx context.Context, item *models.ReplyItem) error
}

// pendingEvent is the webhook payload for a newly queued reply
type pendingEvent struct {
	Event         string  `json:"event"`
	ID            string  `json:"id"`
	PostAuthor    string  `json:"post_author"`
	PostText      string  `json:"post_text"`
	ReplyText     string  `json:"reply_text"`
	Score         float64 `json:"score"`
	PriorityTier  string  `json:"priority_tier"`
	VoiceScore    int     `json:"voice_score"`
	AutoApproveAt string  `json:"auto_approve_at,omitempty"`
}

// Webhook posts queue events to a configured HTTP endpoint
type Webhook struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a notifier for the given webhook URL. An empty URL yields a
// no-op notifier.
func New(url string) Notifier {
	if url == "" {
		return noop{}
	}
	return &Webhook{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logging.WithComponent("notify"),
	}
}

// NotifyPending posts the queued reply to the approval channel
func (w *Webhook) NotifyPending(ctx context.Context, item *models.ReplyItem) error {
	event := pendingEvent{
		Event:        "reply.pending",
		ID:           item.ID,
		PostAuthor:   item.PostAuthor,
		PostText:     item.PostText,
		ReplyText:    item.ReplyText,
		Score:        item.Score,
		PriorityTier: item.PriorityTier,
		VoiceScore:   item.VoiceScore,
	}
	if item.AutoApproveAt.Valid {
		event.AutoApproveAt = item.AutoApproveAt.Time.UTC().Format(time.RFC3339)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook returned %d", resp.StatusCode)
	}

	w.logger.Debug("Pending notification delivered", zap.String("item_id", item.ID))
	return nil
}

type noop struct{}

func (noop) NotifyPending(ctx context.Context, item *models.ReplyItem) error { return nil }
