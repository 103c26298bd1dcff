package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/pkg/logging"
)

// ErrNotConfigured is returned when no publish endpoint is set
var ErrNotConfigured = errors.New("no publish endpoint configured")

// Publisher posts an approved reply to the platform and returns the
// platform id of the created post.
type Publisher interface {
	Publish(ctx context.Context, postID, text string) (string, error)
}

// Error is a failed publish attempt
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	return fmt.Sprintf("publish endpoint returned %d: %s", e.StatusCode, e.Body)
}

// HTTPPublisher posts replies through an HTTP posting service
type HTTPPublisher struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a publisher for the given endpoint URL
func New(url string) *HTTPPublisher {
	return &HTTPPublisher{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.WithComponent("publish"),
	}
}

type publishRequest struct {
	InReplyTo string `json:"in_reply_to"`
	Text      string `json:"text"`
}

type publishResponse struct {
	ID string `json:"id"`
}

// Publish posts the reply. The returned id identifies the created reply on
// the platform.
func (p *HTTPPublisher) Publish(ctx context.Context, postID, text string) (string, error) {
	if p.url == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(publishRequest{InReplyTo: postID, Text: text})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return "", &Error{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("publish response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("publish response missing id")
	}

	p.logger.Info("Reply published",
		zap.String("in_reply_to", postID),
		zap.String("posted_id", out.ID))

	return out.ID, nil
}
