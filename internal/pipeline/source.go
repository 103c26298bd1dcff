package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/pkg/logging"
)

// ErrNoSource is returned when no discovery endpoint is configured
var ErrNoSource = errors.New("no discovery source configured")

// HTTPSource pulls candidate posts from a discovery service. The service
// owns search queries and platform access; the pipeline only consumes its
// normalized output.
type HTTPSource struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPSource creates a source for the given discovery endpoint
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logging.WithComponent("source"),
	}
}

type candidateDoc struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	Source      string    `json:"source"`
	Likes       int       `json:"likes"`
	Replies     int       `json:"replies"`
	Reposts     int       `json:"reposts"`
	Impressions int       `json:"impressions"`
	Author      struct {
		Handle      string    `json:"handle"`
		DisplayName string    `json:"display_name"`
		Bio         string    `json:"bio"`
		Followers   int       `json:"followers"`
		CreatedAt   time.Time `json:"created_at"`
		Verified    bool      `json:"verified"`
	} `json:"author"`
}

type discoverResponse struct {
	Posts []candidateDoc `json:"posts"`
}

// Discover fetches the current candidate batch
func (s *HTTPSource) Discover(ctx context.Context) ([]*models.CandidatePost, error) {
	if s.url == "" {
		return nil, ErrNoSource
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		return nil, fmt.Errorf("discovery endpoint returned %d: %s", resp.StatusCode, raw)
	}

	var out discoverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("discovery response: %w", err)
	}

	posts := make([]*models.CandidatePost, 0, len(out.Posts))
	for _, doc := range out.Posts {
		if doc.ID == "" {
			continue
		}
		posts = append(posts, &models.CandidatePost{
			ID:          doc.ID,
			Text:        doc.Text,
			CreatedAt:   doc.CreatedAt,
			Source:      doc.Source,
			Likes:       doc.Likes,
			Replies:     doc.Replies,
			Reposts:     doc.Reposts,
			Impressions: doc.Impressions,
			Author: models.Author{
				Handle:      doc.Author.Handle,
				DisplayName: doc.Author.DisplayName,
				Bio:         doc.Author.Bio,
				Followers:   doc.Author.Followers,
				CreatedAt:   doc.Author.CreatedAt,
				Verified:    doc.Author.Verified,
			},
		})
	}

	s.logger.Debug("Candidates discovered", zap.Int("count", len(posts)))
	return posts, nil
}
