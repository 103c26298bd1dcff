package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/beliefforge/scout/pkg/config"
	"github.com/beliefforge/scout/pkg/logging"
	"github.com/beliefforge/scout/pkg/telemetry"
)

// Message is one chat turn sent to the completion endpoint
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Completion is the result of one successful call, including the real cost
// computed from reported token usage.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

// Client calls an OpenAI-compatible chat-completions endpoint behind two
// gates: a requests-per-minute rate limiter and a rolling-period budget
// ledger. Both gates run before any network traffic.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	topP        float64
	timeout     time.Duration
	maxRetries  int
	prices      map[string]config.ModelPrice

	limiter *rate.Limiter
	budget  *budget

	httpClient *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// New creates a completion client from configuration
func New(cfg *config.LLMConfig) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	interval := time.Minute / time.Duration(cfg.RequestsPerMinute)

	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		topP:        cfg.TopP,
		timeout:     cfg.RequestTimeout,
		maxRetries:  cfg.MaxRetries,
		prices:      cfg.Prices,
		limiter:     rate.NewLimiter(rate.Every(interval), 1),
		budget:      newBudget(cfg.BudgetUSD, cfg.BudgetPeriod),
		httpClient:  &http.Client{Transport: tr},
		logger:      logging.WithComponent("llm"),
		now:         time.Now,
	}
}

// NewWithHTTPClient is intended for tests; it avoids network access by using a custom RoundTripper.
func NewWithHTTPClient(cfg *config.LLMConfig, httpClient *http.Client) *Client {
	c := New(cfg)
	if httpClient != nil {
		c.httpClient = httpClient
	}
	return c
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	TopP        float64   `json:"top_p,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete runs one gated completion call. The rate gate blocks until a
// slot is free or the context ends; the budget gate refuses with
// ErrBudgetExceeded when the projected cost would cross the period limit.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	ctx, span := telemetry.StartSpan(ctx, "llm.complete")
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate gate: %w", err)
	}

	estimate := c.estimateCost(messages)
	if !c.budget.allow(estimate, c.now()) {
		stats := c.budget.stats(c.now())
		c.logger.Warn("Completion refused by budget gate",
			zap.Float64("estimate_usd", estimate),
			zap.Float64("remaining_usd", stats.RemainingUSD))
		return nil, fmt.Errorf("projected cost $%.4f over remaining $%.4f: %w",
			estimate, stats.RemainingUSD, ErrBudgetExceeded)
	}

	var resp chatCompletionResponse
	operation := func() error {
		err := c.doJSON(ctx, messages, &resp)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.maxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.New("empty upstream completion")
	}

	cost := c.realCost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	c.budget.record(cost, resp.Usage.TotalTokens, c.now())

	c.logger.Info("Completion generated",
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Float64("cost_usd", cost))

	return &Completion{
		Content:          resp.Choices[0].Message.Content,
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		CostUSD:          cost,
	}, nil
}

// GenerateReply is the two-prompt convenience wrapper used by the reply
// generator.
func (c *Client) GenerateReply(ctx context.Context, systemPrompt, userPrompt string) (string, *Completion, error) {
	comp, err := c.Complete(ctx, []Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	})
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(comp.Content), comp, nil
}

// UsageStats returns the current spend readout
func (c *Client) UsageStats() UsageStats {
	return c.budget.stats(c.now())
}

// ResetUsage clears the spend ledger, e.g. at the start of a new budget day
func (c *Client) ResetUsage() {
	c.budget.reset()
	c.logger.Info("Usage statistics reset")
}

func (c *Client) doJSON(ctx context.Context, messages []Message, out *chatCompletionResponse) error {
	reqBody := chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		TopP:        c.topP,
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(reqBody); err != nil {
		return err
	}

	ctx2 := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		ctx2, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx2, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}

	*out = chatCompletionResponse{}
	return json.NewDecoder(resp.Body).Decode(out)
}

// estimateCost projects the worst-case call cost: roughly four characters
// per prompt token, plus the full completion token allowance.
func (c *Client) estimateCost(messages []Message) float64 {
	chars := 0
	for _, m := range messages {
		chars += len(m.Content)
	}
	promptTokens := chars / 4
	return c.price(promptTokens, c.maxTokens)
}

func (c *Client) realCost(promptTokens, completionTokens int) float64 {
	return c.price(promptTokens, completionTokens)
}

func (c *Client) price(promptTokens, completionTokens int) float64 {
	p, ok := c.prices[c.model]
	if !ok {
		c.logger.Warn("No price entry for model, assuming zero cost",
			zap.String("model", c.model))
		return 0
	}
	return float64(promptTokens)/1_000_000*p.InputPerMTok +
		float64(completionTokens)/1_000_000*p.OutputPerMTok
}
