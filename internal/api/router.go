package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/beliefforge/scout/internal/approval"
	"github.com/beliefforge/scout/internal/cache"
	"github.com/beliefforge/scout/internal/db"
	"github.com/beliefforge/scout/internal/llm"
	"github.com/beliefforge/scout/internal/models"
	"github.com/beliefforge/scout/pkg/logging"
)

// UsageSource exposes LLM spend counters for the stats endpoint
type UsageSource interface {
	UsageStats() llm.UsageStats
}

// Router sets up the decision API routes
type Router struct {
	svc      *approval.Service
	usage    UsageSource
	database *db.DB
	cache    *cache.Cache
	logger   *zap.Logger
}

// NewRouter creates a new API router
func NewRouter(svc *approval.Service, usage UsageSource, database *db.DB, redisCache *cache.Cache) *Router {
	return &Router{
		svc:      svc,
		usage:    usage,
		database: database,
		cache:    redisCache,
		logger:   logging.WithComponent("api-router"),
	}
}

// SetupRoutes sets up all API routes
func (r *Router) SetupRoutes(engine *gin.Engine) {
	engine.GET("/health", r.healthHandler)

	api := engine.Group("/api")
	api.GET("/stats", r.statsHandler)

	replies := api.Group("/replies")
	replies.GET("/pending", r.pendingHandler)
	replies.GET("/:id", r.getHandler)
	replies.POST("/:id/approve", r.approveHandler)
	replies.POST("/:id/reject", r.rejectHandler)
	replies.POST("/:id/edit", r.editHandler)
	replies.POST("/:id/cancel-auto", r.cancelAutoHandler)
	replies.POST("/:id/post", r.postHandler)
	replies.POST("/:id/engagement", r.engagementHandler)
}

// replyView is the JSON shape of one queue item
type replyView struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	PostID        string    `json:"post_id"`
	PostAuthor    string    `json:"post_author"`
	PostText      string    `json:"post_text"`
	ReplyText     string    `json:"reply_text"`
	AttemptCount  int       `json:"attempt_count"`
	CostUSD       float64   `json:"cost_usd"`
	Score         float64   `json:"score"`
	PriorityTier  string    `json:"priority_tier"`
	Keywords      []string  `json:"keywords"`
	VoiceScore    int       `json:"voice_score"`
	Violations    []string  `json:"violations"`
	Warnings      []string  `json:"warnings"`
	AutoApproveAt string    `json:"auto_approve_at,omitempty"`
	DecidedBy     string    `json:"decided_by,omitempty"`
	PostedID      string    `json:"posted_id,omitempty"`
}

func toView(item *models.ReplyItem) replyView {
	violations, warnings := item.Findings()
	view := replyView{
		ID:           item.ID,
		Status:       string(item.Status),
		CreatedAt:    item.CreatedAt,
		PostID:       item.PostID,
		PostAuthor:   item.PostAuthor,
		PostText:     item.PostText,
		ReplyText:    item.ReplyText,
		AttemptCount: item.AttemptCount,
		CostUSD:      item.CostUSD,
		Score:        item.Score,
		PriorityTier: item.PriorityTier,
		Keywords:     item.Keywords(),
		VoiceScore:   item.VoiceScore,
		Violations:   violations,
		Warnings:     warnings,
		DecidedBy:    item.DecidedBy,
		PostedID:     item.PostedID,
	}
	if item.AutoApproveAt.Valid {
		view.AutoApproveAt = item.AutoApproveAt.Time.UTC().Format(time.RFC3339)
	}
	return view
}

func (r *Router) healthHandler(c *gin.Context) {
	status := http.StatusOK
	checks := gin.H{}

	if r.database != nil {
		if err := r.database.Health(c.Request.Context()); err != nil {
			checks["database"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "OK"
		}
	}
	if r.cache != nil {
		if err := r.cache.Health(c.Request.Context()); err != nil {
			checks["cache"] = err.Error()
		} else {
			checks["cache"] = "OK"
		}
	}

	c.JSON(status, gin.H{
		"status":  http.StatusText(status),
		"service": "scout-api",
		"checks":  checks,
	})
}

func (r *Router) pendingHandler(c *gin.Context) {
	items, err := r.svc.PendingItems(c.Request.Context())
	if err != nil {
		r.serverError(c, err)
		return
	}

	views := make([]replyView, 0, len(items))
	for _, item := range items {
		views = append(views, toView(item))
	}
	c.JSON(http.StatusOK, gin.H{"replies": views})
}

func (r *Router) getHandler(c *gin.Context) {
	item, err := r.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, toView(item))
}

type decisionRequest struct {
	DecidedBy string `json:"decided_by"`
	Reason    string `json:"reason"`
	Text      string `json:"text"`
}

func (r *Router) approveHandler(c *gin.Context) {
	// Body is optional for approvals
	var req decisionRequest
	_ = c.ShouldBindJSON(&req)
	if req.DecidedBy == "" {
		req.DecidedBy = "api"
	}

	if err := r.svc.Approve(c.Request.Context(), c.Param("id"), req.DecidedBy); err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusApproved)})
}

func (r *Router) rejectHandler(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Reason == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reason is required"})
		return
	}
	if req.DecidedBy == "" {
		req.DecidedBy = "api"
	}

	if err := r.svc.Reject(c.Request.Context(), c.Param("id"), req.DecidedBy, req.Reason); err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusRejected)})
}

func (r *Router) editHandler(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}
	if req.DecidedBy == "" {
		req.DecidedBy = "api"
	}

	if err := r.svc.Edit(c.Request.Context(), c.Param("id"), req.Text, req.DecidedBy); err != nil {
		r.decisionError(c, err)
		return
	}

	item, err := r.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, toView(item))
}

func (r *Router) cancelAutoHandler(c *gin.Context) {
	if err := r.svc.CancelAutoApproval(c.Request.Context(), c.Param("id")); err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusPending)})
}

func (r *Router) postHandler(c *gin.Context) {
	if err := r.svc.Post(c.Request.Context(), c.Param("id")); err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusPosted)})
}

type engagementRequest struct {
	EngagementRate *float64 `json:"engagement_rate"`
}

// engagementHandler ingests the measured engagement rate for a posted
// reply, feeding the learning corpus.
func (r *Router) engagementHandler(c *gin.Context) {
	var req engagementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.EngagementRate == nil || *req.EngagementRate < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "engagement_rate must be zero or positive"})
		return
	}

	if err := r.svc.RecordEngagement(c.Request.Context(), c.Param("id"), *req.EngagementRate); err != nil {
		r.decisionError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (r *Router) statsHandler(c *gin.Context) {
	queue, err := r.svc.QueueStats(c.Request.Context())
	if err != nil {
		r.serverError(c, err)
		return
	}

	out := gin.H{"queue": queue}
	if r.usage != nil {
		out["llm"] = r.usage.UsageStats()
	}
	c.JSON(http.StatusOK, out)
}

// decisionError maps approval errors onto HTTP status codes
func (r *Router) decisionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, approval.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "reply item not found"})
	case errors.Is(err, approval.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, approval.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		r.serverError(c, err)
	}
}

func (r *Router) serverError(c *gin.Context, err error) {
	r.logger.Error("Request failed",
		zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
