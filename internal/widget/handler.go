package widget

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sitechat/internal/cache"
	"sitechat/internal/logging"
	"sitechat/internal/store"
)

const maxMessageRunes = 2000

// ProgressReader serves crawl progress snapshots for the status endpoint.
type ProgressReader interface {
	Get(ctx context.Context, siteID string) (*cache.Progress, error)
}

// CooldownLock gates recrawls so a site cannot be recrawled more often than
// the configured cooldown. Release undoes a taken cooldown when the job
// never made it onto the queue.
type CooldownLock interface {
	Acquire(ctx context.Context, siteID string) (bool, error)
	Remaining(ctx context.Context, siteID string) (time.Duration, error)
	Release(ctx context.Context, siteID string) error
}

// CrawlQueue enqueues crawl jobs for the worker pool.
type CrawlQueue interface {
	Enqueue(ctx context.Context, siteID string, urls []string) error
}

// Handler exposes the widget and site-management HTTP API.
type Handler struct {
	Orchestrator *Orchestrator
	Sites        SiteFinder
	Sessions     SessionStore
	Unanswered   UnansweredStore
	Progress     ProgressReader
	Cooldown     CooldownLock
	Queue        CrawlQueue
	Logger       logging.Logger
}

// RegisterRoutes mounts the widget API on the router.
func RegisterRoutes(router gin.IRouter, h *Handler) {
	widget := router.Group("/api/widget/:siteId")
	widget.POST("/chat", h.HandleChat)
	widget.POST("/email", h.HandleEmail)

	sites := router.Group("/api/sites/:siteId")
	sites.GET("/crawl-status", h.HandleCrawlStatus)
	sites.POST("/recrawl", h.HandleRecrawl)
}

type chatRequest struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
	UserEmail string `json:"userEmail"`
}

func (h *Handler) HandleChat(c *gin.Context) {
	siteID := c.Param("siteId")

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}
	if req.SessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId is required"})
		return
	}
	if len([]rune(req.Message)) > maxMessageRunes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message too long"})
		return
	}

	result, err := h.Orchestrator.Turn(c.Request.Context(), TurnRequest{
		SiteID:    siteID,
		SessionID: req.SessionID,
		Question:  req.Message,
		UserEmail: strings.TrimSpace(req.UserEmail),
		Origin:    c.GetHeader("Origin"),
		IP:        c.ClientIP(),
		APIKey:    c.GetHeader("X-API-Key"),
	})
	if err != nil {
		h.writeTurnError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeTurnError(c *gin.Context, err error) {
	var turnErr *TurnError
	if !errors.As(err, &turnErr) {
		h.Logger.WithError(err).Error("chat turn failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process message"})
		return
	}

	turnRejectionsTotal.WithLabelValues(turnErr.Code).Inc()
	body := gin.H{"error": turnErr.Message, "code": turnErr.Code}
	switch turnErr.Code {
	case CodeSiteNotFound:
		c.JSON(http.StatusNotFound, body)
	case CodeDomainMismatch:
		c.JSON(http.StatusForbidden, body)
	case CodeInvalidAPIKey:
		c.JSON(http.StatusUnauthorized, body)
	case CodeSessionRateLimited, CodeIPRateLimited:
		seconds := int(turnErr.RetryAfter.Seconds())
		if seconds < 1 {
			seconds = 1
		}
		body["retryAfterSeconds"] = seconds
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusTooManyRequests, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

type emailRequest struct {
	SessionID  string `json:"sessionId"`
	QuestionID string `json:"questionId"`
	Email      string `json:"email"`
}

// HandleEmail attaches a visitor's email to an unanswered question and to
// the session so followups reach them.
func (h *Handler) HandleEmail(c *gin.Context) {
	siteID := c.Param("siteId")

	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request payload"})
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.QuestionID = strings.TrimSpace(req.QuestionID)
	if req.SessionID == "" || req.QuestionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessionId and questionId are required"})
		return
	}
	if !looksLikeEmail(req.Email) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
		return
	}

	ctx := c.Request.Context()
	if err := h.Unanswered.AttachEmail(ctx, req.QuestionID, req.Email); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "question not found"})
			return
		}
		h.Logger.WithError(err).Error("failed to attach email to question")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save email"})
		return
	}
	if err := h.Sessions.Upsert(ctx, store.WidgetSession{
		ID:        req.SessionID,
		SiteID:    siteID,
		UserEmail: req.Email,
	}); err != nil {
		h.Logger.WithError(err).Warn("failed to record email on session")
	}

	emailCapturesTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

// HandleCrawlStatus returns the live progress snapshot for a running or
// recently finished crawl.
func (h *Handler) HandleCrawlStatus(c *gin.Context) {
	siteID := c.Param("siteId")

	progress, err := h.Progress.Get(c.Request.Context(), siteID)
	if err != nil {
		h.Logger.WithError(err).Error("failed to read crawl progress")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read crawl status"})
		return
	}
	if progress == nil {
		// No live snapshot in the cache; fall back to the persisted site
		// status so the dashboard still shows the last known state.
		site, err := h.Sites.FindByID(c.Request.Context(), siteID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "site not found", "code": CodeSiteNotFound})
				return
			}
			h.Logger.WithError(err).Error("failed to load site for crawl status")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read crawl status"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": site.Status})
		return
	}
	c.JSON(http.StatusOK, progress)
}

// HandleRecrawl queues a fresh crawl unless the site is still inside its
// recrawl cooldown.
func (h *Handler) HandleRecrawl(c *gin.Context) {
	siteID := c.Param("siteId")
	ctx := c.Request.Context()

	site, err := h.Sites.FindByID(ctx, siteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "site not found", "code": CodeSiteNotFound})
			return
		}
		h.Logger.WithError(err).Error("failed to load site for recrawl")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue crawl"})
		return
	}

	acquired, err := h.Cooldown.Acquire(ctx, site.ID)
	if err != nil {
		h.Logger.WithError(err).Error("failed to check recrawl cooldown")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue crawl"})
		return
	}
	if !acquired {
		remaining, remErr := h.Cooldown.Remaining(ctx, site.ID)
		if remErr != nil {
			remaining = 0
		}
		seconds := int(remaining.Seconds())
		c.Header("Retry-After", strconv.Itoa(seconds))
		c.JSON(http.StatusConflict, gin.H{
			"error":             "site was crawled recently",
			"retryAfterSeconds": seconds,
		})
		return
	}

	// The root page is always recrawled alongside any additional seeds.
	seeds := append([]string{site.URL}, site.SeedURLs...)
	if err := h.Queue.Enqueue(ctx, site.ID, seeds); err != nil {
		h.Logger.WithError(err).Error("failed to enqueue crawl job")
		if relErr := h.Cooldown.Release(ctx, site.ID); relErr != nil {
			h.Logger.WithError(relErr).Warn("failed to release recrawl cooldown")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to queue crawl"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "siteId": site.ID})
}

func looksLikeEmail(email string) bool {
	at := strings.Index(email, "@")
	if at < 1 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.ContainsAny(email, " \t\n")
}
