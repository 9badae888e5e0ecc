// Package widget implements the embedded chat widget's backend: the chat
// turn itself plus the email capture, crawl status, and recrawl endpoints.
package widget

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"sitechat/internal/cache"
	"sitechat/internal/llm"
	"sitechat/internal/logging"
	"sitechat/internal/search"
	"sitechat/internal/store"
)

// unansweredReply is shown verbatim when no indexed chunk clears the site's
// similarity threshold. The widget renders an email form next to it.
const unansweredReply = "I don't have enough information to answer this question. Would you like to leave your email so the team can help you?"

// TurnRequest is one user question arriving from the widget.
type TurnRequest struct {
	SiteID    string
	SessionID string
	Question  string
	UserEmail string
	Origin    string
	IP        string
	APIKey    string
}

// TurnResult is the answer sent back to the widget.
type TurnResult struct {
	Response             string       `json:"response"`
	Sources              []llm.Source `json:"sources,omitempty"`
	SessionID            string       `json:"sessionId"`
	MessageID            string       `json:"messageId,omitempty"`
	CanProvideEmail      bool         `json:"canProvideEmail,omitempty"`
	UnansweredQuestionID string       `json:"unansweredQuestionId,omitempty"`
	ResponseTime         int          `json:"responseTime"`
}

// SessionStore is the slice of the session repository the orchestrator needs.
type SessionStore interface {
	Upsert(ctx context.Context, session store.WidgetSession) error
	IncrementMessageCount(ctx context.Context, sessionID string) error
}

// MessageStore persists chat turns and serves conversation history.
type MessageStore interface {
	Create(ctx context.Context, msg store.ChatMessage) (string, error)
	ListBySession(ctx context.Context, sessionID string) ([]store.ChatMessage, error)
}

// UnansweredStore records questions the knowledge base could not answer.
type UnansweredStore interface {
	Create(ctx context.Context, question store.UnansweredQuestion) (string, error)
	AttachEmail(ctx context.Context, questionID, email string) error
}

// SiteFinder loads site settings for a turn.
type SiteFinder interface {
	FindByID(ctx context.Context, siteID string) (*store.Site, error)
}

// Searcher runs the similarity search for a turn.
type Searcher interface {
	Search(ctx context.Context, siteID, question string, threshold float64) (search.Result, error)
}

// KeyValidator is the contract for the credential service that owns widget
// API keys. A nil validator disables the check.
type KeyValidator interface {
	Validate(ctx context.Context, siteID, apiKey string) error
}

// Limiter enforces the per-session and per-IP budgets.
type Limiter interface {
	CheckSession(ctx context.Context, sessionID string, cap int64) (cache.Decision, error)
	CheckIP(ctx context.Context, ip string) (cache.Decision, error)
	IncrSession(ctx context.Context, sessionID string) error
	IncrIP(ctx context.Context, ip string) error
}

// Orchestrator runs a complete chat turn: site lookup, origin validation,
// rate limits, retrieval, generation, and persistence.
type Orchestrator struct {
	Sites      SiteFinder
	Sessions   SessionStore
	Messages   MessageStore
	Unanswered UnansweredStore
	Limiter    Limiter
	Search     Searcher
	Generator  llm.Generator
	Keys       KeyValidator
	Logger     logging.Logger

	IPHashSecret string

	// SessionCapDefault applies when a site has no per-session message
	// limit configured.
	SessionCapDefault int
}

// Turn processes one widget question. Rejections come back as *TurnError;
// anything else is an internal failure.
func (o *Orchestrator) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	started := time.Now()

	site, err := o.Sites.FindByID(ctx, req.SiteID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errSiteNotFound(req.SiteID)
		}
		return nil, fmt.Errorf("load site: %w", err)
	}

	if !originAllowed(req.Origin, site.Domain) {
		return nil, errDomainMismatch()
	}

	if o.Keys != nil {
		if err := o.Keys.Validate(ctx, site.ID, req.APIKey); err != nil {
			return nil, errInvalidAPIKey()
		}
	}

	sessionCap := int64(site.MaxMessagesPerSession)
	if sessionCap <= 0 {
		sessionCap = int64(o.SessionCapDefault)
	}
	if sessionCap <= 0 {
		sessionCap = 15
	}
	sessionDecision, err := o.Limiter.CheckSession(ctx, req.SessionID, sessionCap)
	if err != nil {
		return nil, fmt.Errorf("check session limit: %w", err)
	}
	if !sessionDecision.Allowed {
		return nil, errSessionRateLimited(sessionDecision.RetryAfter)
	}
	ipDecision, err := o.Limiter.CheckIP(ctx, req.IP)
	if err != nil {
		return nil, fmt.Errorf("check ip limit: %w", err)
	}
	if !ipDecision.Allowed {
		return nil, errIPRateLimited(ipDecision.RetryAfter)
	}

	if err := o.Sessions.Upsert(ctx, store.WidgetSession{
		ID:            req.SessionID,
		SiteID:        site.ID,
		IPAddressHash: o.hashIP(req.IP),
		UserEmail:     req.UserEmail,
	}); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	// Prefix the question with the site name so short follow-ups like
	// "how much is it" stay anchored to the right product.
	enriched := req.Question
	if site.Name != "" {
		enriched = site.Name + ": " + req.Question
	}

	result, err := o.Search.Search(ctx, site.ID, enriched, site.SimilarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("knowledge search: %w", err)
	}

	if !result.HasAnswer {
		return o.unansweredTurn(ctx, site, req, result.BestScore, started)
	}

	history, err := o.loadHistory(ctx, req.SessionID)
	if err != nil {
		o.Logger.WithError(err).WithField("session_id", req.SessionID).Warn("failed to load chat history")
	}

	passages := make([]llm.Passage, len(result.Chunks))
	for i, chunk := range result.Chunks {
		passages[i] = llm.Passage{PageURL: chunk.PageURL, Heading: chunk.Heading, Content: chunk.Content}
	}

	answer, err := o.Generator.Generate(ctx, req.Question, passages, site.AllowGeneralKnowledge, site.Name, history)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	if answer.Response == llm.NoAnswer {
		// The model judged the retrieved context insufficient even though
		// chunks cleared the threshold.
		return o.unansweredTurn(ctx, site, req, result.BestScore, started)
	}

	elapsed := int(time.Since(started).Milliseconds())
	messageID, err := o.Messages.Create(ctx, store.ChatMessage{
		SiteID:         site.ID,
		SessionID:      req.SessionID,
		Message:        req.Question,
		Response:       answer.Response,
		ResponseTimeMs: elapsed,
	})
	if err != nil {
		o.Logger.WithError(err).WithField("session_id", req.SessionID).Warn("failed to persist chat turn")
	}
	if err := o.consumeBudgets(ctx, req); err != nil {
		o.Logger.WithError(err).WithField("session_id", req.SessionID).Warn("failed to count chat turn")
	}

	turnsTotal.WithLabelValues("answered").Inc()
	turnDuration.Observe(time.Since(started).Seconds())
	return &TurnResult{
		Response:     answer.Response,
		Sources:      answer.Sources,
		SessionID:    req.SessionID,
		MessageID:    messageID,
		ResponseTime: elapsed,
	}, nil
}

// unansweredTurn records the question for the site owner and returns the
// email-capture reply. It still counts against both rate limits.
func (o *Orchestrator) unansweredTurn(ctx context.Context, site *store.Site, req TurnRequest, bestScore float64, started time.Time) (*TurnResult, error) {
	questionID, err := o.Unanswered.Create(ctx, store.UnansweredQuestion{
		SiteID:         site.ID,
		SessionID:      req.SessionID,
		UserEmail:      req.UserEmail,
		Question:       req.Question,
		BestMatchScore: bestScore,
	})
	if err != nil {
		return nil, fmt.Errorf("record unanswered question: %w", err)
	}

	// No chat message row: history holds only answered turns, and the
	// fallback reply must not surface there as a fabricated answer.
	elapsed := int(time.Since(started).Milliseconds())
	if err := o.consumeBudgets(ctx, req); err != nil {
		o.Logger.WithError(err).WithField("session_id", req.SessionID).Warn("failed to count chat turn")
	}

	turnsTotal.WithLabelValues("unanswered").Inc()
	turnDuration.Observe(time.Since(started).Seconds())
	return &TurnResult{
		Response:             unansweredReply,
		SessionID:            req.SessionID,
		CanProvideEmail:      true,
		UnansweredQuestionID: questionID,
		ResponseTime:         elapsed,
	}, nil
}

// consumeBudgets advances every counter a completed turn consumes, answered
// or not.
func (o *Orchestrator) consumeBudgets(ctx context.Context, req TurnRequest) error {
	if err := o.Sessions.IncrementMessageCount(ctx, req.SessionID); err != nil {
		return fmt.Errorf("increment session messages: %w", err)
	}
	if err := o.Limiter.IncrSession(ctx, req.SessionID); err != nil {
		return fmt.Errorf("count session turn: %w", err)
	}
	if err := o.Limiter.IncrIP(ctx, req.IP); err != nil {
		return fmt.Errorf("count ip turn: %w", err)
	}
	return nil
}

// loadHistory flattens prior turns into alternating user/assistant messages.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) ([]llm.HistoryMessage, error) {
	messages, err := o.Messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]llm.HistoryMessage, 0, len(messages)*2)
	for _, msg := range messages {
		history = append(history,
			llm.HistoryMessage{Role: "user", Content: msg.Message},
			llm.HistoryMessage{Role: "assistant", Content: msg.Response},
		)
	}
	return history, nil
}

func (o *Orchestrator) hashIP(ip string) string {
	secret := o.IPHashSecret
	if secret == "" {
		secret = "default-secret"
	}
	sum := sha256.Sum256([]byte(ip + secret))
	return hex.EncodeToString(sum[:])
}

// originAllowed checks the widget's Origin header against the site's
// registered domain. Localhost always passes so site owners can test the
// embed before going live.
func originAllowed(origin, siteDomain string) bool {
	if origin == "" {
		return false
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	if host == "" {
		host = origin
	}
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	host = strings.ToLower(host)
	domain := strings.ToLower(strings.TrimPrefix(siteDomain, "www."))
	host = strings.TrimPrefix(host, "www.")
	return host == domain
}
