package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sitechat/internal/cache"
	"sitechat/internal/llm"
	"sitechat/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProgressReader struct {
	progress *cache.Progress
}

func (f *fakeProgressReader) Get(_ context.Context, _ string) (*cache.Progress, error) {
	return f.progress, nil
}

type fakeCooldown struct {
	acquired  bool
	remaining time.Duration
	released  int
}

func (f *fakeCooldown) Acquire(_ context.Context, _ string) (bool, error) {
	return f.acquired, nil
}

func (f *fakeCooldown) Remaining(_ context.Context, _ string) (time.Duration, error) {
	return f.remaining, nil
}

func (f *fakeCooldown) Release(_ context.Context, _ string) error {
	f.released++
	return nil
}

type fakeQueue struct {
	enqueued []string
	lastURLs []string
	err      error
}

func (f *fakeQueue) Enqueue(_ context.Context, siteID string, urls []string) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, siteID)
	f.lastURLs = urls
	return nil
}

func newTestHandler(o *Orchestrator, sites SiteFinder) (*Handler, *fakeQueue, *fakeCooldown, *fakeProgressReader) {
	queue := &fakeQueue{}
	cooldown := &fakeCooldown{acquired: true}
	progress := &fakeProgressReader{}
	h := &Handler{
		Orchestrator: o,
		Sites:        sites,
		Sessions:     &fakeSessions{},
		Unanswered:   &fakeUnanswered{},
		Progress:     progress,
		Cooldown:     cooldown,
		Queue:        queue,
		Logger:       quietLogger(),
	}
	return h, queue, cooldown, progress
}

func newRouter(h *Handler) *gin.Engine {
	router := gin.New()
	RegisterRoutes(router, h)
	return router
}

func postJSON(router *gin.Engine, path string, payload any, origin string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHandleChatAnswers(t *testing.T) {
	gen := &fakeGenerator{answer: &llm.Answer{Response: "The starter plan costs $10."}}
	o := newOrchestrator(&fakeSites{site: widgetSite()}, &fakeSessions{}, &fakeMessages{}, &fakeUnanswered{}, allowAll(), answeredSearch(), gen)
	h, _, _, _ := newTestHandler(o, &fakeSites{site: widgetSite()})

	w := postJSON(newRouter(h), "/api/widget/site-1/chat",
		chatRequest{SessionID: "sess-1", Message: "how much?"}, "https://acme.example")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp TurnResult
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Response != "The starter plan costs $10." {
		t.Errorf("response = %q", resp.Response)
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("sessionId = %q", resp.SessionID)
	}
	if resp.MessageID != "msg-1" {
		t.Errorf("messageId = %q, want the persisted row id", resp.MessageID)
	}
	if !strings.Contains(w.Body.String(), `"responseTime"`) {
		t.Errorf("body missing responseTime field: %s", w.Body.String())
	}
}

func TestHandleChatValidation(t *testing.T) {
	o := newOrchestrator(&fakeSites{site: widgetSite()}, &fakeSessions{}, &fakeMessages{}, &fakeUnanswered{}, allowAll(), answeredSearch(), &fakeGenerator{})
	h, _, _, _ := newTestHandler(o, &fakeSites{site: widgetSite()})
	router := newRouter(h)

	cases := []struct {
		name    string
		payload chatRequest
	}{
		{"empty message", chatRequest{SessionID: "sess-1", Message: "   "}},
		{"missing session", chatRequest{Message: "hello"}},
	}
	for _, tc := range cases {
		w := postJSON(router, "/api/widget/site-1/chat", tc.payload, "https://acme.example")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", tc.name, w.Code)
		}
	}
}

func TestHandleChatRateLimitedResponse(t *testing.T) {
	limiter := allowAll()
	limiter.sessionDecision = cache.Decision{Allowed: false, RetryAfter: 90 * time.Second}
	o := newOrchestrator(&fakeSites{site: widgetSite()}, &fakeSessions{}, &fakeMessages{}, &fakeUnanswered{}, limiter, answeredSearch(), &fakeGenerator{})
	h, _, _, _ := newTestHandler(o, &fakeSites{site: widgetSite()})

	w := postJSON(newRouter(h), "/api/widget/site-1/chat",
		chatRequest{SessionID: "sess-1", Message: "hello"}, "https://acme.example")

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") != "90" {
		t.Errorf("Retry-After = %q, want 90", w.Header().Get("Retry-After"))
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["code"] != CodeSessionRateLimited {
		t.Errorf("code = %v", resp["code"])
	}
	if resp["retryAfterSeconds"] != float64(90) {
		t.Errorf("retryAfterSeconds = %v", resp["retryAfterSeconds"])
	}
}

func TestHandleChatForeignOrigin(t *testing.T) {
	o := newOrchestrator(&fakeSites{site: widgetSite()}, &fakeSessions{}, &fakeMessages{}, &fakeUnanswered{}, allowAll(), answeredSearch(), &fakeGenerator{})
	h, _, _, _ := newTestHandler(o, &fakeSites{site: widgetSite()})

	w := postJSON(newRouter(h), "/api/widget/site-1/chat",
		chatRequest{SessionID: "sess-1", Message: "hello"}, "https://evil.example")

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleEmailAttaches(t *testing.T) {
	unanswered := &fakeUnanswered{}
	sessions := &fakeSessions{}
	h := &Handler{
		Sessions:   sessions,
		Unanswered: unanswered,
		Logger:     quietLogger(),
	}

	w := postJSON(newRouter(h), "/api/widget/site-1/email",
		emailRequest{SessionID: "sess-1", QuestionID: "uq-1", Email: "visitor@example.com"}, "")

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if unanswered.emails["uq-1"] != "visitor@example.com" {
		t.Errorf("email not attached: %v", unanswered.emails)
	}
	if len(sessions.upserts) != 1 || sessions.upserts[0].UserEmail != "visitor@example.com" {
		t.Errorf("session upserts = %v", sessions.upserts)
	}
}

func TestHandleEmailRejectsInvalid(t *testing.T) {
	h := &Handler{
		Sessions:   &fakeSessions{},
		Unanswered: &fakeUnanswered{},
		Logger:     quietLogger(),
	}
	router := newRouter(h)

	for _, email := range []string{"", "not-an-email", "@nouser.example", "trailing@", "has space@example.com"} {
		w := postJSON(router, "/api/widget/site-1/email",
			emailRequest{SessionID: "sess-1", QuestionID: "uq-1", Email: email}, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("email %q: status = %d, want 400", email, w.Code)
		}
	}
}

func TestHandleEmailUnknownQuestion(t *testing.T) {
	h := &Handler{
		Sessions:   &fakeSessions{},
		Unanswered: &fakeUnanswered{},
		Logger:     quietLogger(),
	}

	w := postJSON(newRouter(h), "/api/widget/site-1/email",
		emailRequest{SessionID: "sess-1", QuestionID: "missing", Email: "visitor@example.com"}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
}

func TestHandleCrawlStatus(t *testing.T) {
	h, _, _, progress := newTestHandler(nil, &fakeSites{site: widgetSite()})
	router := newRouter(h)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sites/site-1/crawl-status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("no progress: status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), store.SiteStatusActive) {
		t.Errorf("no progress: body = %s, want site status fallback", w.Body.String())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sites/missing/crawl-status", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown site: status = %d, want 404", w.Code)
	}

	progress.progress = &cache.Progress{SiteID: "site-1", Status: "crawling", PagesCrawled: 2}
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sites/site-1/crawl-status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	var resp cache.Progress
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Status != "crawling" || resp.PagesCrawled != 2 {
		t.Errorf("progress = %+v", resp)
	}
}

func TestHandleRecrawlQueuesJob(t *testing.T) {
	site := widgetSite()
	site.SeedURLs = []string{"https://acme.example/docs", "https://acme.example/pricing"}
	h, queue, _, _ := newTestHandler(nil, &fakeSites{site: site})

	w := postJSON(newRouter(h), "/api/sites/site-1/recrawl", gin.H{}, "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if len(queue.enqueued) != 1 || queue.enqueued[0] != "site-1" {
		t.Errorf("enqueued = %v", queue.enqueued)
	}
	// The root page leads the seed list even when extra seeds exist.
	want := []string{"https://acme.example", "https://acme.example/docs", "https://acme.example/pricing"}
	if len(queue.lastURLs) != len(want) {
		t.Fatalf("seed urls = %v, want %v", queue.lastURLs, want)
	}
	for i, u := range want {
		if queue.lastURLs[i] != u {
			t.Errorf("seed[%d] = %q, want %q", i, queue.lastURLs[i], u)
		}
	}
}

func TestHandleRecrawlReleasesCooldownOnEnqueueFailure(t *testing.T) {
	h, queue, cooldown, _ := newTestHandler(nil, &fakeSites{site: widgetSite()})
	queue.err = errors.New("brokers unreachable")

	w := postJSON(newRouter(h), "/api/sites/site-1/recrawl", gin.H{}, "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if cooldown.released != 1 {
		t.Errorf("cooldown released %d times, want 1", cooldown.released)
	}
}

func TestHandleRecrawlCooldown(t *testing.T) {
	h, queue, cooldown, _ := newTestHandler(nil, &fakeSites{site: widgetSite()})
	cooldown.acquired = false
	cooldown.remaining = 2 * time.Hour

	w := postJSON(newRouter(h), "/api/sites/site-1/recrawl", gin.H{}, "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
	if len(queue.enqueued) != 0 {
		t.Error("job enqueued during cooldown")
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["retryAfterSeconds"] != float64(7200) {
		t.Errorf("retryAfterSeconds = %v", resp["retryAfterSeconds"])
	}
}

func TestHandleRecrawlUnknownSite(t *testing.T) {
	h, _, _, _ := newTestHandler(nil, &fakeSites{})

	w := postJSON(newRouter(h), "/api/sites/missing/recrawl", gin.H{}, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; body: %s", w.Code, w.Body.String())
	}
}
