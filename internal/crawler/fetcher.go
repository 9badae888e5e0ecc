package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	defaultRenderTimeout = 30 * time.Second
	renderStableDur      = 500 * time.Millisecond
	maxConcurrentTabs    = 3
)

// ErrBotBlocked marks pages withheld by anti-bot protection (HTTP 403/429 or
// a challenge interstitial instead of real content).
var ErrBotBlocked = errors.New("page blocked by bot protection")

// blockedResourceTypes lists network resource types the fetcher skips
// to save bandwidth, memory, and speed up page loads.
var blockedResourceTypes = []proto.NetworkResourceType{
	proto.NetworkResourceTypeImage,
	proto.NetworkResourceTypeFont,
	proto.NetworkResourceTypeStylesheet,
	proto.NetworkResourceTypeMedia,
}

// challengeSignatures identify common bot-challenge interstitials by their
// page text. Checked case-insensitively against the first part of the body.
var challengeSignatures = []string{
	"just a moment",
	"attention required",
	"checking your browser",
	"verify you are human",
	"access denied",
	"enable javascript and cookies to continue",
}

// Page is a fetched and extracted page. Links are canonicalized same-host
// URLs discovered in the rendered document.
type Page struct {
	URL     string
	Title   string
	Content string
	Links   []string
}

// Fetcher turns a URL into an extracted Page.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
	Close()
}

// RodFetcher renders pages in a headless Chromium instance managed by Rod,
// so JavaScript-heavy sites produce real content instead of empty app
// shells. Create with NewRodFetcher; call Close when done.
type RodFetcher struct {
	browser *rod.Browser
	tabSem  chan struct{}
	timeout time.Duration
}

// NewRodFetcher launches a headless Chromium process via Rod's launcher.
// binPath overrides browser discovery when non-empty; a zero timeout uses
// the default per-page render timeout.
func NewRodFetcher(binPath string, timeout time.Duration) (*RodFetcher, error) {
	if timeout <= 0 {
		timeout = defaultRenderTimeout
	}
	l := launcher.New().
		Headless(true).
		Set("disable-gpu").
		Set("no-sandbox").
		Set("disable-dev-shm-usage")
	if binPath != "" {
		l = l.Bin(binPath)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch headless browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to headless browser: %w", err)
	}

	return &RodFetcher{
		browser: browser,
		tabSem:  make(chan struct{}, maxConcurrentTabs),
		timeout: timeout,
	}, nil
}

// Fetch navigates to pageURL, waits for JS to execute and the DOM to
// stabilize, then extracts title, text, and same-host links.
func (f *RodFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	select {
	case f.tabSem <- struct{}{}:
		defer func() { <-f.tabSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	page, err := stealth.Page(f.browser)
	if err != nil {
		return nil, fmt.Errorf("create tab: %w", err)
	}
	defer page.Close()

	renderCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	page = page.Context(renderCtx)

	// Block unnecessary resources (images, fonts, CSS, media)
	router := page.HijackRequests()
	for _, rt := range blockedResourceTypes {
		rt := rt
		_ = router.Add("*", rt, func(h *rod.Hijack) {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
		})
	}
	go router.Run()
	defer router.MustStop()

	// Capture the status of the main document response so 403/429 from
	// WAFs can be told apart from genuinely thin pages.
	statusCh := make(chan int, 1)
	waitStatus := page.EachEvent(func(e *proto.NetworkResponseReceived) bool {
		if e.Type == proto.NetworkResourceTypeDocument {
			select {
			case statusCh <- e.Response.Status:
			default:
			}
			return true
		}
		return false
	})
	go waitStatus()

	if err := page.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", pageURL, err)
	}

	// WaitStable waits until the page DOM stops changing for the given
	// duration, which covers client-side rendering without a blind sleep.
	_ = page.WaitStable(renderStableDur)

	rendered, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("get HTML from %s: %w", pageURL, err)
	}

	var status int
	select {
	case status = <-statusCh:
	default:
	}
	if status == 403 || status == 429 {
		return nil, fmt.Errorf("%s returned %d: %w", pageURL, status, ErrBotBlocked)
	}

	// Resolve links against the post-redirect URL so sites that bounce
	// through a canonical host don't produce dead relatives.
	finalURL := pageURL
	if info, infoErr := page.Info(); infoErr == nil && info.URL != "" {
		finalURL = info.URL
	}

	title, content := extractContent([]byte(rendered), finalURL)
	if isChallengePage(title, content) {
		return nil, fmt.Errorf("%s served a challenge page: %w", pageURL, ErrBotBlocked)
	}

	return &Page{
		URL:     pageURL,
		Title:   title,
		Content: content,
		Links:   extractLinks([]byte(rendered), finalURL),
	}, nil
}

// Close shuts down the headless browser process.
func (f *RodFetcher) Close() {
	_ = f.browser.Close()
}

func isChallengePage(title, content string) bool {
	haystack := strings.ToLower(title)
	if len(content) > 512 {
		content = content[:512]
	}
	haystack += " " + strings.ToLower(content)
	for _, sig := range challengeSignatures {
		if strings.Contains(haystack, sig) {
			return true
		}
	}
	return false
}
