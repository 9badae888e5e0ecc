package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	maxRetryAttempts = 3
	baseRetryDelay   = time.Second
	maxRetryAfter    = 120 * time.Second
)

// doWithRetry issues the request up to maxRetryAttempts times with
// exponential backoff, honoring Retry-After on throttled responses. The
// request is rebuilt per attempt because bodies are single-use. Responses
// with non-retryable statuses are returned to the caller untouched.
func doWithRetry(ctx context.Context, client *http.Client, build func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		req, err := build()
		if err != nil {
			return nil, err
		}

		resp, err := client.Do(req)
		var delay time.Duration
		if err != nil {
			lastErr = err
		} else if !isRetryableStatus(resp.StatusCode) {
			return resp, nil
		} else {
			lastErr = fmt.Errorf("unexpected status %s", resp.Status)
			delay = retryAfterHint(resp)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}

		if attempt == maxRetryAttempts {
			break
		}
		if delay == 0 {
			delay = baseRetryDelay << (attempt - 1)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", maxRetryAttempts, lastErr)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func retryAfterHint(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds <= 0 {
		return 0
	}
	delay := time.Duration(seconds) * time.Second
	if delay > maxRetryAfter {
		delay = maxRetryAfter
	}
	return delay
}
