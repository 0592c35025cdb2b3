package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type httpStatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("llm request: http %d: %s", e.StatusCode, snippet(e.Body))
}

// transient reports 408, 429 and 5xx, which providers use for overload.
func (e *httpStatusError) transient() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// emptyContentError is returned when a 2xx reply carries no usable text,
// usually a refusal or a length cutoff.
type emptyContentError struct {
	Op           string
	FinishReason string
	Refusal      string
	Snippet      string
}

func (e *emptyContentError) Error() string {
	return fmt.Sprintf("%s: empty content (finish_reason=%q, refusal=%q, response_snippet=%s)",
		e.Op, e.FinishReason, e.Refusal, e.Snippet)
}

func (c *Client) completeWithRetry(ctx context.Context, req completionRequest, op string) (string, error) {
	limit := max(c.retryMaxAttempts, 1)
	var err error
	attempt := 0
	for attempt < limit {
		attempt++
		var text string
		if text, err = c.attempt(ctx, req, op); err == nil {
			return text, nil
		}
		wait, again := c.nextDelay(ctx, err, attempt)
		if !again || attempt == limit {
			if attempt == 1 {
				return "", err
			}
			break
		}
		if serr := c.sleep(ctx, wait); serr != nil {
			return "", serr
		}
	}
	return "", fmt.Errorf("%s: failed after %d attempts: %w", op, attempt, err)
}

func (c *Client) attempt(ctx context.Context, req completionRequest, op string) (string, error) {
	resp, raw, err := c.post(ctx, req)
	if err != nil {
		return "", err
	}
	got := resp.extract()
	if got.text == "" {
		return "", &emptyContentError{
			Op:           op,
			FinishReason: got.finishReason,
			Refusal:      got.refusal,
			Snippet:      snippet(string(raw)),
		}
	}
	return got.text, nil
}

// nextDelay decides whether err is worth another attempt and how long to
// wait first. A server-provided Retry-After wins over exponential backoff.
func (c *Client) nextDelay(ctx context.Context, err error, attempt int) (time.Duration, bool) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	var status *httpStatusError
	var empty *emptyContentError
	var netErr net.Error
	switch {
	case errors.As(err, &status):
		if !status.transient() {
			return 0, false
		}
		if status.RetryAfter > 0 {
			return c.clamp(status.RetryAfter), true
		}
	case errors.As(err, &empty):
	case errors.As(err, &netErr) && netErr.Timeout():
	default:
		return 0, false
	}
	return c.backoff(attempt), true
}

// backoff returns base * 2^(attempt-1), clamped to the configured maximum.
func (c *Client) backoff(attempt int) time.Duration {
	if c.retryBaseDelay <= 0 {
		return 0
	}
	shift := min(attempt-1, 16)
	return c.clamp(c.retryBaseDelay << shift)
}

func (c *Client) clamp(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case c.retryMaxDelay > 0 && d > c.retryMaxDelay:
		return c.retryMaxDelay
	default:
		return d
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(d)
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, n >= 0
	}
	when, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	d := time.Until(when)
	return d, d > 0
}
