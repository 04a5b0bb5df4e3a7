package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx reply from the session API. Message holds the
// service's "detail" field when the body carries one.
type APIError struct {
	StatusCode int
	Message    string
	Body       []byte

	// RetryAfter is the server requested wait, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("session api error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether the request may succeed if repeated.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// newAPIError decodes a failed response. The service reports errors as
// {"detail": "..."}; validation failures send a list of objects with a
// "msg" field instead.
func newAPIError(resp *http.Response, body []byte, now time.Time) *APIError {
	e := &APIError{
		StatusCode: resp.StatusCode,
		Message:    http.StatusText(resp.StatusCode),
		Body:       body,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(body, &payload) != nil || len(payload.Detail) == 0 {
		return e
	}

	var text string
	if json.Unmarshal(payload.Detail, &text) == nil && text != "" {
		e.Message = text
		return e
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(payload.Detail, &items) == nil {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			if it.Msg != "" {
				msgs = append(msgs, it.Msg)
			}
		}
		if len(msgs) > 0 {
			e.Message = strings.Join(msgs, "; ")
		}
	}
	return e
}

// parseRetryAfter accepts delta-seconds or an HTTP-date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// doRequest performs a single request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth.AuthorizeRequest(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, newAPIError(resp, body, time.Now())
	}
	return body, nil
}

// retryDelay returns the wait before retry n (1-based). A Retry-After on
// the last error wins over the computed backoff, capped at maxWait.
func (r retryPolicy) retryDelay(n int, lastErr *APIError) time.Duration {
	if lastErr != nil && lastErr.RetryAfter > 0 {
		if r.maxWait > 0 && lastErr.RetryAfter > r.maxWait {
			return r.maxWait
		}
		return lastErr.RetryAfter
	}
	if r.base <= 0 {
		return 0
	}
	d := r.base
	for i := 1; i < n && d <= math.MaxInt64/2; i++ {
		if r.maxWait > 0 && d >= r.maxWait {
			break
		}
		d *= 2
	}
	if r.maxWait > 0 && d > r.maxWait {
		d = r.maxWait
	}
	// Spread retries over [d/2, 3d/2).
	return d/2 + time.Duration(rand.Int64N(int64(d)))
}

// doWithRetry repeats doRequest while the API answers 5xx or 429.
// Transport errors and other statuses are returned immediately.
func (c *Client) doWithRetry(ctx context.Context, method, path string, query url.Values) ([]byte, error) {
	var apiErr *APIError
	for n := 0; ; n++ {
		if n > 0 {
			wait := c.retry.retryDelay(n, apiErr)
			c.logger.Debug("retrying session api request",
				"path", path,
				"attempt", n,
				"status", apiErr.StatusCode,
				"detail", apiErr.Message,
				"wait", wait,
			)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("%s %s: %w", method, path, ctx.Err())
			case <-timer.C:
			}
		}

		body, err := c.doRequest(ctx, method, path, query)
		if err == nil {
			return body, nil
		}
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, err
		}
		if n >= c.retry.attempts {
			return nil, fmt.Errorf("max retries exceeded after %d attempts: %w", n+1, err)
		}
	}
}

// get performs a GET with retries and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	body, err := c.doWithRetry(ctx, http.MethodGet, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
