package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Authorizer attaches credentials to an outgoing request.
type Authorizer interface {
	AuthorizeRequest(req *http.Request)
}

// retryPolicy bounds how often and how long a read is retried.
type retryPolicy struct {
	attempts int           // retries after the first request
	base     time.Duration // first backoff, doubled per retry
	maxWait  time.Duration // ceiling for a server supplied Retry-After
}

// Client reads session and photo listings from the session REST API.
type Client struct {
	baseURL    string
	auth       Authorizer
	httpClient *http.Client
	logger     *slog.Logger
	retry      retryPolicy
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient returns a client for baseURL. auth may be nil for anonymous reads.
func NewClient(baseURL string, auth Authorizer, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     slog.Default(),
		retry: retryPolicy{
			attempts: 3,
			base:     time.Second,
			maxWait:  30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithRetries sets how many times a failed read is retried and the initial
// backoff between attempts.
func WithRetries(attempts int, base time.Duration) ClientOption {
	return func(c *Client) {
		c.retry.attempts = attempts
		c.retry.base = base
	}
}

// WithMaxRetryWait caps how long the client honors a Retry-After header.
func WithMaxRetryWait(d time.Duration) ClientOption {
	return func(c *Client) { c.retry.maxWait = d }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}
