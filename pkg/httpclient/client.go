// Package httpclient provides an HTTP client with retry and rate-limit
// handling for the OpenAI-compatible provider adapters.
//
// Transient errors (timeouts, 5xx) and rate limiting (429) are retried
// with exponential backoff and jitter; everything else surfaces to the
// caller immediately.
package httpclient

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"log/slog"
)

// Kind classifies a response for retry purposes.
type Kind int

const (
	// NoRetry means the response is final (success or permanent failure).
	NoRetry Kind = iota
	// Transient means a network-level or 5xx failure worth retrying.
	Transient
	// RateLimited means the provider signalled throttling (429).
	RateLimited
)

// ClassifyFunc maps a status code to a retry Kind.
type ClassifyFunc func(statusCode int) Kind

// DefaultClassify is the retry classification used unless overridden.
func DefaultClassify(statusCode int) Kind {
	switch statusCode {
	case http.StatusTooManyRequests:
		return RateLimited
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return Transient
	default:
		return NoRetry
	}
}

// Client wraps http.Client with bounded retries.
type Client struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	classify   ClassifyFunc
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying http.Client (timeouts live there).
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.client = client }
}

// WithMaxRetries sets the number of retry attempts after the first try.
func WithMaxRetries(max int) Option {
	return func(c *Client) { c.maxRetries = max }
}

// WithBaseDelay sets the initial backoff delay.
func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) { c.baseDelay = delay }
}

// WithClassify overrides the retry classification.
func WithClassify(f ClassifyFunc) Option {
	return func(c *Client) { c.classify = f }
}

// New creates a Client. Defaults: 3 retries, 1s base delay, factor 2,
// ±20% jitter.
func New(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 60 * time.Second},
		maxRetries: 3,
		baseDelay:  time.Second,
		classify:   DefaultClassify,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes the request, retrying transient and rate-limited failures.
// The request must have GetBody set for retries to replay the body
// (http.NewRequest does this for common body types).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// A cancelled or expired request is final, not transient.
			if ctxErr := req.Context().Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastResp, lastErr = nil, err
		} else if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		} else {
			kind := c.classify(resp.StatusCode)
			if kind == NoRetry {
				return resp, nil
			}
			lastResp, lastErr = resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    http.StatusText(resp.StatusCode),
				RateLimit:  kind == RateLimited,
			}
			if attempt < c.maxRetries {
				_ = resp.Body.Close()
			}
		}

		if attempt == c.maxRetries {
			break
		}

		delay := c.delay(attempt, lastResp)
		slog.Debug("Retrying HTTP request",
			"url", req.URL.Path,
			"attempt", attempt+1,
			"max_retries", c.maxRetries,
			"delay", delay)
		select {
		case <-req.Context().Done():
			return nil, req.Context().Err()
		case <-time.After(delay):
		}
	}

	if lastErr == nil {
		return lastResp, nil
	}
	if re, ok := lastErr.(*RetryableError); ok {
		re.Exhausted = true
		return lastResp, re
	}
	return lastResp, &RetryableError{Message: "request failed", Err: lastErr, Exhausted: true}
}

// delay computes exponential backoff with ±20% jitter, honoring a
// Retry-After header when present.
func (c *Client) delay(attempt int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}
	base := time.Duration(math.Pow(2, float64(attempt))) * c.baseDelay
	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(base))
	return base + jitter
}
