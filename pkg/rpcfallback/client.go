// Package rpcfallback provides an HTTP client that spreads requests over a
// list of node endpoints. A request is retried with exponential backoff on
// transient failures, fails over to the next endpoint on provider trouble,
// and surfaces node rejections to the caller unchanged. The client is sticky:
// after a failover, subsequent requests start from the endpoint that last
// worked.
package rpcfallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/flarelabs/simple-wallet/internal/metrics"
	"github.com/flarelabs/simple-wallet/pkg/wallet"
)

// RetryConfig defines retry behavior per endpoint.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffMultiple float64
}

// DefaultRetryConfig provides sensible defaults.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts:     3,
	InitialDelay:    500 * time.Millisecond,
	MaxDelay:        10 * time.Second,
	BackoffMultiple: 2.0,
}

// ErrorAction determines how to handle an error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

// HTTPError is a non-2xx node response. The body is preserved so callers can
// inspect node rejection reasons (e.g. mempool rules on a sendtx).
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// ClassifyError determines the action for a given error.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry // Should not happen
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests,
			httpErr.StatusCode == http.StatusForbidden,
			httpErr.StatusCode == http.StatusUnauthorized:
			return ActionFailover
		case httpErr.StatusCode >= 500:
			return ActionRetry
		default:
			// 4xx carries a node verdict (bad tx, unknown address); retrying
			// or switching endpoints would return the same answer
			return ActionFatal
		}
	}

	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") || strings.Contains(s, "quota") ||
		strings.Contains(s, "rate limit") || strings.Contains(s, "forbidden") {
		return ActionFailover
	}

	// Default to Retry (network, timeout, 5xx)
	return ActionRetry
}

// Client is a multi-endpoint HTTP client.
type Client struct {
	httpClient *http.Client
	endpoints  []string
	apiKey     string
	retry      RetryConfig
	log        *zap.Logger

	mu      sync.Mutex
	current int // index of the last endpoint that worked
}

// New creates a Client over the given endpoint base URLs.
func New(endpoints []string, apiKey string, timeout time.Duration, retry RetryConfig, log *zap.Logger) *Client {
	trimmed := make([]string, len(endpoints))
	for i, ep := range endpoints {
		trimmed[i] = strings.TrimRight(ep, "/")
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		endpoints:  trimmed,
		apiKey:     apiKey,
		retry:      retry,
		log:        log,
	}
}

// Endpoints returns the configured endpoint base URLs.
func (c *Client) Endpoints() []string {
	return c.endpoints
}

// GetJSON issues a GET against path on the current endpoint and decodes the
// JSON response into out. Fails over through the endpoint list on provider
// errors.
func (c *Client) GetJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response into
// out.
func (c *Client) PostJSON(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, payload, out)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	c.mu.Lock()
	start := c.current
	c.mu.Unlock()

	var lastErr error
	for i := 0; i < len(c.endpoints); i++ {
		idx := (start + i) % len(c.endpoints)
		endpoint := c.endpoints[idx]

		err := c.callWithRetry(ctx, endpoint, method, path, body, out)
		if err == nil {
			c.mu.Lock()
			c.current = idx
			c.mu.Unlock()
			return nil
		}

		lastErr = err
		if ClassifyError(err) == ActionFatal {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", wallet.ErrAllEndpointsFailed, lastErr)
		}

		metrics.RPCFailovers.WithLabelValues(endpoint).Inc()
		c.log.Warn("endpoint failed, trying next",
			zap.String("endpoint", endpoint),
			zap.String("path", path),
			zap.Error(err))
	}

	return fmt.Errorf("%w: %w", wallet.ErrAllEndpointsFailed, lastErr)
}

// callWithRetry executes one endpoint's request with exponential backoff on
// transient failures.
func (c *Client) callWithRetry(ctx context.Context, endpoint, method, path string, body []byte, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		err := c.call(ctx, endpoint, method, path, body, out)
		if err == nil {
			metrics.RPCRequests.WithLabelValues(endpoint, "success").Inc()
			return nil
		}

		lastErr = err
		metrics.RPCRequests.WithLabelValues(endpoint, "error").Inc()

		action := ClassifyError(err)
		if action == ActionFatal || action == ActionFailover {
			return err
		}

		if attempt == c.retry.MaxAttempts-1 {
			break
		}

		delay := c.backoff(attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) call(ctx context.Context, endpoint, method, path string, body []byte, out any) error {
	url := endpoint + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) backoff(attempt int) time.Duration {
	delay := float64(c.retry.InitialDelay) * math.Pow(c.retry.BackoffMultiple, float64(attempt))
	if delay > float64(c.retry.MaxDelay) {
		delay = float64(c.retry.MaxDelay)
	}
	return time.Duration(delay)
}
