// Package upstream owns the connection to the OpenAI-compatible backend:
// one process-wide pooled HTTP client, request dispatch with the client's
// pass-through credentials, and per-endpoint health bookkeeping for log
// visibility. It is the only shared mutable state in the gateway.
package upstream

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"claude-gateway/config"
	"claude-gateway/logger"
)

// Client is the shared upstream HTTP client.
type Client struct {
	httpClient *http.Client
	baseURL    string

	mu       sync.Mutex
	failures map[string]int // consecutive transport failures per endpoint
}

// NewClient builds the pooled client from configuration. The pool is
// created once at startup and treated as read-only afterwards.
func NewClient(cfg *config.Config) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectionTimeout,
		}).DialContext,
		IdleConnTimeout:     cfg.IdleConnectionTimeout,
		MaxIdleConnsPerHost: 8,
		ForceAttemptHTTP2:   true,
	}
	return &Client{
		// No overall client timeout: streaming responses legitimately run
		// for many minutes. Cancellation comes from the request context.
		httpClient: &http.Client{Transport: transport},
		baseURL:    strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		failures:   map[string]int{},
	}
}

// maxConnectRetries bounds the connection-level retry that may run before
// the first byte has been sent to our client; anything later must degrade
// through the stream instead.
const maxConnectRetries = 1

// Post sends a JSON body to baseURL+suffix with the pass-through API key.
// Transport-level failures (dial, TLS, timeout before response headers)
// are retried once; they are idempotent because the upstream never saw a
// complete request. The caller owns the response body.
func (c *Client) Post(ctx context.Context, suffix, apiKey string, body []byte) (*http.Response, error) {
	url := c.baseURL + suffix
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt <= maxConnectRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpClient.Do(req)
		if err == nil {
			c.recordSuccess(url)
			return resp, nil
		}
		lastErr = err
		c.recordFailure(url)
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
		if attempt < maxConnectRetries {
			log.Warn("upstream connect failed, retrying: %v", err)
			time.Sleep(250 * time.Millisecond)
		}
	}
	return nil, lastErr
}

func (c *Client) recordFailure(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[endpoint]++
	if c.failures[endpoint] >= 3 {
		logger.New().Warn("endpoint %s has failed %d consecutive requests", endpoint, c.failures[endpoint])
	}
}

func (c *Client) recordSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failures[endpoint] > 0 {
		logger.New().Info("endpoint %s recovered after %d failures", endpoint, c.failures[endpoint])
	}
	c.failures[endpoint] = 0
}

// ConsecutiveFailures reports the current failure streak for an endpoint
// path under the configured base URL.
func (c *Client) ConsecutiveFailures(suffix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures[c.baseURL+suffix]
}
