// Package brokerage implements the third-party brokerage order API client.
// Requests are funneled through a rate-limiting worker so concurrent
// account jobs cannot trip the vendor's request quota.
package brokerage

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/helmsman/internal/domain"
	"github.com/rs/zerolog"
)

const (
	rateLimitDelay   = 500 * time.Millisecond // Minimum gap between requests
	requestQueueSize = 100
)

// requestJob is one queued API call.
type requestJob struct {
	ctx      context.Context
	path     string
	params   interface{}
	resultCh chan requestResult
}

type requestResult struct {
	body []byte
	err  error
}

// Client is the brokerage REST client.
type Client struct {
	baseURL      string
	apiKey       string
	apiSecret    string
	httpClient   *http.Client
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// Compile-time check against the domain interface.
var _ domain.BrokerageClient = (*Client)(nil)

// NewClient creates a new brokerage client and starts its rate-limiting
// worker.
func NewClient(baseURL, apiKey, apiSecret string, log zerolog.Logger) *Client {
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          log.With().Str("client", "brokerage").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}

	go c.worker()

	return c
}

// Close stops the rate limiting worker. Queued jobs that never reached
// the worker are failed, not dropped, so no requester stays blocked.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		<-c.workerDone
		c.drainQueue()
	})
}

// worker serializes requests with a fixed delay between them.
func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequest time.Time
	for {
		select {
		case <-c.stopChan:
			c.drainQueue()
			return
		case job := <-c.requestQueue:
			if wait := rateLimitDelay - time.Since(lastRequest); wait > 0 {
				select {
				case <-time.After(wait):
				case <-c.stopChan:
					job.resultCh <- requestResult{err: fmt.Errorf("client is closed")}
					c.drainQueue()
					return
				}
			}
			lastRequest = time.Now()

			body, err := c.execute(job.ctx, job.path, job.params)
			job.resultCh <- requestResult{body: body, err: err}
		}
	}
}

// drainQueue replies to every job still queued. Result channels are
// buffered, so the sends never block.
func (c *Client) drainQueue() {
	for {
		select {
		case job := <-c.requestQueue:
			job.resultCh <- requestResult{err: fmt.Errorf("client is closed")}
		default:
			return
		}
	}
}

// request queues an API call and waits for its result.
func (c *Client) request(ctx context.Context, path string, params, out interface{}) error {
	resultCh := make(chan requestResult, 1)
	job := requestJob{ctx: ctx, path: path, params: params, resultCh: resultCh}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return fmt.Errorf("client is closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case result := <-resultCh:
		if result.err != nil {
			return result.err
		}
		if out != nil {
			if err := json.Unmarshal(result.body, out); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", path, err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// execute performs the signed HTTP call. 429 and 5xx responses are marked
// retryable; everything else surfaces as-is with the vendor message.
func (c *Client) execute(ctx context.Context, path string, params interface{}) ([]byte, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request for %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("X-API-SIGN", c.sign(payload))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Retryable(fmt.Errorf("request to %s failed: %w", path, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Retryable(fmt.Errorf("failed to read %s response: %w", path, err))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, domain.Retryable(fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 120)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 120))
	}

	return body, nil
}

// sign computes the HMAC-SHA256 request signature.
func (c *Client) sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
