// Package source hosts the per-dataset collectors and their shared
// rate-limited HTTP client.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/badgerdata/marketpipe/internal/metrics"
	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// Sentinel errors surfaced by the client for API-level failures.
var (
	ErrNotFound     = errors.New("source: not found")
	ErrUnauthorized = errors.New("source: unauthorized")
	ErrForbidden    = errors.New("source: forbidden")
)

const userAgent = "marketpipe/1.0 (+https://github.com/badgerdata/marketpipe)"

// maxResponseBytes caps upstream payloads; the SBA FOIA CSV is the largest
// at tens of MB.
const maxResponseBytes = 256 << 20

// Client is a rate-limited HTTP client shared by all collectors.
type Client struct {
	hc     *http.Client
	rl     *rate.Limiter
	retry  pipeline.RetryPolicy
	source string
}

// NewClient builds a client paced at rps requests per second for the named
// source. A nil retry policy disables retries.
func NewClient(source string, timeout time.Duration, rps float64, retry pipeline.RetryPolicy) *Client {
	limit := rate.Limit(rps)
	burst := 1
	if rps <= 0 {
		limit = rate.Inf
	} else if rps > 1 {
		burst = int(rps)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		hc:     &http.Client{Timeout: timeout},
		rl:     rate.NewLimiter(limit, burst),
		retry:  retry,
		source: source,
	}
}

// GetJSON fetches url and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	body, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.source, err)
	}
	return nil
}

// PostJSON sends payload as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, url string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", c.source, err)
	}
	body, err := c.do(ctx, http.MethodPost, url, data, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s response: %w", c.source, err)
	}
	return nil
}

// GetCSV fetches url and parses the body as CSV records. Records may have
// varying lengths; callers validate column counts themselves.
func (c *Client) GetCSV(ctx context.Context, url string) ([][]string, error) {
	body, err := c.do(ctx, http.MethodGet, url, nil, "")
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(body))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s csv: %w", c.source, err)
	}
	return records, nil
}

// do performs the request with rate limiting and retry, returning the body.
func (c *Client) do(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.rl.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		body, retryAfter, err := c.once(ctx, method, url, payload, contentType)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if c.retry == nil || !c.retry.ShouldRetry(err, attempt) {
			return nil, lastErr
		}
		wait := c.retry.Backoff(attempt)
		if retryAfter > wait {
			wait = retryAfter
		}
		if !sleepCtx(ctx, wait) {
			return nil, ctx.Err()
		}
	}
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, time.Duration, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/csv;q=0.9, */*;q=0.1")
	req.Header.Set("User-Agent", userAgent)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		return nil, 0, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close() //nolint:errcheck // read side already handled

	metrics.CountUpstreamRequest(c.source, resp.StatusCode)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, 0, fmt.Errorf("read response: %w", err)
		}
		return body, 0, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, 0, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, 0, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return nil, 0, ErrForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp), fmt.Errorf("%s %d: %w", url, resp.StatusCode, pipeline.ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, parseRetryAfter(resp), fmt.Errorf("upstream %s returned %d", url, resp.StatusCode)
	default:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, 0, fmt.Errorf("upstream %s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(snippet))
	}
}

// parseRetryAfter reads a seconds-valued Retry-After header.
func parseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// sleepCtx sleeps for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
