// Package httpx provides an HTTP client with bounded retries for transient
// failures. Both provider SDKs accept it via option.WithHTTPClient, so retry
// policy lives in one place and SDK-internal retries stay disabled.
package httpx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// drainLimit bounds how much of a discarded response body is read before
	// closing it, so the connection can be reused without buffering huge bodies.
	drainLimit = 1 << 20
)

// Policy controls retry behavior for one logical request.
//
// Delay before retry attempt n is min(MaxDelay, BaseDelay * 2^n); a
// Retry-After header (seconds) on the failed response raises the delay to at
// least that value, even past MaxDelay.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultPolicy returns the policy used for provider calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
	}
}

func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 500 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// delay computes the sleep before retry number attempt (0-based).
func (p Policy) delay(attempt int, retryAfter time.Duration) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			d = p.MaxDelay
			break
		}
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

// Client issues HTTP requests with retries for transport errors and
// transient HTTP statuses (429, 502, 503, 504). The whole call, retries and
// backoff included, is bounded by Timeout unless the request context carries
// an earlier deadline.
//
// Non-retryable responses are returned as-is; status interpretation belongs
// to the caller.
type Client struct {
	policy  Policy
	timeout time.Duration
	base    *http.Client
	log     *slog.Logger
}

// NewClient returns a retrying client. timeout <= 0 means no overall bound
// beyond the request context. log may be nil.
func NewClient(policy Policy, timeout time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		policy:  policy.normalized(),
		timeout: timeout,
		base:    &http.Client{},
		log:     log,
	}
}

// retryableStatus reports whether the HTTP status indicates a transient
// condition worth retrying.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// retryAfter parses a Retry-After header carrying delay-seconds.
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// cancelBody ties a context cancel func to the response body lifetime so the
// overall-deadline context stays alive while the caller reads the body.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// Do executes the request with the client's retry policy.
//
// Retried: transport-level errors (connection reset, DNS, ...) and retryable
// statuses. Not retried: any other response, or a body that cannot be rewound.
// When retries are exhausted the last response (or error) is returned so the
// caller sees the real status. A deadline overrun fails with an error
// wrapping context.DeadlineExceeded.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		attemptReq := req.Clone(ctx)
		// Body-less requests (GetBody == nil) need no rewind.
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				cancel()
				return nil, err
			}
			attemptReq.Body = body
		}

		resp, err := c.base.Do(attemptReq)
		if err == nil && !retryableStatus(resp.StatusCode) {
			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}

		if ctx.Err() != nil {
			if resp != nil {
				drain(resp)
			}
			cancel()
			return nil, fmt.Errorf("httpx: request aborted: %w", ctx.Err())
		}

		var ra time.Duration
		status := 0
		if err != nil {
			lastErr = err
		} else {
			status = resp.StatusCode
			ra = retryAfter(resp)
		}

		rewindable := req.Body == nil || req.GetBody != nil
		if attempt >= c.policy.MaxRetries || !rewindable {
			if err != nil {
				cancel()
				return nil, lastErr
			}
			// Out of retries on a retryable status: hand the response back.
			resp.Body = &cancelBody{ReadCloser: resp.Body, cancel: cancel}
			return resp, nil
		}
		if resp != nil {
			drain(resp)
		}

		d := c.policy.delay(attempt, ra)
		c.log.Debug("httpx: retrying request",
			"method", req.Method,
			"url", req.URL.String(),
			"attempt", attempt+1,
			"status", status,
			"delay", d,
			"error", err,
		)

		select {
		case <-ctx.Done():
			cancel()
			return nil, fmt.Errorf("httpx: request aborted: %w", ctx.Err())
		case <-time.After(d):
		}
	}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	_ = resp.Body.Close()
}
