// Package api talks to the chat backend over HTTP. It implements every
// operation the synchronization engine consumes, plus voice join/leave
// signalling.
//
// Two retryablehttp clients share one rate limiter. The poll client never
// retries, because a failed poll is simply repeated by the next tick. The
// action client retries a couple of times, since voice joins are triggered
// by the user and have no next tick.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
	"tools.zach/dev/chatsync/internal/logger"
	"tools.zach/dev/chatsync/internal/model"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrUnauthorized is returned when the backend rejects the session.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrStatus wraps any other non-2xx response.
	ErrStatus = errors.New("unexpected status")
)

// maxResponseBytes bounds every response body.
const maxResponseBytes = 4 << 20

// ///////////////////////////////////////////////
// Client
// ///////////////////////////////////////////////

// Options configures [New].
type Options struct {
	// BaseURL is the backend root, e.g. "https://chat.example.com".
	BaseURL string
	// SessionCookie is sent as the "session" cookie on every request.
	SessionCookie string
	// RequestsPerSecond caps the combined request rate. Zero disables the cap.
	RequestsPerSecond float64
	// Timeout bounds a single HTTP attempt. Zero means 15 seconds.
	Timeout time.Duration
}

// Client is the HTTP backend client. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	cookie  string
	poll    *retryablehttp.Client
	action  *retryablehttp.Client
	limiter *rate.Limiter
}

// New returns a Client for opts.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", opts.BaseURL)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = max(1, int(opts.RequestsPerSecond))
	}
	return &Client{
		base:    base,
		cookie:  opts.SessionCookie,
		poll:    newRetryClient(0, timeout),
		action:  newRetryClient(2, timeout),
		limiter: rate.NewLimiter(limit, burst),
	}, nil
}

// newRetryClient builds a retryablehttp client that hands non-2xx responses
// back to the caller instead of turning them into opaque errors.
func newRetryClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = retryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = timeout
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = traceLogger{l: slog.Default().With("component", "http")}
	return c
}

// traceLogger adapts slog to retryablehttp.LeveledLogger, demoting the
// per-request chatter to TRACE.
type traceLogger struct{ l *slog.Logger }

func (t traceLogger) Error(msg string, kv ...any) { t.l.Debug(msg, kv...) }
func (t traceLogger) Warn(msg string, kv ...any)  { t.l.Debug(msg, kv...) }
func (t traceLogger) Info(msg string, kv ...any)  { logger.Trace(t.l, msg, kv...) }
func (t traceLogger) Debug(msg string, kv ...any) { logger.Trace(t.l, msg, kv...) }

// ///////////////////////////////////////////////
// Request Plumbing
// ///////////////////////////////////////////////

// wait blocks until the limiter admits one request or ctx ends.
func (c *Client) wait(ctx context.Context) error {
	r := c.limiter.Reserve()
	if !r.OK() {
		return errors.New("invalid limiter configuration")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// endpoint joins path segments onto the base URL, escaping each segment.
func (c *Client) endpoint(query url.Values, segments ...string) string {
	u := *c.base
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	u.Path = c.base.Path + "/" + strings.Join(segments, "/")
	u.RawPath = c.base.EscapedPath() + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request and decodes a JSON response into out. It returns
// (false, nil) for 204 No Content.
func (c *Client) do(ctx context.Context, hc *retryablehttp.Client, method, target string, body, out any) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: "session", Value: c.cookie})
	}

	resp, err := hc.Do(req)
	if err != nil {
		return false, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("%s %s: %w", method, target, ErrUnauthorized)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, fmt.Errorf("%s %s: %w %d", method, target, ErrStatus, resp.StatusCode)
	}

	if out == nil {
		return true, nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return false, fmt.Errorf("reading response from %s: %w", target, err)
	}
	if len(data) > maxResponseBytes {
		return false, fmt.Errorf("response from %s exceeds %d bytes", target, maxResponseBytes)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("decoding response from %s: %w", target, err)
	}
	return true, nil
}

// pageQuery encodes a page request.
func pageQuery(q model.PageQuery) url.Values {
	v := url.Values{}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if !q.BeforeCreatedAt.IsZero() {
		v.Set("beforeCreatedAt", q.BeforeCreatedAt.UTC().Format(time.RFC3339Nano))
	}
	if q.BeforeID != "" {
		v.Set("beforeId", q.BeforeID)
	}
	return v
}
