// Package fetch performs outbound HTTP requests with bounded retries. HTTP 429
// and transport failures are retried with linear backoff; every other non-2xx
// response fails immediately.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"rbx-avatar-renderer/internal/apperr"
)

// snippetLen caps the body excerpt attached to status failures.
const snippetLen = 200

// Attempt outcomes reported to an Observer.
const (
	OutcomeOK           = "ok"
	OutcomeRateLimited  = "rate_limited"
	OutcomeNetworkError = "network_error"
	OutcomeStatusError  = "status_error"
)

// Observer receives one call per attempt.
type Observer interface {
	ObserveFetch(host, outcome string)
}

// Request describes one outbound call.
type Request struct {
	Method string
	URL    string
	Body   []byte
	Header http.Header
}

// Response is a successful (2xx) reply with its body fully read.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client is a retrying HTTP client. The zero value is not usable; use New.
type Client struct {
	http     *http.Client
	logger   *zap.Logger
	limiter  *rate.Limiter
	sleep    SleepFunc
	observer Observer
	header   http.Header
	attempts int
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithLimiter paces every attempt through l.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithSleep replaces the backoff sleep; tests use it to record delays.
func WithSleep(s SleepFunc) Option {
	return func(c *Client) { c.sleep = s }
}

// WithObserver reports attempt outcomes to o.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithMaxAttempts overrides the attempt budget of the built-in policies.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.attempts = n }
}

// WithDefaultHeader adds a header sent on every request.
func WithDefaultHeader(key, value string) Option {
	return func(c *Client) { c.header.Add(key, value) }
}

// New returns a Client with a 30s transport timeout unless overridden.
func New(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: zap.NewNop(),
		sleep:  sleepContext,
		header: make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "fetch"))
	return c
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
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

type headerKey struct{}

// WithHeaders returns a context whose requests carry h in addition to the
// client's default headers.
func WithHeaders(ctx context.Context, h http.Header) context.Context {
	if prev, ok := ctx.Value(headerKey{}).(http.Header); ok {
		merged := prev.Clone()
		for k, vs := range h {
			for _, v := range vs {
				merged.Add(k, v)
			}
		}
		h = merged
	}
	return context.WithValue(ctx, headerKey{}, h)
}

// Do performs req under policy p.
func (c *Client) Do(ctx context.Context, req Request, p Policy) (*Response, error) {
	p = p.normalized()
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	host := hostOf(req.URL)

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("fetch: wait for pacing: %w", err)
			}
		}

		status, header, body, err := c.roundTrip(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch: %s: %w", req.URL, ctx.Err())
			}
			c.observe(host, OutcomeNetworkError)
			lastErr = err
			if attempt == p.MaxAttempts {
				break
			}
			delay := p.NetworkBackoff * time.Duration(attempt)
			c.logger.Debug("transport error, retrying",
				zap.String("url", req.URL),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch: %s: %w", req.URL, err)
			}
			continue
		}

		if status == http.StatusTooManyRequests {
			c.observe(host, OutcomeRateLimited)
			lastErr = nil
			if attempt == p.MaxAttempts {
				break
			}
			delay := p.RateLimitBackoff * time.Duration(attempt)
			c.logger.Debug("rate limited, retrying",
				zap.String("url", req.URL),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.MaxAttempts),
				zap.Duration("delay", delay))
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("fetch: %s: %w", req.URL, err)
			}
			continue
		}
		if status < 200 || status > 299 {
			c.observe(host, OutcomeStatusError)
			return nil, statusError(req, status, body)
		}

		c.observe(host, OutcomeOK)
		return &Response{Status: status, Header: header, Body: body}, nil
	}

	if lastErr != nil {
		c.logger.Warn("transport retries exhausted", zap.String("url", req.URL), zap.Error(lastErr))
		return nil, apperr.Wrap(apperr.TransientNetwork,
			fmt.Sprintf("network failure after %d attempts", p.MaxAttempts), lastErr)
	}
	c.logger.Warn("rate limit retries exhausted", zap.String("url", req.URL), zap.Int("attempts", p.MaxAttempts))
	return nil, apperr.New(apperr.RateLimited, "rate limited (429), try again in a few seconds").
		WithStatus(http.StatusTooManyRequests)
}

func (c *Client) roundTrip(ctx context.Context, req Request) (int, http.Header, []byte, error) {
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hr, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, vs := range c.header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if extra, ok := ctx.Value(headerKey{}).(http.Header); ok {
		for k, vs := range extra {
			for _, v := range vs {
				hr.Header.Add(k, v)
			}
		}
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return 0, nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, data, nil
}

func (c *Client) observe(host, outcome string) {
	if c.observer != nil {
		c.observer.ObserveFetch(host, outcome)
	}
}

func statusError(req Request, status int, body []byte) error {
	kind := apperr.BadUpstream
	if status == http.StatusNotFound {
		kind = apperr.NotFound
	}
	return apperr.Newf(kind, "%s %s: upstream returned %d", req.Method, req.URL, status).
		WithStatus(status).
		WithDetails(Snippet(body))
}

// Snippet returns at most the first 200 bytes of body as text.
func Snippet(body []byte) string {
	if len(body) > snippetLen {
		body = body[:snippetLen]
	}
	return string(body)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// GetBytes fetches a binary payload under the asset policy.
func (c *Client) GetBytes(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL}, AssetPolicy().WithMaxAttempts(c.attempts))
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetText fetches a text payload under the asset policy.
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	b, err := c.GetBytes(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// GetJSON fetches rawURL under the JSON policy and decodes the reply into v.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	return c.doJSON(ctx, Request{Method: http.MethodGet, URL: rawURL}, v)
}

// PostJSON sends body as JSON under the JSON policy and decodes the reply into v.
func (c *Client) PostJSON(ctx context.Context, rawURL string, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fetch: encode request body: %w", err)
	}
	req := Request{
		Method: http.MethodPost,
		URL:    rawURL,
		Body:   payload,
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
	return c.doJSON(ctx, req, v)
}

// GetRawJSON fetches rawURL under the JSON policy and returns the body after
// checking that it is well-formed JSON.
func (c *Client) GetRawJSON(ctx context.Context, rawURL string) (json.RawMessage, error) {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, URL: rawURL}, JSONPolicy().WithMaxAttempts(c.attempts))
	if err != nil {
		return nil, err
	}
	if !json.Valid(resp.Body) {
		return nil, apperr.Newf(apperr.BadUpstream, "malformed response from %s", rawURL).
			WithDetails(Snippet(resp.Body))
	}
	return json.RawMessage(resp.Body), nil
}

func (c *Client) doJSON(ctx context.Context, req Request, v any) error {
	resp, err := c.Do(ctx, req, JSONPolicy().WithMaxAttempts(c.attempts))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return apperr.Wrap(apperr.BadUpstream, fmt.Sprintf("malformed response from %s", req.URL), err).
			WithDetails(Snippet(resp.Body))
	}
	return nil
}
