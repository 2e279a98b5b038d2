// Package client is the HTTP transport for the QuickBase REST API.
//
// A Client sends one logical request and takes care of the plumbing around
// it: realm and auth headers, proactive throttling, a token-bucket rate
// limiter, retries with exponential backoff on 429/5xx/network failures,
// per-attempt timeouts, debug logging and optional Prometheus metrics.
//
// Failures are returned as *core.QuickbaseError or one of its subtypes.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/DrewBradfordXYZ/quickbase-local/auth"
	"github.com/DrewBradfordXYZ/quickbase-local/core"
)

// DefaultBaseURL is the QuickBase REST API root.
const DefaultBaseURL = "https://api.quickbase.com/v1"

const defaultUserAgent = "quickbase-local-go/1.0"

// Request is one logical call to the API.
type Request struct {
	Method string
	// Path is relative to the base URL, e.g. "/records/query".
	Path  string
	Query url.Values
	// Body is marshalled as JSON when non-nil.
	Body any
	// AppToken is sent as QB-App-Token when set.
	AppToken string
	// Debug forces debug logging for this request only.
	Debug bool
}

// Client sends requests to QuickBase.
type Client struct {
	auth       auth.Strategy
	realm      string
	baseURL    string
	userAgent  string
	httpClient *http.Client
	timeout    time.Duration

	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	backoffMult  float64

	limiter  *rate.Limiter
	throttle Throttle
	readOnly bool

	logger      *core.Logger
	metrics     *Metrics
	onRateLimit func(core.RateLimitInfo)
}

// Option configures a Client.
type Option func(*Client)

// WithMaxRetries sets the maximum number of retries after the first attempt (default 3).
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = max(n, 0)
	}
}

// WithRetryDelay sets the base delay between retries (default 1s).
func WithRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.initialDelay = d
	}
}

// WithMaxRetryDelay caps the delay between retries (default 30s).
func WithMaxRetryDelay(d time.Duration) Option {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithBackoffMultiplier sets the exponential backoff multiplier (default 2).
func WithBackoffMultiplier(m float64) Option {
	return func(c *Client) {
		if m >= 1 {
			c.backoffMult = m
		}
	}
}

// WithTimeout sets the per-attempt timeout (default 30s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRateLimit sets the token-bucket limiter: rps requests per second with
// the given burst. A non-positive rps disables the limiter.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithProactiveThrottle enables a sliding window throttle of
// requestsPer10Seconds, QuickBase's documented per-token limit being 100.
func WithProactiveThrottle(requestsPer10Seconds int) Option {
	return func(c *Client) {
		c.throttle = NewSlidingWindowThrottle(requestsPer10Seconds, 10*time.Second)
	}
}

// WithThrottle sets a custom throttle.
func WithThrottle(t Throttle) Option {
	return func(c *Client) {
		c.throttle = t
	}
}

// WithBaseURL sets a custom base URL (default https://api.quickbase.com/v1).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithLogger sets the logger used for debug and warning output.
func WithLogger(l *core.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithDebug enables debug logging to stderr.
func WithDebug(enabled bool) Option {
	return func(c *Client) {
		c.logger = core.NewLogger(enabled)
	}
}

// WithMetrics records request counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithOnRateLimit sets a callback invoked on every 429 response.
func WithOnRateLimit(callback func(core.RateLimitInfo)) Option {
	return func(c *Client) {
		c.onRateLimit = callback
	}
}

// WithReadOnly rejects every request that could modify data.
func WithReadOnly(enabled bool) Option {
	return func(c *Client) {
		c.readOnly = enabled
	}
}

// ValidateRealm checks that realm is a bare realm name, not a hostname.
func ValidateRealm(realm string) error {
	if realm == "" {
		return fmt.Errorf("realm is required")
	}
	if strings.Contains(realm, ".") {
		return fmt.Errorf("realm %q should be the subdomain only (e.g. %q), not a hostname", realm, strings.SplitN(realm, ".", 2)[0])
	}
	return nil
}

// New creates a client for realm.
func New(realm string, strategy auth.Strategy, opts ...Option) (*Client, error) {
	if err := ValidateRealm(realm); err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, fmt.Errorf("an auth strategy is required")
	}

	c := &Client{
		auth:         strategy,
		realm:        realm,
		baseURL:      DefaultBaseURL,
		userAgent:    defaultUserAgent,
		httpClient:   http.DefaultClient,
		timeout:      30 * time.Second,
		maxRetries:   3,
		initialDelay: time.Second,
		maxDelay:     30 * time.Second,
		backoffMult:  2,
		limiter:      rate.NewLimiter(10, 50),
		throttle:     NewNoOpThrottle(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = core.NewLogger(false)
	}
	if c.throttle == nil {
		c.throttle = NewNoOpThrottle()
	}
	return c, nil
}

// Realm returns the realm the client talks to.
func (c *Client) Realm() string {
	return c.realm
}

// Logger returns the client's logger.
func (c *Client) Logger() *core.Logger {
	return c.logger
}

// Do sends req, retrying transient failures, and decodes a successful JSON
// response into out (which may be nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if err := c.checkReadOnly(req.Method, req.Path); err != nil {
		return err
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	logger := c.logger.WithDebug(req.Debug)
	requestID := uuid.NewString()
	dbid := extractDBID(req.Query, body)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if err := c.throttle.Acquire(ctx); err != nil {
			return fmt.Errorf("throttle: %w", err)
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("rate limiter: %w", err)
			}
		}

		token, err := c.auth.GetToken(ctx, dbid)
		if err != nil {
			return fmt.Errorf("getting auth token: %w", err)
		}

		logger.Request(requestID, req.Method, target, body)
		resp, elapsed, err := c.send(ctx, req, target, body, token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.metrics.observe(req.Method, req.Path, 0, elapsed)
			lastErr = err
			if attempt > c.maxRetries {
				break
			}
			delay := c.calculateBackoff(attempt)
			c.metrics.retry(req.Method, req.Path, "network")
			logger.Retry(attempt, c.maxRetries, delay, err.Error())
			if err := sleep(ctx, delay); err != nil {
				return err
			}
			continue
		}

		c.metrics.observe(req.Method, req.Path, resp.StatusCode, elapsed)
		logger.Timing(requestID, req.Method, target, resp.StatusCode, elapsed)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return decodeResponse(resp, out)
		}

		apiErr := core.ParseErrorResponse(resp, target)
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized {
			newToken, err := c.auth.HandleAuthError(ctx, resp.StatusCode, dbid, attempt, c.maxRetries+1)
			if err != nil {
				return err
			}
			lastErr = apiErr
			if newToken != "" && attempt <= c.maxRetries {
				logger.Retry(attempt, c.maxRetries, 0, "401 unauthorized, retrying with refreshed token")
				continue
			}
			break
		}

		delay := c.calculateBackoff(attempt)
		var rl *core.RateLimitError
		if errors.As(apiErr, &rl) {
			rl.RateLimitInfo.Attempt = attempt
			logger.RateLimit(rl.RateLimitInfo)
			if c.onRateLimit != nil {
				c.onRateLimit(rl.RateLimitInfo)
			}
			if rl.RetryAfter > 0 {
				delay = time.Duration(rl.RetryAfter) * time.Second
			}
		}

		lastErr = apiErr
		if !core.IsRetryableError(apiErr) || attempt > c.maxRetries {
			break
		}
		c.metrics.retry(req.Method, req.Path, fmt.Sprint(resp.StatusCode))
		logger.Retry(attempt, c.maxRetries, delay, apiErr.Error())
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	return lastErr
}

// send performs a single attempt under the per-attempt timeout. The
// response body is fully buffered so the attempt context can be released.
func (c *Client) send(ctx context.Context, req Request, target string, body []byte, token string) (*http.Response, time.Duration, error) {
	attemptCtx := ctx
	cancel := context.CancelFunc(func() {})
	if c.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
	}
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("QB-Realm-Hostname", c.realm+".quickbase.com")
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if req.AppToken != "" {
		httpReq.Header.Set("QB-App-Token", req.AppToken)
	}
	c.auth.ApplyAuth(httpReq, token)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err == nil {
		var data []byte
		data, err = io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(data))
	}
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return nil, elapsed, core.NewTimeoutError(int(c.timeout.Milliseconds()), err)
		}
		return nil, elapsed, &core.QuickbaseError{Message: fmt.Sprintf("%s %s failed", req.Method, req.Path), Cause: err}
	}
	return resp, elapsed, nil
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// calculateBackoff returns initialDelay * backoffMult^(attempt-1), capped at
// maxDelay, with ±10% jitter.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	base := float64(c.initialDelay) * math.Pow(c.backoffMult, float64(attempt-1))
	if c.maxDelay > 0 && base > float64(c.maxDelay) {
		base = float64(c.maxDelay)
	}
	jitter := base * 0.1 * (2*rand.Float64() - 1)
	return time.Duration(base + jitter)
}

func sleep(ctx context.Context, d time.Duration) error {
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

// extractDBID finds the table or app id a request targets, for strategies
// whose tokens are scoped per table. Query parameters win over the body.
func extractDBID(query url.Values, body []byte) string {
	if dbid := query.Get("tableId"); dbid != "" {
		return dbid
	}
	if dbid := query.Get("appId"); dbid != "" {
		return dbid
	}
	if len(body) == 0 {
		return ""
	}
	var target struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(body, &target); err != nil {
		return ""
	}
	if target.From != "" {
		return target.From
	}
	return target.To
}

// ReadOnlyError is returned when a write is attempted on a read-only client.
type ReadOnlyError struct {
	Method string
	Path   string
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("read-only mode: %s %s is not allowed", e.Method, e.Path)
}

// readOnlyPOSTPaths are POST endpoints that only read data.
var readOnlyPOSTPaths = map[string]bool{
	"/records/query": true,
	"/reports/run":   true,
	"/formula/run":   true,
}

func (c *Client) checkReadOnly(method, path string) error {
	if !c.readOnly {
		return nil
	}
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return nil
	case http.MethodPost:
		if readOnlyPOSTPaths[path] {
			return nil
		}
	}
	return &ReadOnlyError{Method: method, Path: path}
}
