package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/pingback/internal/logging"
)

// SDKVersion is the version string advertised on every request.
const SDKVersion = "0.3.0"

// TokenBuffer is subtracted from the token expiry when judging validity,
// avoiding races with server-side expiry.
const TokenBuffer = 30 * time.Second

// Request headers.
const (
	headerFingerprint = "X-Client-Fingerprint"
	headerToken       = "X-Submission-Token"
	headerSDK         = "X-Pingback-SDK"
	headerRequestID   = "X-Request-ID"
	headerRateReset   = "X-RateLimit-Reset"
)

// Default per-operation timeouts, applied when the caller's context
// carries no earlier deadline.
const (
	defaultConfigTimeout = 10 * time.Second
	defaultSubmitTimeout = 15 * time.Second
)

// widgetIDPattern is the allow-list for widget identifiers. Checked before
// any URL is constructed, so a hostile identifier cannot inject path
// segments into the request.
var widgetIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// UserAgent returns the SDK identification string.
func UserAgent() string {
	return fmt.Sprintf("pingback-go/%s (%s; %s)", SDKVersion, runtime.GOOS, runtime.GOARCH)
}

// inflight is one coalesced config fetch. Joiners wait on done and then
// read config/err, which are written exactly once before done is closed.
type inflight struct {
	done   chan struct{}
	config *WidgetConfig
	err    error
}

// Client talks to the Pingback service. It owns the config cache, the
// in-flight request map, and the submission token; none of them are
// exposed to callers.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	logger        *logging.Logger
	configTimeout time.Duration
	submitTimeout time.Duration

	mu          sync.Mutex
	cache       *configCache
	inflights   map[string]*inflight
	token       string
	tokenExpiry time.Time
	fingerprint string

	now func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConfigTTL overrides the config cache TTL.
func WithConfigTTL(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = newConfigCache(ttl)
	}
}

// WithTimeouts overrides the per-operation timeouts.
func WithTimeouts(config, submit time.Duration) Option {
	return func(c *Client) {
		if config > 0 {
			c.configTimeout = config
		}
		if submit > 0 {
			c.submitTimeout = submit
		}
	}
}

// NewClient creates a client for the service at baseURL.
// A trailing slash on baseURL is stripped.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{},
		logger:        logging.Default().WithComponent("api"),
		configTimeout: defaultConfigTimeout,
		submitTimeout: defaultSubmitTimeout,
		cache:         newConfigCache(ConfigTTL),
		inflights:     make(map[string]*inflight),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetFingerprint stores the fingerprint attached to all subsequent
// requests. No validation; an empty value omits the header.
func (c *Client) SetFingerprint(value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fingerprint = value
}

// HasValidToken reports whether a usable submission token is held,
// applying the expiry buffer.
func (c *Client) HasValidToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasValidTokenLocked()
}

func (c *Client) hasValidTokenLocked() bool {
	if c.token == "" {
		return false
	}
	return c.now().Before(c.tokenExpiry.Add(-TokenBuffer))
}

// ClearCache drops all cached configs and the stored token.
// Used on full teardown.
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Clear()
	c.token = ""
	c.tokenExpiry = time.Time{}
}

// FetchConfig returns the widget's config, serving from cache when a
// non-expired entry exists and coalescing concurrent fetches for the
// same identifier into one request.
func (c *Client) FetchConfig(ctx context.Context, widgetID string) (*WidgetConfig, error) {
	return c.fetchConfig(ctx, widgetID, false)
}

// RefreshConfig fetches the widget's config bypassing the cache. It still
// joins an in-flight fetch for the same identifier if one exists.
func (c *Client) RefreshConfig(ctx context.Context, widgetID string) (*WidgetConfig, error) {
	return c.fetchConfig(ctx, widgetID, true)
}

func (c *Client) fetchConfig(ctx context.Context, widgetID string, force bool) (*WidgetConfig, error) {
	if err := validateWidgetID(widgetID); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !force {
		if config, ok := c.cache.Get(widgetID); ok {
			c.mu.Unlock()
			return config, nil
		}
	}

	if existing, ok := c.inflights[widgetID]; ok {
		c.mu.Unlock()
		return c.join(ctx, existing)
	}

	flight := &inflight{done: make(chan struct{})}
	c.inflights[widgetID] = flight
	c.mu.Unlock()

	config, err := c.doFetchConfig(ctx, widgetID)

	c.mu.Lock()
	flight.config = config
	flight.err = err
	delete(c.inflights, widgetID)
	c.mu.Unlock()
	close(flight.done)

	return config, err
}

// join waits for an in-flight fetch started by another caller.
func (c *Client) join(ctx context.Context, flight *inflight) (*WidgetConfig, error) {
	select {
	case <-flight.done:
		return flight.config, flight.err
	case <-ctx.Done():
		return nil, &NetworkError{Op: "fetch config", Err: ctx.Err()}
	}
}

// doFetchConfig performs the actual GET and updates cache and token state.
func (c *Client) doFetchConfig(ctx context.Context, widgetID string) (*WidgetConfig, error) {
	ctx, cancel := c.withTimeout(ctx, c.configTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/widgets/%s/config", c.baseURL, widgetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Op: "fetch config", Err: err}
	}
	c.setCommonHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "fetch config", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "fetch config", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.serverError(resp.StatusCode, body)
	}

	var envelope configEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &NetworkError{Op: "fetch config", Err: fmt.Errorf("malformed config response: %w", err)}
	}
	if envelope.WidgetID == "" {
		envelope.WidgetID = widgetID
	}
	config := &envelope.WidgetConfig

	c.mu.Lock()
	if envelope.SubmissionToken != "" {
		c.token = envelope.SubmissionToken
		c.tokenExpiry = time.Unix(envelope.TokenExpiresAt, 0)
	}
	c.cache.Set(widgetID, config)
	c.mu.Unlock()

	c.logger.Debug("fetched config for widget %s", widgetID)
	return config, nil
}

// SubmitFeedback posts one feedback submission. A missing or expired token
// triggers one config refresh first; a 403 that reads as a token rejection
// triggers one more refresh and exactly one retried POST.
func (c *Client) SubmitFeedback(ctx context.Context, widgetID string, sub Submission) (*SubmitResponse, error) {
	if err := validateWidgetID(widgetID); err != nil {
		return nil, err
	}

	if !c.HasValidToken() {
		if _, err := c.RefreshConfig(ctx, widgetID); err != nil {
			return nil, err
		}
	}

	token, ok := c.currentToken()
	if !ok {
		return nil, &ServerError{
			Status:  http.StatusForbidden,
			Message: ErrNoToken.Error(),
			Err:     ErrNoToken,
		}
	}

	resp, err := c.post(ctx, widgetID, sub, token)
	if err == nil {
		return resp, nil
	}

	var serverErr *ServerError
	if !errors.As(err, &serverErr) || serverErr.Status != http.StatusForbidden {
		return nil, err
	}
	if planLimitError(serverErr.Code) {
		// Subscription limit, not a token problem. Never retried.
		return nil, err
	}
	if !tokenRejected(serverErr.Message) {
		return nil, err
	}

	// The server rejected our token. Refresh once and retry once; if the
	// retry fails its error wins, and if no new token arrives the original
	// 403 stands.
	c.clearToken()
	c.logger.Debug("token rejected for widget %s, refreshing", widgetID)

	if _, refreshErr := c.RefreshConfig(ctx, widgetID); refreshErr != nil {
		return nil, err
	}
	token, ok = c.currentToken()
	if !ok {
		return nil, err
	}
	return c.post(ctx, widgetID, sub, token)
}

// post performs one feedback POST with the given token.
func (c *Client) post(ctx context.Context, widgetID string, sub Submission, token string) (*SubmitResponse, error) {
	ctx, cancel := c.withTimeout(ctx, c.submitTimeout)
	defer cancel()

	body, err := json.Marshal(sub)
	if err != nil {
		return nil, &NetworkError{Op: "submit feedback", Err: err}
	}
	// Stamp the client block onto the marshaled payload.
	body, _ = sjson.SetBytes(body, "client.sdk", UserAgent())
	body, _ = sjson.SetBytes(body, "client.submitted_at", c.now().Unix())

	url := fmt.Sprintf("%s/api/v1/widgets/%s/feedback", c.baseURL, widgetID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &NetworkError{Op: "submit feedback", Err: err}
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerToken, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "submit feedback", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Op: "submit feedback", Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: c.retryAfter(resp)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, c.serverError(resp.StatusCode, respBody)
	}

	// The server can accept-but-reject: HTTP success with a blocked flag.
	if gjson.GetBytes(respBody, "blocked").Bool() {
		return nil, &BlockedError{Message: gjson.GetBytes(respBody, "message").String()}
	}

	var result SubmitResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &NetworkError{Op: "submit feedback", Err: fmt.Errorf("malformed submit response: %w", err)}
	}
	return &result, nil
}

// setCommonHeaders attaches the headers every request carries.
func (c *Client) setCommonHeaders(req *http.Request) {
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set(headerSDK, SDKVersion)
	req.Header.Set(headerRequestID, uuid.NewString())

	c.mu.Lock()
	fp := c.fingerprint
	c.mu.Unlock()
	if fp != "" {
		req.Header.Set(headerFingerprint, fp)
	}
}

// currentToken returns the held token when it passes the expiry buffer.
func (c *Client) currentToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasValidTokenLocked() {
		return "", false
	}
	return c.token, true
}

// clearToken discards the held token.
func (c *Client) clearToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.tokenExpiry = time.Time{}
}

// withTimeout applies the operation timeout unless the caller's context
// already carries an earlier deadline.
func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(c.now().Add(d)) {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// retryAfter derives the wait duration from the rate-limit reset header,
// defaulting to 60 seconds when absent or unparsable.
func (c *Client) retryAfter(resp *http.Response) time.Duration {
	reset := resp.Header.Get(headerRateReset)
	if reset == "" {
		return 60 * time.Second
	}
	epoch, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return 60 * time.Second
	}
	wait := time.Unix(epoch, 0).Sub(c.now())
	if wait <= 0 {
		return 60 * time.Second
	}
	return wait
}

// serverError builds a ServerError from a failure response body, checking
// the detail, message, and error fields in order for a human-readable
// explanation before falling back to the raw status.
func (c *Client) serverError(status int, body []byte) *ServerError {
	message := ""
	for _, field := range []string{"detail", "message", "error"} {
		if v := gjson.GetBytes(body, field); v.Type == gjson.String && v.Str != "" {
			message = v.Str
			break
		}
	}
	if message == "" {
		message = fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	}
	return &ServerError{
		Status:  status,
		Message: message,
		Code:    gjson.GetBytes(body, "code").String(),
	}
}

// validateWidgetID enforces the identifier allow-list.
func validateWidgetID(widgetID string) error {
	if !widgetIDPattern.MatchString(widgetID) {
		return &ValidationError{
			Field:  "widgetId",
			Reason: "must be 1-64 characters of letters, digits, underscore, or hyphen",
		}
	}
	return nil
}

// planLimitError reports whether a 403 body carried a structured
// subscription or plan limit code. These are account problems, never
// token problems, so they must not trigger a token refresh.
func planLimitError(code string) bool {
	switch {
	case strings.HasPrefix(code, "plan_"),
		strings.HasPrefix(code, "subscription_"),
		code == "quota_exceeded":
		return true
	}
	return false
}

// tokenRejected reports whether a 403 message reads as a rejected or
// expired submission token.
func tokenRejected(message string) bool {
	m := strings.ToLower(message)
	if !strings.Contains(m, "token") {
		return false
	}
	return strings.Contains(m, "expire") ||
		strings.Contains(m, "invalid") ||
		strings.Contains(m, "reject") ||
		strings.Contains(m, "missing")
}
