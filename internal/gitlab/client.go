package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/kurihiro0119/gitlab-inventory/internal/errors"
)

const (
	apiPrefix         = "/api/v4"
	userAgent         = "gitlab-inventory"
	defaultPerPage    = 100
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultBackoff    = 500 * time.Millisecond
	maxBackoff        = 30 * time.Second
	maxRetryAfter     = 5 * time.Minute
)

// Client is an authenticated GitLab REST v4 client with pagination, retries,
// per-request timeouts and a shared rate limit gate. It is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    RateLimiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimiter sets the limiter every request waits on.
func WithRateLimiter(l RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithTimeout sets the upper bound of a single request attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry sets how many times a transient failure is retried and the initial backoff,
// which doubles on every attempt.
func WithRetry(maxRetries int, backoff time.Duration) Option {
	return func(c *Client) {
		if maxRetries >= 0 {
			c.maxRetries = maxRetries
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithLogger sets the logger used for request diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the GitLab instance at baseURL
// (e.g. https://gitlab.com). The /api/v4 suffix is added when missing.
func NewClient(baseURL, token string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("invalid GitLab URL %q", baseURL))
	}
	if !strings.HasSuffix(u.Path, apiPrefix) {
		u.Path += apiPrefix
	}

	c := &Client{
		baseURL:    u.String(),
		token:      token,
		httpClient: &http.Client{},
		limiter:    NewRateLimiter(0),
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
		backoff:    defaultBackoff,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Page is one page of a list endpoint.
type Page struct {
	Items []json.RawMessage
	// Next is the absolute URL of the following page, empty on the last page.
	Next string
	// Total and TotalPages come from X-Total / X-Total-Pages; -1 when GitLab omitted them.
	Total      int
	TotalPages int
}

// ListInfo describes a completed (possibly capped) walk over a list endpoint.
type ListInfo struct {
	Pages      int
	Truncated  bool
	Total      int
	TotalPages int
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// Get fetches the first page of a list endpoint.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (*Page, error) {
	return c.GetPage(ctx, c.endpoint(path, withPerPage(params)))
}

// GetPage fetches the page at an absolute URL, typically Page.Next.
func (c *Client) GetPage(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := c.do(ctx, http.MethodGet, pageURL)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.body, &items); err != nil {
		return nil, apperrors.NewMalformedResponseError(
			fmt.Sprintf("decode page %s", redact(pageURL)), err)
	}

	return &Page{
		Items:      items,
		Next:       nextPageURL(pageURL, resp.header),
		Total:      headerInt(resp.header, "X-Total"),
		TotalPages: headerInt(resp.header, "X-Total-Pages"),
	}, nil
}

// Each walks a list endpoint page by page and calls fn for every item.
// maxPages <= 0 means no cap. Returning an error from fn stops the walk.
func (c *Client) Each(ctx context.Context, path string, params url.Values, maxPages int, fn func(item json.RawMessage) error) (ListInfo, error) {
	info := ListInfo{Total: -1, TotalPages: -1}
	next := c.endpoint(path, withPerPage(params))

	for next != "" {
		if maxPages > 0 && info.Pages >= maxPages {
			info.Truncated = true
			break
		}

		page, err := c.GetPage(ctx, next)
		if err != nil {
			return info, err
		}
		info.Pages++
		if info.Pages == 1 {
			info.Total = page.Total
			info.TotalPages = page.TotalPages
		}

		for _, item := range page.Items {
			if err := fn(item); err != nil {
				return info, err
			}
		}
		next = page.Next
	}

	return info, nil
}

// ListAll walks a list endpoint and decodes every item into T.
func ListAll[T any](ctx context.Context, c *Client, path string, params url.Values, maxPages int) ([]T, ListInfo, error) {
	var out []T
	info, err := c.Each(ctx, path, params, maxPages, func(item json.RawMessage) error {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			return apperrors.NewMalformedResponseError(fmt.Sprintf("decode item of %s", path), err)
		}
		out = append(out, v)
		return nil
	})
	return out, info, err
}

// GetSingle fetches a single object and decodes it into v.
func (c *Client) GetSingle(ctx context.Context, path string, params url.Values, v any) error {
	rawURL := c.endpoint(path, params)
	resp, err := c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.body, v); err != nil {
		return apperrors.NewMalformedResponseError(fmt.Sprintf("decode %s", path), err)
	}
	return nil
}

// Count returns the number of items of a list endpoint using the X-Total header
// of a single-item page. known is false when GitLab did not report a total
// (it omits X-Total above 10,000 items) and the first page was not the last.
func (c *Client) Count(ctx context.Context, path string, params url.Values) (n int, known bool, err error) {
	q := cloneValues(params)
	q.Set("per_page", "1")
	q.Set("page", "1")

	page, err := c.GetPage(ctx, c.endpoint(path, q))
	if err != nil {
		return 0, false, err
	}
	if page.Total >= 0 {
		return page.Total, true, nil
	}
	if page.Next == "" {
		return len(page.Items), true, nil
	}
	return 0, false, nil
}

// Head issues a HEAD request and returns the response headers.
func (c *Client) Head(ctx context.Context, path string, params url.Values) (http.Header, error) {
	resp, err := c.do(ctx, http.MethodHead, c.endpoint(path, params))
	if err != nil {
		return nil, err
	}
	return resp.header, nil
}

// CurrentUser returns the user owning the token. It is the cheapest call that
// fails with AUTH_FAILURE for a bad token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.GetSingle(ctx, "/user", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) endpoint(path string, params url.Values) string {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

// do runs one logical request: it waits on the rate limiter, retries transient
// failures with exponential backoff and keeps retrying 429 responses.
func (c *Client) do(ctx context.Context, method, rawURL string) (*response, error) {
	var lastErr error
	attempt := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := c.roundTrip(ctx, method, rawURL)
		if err == nil {
			c.logger.Debug("gitlab request", "method", method, "url", redact(rawURL),
				"status", resp.status, "elapsed", time.Since(start))
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if apperrors.IsRateLimited(err) {
			wait := retryAfter(err, c.backoff)
			c.logger.Warn("rate limited by GitLab, backing off", "url", redact(rawURL), "wait", wait)
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}
		if !apperrors.IsRetryable(err) {
			return nil, err
		}

		lastErr = err
		attempt++
		if attempt > c.maxRetries {
			break
		}
		wait := c.backoffFor(attempt)
		c.logger.Debug("retrying gitlab request", "method", method, "url", redact(rawURL),
			"attempt", attempt, "wait", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	msg := fmt.Sprintf("%s %s failed after %d attempts", method, redact(rawURL), attempt)
	if apperrors.IsTimeout(lastErr) {
		return nil, apperrors.NewTimeoutError(msg, lastErr)
	}
	return nil, apperrors.NewRemoteUnavailableError(msg, statusOf(lastErr), lastErr)
}

func (c *Client) roundTrip(ctx context.Context, method, rawURL string) (*response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, rawURL, nil)
	if err != nil {
		return nil, apperrors.NewBadRequestError(fmt.Sprintf("build request %s: %v", redact(rawURL), err))
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(reqCtx, rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(reqCtx, rawURL, err)
	}

	c.updateRateLimit(resp.Header)

	if err := checkStatus(rawURL, resp); err != nil {
		return nil, err
	}
	return &response{status: resp.StatusCode, header: resp.Header, body: body}, nil
}

func (c *Client) updateRateLimit(h http.Header) {
	remaining, err := strconv.Atoi(h.Get("RateLimit-Remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.ParseInt(h.Get("RateLimit-Reset"), 10, 64)
	if err != nil {
		return
	}
	c.limiter.UpdateLimit(remaining, time.Unix(reset, 0))
}

func (c *Client) backoffFor(attempt int) time.Duration {
	d := c.backoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func checkStatus(rawURL string, resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return apperrors.NewRateLimitedError(redact(rawURL), parseRetryAfter(resp.Header))
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return apperrors.NewAuthFailureError(fmt.Sprintf("%s returned %d", redact(rawURL), code), code)
	case code == http.StatusNotFound:
		return apperrors.NewNotFoundError(redact(rawURL))
	case code >= 500:
		return apperrors.NewRemoteUnavailableError(fmt.Sprintf("%s returned %d", redact(rawURL), code), code, nil)
	default:
		e := apperrors.NewBadRequestError(fmt.Sprintf("%s returned %d", redact(rawURL), code))
		e.Status = code
		return e
	}
}

func transportError(reqCtx context.Context, rawURL string, err error) error {
	var netErr net.Error
	if errors.Is(reqCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.NewTimeoutError(fmt.Sprintf("%s timed out", redact(rawURL)), err)
	}
	return apperrors.NewRemoteUnavailableError(fmt.Sprintf("%s: network error", redact(rawURL)), 0, err)
}

func parseRetryAfter(h http.Header) time.Duration {
	if s, err := strconv.Atoi(h.Get("Retry-After")); err == nil && s >= 0 {
		return min(time.Duration(s)*time.Second, maxRetryAfter)
	}
	if reset, err := strconv.ParseInt(h.Get("RateLimit-Reset"), 10, 64); err == nil {
		if d := time.Until(time.Unix(reset, 0)); d > 0 {
			return min(d, maxRetryAfter)
		}
	}
	return 0
}

func retryAfter(err error, fallback time.Duration) time.Duration {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		return appErr.RetryAfter
	}
	return fallback
}

func statusOf(err error) int {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return 0
}

// nextPageURL prefers the Link rel="next" header (keyset pagination) and falls
// back to X-Next-Page (offset pagination).
func nextPageURL(current string, h http.Header) string {
	for _, link := range h.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segs := strings.Split(part, ";")
			if len(segs) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segs[0]), "<>")
			for _, attr := range segs[1:] {
				if strings.TrimSpace(attr) == `rel="next"` {
					return target
				}
			}
		}
	}

	next := strings.TrimSpace(h.Get("X-Next-Page"))
	if next == "" {
		return ""
	}
	u, err := url.Parse(current)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("page", next)
	u.RawQuery = q.Encode()
	return u.String()
}

func headerInt(h http.Header, key string) int {
	v := strings.TrimSpace(h.Get(key))
	if v == "" {
		return -1
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

func withPerPage(params url.Values) url.Values {
	q := cloneValues(params)
	if q.Get("per_page") == "" {
		q.Set("per_page", strconv.Itoa(defaultPerPage))
	}
	return q
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+2)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// redact strips the query string so private parameters never reach logs.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// ProjectPath returns the API path of a project sub-resource, e.g. ProjectPath(42, "/repository/tree").
func ProjectPath(id int, suffix string) string {
	return "/projects/" + strconv.Itoa(id) + suffix
}

// GroupPath returns the API path of a group sub-resource. ref may be a numeric id or a full path.
func GroupPath(ref string, suffix string) string {
	return "/groups/" + url.PathEscape(ref) + suffix
}

// FilePath returns the API path of a repository file.
func FilePath(projectID int, filePath string) string {
	return ProjectPath(projectID, "/repository/files/"+url.PathEscape(filePath))
}
