// Package apiclient fetches records from the paginated HTTP API, following
// server-driven continuation cursors under a page cap.
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kmehring/go-dbapi-compare/config"
	"github.com/kmehring/go-dbapi-compare/models"
	"github.com/kmehring/go-dbapi-compare/progress"
)

const (
	applicationID      = "JAPP0XQADEV"
	applicationVersion = "0.1"

	bodyExcerptLimit = 240
	cursorCacheSize  = 512
)

// Page is one batch of records plus the continuation cursor; Next is empty
// when no more pages exist.
type Page struct {
	Items []models.Record
	Next  string
}

// Client issues one GET per page against the configured endpoint. The retry
// transport beneath it exhausts 429/5xx retries before Fetch classifies a
// response.
type Client struct {
	cfg     config.APIConfig
	client  *http.Client
	logger  *slog.Logger
	Metrics *Metrics
}

// NewClient builds a client for one endpoint configuration.
func NewClient(cfg config.APIConfig, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics := NewMetrics()
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: newRetryTransport(nil, cfg.MaxRetries, cfg.RetryBackoff, cfg.RetryBackoffMax, metrics),
		},
		logger:  logger,
		Metrics: metrics,
	}, nil
}

// Fetch starts the page sequence. The returned iterator is lazy, finite and
// non-restartable: every Next call may issue one network request. Cursor
// presence, page cap, and cancellation are checked at the top of every
// iteration. Config errors surface here, before any I/O.
func (c *Client) Fetch(ctx context.Context, fromISO, toISO string, token *progress.Token, sink *progress.Sink) (*PageIter, error) {
	startURL, err := c.buildURL(fromISO, toISO)
	if err != nil {
		return nil, err
	}

	seen, err := lru.New[string, struct{}](cursorCacheSize)
	if err != nil {
		return nil, fmt.Errorf("cursor cache: %w", err)
	}

	it := &PageIter{
		ctx:     ctx,
		client:  c,
		headers: c.headers(),
		next:    startURL,
		cap:     c.cfg.PageCap,
		token:   token,
		sink:    sink,
		seen:    seen,
	}

	if token.IsSet() {
		sink.Put("api: cancelled before start")
		it.done = true
	}
	return it, nil
}

// FetchAll drains the page sequence into one record set. A run cancelled
// mid-sequence yields what was collected so far with a nil error; fatal
// page errors surface as the iterator's error.
func (c *Client) FetchAll(ctx context.Context, fromISO, toISO string, token *progress.Token, sink *progress.Sink) (*models.RecordSet, error) {
	it, err := c.Fetch(ctx, fromISO, toISO, token, sink)
	if err != nil {
		return nil, err
	}

	var records []models.Record
	for {
		page, ok := it.Next()
		if !ok {
			break
		}
		records = append(records, page.Items...)
	}
	if err := it.Err(); err != nil {
		c.Metrics.IncError(errorTypeLabel(err))
		return nil, err
	}

	rs := models.FromRecords(records, nil)
	c.logger.Debug("api fetch complete",
		slog.Int("pages", it.Pages()),
		slog.Int("rows", rs.Len()),
		slog.Bool("page_cap_hit", it.PageCapHit()),
	)
	if !token.IsSet() {
		sink.Putf("api: %d rows received", rs.Len())
	}
	return rs, nil
}

// PageIter walks the continuation chain one page at a time.
type PageIter struct {
	ctx     context.Context
	client  *Client
	headers map[string]string
	next    string
	cap     int
	fetched int
	token   *progress.Token
	sink    *progress.Sink
	seen    *lru.Cache[string, struct{}]

	err    error
	done   bool
	capHit bool
}

// Next fetches the next page. It returns false when the sequence is
// exhausted, cancelled, or failed; check Err afterwards.
func (it *PageIter) Next() (*Page, bool) {
	if it.done {
		return nil, false
	}
	if it.token.IsSet() {
		it.done = true
		return nil, false
	}
	if it.next == "" {
		it.done = true
		return nil, false
	}
	if it.fetched >= it.cap {
		// Not an error: the cursor chain was truncated deliberately.
		it.done = true
		it.capHit = true
		it.sink.Put("api: page cap reached - stopping to avoid unbounded loops")
		return nil, false
	}

	it.seen.Add(it.next, struct{}{})
	it.sink.Put("GET " + it.next)

	page, err := it.client.getPage(it.ctx, it.next, it.headers)
	if err != nil {
		it.err = err
		it.done = true
		return nil, false
	}
	it.fetched++
	it.client.Metrics.IncPage(len(page.Items))

	if page.Next != "" {
		if _, dup := it.seen.Get(page.Next); dup {
			it.sink.Putf("api: continuation cursor repeats (%s) - stopping", page.Next)
			page.Next = ""
		}
	}
	it.next = page.Next
	return page, true
}

// Err returns the fatal error that terminated the sequence, if any.
func (it *PageIter) Err() error {
	return it.err
}

// PageCapHit reports whether the sequence ended at the page cap rather than
// at a terminal cursor.
func (it *PageIter) PageCapHit() bool {
	return it.capHit
}

// Pages returns the number of pages fetched so far.
func (it *PageIter) Pages() int {
	return it.fetched
}

func (c *Client) getPage(ctx context.Context, pageURL string, headers map[string]string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, ErrTransport{Err: fmt.Errorf("build request: %w", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	c.Metrics.ObserveDuration(time.Since(start))
	if err != nil {
		return nil, ErrTransport{Err: err}
	}
	defer resp.Body.Close()
	c.Metrics.IncRequest(statusClass(resp.StatusCode))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrAuth{Err: errors.New("api 401: unauthorized")}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited{
			RetryAfter: resp.Header.Get("Retry-After"),
			Err:        errors.New("api 429: rate limit reached"),
		}
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, ErrTransport{Status: resp.StatusCode, Excerpt: bodyExcerpt(resp.Body)}
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, ErrMalformedResponse{Err: err}
	}
	return c.parsePage(payload), nil
}

// parsePage extracts items and the continuation cursor per mode. An absent
// or non-array item field yields an empty page; an absent cursor field is
// terminal.
func (c *Client) parsePage(payload map[string]any) *Page {
	var rawItems any
	var next string
	if c.cfg.UseUpdates {
		rawItems = payload["data"]
		next, _ = payload["nextChunkUrl"].(string)
	} else {
		rawItems = payload["items"]
		if links, ok := payload["_links"].(map[string]any); ok {
			next, _ = links["next"].(string)
		}
	}

	page := &Page{Next: next}
	items, ok := rawItems.([]any)
	if !ok {
		return page
	}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			obj = map[string]any{"value": item}
		}
		page.Items = append(page.Items, models.Flatten(obj))
	}
	return page
}

// buildURL assembles {base}/api/v1/{role}/{resource}[/updates] with the
// query parameters the endpoint expects. Updates mode requires both ISO
// bounds before the first request.
func (c *Client) buildURL(fromISO, toISO string) (string, error) {
	base := strings.TrimRight(c.cfg.BaseURL, "/")
	u := fmt.Sprintf("%s/api/v1/%s/%s", base, c.cfg.Role, c.cfg.Resource)

	var params []string
	if c.cfg.UseUpdates {
		if fromISO == "" || toISO == "" {
			return "", ErrConfig{Reason: "updates endpoint requires from/to ISO timestamps"}
		}
		params = append(params,
			"fromDate="+quote(fromISO, ":-T+Z"),
			"toDate="+quote(toISO, ":-T+Z"),
		)
		u += "/updates"
	}

	if sel := strings.ReplaceAll(c.cfg.Select, " ", ""); sel != "" {
		params = append(params, "$select="+quote(sel, "$._,()=/"))
	}

	if len(params) > 0 {
		u += "?" + strings.Join(params, "&")
	}
	return u, nil
}

// headers returns the fixed header set plus Authorization and Alias. Alias
// is upper-cased, trimmed, and omitted when empty.
func (c *Client) headers() map[string]string {
	h := map[string]string{
		"Authorization":         c.cfg.Auth,
		"x-application-id":      applicationID,
		"x-application-version": applicationVersion,
		"Content-Type":          "application/json",
	}
	if alias := strings.TrimSpace(strings.ToUpper(c.cfg.Alias)); alias != "" {
		h["Alias"] = alias
	}
	return h
}

// quote percent-encodes value, keeping unreserved characters plus the
// explicit safe set. Deterministic by construction: uppercase hex, bytewise.
func quote(value, safe string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		ch := value[i]
		if isUnreserved(ch) || strings.IndexByte(safe, ch) >= 0 {
			b.WriteByte(ch)
			continue
		}
		fmt.Fprintf(&b, "%%%02X", ch)
	}
	return b.String()
}

func isUnreserved(ch byte) bool {
	switch {
	case ch >= 'a' && ch <= 'z':
		return true
	case ch >= 'A' && ch <= 'Z':
		return true
	case ch >= '0' && ch <= '9':
		return true
	case ch == '_' || ch == '.' || ch == '-' || ch == '~':
		return true
	}
	return false
}

func bodyExcerpt(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, bodyExcerptLimit+1))
	if err != nil {
		return ""
	}
	text := string(body)
	if len(text) > bodyExcerptLimit {
		text = text[:bodyExcerptLimit]
	}
	return text
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}
