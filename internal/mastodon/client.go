// Package mastodon implements crawler.Feed against the Mastodon REST API tag
// timeline.
package mastodon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/policy/ratelimit"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultUserAgent   = "mastodon-medallion-etl/1.0"
	maxBodyBytes       = 8 << 20
	tagTimelinePattern = "/api/v1/timelines/tag/%s"
)

// Config configures the API client.
type Config struct {
	BaseURL           string
	AccessToken       string
	UserAgent         string
	Timeout           time.Duration
	RequestsPerSecond float64
	// BreakerFailures consecutive transport/5xx failures open the breaker.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Client fetches tag timeline pages.
type Client struct {
	base    *url.URL
	http    *http.Client
	token   string
	ua      string
	limiter *ratelimit.Limiter
	breaker *gobreaker.CircuitBreaker[response]
	logger  *zap.Logger
}

type response struct {
	status int
	header http.Header
	body   []byte
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, limiter *ratelimit.Limiter, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must use http or https, got %q", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base url host is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}
	httpClient = withTimeout(httpClient, cfg.Timeout)
	if limiter == nil {
		limiter = ratelimit.New(ratelimit.Config{RPS: cfg.RequestsPerSecond})
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	failures := cfg.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker[response](gobreaker.Settings{
		Name:    "mastodon:" + base.Host,
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &Client{
		base:    base,
		http:    httpClient,
		token:   cfg.AccessToken,
		ua:      cfg.UserAgent,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// FirstPage fetches the newest page of the tag timeline.
func (c *Client) FirstPage(ctx context.Context, tag string, limit int) (crawler.Page, error) {
	tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
	if tag == "" {
		return crawler.Page{}, fmt.Errorf("tag is required")
	}
	if limit <= 0 || limit > crawler.MaxPageSize {
		limit = crawler.MaxPageSize
	}
	u := *c.base
	u.Path = c.base.Path + fmt.Sprintf(tagTimelinePattern, url.PathEscape(tag))
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()
	return c.getPage(ctx, u.String())
}

// NextPage follows the cursor recorded on prev. An empty cursor means the
// timeline is exhausted.
func (c *Client) NextPage(ctx context.Context, prev crawler.Page) (crawler.Page, error) {
	if prev.Next == "" || prev.Len() == 0 {
		return crawler.Page{}, nil
	}
	return c.getPage(ctx, prev.Next)
}

func (c *Client) getPage(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return crawler.Page{}, err
	}
	resp, err := c.breaker.Execute(func() (response, error) {
		return c.do(ctx, rawURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return crawler.Page{}, fmt.Errorf("%s: %v: %w", rawURL, err, crawler.ErrTransient)
		}
		return crawler.Page{}, err
	}
	if err := classifyStatus(resp.status); err != nil {
		return crawler.Page{}, fmt.Errorf("GET %s: status %d: %w", rawURL, resp.status, err)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(resp.body, &items); err != nil {
		return crawler.Page{}, fmt.Errorf("decode page: %v: %w", err, crawler.ErrMalformed)
	}
	page := crawler.Page{Posts: make([]crawler.RawPost, 0, len(items))}
	for i, item := range items {
		var post crawler.RawPost
		if err := json.Unmarshal(item, &post); err != nil {
			c.logger.Warn("dropping undecodable status", zap.Int("index", i), zap.Error(err))
			continue
		}
		page.Posts = append(page.Posts, post)
	}
	page.Next = c.nextCursor(rawURL, resp.header, page)
	return page, nil
}

// do performs one round trip. Only transport failures and 5xx responses are
// reported as errors so that 4xx answers never trip the breaker.
func (c *Client) do(ctx context.Context, rawURL string) (response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return response{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.ua)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return response{}, ctxErr
		}
		return response{}, fmt.Errorf("GET %s: %v: %w", rawURL, err, crawler.ErrTransient)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return response{}, fmt.Errorf("read body: %v: %w", err, crawler.ErrTransient)
	}
	out := response{status: resp.StatusCode, header: resp.Header, body: body}
	if resp.StatusCode >= http.StatusInternalServerError {
		return out, fmt.Errorf("GET %s: status %d: %w", rawURL, resp.StatusCode, crawler.ErrTransient)
	}
	return out, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return crawler.ErrRateLimited
	case status == http.StatusNotFound:
		return crawler.ErrNotFound
	case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
		return crawler.ErrTransient
	default:
		return crawler.ErrMalformed
	}
}

// nextCursor prefers the rel="next" Link header and falls back to max_id
// pagination on the request URL.
func (c *Client) nextCursor(requestURL string, header http.Header, page crawler.Page) string {
	if next := nextLink(header.Values("Link")); next != "" {
		if ref, err := url.Parse(next); err == nil {
			return c.base.ResolveReference(ref).String()
		}
	}
	if page.Len() == 0 {
		return ""
	}
	u, err := url.Parse(requestURL)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("max_id", page.Posts[page.Len()-1].ID)
	u.RawQuery = q.Encode()
	return u.String()
}

// nextLink extracts the rel="next" target from RFC 8288 Link header values.
func nextLink(values []string) string {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.TrimSpace(segments[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, param := range segments[1:] {
				param = strings.TrimSpace(param)
				if strings.EqualFold(param, `rel="next"`) || strings.EqualFold(param, "rel=next") {
					return strings.TrimSuffix(strings.TrimPrefix(target, "<"), ">")
				}
			}
		}
	}
	return ""
}

// withTimeout returns a client bounded by timeout. A caller-supplied client
// keeps its own timeout when it has one.
func withTimeout(c *http.Client, timeout time.Duration) *http.Client {
	if c == nil {
		return &http.Client{Timeout: timeout}
	}
	if c.Timeout > 0 || timeout <= 0 {
		return c
	}
	bounded := *c
	bounded.Timeout = timeout
	return &bounded
}
