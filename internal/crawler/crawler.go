package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// MaxPageSize is the largest page the tag timeline serves.
	MaxPageSize = 40
	// DefaultMaxPages bounds runaway pagination.
	DefaultMaxPages = 100
	// loopWindow is how many trailing accumulated ids are compared against
	// the first id of each new page.
	loopWindow = 10
)

// Config tunes a Crawler.
type Config struct {
	PageSize int
	MaxPages int
}

// Crawler pages backwards through a tag timeline until the window cutoff.
type Crawler struct {
	feed     Feed
	clock    Clock
	retry    RetryPolicy
	observer PageObserver
	cfg      Config
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithObserver registers a per-page observer.
func WithObserver(o PageObserver) Option {
	return func(c *Crawler) {
		c.observer = o
	}
}

// WithSleeper replaces the backoff sleeper (tests use a no-op).
func WithSleeper(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Crawler) {
		c.sleep = sleep
	}
}

// New constructs a Crawler.
func New(feed Feed, clock Clock, retry RetryPolicy, cfg Config, logger *zap.Logger, opts ...Option) *Crawler {
	if cfg.PageSize <= 0 || cfg.PageSize > MaxPageSize {
		cfg.PageSize = MaxPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Crawler{
		feed:   feed,
		clock:  clock,
		retry:  retry,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Crawl collects every post for tag created within window. Only a failure to
// fetch the first page (other than not-found or rate limiting) is returned as
// an error; every other stop is graceful and keeps what was collected.
func (c *Crawler) Crawl(ctx context.Context, tag string, window Window) (Result, error) {
	tag = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(tag), "#"))
	if tag == "" {
		return Result{}, fmt.Errorf("tag is required")
	}
	span, err := window.Duration()
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Tag:    tag,
		Cutoff: c.clock.Now().Add(-span),
	}
	logger := c.logger.With(zap.String("tag", tag), zap.Time("cutoff", res.Cutoff))
	logger.Info("crawl started", zap.Stringer("window", window))

	start := time.Now()
	page, err := c.fetch(ctx, func(ctx context.Context) (Page, error) {
		return c.feed.FirstPage(ctx, tag, c.cfg.PageSize)
	})
	switch {
	case errors.Is(err, ErrNotFound):
		logger.Info("tag not found")
		res.StopReason = StopEmpty
		return res, nil
	case errors.Is(err, ErrRateLimited):
		logger.Warn("rate limited on first page")
		res.StopReason = StopRateLimited
		return res, nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.StopReason = StopCanceled
		return res, nil
	case err != nil:
		res.StopReason = StopError
		return res, fmt.Errorf("fetch first page: %w", err)
	}
	if page.Len() == 0 {
		logger.Info("no posts found")
		res.StopReason = StopEmpty
		return res, nil
	}

	for {
		res.Pages++
		c.notify(res.Pages, page.Len(), time.Since(start))
		if c.scan(page, &res, logger) {
			res.StopReason = StopCutoff
			break
		}
		if res.Pages >= c.cfg.MaxPages {
			logger.Warn("reached maximum page limit", zap.Int("max_pages", c.cfg.MaxPages))
			res.StopReason = StopPageCap
			break
		}

		start = time.Now()
		prev := page
		page, err = c.fetch(ctx, func(ctx context.Context) (Page, error) {
			return c.feed.NextPage(ctx, prev)
		})
		if err != nil {
			res.StopReason = c.classifyNextPageError(err, logger)
			break
		}
		if page.Len() == 0 {
			logger.Info("no more pages available")
			res.StopReason = StopExhausted
			break
		}
		if seenRecently(res.Posts, page.Posts[0].ID) {
			logger.Warn("detected pagination loop", zap.String("id", page.Posts[0].ID))
			res.StopReason = StopLoop
			break
		}
	}

	logger.Info("crawl complete",
		zap.Int("posts", len(res.Posts)),
		zap.Int("pages", res.Pages),
		zap.Int("skipped", res.Skipped),
		zap.String("stop_reason", string(res.StopReason)),
	)
	return res, nil
}

// scan accumulates in-window posts and reports whether the cutoff was crossed.
func (c *Crawler) scan(page Page, res *Result, logger *zap.Logger) bool {
	for _, post := range page.Posts {
		createdAt, ok := ParseTimestamp(post.CreatedAtRaw)
		if !ok {
			logger.Warn("skipping post with invalid created_at",
				zap.String("id", post.ID),
				zap.String("created_at", post.CreatedAtRaw),
			)
			res.Skipped++
			continue
		}
		if createdAt.Before(res.Cutoff) {
			logger.Info("reached cutoff time", zap.Time("created_at", createdAt))
			return true
		}
		post.CreatedAt = createdAt
		res.Posts = append(res.Posts, post)
	}
	return false
}

func (c *Crawler) classifyNextPageError(err error, logger *zap.Logger) StopReason {
	switch {
	case errors.Is(err, ErrRateLimited):
		logger.Warn("rate limited, stopping crawl")
		return StopRateLimited
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("crawl canceled", zap.Error(err))
		return StopCanceled
	case errors.Is(err, ErrNotFound):
		logger.Info("no more pages available")
		return StopExhausted
	default:
		logger.Warn("next page failed after retries, keeping partial results", zap.Error(err))
		return StopError
	}
}

func (c *Crawler) fetch(ctx context.Context, call func(context.Context) (Page, error)) (Page, error) {
	var page Page
	err := Retry(ctx, c.retry, c.sleep, func(ctx context.Context) error {
		p, err := call(ctx)
		if err != nil {
			c.logger.Debug("feed call failed", zap.Error(err))
			return err
		}
		page = p
		return nil
	})
	return page, err
}

func (c *Crawler) notify(page, posts int, elapsed time.Duration) {
	if c.observer == nil {
		return
	}
	c.observer.PageFetched(page, posts, elapsed)
}

func seenRecently(posts []RawPost, id string) bool {
	if id == "" {
		return false
	}
	from := len(posts) - loopWindow
	if from < 0 {
		from = 0
	}
	for _, p := range posts[from:] {
		if p.ID == id {
			return true
		}
	}
	return false
}

// ParseTimestamp parses the feed's ISO-8601 timestamps. Values without a zone
// are taken as UTC.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999Z07:00"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
