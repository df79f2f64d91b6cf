package crawler

import (
	"context"
	"time"
)

// Feed is the tag-indexed source the crawler pages through.
type Feed interface {
	FirstPage(ctx context.Context, tag string, limit int) (Page, error)
	// NextPage returns an empty page when the feed is exhausted.
	NextPage(ctx context.Context, prev Page) (Page, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// RetryPolicy decides whether and when a failed feed call is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// PageObserver is notified after every page the crawler accepts.
type PageObserver interface {
	PageFetched(page int, posts int, elapsed time.Duration)
}
