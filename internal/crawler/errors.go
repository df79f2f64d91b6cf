package crawler

import "errors"

// Feed error taxonomy. Feed implementations wrap one of these so the crawler
// can classify failures with errors.Is.
var (
	ErrRateLimited = errors.New("feed rate limited")
	ErrNotFound    = errors.New("feed not found")
	ErrTransient   = errors.New("feed transient failure")
	ErrMalformed   = errors.New("feed malformed response")
)
