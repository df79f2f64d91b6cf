// Package crawler implements the time-windowed hashtag crawl: pagination with
// a creation-time cutoff, loop detection, a hard page cap, and an explicit
// retry policy around every feed call.
package crawler
