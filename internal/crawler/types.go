// Package crawler defines core types shared across subsystems.
package crawler

import (
	"encoding/json"
	"fmt"
	"time"
)

// WindowUnit is the unit of a lookback window.
type WindowUnit string

// Supported lookback units.
const (
	UnitHours WindowUnit = "hours"
	UnitDays  WindowUnit = "days"
)

// Window describes how far back a crawl reaches from "now".
type Window struct {
	Value int
	Unit  WindowUnit
}

// Duration converts the window into a time.Duration.
func (w Window) Duration() (time.Duration, error) {
	if w.Value <= 0 {
		return 0, fmt.Errorf("window value must be > 0")
	}
	switch w.Unit {
	case UnitHours:
		return time.Duration(w.Value) * time.Hour, nil
	case UnitDays:
		return time.Duration(w.Value) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown window unit %q", w.Unit)
	}
}

// String renders the window the way operators configure it.
func (w Window) String() string {
	return fmt.Sprintf("%d %s", w.Value, w.Unit)
}

// RawPost is a status as returned by the tag timeline. Counts and nested
// structures stay raw so the normalizer can coerce them field by field.
type RawPost struct {
	ID                 string          `json:"id"`
	CreatedAtRaw       string          `json:"created_at"`
	InReplyToID        *string         `json:"in_reply_to_id"`
	InReplyToAccountID *string         `json:"in_reply_to_account_id"`
	Sensitive          bool            `json:"sensitive"`
	SpoilerText        string          `json:"spoiler_text"`
	Visibility         string          `json:"visibility"`
	Language           *string         `json:"language"`
	URI                string          `json:"uri"`
	URL                *string         `json:"url"`
	RepliesCount       json.RawMessage `json:"replies_count"`
	ReblogsCount       json.RawMessage `json:"reblogs_count"`
	FavouritesCount    json.RawMessage `json:"favourites_count"`
	QuotesCount        json.RawMessage `json:"quotes_count"`
	EditedAtRaw        *string         `json:"edited_at"`
	Content            string          `json:"content"`
	Reblog             json.RawMessage `json:"reblog"`
	Account            json.RawMessage `json:"account"`
	MediaAttachments   json.RawMessage `json:"media_attachments"`
	Mentions           json.RawMessage `json:"mentions"`
	Tags               json.RawMessage `json:"tags"`
	Emojis             json.RawMessage `json:"emojis"`
	Quote              json.RawMessage `json:"quote"`
	Card               json.RawMessage `json:"card"`
	Poll               json.RawMessage `json:"poll"`
	QuoteApproval      json.RawMessage `json:"quote_approval"`
	Application        json.RawMessage `json:"application"`

	// CreatedAt is set by the crawler once CreatedAtRaw parsed cleanly.
	CreatedAt time.Time `json:"-"`
}

// Page is one batch of posts plus whatever the feed needs to fetch the next one.
type Page struct {
	Posts []RawPost
	// Next is an opaque cursor (usually the rel="next" URL); empty means
	// the feed falls back to max_id pagination.
	Next string
}

// Len returns the number of posts in the page.
func (p Page) Len() int {
	return len(p.Posts)
}

// StopReason records why a crawl ended.
type StopReason string

// Crawl termination reasons. All of them are graceful.
const (
	StopEmpty       StopReason = "empty"
	StopCutoff      StopReason = "cutoff"
	StopExhausted   StopReason = "exhausted"
	StopLoop        StopReason = "loop"
	StopPageCap     StopReason = "page_cap"
	StopRateLimited StopReason = "rate_limited"
	StopError       StopReason = "error"
	StopCanceled    StopReason = "canceled"
)

// Result is the outcome of a crawl.
type Result struct {
	Tag        string
	Cutoff     time.Time
	Posts      []RawPost
	Pages      int
	Skipped    int
	StopReason StopReason
}
