// Package normalize turns raw feed posts into typed, validated records ready
// for the bronze layer.
package normalize

import "time"

// Record is a normalized post. Pointer fields are nullable columns.
type Record struct {
	ID                 string
	CreatedAt          time.Time
	InReplyToID        *string
	InReplyToAccountID *string
	Sensitive          bool
	SpoilerText        *string
	Visibility         *string
	Language           *string
	URI                *string
	URL                *string
	RepliesCount       *int64
	ReblogsCount       *int64
	FavouritesCount    *int64
	QuotesCount        *int64
	EditedAt           *time.Time
	Content            *string

	// Nested structures as compact JSON text.
	Reblog           *string
	Account          *string
	MediaAttachments *string
	Mentions         *string
	Tags             *string
	Emojis           *string
	Quote            *string
	Card             *string
	Poll             *string
	QuoteApproval    *string
	Application      *string

	AccountID          *string
	AccountUsername    *string
	AccountDisplayName *string

	ContentClean          *string
	SpoilerTextClean      *string
	TagNames              *string
	MentionUsernames      *string
	MediaCount            *int64
	MediaTypes            *string
	AccountFollowersCount *int64
	AccountFollowingCount *int64
	AccountStatusesCount  *int64
	AccountIsBot          *bool
	AccountCreatedAt      *time.Time
	IsReblog              bool
	HasPoll               bool
	HasCard               bool

	SentimentScore     *float64
	SentimentValue     *string
	SentimentModelName *string
}

// Text returns the text used for sentiment scoring: the cleaned content when
// present, otherwise nothing.
func (r Record) Text() string {
	if r.ContentClean == nil {
		return ""
	}
	return *r.ContentClean
}

// Rejected describes a post that could not be normalized.
type Rejected struct {
	ID     string
	Reason string
}

// Result is either a normalized record or a rejection, never both.
type Result struct {
	record   *Record
	rejected *Rejected
}

// Normalized wraps a successfully normalized record.
func Normalized(r Record) Result {
	return Result{record: &r}
}

// Reject builds a rejection result.
func Reject(id, reason string) Result {
	return Result{rejected: &Rejected{ID: id, Reason: reason}}
}

// Record returns the record and true when the result was normalized.
func (r Result) Record() (Record, bool) {
	if r.record == nil {
		return Record{}, false
	}
	return *r.record, true
}

// Rejected returns the rejection and true when the post was dropped.
func (r Result) Rejected() (Rejected, bool) {
	if r.rejected == nil {
		return Rejected{}, false
	}
	return *r.rejected, true
}
