package silver

import (
	"fmt"
	"strconv"
	"strings"
)

// Content types in priority order.
const (
	ContentReblog   = "Reblog"
	ContentReply    = "Reply"
	ContentQuote    = "Quote"
	ContentOriginal = "Original"
)

// Bucket is a sentiment-score range in dim_sentiment.
type Bucket struct {
	Min        float64
	Max        float64
	Confidence string
}

// Buckets are ordered from lowest to highest. Ranges are [Min, Max) except the
// last, which also includes its Max.
var Buckets = []Bucket{
	{Min: 0, Max: 0.50, Confidence: "low"},
	{Min: 0.50, Max: 0.75, Confidence: "medium"},
	{Min: 0.75, Max: 1.0, Confidence: "high"},
}

// contentRules classify a post in priority order; the first matching
// predicate names its content type, otherwise it is Original.
var contentRules = []struct {
	Type      string
	Predicate string
}{
	{ContentReblog, "is_reblog"},
	{ContentReply, "in_reply_to_id IS NOT NULL"},
	{ContentQuote, "quote IS NOT NULL"},
}

func contentTypeCase() string {
	var b strings.Builder
	b.WriteString("CASE")
	for _, r := range contentRules {
		fmt.Fprintf(&b, " WHEN %s THEN '%s'", r.Predicate, r.Type)
	}
	fmt.Fprintf(&b, " ELSE '%s' END", ContentOriginal)
	return b.String()
}

// engagementColumns are summed into total_engagement with NULL counted as 0.
var engagementColumns = []string{"replies_count", "reblogs_count", "favourites_count", "quotes_count"}

func totalEngagement(alias string) string {
	terms := make([]string, len(engagementColumns))
	for i, c := range engagementColumns {
		terms[i] = fmt.Sprintf("COALESCE(%s.%s, 0)", alias, c)
	}
	return strings.Join(terms, " + ")
}

// factUpdates are the only fact columns a conflicting reload may change.
var factUpdates = append(append([]string{}, engagementColumns...), "total_engagement", "edited_at")

func factUpdateSet() string {
	sets := make([]string, 0, len(factUpdates)+1)
	for _, c := range factUpdates {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
	}
	sets = append(sets, "loaded_at = CURRENT_TIMESTAMP")
	return strings.Join(sets, ",\n\t")
}

// bucketCase renders CASE expressions picking a column of the bucket that
// contains col. pick selects the SQL literal for a bucket.
func bucketCase(col string, pick func(Bucket) string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for i := len(Buckets) - 1; i > 0; i-- {
		fmt.Fprintf(&b, " WHEN %s >= %s THEN %s", col, formatScore(Buckets[i].Min), pick(Buckets[i]))
	}
	fmt.Fprintf(&b, " ELSE %s END", pick(Buckets[0]))
	return b.String()
}

func formatScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func bucketMin(b Bucket) string        { return formatScore(b.Min) }
func bucketMax(b Bucket) string        { return formatScore(b.Max) }
func bucketConfidence(b Bucket) string { return "'" + b.Confidence + "'" }
