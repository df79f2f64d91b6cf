package normalize

import (
	"sort"
	"unicode/utf8"
)

const maxLanguageLen = 10

var validVisibility = map[string]struct{}{
	"public":   {},
	"unlisted": {},
	"private":  {},
	"direct":   {},
}

// ApplyQualityRules nulls out values that violate column invariants.
func ApplyQualityRules(r *Record) {
	for _, count := range []**int64{&r.RepliesCount, &r.ReblogsCount, &r.FavouritesCount, &r.QuotesCount} {
		if *count != nil && **count < 0 {
			*count = nil
		}
	}
	if r.Language != nil && utf8.RuneCountInString(*r.Language) > maxLanguageLen {
		r.Language = nil
	}
	if r.Visibility != nil {
		if _, ok := validVisibility[*r.Visibility]; !ok {
			r.Visibility = nil
		}
	}
}

// Dedup keeps the first record for every id, preserving order.
func Dedup(records []Record) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// QualityStats summarizes a normalized batch.
type QualityStats struct {
	TotalRecords int            `json:"total_records"`
	NullCounts   map[string]int `json:"null_counts"`
	UniqueCounts map[string]int `json:"unique_counts"`
}

type nullableColumn struct {
	name   string
	isNull func(Record) bool
}

var summarizedColumns = []nullableColumn{
	{"in_reply_to_id", func(r Record) bool { return r.InReplyToID == nil }},
	{"spoiler_text", func(r Record) bool { return r.SpoilerText == nil }},
	{"visibility", func(r Record) bool { return r.Visibility == nil }},
	{"language", func(r Record) bool { return r.Language == nil }},
	{"url", func(r Record) bool { return r.URL == nil }},
	{"replies_count", func(r Record) bool { return r.RepliesCount == nil }},
	{"reblogs_count", func(r Record) bool { return r.ReblogsCount == nil }},
	{"favourites_count", func(r Record) bool { return r.FavouritesCount == nil }},
	{"quotes_count", func(r Record) bool { return r.QuotesCount == nil }},
	{"content_clean", func(r Record) bool { return r.ContentClean == nil }},
	{"tag_names", func(r Record) bool { return r.TagNames == nil }},
	{"mention_usernames", func(r Record) bool { return r.MentionUsernames == nil }},
	{"media_count", func(r Record) bool { return r.MediaCount == nil }},
	{"account_id", func(r Record) bool { return r.AccountID == nil }},
	{"account_followers_count", func(r Record) bool { return r.AccountFollowersCount == nil }},
	{"sentiment_value", func(r Record) bool { return r.SentimentValue == nil }},
}

// Summarize reports null counts per column and unique counts for the
// account, language and visibility columns.
func Summarize(records []Record) QualityStats {
	stats := QualityStats{
		TotalRecords: len(records),
		NullCounts:   map[string]int{},
		UniqueCounts: map[string]int{},
	}
	if len(records) == 0 {
		return stats
	}
	for _, col := range summarizedColumns {
		n := 0
		for _, r := range records {
			if col.isNull(r) {
				n++
			}
		}
		if n > 0 {
			stats.NullCounts[col.name] = n
		}
	}
	unique := map[string]func(Record) *string{
		"account_id": func(r Record) *string { return r.AccountID },
		"language":   func(r Record) *string { return r.Language },
		"visibility": func(r Record) *string { return r.Visibility },
	}
	for name, get := range unique {
		values := map[string]struct{}{}
		for _, r := range records {
			key := "\x00null"
			if v := get(r); v != nil {
				key = *v
			}
			values[key] = struct{}{}
		}
		stats.UniqueCounts[name] = len(values)
	}
	return stats
}

// NullColumns lists the columns with at least one null, sorted.
func (s QualityStats) NullColumns() []string {
	out := make([]string, 0, len(s.NullCounts))
	for name := range s.NullCounts {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
