// Package notify builds run summaries and delivers them to Discord and
// Pub/Sub.
package notify

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/sentiment"
)

const topLanguages = 5

// Summary aggregates one batch of normalized records.
type Summary struct {
	TotalRecords   int            `json:"total_records"`
	Start          *time.Time     `json:"start,omitempty"`
	End            *time.Time     `json:"end,omitempty"`
	Engagement     Engagement     `json:"engagement"`
	Sentiment      []LabelCount   `json:"sentiment"`
	AvgScore       *float64       `json:"avg_sentiment_score,omitempty"`
	TopLanguages   []LabelCount   `json:"top_languages"`
	UniqueAccounts int            `json:"unique_accounts"`
	Alert          *NegativeAlert `json:"negative_alert,omitempty"`
}

// Engagement holds totals and per-record means over non-null counters.
type Engagement struct {
	TotalFavourites int64   `json:"total_favourites"`
	TotalReblogs    int64   `json:"total_reblogs"`
	TotalReplies    int64   `json:"total_replies"`
	AvgFavourites   float64 `json:"avg_favourites"`
	AvgReblogs      float64 `json:"avg_reblogs"`
	AvgReplies      float64 `json:"avg_replies"`
}

// LabelCount is one row of a frequency table.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// NegativeAlert is raised when negative posts outnumber positive and neutral
// combined.
type NegativeAlert struct {
	Negative   int     `json:"negative"`
	Positive   int     `json:"positive"`
	Neutral    int     `json:"neutral"`
	Percentage float64 `json:"percentage"`
}

// Summarize computes the run summary for records.
func Summarize(records []normalize.Record) Summary {
	s := Summary{TotalRecords: len(records)}
	if len(records) == 0 {
		return s
	}

	var fav, reb, rep counter
	var scoreSum float64
	var scored int
	labels := make(map[string]int)
	langs := make(map[string]int)
	accounts := make(map[string]struct{})
	for i := range records {
		r := &records[i]
		if s.Start == nil || r.CreatedAt.Before(*s.Start) {
			t := r.CreatedAt
			s.Start = &t
		}
		if s.End == nil || r.CreatedAt.After(*s.End) {
			t := r.CreatedAt
			s.End = &t
		}
		fav.add(r.FavouritesCount)
		reb.add(r.ReblogsCount)
		rep.add(r.RepliesCount)
		if r.SentimentValue != nil && *r.SentimentValue != "" {
			labels[*r.SentimentValue]++
		}
		if r.SentimentScore != nil {
			scoreSum += *r.SentimentScore
			scored++
		}
		if r.Language != nil && *r.Language != "" {
			langs[*r.Language]++
		}
		if r.AccountUsername != nil {
			accounts[*r.AccountUsername] = struct{}{}
		}
	}

	s.Engagement = Engagement{
		TotalFavourites: fav.sum,
		TotalReblogs:    reb.sum,
		TotalReplies:    rep.sum,
		AvgFavourites:   round(fav.mean(), 2),
		AvgReblogs:      round(reb.mean(), 2),
		AvgReplies:      round(rep.mean(), 2),
	}
	s.Sentiment = ranked(labels, 0)
	if scored > 0 {
		avg := round(scoreSum/float64(scored), 4)
		s.AvgScore = &avg
	}
	s.TopLanguages = ranked(langs, topLanguages)
	s.UniqueAccounts = len(accounts)

	neg := labels[sentiment.LabelNegative]
	pos := labels[sentiment.LabelPositive]
	neu := labels[sentiment.LabelNeutral]
	if neg > pos+neu {
		s.Alert = &NegativeAlert{
			Negative:   neg,
			Positive:   pos,
			Neutral:    neu,
			Percentage: round(float64(neg)/float64(len(records))*100, 2),
		}
	}
	return s
}

// TopByLabel returns up to n records whose sentiment label matches label
// (case-insensitive), highest score first.
func TopByLabel(records []normalize.Record, label string, n int) []normalize.Record {
	var out []normalize.Record
	for _, r := range records {
		if r.SentimentValue != nil && strings.EqualFold(*r.SentimentValue, label) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scoreOf(out[i]) > scoreOf(out[j])
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func scoreOf(r normalize.Record) float64 {
	if r.SentimentScore == nil {
		return math.Inf(-1)
	}
	return *r.SentimentScore
}

type counter struct {
	sum int64
	n   int
}

func (c *counter) add(v *int64) {
	if v == nil {
		return
	}
	c.sum += *v
	c.n++
}

func (c counter) mean() float64 {
	if c.n == 0 {
		return 0
	}
	return float64(c.sum) / float64(c.n)
}

// ranked sorts counts descending, ties broken by label; limit 0 keeps all.
func ranked(counts map[string]int, limit int) []LabelCount {
	out := make([]LabelCount, 0, len(counts))
	for k, v := range counts {
		out = append(out, LabelCount{Label: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
