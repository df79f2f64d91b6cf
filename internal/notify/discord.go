package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
	"github.com/JakeFAU/mastodon-medallion-etl/internal/sentiment"
)

// WebhookPrefix is the only accepted Discord webhook URL prefix.
const WebhookPrefix = "https://discord.com/api/webhooks/"

const (
	colorRed    = 0xFF0000
	colorOrange = 0xFFA500
	colorGreen  = 0x00FF00

	topToots        = 5
	previewRunes    = 200
	defaultTimeout  = 10 * time.Second
	maxErrorBodyLen = 512
)

// ErrNothingToSend is returned when a message has no content to report.
var ErrNothingToSend = errors.New("nothing to send")

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// DiscordConfig configures the webhook notifier.
type DiscordConfig struct {
	WebhookURL string
	Hashtag    string
	BaseURL    string
	Timeout    time.Duration
}

// Discord posts embeds to a Discord webhook.
type Discord struct {
	cfg    DiscordConfig
	http   *http.Client
	clock  Clock
	logger *zap.Logger
}

type webhookPayload struct {
	Embeds []*discordgo.MessageEmbed `json:"embeds"`
}

// NewDiscord validates the webhook URL and returns a notifier. httpClient may
// be nil.
func NewDiscord(cfg DiscordConfig, httpClient *http.Client, clock Clock, logger *zap.Logger) (*Discord, error) {
	if !strings.HasPrefix(cfg.WebhookURL, WebhookPrefix) {
		return nil, fmt.Errorf("discord webhook url must start with %s", WebhookPrefix)
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	httpClient = withTimeout(httpClient, cfg.Timeout)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discord{cfg: cfg, http: httpClient, clock: clock, logger: logger.Named("discord")}, nil
}

// SendSummary posts the pipeline status report.
func (d *Discord) SendSummary(ctx context.Context, s Summary, status string, loadFailed bool) error {
	return d.send(ctx, d.SummaryEmbed(s, status, loadFailed))
}

// SendError posts an error alert for the failing stage.
func (d *Discord) SendError(ctx context.Context, stage, message string) error {
	return d.send(ctx, d.ErrorEmbed(stage, message))
}

// SendMostPositive posts the highest-scoring positive posts.
func (d *Discord) SendMostPositive(ctx context.Context, records []normalize.Record) error {
	top := TopByLabel(records, sentiment.LabelPositive, topToots)
	if len(top) == 0 {
		return ErrNothingToSend
	}
	return d.send(ctx, d.tootsEmbed("🌟 Most Positive Toots", "positive", colorGreen, top))
}

// SendMostNegative posts the highest-scoring negative posts.
func (d *Discord) SendMostNegative(ctx context.Context, records []normalize.Record) error {
	top := TopByLabel(records, sentiment.LabelNegative, topToots)
	if len(top) == 0 {
		return ErrNothingToSend
	}
	return d.send(ctx, d.tootsEmbed("⚠️ Most Negative Toots", "negative", colorRed, top))
}

// SummaryEmbed renders the status report embed.
func (d *Discord) SummaryEmbed(s Summary, status string, loadFailed bool) *discordgo.MessageEmbed {
	now := d.clock.Now().UTC()
	embed := &discordgo.MessageEmbed{Timestamp: now.Format(time.RFC3339)}
	switch {
	case s.Alert != nil:
		embed.Color = colorRed
		embed.Title = "⚠️ Pipeline Status Report - HIGH NEGATIVE SENTIMENT ALERT"
	case loadFailed:
		embed.Color = colorOrange
		embed.Title = "⚠️ Pipeline Status Report - DB LOAD FAILED"
	default:
		embed.Color = colorGreen
		embed.Title = "✅ Pipeline Status Report"
	}

	load := "\n✅ **DB Load:** Success"
	if loadFailed {
		load = "\n⚠️ **DB Load:** Failed (data saved to CSV)"
	}
	embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
		Name: "📊 Processing Summary",
		Value: fmt.Sprintf("**Status:** %s\n**Total Records:** %s\n**Timestamp:** %s%s",
			status, thousands(int64(s.TotalRecords)), now.Format("2006-01-02 15:04:05 UTC"), load),
	})

	if s.Start != nil && s.End != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "📅 Date Range",
			Value:  fmt.Sprintf("**From:** %s\n**To:** %s", s.Start.UTC().Format(time.RFC3339), s.End.UTC().Format(time.RFC3339)),
			Inline: true,
		})
	}
	if s.TotalRecords > 0 {
		e := s.Engagement
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "💬 Engagement Metrics",
			Value: fmt.Sprintf("**Total Reblogs:** %s\n**Total Favourites:** %s\n**Total Replies:** %s\n**Avg Reblogs:** %.2f\n**Avg Favourites:** %.2f\n**Avg Replies:** %.2f",
				thousands(e.TotalReblogs), thousands(e.TotalFavourites), thousands(e.TotalReplies),
				e.AvgReblogs, e.AvgFavourites, e.AvgReplies),
			Inline: true,
		})
	}
	if len(s.Sentiment) > 0 {
		lines := make([]string, 0, len(s.Sentiment)+1)
		for _, c := range s.Sentiment {
			lines = append(lines, fmt.Sprintf("**%s:** %s", c.Label, thousands(int64(c.Count))))
		}
		if s.AvgScore != nil {
			lines = append(lines, fmt.Sprintf("**Avg Score:** %.4f", *s.AvgScore))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  "😊 Sentiment Distribution",
			Value: strings.Join(lines, "\n"),
		})
	}
	if a := s.Alert; a != nil {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name: "🚨 SENTIMENT ALERT",
			Value: fmt.Sprintf("⚠️ **Negative sentiment exceeds Positive + Neutral!**\n\n🔴 Negative: %s (%.2f%%)\n🟢 Positive: %s\n⚪ Neutral: %s\n\n**Action Required:** Review negative toots for issues.",
				thousands(int64(a.Negative)), a.Percentage, thousands(int64(a.Positive)), thousands(int64(a.Neutral))),
		})
	}
	if len(s.TopLanguages) > 0 {
		lines := make([]string, 0, len(s.TopLanguages))
		for _, c := range s.TopLanguages {
			lines = append(lines, fmt.Sprintf("%s: %d", c.Label, c.Count))
		}
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "🌍 Top Languages",
			Value:  strings.Join(lines, "\n"),
			Inline: true,
		})
	}
	embed.Fields = append(embed.Fields,
		&discordgo.MessageEmbedField{
			Name:   "👥 Unique Accounts",
			Value:  fmt.Sprintf("**%s** different users", thousands(int64(s.UniqueAccounts))),
			Inline: true,
		},
		&discordgo.MessageEmbedField{
			Name:   "🏷️ Hashtag",
			Value:  "#" + d.cfg.Hashtag,
			Inline: true,
		},
	)
	embed.Footer = d.footer()
	return embed
}

// ErrorEmbed renders an error alert.
func (d *Discord) ErrorEmbed(stage, message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("❌ %s Error", stage),
		Description: fmt.Sprintf("```\n%s\n```", truncate(message, 1800)),
		Color:       colorRed,
		Timestamp:   d.clock.Now().UTC().Format(time.RFC3339),
		Footer:      d.footer(),
	}
}

func (d *Discord) tootsEmbed(title, kind string, color int, top []normalize.Record) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       title,
		Description: fmt.Sprintf("Top %d most %s toots from #%s", len(top), kind, d.cfg.Hashtag),
		Color:       color,
		Timestamp:   d.clock.Now().UTC().Format(time.RFC3339),
		Footer:      d.footer(),
	}
	for i, r := range top {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("#%d - @%s (Score: %.3f)", i+1, deref(r.AccountUsername, "Unknown"), scoreOrZero(r.SentimentScore)),
			Value: fmt.Sprintf("%s\n\n%s", preview(r), engagementLine(r)),
		})
	}
	return embed
}

func (d *Discord) footer() *discordgo.MessageEmbedFooter {
	return &discordgo.MessageEmbedFooter{Text: "Mastodon Data Pipeline | " + d.cfg.BaseURL}
}

func (d *Discord) send(ctx context.Context, embed *discordgo.MessageEmbed) error {
	body, err := json.Marshal(webhookPayload{Embeds: []*discordgo.MessageEmbed{embed}})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusNoContent {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
		return fmt.Errorf("discord webhook status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	d.logger.Info("discord notification sent", zap.String("title", embed.Title))
	return nil
}

func preview(r normalize.Record) string {
	text := deref(r.ContentClean, "")
	if text == "" {
		text = deref(r.Content, "")
	}
	if text == "" {
		return "_No content available_"
	}
	return truncate(text, previewRunes)
}

func engagementLine(r normalize.Record) string {
	var parts []string
	if v := r.FavouritesCount; v != nil && *v > 0 {
		parts = append(parts, fmt.Sprintf("❤️ %d", *v))
	}
	if v := r.ReblogsCount; v != nil && *v > 0 {
		parts = append(parts, fmt.Sprintf("🔄 %d", *v))
	}
	if v := r.RepliesCount; v != nil && *v > 0 {
		parts = append(parts, fmt.Sprintf("💬 %d", *v))
	}
	if len(parts) == 0 {
		return "No engagement yet"
	}
	return strings.Join(parts, " | ")
}

// truncate cuts s to limit runes and appends an ellipsis when it was longer.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func deref(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func scoreOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

// thousands formats n with comma separators.
func thousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	var b strings.Builder
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
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
