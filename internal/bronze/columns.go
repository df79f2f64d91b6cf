package bronze

import (
	"time"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/normalize"
)

// RecordColumns lists the normalized record columns in table order.
var RecordColumns = []string{
	"id",
	"created_at",
	"in_reply_to_id",
	"in_reply_to_account_id",
	"sensitive",
	"spoiler_text",
	"visibility",
	"language",
	"uri",
	"url",
	"replies_count",
	"reblogs_count",
	"favourites_count",
	"quotes_count",
	"edited_at",
	"content",
	"reblog",
	"account",
	"media_attachments",
	"mentions",
	"tags",
	"emojis",
	"quote",
	"card",
	"poll",
	"quote_approval",
	"application",
	"account_id",
	"account_username",
	"account_display_name",
	"content_clean",
	"spoiler_text_clean",
	"tag_names",
	"mention_usernames",
	"media_count",
	"media_types",
	"account_followers_count",
	"account_following_count",
	"account_statuses_count",
	"account_is_bot",
	"account_created_at",
	"is_reblog",
	"has_poll",
	"has_card",
	"sentiment_score",
	"sentiment_value",
	"sentiment_model_name",
}

// MetadataColumns are stamped by the loader on every row.
var MetadataColumns = []string{"ingestion_timestamp", "pipeline_run_id", "data_version"}

// Columns is the full bronze column list.
var Columns = append(append([]string(nil), RecordColumns...), MetadataColumns...)

// Metadata is the lineage attached to a load.
type Metadata struct {
	IngestedAt  time.Time
	RunID       string
	DataVersion string
}

func recordValues(r normalize.Record) []any {
	return []any{
		r.ID,
		r.CreatedAt,
		r.InReplyToID,
		r.InReplyToAccountID,
		r.Sensitive,
		r.SpoilerText,
		r.Visibility,
		r.Language,
		r.URI,
		r.URL,
		r.RepliesCount,
		r.ReblogsCount,
		r.FavouritesCount,
		r.QuotesCount,
		r.EditedAt,
		r.Content,
		r.Reblog,
		r.Account,
		r.MediaAttachments,
		r.Mentions,
		r.Tags,
		r.Emojis,
		r.Quote,
		r.Card,
		r.Poll,
		r.QuoteApproval,
		r.Application,
		r.AccountID,
		r.AccountUsername,
		r.AccountDisplayName,
		r.ContentClean,
		r.SpoilerTextClean,
		r.TagNames,
		r.MentionUsernames,
		r.MediaCount,
		r.MediaTypes,
		r.AccountFollowersCount,
		r.AccountFollowingCount,
		r.AccountStatusesCount,
		r.AccountIsBot,
		r.AccountCreatedAt,
		r.IsReblog,
		r.HasPoll,
		r.HasCard,
		r.SentimentScore,
		r.SentimentValue,
		r.SentimentModelName,
	}
}

func rowValues(r normalize.Record, meta Metadata) []any {
	return append(recordValues(r), meta.IngestedAt, meta.RunID, meta.DataVersion)
}
