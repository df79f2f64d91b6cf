package silver

import "fmt"

// Table names inside the silver schema.
const (
	TableDate      = "dim_date"
	TableAccount   = "dim_account"
	TableContent   = "dim_content"
	TableSentiment = "dim_sentiment"
	TableFact      = "fact_toot_engagement"
)

// Tables lists the silver tables in load order.
var Tables = []string{TableDate, TableAccount, TableContent, TableSentiment, TableFact}

var accountColumns = []string{
	"account_id",
	"username",
	"display_name",
	"followers_count",
	"following_count",
	"statuses_count",
	"is_bot",
	"account_created_at",
	"account_age_days",
	"influence_tier",
	"engagement_ratio",
	"valid_from",
	"valid_to",
	"is_current",
}

func (v AccountVersion) values() []any {
	return []any{
		v.AccountID,
		v.Username,
		v.DisplayName,
		v.Followers,
		v.Following,
		v.Statuses,
		v.IsBot,
		v.CreatedAt,
		v.AgeDays,
		v.InfluenceTier,
		v.EngagementRatio,
		v.ValidFrom,
		v.ValidTo,
		v.IsCurrent,
	}
}

const (
	setUTCSQL    = `SET LOCAL TIME ZONE 'UTC'`
	advisoryLock = `SELECT pg_advisory_xact_lock($1)`
)

func dateSQL(schema, bronze string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s.dim_date (
	date_key, date, year, quarter, month, month_name,
	week_of_year, day_of_month, day_of_week, day_name,
	is_weekend, hour
)
SELECT DISTINCT ON (date_key) *
FROM (
	SELECT
		TO_CHAR(created_at, 'YYYYMMDD')::INTEGER AS date_key,
		DATE(created_at) AS date,
		EXTRACT(YEAR FROM created_at)::INTEGER AS year,
		EXTRACT(QUARTER FROM created_at)::INTEGER AS quarter,
		EXTRACT(MONTH FROM created_at)::INTEGER AS month,
		TO_CHAR(created_at, 'FMMonth') AS month_name,
		EXTRACT(WEEK FROM created_at)::INTEGER AS week_of_year,
		EXTRACT(DAY FROM created_at)::INTEGER AS day_of_month,
		EXTRACT(DOW FROM created_at)::INTEGER AS day_of_week,
		TO_CHAR(created_at, 'FMDay') AS day_name,
		EXTRACT(DOW FROM created_at) IN (0, 6) AS is_weekend,
		EXTRACT(HOUR FROM created_at)::INTEGER AS hour
	FROM %[2]s
	WHERE created_at IS NOT NULL
) d
ORDER BY date_key, hour
ON CONFLICT (date_key) DO NOTHING`, schema, bronze)
}

func candidatesSQL(bronze string) string {
	return fmt.Sprintf(`
SELECT DISTINCT ON (account_id)
	account_id,
	account_username,
	account_display_name,
	account_followers_count,
	account_following_count,
	account_statuses_count,
	account_is_bot,
	account_created_at,
	ingestion_timestamp
FROM %s
WHERE account_id IS NOT NULL
ORDER BY account_id, ingestion_timestamp DESC, created_at DESC`, bronze)
}

func currentAccountsSQL(schema string) string {
	return fmt.Sprintf(`
SELECT account_key, account_id, username, followers_count, following_count, statuses_count
FROM %s.dim_account
WHERE is_current AND account_id = ANY($1)`, schema)
}

func expireAccountsSQL(schema string) string {
	return fmt.Sprintf(`
UPDATE %s.dim_account
SET is_current = FALSE, valid_to = $2, updated_at = $2
WHERE account_id = ANY($1) AND is_current`, schema)
}

func contentSQL(schema, bronze string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s.dim_content (
	toot_id, language, visibility, content_length, content_clean_length,
	has_media, media_count, media_types, has_poll, has_card,
	is_reblog, is_reply, is_sensitive, has_spoiler,
	hashtag_count, mention_count, tag_names, mention_usernames, content_type
)
SELECT DISTINCT ON (id)
	id,
	language,
	visibility,
	LENGTH(content),
	LENGTH(content_clean),
	COALESCE(media_count, 0) > 0,
	media_count,
	media_types,
	has_poll,
	has_card,
	is_reblog,
	in_reply_to_id IS NOT NULL,
	sensitive,
	COALESCE(spoiler_text, '') <> '',
	CASE WHEN COALESCE(tag_names, '') <> ''
		THEN array_length(string_to_array(tag_names, ','), 1) ELSE 0 END,
	CASE WHEN COALESCE(mention_usernames, '') <> ''
		THEN array_length(string_to_array(mention_usernames, ','), 1) ELSE 0 END,
	tag_names,
	mention_usernames,
	%[3]s
FROM %[2]s
ORDER BY id, ingestion_timestamp DESC
ON CONFLICT (toot_id) DO NOTHING`, schema, bronze, contentTypeCase())
}

func sentimentSQL(schema, bronze string) string {
	return fmt.Sprintf(`
INSERT INTO %[1]s.dim_sentiment (
	sentiment_value, sentiment_score_min, sentiment_score_max,
	sentiment_confidence, sentiment_model_name
)
SELECT DISTINCT
	sentiment_value,
	%[3]s,
	%[4]s,
	%[5]s,
	sentiment_model_name
FROM %[2]s
WHERE sentiment_value IS NOT NULL
	AND sentiment_score IS NOT NULL
	AND sentiment_model_name IS NOT NULL
ON CONFLICT (sentiment_value, sentiment_score_min, sentiment_score_max, sentiment_model_name) DO NOTHING`,
		schema, bronze,
		bucketCase("sentiment_score", bucketMin),
		bucketCase("sentiment_score", bucketMax),
		bucketCase("sentiment_score", bucketConfidence),
	)
}

func factSQL(schema, bronze string) string {
	top := formatScore(Buckets[len(Buckets)-1].Max)
	return fmt.Sprintf(`
INSERT INTO %[1]s.fact_toot_engagement (
	toot_id, date_key, account_key, content_key, sentiment_key,
	replies_count, reblogs_count, favourites_count, quotes_count,
	total_engagement, visibility, language, created_at, edited_at
)
WITH latest AS (
	SELECT DISTINCT ON (id)
		id, created_at, account_id,
		sentiment_value, sentiment_model_name, sentiment_score,
		replies_count, reblogs_count, favourites_count, quotes_count,
		visibility, language, edited_at
	FROM %[2]s
	ORDER BY id, ingestion_timestamp DESC
)
SELECT
	b.id,
	TO_CHAR(b.created_at, 'YYYYMMDD')::INTEGER,
	a.account_key,
	c.content_key,
	s.sentiment_key,
	b.replies_count,
	b.reblogs_count,
	b.favourites_count,
	b.quotes_count,
	%[4]s,
	b.visibility,
	b.language,
	b.created_at,
	b.edited_at
FROM latest b
LEFT JOIN %[1]s.dim_account a
	ON a.account_id = b.account_id AND a.is_current
LEFT JOIN %[1]s.dim_content c
	ON c.toot_id = b.id
LEFT JOIN %[1]s.dim_sentiment s
	ON LOWER(s.sentiment_value) = LOWER(b.sentiment_value)
	AND s.sentiment_model_name = b.sentiment_model_name
	AND b.sentiment_score >= s.sentiment_score_min
	AND (b.sentiment_score < s.sentiment_score_max
		OR (s.sentiment_score_max = %[3]s AND b.sentiment_score = %[3]s))
ON CONFLICT (toot_id) DO UPDATE SET
	%[5]s`, schema, bronze, top, totalEngagement("b"), factUpdateSet())
}
