package normalize

import (
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mastodon-medallion-etl/internal/crawler"
)

// Normalizer maps raw posts to records and applies the quality rules.
type Normalizer struct {
	logger *zap.Logger
}

// New constructs a Normalizer.
func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize converts a single post. It never panics on bad field shapes;
// only structural failures (no id, no usable creation time) reject the post.
func (n *Normalizer) Normalize(post crawler.RawPost) Result {
	id := strings.TrimSpace(post.ID)
	if id == "" {
		return Reject("", "missing id")
	}
	createdAt := post.CreatedAt
	if createdAt.IsZero() {
		t, ok := crawler.ParseTimestamp(post.CreatedAtRaw)
		if !ok {
			return Reject(id, "invalid created_at")
		}
		createdAt = t
	}

	rec := Record{
		ID:                 id,
		CreatedAt:          createdAt.UTC(),
		InReplyToID:        nullablePtr(post.InReplyToID),
		InReplyToAccountID: nullablePtr(post.InReplyToAccountID),
		Sensitive:          post.Sensitive,
		SpoilerText:        nullable(post.SpoilerText),
		Visibility:         nullable(post.Visibility),
		Language:           nullablePtr(post.Language),
		URI:                nullable(post.URI),
		URL:                nullablePtr(post.URL),
		RepliesCount:       parseCount(post.RepliesCount),
		ReblogsCount:       parseCount(post.ReblogsCount),
		FavouritesCount:    parseCount(post.FavouritesCount),
		QuotesCount:        parseCount(post.QuotesCount),
		EditedAt:           parseTime(post.EditedAtRaw),
		Content:            nullable(post.Content),

		Reblog:           opaqueJSON(post.Reblog),
		Account:          opaqueJSON(post.Account),
		MediaAttachments: opaqueJSON(post.MediaAttachments),
		Mentions:         opaqueJSON(post.Mentions),
		Tags:             opaqueJSON(post.Tags),
		Emojis:           opaqueJSON(post.Emojis),
		Quote:            opaqueJSON(post.Quote),
		Card:             opaqueJSON(post.Card),
		Poll:             opaqueJSON(post.Poll),
		QuoteApproval:    opaqueJSON(post.QuoteApproval),
		Application:      opaqueJSON(post.Application),

		ContentClean:     CleanHTML(post.Content),
		SpoilerTextClean: CleanHTML(post.SpoilerText),
		TagNames:         joinField(post.Tags, "name"),
		MentionUsernames: joinField(post.Mentions, "username"),
		MediaCount:       countList(post.MediaAttachments),
		MediaTypes:       joinField(post.MediaAttachments, "type"),
		IsReblog:         present(post.Reblog),
		HasPoll:          present(post.Poll),
		HasCard:          present(post.Card),
	}

	acct := extractAccount(post.Account)
	rec.AccountID = acct.ID
	rec.AccountUsername = acct.Username
	rec.AccountDisplayName = acct.DisplayName
	rec.AccountFollowersCount = acct.FollowersCount
	rec.AccountFollowingCount = acct.FollowingCount
	rec.AccountStatusesCount = acct.StatusesCount
	rec.AccountIsBot = acct.Bot
	rec.AccountCreatedAt = acct.CreatedAt

	ApplyQualityRules(&rec)
	return Normalized(rec)
}

// NormalizeAll normalizes posts in order and collapses duplicate ids, keeping
// the first one seen.
func (n *Normalizer) NormalizeAll(posts []crawler.RawPost) ([]Record, []Rejected) {
	records := make([]Record, 0, len(posts))
	var rejected []Rejected
	for _, post := range posts {
		res := n.Normalize(post)
		if rej, ok := res.Rejected(); ok {
			n.logger.Warn("rejected post", zap.String("id", rej.ID), zap.String("reason", rej.Reason))
			rejected = append(rejected, rej)
			continue
		}
		rec, _ := res.Record()
		records = append(records, rec)
	}
	deduped := Dedup(records)
	if dropped := len(records) - len(deduped); dropped > 0 {
		n.logger.Warn("removed duplicate records", zap.Int("duplicates", dropped))
	}
	return deduped, rejected
}
