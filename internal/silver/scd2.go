package silver

import (
	"sort"
	"time"
)

// Influence tiers keyed on follower count.
const (
	TierMega  = "Mega"
	TierMacro = "Macro"
	TierMid   = "Mid"
	TierMicro = "Micro"
)

// OpenValidTo closes the validity range of the current account version.
var OpenValidTo = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// AccountCandidate is the latest bronze view of one account.
type AccountCandidate struct {
	AccountID   string
	Username    *string
	DisplayName *string
	Followers   *int64
	Following   *int64
	Statuses    *int64
	IsBot       *bool
	CreatedAt   *time.Time
	IngestedAt  time.Time
}

// CurrentAccount is the tracked subset of the current dim_account version.
type CurrentAccount struct {
	AccountKey int64
	AccountID  string
	Username   *string
	Followers  *int64
	Following  *int64
	Statuses   *int64
}

// AccountVersion is a dim_account row about to be inserted.
type AccountVersion struct {
	AccountID       string
	Username        *string
	DisplayName     *string
	Followers       *int64
	Following       *int64
	Statuses        *int64
	IsBot           *bool
	CreatedAt       *time.Time
	AgeDays         *int64
	InfluenceTier   string
	EngagementRatio float64
	ValidFrom       time.Time
	ValidTo         time.Time
	IsCurrent       bool
}

// Plan is the SCD2 change set for one run.
type Plan struct {
	// Expire lists account ids whose current version must be closed.
	Expire    []string
	Insert    []AccountVersion
	Unchanged int
}

// CollapseCandidates keeps one candidate per account: the one with the latest
// ingestion timestamp. The first of equally recent rows wins. Output is sorted
// by account id.
func CollapseCandidates(rows []AccountCandidate) []AccountCandidate {
	latest := make(map[string]AccountCandidate, len(rows))
	for _, row := range rows {
		if row.AccountID == "" {
			continue
		}
		prev, ok := latest[row.AccountID]
		if !ok || row.IngestedAt.After(prev.IngestedAt) {
			latest[row.AccountID] = row
		}
	}
	out := make([]AccountCandidate, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// InfluenceTier buckets an account by follower count. Unknown counts are Micro.
func InfluenceTier(followers *int64) string {
	if followers == nil {
		return TierMicro
	}
	switch f := *followers; {
	case f >= 1_000_000:
		return TierMega
	case f >= 100_000:
		return TierMacro
	case f >= 10_000:
		return TierMid
	default:
		return TierMicro
	}
}

// EngagementRatio is followers over following, or 0 when either is unknown or
// following is zero.
func EngagementRatio(followers, following *int64) float64 {
	if followers == nil || following == nil || *following <= 0 {
		return 0
	}
	return float64(*followers) / float64(*following)
}

// AgeDays is the number of whole days between created and now.
func AgeDays(created *time.Time, now time.Time) *int64 {
	if created == nil {
		return nil
	}
	days := int64(now.Sub(*created) / (24 * time.Hour))
	return &days
}

// DeriveAccount turns a candidate into the version that would be inserted.
func DeriveAccount(c AccountCandidate, now time.Time) AccountVersion {
	return AccountVersion{
		AccountID:       c.AccountID,
		Username:        c.Username,
		DisplayName:     c.DisplayName,
		Followers:       c.Followers,
		Following:       c.Following,
		Statuses:        c.Statuses,
		IsBot:           c.IsBot,
		CreatedAt:       c.CreatedAt,
		AgeDays:         AgeDays(c.CreatedAt, now),
		InfluenceTier:   InfluenceTier(c.Followers),
		EngagementRatio: EngagementRatio(c.Followers, c.Following),
		ValidFrom:       c.IngestedAt,
		ValidTo:         OpenValidTo,
		IsCurrent:       true,
	}
}

// DetectChanges reports whether c needs a new version. Null and non-null
// values compare as different.
func DetectChanges(c AccountCandidate, current *CurrentAccount) bool {
	if current == nil {
		return true
	}
	return !equalPtr(c.Username, current.Username) ||
		!equalPtr(c.Followers, current.Followers) ||
		!equalPtr(c.Following, current.Following) ||
		!equalPtr(c.Statuses, current.Statuses)
}

// PlanSCD2 computes which accounts to expire and which versions to insert.
// A brand-new account is inserted without an expiry.
func PlanSCD2(candidates []AccountCandidate, current map[string]CurrentAccount, now time.Time) Plan {
	var plan Plan
	for _, c := range CollapseCandidates(candidates) {
		cur, ok := current[c.AccountID]
		var curPtr *CurrentAccount
		if ok {
			curPtr = &cur
		}
		if !DetectChanges(c, curPtr) {
			plan.Unchanged++
			continue
		}
		if ok {
			plan.Expire = append(plan.Expire, c.AccountID)
		}
		plan.Insert = append(plan.Insert, DeriveAccount(c, now))
	}
	return plan
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
