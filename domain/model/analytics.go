package model

import "time"

// Metrics are the engagement counters a platform reports for one post.
// Impressions and EngagedUsers are not exposed by every platform.
type Metrics struct {
	Likes        int64  `json:"likes"`
	Comments     int64  `json:"comments"`
	Shares       int64  `json:"shares"`
	Impressions  *int64 `json:"impressions,omitempty"`
	EngagedUsers *int64 `json:"engaged_users,omitempty"`
}

// InsightsResult is the outcome of a fetchInsights call. Available=false is
// the not_yet_available outcome and is not an error.
type InsightsResult struct {
	Available bool
	Metrics   Metrics
}

// NotYetAvailable is the insights outcome for posts the platform has not
// computed numbers for yet.
func NotYetAvailable() *InsightsResult { return &InsightsResult{} }

// AnalyticsSnapshot is a point-in-time reading for one (post, platform).
type AnalyticsSnapshot struct {
	PostID         string    `json:"post_id"`
	Platform       Platform  `json:"platform"`
	OwnerID        string    `json:"owner_id"`
	PlatformPostID string    `json:"platform_post_id"`
	PublishedDay   time.Time `json:"published_day"`
	Metrics
	CapturedAt time.Time `json:"captured_at"`
}

// MergeSnapshot applies the ledger rules to an incoming snapshot:
// no existing row stores incoming as-is, the same platformPostId keeps the
// per-field maximum, and a different platformPostId is a reset that
// overwrites unconditionally. changed is false when the stored state would
// not move.
func MergeSnapshot(existing *AnalyticsSnapshot, incoming AnalyticsSnapshot) (merged AnalyticsSnapshot, changed bool) {
	if existing == nil || existing.PlatformPostID != incoming.PlatformPostID {
		return incoming, true
	}
	merged = *existing
	merged.Likes = maxInt64(existing.Likes, incoming.Likes)
	merged.Comments = maxInt64(existing.Comments, incoming.Comments)
	merged.Shares = maxInt64(existing.Shares, incoming.Shares)
	merged.Impressions = maxOptional(existing.Impressions, incoming.Impressions)
	merged.EngagedUsers = maxOptional(existing.EngagedUsers, incoming.EngagedUsers)
	if incoming.CapturedAt.After(existing.CapturedAt) {
		merged.CapturedAt = incoming.CapturedAt
	}
	if merged.OwnerID == "" {
		merged.OwnerID = incoming.OwnerID
	}
	if merged.PublishedDay.IsZero() {
		merged.PublishedDay = incoming.PublishedDay
	}
	return merged, !sameSnapshot(*existing, merged)
}

func sameSnapshot(a, b AnalyticsSnapshot) bool {
	return a.Likes == b.Likes &&
		a.Comments == b.Comments &&
		a.Shares == b.Shares &&
		equalOptional(a.Impressions, b.Impressions) &&
		equalOptional(a.EngagedUsers, b.EngagedUsers) &&
		a.CapturedAt.Equal(b.CapturedAt) &&
		a.OwnerID == b.OwnerID &&
		a.PublishedDay.Equal(b.PublishedDay)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func maxOptional(a, b *int64) *int64 {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil:
		v := *a
		return &v
	}
	v := maxInt64(*a, *b)
	return &v
}

func equalOptional(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// PostRollup sums the latest counters across platforms for one post.
type PostRollup struct {
	PostID       string    `json:"post_id"`
	OwnerID      string    `json:"owner_id"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
	Shares       int64     `json:"shares"`
	Impressions  int64     `json:"impressions"`
	EngagedUsers int64     `json:"engaged_users"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// OwnerDailyRollup sums post counters per owner per publication day (UTC).
type OwnerDailyRollup struct {
	OwnerID      string    `json:"owner_id"`
	Day          time.Time `json:"day"`
	Posts        int64     `json:"posts"`
	Likes        int64     `json:"likes"`
	Comments     int64     `json:"comments"`
	Shares       int64     `json:"shares"`
	Impressions  int64     `json:"impressions"`
	EngagedUsers int64     `json:"engaged_users"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DayOf truncates t to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
