package dto

import (
	"time"

	"intelliconn/domain/model"
)

// PostAnalytics is the read model for one post's analytics.
type PostAnalytics struct {
	PostID    string                    `json:"postId"`
	Snapshots []model.AnalyticsSnapshot `json:"snapshots"`
	Rollup    *model.PostRollup         `json:"rollup,omitempty"`
}

// DailyAnalyticsRequest bounds the owner rollup query (inclusive days).
type DailyAnalyticsRequest struct {
	From string `form:"from"`
	To   string `form:"to"`
}

// Range parses the request, defaulting to the last 30 days ending today.
func (r DailyAnalyticsRequest) Range(now time.Time) (time.Time, time.Time, error) {
	to := model.DayOf(now)
	from := to.AddDate(0, 0, -29)
	if r.From != "" {
		t, err := time.Parse("2006-01-02", r.From)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if r.To != "" {
		t, err := time.Parse("2006-01-02", r.To)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = t
	}
	return from, to, nil
}

// Event is pushed to dashboard subscribers.
type Event struct {
	Type    string      `json:"type"`
	OwnerID string      `json:"ownerId"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"at"`
}

const (
	EventPublishResult     = "publish_result"
	EventAnalyticsSnapshot = "analytics_snapshot"
	EventCredentialInvalid = "credential_invalid"
	EventSyncFailed        = "sync_failed"
)
