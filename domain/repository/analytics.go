package repository

import (
	"context"
	"time"

	"intelliconn/domain/model"
)

// MergeFunc decides the stored state from the existing row (nil when absent).
// Returning changed=false leaves the store untouched.
type MergeFunc func(existing *model.AnalyticsSnapshot) (merged model.AnalyticsSnapshot, changed bool)

// IAnalytics is the ledger store with its rollups.
type IAnalytics interface {
	// Apply runs fn against the locked (post, platform) row and, when it
	// reports a change, saves the result and recomputes the affected rollups
	// in the same transaction.
	Apply(ctx context.Context, postID string, platform model.Platform, fn MergeFunc) (stored *model.AnalyticsSnapshot, changed bool, err error)
	ListSnapshots(ctx context.Context, postID string) ([]model.AnalyticsSnapshot, error)
	GetPostRollup(ctx context.Context, postID string) (*model.PostRollup, error)
	ListOwnerDaily(ctx context.Context, ownerID string, from, to time.Time) ([]model.OwnerDailyRollup, error)
}

// ISnapshotArchive keeps the raw history of merge inputs.
type ISnapshotArchive interface {
	Append(ctx context.Context, snap model.AnalyticsSnapshot) error
}
