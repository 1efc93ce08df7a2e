package usecase

import (
	"context"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/logger"
)

type IAnalyticsLedger interface {
	// Merge applies snap to the stored (post, platform) state. Merges of the
	// same key are serialized; distinct keys run in parallel.
	Merge(ctx context.Context, snap model.AnalyticsSnapshot) (*model.AnalyticsSnapshot, bool, error)
	PostAnalytics(ctx context.Context, postID string) (*dto.PostAnalytics, error)
	OwnerDaily(ctx context.Context, ownerID string, from, to time.Time) ([]model.OwnerDailyRollup, error)
}

type analyticsLedger struct {
	repo    repository.IAnalytics
	archive repository.ISnapshotArchive
	events  repository.IEventPublisher
	keys    *keyedMutex
}

// NewAnalyticsLedger builds the ledger. archive and events may be nil.
func NewAnalyticsLedger(repo repository.IAnalytics, archive repository.ISnapshotArchive, events repository.IEventPublisher) IAnalyticsLedger {
	return &analyticsLedger{repo: repo, archive: archive, events: events, keys: newKeyedMutex()}
}

func (l *analyticsLedger) Merge(ctx context.Context, snap model.AnalyticsSnapshot) (*model.AnalyticsSnapshot, bool, error) {
	unlock := l.keys.Lock(snap.PostID + "|" + string(snap.Platform))
	defer unlock()

	stored, changed, err := l.repo.Apply(ctx, snap.PostID, snap.Platform, func(existing *model.AnalyticsSnapshot) (model.AnalyticsSnapshot, bool) {
		return model.MergeSnapshot(existing, snap)
	})
	if err != nil {
		return nil, false, err
	}

	log := logger.GetLogger().WithField("post_id", snap.PostID).WithField("platform", snap.Platform)
	if l.archive != nil {
		if err := l.archive.Append(ctx, snap); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to archive snapshot")
		}
	}
	if !changed {
		log.Debug("Snapshot merge was a no-op")
		return stored, false, nil
	}
	log.WithField("likes", stored.Likes).WithField("comments", stored.Comments).WithField("shares", stored.Shares).Info("Analytics snapshot merged")
	if l.events != nil {
		ev := dto.Event{Type: dto.EventAnalyticsSnapshot, OwnerID: stored.OwnerID, Payload: stored, At: stored.CapturedAt}
		if err := l.events.Publish(ctx, ev); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to publish snapshot event")
		}
	}
	return stored, true, nil
}

func (l *analyticsLedger) PostAnalytics(ctx context.Context, postID string) (*dto.PostAnalytics, error) {
	snaps, err := l.repo.ListSnapshots(ctx, postID)
	if err != nil {
		return nil, err
	}
	rollup, err := l.repo.GetPostRollup(ctx, postID)
	if err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []model.AnalyticsSnapshot{}
	}
	return &dto.PostAnalytics{PostID: postID, Snapshots: snaps, Rollup: rollup}, nil
}

func (l *analyticsLedger) OwnerDaily(ctx context.Context, ownerID string, from, to time.Time) ([]model.OwnerDailyRollup, error) {
	return l.repo.ListOwnerDaily(ctx, ownerID, model.DayOf(from), model.DayOf(to))
}
