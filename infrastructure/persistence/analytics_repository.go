package persistence

import (
	"context"
	"errors"
	"time"

	"intelliconn/domain/model"
	"intelliconn/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type analyticsSnapshotRecord struct {
	PostID         string    `gorm:"primaryKey;size:64"`
	Platform       string    `gorm:"primaryKey;size:16"`
	OwnerID        string    `gorm:"size:128;index:idx_snapshot_owner_day,priority:1"`
	PlatformPostID string    `gorm:"size:128"`
	PublishedDay   time.Time `gorm:"index:idx_snapshot_owner_day,priority:2"`
	Likes          int64
	Comments       int64
	Shares         int64
	Impressions    *int64
	EngagedUsers   *int64
	CapturedAt     time.Time
	UpdatedAt      time.Time
}

func (analyticsSnapshotRecord) TableName() string { return "analytics_snapshots" }

type postRollupRecord struct {
	PostID       string `gorm:"primaryKey;size:64"`
	OwnerID      string `gorm:"size:128;index"`
	Likes        int64
	Comments     int64
	Shares       int64
	Impressions  int64
	EngagedUsers int64
	UpdatedAt    time.Time
}

func (postRollupRecord) TableName() string { return "post_rollups" }

type ownerDailyRecord struct {
	OwnerID      string    `gorm:"primaryKey;size:128"`
	Day          time.Time `gorm:"primaryKey"`
	Posts        int64
	Likes        int64
	Comments     int64
	Shares       int64
	Impressions  int64
	EngagedUsers int64
	UpdatedAt    time.Time
}

func (ownerDailyRecord) TableName() string { return "owner_daily_rollups" }

type rollupSums struct {
	Posts        int64
	Likes        int64
	Comments     int64
	Shares       int64
	Impressions  int64
	EngagedUsers int64
}

const sumColumns = "COUNT(DISTINCT post_id) AS posts, COALESCE(SUM(likes),0) AS likes, COALESCE(SUM(comments),0) AS comments, " +
	"COALESCE(SUM(shares),0) AS shares, COALESCE(SUM(impressions),0) AS impressions, COALESCE(SUM(engaged_users),0) AS engaged_users"

// AnalyticsRepository is the gorm-backed ledger. Rollups are materialized
// and recomputed inside the transaction that changes a snapshot.
type AnalyticsRepository struct {
	db *gorm.DB
}

func NewAnalyticsRepository(db *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: db}
}

func (r *AnalyticsRepository) Apply(ctx context.Context, postID string, platform model.Platform, fn repository.MergeFunc) (*model.AnalyticsSnapshot, bool, error) {
	var stored *model.AnalyticsSnapshot
	var changed bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec analyticsSnapshotRecord
		res := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("post_id = ? AND platform = ?", postID, string(platform)).
			Take(&rec)

		var existing *model.AnalyticsSnapshot
		switch {
		case errors.Is(res.Error, gorm.ErrRecordNotFound):
		case res.Error != nil:
			return res.Error
		default:
			s := rec.toModel()
			existing = &s
		}

		merged, ok := fn(existing)
		if !ok {
			stored = existing
			return nil
		}
		merged.PostID = postID
		merged.Platform = platform
		merged.PublishedDay = model.DayOf(merged.PublishedDay)

		next := snapshotRecordOf(merged)
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&next).Error; err != nil {
			return err
		}
		if err := recomputePost(tx, postID); err != nil {
			return err
		}
		if err := recomputeOwnerDay(tx, merged.OwnerID, merged.PublishedDay); err != nil {
			return err
		}
		// A reset can move the row to another owner day.
		if existing != nil && (existing.OwnerID != merged.OwnerID || !existing.PublishedDay.Equal(merged.PublishedDay)) {
			if err := recomputeOwnerDay(tx, existing.OwnerID, model.DayOf(existing.PublishedDay)); err != nil {
				return err
			}
		}
		stored = &merged
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return stored, changed, nil
}

func (r *AnalyticsRepository) ListSnapshots(ctx context.Context, postID string) ([]model.AnalyticsSnapshot, error) {
	var recs []analyticsSnapshotRecord
	if err := r.db.WithContext(ctx).Where("post_id = ?", postID).Order("platform").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.AnalyticsSnapshot, len(recs))
	for i := range recs {
		out[i] = recs[i].toModel()
	}
	return out, nil
}

// GetPostRollup returns nil when the post has no snapshots yet.
func (r *AnalyticsRepository) GetPostRollup(ctx context.Context, postID string) (*model.PostRollup, error) {
	var rec postRollupRecord
	err := r.db.WithContext(ctx).Where("post_id = ?", postID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.PostRollup{
		PostID:       rec.PostID,
		OwnerID:      rec.OwnerID,
		Likes:        rec.Likes,
		Comments:     rec.Comments,
		Shares:       rec.Shares,
		Impressions:  rec.Impressions,
		EngagedUsers: rec.EngagedUsers,
		UpdatedAt:    rec.UpdatedAt,
	}, nil
}

func (r *AnalyticsRepository) ListOwnerDaily(ctx context.Context, ownerID string, from, to time.Time) ([]model.OwnerDailyRollup, error) {
	var recs []ownerDailyRecord
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND day >= ? AND day <= ? AND posts > 0", ownerID, model.DayOf(from), model.DayOf(to)).
		Order("day").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	out := make([]model.OwnerDailyRollup, len(recs))
	for i, rec := range recs {
		out[i] = model.OwnerDailyRollup{
			OwnerID:      rec.OwnerID,
			Day:          rec.Day.UTC(),
			Posts:        rec.Posts,
			Likes:        rec.Likes,
			Comments:     rec.Comments,
			Shares:       rec.Shares,
			Impressions:  rec.Impressions,
			EngagedUsers: rec.EngagedUsers,
			UpdatedAt:    rec.UpdatedAt,
		}
	}
	return out, nil
}

func recomputePost(tx *gorm.DB, postID string) error {
	var sums rollupSums
	if err := tx.Model(&analyticsSnapshotRecord{}).Select(sumColumns).Where("post_id = ?", postID).Scan(&sums).Error; err != nil {
		return err
	}
	var owner analyticsSnapshotRecord
	if err := tx.Select("owner_id").Where("post_id = ?", postID).Take(&owner).Error; err != nil {
		return err
	}
	rec := postRollupRecord{
		PostID:       postID,
		OwnerID:      owner.OwnerID,
		Likes:        sums.Likes,
		Comments:     sums.Comments,
		Shares:       sums.Shares,
		Impressions:  sums.Impressions,
		EngagedUsers: sums.EngagedUsers,
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func recomputeOwnerDay(tx *gorm.DB, ownerID string, day time.Time) error {
	var sums rollupSums
	if err := tx.Model(&analyticsSnapshotRecord{}).Select(sumColumns).
		Where("owner_id = ? AND published_day = ?", ownerID, day).
		Scan(&sums).Error; err != nil {
		return err
	}
	rec := ownerDailyRecord{
		OwnerID:      ownerID,
		Day:          day,
		Posts:        sums.Posts,
		Likes:        sums.Likes,
		Comments:     sums.Comments,
		Shares:       sums.Shares,
		Impressions:  sums.Impressions,
		EngagedUsers: sums.EngagedUsers,
	}
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&rec).Error
}

func snapshotRecordOf(s model.AnalyticsSnapshot) analyticsSnapshotRecord {
	return analyticsSnapshotRecord{
		PostID:         s.PostID,
		Platform:       string(s.Platform),
		OwnerID:        s.OwnerID,
		PlatformPostID: s.PlatformPostID,
		PublishedDay:   s.PublishedDay,
		Likes:          s.Likes,
		Comments:       s.Comments,
		Shares:         s.Shares,
		Impressions:    s.Impressions,
		EngagedUsers:   s.EngagedUsers,
		CapturedAt:     s.CapturedAt.UTC(),
	}
}

func (rec analyticsSnapshotRecord) toModel() model.AnalyticsSnapshot {
	return model.AnalyticsSnapshot{
		PostID:         rec.PostID,
		Platform:       model.Platform(rec.Platform),
		OwnerID:        rec.OwnerID,
		PlatformPostID: rec.PlatformPostID,
		PublishedDay:   rec.PublishedDay.UTC(),
		Metrics: model.Metrics{
			Likes:        rec.Likes,
			Comments:     rec.Comments,
			Shares:       rec.Shares,
			Impressions:  rec.Impressions,
			EngagedUsers: rec.EngagedUsers,
		},
		CapturedAt: rec.CapturedAt.UTC(),
	}
}
