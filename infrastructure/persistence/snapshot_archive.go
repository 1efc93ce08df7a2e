package persistence

import (
	"context"
	"time"

	"intelliconn/domain/model"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const snapshotCollection = "analytics_snapshot_history"

// SnapshotArchive appends every merge input, including readings the ledger
// discarded, to a Mongo collection.
type SnapshotArchive struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewSnapshotArchive(client *mongo.Client, database string) *SnapshotArchive {
	return &SnapshotArchive{
		collection: client.Database(database).Collection(snapshotCollection),
		now:        time.Now,
	}
}

// EnsureIndexes creates the (post_id, platform, captured_at) lookup index.
func (a *SnapshotArchive) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "platform", Value: 1}, {Key: "captured_at", Value: -1}},
		Options: options.Index().SetName("post_platform_captured"),
	})
	return err
}

func (a *SnapshotArchive) Append(ctx context.Context, snap model.AnalyticsSnapshot) error {
	_, err := a.collection.InsertOne(ctx, snapshotDocument(snap, a.now()))
	return err
}

// History returns the newest archived readings first.
func (a *SnapshotArchive) History(ctx context.Context, postID string, platform model.Platform, limit int64) ([]model.AnalyticsSnapshot, error) {
	filter := bson.D{{Key: "post_id", Value: postID}, {Key: "platform", Value: string(platform)}}
	cursor, err := a.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "captured_at", Value: -1}}).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []model.AnalyticsSnapshot
	for cursor.Next(ctx) {
		var doc archivedSnapshot
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toModel())
	}
	return out, cursor.Err()
}

type archivedSnapshot struct {
	PostID         string    `bson:"post_id"`
	Platform       string    `bson:"platform"`
	OwnerID        string    `bson:"owner_id"`
	PlatformPostID string    `bson:"platform_post_id"`
	PublishedDay   time.Time `bson:"published_day"`
	Likes          int64     `bson:"likes"`
	Comments       int64     `bson:"comments"`
	Shares         int64     `bson:"shares"`
	Impressions    *int64    `bson:"impressions,omitempty"`
	EngagedUsers   *int64    `bson:"engaged_users,omitempty"`
	CapturedAt     time.Time `bson:"captured_at"`
	ArchivedAt     time.Time `bson:"archived_at"`
}

func snapshotDocument(s model.AnalyticsSnapshot, at time.Time) archivedSnapshot {
	return archivedSnapshot{
		PostID:         s.PostID,
		Platform:       string(s.Platform),
		OwnerID:        s.OwnerID,
		PlatformPostID: s.PlatformPostID,
		PublishedDay:   s.PublishedDay.UTC(),
		Likes:          s.Likes,
		Comments:       s.Comments,
		Shares:         s.Shares,
		Impressions:    s.Impressions,
		EngagedUsers:   s.EngagedUsers,
		CapturedAt:     s.CapturedAt.UTC(),
		ArchivedAt:     at.UTC(),
	}
}

func (d archivedSnapshot) toModel() model.AnalyticsSnapshot {
	return model.AnalyticsSnapshot{
		PostID:         d.PostID,
		Platform:       model.Platform(d.Platform),
		OwnerID:        d.OwnerID,
		PlatformPostID: d.PlatformPostID,
		PublishedDay:   d.PublishedDay,
		Metrics: model.Metrics{
			Likes:        d.Likes,
			Comments:     d.Comments,
			Shares:       d.Shares,
			Impressions:  d.Impressions,
			EngagedUsers: d.EngagedUsers,
		},
		CapturedAt: d.CapturedAt,
	}
}
