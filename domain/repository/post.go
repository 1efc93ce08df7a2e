package repository

import (
	"context"
	"time"

	"intelliconn/domain/model"
)

type IPost interface {
	Create(ctx context.Context, p *model.Post) error
	// Get returns model.ErrPostNotFound for missing or deleted posts.
	Get(ctx context.Context, id string) (*model.Post, error)
	// TransitionStatus moves the post to `to` only when its current status is
	// one of `from`. ok is false when no row matched.
	TransitionStatus(ctx context.Context, id string, from []model.PostStatus, to model.PostStatus) (ok bool, err error)
	ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.Post, error)
	SoftDelete(ctx context.Context, id, authorID string) error
	// ReleaseStalePublishing moves posts stuck in publishing since before
	// staleBefore to partially_published when they have an active
	// publication, otherwise to failed.
	ReleaseStalePublishing(ctx context.Context, staleBefore time.Time) (int, error)
}

type IPublication interface {
	// Insert creates the (post, platform) row. created is false when a row
	// already existed; the existing row is left untouched.
	Insert(ctx context.Context, p *model.PlatformPublication) (created bool, err error)
	Get(ctx context.Context, postID string, platform model.Platform) (*model.PlatformPublication, error)
	ListByPost(ctx context.Context, postID string) ([]model.PlatformPublication, error)
	// ListSyncCandidates returns publications matching f. Rows holding an
	// outstanding sync job are excluded before the limit applies.
	ListSyncCandidates(ctx context.Context, f model.SyncCandidateFilter) ([]model.PlatformPublication, error)
	MarkSynced(ctx context.Context, postID string, platform model.Platform, at time.Time) error
	MarkDeletedByPost(ctx context.Context, postID string) error
}
