package repository

import (
	"context"
	"time"

	"intelliconn/domain/model"
)

// ISyncJob stores analytics sync jobs. At most one outstanding job exists
// per (post, platform).
type ISyncJob interface {
	// CreateIfAbsent inserts j unless an outstanding job already holds the slot.
	CreateIfAbsent(ctx context.Context, j *model.SyncJob) (created bool, err error)
	Get(ctx context.Context, id string) (*model.SyncJob, error)
	// ListDue returns pending and retry_scheduled jobs with next_run_at <= now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]model.SyncJob, error)
	ListPaused(ctx context.Context, limit int) ([]model.SyncJob, error)
	// Transition writes j only if the stored state still equals from.
	Transition(ctx context.Context, j *model.SyncJob, from model.SyncJobState) (ok bool, err error)
	// RetireByPost moves every outstanding job of the post to done.
	RetireByPost(ctx context.Context, postID string, reason string) error
	// ReclaimRunning hands jobs left running since before staleBefore back
	// as retry_scheduled, due at now.
	ReclaimRunning(ctx context.Context, staleBefore, now time.Time) (int, error)
}
