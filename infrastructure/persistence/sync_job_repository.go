package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"intelliconn/domain/model"
)

const syncJobColumns = `id, post_id, owner_id, platform, state, attempt, deferrals, next_run_at, expires_at, last_error, created_at, updated_at`

// SyncJobRepository relies on the sync_jobs_outstanding partial unique index
// to keep a single outstanding job per (post, platform).
type SyncJobRepository struct{ db *sql.DB }

func NewSyncJobRepository(db *sql.DB) *SyncJobRepository { return &SyncJobRepository{db: db} }

func (r *SyncJobRepository) CreateIfAbsent(ctx context.Context, j *model.SyncJob) (bool, error) {
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = j.CreatedAt
	res, err := r.db.ExecContext(ctx, `INSERT INTO sync_jobs (`+syncJobColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (post_id, platform) WHERE state IN ('pending','running','retry_scheduled','paused') DO NOTHING`,
		j.ID, j.PostID, j.OwnerID, string(j.Platform), string(j.State), j.Attempt, j.Deferrals,
		j.NextRunAt.UTC(), j.ExpiresAt.UTC(), nullString(j.LastError), j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *SyncJobRepository) Get(ctx context.Context, id string) (*model.SyncJob, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+syncJobColumns+` FROM sync_jobs WHERE id=$1`, id)
	j, err := scanSyncJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrJobNotFound
	}
	return j, err
}

func (r *SyncJobRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]model.SyncJob, error) {
	return r.list(ctx, `SELECT `+syncJobColumns+` FROM sync_jobs WHERE state IN ('pending','retry_scheduled') AND next_run_at <= $1 ORDER BY next_run_at LIMIT $2`,
		now.UTC(), limit)
}

func (r *SyncJobRepository) ListPaused(ctx context.Context, limit int) ([]model.SyncJob, error) {
	return r.list(ctx, `SELECT `+syncJobColumns+` FROM sync_jobs WHERE state='paused' ORDER BY updated_at LIMIT $1`, limit)
}

// Transition is the claim primitive: the WHERE state=from clause lets
// exactly one worker move a job out of a given state.
func (r *SyncJobRepository) Transition(ctx context.Context, j *model.SyncJob, from model.SyncJobState) (bool, error) {
	if !model.CanTransition(from, j.State) {
		return false, model.ErrInvalidTransition
	}
	j.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE sync_jobs SET state=$1, attempt=$2, deferrals=$3, next_run_at=$4, last_error=$5, updated_at=$6
		WHERE id=$7 AND state=$8`,
		string(j.State), j.Attempt, j.Deferrals, j.NextRunAt.UTC(), nullString(j.LastError), j.UpdatedAt, j.ID, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReclaimRunning reschedules jobs whose worker stopped touching them before
// staleBefore. The updated_at guard keeps a live worker's later write from
// being overwritten by a reclaim that read an older row.
func (r *SyncJobRepository) ReclaimRunning(ctx context.Context, staleBefore, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_jobs SET state='retry_scheduled', attempt=attempt+1, next_run_at=$1, last_error=$2, updated_at=$1
		WHERE state='running' AND updated_at < $3`,
		now.UTC(), model.ReclaimedRunningReason, staleBefore.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *SyncJobRepository) RetireByPost(ctx context.Context, postID string, reason string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sync_jobs SET state='done', last_error=$1, updated_at=$2
		WHERE post_id=$3 AND state IN ('pending','running','retry_scheduled','paused')`,
		reason, time.Now().UTC(), postID)
	return err
}

func (r *SyncJobRepository) list(ctx context.Context, q string, args ...interface{}) ([]model.SyncJob, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.SyncJob
	for rows.Next() {
		j, err := scanSyncJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *j)
	}
	return list, rows.Err()
}

func scanSyncJob(row scanner) (*model.SyncJob, error) {
	j := &model.SyncJob{}
	var platform, state string
	var lastError sql.NullString
	if err := row.Scan(&j.ID, &j.PostID, &j.OwnerID, &platform, &state, &j.Attempt, &j.Deferrals,
		&j.NextRunAt, &j.ExpiresAt, &lastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Platform = model.Platform(platform)
	j.State = model.SyncJobState(state)
	j.LastError = stringPtr(lastError)
	return j, nil
}
