package persistence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"intelliconn/domain/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var syncJobRowColumns = []string{"id", "post_id", "owner_id", "platform", "state", "attempt", "deferrals", "next_run_at", "expires_at", "last_error", "created_at", "updated_at"}

func TestSyncJobRepository_CreateIfAbsent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSyncJobRepository(db)
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	job := &model.SyncJob{ID: "j1", PostID: "p1", OwnerID: "u1", Platform: model.PlatformFacebook, State: model.SyncJobPending, NextRunAt: now, ExpiresAt: now.Add(30 * 24 * time.Hour)}

	mock.ExpectExec(regexp.QuoteMeta(`ON CONFLICT (post_id, platform) WHERE state IN`)).
		WithArgs("j1", "p1", "u1", "facebook", "pending", 0, 0, now, job.ExpiresAt, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	created, err := repo.CreateIfAbsent(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, created)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO sync_jobs`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	created, err = repo.CreateIfAbsent(context.Background(), &model.SyncJob{ID: "j2", PostID: "p1", Platform: model.PlatformFacebook, State: model.SyncJobPending})
	require.NoError(t, err)
	assert.False(t, created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_TransitionClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSyncJobRepository(db)
	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	job := &model.SyncJob{ID: "j1", State: model.SyncJobRunning, NextRunAt: now}

	mock.ExpectExec(regexp.QuoteMeta(`WHERE id=$7 AND state=$8`)).
		WithArgs("running", 0, 0, now, nil, sqlmock.AnyArg(), "j1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Transition(context.Background(), job, model.SyncJobPending)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second worker loses the claim.
	mock.ExpectExec(regexp.QuoteMeta(`WHERE id=$7 AND state=$8`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.Transition(context.Background(), job, model.SyncJobPending)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_TransitionRejectsIllegalMove(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ok, err := NewSyncJobRepository(db).Transition(context.Background(), &model.SyncJob{ID: "j1", State: model.SyncJobRunning}, model.SyncJobDone)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_ListDue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	msg := "instagram: transient_network: timeout"
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE state IN ('pending','retry_scheduled') AND next_run_at <= $1`)).
		WithArgs(now, 50).
		WillReturnRows(sqlmock.NewRows(syncJobRowColumns).
			AddRow("j1", "p1", "u1", "instagram", "retry_scheduled", 2, 0, now.Add(-time.Second), now.Add(time.Hour), msg, now, now))

	list, err := NewSyncJobRepository(db).ListDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.SyncJobRetryScheduled, list[0].State)
	assert.Equal(t, 2, list[0].Attempt)
	require.NotNil(t, list[0].LastError)
	assert.Equal(t, msg, *list[0].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_RetireByPost(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sync_jobs SET state='done'`)).
		WithArgs("post deleted", sqlmock.AnyArg(), "p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, NewSyncJobRepository(db).RetireByPost(context.Background(), "p1", "post deleted"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSyncJobRepository_ReclaimRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-30 * time.Minute)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE sync_jobs SET state='retry_scheduled', attempt=attempt+1, next_run_at=$1, last_error=$2, updated_at=$1 WHERE state='running' AND updated_at < $3`)).
		WithArgs(now, model.ReclaimedRunningReason, staleBefore).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewSyncJobRepository(db).ReclaimRunning(context.Background(), staleBefore, now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
