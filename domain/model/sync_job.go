package model

import "time"

// SyncJobState is the analytics sync state machine.
type SyncJobState string

const (
	SyncJobPending           SyncJobState = "pending"
	SyncJobRunning           SyncJobState = "running"
	SyncJobDone              SyncJobState = "done"
	SyncJobRetryScheduled    SyncJobState = "retry_scheduled"
	SyncJobPermanentlyFailed SyncJobState = "permanently_failed"
	SyncJobPaused            SyncJobState = "paused"
)

// ReclaimedRunningReason is recorded on jobs whose worker lease ran out.
const ReclaimedRunningReason = "worker lease expired while running"

// Outstanding reports whether the job still occupies its (post, platform) slot.
func (s SyncJobState) Outstanding() bool {
	switch s {
	case SyncJobPending, SyncJobRunning, SyncJobRetryScheduled, SyncJobPaused:
		return true
	}
	return false
}

// SyncJob is one unit of analytics refresh for a (post, platform) pair.
type SyncJob struct {
	ID        string       `json:"id"`
	PostID    string       `json:"post_id"`
	OwnerID   string       `json:"owner_id"`
	Platform  Platform     `json:"platform"`
	State     SyncJobState `json:"state"`
	Attempt   int          `json:"attempt"`   // failed attempts in the current failure streak
	Deferrals int          `json:"deferrals"` // consecutive not_yet_available outcomes
	NextRunAt time.Time    `json:"next_run_at"`
	ExpiresAt time.Time    `json:"expires_at"`
	LastError *string      `json:"last_error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// syncTransitions lists every legal state change.
var syncTransitions = map[SyncJobState][]SyncJobState{
	SyncJobPending:        {SyncJobRunning, SyncJobDone},
	SyncJobRetryScheduled: {SyncJobRunning, SyncJobDone},
	SyncJobPaused:         {SyncJobPending, SyncJobDone},
	SyncJobRunning:        {SyncJobDone, SyncJobRetryScheduled, SyncJobPermanentlyFailed, SyncJobPaused},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to SyncJobState) bool {
	for _, s := range syncTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
