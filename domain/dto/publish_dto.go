package dto

import (
	"time"

	"intelliconn/domain/model"
)

// PostSubmission is the inbound request to create (and maybe publish) a post.
type PostSubmission struct {
	Content         string     `json:"content"`
	MediaRefs       []string   `json:"mediaRefs"`
	TargetPlatforms []string   `json:"targetPlatforms" binding:"required,min=1"`
	ScheduledAt     *time.Time `json:"scheduledAt,omitempty"`
}

// PlatformOutcome is the terminal result of one platform branch.
type PlatformOutcome string

const (
	OutcomePublished      PlatformOutcome = "published"
	OutcomeFailed         PlatformOutcome = "failed"
	OutcomeNeedsReconnect PlatformOutcome = "needs_reconnect"
	// OutcomeAlreadyPublished marks a platform skipped because a publication exists.
	OutcomeAlreadyPublished PlatformOutcome = "already_published"
)

// PlatformStatus reports one platform's outcome in a PublishResult.
type PlatformStatus struct {
	Platform       model.Platform  `json:"platform"`
	Outcome        PlatformOutcome `json:"outcome"`
	PlatformPostID string          `json:"platformPostId,omitempty"`
	ErrorKind      model.ErrorKind `json:"errorKind,omitempty"`
	Error          string          `json:"error,omitempty"`
	Attempts       int             `json:"attempts"`
}

// Succeeded reports whether the platform now holds a publication.
func (s PlatformStatus) Succeeded() bool {
	return s.Outcome == OutcomePublished || s.Outcome == OutcomeAlreadyPublished
}

// PublishResult is returned for immediate posts and emitted for scheduled ones.
type PublishResult struct {
	PostID            string           `json:"postId"`
	OwnerID           string           `json:"ownerId"`
	Status            model.PostStatus `json:"status"`
	PerPlatformStatus []PlatformStatus `json:"perPlatformStatus"`
	CompletedAt       time.Time        `json:"completedAt"`
}

// PostDetail is the read model for GET /api/posts/:postId.
type PostDetail struct {
	Post         *model.Post                 `json:"post"`
	Publications []model.PlatformPublication `json:"publications"`
}
