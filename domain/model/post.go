package model

import "time"

// PostStatus changes only through the publish orchestrator.
type PostStatus string

const (
	PostStatusDraft              PostStatus = "draft"
	PostStatusScheduled          PostStatus = "scheduled"
	PostStatusPublishing         PostStatus = "publishing"
	PostStatusPublished          PostStatus = "published"
	PostStatusPartiallyPublished PostStatus = "partially_published"
	PostStatusFailed             PostStatus = "failed"
)

// Post is user content targeted at one or more platforms.
type Post struct {
	ID              string     `json:"id"`
	AuthorID        string     `json:"author_id"`
	Content         string     `json:"content"`
	MediaRefs       []string   `json:"media_refs"`
	TargetPlatforms []Platform `json:"target_platforms"`
	Status          PostStatus `json:"status"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// Publishable reports whether the orchestrator may start a publish run.
func (p *Post) Publishable() bool {
	switch p.Status {
	case PostStatusDraft, PostStatusScheduled, PostStatusPartiallyPublished, PostStatusFailed:
		return p.DeletedAt == nil
	}
	return false
}

// AggregateStatus folds per-platform outcomes into a post status:
// published needs at least one success and no failures, partially_published
// needs at least one of each, failed means zero successes.
func AggregateStatus(successes, failures int) PostStatus {
	switch {
	case successes > 0 && failures == 0:
		return PostStatusPublished
	case successes > 0:
		return PostStatusPartiallyPublished
	default:
		return PostStatusFailed
	}
}

// PublishContent is what an adapter receives for one publish attempt.
type PublishContent struct {
	PostID    string
	Text      string
	MediaRefs []string
}

// PublishReceipt is returned by an adapter on success.
type PublishReceipt struct {
	PlatformPostID string
	PublishedAt    time.Time
}
