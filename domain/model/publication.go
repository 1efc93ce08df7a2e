package model

import "time"

const (
	PublicationStatusActive  = "active"
	PublicationStatusDeleted = "deleted"
)

// PlatformPublication links a post to its external identifier. At most one
// row exists per (post, platform) and it is only written on publish success.
type PlatformPublication struct {
	ID             int64      `json:"id"`
	PostID         string     `json:"post_id"`
	OwnerID        string     `json:"owner_id"`
	Platform       Platform   `json:"platform"`
	PlatformPostID string     `json:"platform_post_id"`
	PublishedAt    time.Time  `json:"published_at"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Age is the time elapsed since publication.
func (p *PlatformPublication) Age(now time.Time) time.Duration {
	return now.Sub(p.PublishedAt)
}

// SyncCutoffs are one platform's staleness thresholds: a publication last
// synced before the cutoff needs a new sync.
type SyncCutoffs struct {
	Fresh  time.Time
	Mature time.Time
}

// SyncCandidateFilter selects active publications inside the monitoring
// window whose analytics are stale and which hold no outstanding sync job.
type SyncCandidateFilter struct {
	PublishedAfter time.Time
	// FreshSince splits fresh publications (published after it) from mature ones.
	FreshSince time.Time
	Cutoffs    map[Platform]SyncCutoffs
	Limit      int
}

// Stale applies the TTL rule to p. Platforms without cutoffs are never stale.
func (f SyncCandidateFilter) Stale(p PlatformPublication) bool {
	c, ok := f.Cutoffs[p.Platform]
	if !ok {
		return false
	}
	if p.LastSyncedAt == nil {
		return true
	}
	cutoff := c.Mature
	if p.PublishedAt.After(f.FreshSince) {
		cutoff = c.Fresh
	}
	return !p.LastSyncedAt.After(cutoff)
}
