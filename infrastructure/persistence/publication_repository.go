package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"intelliconn/domain/model"
)

const publicationColumns = `id, post_id, owner_id, platform, platform_post_id, published_at, last_synced_at, status, created_at, updated_at`

var qualifiedPublicationColumns = "p." + strings.ReplaceAll(publicationColumns, ", ", ", p.")

type PublicationRepository struct{ db *sql.DB }

func NewPublicationRepository(db *sql.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

// Insert never overwrites: an existing (post, platform) row wins.
func (r *PublicationRepository) Insert(ctx context.Context, p *model.PlatformPublication) (bool, error) {
	now := time.Now().UTC()
	if p.Status == "" {
		p.Status = model.PublicationStatusActive
	}
	p.CreatedAt, p.UpdatedAt = now, now
	row := r.db.QueryRowContext(ctx, `INSERT INTO platform_publications (post_id, owner_id, platform, platform_post_id, published_at, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7)
		ON CONFLICT (post_id, platform) DO NOTHING
		RETURNING id`,
		p.PostID, p.OwnerID, string(p.Platform), p.PlatformPostID, p.PublishedAt.UTC(), p.Status, now)
	if err := row.Scan(&p.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *PublicationRepository) Get(ctx context.Context, postID string, platform model.Platform) (*model.PlatformPublication, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+publicationColumns+` FROM platform_publications WHERE post_id=$1 AND platform=$2`, postID, string(platform))
	p, err := scanPublication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPublicationNotFound
	}
	return p, err
}

func (r *PublicationRepository) ListByPost(ctx context.Context, postID string) ([]model.PlatformPublication, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+publicationColumns+` FROM platform_publications WHERE post_id=$1 ORDER BY platform`, postID)
	if err != nil {
		return nil, err
	}
	return collectPublications(rows)
}

// ListSyncCandidates applies the staleness rule and the outstanding-job
// exclusion in SQL so rows that cannot be enqueued never fill the batch.
func (r *PublicationRepository) ListSyncCandidates(ctx context.Context, f model.SyncCandidateFilter) ([]model.PlatformPublication, error) {
	args := []interface{}{f.PublishedAfter.UTC(), f.FreshSince.UTC()}
	var ttl []string
	for _, p := range model.AllPlatforms {
		c, ok := f.Cutoffs[p]
		if !ok {
			continue
		}
		n := len(args)
		ttl = append(ttl, fmt.Sprintf("($%d, $%d::timestamptz, $%d::timestamptz)", n+1, n+2, n+3))
		args = append(args, string(p), c.Fresh.UTC(), c.Mature.UTC())
	}
	if len(ttl) == 0 {
		return nil, nil
	}
	args = append(args, f.Limit)
	rows, err := r.db.QueryContext(ctx, `SELECT `+qualifiedPublicationColumns+` FROM platform_publications p
		JOIN (VALUES `+strings.Join(ttl, ", ")+`) AS ttl(name, fresh_cutoff, mature_cutoff) ON ttl.name = p.platform
		WHERE p.status='active' AND p.published_at > $1
		AND (p.last_synced_at IS NULL
			OR p.last_synced_at <= CASE WHEN p.published_at > $2 THEN ttl.fresh_cutoff ELSE ttl.mature_cutoff END)
		AND NOT EXISTS (SELECT 1 FROM sync_jobs j WHERE j.post_id = p.post_id AND j.platform = p.platform
			AND j.state IN ('pending','running','retry_scheduled','paused'))
		ORDER BY p.last_synced_at NULLS FIRST, p.published_at DESC
		LIMIT $`+strconv.Itoa(len(args)), args...)
	if err != nil {
		return nil, err
	}
	return collectPublications(rows)
}

func (r *PublicationRepository) MarkSynced(ctx context.Context, postID string, platform model.Platform, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE platform_publications SET last_synced_at=$1, updated_at=$2 WHERE post_id=$3 AND platform=$4`,
		at.UTC(), time.Now().UTC(), postID, string(platform))
	return err
}

func (r *PublicationRepository) MarkDeletedByPost(ctx context.Context, postID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE platform_publications SET status='deleted', updated_at=$1 WHERE post_id=$2 AND status='active'`,
		time.Now().UTC(), postID)
	return err
}

func collectPublications(rows *sql.Rows) ([]model.PlatformPublication, error) {
	defer rows.Close()
	var list []model.PlatformPublication
	for rows.Next() {
		p, err := scanPublication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func scanPublication(row scanner) (*model.PlatformPublication, error) {
	p := &model.PlatformPublication{}
	var platform string
	var syncedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.PostID, &p.OwnerID, &platform, &p.PlatformPostID, &p.PublishedAt,
		&syncedAt, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Platform = model.Platform(platform)
	p.LastSyncedAt = timePtr(syncedAt)
	return p, nil
}
