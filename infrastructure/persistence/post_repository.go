package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"intelliconn/domain/model"

	"github.com/lib/pq"
)

const postColumns = `id, author_id, content, media_refs, target_platforms, status, scheduled_at, created_at, updated_at, deleted_at`

type PostRepository struct{ db *sql.DB }

func NewPostRepository(db *sql.DB) *PostRepository { return &PostRepository{db: db} }

func (r *PostRepository) Create(ctx context.Context, p *model.Post) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = p.CreatedAt
	_, err := r.db.ExecContext(ctx, `INSERT INTO posts (`+postColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)`,
		p.ID, p.AuthorID, p.Content, pq.Array(scopesOrEmpty(p.MediaRefs)), pq.Array(platformStrings(p.TargetPlatforms)),
		string(p.Status), nullTime(p.ScheduledAt), p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *PostRepository) Get(ctx context.Context, id string) (*model.Post, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id=$1 AND deleted_at IS NULL`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPostNotFound
	}
	return p, err
}

// TransitionStatus is a single conditional UPDATE so two publish runs can
// never both move a post into publishing.
func (r *PostRepository) TransitionStatus(ctx context.Context, id string, from []model.PostStatus, to model.PostStatus) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET status=$1, updated_at=$2 WHERE id=$3 AND deleted_at IS NULL AND status = ANY($4)`,
		string(to), time.Now().UTC(), id, pq.Array(allowed))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReleaseStalePublishing hands posts whose publish run died back to a
// publishable status. Posts that reached at least one platform become
// partially_published so a rerun only targets the missing platforms.
func (r *PostRepository) ReleaseStalePublishing(ctx context.Context, staleBefore time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET status = CASE
			WHEN EXISTS (SELECT 1 FROM platform_publications pp WHERE pp.post_id = posts.id AND pp.status = 'active')
			THEN 'partially_published' ELSE 'failed' END,
		updated_at=$1
		WHERE status='publishing' AND deleted_at IS NULL AND updated_at < $2`,
		time.Now().UTC(), staleBefore.UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostRepository) ListDueScheduled(ctx context.Context, now time.Time, limit int) ([]model.Post, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts WHERE status='scheduled' AND deleted_at IS NULL AND scheduled_at <= $1 ORDER BY scheduled_at LIMIT $2`,
		now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

func (r *PostRepository) SoftDelete(ctx context.Context, id, authorID string) error {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE posts SET deleted_at=$1, updated_at=$1 WHERE id=$2 AND author_id=$3 AND deleted_at IS NULL`, now, id, authorID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return model.ErrPostNotFound
	}
	return nil
}

func scanPost(row scanner) (*model.Post, error) {
	p := &model.Post{}
	var status string
	var media, platforms []string
	var scheduledAt, deletedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.AuthorID, &p.Content, pq.Array(&media), pq.Array(&platforms), &status,
		&scheduledAt, &p.CreatedAt, &p.UpdatedAt, &deletedAt); err != nil {
		return nil, err
	}
	p.Status = model.PostStatus(status)
	p.MediaRefs = scopesOrEmpty(media)
	p.TargetPlatforms = make([]model.Platform, len(platforms))
	for i, s := range platforms {
		p.TargetPlatforms[i] = model.Platform(s)
	}
	p.ScheduledAt = timePtr(scheduledAt)
	p.DeletedAt = timePtr(deletedAt)
	return p, nil
}

func platformStrings(ps []model.Platform) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
