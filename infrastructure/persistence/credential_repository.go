package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"intelliconn/domain/model"

	"github.com/lib/pq"
)

const credentialColumns = `id, owner_id, platform, access_token, refresh_token, token_secret, expires_at, scopes, account_id, token_type, tier, validated_at, invalid, invalid_reason, version, created_at, updated_at`

// CredentialRepository stores OAuth credentials in PostgreSQL. Every write
// bumps version so concurrent refresh and validation can use CompareAndSwap.
type CredentialRepository struct{ db *sql.DB }

func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

func (r *CredentialRepository) Get(ctx context.Context, ownerID string, platform model.Platform) (*model.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM oauth_credentials WHERE owner_id=$1 AND platform=$2`, ownerID, string(platform))
	c, err := scanCredential(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCredentialNotFound
	}
	return c, err
}

func (r *CredentialRepository) Upsert(ctx context.Context, c *model.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Invalid = false
	c.InvalidReason = nil
	q := `INSERT INTO oauth_credentials (owner_id, platform, access_token, refresh_token, token_secret, expires_at, scopes, account_id, token_type, tier, validated_at, invalid, invalid_reason, version, created_at, updated_at)
		  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,FALSE,NULL,1,$12,$13)
		  ON CONFLICT (owner_id, platform) DO UPDATE SET
			access_token=EXCLUDED.access_token,
			refresh_token=EXCLUDED.refresh_token,
			token_secret=EXCLUDED.token_secret,
			expires_at=EXCLUDED.expires_at,
			scopes=EXCLUDED.scopes,
			account_id=EXCLUDED.account_id,
			token_type=EXCLUDED.token_type,
			tier=EXCLUDED.tier,
			validated_at=EXCLUDED.validated_at,
			invalid=FALSE,
			invalid_reason=NULL,
			version=oauth_credentials.version+1,
			updated_at=EXCLUDED.updated_at
		  RETURNING id, version, created_at`
	row := r.db.QueryRowContext(ctx, q,
		c.OwnerID, string(c.Platform), c.AccessToken, c.RefreshToken, c.TokenSecret,
		nullTime(c.ExpiresAt), pq.Array(scopesOrEmpty(c.Scopes)), c.AccountID, c.TokenType, c.Tier,
		nullTime(c.ValidatedAt), c.CreatedAt, c.UpdatedAt)
	return row.Scan(&c.ID, &c.Version, &c.CreatedAt)
}

func (r *CredentialRepository) CompareAndSwap(ctx context.Context, c *model.Credential, expectedVersion int64) error {
	c.UpdatedAt = time.Now().UTC()
	q := `UPDATE oauth_credentials SET
			access_token=$3, refresh_token=$4, token_secret=$5, expires_at=$6, scopes=$7,
			account_id=$8, token_type=$9, tier=$10, validated_at=$11, invalid=$12, invalid_reason=$13,
			version=version+1, updated_at=$14
		  WHERE owner_id=$1 AND platform=$2 AND version=$15`
	res, err := r.db.ExecContext(ctx, q,
		c.OwnerID, string(c.Platform), c.AccessToken, c.RefreshToken, c.TokenSecret,
		nullTime(c.ExpiresAt), pq.Array(scopesOrEmpty(c.Scopes)), c.AccountID, c.TokenType, c.Tier,
		nullTime(c.ValidatedAt), c.Invalid, nullString(c.InvalidReason), c.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := r.Get(ctx, c.OwnerID, c.Platform); err != nil {
			return err
		}
		return model.ErrVersionConflict
	}
	c.Version = expectedVersion + 1
	return nil
}

func (r *CredentialRepository) ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM oauth_credentials WHERE owner_id=$1 ORDER BY platform`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func scanCredential(row scanner) (*model.Credential, error) {
	c := &model.Credential{}
	var platform string
	var expiresAt, validatedAt sql.NullTime
	var reason sql.NullString
	var scopes []string
	if err := row.Scan(&c.ID, &c.OwnerID, &platform, &c.AccessToken, &c.RefreshToken, &c.TokenSecret,
		&expiresAt, pq.Array(&scopes), &c.AccountID, &c.TokenType, &c.Tier, &validatedAt,
		&c.Invalid, &reason, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Platform = model.Platform(platform)
	c.ExpiresAt = timePtr(expiresAt)
	c.ValidatedAt = timePtr(validatedAt)
	c.InvalidReason = stringPtr(reason)
	c.Scopes = scopesOrEmpty(scopes)
	return c, nil
}

func scopesOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
