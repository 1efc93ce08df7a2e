package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"intelliconn/domain/model"
)

// CredentialRepositoryMSSQL is the SQL Server flavour of CredentialRepository,
// used when Database.Driver is mssql. Scopes are stored space separated.
type CredentialRepositoryMSSQL struct{ db *sql.DB }

func NewCredentialRepositoryMSSQL(db *sql.DB) *CredentialRepositoryMSSQL {
	return &CredentialRepositoryMSSQL{db: db}
}

// EnsureCredentialSchemaMSSQL creates dbo.oauth_credentials if it does not exist.
func EnsureCredentialSchemaMSSQL(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ddl := `IF NOT EXISTS (SELECT * FROM sys.objects WHERE object_id = OBJECT_ID(N'dbo.oauth_credentials') AND type in (N'U'))
BEGIN
    CREATE TABLE dbo.[oauth_credentials] (
        id BIGINT IDENTITY(1,1) PRIMARY KEY,
        owner_id NVARCHAR(128) NOT NULL,
        platform NVARCHAR(32) NOT NULL,
        access_token NVARCHAR(MAX) NOT NULL,
        refresh_token NVARCHAR(MAX) NOT NULL DEFAULT '',
        token_secret NVARCHAR(MAX) NOT NULL DEFAULT '',
        expires_at DATETIME2 NULL,
        scopes NVARCHAR(MAX) NOT NULL DEFAULT '',
        account_id NVARCHAR(128) NOT NULL DEFAULT '',
        token_type NVARCHAR(16) NOT NULL DEFAULT '',
        validated_at DATETIME2 NULL,
        invalid BIT NOT NULL DEFAULT 0,
        invalid_reason NVARCHAR(512) NULL,
        version BIGINT NOT NULL DEFAULT 1,
        created_at DATETIME2 NOT NULL,
        updated_at DATETIME2 NOT NULL
    );
    CREATE UNIQUE INDEX UX_oauth_credentials_owner_platform ON dbo.[oauth_credentials](owner_id, platform);
END`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create oauth_credentials (mssql): %w", err)
	}
	q := `IF COL_LENGTH('dbo.oauth_credentials', 'tier') IS NULL BEGIN ALTER TABLE dbo.[oauth_credentials] ADD tier NVARCHAR(32) NOT NULL DEFAULT '' END`
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("ensure column oauth_credentials.tier: %w", err)
	}
	return nil
}

func (r *CredentialRepositoryMSSQL) Get(ctx context.Context, ownerID string, platform model.Platform) (*model.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM dbo.[oauth_credentials] WHERE owner_id=@p1 AND platform=@p2`, ownerID, string(platform))
	c, err := scanCredentialMSSQL(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrCredentialNotFound
	}
	return c, err
}

func (r *CredentialRepositoryMSSQL) Upsert(ctx context.Context, c *model.Credential) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Invalid = false
	c.InvalidReason = nil
	q := `MERGE dbo.[oauth_credentials] AS target
USING (VALUES (@p1, @p2)) AS src(owner_id, platform)
ON target.owner_id = src.owner_id AND target.platform = src.platform
WHEN MATCHED THEN UPDATE SET
    access_token=@p3,
    refresh_token=@p4,
    token_secret=@p5,
    expires_at=@p6,
    scopes=@p7,
    account_id=@p8,
    token_type=@p9,
    tier=@p10,
    validated_at=@p11,
    invalid=0,
    invalid_reason=NULL,
    version=target.version+1,
    updated_at=@p13
WHEN NOT MATCHED THEN
    INSERT (owner_id, platform, access_token, refresh_token, token_secret, expires_at, scopes, account_id, token_type, tier, validated_at, invalid, version, created_at, updated_at)
    VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8,@p9,@p10,@p11,0,1,@p12,@p13)
OUTPUT inserted.id, inserted.version, inserted.created_at;`
	row := r.db.QueryRowContext(ctx, q,
		c.OwnerID, string(c.Platform), c.AccessToken, c.RefreshToken, c.TokenSecret,
		nullTime(c.ExpiresAt), strings.Join(c.Scopes, " "), c.AccountID, c.TokenType, c.Tier,
		nullTime(c.ValidatedAt), c.CreatedAt, c.UpdatedAt)
	return row.Scan(&c.ID, &c.Version, &c.CreatedAt)
}

func (r *CredentialRepositoryMSSQL) CompareAndSwap(ctx context.Context, c *model.Credential, expectedVersion int64) error {
	c.UpdatedAt = time.Now().UTC()
	q := `UPDATE dbo.[oauth_credentials] SET
    access_token=@p3, refresh_token=@p4, token_secret=@p5, expires_at=@p6, scopes=@p7,
    account_id=@p8, token_type=@p9, tier=@p10, validated_at=@p11, invalid=@p12, invalid_reason=@p13,
    version=version+1, updated_at=@p14
WHERE owner_id=@p1 AND platform=@p2 AND version=@p15`
	res, err := r.db.ExecContext(ctx, q,
		c.OwnerID, string(c.Platform), c.AccessToken, c.RefreshToken, c.TokenSecret,
		nullTime(c.ExpiresAt), strings.Join(c.Scopes, " "), c.AccountID, c.TokenType, c.Tier,
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

func (r *CredentialRepositoryMSSQL) ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM dbo.[oauth_credentials] WHERE owner_id=@p1 ORDER BY platform`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []model.Credential
	for rows.Next() {
		c, err := scanCredentialMSSQL(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

func scanCredentialMSSQL(row scanner) (*model.Credential, error) {
	c := &model.Credential{}
	var platform, scopes string
	var expiresAt, validatedAt sql.NullTime
	var reason sql.NullString
	if err := row.Scan(&c.ID, &c.OwnerID, &platform, &c.AccessToken, &c.RefreshToken, &c.TokenSecret,
		&expiresAt, &scopes, &c.AccountID, &c.TokenType, &c.Tier, &validatedAt,
		&c.Invalid, &reason, &c.Version, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Platform = model.Platform(platform)
	c.ExpiresAt = timePtr(expiresAt)
	c.ValidatedAt = timePtr(validatedAt)
	c.InvalidReason = stringPtr(reason)
	c.Scopes = strings.Fields(scopes)
	if c.Scopes == nil {
		c.Scopes = []string{}
	}
	return c, nil
}
