package repository

import (
	"context"

	"intelliconn/domain/model"
)

// ICredential persists credentials keyed by (owner, platform).
type ICredential interface {
	// Get returns model.ErrCredentialNotFound when no row exists.
	Get(ctx context.Context, ownerID string, platform model.Platform) (*model.Credential, error)
	// Upsert inserts or replaces the credential, clears the invalid flag and
	// bumps the version. c.Version is updated in place.
	Upsert(ctx context.Context, c *model.Credential) error
	// CompareAndSwap writes c only if the stored version still equals
	// expectedVersion, otherwise model.ErrVersionConflict.
	CompareAndSwap(ctx context.Context, c *model.Credential, expectedVersion int64) error
	ListByOwner(ctx context.Context, ownerID string) ([]model.Credential, error)
}
