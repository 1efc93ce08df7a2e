package repository

import (
	"context"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
)

// IPlatformAdapter normalizes one social network. Every error it returns is
// a *model.PlatformError.
type IPlatformAdapter interface {
	Platform() model.Platform
	Publish(ctx context.Context, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, error)
	// FetchInsights returns Available=false when the platform has no numbers yet.
	FetchInsights(ctx context.Context, cred *model.Credential, platformPostID string) (*model.InsightsResult, error)
	ValidateToken(ctx context.Context, cred *model.Credential) (*model.TokenValidation, error)
}

// ITokenRefresher performs a silent OAuth refresh. It returns
// model.ErrRefreshUnavailable when the platform or credential cannot refresh.
type ITokenRefresher interface {
	Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error)
}

// IContainerStore remembers two-phase publish container ids.
type IContainerStore interface {
	Get(ctx context.Context, key string) (id string, ok bool, err error)
	Put(ctx context.Context, key, id string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// IEventPublisher fans events out to dashboard collaborators.
type IEventPublisher interface {
	Publish(ctx context.Context, ev dto.Event) error
}

// INotifier delivers user-facing notifications.
type INotifier interface {
	Notify(ctx context.Context, ownerID, subject, body string) error
}
