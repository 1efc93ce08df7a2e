package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/logger"
)

// ITokenStore owns credentials. Every write goes through an optimistic
// version check so concurrent validate and refresh calls never lose data.
type ITokenStore interface {
	Get(ctx context.Context, ownerID string, platform model.Platform) (*model.Credential, error)
	Put(ctx context.Context, c *model.Credential) error
	List(ctx context.Context, ownerID string) ([]model.Credential, error)
	MarkInvalid(ctx context.Context, ownerID string, platform model.Platform, reason string) error
	Validate(ctx context.Context, c *model.Credential) (*model.TokenValidation, error)
	// EnsureFresh returns a usable credential, refreshing it silently when it
	// is expired. It fails with model.ErrRefreshUnavailable when it cannot.
	EnsureFresh(ctx context.Context, c *model.Credential) (*model.Credential, error)
	// HandleRejected reacts to a server-side token_expired: it tries one
	// silent refresh and marks the credential invalid when that is impossible.
	HandleRejected(ctx context.Context, c *model.Credential, cause error) (*model.Credential, error)
}

type tokenStore struct {
	repo       repository.ICredential
	adapters   map[model.Platform]repository.IPlatformAdapter
	refresher  repository.ITokenRefresher
	events     repository.IEventPublisher
	clock      clock.Clock
	cooldown   time.Duration
	casRetries int
}

func NewTokenStore(repo repository.ICredential, adapters map[model.Platform]repository.IPlatformAdapter,
	refresher repository.ITokenRefresher, events repository.IEventPublisher, clk clock.Clock,
	cooldown time.Duration, casRetries int) ITokenStore {
	if casRetries < 1 {
		casRetries = 1
	}
	return &tokenStore{
		repo:       repo,
		adapters:   adapters,
		refresher:  refresher,
		events:     events,
		clock:      clk,
		cooldown:   cooldown,
		casRetries: casRetries,
	}
}

func (s *tokenStore) Get(ctx context.Context, ownerID string, platform model.Platform) (*model.Credential, error) {
	return s.repo.Get(ctx, ownerID, platform)
}

func (s *tokenStore) List(ctx context.Context, ownerID string) ([]model.Credential, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *tokenStore) Put(ctx context.Context, c *model.Credential) error {
	if err := c.Check(); err != nil {
		return fmt.Errorf("%w: %v", model.ErrInvalidCredential, err)
	}
	now := s.clock.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Invalid = false
	c.InvalidReason = nil
	if err := s.repo.Upsert(ctx, c); err != nil {
		return err
	}
	logger.GetLogger().WithField("owner_id", c.OwnerID).WithField("platform", c.Platform).Info("Credential stored")
	return nil
}

// update re-reads the row and re-applies mutate until the version check
// passes. mutate returns false to leave the row as it is.
func (s *tokenStore) update(ctx context.Context, ownerID string, platform model.Platform, mutate func(cur *model.Credential) bool) (*model.Credential, error) {
	for i := 0; i < s.casRetries; i++ {
		cur, err := s.repo.Get(ctx, ownerID, platform)
		if err != nil {
			return nil, err
		}
		if !mutate(cur) {
			return cur, nil
		}
		cur.UpdatedAt = s.clock.Now()
		err = s.repo.CompareAndSwap(ctx, cur, cur.Version)
		if errors.Is(err, model.ErrVersionConflict) {
			logger.GetLogger().WithField("owner_id", ownerID).WithField("platform", platform).WithField("attempt", i+1).Debug("Credential version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return cur, nil
	}
	return nil, model.ErrVersionConflict
}

func (s *tokenStore) MarkInvalid(ctx context.Context, ownerID string, platform model.Platform, reason string) error {
	changed := false
	_, err := s.update(ctx, ownerID, platform, func(cur *model.Credential) bool {
		if cur.Invalid && cur.InvalidReason != nil && *cur.InvalidReason == reason {
			changed = false
			return false
		}
		cur.Invalid = true
		r := reason
		cur.InvalidReason = &r
		changed = true
		return true
	})
	if err != nil || !changed {
		return err
	}
	logger.GetLogger().WithField("owner_id", ownerID).WithField("platform", platform).WithField("reason", reason).Warn("Credential marked invalid")
	s.emit(ctx, dto.Event{
		Type:    dto.EventCredentialInvalid,
		OwnerID: ownerID,
		Payload: map[string]interface{}{"platform": platform, "reason": reason},
		At:      s.clock.Now(),
	})
	return nil
}

func (s *tokenStore) Validate(ctx context.Context, c *model.Credential) (*model.TokenValidation, error) {
	now := s.clock.Now()
	if c.ValidatedAt != nil && !c.Invalid && now.Sub(*c.ValidatedAt) < s.cooldown {
		return &model.TokenValidation{Valid: !c.IsExpired(now), ExpiresAt: c.ExpiresAt, Scopes: c.Scopes, Cached: true}, nil
	}
	adapter, ok := s.adapters[c.Platform]
	if !ok {
		return nil, model.NewPlatformError(c.Platform, model.KindAdapterMisconfig, "no adapter registered")
	}
	v, err := adapter.ValidateToken(ctx, c)
	if err != nil {
		return nil, err
	}

	validatedToken := c.AccessToken
	stored, err := s.update(ctx, c.OwnerID, c.Platform, func(cur *model.Credential) bool {
		// A refresh won the race; this result describes a token that is gone.
		if cur.AccessToken != validatedToken {
			return false
		}
		at := now
		cur.ValidatedAt = &at
		if len(v.Scopes) > 0 {
			cur.Scopes = v.Scopes
		}
		if v.ExpiresAt != nil {
			cur.ExpiresAt = v.ExpiresAt
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	*c = *stored
	if !v.Valid {
		if err := s.MarkInvalid(ctx, c.OwnerID, c.Platform, "token failed validation"); err != nil {
			return nil, err
		}
		c.Invalid = true
	}
	return v, nil
}

func (s *tokenStore) EnsureFresh(ctx context.Context, c *model.Credential) (*model.Credential, error) {
	if !c.IsExpired(s.clock.Now()) {
		return c, nil
	}
	return s.refresh(ctx, c)
}

func (s *tokenStore) refresh(ctx context.Context, c *model.Credential) (*model.Credential, error) {
	if s.refresher == nil || !c.CanRefresh() {
		return nil, model.ErrRefreshUnavailable
	}
	next, err := s.refresher.Refresh(ctx, c)
	if err != nil {
		return nil, err
	}
	staleToken := c.AccessToken
	stored, err := s.update(ctx, c.OwnerID, c.Platform, func(cur *model.Credential) bool {
		if cur.AccessToken != staleToken && !cur.IsExpired(s.clock.Now()) {
			return false
		}
		cur.AccessToken = next.AccessToken
		cur.RefreshToken = next.RefreshToken
		cur.ExpiresAt = next.ExpiresAt
		cur.Invalid = false
		cur.InvalidReason = nil
		return true
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *tokenStore) HandleRejected(ctx context.Context, c *model.Credential, cause error) (*model.Credential, error) {
	next, err := s.refresh(ctx, c)
	if err == nil {
		return next, nil
	}
	reason := "token rejected by platform"
	if cause != nil {
		reason = cause.Error()
	}
	if markErr := s.MarkInvalid(ctx, c.OwnerID, c.Platform, reason); markErr != nil {
		logger.GetLogger().WithField("owner_id", c.OwnerID).WithField("platform", c.Platform).WithField("error", markErr.Error()).Error("Failed to mark credential invalid")
	}
	return nil, err
}

func (s *tokenStore) emit(ctx context.Context, ev dto.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		logger.GetLogger().WithField("type", ev.Type).WithField("error", err.Error()).Warn("Failed to publish event")
	}
}
