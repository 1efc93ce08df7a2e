package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"
	"intelliconn/infrastructure/retry"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// RateLimiter is the per-platform permit source shared by publish and sync.
type RateLimiter interface {
	Wait(ctx context.Context, p model.Platform) error
	Penalize(p model.Platform, d time.Duration)
}

// PostCanceller stops in-flight work that belongs to a deleted post.
type PostCanceller interface {
	CancelPost(postID string)
}

type IPublishUsecase interface {
	// Submit stores the post and publishes it now unless it is scheduled for
	// later, in which case the result is nil.
	Submit(ctx context.Context, ownerID string, req dto.PostSubmission) (*model.Post, *dto.PublishResult, error)
	Publish(ctx context.Context, postID, ownerID string) (*dto.PublishResult, error)
	Get(ctx context.Context, postID, ownerID string) (*dto.PostDetail, error)
	Delete(ctx context.Context, postID, ownerID string) error
	DispatchScheduled(ctx context.Context) (int, error)
	RunDispatcher(ctx context.Context, interval time.Duration) error
}

type publishUsecase struct {
	posts     repository.IPost
	pubs      repository.IPublication
	jobs      repository.ISyncJob
	tokens    ITokenStore
	adapters  map[model.Platform]repository.IPlatformAdapter
	limiter   RateLimiter
	retrier   *retry.Retrier
	events    repository.IEventPublisher
	canceller PostCanceller
	clock     clock.Clock
	cfg       configuration.Publish
}

func NewPublishUsecase(posts repository.IPost, pubs repository.IPublication, jobs repository.ISyncJob, tokens ITokenStore,
	adapters map[model.Platform]repository.IPlatformAdapter, limiter RateLimiter, retrier *retry.Retrier,
	events repository.IEventPublisher, canceller PostCanceller, clk clock.Clock, cfg configuration.Publish) IPublishUsecase {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 20
	}
	return &publishUsecase{
		posts:     posts,
		pubs:      pubs,
		jobs:      jobs,
		tokens:    tokens,
		adapters:  adapters,
		limiter:   limiter,
		retrier:   retrier,
		events:    events,
		canceller: canceller,
		clock:     clk,
		cfg:       cfg,
	}
}

func (u *publishUsecase) Submit(ctx context.Context, ownerID string, req dto.PostSubmission) (*model.Post, *dto.PublishResult, error) {
	platforms, err := normalizePlatforms(req.TargetPlatforms)
	if err != nil {
		return nil, nil, err
	}
	if strings.TrimSpace(req.Content) == "" && len(req.MediaRefs) == 0 {
		return nil, nil, model.ErrInvalidPost
	}

	now := u.clock.Now()
	post := &model.Post{
		ID:              uuid.NewString(),
		AuthorID:        ownerID,
		Content:         req.Content,
		MediaRefs:       req.MediaRefs,
		TargetPlatforms: platforms,
		Status:          model.PostStatusDraft,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if req.ScheduledAt != nil && req.ScheduledAt.After(now) {
		at := req.ScheduledAt.UTC()
		post.ScheduledAt = &at
		post.Status = model.PostStatusScheduled
	}
	if err := u.posts.Create(ctx, post); err != nil {
		return nil, nil, err
	}
	logger.GetLogger().WithField("post_id", post.ID).WithField("owner_id", ownerID).WithField("status", post.Status).Info("Post created")

	if post.Status == model.PostStatusScheduled {
		return post, nil, nil
	}
	result, err := u.publish(ctx, post)
	if err != nil {
		return post, nil, err
	}
	post.Status = result.Status
	return post, result, nil
}

func normalizePlatforms(in []string) ([]model.Platform, error) {
	seen := map[model.Platform]bool{}
	out := make([]model.Platform, 0, len(in))
	for _, s := range in {
		p, err := model.ParsePlatform(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrInvalidPost, err)
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, model.ErrInvalidPost
	}
	return out, nil
}

func (u *publishUsecase) owned(ctx context.Context, postID, ownerID string) (*model.Post, error) {
	post, err := u.posts.Get(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.AuthorID != ownerID {
		return nil, model.ErrPostNotFound
	}
	return post, nil
}

func (u *publishUsecase) Publish(ctx context.Context, postID, ownerID string) (*dto.PublishResult, error) {
	post, err := u.owned(ctx, postID, ownerID)
	if err != nil {
		return nil, err
	}
	return u.publish(ctx, post)
}

func (u *publishUsecase) Get(ctx context.Context, postID, ownerID string) (*dto.PostDetail, error) {
	post, err := u.owned(ctx, postID, ownerID)
	if err != nil {
		return nil, err
	}
	pubs, err := u.pubs.ListByPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if pubs == nil {
		pubs = []model.PlatformPublication{}
	}
	return &dto.PostDetail{Post: post, Publications: pubs}, nil
}

// Delete soft-deletes the post, its publications and its sync jobs, then
// cancels any sync run still in flight for it.
func (u *publishUsecase) Delete(ctx context.Context, postID, ownerID string) error {
	if err := u.posts.SoftDelete(ctx, postID, ownerID); err != nil {
		return err
	}
	if err := u.pubs.MarkDeletedByPost(ctx, postID); err != nil {
		return err
	}
	if u.jobs != nil {
		if err := u.jobs.RetireByPost(ctx, postID, "post deleted"); err != nil {
			return err
		}
	}
	if u.canceller != nil {
		u.canceller.CancelPost(postID)
	}
	logger.GetLogger().WithField("post_id", postID).WithField("owner_id", ownerID).Info("Post deleted")
	return nil
}

// publish runs one branch per target platform and folds the outcomes into
// the post status. Branches never fail the group; each reports its own result.
func (u *publishUsecase) publish(ctx context.Context, post *model.Post) (*dto.PublishResult, error) {
	switch {
	case post.Status == model.PostStatusPublishing:
		return nil, model.ErrPublishInProgress
	case !post.Publishable():
		return nil, model.ErrInvalidTransition
	}
	ok, err := u.posts.TransitionStatus(ctx, post.ID, []model.PostStatus{post.Status}, model.PostStatusPublishing)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrPublishInProgress
	}

	existing := map[model.Platform]model.PlatformPublication{}
	pubs, err := u.pubs.ListByPost(ctx, post.ID)
	if err != nil {
		u.restoreStatus(ctx, post)
		return nil, err
	}
	for _, p := range pubs {
		if p.Status == model.PublicationStatusActive {
			existing[p.Platform] = p
		}
	}

	statuses := make([]dto.PlatformStatus, len(post.TargetPlatforms))
	var g errgroup.Group
	for i, p := range post.TargetPlatforms {
		i, p := i, p
		g.Go(func() error {
			if pub, ok := existing[p]; ok {
				statuses[i] = dto.PlatformStatus{Platform: p, Outcome: dto.OutcomeAlreadyPublished, PlatformPostID: pub.PlatformPostID}
				return nil
			}
			statuses[i] = u.publishTo(ctx, post, p)
			return nil
		})
	}
	_ = g.Wait()

	successes, failures := 0, 0
	for _, st := range statuses {
		if st.Succeeded() {
			successes++
		} else {
			failures++
		}
	}
	final := model.AggregateStatus(successes, failures)
	if _, err := u.posts.TransitionStatus(context.WithoutCancel(ctx), post.ID, []model.PostStatus{model.PostStatusPublishing}, final); err != nil {
		logger.GetLogger().WithField("post_id", post.ID).WithField("error", err.Error()).Error("Failed to store post status")
		return nil, err
	}

	result := &dto.PublishResult{
		PostID:            post.ID,
		OwnerID:           post.AuthorID,
		Status:            final,
		PerPlatformStatus: statuses,
		CompletedAt:       u.clock.Now(),
	}
	logger.GetLogger().WithField("post_id", post.ID).WithField("status", final).WithField("successes", successes).WithField("failures", failures).Info("Publish finished")
	if u.events != nil {
		ev := dto.Event{Type: dto.EventPublishResult, OwnerID: post.AuthorID, Payload: result, At: result.CompletedAt}
		if err := u.events.Publish(context.WithoutCancel(ctx), ev); err != nil {
			logger.GetLogger().WithField("post_id", post.ID).WithField("error", err.Error()).Warn("Failed to publish result event")
		}
	}
	return result, nil
}

func (u *publishUsecase) restoreStatus(ctx context.Context, post *model.Post) {
	if _, err := u.posts.TransitionStatus(context.WithoutCancel(ctx), post.ID, []model.PostStatus{model.PostStatusPublishing}, post.Status); err != nil {
		logger.GetLogger().WithField("post_id", post.ID).WithField("error", err.Error()).Error("Failed to restore post status")
	}
}

func (u *publishUsecase) publishTo(ctx context.Context, post *model.Post, p model.Platform) dto.PlatformStatus {
	st := dto.PlatformStatus{Platform: p}
	log := logger.GetLogger().WithField("post_id", post.ID).WithField("platform", p)
	fail := func(outcome dto.PlatformOutcome, err error) dto.PlatformStatus {
		st.Outcome = outcome
		st.ErrorKind = model.KindOf(err)
		st.Error = err.Error()
		log.WithField("outcome", outcome).WithField("kind", st.ErrorKind).WithField("error", st.Error).Warn("Platform publish did not succeed")
		return st
	}

	adapter, ok := u.adapters[p]
	if !ok {
		return fail(dto.OutcomeFailed, model.NewPlatformError(p, model.KindAdapterMisconfig, "no adapter registered"))
	}
	cred, err := u.tokens.Get(ctx, post.AuthorID, p)
	if errors.Is(err, model.ErrCredentialNotFound) {
		return fail(dto.OutcomeNeedsReconnect, model.NewPlatformError(p, model.KindInvalidCredential, "no credential connected"))
	}
	if err != nil {
		return fail(dto.OutcomeFailed, err)
	}
	if cred.Invalid {
		reason := "credential invalid"
		if cred.InvalidReason != nil {
			reason = *cred.InvalidReason
		}
		return fail(dto.OutcomeNeedsReconnect, model.NewPlatformError(p, model.KindTokenExpired, reason))
	}
	fresh, err := u.tokens.EnsureFresh(ctx, cred)
	if err != nil {
		return fail(dto.OutcomeNeedsReconnect, &model.PlatformError{Kind: model.KindTokenExpired, Platform: p, Message: "token expired and could not be refreshed", Err: err})
	}
	cred = fresh

	content := model.PublishContent{PostID: post.ID, Text: post.Content, MediaRefs: post.MediaRefs}
	receipt, attempts, err := u.attempt(ctx, adapter, cred, content)
	if model.KindOf(err) == model.KindTokenExpired && !cred.IsExpired(u.clock.Now()) {
		// The platform rejected a token we believed valid; one refresh, one more run.
		if next, rerr := u.tokens.HandleRejected(ctx, cred, err); rerr == nil {
			var more int
			receipt, more, err = u.attempt(ctx, adapter, next, content)
			attempts += more
		}
	}
	st.Attempts = attempts
	if err != nil {
		switch model.KindOf(err) {
		case model.KindTokenExpired, model.KindInvalidCredential:
			return fail(dto.OutcomeNeedsReconnect, err)
		}
		return fail(dto.OutcomeFailed, err)
	}

	pub := &model.PlatformPublication{
		PostID:         post.ID,
		OwnerID:        post.AuthorID,
		Platform:       p,
		PlatformPostID: receipt.PlatformPostID,
		PublishedAt:    receipt.PublishedAt,
		Status:         model.PublicationStatusActive,
		CreatedAt:      u.clock.Now(),
		UpdatedAt:      u.clock.Now(),
	}
	if pub.PublishedAt.IsZero() {
		pub.PublishedAt = u.clock.Now()
	}
	if _, err := u.pubs.Insert(context.WithoutCancel(ctx), pub); err != nil {
		log.WithField("platform_post_id", receipt.PlatformPostID).WithField("error", err.Error()).Error("Published but failed to record publication")
		return fail(dto.OutcomeFailed, fmt.Errorf("record publication: %w", err))
	}
	st.Outcome = dto.OutcomePublished
	st.PlatformPostID = receipt.PlatformPostID
	log.WithField("platform_post_id", receipt.PlatformPostID).WithField("attempts", attempts).Info("Platform publish succeeded")
	return st
}

func (u *publishUsecase) attempt(ctx context.Context, adapter repository.IPlatformAdapter, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, int, error) {
	p := adapter.Platform()
	var receipt *model.PublishReceipt
	attempts, err := u.retrier.Do(ctx, func(ctx context.Context, attempt int) error {
		if err := u.limiter.Wait(ctx, p); err != nil {
			return &model.PlatformError{Kind: model.KindTransientNetwork, Platform: p, Message: "rate limiter wait aborted", Err: err}
		}
		r, err := adapter.Publish(ctx, cred, content)
		if err != nil {
			if model.KindOf(err) == model.KindRateLimited {
				u.limiter.Penalize(p, model.RetryAfterOf(err))
			}
			return err
		}
		receipt = r
		return nil
	})
	return receipt, attempts, err
}

func (u *publishUsecase) DispatchScheduled(ctx context.Context) (int, error) {
	due, err := u.posts.ListDueScheduled(ctx, u.clock.Now(), u.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	dispatched := make([]bool, len(due))
	for i := range due {
		i := i
		post := due[i]
		g.Go(func() error {
			_, err := u.publish(gctx, &post)
			switch {
			case errors.Is(err, model.ErrPublishInProgress), errors.Is(err, model.ErrInvalidTransition):
				return nil
			case err != nil:
				logger.GetLogger().WithField("post_id", post.ID).WithField("error", err.Error()).Error("Scheduled publish failed")
				return nil
			}
			dispatched[i] = true
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range dispatched {
		if ok {
			n++
		}
	}
	return n, nil
}

// RunDispatcher publishes due scheduled posts until ctx is done.
// releaseStale frees posts left in publishing by a process that died mid-run
// so they can be published again.
func (u *publishUsecase) releaseStale(ctx context.Context) int {
	if u.cfg.PublishingLease <= 0 {
		return 0
	}
	n, err := u.posts.ReleaseStalePublishing(ctx, u.clock.Now().Add(-u.cfg.PublishingLease))
	if err != nil {
		logger.GetLogger().WithField("error", err.Error()).Error("Failed to release stale publishing posts")
		return 0
	}
	if n > 0 {
		logger.GetLogger().WithField("count", n).Warn("Released posts stuck in publishing")
	}
	return n
}

func (u *publishUsecase) RunDispatcher(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			u.releaseStale(ctx)
			n, err := u.DispatchScheduled(ctx)
			if err != nil {
				logger.GetLogger().WithField("error", err.Error()).Error("Scheduled post scan failed")
				continue
			}
			if n > 0 {
				logger.GetLogger().WithField("count", n).Info("Dispatched scheduled posts")
			}
		}
	}
}
