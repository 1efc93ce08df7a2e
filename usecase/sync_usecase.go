package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"
	"intelliconn/infrastructure/retry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ISyncUsecase drives the analytics sync job state machine.
type ISyncUsecase interface {
	PostCanceller
	// Scan enqueues a job for every publication whose analytics are stale.
	Scan(ctx context.Context) (int, error)
	// RunDue claims due jobs and runs them on the per-platform pools.
	RunDue(ctx context.Context) (int, error)
	// ResumePaused moves paused jobs back to pending once their credential
	// validates again.
	ResumePaused(ctx context.Context) (int, error)
	Run(ctx context.Context) error
	// Wait blocks until every dispatched job has settled.
	Wait()
}

type SyncDeps struct {
	Publications repository.IPublication
	Jobs         repository.ISyncJob
	Tokens       ITokenStore
	Adapters     map[model.Platform]repository.IPlatformAdapter
	Ledger       IAnalyticsLedger
	Limiter      RateLimiter
	Notifier     repository.INotifier
	Events       repository.IEventPublisher
	Clock        clock.Clock
}

type syncUsecase struct {
	SyncDeps
	cfg       configuration.Sync
	platforms configuration.Platforms
	policy    retry.Policy
	rand      func() float64

	pools map[model.Platform]chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]map[string]context.CancelFunc
}

func NewSyncUsecase(deps SyncDeps, cfg configuration.Sync, platforms configuration.Platforms, policy retry.Policy) ISyncUsecase {
	s := &syncUsecase{
		SyncDeps:  deps,
		cfg:       cfg,
		platforms: platforms,
		policy:    policy,
		pools:     map[model.Platform]chan struct{}{},
		inflight:  map[string]map[string]context.CancelFunc{},
	}
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	var randMu sync.Mutex
	s.rand = func() float64 {
		randMu.Lock()
		defer randMu.Unlock()
		return src.Float64()
	}
	for _, p := range model.AllPlatforms {
		size := platforms.Platform(string(p)).Concurrency
		if size < 1 {
			size = 1
		}
		s.pools[p] = make(chan struct{}, size)
	}
	return s
}

func (s *syncUsecase) Scan(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	cands, err := s.Publications.ListSyncCandidates(ctx, s.candidateFilter(now))
	if err != nil {
		return 0, err
	}
	created := 0
	for _, pub := range cands {
		job := &model.SyncJob{
			ID:        uuid.NewString(),
			PostID:    pub.PostID,
			OwnerID:   pub.OwnerID,
			Platform:  pub.Platform,
			State:     model.SyncJobPending,
			NextRunAt: now,
			ExpiresAt: pub.PublishedAt.Add(s.cfg.MonitoringWindow),
			CreatedAt: now,
			UpdatedAt: now,
		}
		ok, err := s.Jobs.CreateIfAbsent(ctx, job)
		if err != nil {
			logger.GetLogger().WithField("post_id", pub.PostID).WithField("platform", pub.Platform).WithField("error", err.Error()).Error("Failed to enqueue sync job")
			continue
		}
		if ok {
			created++
		}
	}
	if created > 0 {
		logger.GetLogger().WithField("count", created).Info("Sync jobs enqueued")
	}
	return created, nil
}

// candidateFilter carries the per-platform TTLs: shorter while a post is
// fresh, longer once it matures.
func (s *syncUsecase) candidateFilter(now time.Time) model.SyncCandidateFilter {
	f := model.SyncCandidateFilter{
		PublishedAfter: now.Add(-s.cfg.MonitoringWindow),
		FreshSince:     now.Add(-s.cfg.FreshWindow),
		Cutoffs:        map[model.Platform]model.SyncCutoffs{},
		Limit:          s.cfg.BatchSize,
	}
	for _, p := range model.AllPlatforms {
		c := s.platforms.Platform(string(p))
		f.Cutoffs[p] = model.SyncCutoffs{Fresh: now.Add(-c.FreshTTL), Mature: now.Add(-c.MatureTTL)}
	}
	return f
}

func (s *syncUsecase) RunDue(ctx context.Context) (int, error) {
	now := s.Clock.Now()
	if s.cfg.RunningLease > 0 {
		if n, err := s.Jobs.ReclaimRunning(ctx, now.Add(-s.cfg.RunningLease), now); err != nil {
			logger.GetLogger().WithField("error", err.Error()).Error("Failed to reclaim stale running jobs")
		} else if n > 0 {
			logger.GetLogger().WithField("count", n).Warn("Reclaimed sync jobs from a lost worker")
		}
	}
	due, err := s.Jobs.ListDue(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for i := range due {
		job := due[i]
		slots, ok := s.pools[job.Platform]
		if !ok {
			s.settleUnclaimed(ctx, job, fmt.Sprintf("no worker pool for platform %q", job.Platform))
			continue
		}
		select {
		case slots <- struct{}{}:
		default:
			logger.GetLogger().WithField("platform", job.Platform).Debug("Sync pool full, job waits for next tick")
			continue
		}

		from := job.State
		job.State = model.SyncJobRunning
		job.UpdatedAt = now
		claimed, err := s.Jobs.Transition(ctx, &job, from)
		if err != nil || !claimed {
			<-slots
			if err != nil {
				logger.GetLogger().WithField("job_id", job.ID).WithField("error", err.Error()).Error("Failed to claim sync job")
			}
			continue
		}
		dispatched++
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-slots }()
			s.execute(ctx, job)
		}()
	}
	return dispatched, nil
}

// settleUnclaimed fails a job that can never run without putting it through running.
func (s *syncUsecase) settleUnclaimed(ctx context.Context, job model.SyncJob, reason string) {
	from := job.State
	job.State = model.SyncJobRunning
	if ok, _ := s.Jobs.Transition(ctx, &job, from); !ok {
		return
	}
	job.State = model.SyncJobPermanentlyFailed
	job.LastError = &reason
	job.UpdatedAt = s.Clock.Now()
	_, _ = s.Jobs.Transition(ctx, &job, model.SyncJobRunning)
	logger.GetLogger().WithField("job_id", job.ID).WithField("reason", reason).Error("Sync job failed permanently")
}

func (s *syncUsecase) execute(ctx context.Context, job model.SyncJob) {
	jctx, cancel := context.WithCancel(ctx)
	s.track(job, cancel)
	defer s.untrack(job)
	defer cancel()

	log := logger.GetLogger().WithField("job_id", job.ID).WithField("post_id", job.PostID).WithField("platform", job.Platform)
	// the scheduler outlives any single job
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Sync job panicked")
			s.fail(&job, fmt.Sprintf("panic: %v", r))
			s.commit(context.WithoutCancel(ctx), job, log)
		}
	}()

	discard := s.run(jctx, &job, log)
	switch {
	case ctx.Err() != nil:
		// shutting down: hand the job back so the next process picks it up
		job.State = model.SyncJobRetryScheduled
		job.NextRunAt = s.Clock.Now()
		s.commit(context.WithoutCancel(ctx), job, log)
	case discard:
		log.Info("Sync job cancelled, result discarded")
	default:
		s.commit(ctx, job, log)
	}
}

// run performs one sync attempt and leaves the outcome on job. It returns
// true when the job was cancelled and nothing may be stored.
func (s *syncUsecase) run(ctx context.Context, job *model.SyncJob, log *logrus.Entry) bool {
	now := s.Clock.Now()
	if !job.ExpiresAt.IsZero() && !now.Before(job.ExpiresAt) {
		s.done(job, "monitoring window elapsed")
		return false
	}

	pub, err := s.Publications.Get(ctx, job.PostID, job.Platform)
	switch {
	case errors.Is(err, model.ErrPublicationNotFound):
		s.done(job, "publication removed")
		return false
	case err != nil:
		s.backoff(ctx, job, err)
		return ctx.Err() != nil
	case pub.Status != model.PublicationStatusActive:
		s.done(job, "publication removed")
		return false
	}

	adapter, ok := s.Adapters[job.Platform]
	if !ok {
		s.fail(job, "no adapter registered")
		return false
	}
	cred, err := s.Tokens.Get(ctx, job.OwnerID, job.Platform)
	switch {
	case errors.Is(err, model.ErrCredentialNotFound):
		s.pause(job, "no credential connected")
		return false
	case err != nil:
		s.backoff(ctx, job, err)
		return ctx.Err() != nil
	case cred.Invalid:
		s.pause(job, "credential invalid")
		return false
	}
	if err := cred.Check(); err != nil {
		s.fail(job, "malformed credential: "+err.Error())
		return false
	}
	if cred, err = s.Tokens.EnsureFresh(ctx, cred); err != nil {
		s.pause(job, "token expired: "+err.Error())
		return ctx.Err() != nil
	}

	if err := s.Limiter.Wait(ctx, job.Platform); err != nil {
		return true
	}
	res, err := adapter.FetchInsights(ctx, cred, pub.PlatformPostID)
	if ctx.Err() != nil {
		return true
	}
	if err != nil {
		s.classify(ctx, job, cred, err, log)
		return ctx.Err() != nil
	}
	if !res.Available {
		s.deferRun(job)
		log.WithField("deferrals", job.Deferrals).WithField("next_run_at", job.NextRunAt).Info("Insights not yet available")
		return false
	}

	snap := model.AnalyticsSnapshot{
		PostID:         job.PostID,
		Platform:       job.Platform,
		OwnerID:        job.OwnerID,
		PlatformPostID: pub.PlatformPostID,
		PublishedDay:   model.DayOf(pub.PublishedAt),
		Metrics:        res.Metrics,
		CapturedAt:     s.Clock.Now(),
	}
	if _, _, err := s.Ledger.Merge(ctx, snap); err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.backoff(ctx, job, err)
		return false
	}
	if err := s.Publications.MarkSynced(ctx, job.PostID, job.Platform, snap.CapturedAt); err != nil {
		log.WithField("error", err.Error()).Warn("Failed to stamp publication sync time")
	}
	job.Attempt = 0
	job.Deferrals = 0
	s.done(job, "")
	return false
}

func (s *syncUsecase) classify(ctx context.Context, job *model.SyncJob, cred *model.Credential, err error, log *logrus.Entry) {
	kind := model.KindOf(err)
	log = log.WithField("kind", kind).WithField("error", err.Error())
	switch kind {
	case model.KindTokenExpired:
		if _, rerr := s.Tokens.HandleRejected(ctx, cred, err); rerr == nil {
			job.State = model.SyncJobRetryScheduled
			job.NextRunAt = s.Clock.Now()
			log.Info("Token refreshed, sync rescheduled")
			return
		}
		s.pause(job, err.Error())
		log.Warn("Sync paused until credential is valid")
	case model.KindPermissionDenied:
		s.fail(job, err.Error())
		s.notifyPermission(ctx, job, err)
	case model.KindRateLimited:
		s.Limiter.Penalize(job.Platform, model.RetryAfterOf(err))
		s.backoff(ctx, job, err)
	case model.KindTransientNetwork, model.KindUnknownPlatform:
		s.backoff(ctx, job, err)
	default:
		s.fail(job, err.Error())
		s.emitFailure(ctx, job, kind, err.Error())
	}
}

// backoff schedules a retry with the shared policy or gives up once the
// attempt budget for the failure kind is spent.
func (s *syncUsecase) backoff(ctx context.Context, job *model.SyncJob, err error) {
	kind := model.KindOf(err)
	job.Attempt++
	msg := err.Error()
	job.LastError = &msg
	if job.Attempt >= s.policy.AttemptsFor(kind) {
		job.State = model.SyncJobPermanentlyFailed
		s.emitFailure(ctx, job, kind, msg)
		return
	}
	delay := s.policy.Backoff(job.Attempt, s.rand())
	if hint := model.RetryAfterOf(err); hint > delay {
		delay = hint
	}
	if delay > s.policy.MaxDelay {
		delay = s.policy.MaxDelay
	}
	job.State = model.SyncJobRetryScheduled
	job.NextRunAt = s.Clock.Now().Add(delay)
}

func (s *syncUsecase) deferRun(job *model.SyncJob) {
	schedule := s.cfg.NotReadySchedule
	job.Deferrals++
	job.Attempt = 0
	job.LastError = nil
	job.State = model.SyncJobRetryScheduled
	if len(schedule) == 0 {
		job.NextRunAt = s.Clock.Now().Add(24 * time.Hour)
		return
	}
	idx := job.Deferrals - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	job.NextRunAt = s.Clock.Now().Add(schedule[idx])
}

func (s *syncUsecase) done(job *model.SyncJob, note string) {
	job.State = model.SyncJobDone
	if note != "" {
		job.LastError = &note
	}
}

func (s *syncUsecase) pause(job *model.SyncJob, reason string) {
	job.State = model.SyncJobPaused
	job.LastError = &reason
}

func (s *syncUsecase) fail(job *model.SyncJob, reason string) {
	job.State = model.SyncJobPermanentlyFailed
	job.LastError = &reason
}

func (s *syncUsecase) commit(ctx context.Context, job model.SyncJob, log *logrus.Entry) {
	job.UpdatedAt = s.Clock.Now()
	ok, err := s.Jobs.Transition(ctx, &job, model.SyncJobRunning)
	if err != nil {
		log.WithField("error", err.Error()).Error("Failed to store sync job outcome")
		return
	}
	if !ok {
		log.Info("Sync job was retired while running")
		return
	}
	log.WithField("state", job.State).WithField("attempt", job.Attempt).Debug("Sync job settled")
}

func (s *syncUsecase) notifyPermission(ctx context.Context, job *model.SyncJob, err error) {
	s.emitFailure(ctx, job, model.KindPermissionDenied, err.Error())
	if s.Notifier == nil {
		return
	}
	subject := fmt.Sprintf("Analytics sync stopped for %s", job.Platform)
	body := fmt.Sprintf("We could not read analytics for post %s on %s because the connected account lacks permission. Reconnect the account to resume.", job.PostID, job.Platform)
	if nerr := s.Notifier.Notify(ctx, job.OwnerID, subject, body); nerr != nil {
		logger.GetLogger().WithField("job_id", job.ID).WithField("error", nerr.Error()).Warn("Failed to notify owner")
	}
}

func (s *syncUsecase) emitFailure(ctx context.Context, job *model.SyncJob, kind model.ErrorKind, msg string) {
	if s.Events == nil {
		return
	}
	ev := dto.Event{
		Type:    dto.EventSyncFailed,
		OwnerID: job.OwnerID,
		Payload: map[string]interface{}{"postId": job.PostID, "platform": job.Platform, "kind": kind, "error": msg},
		At:      s.Clock.Now(),
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		logger.GetLogger().WithField("job_id", job.ID).WithField("error", err.Error()).Warn("Failed to publish sync failure")
	}
}

func (s *syncUsecase) ResumePaused(ctx context.Context) (int, error) {
	paused, err := s.Jobs.ListPaused(ctx, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	now := s.Clock.Now()
	ready := map[string]bool{}
	resumed := 0
	for i := range paused {
		job := paused[i]
		if !job.ExpiresAt.IsZero() && !now.Before(job.ExpiresAt) {
			job.State = model.SyncJobDone
			job.UpdatedAt = now
			_, _ = s.Jobs.Transition(ctx, &job, model.SyncJobPaused)
			continue
		}
		key := credKeyOf(job.OwnerID, job.Platform)
		ok, seen := ready[key]
		if !seen {
			ok = s.credentialReady(ctx, job.OwnerID, job.Platform)
			ready[key] = ok
		}
		if !ok {
			continue
		}
		job.State = model.SyncJobPending
		job.NextRunAt = now
		job.Attempt = 0
		job.LastError = nil
		job.UpdatedAt = now
		if moved, err := s.Jobs.Transition(ctx, &job, model.SyncJobPaused); err == nil && moved {
			resumed++
		}
	}
	if resumed > 0 {
		logger.GetLogger().WithField("count", resumed).Info("Paused sync jobs resumed")
	}
	return resumed, nil
}

func credKeyOf(owner string, p model.Platform) string { return owner + "|" + string(p) }

func (s *syncUsecase) credentialReady(ctx context.Context, ownerID string, p model.Platform) bool {
	cred, err := s.Tokens.Get(ctx, ownerID, p)
	if err != nil || cred.Invalid {
		return false
	}
	if cred, err = s.Tokens.EnsureFresh(ctx, cred); err != nil {
		return false
	}
	v, err := s.Tokens.Validate(ctx, cred)
	return err == nil && v.Valid
}

func (s *syncUsecase) CancelPost(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cancel := range s.inflight[postID] {
		cancel()
	}
}

func (s *syncUsecase) track(job model.SyncJob, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[job.PostID] == nil {
		s.inflight[job.PostID] = map[string]context.CancelFunc{}
	}
	s.inflight[job.PostID][job.ID] = cancel
}

func (s *syncUsecase) untrack(job model.SyncJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight[job.PostID], job.ID)
	if len(s.inflight[job.PostID]) == 0 {
		delete(s.inflight, job.PostID)
	}
}

func (s *syncUsecase) Wait() { s.wg.Wait() }

// Run ticks the scan, run and paused-recheck loops until ctx is done, then
// waits for in-flight jobs.
func (s *syncUsecase) Run(ctx context.Context) error {
	scan := time.NewTicker(s.cfg.ScanInterval)
	run := time.NewTicker(s.cfg.RunInterval)
	paused := time.NewTicker(s.cfg.PausedRecheck)
	defer scan.Stop()
	defer run.Stop()
	defer paused.Stop()

	log := logger.GetLogger()
	if _, err := s.Scan(ctx); err != nil {
		log.WithField("error", err.Error()).Error("Initial sync scan failed")
	}
	for {
		select {
		case <-ctx.Done():
			s.Wait()
			return nil
		case <-scan.C:
			if _, err := s.Scan(ctx); err != nil {
				log.WithField("error", err.Error()).Error("Sync scan failed")
			}
		case <-run.C:
			if _, err := s.RunDue(ctx); err != nil {
				log.WithField("error", err.Error()).Error("Sync run failed")
			}
		case <-paused.C:
			if _, err := s.ResumePaused(ctx); err != nil {
				log.WithField("error", err.Error()).Error("Paused sync recheck failed")
			}
		}
	}
}
