package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"
	"intelliconn/domain/repository"

	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

// MockAdapter is a testify mock of repository.IPlatformAdapter.
type MockAdapter struct {
	mock.Mock
	platform model.Platform
}

func newMockAdapter(p model.Platform) *MockAdapter { return &MockAdapter{platform: p} }

func (m *MockAdapter) Platform() model.Platform { return m.platform }

func (m *MockAdapter) Publish(ctx context.Context, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, error) {
	args := m.Called(ctx, cred, content)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PublishReceipt), args.Error(1)
}

func (m *MockAdapter) FetchInsights(ctx context.Context, cred *model.Credential, platformPostID string) (*model.InsightsResult, error) {
	args := m.Called(ctx, cred, platformPostID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InsightsResult), args.Error(1)
}

func (m *MockAdapter) ValidateToken(ctx context.Context, cred *model.Credential) (*model.TokenValidation, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.TokenValidation), args.Error(1)
}

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	args := m.Called(ctx, cred)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Credential), args.Error(1)
}

// memCredentials is an in-memory repository.ICredential.
type memCredentials struct {
	mu   sync.Mutex
	rows map[string]model.Credential
	// beforeCAS runs once before the next CompareAndSwap, to simulate a racing writer.
	beforeCAS func()
	casCalls  int
}

func newMemCredentials(creds ...model.Credential) *memCredentials {
	m := &memCredentials{rows: map[string]model.Credential{}}
	for _, c := range creds {
		if c.Version == 0 {
			c.Version = 1
		}
		m.rows[credKey(c.OwnerID, c.Platform)] = c
	}
	return m
}

func credKey(owner string, p model.Platform) string { return owner + "|" + string(p) }

func (m *memCredentials) Get(_ context.Context, ownerID string, p model.Platform) (*model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[credKey(ownerID, p)]
	if !ok {
		return nil, model.ErrCredentialNotFound
	}
	c.Scopes = append([]string(nil), c.Scopes...)
	return &c, nil
}

func (m *memCredentials) Upsert(_ context.Context, c *model.Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Version = m.rows[credKey(c.OwnerID, c.Platform)].Version + 1
	m.rows[credKey(c.OwnerID, c.Platform)] = *c
	return nil
}

func (m *memCredentials) CompareAndSwap(_ context.Context, c *model.Credential, expected int64) error {
	m.mu.Lock()
	hook := m.beforeCAS
	m.beforeCAS = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.casCalls++
	cur, ok := m.rows[credKey(c.OwnerID, c.Platform)]
	if !ok {
		return model.ErrCredentialNotFound
	}
	if cur.Version != expected {
		return model.ErrVersionConflict
	}
	c.Version = expected + 1
	m.rows[credKey(c.OwnerID, c.Platform)] = *c
	return nil
}

func (m *memCredentials) ListByOwner(_ context.Context, ownerID string) ([]model.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Credential
	for _, c := range m.rows {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCredentials) row(owner string, p model.Platform) model.Credential {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[credKey(owner, p)]
}

// memPosts is an in-memory repository.IPost.
type memPosts struct {
	mu    sync.Mutex
	posts map[string]model.Post
	// pubs decides where a stale publishing post is released to.
	pubs *memPublications
}

func newMemPosts() *memPosts { return &memPosts{posts: map[string]model.Post{}} }

func (m *memPosts) Create(_ context.Context, p *model.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.ID] = *p
	return nil
}

func (m *memPosts) Get(_ context.Context, id string) (*model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.DeletedAt != nil {
		return nil, model.ErrPostNotFound
	}
	return &p, nil
}

func (m *memPosts) TransitionStatus(_ context.Context, id string, from []model.PostStatus, to model.PostStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.DeletedAt != nil {
		return false, nil
	}
	for _, f := range from {
		if p.Status == f {
			p.Status = to
			p.UpdatedAt = testNow
			m.posts[id] = p
			return true, nil
		}
	}
	return false, nil
}

func (m *memPosts) ReleaseStalePublishing(_ context.Context, staleBefore time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.posts {
		if p.Status != model.PostStatusPublishing || p.DeletedAt != nil || !p.UpdatedAt.Before(staleBefore) {
			continue
		}
		p.Status = model.PostStatusFailed
		if m.pubs != nil && m.pubs.hasActive(id) {
			p.Status = model.PostStatusPartiallyPublished
		}
		p.UpdatedAt = testNow
		m.posts[id] = p
		n++
	}
	return n, nil
}

func (m *memPosts) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]model.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Post
	for _, p := range m.posts {
		if p.Status == model.PostStatusScheduled && p.DeletedAt == nil && p.ScheduledAt != nil && !p.ScheduledAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memPosts) SoftDelete(_ context.Context, id, authorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok || p.AuthorID != authorID || p.DeletedAt != nil {
		return model.ErrPostNotFound
	}
	now := testNow
	p.DeletedAt = &now
	m.posts[id] = p
	return nil
}

func (m *memPosts) status(id string) model.PostStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts[id].Status
}

// memPublications is an in-memory repository.IPublication.
type memPublications struct {
	mu   sync.Mutex
	rows map[string]model.PlatformPublication
	// jobs, when set, hides publications that already hold an outstanding job.
	jobs *memJobs
}

func newMemPublications(pubs ...model.PlatformPublication) *memPublications {
	m := &memPublications{rows: map[string]model.PlatformPublication{}}
	for _, p := range pubs {
		if p.Status == "" {
			p.Status = model.PublicationStatusActive
		}
		m.rows[credKey(p.PostID, p.Platform)] = p
	}
	return m
}

func (m *memPublications) Insert(_ context.Context, p *model.PlatformPublication) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := credKey(p.PostID, p.Platform)
	if _, ok := m.rows[k]; ok {
		return false, nil
	}
	m.rows[k] = *p
	return true, nil
}

func (m *memPublications) Get(_ context.Context, postID string, p model.Platform) (*model.PlatformPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[credKey(postID, p)]
	if !ok {
		return nil, model.ErrPublicationNotFound
	}
	return &row, nil
}

func (m *memPublications) ListByPost(_ context.Context, postID string) ([]model.PlatformPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PlatformPublication
	for _, row := range m.rows {
		if row.PostID == postID {
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *memPublications) ListSyncCandidates(ctx context.Context, f model.SyncCandidateFilter) ([]model.PlatformPublication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PlatformPublication
	for _, row := range m.rows {
		if row.Status != model.PublicationStatusActive || !row.PublishedAt.After(f.PublishedAfter) || !f.Stale(row) {
			continue
		}
		if m.jobs != nil && m.jobs.hasOutstanding(row.PostID, row.Platform) {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.LastSyncedAt == nil) != (b.LastSyncedAt == nil) {
			return a.LastSyncedAt == nil
		}
		if a.LastSyncedAt != nil && !a.LastSyncedAt.Equal(*b.LastSyncedAt) {
			return a.LastSyncedAt.Before(*b.LastSyncedAt)
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.PostID+string(a.Platform) < b.PostID+string(b.Platform)
	})
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memPublications) hasActive(postID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.PostID == postID && row.Status == model.PublicationStatusActive {
			return true
		}
	}
	return false
}

func (m *memPublications) MarkSynced(_ context.Context, postID string, p model.Platform, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := credKey(postID, p)
	row, ok := m.rows[k]
	if !ok {
		return model.ErrPublicationNotFound
	}
	row.LastSyncedAt = &at
	m.rows[k] = row
	return nil
}

func (m *memPublications) MarkDeletedByPost(_ context.Context, postID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, row := range m.rows {
		if row.PostID == postID {
			row.Status = model.PublicationStatusDeleted
			m.rows[k] = row
		}
	}
	return nil
}

func (m *memPublications) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// memJobs is an in-memory repository.ISyncJob.
type memJobs struct {
	mu   sync.Mutex
	jobs map[string]model.SyncJob
}

func newMemJobs(jobs ...model.SyncJob) *memJobs {
	m := &memJobs{jobs: map[string]model.SyncJob{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) CreateIfAbsent(_ context.Context, j *model.SyncJob) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cur := range m.jobs {
		if cur.PostID == j.PostID && cur.Platform == j.Platform && cur.State.Outstanding() {
			return false, nil
		}
	}
	m.jobs[j.ID] = *j
	return true, nil
}

func (m *memJobs) Get(_ context.Context, id string) (*model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, model.ErrJobNotFound
	}
	return &j, nil
}

func (m *memJobs) ListDue(_ context.Context, now time.Time, limit int) ([]model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncJob
	for _, j := range m.jobs {
		if (j.State == model.SyncJobPending || j.State == model.SyncJobRetryScheduled) && !j.NextRunAt.After(now) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) ListPaused(_ context.Context, limit int) ([]model.SyncJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.SyncJob
	for _, j := range m.jobs {
		if j.State == model.SyncJobPaused {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memJobs) Transition(_ context.Context, j *model.SyncJob, from model.SyncJobState) (bool, error) {
	if !model.CanTransition(from, j.State) {
		return false, model.ErrInvalidTransition
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[j.ID]
	if !ok {
		return false, model.ErrJobNotFound
	}
	if cur.State != from {
		return false, nil
	}
	m.jobs[j.ID] = *j
	return true, nil
}

func (m *memJobs) RetireByPost(_ context.Context, postID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, j := range m.jobs {
		if j.PostID == postID && j.State.Outstanding() {
			j.State = model.SyncJobDone
			r := reason
			j.LastError = &r
			m.jobs[id] = j
		}
	}
	return nil
}

func (m *memJobs) ReclaimRunning(_ context.Context, staleBefore, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, j := range m.jobs {
		if j.State != model.SyncJobRunning || !j.UpdatedAt.Before(staleBefore) {
			continue
		}
		j.State = model.SyncJobRetryScheduled
		j.Attempt++
		j.NextRunAt = now
		reason := model.ReclaimedRunningReason
		j.LastError = &reason
		j.UpdatedAt = now
		m.jobs[id] = j
		n++
	}
	return n, nil
}

func (m *memJobs) hasOutstanding(postID string, p model.Platform) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.PostID == postID && j.Platform == p && j.State.Outstanding() {
			return true
		}
	}
	return false
}

func (m *memJobs) job(id string) model.SyncJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *memJobs) all() []model.SyncJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.SyncJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out
}

// memAnalytics is an in-memory repository.IAnalytics; rollups are computed on read.
type memAnalytics struct {
	mu    sync.Mutex
	snaps map[string]model.AnalyticsSnapshot
	saves int
}

func newMemAnalytics() *memAnalytics { return &memAnalytics{snaps: map[string]model.AnalyticsSnapshot{}} }

func (m *memAnalytics) Apply(_ context.Context, postID string, p model.Platform, fn repository.MergeFunc) (*model.AnalyticsSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := credKey(postID, p)
	var existing *model.AnalyticsSnapshot
	if cur, ok := m.snaps[k]; ok {
		existing = &cur
	}
	merged, changed := fn(existing)
	if !changed {
		return existing, false, nil
	}
	m.snaps[k] = merged
	m.saves++
	return &merged, true, nil
}

func (m *memAnalytics) ListSnapshots(_ context.Context, postID string) ([]model.AnalyticsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AnalyticsSnapshot
	for _, s := range m.snaps {
		if s.PostID == postID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (m *memAnalytics) GetPostRollup(ctx context.Context, postID string) (*model.PostRollup, error) {
	snaps, _ := m.ListSnapshots(ctx, postID)
	r := &model.PostRollup{PostID: postID}
	for _, s := range snaps {
		r.OwnerID = s.OwnerID
		r.Likes += s.Likes
		r.Comments += s.Comments
		r.Shares += s.Shares
	}
	return r, nil
}

func (m *memAnalytics) ListOwnerDaily(_ context.Context, ownerID string, from, to time.Time) ([]model.OwnerDailyRollup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	days := map[time.Time]*model.OwnerDailyRollup{}
	for _, s := range m.snaps {
		if s.OwnerID != ownerID || s.PublishedDay.Before(from) || s.PublishedDay.After(to) {
			continue
		}
		d, ok := days[s.PublishedDay]
		if !ok {
			d = &model.OwnerDailyRollup{OwnerID: ownerID, Day: s.PublishedDay}
			days[s.PublishedDay] = d
		}
		d.Likes += s.Likes
	}
	var out []model.OwnerDailyRollup
	for _, d := range days {
		out = append(out, *d)
	}
	return out, nil
}

func (m *memAnalytics) snapshot(postID string, p model.Platform) (model.AnalyticsSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snaps[credKey(postID, p)]
	return s, ok
}

type memArchive struct {
	mu    sync.Mutex
	snaps []model.AnalyticsSnapshot
}

func (m *memArchive) Append(_ context.Context, s model.AnalyticsSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps = append(m.snaps, s)
	return nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []dto.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev dto.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) ofType(t string) []dto.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []dto.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, ownerID, subject, body string) error {
	return m.Called(ctx, ownerID, subject, body).Error(0)
}
