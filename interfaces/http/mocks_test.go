package http

import (
	"context"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
)

type MockPublishUsecase struct{ mock.Mock }

func (m *MockPublishUsecase) Submit(ctx context.Context, ownerID string, req dto.PostSubmission) (*model.Post, *dto.PublishResult, error) {
	args := m.Called(ctx, ownerID, req)
	post, _ := args.Get(0).(*model.Post)
	res, _ := args.Get(1).(*dto.PublishResult)
	return post, res, args.Error(2)
}

func (m *MockPublishUsecase) Publish(ctx context.Context, postID, ownerID string) (*dto.PublishResult, error) {
	args := m.Called(ctx, postID, ownerID)
	res, _ := args.Get(0).(*dto.PublishResult)
	return res, args.Error(1)
}

func (m *MockPublishUsecase) Get(ctx context.Context, postID, ownerID string) (*dto.PostDetail, error) {
	args := m.Called(ctx, postID, ownerID)
	res, _ := args.Get(0).(*dto.PostDetail)
	return res, args.Error(1)
}

func (m *MockPublishUsecase) Delete(ctx context.Context, postID, ownerID string) error {
	return m.Called(ctx, postID, ownerID).Error(0)
}

func (m *MockPublishUsecase) DispatchScheduled(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockPublishUsecase) RunDispatcher(ctx context.Context, interval time.Duration) error {
	return m.Called(ctx, interval).Error(0)
}

type MockTokenStore struct{ mock.Mock }

func (m *MockTokenStore) Get(ctx context.Context, ownerID string, platform model.Platform) (*model.Credential, error) {
	args := m.Called(ctx, ownerID, platform)
	c, _ := args.Get(0).(*model.Credential)
	return c, args.Error(1)
}

func (m *MockTokenStore) Put(ctx context.Context, c *model.Credential) error {
	return m.Called(ctx, c).Error(0)
}

func (m *MockTokenStore) List(ctx context.Context, ownerID string) ([]model.Credential, error) {
	args := m.Called(ctx, ownerID)
	list, _ := args.Get(0).([]model.Credential)
	return list, args.Error(1)
}

func (m *MockTokenStore) MarkInvalid(ctx context.Context, ownerID string, platform model.Platform, reason string) error {
	return m.Called(ctx, ownerID, platform, reason).Error(0)
}

func (m *MockTokenStore) Validate(ctx context.Context, c *model.Credential) (*model.TokenValidation, error) {
	args := m.Called(ctx, c)
	v, _ := args.Get(0).(*model.TokenValidation)
	return v, args.Error(1)
}

func (m *MockTokenStore) EnsureFresh(ctx context.Context, c *model.Credential) (*model.Credential, error) {
	args := m.Called(ctx, c)
	out, _ := args.Get(0).(*model.Credential)
	return out, args.Error(1)
}

func (m *MockTokenStore) HandleRejected(ctx context.Context, c *model.Credential, cause error) (*model.Credential, error) {
	args := m.Called(ctx, c, cause)
	out, _ := args.Get(0).(*model.Credential)
	return out, args.Error(1)
}

type MockLedger struct{ mock.Mock }

func (m *MockLedger) Merge(ctx context.Context, snap model.AnalyticsSnapshot) (*model.AnalyticsSnapshot, bool, error) {
	args := m.Called(ctx, snap)
	s, _ := args.Get(0).(*model.AnalyticsSnapshot)
	return s, args.Bool(1), args.Error(2)
}

func (m *MockLedger) PostAnalytics(ctx context.Context, postID string) (*dto.PostAnalytics, error) {
	args := m.Called(ctx, postID)
	res, _ := args.Get(0).(*dto.PostAnalytics)
	return res, args.Error(1)
}

func (m *MockLedger) OwnerDaily(ctx context.Context, ownerID string, from, to time.Time) ([]model.OwnerDailyRollup, error) {
	args := m.Called(ctx, ownerID, from, to)
	list, _ := args.Get(0).([]model.OwnerDailyRollup)
	return list, args.Error(1)
}

// asUser stands in for the auth middleware.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if userID != "" {
			c.Set("user_id", userID)
		}
		c.Next()
	}
}

func newTestRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(asUser(userID))
	return r
}
