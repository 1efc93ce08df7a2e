package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"intelliconn/domain/dto"
	"intelliconn/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func postRouter(uc *MockPublishUsecase, userID string) http.Handler {
	r := newTestRouter(userID)
	h := NewPostHandler(uc)
	r.POST("/api/posts", h.Submit)
	r.GET("/api/posts/:postId", h.Get)
	r.POST("/api/posts/:postId/publish", h.Publish)
	r.DELETE("/api/posts/:postId", h.Delete)
	return r
}

func TestPostHandler_SubmitImmediate(t *testing.T) {
	uc := new(MockPublishUsecase)
	result := &dto.PublishResult{
		PostID: "p1", OwnerID: "u1", Status: model.PostStatusPartiallyPublished,
		PerPlatformStatus: []dto.PlatformStatus{
			{Platform: model.PlatformFacebook, Outcome: dto.OutcomePublished, PlatformPostID: "1_2", Attempts: 1},
			{Platform: model.PlatformInstagram, Outcome: dto.OutcomeFailed, ErrorKind: model.KindPermissionDenied, Attempts: 1},
		},
	}
	uc.On("Submit", mock.Anything, "u1", mock.MatchedBy(func(req dto.PostSubmission) bool {
		return req.Content == "hello" && len(req.TargetPlatforms) == 2
	})).Return(&model.Post{ID: "p1"}, result, nil)

	body := `{"content":"hello","targetPlatforms":["facebook","instagram"]}`
	w := httptest.NewRecorder()
	postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusOK, w.Code)
	var got dto.PublishResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, model.PostStatusPartiallyPublished, got.Status)
	require.Len(t, got.PerPlatformStatus, 2)
	assert.Equal(t, model.KindPermissionDenied, got.PerPlatformStatus[1].ErrorKind)
	uc.AssertExpectations(t)
}

func TestPostHandler_SubmitScheduled(t *testing.T) {
	uc := new(MockPublishUsecase)
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	uc.On("Submit", mock.Anything, "u1", mock.Anything).
		Return(&model.Post{ID: "p1", Status: model.PostStatusScheduled, ScheduledAt: &at}, nil, nil)

	body := `{"content":"later","targetPlatforms":["threads"],"scheduledAt":"2026-05-01T09:00:00Z"}`
	w := httptest.NewRecorder()
	postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewBufferString(body)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"scheduled"`)
}

func TestPostHandler_SubmitValidation(t *testing.T) {
	uc := new(MockPublishUsecase)
	w := httptest.NewRecorder()
	postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewBufferString(`{"content":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	uc.On("Submit", mock.Anything, "u1", mock.Anything).Return(nil, nil, model.ErrInvalidPost)
	w = httptest.NewRecorder()
	postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts", bytes.NewBufferString(`{"targetPlatforms":["facebook"]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPostHandler_Unauthorized(t *testing.T) {
	uc := new(MockPublishUsecase)
	w := httptest.NewRecorder()
	postRouter(uc, "").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/posts/p1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	uc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)
}

func TestPostHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", model.ErrPostNotFound, http.StatusNotFound},
		{"in progress", model.ErrPublishInProgress, http.StatusConflict},
		{"already published", model.ErrInvalidTransition, http.StatusConflict},
		{"store down", assert.AnError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			uc := new(MockPublishUsecase)
			uc.On("Publish", mock.Anything, "p1", "u1").Return(nil, tc.err)
			w := httptest.NewRecorder()
			postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/posts/p1/publish", nil))
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestPostHandler_GetAndDelete(t *testing.T) {
	uc := new(MockPublishUsecase)
	uc.On("Get", mock.Anything, "p1", "u1").Return(&dto.PostDetail{
		Post:         &model.Post{ID: "p1", Status: model.PostStatusPublished},
		Publications: []model.PlatformPublication{{PostID: "p1", Platform: model.PlatformTwitter, PlatformPostID: "177"}},
	}, nil)
	uc.On("Delete", mock.Anything, "p1", "u1").Return(nil)

	w := httptest.NewRecorder()
	postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/posts/p1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"platform_post_id":"177"`)

	w = httptest.NewRecorder()
	postRouter(uc, "u1").ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/posts/p1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	uc.AssertExpectations(t)
}
