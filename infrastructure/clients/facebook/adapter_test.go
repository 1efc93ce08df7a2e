package facebook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

func userCred() *model.Credential {
	return &model.Credential{OwnerID: "u1", Platform: model.PlatformFacebook, AccessToken: "user-token", TokenType: model.TokenTypeUser}
}

func newServer(t *testing.T, calls *int32, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPublishDerivesPageToken(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/accounts":
			assert.Equal(t, "user-token", r.URL.Query().Get("access_token"))
			_, _ = w.Write([]byte(`{"data":[{"id":"page-1","name":"Page","access_token":"page-token"}]}`))
		case "/page-1/feed":
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "page-token", r.PostForm.Get("access_token"))
			assert.Equal(t, "hello", r.PostForm.Get("message"))
			_, _ = w.Write([]byte(`{"id":"page-1_99"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	a := New(srv.URL, clock.NewFake(now))
	receipt, err := a.Publish(context.Background(), userCred(), model.PublishContent{PostID: "p1", Text: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "page-1_99", receipt.PlatformPostID)
	assert.Equal(t, now, receipt.PublishedAt)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestPublishWithPageTokenSkipsDerivation(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-7/photos", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "https://cdn.example.com/a.jpg", r.PostForm.Get("url"))
		assert.Equal(t, "true", r.PostForm.Get("published"))
		_, _ = w.Write([]byte(`{"id":"photo-1","post_id":"page-7_5"}`))
	})

	cred := userCred()
	cred.TokenType = model.TokenTypePage
	cred.AccountID = "page-7"
	a := New(srv.URL, clock.NewFake(now))
	receipt, err := a.Publish(context.Background(), cred, model.PublishContent{Text: "pic", MediaRefs: []string{"https://cdn.example.com/a.jpg"}})

	require.NoError(t, err)
	assert.Equal(t, "page-7_5", receipt.PlatformPostID)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestPublishMultiPhotoAttachesMedia(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.URL.Path {
		case "/page-7/photos":
			assert.Equal(t, "false", r.PostForm.Get("published"))
			_, _ = w.Write([]byte(`{"id":"ph-` + r.PostForm.Get("url")[len(r.PostForm.Get("url"))-1:] + `"}`))
		case "/page-7/feed":
			assert.Equal(t, `{"media_fbid":"ph-1"}`, r.PostForm.Get("attached_media[0]"))
			assert.Equal(t, `{"media_fbid":"ph-2"}`, r.PostForm.Get("attached_media[1]"))
			_, _ = w.Write([]byte(`{"id":"page-7_6"}`))
		}
	})
	cred := userCred()
	cred.TokenType = model.TokenTypePage
	cred.AccountID = "page-7"

	receipt, err := New(srv.URL, clock.NewFake(now)).Publish(context.Background(), cred, model.PublishContent{Text: "two", MediaRefs: []string{"m1", "m2"}})
	require.NoError(t, err)
	assert.Equal(t, "page-7_6", receipt.PlatformPostID)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPublishExpiredTokenMakesNoCall(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {})
	past := now.Add(-time.Hour)
	cred := userCred()
	cred.ExpiresAt = &past

	_, err := New(srv.URL, clock.NewFake(now)).Publish(context.Background(), cred, model.PublishContent{Text: "x"})
	assert.Equal(t, model.KindTokenExpired, model.KindOf(err))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))
}

func TestPublishNoPageIsPermissionDenied(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	_, err := New(srv.URL, clock.NewFake(now)).Publish(context.Background(), userCred(), model.PublishContent{Text: "x"})
	assert.Equal(t, model.KindPermissionDenied, model.KindOf(err))
}

func TestPublishClassifiesGraphError(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Error validating access token","type":"OAuthException","code":190}}`))
	})
	_, err := New(srv.URL, clock.NewFake(now)).Publish(context.Background(), userCred(), model.PublishContent{Text: "x"})
	assert.Equal(t, model.KindTokenExpired, model.KindOf(err))
}

func TestFetchInsightsNotYetAvailable(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/page-7_5/insights", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	cred := userCred()
	cred.TokenType = model.TokenTypePage
	cred.AccountID = "page-7"

	res, err := New(srv.URL, clock.NewFake(now)).FetchInsights(context.Background(), cred, "page-7_5")
	require.NoError(t, err)
	assert.False(t, res.Available)
}

func TestFetchInsights(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page-7_5/insights":
			_, _ = w.Write([]byte(`{"data":[{"name":"post_impressions","values":[{"value":120}]},{"name":"post_engaged_users","values":[{"value":30}]}]}`))
		case "/page-7_5":
			_, _ = w.Write([]byte(`{"id":"page-7_5","likes":{"data":[],"summary":{"total_count":11}},"comments":{"data":[],"summary":{"total_count":4}},"shares":{"count":2}}`))
		}
	})
	cred := userCred()
	cred.TokenType = model.TokenTypePage
	cred.AccountID = "page-7"

	res, err := New(srv.URL, clock.NewFake(now)).FetchInsights(context.Background(), cred, "page-7_5")
	require.NoError(t, err)
	require.True(t, res.Available)
	assert.EqualValues(t, 11, res.Metrics.Likes)
	assert.EqualValues(t, 4, res.Metrics.Comments)
	assert.EqualValues(t, 2, res.Metrics.Shares)
	require.NotNil(t, res.Metrics.Impressions)
	assert.EqualValues(t, 120, *res.Metrics.Impressions)
	require.NotNil(t, res.Metrics.EngagedUsers)
	assert.EqualValues(t, 30, *res.Metrics.EngagedUsers)
}

func TestValidateToken(t *testing.T) {
	var calls int32
	srv := newServer(t, &calls, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") == "dead" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":190,"message":"expired"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"permission":"pages_manage_posts","status":"granted"},{"permission":"read_insights","status":"declined"}]}`))
	})
	a := New(srv.URL, clock.NewFake(now))

	v, err := a.ValidateToken(context.Background(), userCred())
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, []string{"pages_manage_posts"}, v.Scopes)

	cred := userCred()
	cred.AccessToken = "dead"
	v, err = a.ValidateToken(context.Background(), cred)
	require.NoError(t, err)
	assert.False(t, v.Valid)
}
