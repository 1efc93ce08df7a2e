package instagram

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/cache"
	"intelliconn/infrastructure/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) add(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, p)
}

func (r *recorder) count(p string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.paths {
		if x == p {
			n++
		}
	}
	return n
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func cred() *model.Credential {
	return &model.Credential{OwnerID: "u1", Platform: model.PlatformInstagram, AccessToken: "ig-token", AccountID: "1784"}
}

func newAdapter(t *testing.T, rec *recorder, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.add(r.Method + " " + r.URL.Path)
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(srv.URL, clock.NewFake(now), cache.NewMemoryContainerStore())
}

func TestPublishEmptyMediaFailsFast(t *testing.T) {
	rec := &recorder{}
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {})

	_, err := a.Publish(context.Background(), cred(), model.PublishContent{PostID: "p1", Text: "text only"})

	assert.Equal(t, model.KindContentRejected, model.KindOf(err))
	assert.Equal(t, 0, rec.total())
}

func TestPublishLongCaptionFailsFast(t *testing.T) {
	rec := &recorder{}
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {})

	_, err := a.Publish(context.Background(), cred(), model.PublishContent{
		PostID:    "p1",
		Text:      strings.Repeat("a", CaptionLimit+1),
		MediaRefs: []string{"https://cdn.example.com/a.jpg"},
	})

	assert.Equal(t, model.KindContentRejected, model.KindOf(err))
	assert.Equal(t, 0, rec.total())
}

func TestPublishSingleImage(t *testing.T) {
	rec := &recorder{}
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.Method + " " + r.URL.Path {
		case "POST /1784/media":
			assert.Equal(t, "https://cdn.example.com/a.jpg", r.PostForm.Get("image_url"))
			assert.Equal(t, "caption", r.PostForm.Get("caption"))
			_, _ = w.Write([]byte(`{"id":"c-1"}`))
		case "GET /c-1":
			_, _ = w.Write([]byte(`{"id":"c-1","status_code":"FINISHED"}`))
		case "POST /1784/media_publish":
			assert.Equal(t, "c-1", r.PostForm.Get("creation_id"))
			_, _ = w.Write([]byte(`{"id":"m-1"}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})

	receipt, err := a.Publish(context.Background(), cred(), model.PublishContent{
		PostID: "p1", Text: "caption", MediaRefs: []string{"https://cdn.example.com/a.jpg"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-1", receipt.PlatformPostID)
}

func TestPublishRetryDoesNotRecreateContainer(t *testing.T) {
	rec := &recorder{}
	publishCalls := 0
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method + " " + r.URL.Path {
		case "POST /1784/media":
			_, _ = w.Write([]byte(`{"id":"c-1"}`))
		case "GET /c-1":
			_, _ = w.Write([]byte(`{"status_code":"FINISHED"}`))
		case "POST /1784/media_publish":
			publishCalls++
			if publishCalls == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":{"code":2,"message":"Service temporarily unavailable"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":"m-1"}`))
		}
	})
	content := model.PublishContent{PostID: "p1", MediaRefs: []string{"https://cdn.example.com/a.jpg"}}

	_, err := a.Publish(context.Background(), cred(), content)
	assert.Equal(t, model.KindTransientNetwork, model.KindOf(err))

	receipt, err := a.Publish(context.Background(), cred(), content)
	require.NoError(t, err)
	assert.Equal(t, "m-1", receipt.PlatformPostID)
	assert.Equal(t, 1, rec.count("POST /1784/media"))
	assert.Equal(t, 2, rec.count("POST /1784/media_publish"))
}

func TestPublishCommittedDespiteErrorResolvesMedia(t *testing.T) {
	rec := &recorder{}
	var mu sync.Mutex
	committed := false
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method + " " + r.URL.Path {
		case "POST /1784/media":
			_, _ = w.Write([]byte(`{"id":"c-1"}`))
		case "GET /c-1":
			if committed {
				_, _ = w.Write([]byte(`{"status_code":"PUBLISHED"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status_code":"FINISHED"}`))
		case "POST /1784/media_publish":
			committed = true
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":2,"message":"Service temporarily unavailable"}}`))
		case "GET /1784/media":
			assert.Equal(t, "1", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`{"data":[{"id":"m-7"}]}`))
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	})
	content := model.PublishContent{PostID: "p1", MediaRefs: []string{"https://cdn.example.com/a.jpg"}}

	_, err := a.Publish(context.Background(), cred(), content)
	assert.Equal(t, model.KindTransientNetwork, model.KindOf(err))

	receipt, err := a.Publish(context.Background(), cred(), content)
	require.NoError(t, err)
	assert.Equal(t, "m-7", receipt.PlatformPostID)
	assert.Equal(t, 1, rec.count("POST /1784/media"))
	assert.Equal(t, 1, rec.count("POST /1784/media_publish"))
	assert.Equal(t, 1, rec.count("GET /1784/media"))
}

func TestPublishCarousel(t *testing.T) {
	rec := &recorder{}
	children := 0
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		switch r.Method + " " + r.URL.Path {
		case "POST /1784/media":
			if r.PostForm.Get("media_type") == "CAROUSEL" {
				assert.Equal(t, "child-1,child-2", r.PostForm.Get("children"))
				_, _ = w.Write([]byte(`{"id":"carousel-1"}`))
				return
			}
			assert.Equal(t, "true", r.PostForm.Get("is_carousel_item"))
			children++
			if children == 2 {
				assert.Equal(t, "VIDEO", r.PostForm.Get("media_type"))
			}
			_, _ = w.Write([]byte(`{"id":"child-` + string(rune('0'+children)) + `"}`))
		case "GET /carousel-1":
			_, _ = w.Write([]byte(`{"status_code":"FINISHED"}`))
		case "POST /1784/media_publish":
			_, _ = w.Write([]byte(`{"id":"m-2"}`))
		}
	})

	receipt, err := a.Publish(context.Background(), cred(), model.PublishContent{
		PostID:    "p2",
		MediaRefs: []string{"https://cdn.example.com/a.jpg", "https://cdn.example.com/b.mp4"},
	})
	require.NoError(t, err)
	assert.Equal(t, "m-2", receipt.PlatformPostID)
	assert.Equal(t, 3, rec.count("POST /1784/media"))
}

func TestFetchInsights(t *testing.T) {
	rec := &recorder{}
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/m-1/insights":
			_, _ = w.Write([]byte(`{"data":[{"name":"impressions","values":[{"value":300}]},{"name":"reach","values":[{"value":200}]},{"name":"shares","values":[{"value":5}]}]}`))
		case "/m-1":
			_, _ = w.Write([]byte(`{"id":"m-1","like_count":40,"comments_count":3}`))
		}
	})

	res, err := a.FetchInsights(context.Background(), cred(), "m-1")
	require.NoError(t, err)
	require.True(t, res.Available)
	assert.EqualValues(t, 40, res.Metrics.Likes)
	assert.EqualValues(t, 3, res.Metrics.Comments)
	assert.EqualValues(t, 5, res.Metrics.Shares)
	assert.EqualValues(t, 300, *res.Metrics.Impressions)
}

func TestFetchInsightsNotYetAvailable(t *testing.T) {
	rec := &recorder{}
	a := newAdapter(t, rec, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	res, err := a.FetchInsights(context.Background(), cred(), "m-1")
	require.NoError(t, err)
	assert.False(t, res.Available)
	assert.Equal(t, 1, rec.total())
}
