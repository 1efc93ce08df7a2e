package threads

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"intelliconn/domain/model"
	"intelliconn/domain/repository"
	"intelliconn/infrastructure/clients/graph"
	"intelliconn/infrastructure/clients/platform"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/logger"
)

const (
	TextLimit    = 500
	containerTTL = 24 * time.Hour
)

type containerParams struct {
	MediaType      string `url:"media_type"`
	Text           string `url:"text,omitempty"`
	ImageURL       string `url:"image_url,omitempty"`
	VideoURL       string `url:"video_url,omitempty"`
	IsCarouselItem bool   `url:"is_carousel_item,omitempty"`
	Children       string `url:"children,omitempty"`
	AccessToken    string `url:"access_token"`
}

type publishParams struct {
	CreationID  string `url:"creation_id"`
	AccessToken string `url:"access_token"`
}

type statusResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message"`
}

type meResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Adapter publishes to Threads. Publishing is two calls, container create
// then container publish; the container id is persisted in between.
type Adapter struct {
	client   *platform.Client
	clock    clock.Clock
	twoPhase graph.TwoPhase
}

func New(baseURL string, clk clock.Clock, store repository.IContainerStore, opts ...platform.Option) *Adapter {
	return &Adapter{
		client:   platform.NewClient(model.PlatformThreads, baseURL, platform.ClassifyGraph, opts...),
		clock:    clk,
		twoPhase: graph.TwoPhase{Platform: model.PlatformThreads, Store: store, TTL: containerTTL},
	}
}

func (a *Adapter) Platform() model.Platform { return model.PlatformThreads }

func (a *Adapter) userID(cred *model.Credential) string {
	if cred.AccountID != "" {
		return cred.AccountID
	}
	return "me"
}

func (a *Adapter) Publish(ctx context.Context, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, error) {
	if err := platform.CheckLength(model.PlatformThreads, content.Text, TextLimit); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content.Text) == "" && len(content.MediaRefs) == 0 {
		return nil, &model.PlatformError{Kind: model.KindContentRejected, Platform: model.PlatformThreads, Code: "empty", Message: "post is empty"}
	}
	if err := platform.Precheck(model.PlatformThreads, cred, a.clock.Now()); err != nil {
		return nil, err
	}

	user := a.userID(cred)
	steps := graph.Steps{
		Create: func(ctx context.Context) (string, error) {
			return a.createContainer(ctx, cred, user, content)
		},
		Publish: func(ctx context.Context, id string) (string, error) {
			form, err := graph.Values(model.PlatformThreads, publishParams{CreationID: id, AccessToken: cred.AccessToken})
			if err != nil {
				return "", err
			}
			var out graph.IDResponse
			_, err = a.client.Do(ctx, platform.Request{
				Method: http.MethodPost,
				Path:   "/" + url.PathEscape(user) + "/threads_publish",
				Form:   form,
			}, &out)
			return out.ID, err
		},
		Status: func(ctx context.Context, id string) (string, error) {
			var st statusResponse
			_, err := a.client.Do(ctx, platform.Request{
				Method: http.MethodGet,
				Path:   "/" + url.PathEscape(id),
				Query:  url.Values{"fields": {"status,error_message"}, "access_token": {cred.AccessToken}},
			}, &st)
			return st.Status, err
		},
		// Text containers are publishable at once; only a carried-over one needs a look.
		StatusOnReuseOnly: len(content.MediaRefs) == 0,
		Resolve: func(ctx context.Context, _ string) (string, error) {
			var list graph.MediaList
			if _, err := a.client.Do(ctx, platform.Request{
				Method: http.MethodGet,
				Path:   "/" + url.PathEscape(user) + "/threads",
				Query:  url.Values{"fields": {"id"}, "limit": {"1"}, "access_token": {cred.AccessToken}},
			}, &list); err != nil {
				return "", err
			}
			return list.Latest(model.PlatformThreads)
		},
	}

	key := graph.ContainerKey(model.PlatformThreads, user, content.PostID)
	mediaID, err := a.twoPhase.Run(ctx, key, steps)
	if err != nil {
		return nil, err
	}
	logger.GetLogger().WithField("post_id", content.PostID).WithField("platform_post_id", mediaID).Info("Published to threads")
	return &model.PublishReceipt{PlatformPostID: mediaID, PublishedAt: a.clock.Now()}, nil
}

func mediaParams(ref string) containerParams {
	u, err := url.Parse(ref)
	if err == nil {
		switch strings.ToLower(path.Ext(u.Path)) {
		case ".mp4", ".mov":
			return containerParams{MediaType: "VIDEO", VideoURL: ref}
		}
	}
	return containerParams{MediaType: "IMAGE", ImageURL: ref}
}

func (a *Adapter) postContainer(ctx context.Context, cred *model.Credential, user string, p containerParams) (string, error) {
	p.AccessToken = cred.AccessToken
	form, err := graph.Values(model.PlatformThreads, p)
	if err != nil {
		return "", err
	}
	var out graph.IDResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(user) + "/threads",
		Form:   form,
	}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: model.PlatformThreads, Message: "container id missing"}
	}
	return out.ID, nil
}

func (a *Adapter) createContainer(ctx context.Context, cred *model.Credential, user string, content model.PublishContent) (string, error) {
	switch len(content.MediaRefs) {
	case 0:
		return a.postContainer(ctx, cred, user, containerParams{MediaType: "TEXT", Text: content.Text})
	case 1:
		p := mediaParams(content.MediaRefs[0])
		p.Text = content.Text
		return a.postContainer(ctx, cred, user, p)
	}
	children := make([]string, 0, len(content.MediaRefs))
	for _, ref := range content.MediaRefs {
		p := mediaParams(ref)
		p.IsCarouselItem = true
		id, err := a.postContainer(ctx, cred, user, p)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}
	return a.postContainer(ctx, cred, user, containerParams{
		MediaType: "CAROUSEL",
		Text:      content.Text,
		Children:  strings.Join(children, ","),
	})
}

// FetchInsights reads the media insights. Threads answers with an empty data
// list while a fresh post has no numbers yet.
func (a *Adapter) FetchInsights(ctx context.Context, cred *model.Credential, platformPostID string) (*model.InsightsResult, error) {
	if err := platform.Precheck(model.PlatformThreads, cred, a.clock.Now()); err != nil {
		return nil, err
	}
	var insights graph.InsightsResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/" + url.PathEscape(platformPostID) + "/insights",
		Query:  url.Values{"metric": {"views,likes,replies,reposts,quotes"}, "access_token": {cred.AccessToken}},
	}, &insights); err != nil {
		return nil, err
	}
	if len(insights.Data) == 0 {
		return model.NotYetAvailable(), nil
	}
	likes, _ := insights.Metric("likes")
	replies, _ := insights.Metric("replies")
	reposts, _ := insights.Metric("reposts")
	quotes, _ := insights.Metric("quotes")
	return &model.InsightsResult{
		Available: true,
		Metrics: model.Metrics{
			Likes:       likes,
			Comments:    replies,
			Shares:      reposts + quotes,
			Impressions: graph.Optional(insights.Metric("views")),
		},
	}, nil
}

func (a *Adapter) ValidateToken(ctx context.Context, cred *model.Credential) (*model.TokenValidation, error) {
	invalid := &model.TokenValidation{Valid: false, ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}
	if err := platform.Precheck(model.PlatformThreads, cred, a.clock.Now()); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return invalid, nil
		}
		return nil, err
	}
	var me meResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/me",
		Query:  url.Values{"fields": {"id,username"}, "access_token": {cred.AccessToken}},
	}, &me); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return invalid, nil
		}
		return nil, err
	}
	return &model.TokenValidation{Valid: me.ID != "", ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}, nil
}
