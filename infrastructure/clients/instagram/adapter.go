package instagram

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
	// CaptionLimit is the platform's caption length in characters.
	CaptionLimit = 2200
	// carouselLimit is the maximum number of children in one carousel.
	carouselLimit = 10
	containerTTL  = 24 * time.Hour
)

type containerParams struct {
	ImageURL       string `url:"image_url,omitempty"`
	VideoURL       string `url:"video_url,omitempty"`
	MediaType      string `url:"media_type,omitempty"`
	Caption        string `url:"caption,omitempty"`
	IsCarouselItem bool   `url:"is_carousel_item,omitempty"`
	Children       string `url:"children,omitempty"`
	AccessToken    string `url:"access_token"`
}

type publishParams struct {
	CreationID  string `url:"creation_id"`
	AccessToken string `url:"access_token"`
}

type containerStatus struct {
	ID         string `json:"id"`
	StatusCode string `json:"status_code"`
}

type mediaFields struct {
	ID            string `json:"id"`
	LikeCount     *int64 `json:"like_count"`
	CommentsCount *int64 `json:"comments_count"`
}

// Adapter publishes to an Instagram professional account through the Graph
// container protocol. Credential.AccountID is the Instagram user id.
type Adapter struct {
	client   *platform.Client
	clock    clock.Clock
	twoPhase graph.TwoPhase
}

func New(baseURL string, clk clock.Clock, store repository.IContainerStore, opts ...platform.Option) *Adapter {
	return &Adapter{
		client:   platform.NewClient(model.PlatformInstagram, baseURL, platform.ClassifyGraph, opts...),
		clock:    clk,
		twoPhase: graph.TwoPhase{Platform: model.PlatformInstagram, Store: store, TTL: containerTTL},
	}
}

func (a *Adapter) Platform() model.Platform { return model.PlatformInstagram }

func rejected(code, msg string) *model.PlatformError {
	return &model.PlatformError{Kind: model.KindContentRejected, Platform: model.PlatformInstagram, Code: code, Message: msg}
}

// checkContent enforces the platform rules that need no network call.
func checkContent(content model.PublishContent) error {
	if len(content.MediaRefs) == 0 {
		return rejected("media_required", "instagram does not allow text-only posts")
	}
	if len(content.MediaRefs) > carouselLimit {
		return rejected("too_many_media", "instagram carousels hold at most 10 items")
	}
	return platform.CheckLength(model.PlatformInstagram, content.Text, CaptionLimit)
}

func (a *Adapter) Publish(ctx context.Context, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, error) {
	if err := checkContent(content); err != nil {
		return nil, err
	}
	if err := platform.Precheck(model.PlatformInstagram, cred, a.clock.Now()); err != nil {
		return nil, err
	}
	if cred.AccountID == "" {
		return nil, &model.PlatformError{Kind: model.KindInvalidCredential, Platform: model.PlatformInstagram, Message: "instagram user id missing"}
	}

	key := graph.ContainerKey(model.PlatformInstagram, cred.AccountID, content.PostID)
	mediaID, err := a.twoPhase.Run(ctx, key, graph.Steps{
		Create: func(ctx context.Context) (string, error) {
			return a.createContainer(ctx, cred, content)
		},
		Status: func(ctx context.Context, id string) (string, error) {
			var st containerStatus
			_, err := a.client.Do(ctx, platform.Request{
				Method: http.MethodGet,
				Path:   "/" + url.PathEscape(id),
				Query:  url.Values{"fields": {"status_code"}, "access_token": {cred.AccessToken}},
			}, &st)
			return st.StatusCode, err
		},
		Publish: func(ctx context.Context, id string) (string, error) {
			form, err := graph.Values(model.PlatformInstagram, publishParams{CreationID: id, AccessToken: cred.AccessToken})
			if err != nil {
				return "", err
			}
			var out graph.IDResponse
			_, err = a.client.Do(ctx, platform.Request{
				Method: http.MethodPost,
				Path:   "/" + url.PathEscape(cred.AccountID) + "/media_publish",
				Form:   form,
			}, &out)
			return out.ID, err
		},
		Resolve: func(ctx context.Context, _ string) (string, error) {
			var list graph.MediaList
			if _, err := a.client.Do(ctx, platform.Request{
				Method: http.MethodGet,
				Path:   "/" + url.PathEscape(cred.AccountID) + "/media",
				Query:  url.Values{"fields": {"id"}, "limit": {"1"}, "access_token": {cred.AccessToken}},
			}, &list); err != nil {
				return "", err
			}
			return list.Latest(model.PlatformInstagram)
		},
	})
	if err != nil {
		return nil, err
	}
	logger.GetLogger().WithField("post_id", content.PostID).WithField("platform_post_id", mediaID).Info("Published to instagram")
	return &model.PublishReceipt{PlatformPostID: mediaID, PublishedAt: a.clock.Now()}, nil
}

func isVideo(ref string) bool {
	u, err := url.Parse(ref)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".mp4", ".mov":
		return true
	}
	return false
}

func mediaParams(ref string) containerParams {
	if isVideo(ref) {
		return containerParams{VideoURL: ref, MediaType: "REELS"}
	}
	return containerParams{ImageURL: ref}
}

func (a *Adapter) postContainer(ctx context.Context, cred *model.Credential, p containerParams) (string, error) {
	p.AccessToken = cred.AccessToken
	form, err := graph.Values(model.PlatformInstagram, p)
	if err != nil {
		return "", err
	}
	var out graph.IDResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(cred.AccountID) + "/media",
		Form:   form,
	}, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: model.PlatformInstagram, Message: "container id missing"}
	}
	return out.ID, nil
}

func (a *Adapter) createContainer(ctx context.Context, cred *model.Credential, content model.PublishContent) (string, error) {
	if len(content.MediaRefs) == 1 {
		p := mediaParams(content.MediaRefs[0])
		p.Caption = content.Text
		return a.postContainer(ctx, cred, p)
	}
	children := make([]string, 0, len(content.MediaRefs))
	for _, ref := range content.MediaRefs {
		p := mediaParams(ref)
		if p.MediaType == "REELS" {
			p.MediaType = "VIDEO"
		}
		p.IsCarouselItem = true
		id, err := a.postContainer(ctx, cred, p)
		if err != nil {
			return "", err
		}
		children = append(children, id)
	}
	return a.postContainer(ctx, cred, containerParams{
		MediaType: "CAROUSEL",
		Caption:   content.Text,
		Children:  strings.Join(children, ","),
	})
}

// FetchInsights reads counters and media insights. Insights come back empty
// until Instagram has processed the media.
func (a *Adapter) FetchInsights(ctx context.Context, cred *model.Credential, platformPostID string) (*model.InsightsResult, error) {
	if err := platform.Precheck(model.PlatformInstagram, cred, a.clock.Now()); err != nil {
		return nil, err
	}
	mediaPath := "/" + url.PathEscape(platformPostID)

	var insights graph.InsightsResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   mediaPath + "/insights",
		Query:  url.Values{"metric": {"impressions,reach,shares"}, "access_token": {cred.AccessToken}},
	}, &insights); err != nil {
		return nil, err
	}
	if len(insights.Data) == 0 {
		return model.NotYetAvailable(), nil
	}

	var fields mediaFields
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   mediaPath,
		Query:  url.Values{"fields": {"like_count,comments_count"}, "access_token": {cred.AccessToken}},
	}, &fields); err != nil {
		return nil, err
	}

	m := model.Metrics{
		Impressions:  graph.Optional(insights.Metric("impressions")),
		EngagedUsers: graph.Optional(insights.Metric("reach")),
	}
	if v, ok := insights.Metric("shares"); ok {
		m.Shares = v
	}
	if fields.LikeCount != nil {
		m.Likes = *fields.LikeCount
	}
	if fields.CommentsCount != nil {
		m.Comments = *fields.CommentsCount
	}
	return &model.InsightsResult{Available: true, Metrics: m}, nil
}

func (a *Adapter) ValidateToken(ctx context.Context, cred *model.Credential) (*model.TokenValidation, error) {
	invalid := &model.TokenValidation{Valid: false, ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}
	if err := platform.Precheck(model.PlatformInstagram, cred, a.clock.Now()); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return invalid, nil
		}
		return nil, err
	}
	var perms graph.PermissionsResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/me/permissions",
		Query:  url.Values{"access_token": {cred.AccessToken}},
	}, &perms); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return invalid, nil
		}
		return nil, err
	}
	return &model.TokenValidation{Valid: true, ExpiresAt: cred.ExpiresAt, Scopes: perms.Granted()}, nil
}
