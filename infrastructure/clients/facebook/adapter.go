package facebook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/clients/graph"
	"intelliconn/infrastructure/clients/platform"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/logger"
)

const insightMetrics = "post_impressions,post_engaged_users"

// Adapter publishes to Facebook pages through the Graph API. Tokens travel
// as the access_token parameter.
type Adapter struct {
	client *platform.Client
	clock  clock.Clock
}

func New(baseURL string, clk clock.Clock, opts ...platform.Option) *Adapter {
	return &Adapter{
		client: platform.NewClient(model.PlatformFacebook, baseURL, platform.ClassifyGraph, opts...),
		clock:  clk,
	}
}

func (a *Adapter) Platform() model.Platform { return model.PlatformFacebook }

// resolvePage returns the page id and page token to act with. A stored page
// token is used directly; a user token is exchanged via /me/accounts.
func (a *Adapter) resolvePage(ctx context.Context, cred *model.Credential) (string, string, error) {
	if cred.TokenType == model.TokenTypePage && cred.AccountID != "" {
		return cred.AccountID, cred.AccessToken, nil
	}
	var accounts accountsResponse
	_, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/me/accounts",
		Query:  url.Values{"fields": {"id,name,access_token"}, "access_token": {cred.AccessToken}},
	}, &accounts)
	if err != nil {
		return "", "", err
	}
	for _, p := range accounts.Data {
		if p.AccessToken == "" {
			continue
		}
		if cred.AccountID == "" || p.ID == cred.AccountID {
			return p.ID, p.AccessToken, nil
		}
	}
	return "", "", &model.PlatformError{
		Kind:     model.KindPermissionDenied,
		Platform: model.PlatformFacebook,
		Code:     "no_page",
		Message:  "no manageable page for this account",
	}
}

func (a *Adapter) Publish(ctx context.Context, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, error) {
	if err := platform.Precheck(model.PlatformFacebook, cred, a.clock.Now()); err != nil {
		return nil, err
	}
	pageID, token, err := a.resolvePage(ctx, cred)
	if err != nil {
		return nil, err
	}

	var id string
	switch len(content.MediaRefs) {
	case 0:
		id, err = a.postFeed(ctx, pageID, token, content.Text, nil)
	case 1:
		id, err = a.postPhoto(ctx, pageID, token, content.MediaRefs[0], content.Text, true)
	default:
		ids := make([]string, 0, len(content.MediaRefs))
		for _, ref := range content.MediaRefs {
			photoID, perr := a.postPhoto(ctx, pageID, token, ref, "", false)
			if perr != nil {
				return nil, perr
			}
			ids = append(ids, photoID)
		}
		id, err = a.postFeed(ctx, pageID, token, content.Text, ids)
	}
	if err != nil {
		return nil, err
	}
	logger.GetLogger().WithField("post_id", content.PostID).WithField("page_id", pageID).WithField("platform_post_id", id).Info("Published to facebook")
	return &model.PublishReceipt{PlatformPostID: id, PublishedAt: a.clock.Now()}, nil
}

func (a *Adapter) postFeed(ctx context.Context, pageID, token, message string, mediaIDs []string) (string, error) {
	form, err := graph.Values(model.PlatformFacebook, feedParams{Message: message, AccessToken: token})
	if err != nil {
		return "", err
	}
	for i, id := range mediaIDs {
		form.Set(fmt.Sprintf("attached_media[%d]", i), fmt.Sprintf(`{"media_fbid":%q}`, id))
	}
	var out graph.IDResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(pageID) + "/feed",
		Form:   form,
	}, &out); err != nil {
		return "", err
	}
	return requireID(out.ID)
}

func (a *Adapter) postPhoto(ctx context.Context, pageID, token, mediaURL, caption string, published bool) (string, error) {
	form, err := graph.Values(model.PlatformFacebook, photoParams{URL: mediaURL, Caption: caption, Published: published, AccessToken: token})
	if err != nil {
		return "", err
	}
	var out graph.IDResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/" + url.PathEscape(pageID) + "/photos",
		Form:   form,
	}, &out); err != nil {
		return "", err
	}
	if published && out.PostID != "" {
		return out.PostID, nil
	}
	return requireID(out.ID)
}

func requireID(id string) (string, error) {
	if id == "" {
		return "", &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: model.PlatformFacebook, Message: "response carried no id"}
	}
	return id, nil
}

// FetchInsights reads reactions and post insights. Facebook returns an empty
// insights list for very recent posts, which is reported as not yet available.
func (a *Adapter) FetchInsights(ctx context.Context, cred *model.Credential, platformPostID string) (*model.InsightsResult, error) {
	if err := platform.Precheck(model.PlatformFacebook, cred, a.clock.Now()); err != nil {
		return nil, err
	}
	_, token, err := a.resolvePage(ctx, cred)
	if err != nil {
		return nil, err
	}
	path := "/" + url.PathEscape(platformPostID)

	var insights graph.InsightsResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   path + "/insights",
		Query:  url.Values{"metric": {insightMetrics}, "access_token": {token}},
	}, &insights); err != nil {
		return nil, err
	}
	if len(insights.Data) == 0 {
		return model.NotYetAvailable(), nil
	}

	var fields postFieldsResponse
	if _, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   path,
		Query: url.Values{
			"fields":       {"likes.summary(true).limit(0),comments.summary(true).limit(0),shares"},
			"access_token": {token},
		},
	}, &fields); err != nil {
		return nil, err
	}

	m := model.Metrics{
		Impressions:  graph.Optional(insights.Metric("post_impressions")),
		EngagedUsers: graph.Optional(insights.Metric("post_engaged_users")),
	}
	if fields.Likes != nil {
		m.Likes = fields.Likes.Summary.TotalCount
	}
	if fields.Comments != nil {
		m.Comments = fields.Comments.Summary.TotalCount
	}
	if fields.Shares != nil {
		m.Shares = fields.Shares.Count
	}
	return &model.InsightsResult{Available: true, Metrics: m}, nil
}

func (a *Adapter) ValidateToken(ctx context.Context, cred *model.Credential) (*model.TokenValidation, error) {
	if err := platform.Precheck(model.PlatformFacebook, cred, a.clock.Now()); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return &model.TokenValidation{Valid: false, ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}, nil
		}
		return nil, err
	}
	var perms graph.PermissionsResponse
	_, err := a.client.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/me/permissions",
		Query:  url.Values{"access_token": {cred.AccessToken}},
	}, &perms)
	if err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return &model.TokenValidation{Valid: false, ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}, nil
		}
		return nil, err
	}
	return &model.TokenValidation{Valid: true, ExpiresAt: cred.ExpiresAt, Scopes: perms.Granted()}, nil
}
