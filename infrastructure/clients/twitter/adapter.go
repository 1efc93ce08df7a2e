package twitter

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/clients/platform"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/logger"
)

const (
	// TextLimit is the weighted tweet length.
	TextLimit = 280
	// linkWeight is what any link counts for after t.co wrapping.
	linkWeight = 23
)

// Config carries the app credentials and the API tiers allowed to write.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	WriteTiers     []string
}

type tweetRequest struct {
	Text string `json:"text"`
}

type tweetResponse struct {
	Data *struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

type publicMetrics struct {
	RetweetCount    int64  `json:"retweet_count"`
	ReplyCount      int64  `json:"reply_count"`
	LikeCount       int64  `json:"like_count"`
	QuoteCount      int64  `json:"quote_count"`
	ImpressionCount *int64 `json:"impression_count"`
}

type tweetLookupResponse struct {
	Data *struct {
		ID            string         `json:"id"`
		PublicMetrics *publicMetrics `json:"public_metrics"`
	} `json:"data"`
}

type meResponse struct {
	Data *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"data"`
}

// Adapter publishes through the X API v2. Credentials holding a token secret
// are OAuth 1.0a user tokens and get signed requests; all others are OAuth 2
// user tokens sent as bearer.
type Adapter struct {
	client *platform.Client
	clock  clock.Clock
	cfg    Config
}

func New(baseURL string, clk clock.Clock, cfg Config, opts ...platform.Option) *Adapter {
	return &Adapter{
		client: platform.NewClient(model.PlatformTwitter, baseURL, platform.ClassifyTwitter, opts...),
		clock:  clk,
		cfg:    cfg,
	}
}

func (a *Adapter) Platform() model.Platform { return model.PlatformTwitter }

// canWrite reports whether the credential's tier may publish. An unknown
// tier is let through and the API decides.
func (a *Adapter) canWrite(tier string) bool {
	if tier == "" {
		return true
	}
	for _, t := range a.cfg.WriteTiers {
		if strings.EqualFold(t, tier) {
			return true
		}
	}
	return false
}

// composeText appends media links and checks the weighted length.
func composeText(content model.PublishContent) (string, error) {
	text := content.Text
	weight := utf8.RuneCountInString(text)
	for _, ref := range content.MediaRefs {
		if text != "" {
			text += " "
			weight++
		}
		text += ref
		weight += linkWeight
	}
	if weight > TextLimit {
		return "", &model.PlatformError{
			Kind:     model.KindContentRejected,
			Platform: model.PlatformTwitter,
			Code:     "text_too_long",
			Message:  "tweet exceeds 280 characters",
		}
	}
	if strings.TrimSpace(text) == "" {
		return "", &model.PlatformError{Kind: model.KindContentRejected, Platform: model.PlatformTwitter, Code: "empty", Message: "tweet is empty"}
	}
	return text, nil
}

func (a *Adapter) authorize(r *platform.Request, cred *model.Credential) {
	if cred.TokenSecret != "" && a.cfg.ConsumerKey != "" {
		signer := &Signer{
			ConsumerKey:    a.cfg.ConsumerKey,
			ConsumerSecret: a.cfg.ConsumerSecret,
			Token:          cred.AccessToken,
			TokenSecret:    cred.TokenSecret,
			Now:            a.clock.Now,
		}
		r.Sign = signer.Sign
		return
	}
	if r.Headers == nil {
		r.Headers = http.Header{}
	}
	r.Headers.Set("Authorization", "Bearer "+cred.AccessToken)
}

func (a *Adapter) Publish(ctx context.Context, cred *model.Credential, content model.PublishContent) (*model.PublishReceipt, error) {
	if cred != nil && !a.canWrite(cred.Tier) {
		return nil, &model.PlatformError{
			Kind:     model.KindPermissionDenied,
			Platform: model.PlatformTwitter,
			Code:     "tier_no_write",
			Message:  "api tier " + cred.Tier + " has no write access",
		}
	}
	text, err := composeText(content)
	if err != nil {
		return nil, err
	}
	if err := platform.Precheck(model.PlatformTwitter, cred, a.clock.Now()); err != nil {
		return nil, err
	}

	req := platform.Request{Method: http.MethodPost, Path: "/2/tweets", JSON: tweetRequest{Text: text}}
	a.authorize(&req, cred)
	var out tweetResponse
	if _, err := a.client.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.ID == "" {
		return nil, &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: model.PlatformTwitter, Message: "tweet id missing"}
	}
	logger.GetLogger().WithField("post_id", content.PostID).WithField("platform_post_id", out.Data.ID).Info("Published to twitter")
	return &model.PublishReceipt{PlatformPostID: out.Data.ID, PublishedAt: a.clock.Now()}, nil
}

func (a *Adapter) FetchInsights(ctx context.Context, cred *model.Credential, platformPostID string) (*model.InsightsResult, error) {
	if err := platform.Precheck(model.PlatformTwitter, cred, a.clock.Now()); err != nil {
		return nil, err
	}
	req := platform.Request{
		Method: http.MethodGet,
		Path:   "/2/tweets/" + url.PathEscape(platformPostID),
		Query:  url.Values{"tweet.fields": {"public_metrics"}},
	}
	a.authorize(&req, cred)
	var out tweetLookupResponse
	if _, err := a.client.Do(ctx, req, &out); err != nil {
		return nil, err
	}
	if out.Data == nil || out.Data.PublicMetrics == nil {
		return model.NotYetAvailable(), nil
	}
	pm := out.Data.PublicMetrics
	return &model.InsightsResult{
		Available: true,
		Metrics: model.Metrics{
			Likes:       pm.LikeCount,
			Comments:    pm.ReplyCount,
			Shares:      pm.RetweetCount + pm.QuoteCount,
			Impressions: pm.ImpressionCount,
		},
	}, nil
}

func (a *Adapter) ValidateToken(ctx context.Context, cred *model.Credential) (*model.TokenValidation, error) {
	invalid := &model.TokenValidation{Valid: false, ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}
	if err := platform.Precheck(model.PlatformTwitter, cred, a.clock.Now()); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return invalid, nil
		}
		return nil, err
	}
	req := platform.Request{Method: http.MethodGet, Path: "/2/users/me"}
	a.authorize(&req, cred)
	var out meResponse
	if _, err := a.client.Do(ctx, req, &out); err != nil {
		if model.KindOf(err) == model.KindTokenExpired {
			return invalid, nil
		}
		return nil, err
	}
	return &model.TokenValidation{Valid: out.Data != nil, ExpiresAt: cred.ExpiresAt, Scopes: cred.Scopes}, nil
}
