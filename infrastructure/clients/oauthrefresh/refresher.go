// Package oauthrefresh performs silent access-token refreshes.
package oauthrefresh

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/clients/platform"
	"intelliconn/infrastructure/clock"
	"intelliconn/infrastructure/configuration"
	"intelliconn/infrastructure/logger"

	"golang.org/x/oauth2"
)

// Refresher refreshes credentials. Twitter uses the standard OAuth 2
// refresh_token grant; Threads exchanges a still valid long-lived token
// for a new one. Facebook and Instagram page tokens do not refresh.
type Refresher struct {
	oauth      map[model.Platform]*oauth2.Config
	threads    *platform.Client
	httpClient *http.Client
	clock      clock.Clock
}

type Option func(*Refresher)

// WithHTTPClient is used for every token call.
func WithHTTPClient(c *http.Client) Option { return func(r *Refresher) { r.httpClient = c } }

func New(c configuration.Platforms, clk clock.Clock, timeout time.Duration, opts ...Option) *Refresher {
	r := &Refresher{
		oauth:      map[model.Platform]*oauth2.Config{},
		httpClient: &http.Client{Timeout: timeout},
		clock:      clk,
	}
	for _, o := range opts {
		o(r)
	}
	if c.Twitter.ClientID != "" && c.Twitter.TokenURL != "" {
		r.oauth[model.PlatformTwitter] = &oauth2.Config{
			ClientID:     c.Twitter.ClientID,
			ClientSecret: c.Twitter.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: c.Twitter.TokenURL, AuthStyle: oauth2.AuthStyleInHeader},
		}
	}
	if c.Threads.BaseURL != "" {
		r.threads = platform.NewClient(model.PlatformThreads, threadsRoot(c.Threads), platform.ClassifyGraph,
			platform.WithHTTPClient(r.httpClient), platform.WithTimeout(timeout))
	}
	return r
}

// threadsRoot strips the version segment, refresh lives at the host root.
func threadsRoot(c configuration.PlatformConfig) string {
	if c.TokenURL != "" {
		if u, err := url.Parse(c.TokenURL); err == nil {
			return u.Scheme + "://" + u.Host
		}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return c.BaseURL
	}
	return u.Scheme + "://" + u.Host
}

// Refresh returns a copy of cred with new tokens, or model.ErrRefreshUnavailable.
func (r *Refresher) Refresh(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	switch cred.Platform {
	case model.PlatformTwitter:
		return r.refreshOAuth2(ctx, cred)
	case model.PlatformThreads:
		return r.refreshThreads(ctx, cred)
	}
	return nil, model.ErrRefreshUnavailable
}

func (r *Refresher) refreshOAuth2(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	cfg, ok := r.oauth[cred.Platform]
	if !ok || !cred.CanRefresh() || cred.TokenSecret != "" {
		return nil, model.ErrRefreshUnavailable
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, r.httpClient)
	src := cfg.TokenSource(ctx, &oauth2.Token{
		RefreshToken: cred.RefreshToken,
		Expiry:       r.clock.Now().Add(-time.Minute),
	})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyOAuth2(cred.Platform, err)
	}

	out := *cred
	out.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	out.ExpiresAt = nil
	if !tok.Expiry.IsZero() {
		exp := tok.Expiry.UTC()
		out.ExpiresAt = &exp
	}
	logger.GetLogger().WithField("owner_id", cred.OwnerID).WithField("platform", cred.Platform).Info("Access token refreshed")
	return &out, nil
}

type threadsRefreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (r *Refresher) refreshThreads(ctx context.Context, cred *model.Credential) (*model.Credential, error) {
	if r.threads == nil {
		return nil, model.ErrRefreshUnavailable
	}
	// A long-lived token can only be exchanged while it is still valid.
	if cred.IsExpired(r.clock.Now()) {
		return nil, model.ErrRefreshUnavailable
	}
	var out threadsRefreshResponse
	if _, err := r.threads.Do(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/refresh_access_token",
		Query:  url.Values{"grant_type": {"th_refresh_token"}, "access_token": {cred.AccessToken}},
	}, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, &model.PlatformError{Kind: model.KindUnknownPlatform, Platform: model.PlatformThreads, Message: "refresh returned no token"}
	}
	next := *cred
	next.AccessToken = out.AccessToken
	next.ExpiresAt = nil
	if out.ExpiresIn > 0 {
		exp := r.clock.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
		next.ExpiresAt = &exp
	}
	return &next, nil
}

func classifyOAuth2(p model.Platform, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		pe := &model.PlatformError{Platform: p, Code: re.ErrorCode, Message: re.ErrorDescription, Err: err}
		switch {
		case re.ErrorCode == "invalid_grant" || re.ErrorCode == "invalid_client" || re.ErrorCode == "unauthorized_client":
			pe.Kind = model.KindTokenExpired
		case re.Response != nil:
			pe.Kind = platform.KindForStatus(re.Response.StatusCode)
			// a 400 from the token endpoint is a dead grant, not rejected content
			if pe.Kind == model.KindContentRejected {
				pe.Kind = model.KindTokenExpired
			}
		default:
			pe.Kind = model.KindUnknownPlatform
		}
		if pe.Message == "" {
			pe.Message = "token refresh failed"
		}
		return pe
	}
	return platform.ClassifyTransport(p, err)
}
