// Package platform holds the HTTP plumbing and error classification shared
// by every social network client.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"intelliconn/domain/model"
	"intelliconn/infrastructure/logger"
)

// DefaultTimeout bounds each outbound call independently of any retry schedule.
const DefaultTimeout = 15 * time.Second

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClassifyFunc turns a non-2xx response into the shared taxonomy.
type ClassifyFunc func(p model.Platform, resp *Response) *model.PlatformError

// Client performs requests against one platform API.
type Client struct {
	platform   model.Platform
	baseURL    string
	httpClient Doer
	timeout    time.Duration
	classify   ClassifyFunc
}

type Option func(*Client)

// WithHTTPClient replaces the transport, mainly for tests.
func WithHTTPClient(d Doer) Option { return func(c *Client) { c.httpClient = d } }

// WithBaseURL points the client at another host, e.g. an httptest server.
func WithBaseURL(u string) Option { return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") } }

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func NewClient(p model.Platform, baseURL string, classify ClassifyFunc, opts ...Option) *Client {
	c := &Client{
		platform:   p,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		classify:   classify,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Platform() model.Platform { return c.platform }
func (c *Client) BaseURL() string          { return c.baseURL }

// Request describes one call. Exactly one of Form or JSON may be set.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Form    url.Values
	JSON    interface{}
	Headers http.Header
	// Sign, when set, is applied to the fully built request before sending.
	Sign func(req *http.Request, form url.Values) error
}

// Response is a fully read response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// URL returns the absolute URL for path with query.
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Do sends r and decodes a 2xx JSON body into out (if non-nil). Every failure
// is returned as a *model.PlatformError.
func (c *Client) Do(ctx context.Context, r Request, out interface{}) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	headers := http.Header{}
	switch {
	case r.Form != nil:
		body = strings.NewReader(r.Form.Encode())
		headers.Set("Content-Type", "application/x-www-form-urlencoded")
	case r.JSON != nil:
		raw, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, c.misconfigured("encode request: %v", err)
		}
		body = bytes.NewReader(raw)
		headers.Set("Content-Type", "application/json")
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, c.URL(r.Path, r.Query), body)
	if err != nil {
		return nil, c.misconfigured("build request: %v", err)
	}
	headers.Set("Accept", "application/json")
	for k, vs := range r.Headers {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}
	req.Header = headers
	if r.Sign != nil {
		if err := r.Sign(req, r.Form); err != nil {
			return nil, c.misconfigured("sign request: %v", err)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ClassifyTransport(c.platform, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, ClassifyTransport(c.platform, err)
	}
	res := &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: raw}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		pe := c.classify(c.platform, res)
		logger.GetLogger().
			WithField("platform", c.platform).
			WithField("status", resp.StatusCode).
			WithField("kind", pe.Kind).
			WithField("code", pe.Code).
			Warn("Platform call failed")
		logger.GetLogger().WithField("platform", c.platform).WithField("body", string(raw)).Debug("Platform error payload")
		return res, pe
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return res, &model.PlatformError{
				Kind:     model.KindUnknownPlatform,
				Platform: c.platform,
				Message:  "unexpected response shape",
				Err:      err,
			}
		}
	}
	return res, nil
}

func (c *Client) misconfigured(format string, args ...interface{}) *model.PlatformError {
	return &model.PlatformError{
		Kind:     model.KindAdapterMisconfig,
		Platform: c.platform,
		Message:  fmt.Sprintf(format, args...),
	}
}

// ClassifyTransport maps network level failures. Timeouts and connection
// errors are transient; a cancelled caller context is reported as transient
// as well so the caller's own cancellation logic decides what happens next.
func ClassifyTransport(p model.Platform, err error) *model.PlatformError {
	pe := &model.PlatformError{Kind: model.KindTransientNetwork, Platform: p, Err: err}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.Message = "request timed out"
	case errors.Is(err, context.Canceled):
		pe.Message = "request cancelled"
	default:
		pe.Message = "network error"
	}
	return pe
}
