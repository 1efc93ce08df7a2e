package platform

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"intelliconn/domain/model"
)

// graphErrorEnvelope is the error body of the Graph API family
// (Facebook, Instagram, Threads).
type graphErrorEnvelope struct {
	Error *struct {
		Message      string `json:"message"`
		Type         string `json:"type"`
		Code         int    `json:"code"`
		ErrorSubcode int    `json:"error_subcode"`
		UserTitle    string `json:"error_user_title"`
		IsTransient  bool   `json:"is_transient"`
	} `json:"error"`
}

// ClassifyGraph classifies Graph API error responses.
func ClassifyGraph(p model.Platform, resp *Response) *model.PlatformError {
	pe := &model.PlatformError{Platform: p, Kind: KindForStatus(resp.StatusCode)}
	pe.RetryAfter = retryAfter(resp.Header, time.Now())

	var env graphErrorEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil || env.Error == nil {
		pe.Message = http.StatusText(resp.StatusCode)
		return pe
	}
	e := env.Error
	pe.Code = strconv.Itoa(e.Code)
	if e.ErrorSubcode != 0 {
		pe.Code += "/" + strconv.Itoa(e.ErrorSubcode)
	}
	pe.Message = e.Message

	switch {
	case e.Code == 190 || e.Code == 102 || e.Code == 463 || e.Code == 467:
		pe.Kind = model.KindTokenExpired
	case e.Code == 10 || (e.Code >= 200 && e.Code <= 299) || e.Code == 3:
		pe.Kind = model.KindPermissionDenied
	case e.Code == 4 || e.Code == 17 || e.Code == 32 || e.Code == 613 || (e.Code >= 80001 && e.Code <= 80014):
		pe.Kind = model.KindRateLimited
		if pe.RetryAfter == 0 {
			pe.RetryAfter = usageRetryAfter(resp.Header)
		}
	case e.IsTransient || e.Code == 1 || e.Code == 2:
		pe.Kind = model.KindTransientNetwork
	case e.Code == 100 || e.Code == 368 || e.Code == 506 || e.Code == 324 || e.Code == 352 || e.Code == 9004 || e.Code == 36003:
		pe.Kind = model.KindContentRejected
	case e.Code == 24:
		// media container not ready or missing
		pe.Kind = model.KindTransientNetwork
	}
	return pe
}

// twitterErrorEnvelope covers both v1.1 and v2 error bodies.
type twitterErrorEnvelope struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// ClassifyTwitter classifies Twitter/X API error responses.
func ClassifyTwitter(p model.Platform, resp *Response) *model.PlatformError {
	pe := &model.PlatformError{Platform: p, Kind: KindForStatus(resp.StatusCode)}
	pe.RetryAfter = retryAfter(resp.Header, time.Now())
	if pe.RetryAfter == 0 && resp.StatusCode == http.StatusTooManyRequests {
		pe.RetryAfter = resetAfter(resp.Header.Get("x-rate-limit-reset"), time.Now())
	}

	var env twitterErrorEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		pe.Message = http.StatusText(resp.StatusCode)
		return pe
	}
	if len(env.Errors) > 0 {
		e := env.Errors[0]
		pe.Code = strconv.Itoa(e.Code)
		pe.Message = e.Message
		switch e.Code {
		case 89, 32, 135, 215:
			pe.Kind = model.KindTokenExpired
		case 88, 185:
			pe.Kind = model.KindRateLimited
		case 64, 261, 326, 453, 220, 87:
			pe.Kind = model.KindPermissionDenied
		case 186, 187, 170, 324, 354:
			pe.Kind = model.KindContentRejected
		case 130, 131:
			pe.Kind = model.KindTransientNetwork
		}
		return pe
	}
	pe.Message = firstNonEmpty(env.Detail, env.Title, http.StatusText(resp.StatusCode))
	pe.Code = env.Reason
	switch env.Reason {
	case "client-not-enrolled", "client-forbidden", "unsupported-authentication":
		pe.Kind = model.KindPermissionDenied
	case "usage-capped":
		pe.Kind = model.KindRateLimited
	}
	if strings.Contains(strings.ToLower(env.Detail), "duplicate content") {
		pe.Kind = model.KindContentRejected
	}
	return pe
}

// KindForStatus is the fallback when the body carries no usable code.
func KindForStatus(status int) model.ErrorKind {
	switch {
	case status == http.StatusUnauthorized:
		return model.KindTokenExpired
	case status == http.StatusForbidden:
		return model.KindPermissionDenied
	case status == http.StatusTooManyRequests:
		return model.KindRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return model.KindTransientNetwork
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return model.KindContentRejected
	}
	return model.KindUnknownPlatform
}

func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}

func resetAfter(v string, now time.Time) time.Duration {
	epoch, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	if d := time.Unix(epoch, 0).Sub(now); d > 0 {
		return d
	}
	return 0
}

// usageRetryAfter reads the Business Use Case header Graph sends with
// throttling errors.
func usageRetryAfter(h http.Header) time.Duration {
	raw := h.Get("X-Business-Use-Case-Usage")
	if raw == "" {
		return 0
	}
	var usage map[string][]struct {
		EstimatedTimeToRegainAccess int `json:"estimated_time_to_regain_access"`
	}
	if err := json.Unmarshal([]byte(raw), &usage); err != nil {
		return 0
	}
	var minutes int
	for _, entries := range usage {
		for _, e := range entries {
			if e.EstimatedTimeToRegainAccess > minutes {
				minutes = e.EstimatedTimeToRegainAccess
			}
		}
	}
	return time.Duration(minutes) * time.Minute
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// CheckLength fails with content_rejected when text exceeds max runes.
func CheckLength(p model.Platform, text string, max int) error {
	if n := utf8.RuneCountInString(text); n > max {
		return &model.PlatformError{
			Kind:     model.KindContentRejected,
			Platform: p,
			Code:     "text_too_long",
			Message:  "text has " + strconv.Itoa(n) + " characters, limit is " + strconv.Itoa(max),
		}
	}
	return nil
}

// TokenExpiredLocally is returned before any network call when the stored
// credential is already past its expiry.
func TokenExpiredLocally(p model.Platform) *model.PlatformError {
	return &model.PlatformError{Kind: model.KindTokenExpired, Platform: p, Code: "expired_locally", Message: "access token expired"}
}

// InvalidCredential reports a structurally unusable credential.
func InvalidCredential(p model.Platform, err error) *model.PlatformError {
	return &model.PlatformError{Kind: model.KindInvalidCredential, Platform: p, Message: err.Error(), Err: err}
}

// Precheck runs the checks every adapter performs before touching the
// network: structural validity and local expiry.
func Precheck(p model.Platform, cred *model.Credential, now time.Time) error {
	if err := cred.Check(); err != nil {
		return InvalidCredential(p, err)
	}
	if cred.Platform != p {
		return &model.PlatformError{Kind: model.KindAdapterMisconfig, Platform: p, Message: "credential belongs to " + string(cred.Platform)}
	}
	if cred.IsExpired(now) {
		return TokenExpiredLocally(p)
	}
	return nil
}
