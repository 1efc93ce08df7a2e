package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Platform identifies a third-party social network.
type Platform string

const (
	PlatformFacebook  Platform = "facebook"
	PlatformInstagram Platform = "instagram"
	PlatformTwitter   Platform = "twitter"
	PlatformThreads   Platform = "threads"
)

// AllPlatforms lists every platform with an adapter.
var AllPlatforms = []Platform{PlatformFacebook, PlatformInstagram, PlatformTwitter, PlatformThreads}

// ParsePlatform normalizes user input ("X" is accepted as an alias of twitter).
func ParsePlatform(s string) (Platform, error) {
	p := strings.ToLower(strings.TrimSpace(s))
	if p == "x" {
		p = string(PlatformTwitter)
	}
	for _, known := range AllPlatforms {
		if string(known) == p {
			return known, nil
		}
	}
	return "", fmt.Errorf("unsupported platform: %s", s)
}

// ErrorKind is the shared failure taxonomy every adapter classifies into.
type ErrorKind string

const (
	KindTokenExpired      ErrorKind = "token_expired"
	KindPermissionDenied  ErrorKind = "permission_denied"
	KindRateLimited       ErrorKind = "rate_limited"
	KindContentRejected   ErrorKind = "content_rejected"
	KindTransientNetwork  ErrorKind = "transient_network"
	KindUnknownPlatform   ErrorKind = "unknown_platform_error"
	KindInvalidCredential ErrorKind = "invalid_credential"
	KindAdapterMisconfig  ErrorKind = "adapter_misconfigured"
	KindNone              ErrorKind = ""
)

// Retryable reports whether a failure of this kind may succeed when retried.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimited, KindTransientNetwork, KindUnknownPlatform:
		return true
	}
	return false
}

// PlatformError is the only error shape that leaves an adapter.
type PlatformError struct {
	Kind       ErrorKind
	Platform   Platform
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *PlatformError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (%s): %s", e.Platform, e.Kind, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, msg)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// NewPlatformError builds a classified failure.
func NewPlatformError(p Platform, kind ErrorKind, msg string) *PlatformError {
	return &PlatformError{Kind: kind, Platform: p, Message: msg}
}

// KindOf extracts the taxonomy kind from err. Errors that were never
// classified are reported as unknown_platform_error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknownPlatform
}

// RetryAfterOf returns the platform-provided retry hint, if any.
func RetryAfterOf(err error) time.Duration {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

var (
	ErrCredentialNotFound  = errors.New("credential not found")
	ErrVersionConflict     = errors.New("credential version conflict")
	ErrPostNotFound        = errors.New("post not found")
	ErrPublicationNotFound = errors.New("publication not found")
	ErrPublishInProgress   = errors.New("post is already being published")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrRefreshUnavailable  = errors.New("silent refresh unavailable")
	ErrJobNotFound         = errors.New("sync job not found")
	ErrInvalidCredential   = errors.New("invalid credential")
	ErrInvalidPost         = errors.New("post needs content or media and at least one platform")
)
