package model

import (
	"errors"
	"time"
)

// Credential stores platform OAuth credentials per owner.
type Credential struct {
	ID            int64      `json:"id"`
	OwnerID       string     `json:"owner_id"`
	Platform      Platform   `json:"platform"`
	AccessToken   string     `json:"access_token"`
	RefreshToken  string     `json:"refresh_token,omitempty"`
	TokenSecret   string     `json:"token_secret,omitempty"` // OAuth 1.0a only
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`   // nil means non-expiring
	Scopes        []string   `json:"scopes"`
	AccountID     string     `json:"account_id,omitempty"` // page id, ig user id, threads user id
	TokenType     string     `json:"token_type,omitempty"` // user | page
	Tier          string     `json:"tier,omitempty"`       // twitter API access tier
	ValidatedAt   *time.Time `json:"validated_at,omitempty"`
	Invalid       bool       `json:"invalid"`
	InvalidReason *string    `json:"invalid_reason,omitempty"`
	Version       int64      `json:"version"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

const (
	TokenTypeUser = "user"
	TokenTypePage = "page"
)

// IsExpired reports whether the access token is past its expiry at now.
func (c *Credential) IsExpired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// CanRefresh reports whether a silent refresh may be attempted.
func (c *Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// HasScope reports whether scope was granted.
func (c *Credential) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Check rejects structurally invalid credentials.
func (c *Credential) Check() error {
	switch {
	case c == nil:
		return errors.New("credential is nil")
	case c.OwnerID == "":
		return errors.New("credential owner is empty")
	case c.AccessToken == "":
		return errors.New("credential access token is empty")
	}
	if _, err := ParsePlatform(string(c.Platform)); err != nil {
		return err
	}
	return nil
}

// TokenValidation is the result of a lightweight platform token check.
type TokenValidation struct {
	Valid     bool       `json:"valid"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scopes    []string   `json:"scopes"`
	Cached    bool       `json:"cached"`
}
