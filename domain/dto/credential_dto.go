package dto

import (
	"time"

	"intelliconn/domain/model"
)

// CredentialRequest carries tokens produced by the external OAuth connect flow.
type CredentialRequest struct {
	AccessToken  string     `json:"accessToken" binding:"required"`
	RefreshToken string     `json:"refreshToken"`
	TokenSecret  string     `json:"tokenSecret"`
	ExpiresAt    *time.Time `json:"expiresAt"`
	Scopes       []string   `json:"scopes"`
	AccountID    string     `json:"accountId"`
	TokenType    string     `json:"tokenType"`
	Tier         string     `json:"tier"`
}

// CredentialStatus is what the reconnect UI sees. Tokens are never echoed.
type CredentialStatus struct {
	Platform      model.Platform `json:"platform"`
	Connected     bool           `json:"connected"`
	Invalid       bool           `json:"invalid"`
	InvalidReason *string        `json:"invalidReason,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	Scopes        []string       `json:"scopes"`
	ValidatedAt   *time.Time     `json:"validatedAt,omitempty"`
	AccountID     string         `json:"accountId,omitempty"`
}

// NewCredentialStatus strips secrets from c.
func NewCredentialStatus(c *model.Credential) CredentialStatus {
	return CredentialStatus{
		Platform:      c.Platform,
		Connected:     !c.Invalid,
		Invalid:       c.Invalid,
		InvalidReason: c.InvalidReason,
		ExpiresAt:     c.ExpiresAt,
		Scopes:        c.Scopes,
		ValidatedAt:   c.ValidatedAt,
		AccountID:     c.AccountID,
	}
}
