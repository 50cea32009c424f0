// Package models defines data structures and domain types.
package models

import "time"

// TokenPair holds the OAuth credentials for a Codex account. AccessToken is
// always present; RefreshToken may be absent, in which case an expired access
// token cannot be recovered from.
type TokenPair struct {
	IDToken      string `json:"idToken,omitempty"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Account represents a Codex account with OAuth credentials and the last
// known quota state. This is the unified account type used throughout the
// application.
type Account struct {
	AddedAt    time.Time   `json:"addedAt"`
	LastUsed   time.Time   `json:"lastUsed"`
	Quota      *Quota      `json:"quota,omitempty"`
	QuotaError *QuotaError `json:"quotaError,omitempty"`
	ID         string      `json:"id"`
	Email      string      `json:"email"`
	AccountID  string      `json:"accountId,omitempty"`
	Tokens     TokenPair   `json:"tokens"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() Account {
	clone := *a
	if a.Quota != nil {
		q := a.Quota.Clone()
		clone.Quota = &q
	}
	if a.QuotaError != nil {
		qe := *a.QuotaError
		clone.QuotaError = &qe
	}
	return clone
}

// QuotaError records the last known quota problem for an account. Only one is
// retained per account; it is cleared on the next successful fetch.
type QuotaError struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}
