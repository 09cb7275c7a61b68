package models

import "time"

// Token is an access/refresh token pair with its expiry instant.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ValidFor reports whether the token stays valid for at least margin beyond
// the given instant.
func (t Token) ValidFor(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Add(margin).Before(t.ExpiresAt)
}

// CredentialStatus describes credential health for the status API.
type CredentialStatus struct {
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}
