package models

import "time"

// SessionToken bridges two authentication stages. It is valid for exactly
// one successful validation before ExpiresAt.
type SessionToken struct {
	Token     string
	Username  string
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
}

// Expired reports whether the token is past its expiry at now.
func (t *SessionToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Usable reports whether the token can still be consumed at now.
func (t *SessionToken) Usable(now time.Time) bool {
	return !t.Used && !t.Expired(now)
}
