package models

import "time"

// MFADevice is an enrolled TOTP second factor for a login user
type MFADevice struct {
	Username        string
	SecretEncrypted []byte // AES-256-GCM encrypted TOTP secret
	Nonce           []byte // GCM nonce (12 bytes)
	CreatedAt       time.Time
	LastUsedAt      *time.Time // For replay prevention
}

// MFAEnrollment is returned once, at enrolment time.
type MFAEnrollment struct {
	Username string `json:"username"`
	Secret   string `json:"secret"`
	URL      string `json:"otpauth_url"`
	QRCode   []byte `json:"-"`
}
