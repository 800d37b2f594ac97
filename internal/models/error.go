package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound         = errors.New("record not found")
	ErrConflict         = errors.New("record already exists")
	ErrTokenInvalid     = errors.New("session token invalid")
	ErrStoreUnavailable = errors.New("security store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrNotEnrolled      = errors.New("second factor not enrolled")
	ErrCodeReplay       = errors.New("second factor code replay detected")
)
