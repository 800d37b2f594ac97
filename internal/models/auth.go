package models

import (
	"math"
	"time"
)

// Host-visible failure messages. Callers never learn which check failed.
const (
	MessageInvalidCredentials = "invalid credentials"
	MessageTryAgainLater      = "try again later"
)

// Verdict is the outcome of a single password validation.
type Verdict string

const (
	VerdictValid       Verdict = "valid"
	VerdictInvalid     Verdict = "invalid"
	VerdictRateLimited Verdict = "rate_limited"
)

// ValidationResult carries the verdict and, when rate limited, the wait.
type ValidationResult struct {
	Verdict    Verdict
	RetryAfter time.Duration
}

// OK reports whether the password matched.
func (r ValidationResult) OK() bool {
	return r.Verdict == VerdictValid
}

// AuthOutcome is the outcome of a login attempt. Policy denials are
// outcomes, not errors.
type AuthOutcome string

const (
	OutcomeAuthenticated        AuthOutcome = "authenticated"
	OutcomeInvalidCredentials   AuthOutcome = "invalid_credentials"
	OutcomeRateLimited          AuthOutcome = "rate_limited"
	OutcomeSecondFactorRequired AuthOutcome = "second_factor_required"
)

// LoginRequest is a single password-stage attempt.
type LoginRequest struct {
	Username  string `json:"username" validate:"required,max=256"`
	Password  string `json:"password" validate:"max=1024"`
	IPAddress string `json:"ip_address" validate:"omitempty,max=64"`
}

// AuthResult is returned to the host for every attempt.
type AuthResult struct {
	Outcome    AuthOutcome
	Username   string
	Token      string // bridge token, set only for OutcomeSecondFactorRequired
	RetryAfter time.Duration
}

// Success reports whether the password stage passed.
func (r AuthResult) Success() bool {
	return r.Outcome == OutcomeAuthenticated || r.Outcome == OutcomeSecondFactorRequired
}

// Message returns the uniform host-visible message for failed outcomes.
func (r AuthResult) Message() string {
	switch r.Outcome {
	case OutcomeRateLimited:
		return MessageTryAgainLater
	case OutcomeInvalidCredentials:
		return MessageInvalidCredentials
	default:
		return ""
	}
}

// RetryAfterSeconds returns RetryAfter in whole seconds, rounded up.
func (r AuthResult) RetryAfterSeconds() int {
	if r.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(r.RetryAfter.Seconds()))
}
