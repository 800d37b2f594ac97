package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToken_Usable(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tok := SessionToken{Token: "t", Username: "alice", CreatedAt: now, ExpiresAt: now.Add(time.Minute)}

	assert.True(t, tok.Usable(now))
	assert.False(t, tok.Usable(now.Add(2*time.Minute)))

	tok.Used = true
	assert.False(t, tok.Usable(now))
}

func TestAuthResult_Message(t *testing.T) {
	tests := []struct {
		outcome AuthOutcome
		want    string
	}{
		{OutcomeInvalidCredentials, MessageInvalidCredentials},
		{OutcomeRateLimited, MessageTryAgainLater},
		{OutcomeAuthenticated, ""},
		{OutcomeSecondFactorRequired, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			assert.Equal(t, tt.want, AuthResult{Outcome: tt.outcome}.Message())
		})
	}
}

func TestAuthResult_RetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, AuthResult{}.RetryAfterSeconds())
	assert.Equal(t, 1, AuthResult{RetryAfter: 200 * time.Millisecond}.RetryAfterSeconds())
	assert.Equal(t, 3, AuthResult{RetryAfter: 2100 * time.Millisecond}.RetryAfterSeconds())
}

func TestAuditDetails_ScanValue(t *testing.T) {
	d := AuditDetails{"reason": "bad password", "attempt": float64(2)}
	v, err := d.Value()
	require.NoError(t, err)

	var out AuditDetails
	require.NoError(t, out.Scan(v))
	assert.Equal(t, d, out)

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)

	assert.Error(t, out.Scan(42))
}
