package auth

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/sentinel/internal/models"
)

func newTestManager(t *testing.T) *TOTPManager {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)

	tm, err := NewTOTPManager(key, "sentinel")
	require.NoError(t, err)
	return tm
}

func TestTOTPManager_NewTOTPManager_InvalidKeyLength(t *testing.T) {
	for _, length := range []int{0, 16, 24, 31, 33, 64} {
		tm, err := NewTOTPManager(make([]byte, length), "sentinel")
		assert.Error(t, err)
		assert.Nil(t, tm)
		assert.Contains(t, err.Error(), "must be exactly 32 bytes")
	}
}

func TestTOTPManager_Enroll(t *testing.T) {
	tm := newTestManager(t)

	e, err := tm.Enroll("alice")
	require.NoError(t, err)

	assert.NotEmpty(t, e.Secret)
	assert.Contains(t, e.URL, "otpauth://totp/")
	assert.Contains(t, e.URL, "alice")
	assert.Equal(t, []byte("\x89PNG"), e.QRCodePNG[:4])
	assert.Len(t, e.Nonce, 12)

	plain, err := tm.DecryptSecret(e.Encrypted, e.Nonce)
	require.NoError(t, err)
	assert.Equal(t, e.Secret, string(plain))
}

func TestTOTPManager_DecryptSecret_WrongKey(t *testing.T) {
	a := newTestManager(t)
	b := newTestManager(t)

	enc, nonce, err := a.EncryptSecret([]byte("JBSWY3DPEHPK3PXP"))
	require.NoError(t, err)

	_, err = b.DecryptSecret(enc, nonce)
	assert.Error(t, err)
}

func TestTOTPManager_Validate(t *testing.T) {
	tm := newTestManager(t)
	e, err := tm.Enroll("alice")
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(e.Secret, now)
	require.NoError(t, err)

	ok, err := tm.Validate(e.Secret, code, nil, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// Previous step is accepted for drift.
	ok, err = tm.Validate(e.Secret, code, nil, now.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tm.Validate(e.Secret, code, nil, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = tm.Validate(e.Secret, "000000", nil, now)
	require.NoError(t, err)
	if code != "000000" {
		assert.False(t, ok)
	}
}

func TestTOTPManager_Validate_ReplayRejected(t *testing.T) {
	tm := newTestManager(t)
	e, err := tm.Enroll("alice")
	require.NoError(t, err)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	code, err := totp.GenerateCode(e.Secret, now)
	require.NoError(t, err)

	lastUsed := now.Add(-10 * time.Second)
	ok, err := tm.Validate(e.Secret, code, &lastUsed, now)
	assert.ErrorIs(t, err, models.ErrCodeReplay)
	assert.False(t, ok)

	lastUsed = now.Add(-2 * time.Minute)
	ok, err = tm.Validate(e.Secret, code, &lastUsed, now)
	require.NoError(t, err)
	assert.True(t, ok)
}
