package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCredentialStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(path, []byte(`# local accounts
alice:$pbkdf2-sha256$i=100000$c2FsdA$a2V5

bob:$2b$10$abcdefghijklmnopqrstuv
`), 0o600))

	s, err := LoadCredentialStore(path)
	require.NoError(t, err)

	h, ok := s.Lookup("alice")
	assert.True(t, ok)
	assert.Equal(t, "$pbkdf2-sha256$i=100000$c2FsdA$a2V5", h)

	_, ok = s.Lookup("mallory")
	assert.False(t, ok)
	assert.Equal(t, []string{"alice", "bob"}, s.Usernames())
}

func TestCredentialStore_ReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "passwd")
	require.NoError(t, os.WriteFile(path, []byte("alice:hash\n"), 0o600))

	s, err := LoadCredentialStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("no-colon-here\n"), 0o600))
	assert.Error(t, s.Reload())

	_, ok := s.Lookup("alice")
	assert.True(t, ok)
}

func TestLoadCredentialStore_Missing(t *testing.T) {
	_, err := LoadCredentialStore(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestBiometricProber_Available(t *testing.T) {
	p := NewBiometricProber()
	p.run = func(ctx context.Context, name string, args ...string) error {
		assert.Equal(t, "systemctl", name)
		assert.Equal(t, []string{"is-active", "--quiet", "fprintd"}, args)
		return nil
	}
	p.lookPath = func(string) (string, error) { return "", errors.New("not found") }

	status := p.Available(context.Background())
	assert.True(t, status.Fingerprint)
	assert.False(t, status.FaceRecognition)

	p.run = func(context.Context, string, ...string) error { return errors.New("inactive") }
	p.lookPath = func(string) (string, error) { return "/usr/bin/howdy", nil }

	status = p.Available(context.Background())
	assert.False(t, status.Fingerprint)
	assert.True(t, status.FaceRecognition)
}
