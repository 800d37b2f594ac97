package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	DefaultIterations  = 100000
	MinIterations      = 10000
	SaltLength         = 16 // 128 bits, per user
	DerivedKeyLength   = 32
	SessionTokenLength = 32 // 256 bits

	pbkdf2Prefix = "$pbkdf2-sha256$"
)

// ErrMalformedHash is returned when a reference hash cannot be parsed
var ErrMalformedHash = errors.New("malformed password hash")

// Common weak passwords
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
	"iloveyou":     true,
	"qwerty123":    true,
	"1q2w3e4r":     true,
}

// IsCommonPassword reports whether password is on the common password list (case-insensitive)
func IsCommonPassword(password string) bool {
	return commonPasswords[strings.ToLower(password)]
}

// HashPassword derives a PBKDF2-HMAC-SHA256 hash with a fresh random salt
// and the default iteration count.
func HashPassword(password string) (string, error) {
	return HashPasswordWithIterations(password, DefaultIterations)
}

// HashPasswordWithIterations encodes as $pbkdf2-sha256$i=<iter>$<salt>$<key>
func HashPasswordWithIterations(password string, iterations int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if iterations < MinIterations {
		return "", fmt.Errorf("iterations must be at least %d", MinIterations)
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, iterations, DerivedKeyLength, sha256.New)
	return fmt.Sprintf("%si=%d$%s$%s",
		pbkdf2Prefix,
		iterations,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// ComparePassword checks password against an encoded reference hash in
// constant time. PBKDF2 and bcrypt ($2a$, $2b$, $2y$) references are accepted.
// A mismatch is (false, nil); an unparseable hash is an error.
func ComparePassword(encoded, password string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, pbkdf2Prefix):
		return comparePBKDF2(encoded, password)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
		}
		return true, nil
	default:
		return false, ErrMalformedHash
	}
}

func comparePBKDF2(encoded, password string) (bool, error) {
	iterations, salt, want, err := decodePBKDF2(encoded)
	if err != nil {
		return false, err
	}
	got := pbkdf2.Key([]byte(password), salt, iterations, len(want), sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func decodePBKDF2(encoded string) (int, []byte, []byte, error) {
	// "", "pbkdf2-sha256", "i=N", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || !strings.HasPrefix(parts[2], "i=") {
		return 0, nil, nil, ErrMalformedHash
	}

	iterations, err := strconv.Atoi(strings.TrimPrefix(parts[2], "i="))
	if err != nil || iterations <= 0 {
		return 0, nil, nil, ErrMalformedHash
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(salt) == 0 {
		return 0, nil, nil, ErrMalformedHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(key) == 0 {
		return 0, nil, nil, ErrMalformedHash
	}
	return iterations, salt, key, nil
}

// HashIterations returns the iteration count encoded in a PBKDF2 hash, or 0
// for other hash formats.
func HashIterations(encoded string) int {
	if !strings.HasPrefix(encoded, pbkdf2Prefix) {
		return 0
	}
	iterations, _, _, err := decodePBKDF2(encoded)
	if err != nil {
		return 0
	}
	return iterations
}

// GenerateSessionToken returns 32 random bytes, URL-safe base64 encoded
func GenerateSessionToken() (string, error) {
	bytes := make([]byte, SessionTokenLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
