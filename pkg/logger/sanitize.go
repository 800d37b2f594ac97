package logger

import (
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"code",
	"otp",
	"hash",
	"api_key",
	"apikey",
	"encryption_key",
	"dsn",
}

// secretSettings names configuration keys whose values are credentials.
// Policy values such as token lifetimes stay readable in the audit trail.
var secretSettings = map[string]bool{
	"mfa.encryption_key": true,
	"store.dsn":          true,
}

// MaskUsername masks a username for application logs (e.g., "a****")
func MaskUsername(username string) string {
	runes := []rune(username)
	if len(runes) <= 1 {
		return strings.Repeat("*", len(runes))
	}
	return string(runes[0]) + strings.Repeat("*", len(runes)-1)
}

// RedactedAttr returns a redacted slog attribute for sensitive values
// In production, returns "[REDACTED]"; in development, returns the actual value
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, redacted)
	}
	return slog.String(key, value)
}

// UsernameAttr masks the username in production
func UsernameAttr(username, env string) slog.Attr {
	if env == "production" {
		return slog.String("username", MaskUsername(username))
	}
	return slog.String("username", username)
}

// IsSensitiveKey reports whether a detail key may carry a credential
func IsSensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// IsSecretSetting reports whether a dotted configuration key holds a
// credential
func IsSecretSetting(setting string) bool {
	return secretSettings[strings.ToLower(setting)]
}

// SanitizeDetails returns a copy of details with credential-bearing values
// replaced. Nested maps are sanitised too.
func SanitizeDetails(details map[string]any) map[string]any {
	if details == nil {
		return map[string]any{}
	}

	out := make(map[string]any, len(details))
	for k, v := range details {
		if IsSensitiveKey(k) {
			out[k] = redacted
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = SanitizeDetails(nested)
			continue
		}
		out[k] = v
	}
	return out
}
