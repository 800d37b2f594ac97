package auth

import (
	"math"
	"unicode"
	"unicode/utf8"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Suggestion strings are rendered verbatim by host UIs.
const (
	SuggestLength    = "Use at least 8 characters"
	SuggestUppercase = "Add uppercase letters"
	SuggestDigits    = "Add numbers"
	SuggestSpecial   = "Add special characters"
)

const (
	lowerCharset   = 26
	upperCharset   = 26
	digitCharset   = 10
	specialCharset = 32
)

// CheckStrength scores a password from 0 to 6. Length counts code points.
// Specials are any rune that is neither a letter nor a number.
func CheckStrength(password string) models.StrengthReport {
	report := models.StrengthReport{
		Strength:    models.StrengthVeryWeak,
		Suggestions: []string{},
	}
	if password == "" {
		return report
	}

	report.Length = utf8.RuneCountInString(password)
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			report.HasLowercase = true
		case unicode.IsUpper(r):
			report.HasUppercase = true
		case unicode.IsDigit(r):
			report.HasDigits = true
		}
		if !unicode.IsLetter(r) && !unicode.IsNumber(r) {
			report.HasSpecial = true
		}
	}
	report.IsCommon = IsCommonPassword(password)

	charset := 0
	for _, c := range []struct {
		present bool
		size    int
	}{
		{report.HasLowercase, lowerCharset},
		{report.HasUppercase, upperCharset},
		{report.HasDigits, digitCharset},
		{report.HasSpecial, specialCharset},
	} {
		if c.present {
			report.Score++
			charset += c.size
		}
	}
	if report.Length >= 8 {
		report.Score++
	}
	if report.Length >= 12 {
		report.Score++
	}
	if charset > 0 {
		report.Entropy = float64(report.Length) * math.Log2(float64(charset))
	}
	report.Strength = strengthLevel(report.Score)

	if report.Length < 8 {
		report.Suggestions = append(report.Suggestions, SuggestLength)
	}
	if !report.HasUppercase {
		report.Suggestions = append(report.Suggestions, SuggestUppercase)
	}
	if !report.HasDigits {
		report.Suggestions = append(report.Suggestions, SuggestDigits)
	}
	if !report.HasSpecial {
		report.Suggestions = append(report.Suggestions, SuggestSpecial)
	}

	return report
}

func strengthLevel(score int) models.StrengthLevel {
	switch {
	case score >= 6:
		return models.StrengthVeryStrong
	case score == 5:
		return models.StrengthStrong
	case score == 4:
		return models.StrengthFair
	case score == 3:
		return models.StrengthWeak
	default:
		return models.StrengthVeryWeak
	}
}
