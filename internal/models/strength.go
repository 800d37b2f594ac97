package models

// StrengthLevel buckets a password strength score.
type StrengthLevel string

const (
	StrengthVeryWeak   StrengthLevel = "very_weak"
	StrengthWeak       StrengthLevel = "weak"
	StrengthFair       StrengthLevel = "fair"
	StrengthStrong     StrengthLevel = "strong"
	StrengthVeryStrong StrengthLevel = "very_strong"
)

// StrengthReport is an immutable analysis of a single password.
type StrengthReport struct {
	Score        int           `json:"score"`
	Length       int           `json:"length"`
	HasLowercase bool          `json:"has_lowercase"`
	HasUppercase bool          `json:"has_uppercase"`
	HasDigits    bool          `json:"has_digits"`
	HasSpecial   bool          `json:"has_special"`
	IsCommon     bool          `json:"is_common"`
	Entropy      float64       `json:"entropy"`
	Strength     StrengthLevel `json:"strength"`
	Suggestions  []string      `json:"suggestions"`
}
