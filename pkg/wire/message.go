package wire

import "encoding/json"

// Operations understood by the greeter protocol
const (
	OpAuthenticate       = "authenticate"
	OpVerifySecondFactor = "verify_second_factor"
	OpLiveValidate       = "live_validate"
	OpCancelLive         = "cancel_live"
	OpCheckStrength      = "check_strength"
	OpValidateToken      = "validate_token"
	OpBiometrics         = "biometrics"
)

// Request is one line read from the host
type Request struct {
	ID        string `json:"id" validate:"max=128"`
	Op        string `json:"op" validate:"required,oneof=authenticate verify_second_factor live_validate cancel_live check_strength validate_token biometrics"`
	Username  string `json:"username,omitempty" validate:"max=256"`
	Password  string `json:"password,omitempty" validate:"max=1024"`
	IPAddress string `json:"ip_address,omitempty" validate:"max=64"`
	Token     string `json:"token,omitempty" validate:"max=128"`
	Code      string `json:"code,omitempty" validate:"omitempty,numeric,len=6"`
}

// Response is one line written to the host
type Response struct {
	ID         string          `json:"id,omitempty"`
	Op         string          `json:"op"`
	OK         bool            `json:"ok"`
	Outcome    string          `json:"outcome,omitempty"`
	Message    string          `json:"message,omitempty"`
	Username   string          `json:"username,omitempty"`
	Token      string          `json:"token,omitempty"`
	RetryAfter int             `json:"retry_after,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      *ErrorResponse  `json:"error,omitempty"`
}
