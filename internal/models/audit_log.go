package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the audit trail
const (
	AuditEventLoginAttempt      = "LOGIN_ATTEMPT"
	AuditEventConfigChange      = "CONFIG_CHANGE"
	AuditEventRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	AuditEventSecondFactor      = "SECOND_FACTOR"
	AuditEventMFAEnrolled       = "MFA_ENROLLED"
	AuditEventMFADisabled       = "MFA_DISABLED"
)

// AuditLog is the persisted row of an audit event.
type AuditLog struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Username  *string      `json:"username,omitempty"`
	Action    string       `json:"event_type"`
	Success   *bool        `json:"success,omitempty"`
	IPAddress *string      `json:"ip_address,omitempty"`
	Details   AuditDetails `json:"details"`
}

// AuditDetails holds free-form event context, stored as a JSON document
type AuditDetails map[string]any

// Scan implements sql.Scanner
func (d *AuditDetails) Scan(value any) error {
	if value == nil {
		*d = make(AuditDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("audit details: unsupported type %T", value)
	}
	if len(raw) == 0 {
		*d = make(AuditDetails)
		return nil
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = AuditDetails(m)
	return nil
}

// Value implements driver.Valuer
func (d AuditDetails) Value() (driver.Value, error) {
	if d == nil {
		return "{}", nil
	}
	b, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
