package models

import "time"

// AttemptRecord is the fixed-window counter kept per rate-limit key
// (a username, or username:ip).
type AttemptRecord struct {
	Key         string
	Count       int
	WindowStart time.Time
	LastUpdate  time.Time
}

// Elapsed returns how far into its window the record is at now.
func (r *AttemptRecord) Elapsed(now time.Time) time.Duration {
	return now.Sub(r.WindowStart)
}

// FailedAttempt is the persisted failure counter for a username/IP pair.
// It is informational; the limiting decision is made from AttemptRecord.
type FailedAttempt struct {
	Username     string
	IPAddress    string
	LastAttempt  time.Time
	AttemptCount int
}
