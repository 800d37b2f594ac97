package services

import "time"

// Clock returns the current time. Services default to time.Now; tests
// inject a fixed or stepping clock.
type Clock func() time.Time

func systemClock() time.Time {
	return time.Now()
}
