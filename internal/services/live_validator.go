package services

import (
	"context"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/BradenHooton/sentinel/internal/models"
)

// MinLiveLength is the shortest password the live path will check
const MinLiveLength = 4

// PasswordChecker runs a single live check
type PasswordChecker interface {
	CheckPassword(ctx context.Context, username, password, ipAddress string) models.AuthResult
}

// LiveResult is delivered for the newest submission only
type LiveResult struct {
	Generation uint64
	Result     models.AuthResult
}

// LiveValidator debounces keystroke-driven password checks. Each Submit
// supersedes the previous one; results of superseded checks are dropped.
type LiveValidator struct {
	mu         sync.Mutex
	checker    PasswordChecker
	delay      time.Duration
	generation uint64
	timer      *time.Timer
	closed     bool
	running    sync.WaitGroup
	logger     *slog.Logger
}

// NewLiveValidator creates a validator that waits delay after the last
// submission before checking
func NewLiveValidator(checker PasswordChecker, delay time.Duration, logger *slog.Logger) *LiveValidator {
	return &LiveValidator{
		checker: checker,
		delay:   delay,
		logger:  logger,
	}
}

// SetDelay changes the debounce for subsequent submissions
func (v *LiveValidator) SetDelay(delay time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.delay = delay
}

// Submit schedules a check and returns its generation. Passwords shorter
// than MinLiveLength only cancel what is pending; scheduled is false then.
func (v *LiveValidator) Submit(ctx context.Context, username, password, ipAddress string, deliver func(LiveResult)) (generation uint64, scheduled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.generation++
	gen := v.generation
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}

	if v.closed || utf8.RuneCountInString(password) < MinLiveLength {
		return gen, false
	}

	v.timer = time.AfterFunc(v.delay, func() {
		if !v.begin(gen) {
			return
		}
		defer v.running.Done()
		result := v.checker.CheckPassword(ctx, username, password, ipAddress)
		if !v.current(gen) {
			v.logger.Debug("discarding stale live result", slog.Uint64("generation", gen))
			return
		}
		deliver(LiveResult{Generation: gen, Result: result})
	})
	return gen, true
}

// Cancel supersedes any pending or running check
func (v *LiveValidator) Cancel() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.generation++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
}

// Close cancels pending checks, refuses new ones and waits for a running
// check to return. Call it before closing what the checker writes to.
func (v *LiveValidator) Close() {
	v.mu.Lock()
	v.closed = true
	v.generation++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	v.mu.Unlock()

	v.running.Wait()
}

// Generation returns the newest generation handed out
func (v *LiveValidator) Generation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.generation
}

// begin registers a running check for gen unless it was superseded or the
// validator is closed
func (v *LiveValidator) begin(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || v.generation != gen {
		return false
	}
	v.running.Add(1)
	return true
}

func (v *LiveValidator) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.generation == gen
}
