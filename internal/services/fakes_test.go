package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/services"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// MockRateLimitRepository implements services.RateLimitRepository
type MockRateLimitRepository struct {
	GetFunc              func(ctx context.Context, key string) (*models.AttemptRecord, error)
	UpsertFunc           func(ctx context.Context, rec *models.AttemptRecord) error
	DeleteFunc           func(ctx context.Context, key string) error
	DeleteIdleBeforeFunc func(ctx context.Context, cutoff time.Time) (int64, error)
}

func (m *MockRateLimitRepository) Get(ctx context.Context, key string) (*models.AttemptRecord, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key)
	}
	return nil, models.ErrNotFound
}

func (m *MockRateLimitRepository) Upsert(ctx context.Context, rec *models.AttemptRecord) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, rec)
	}
	return nil
}

func (m *MockRateLimitRepository) Delete(ctx context.Context, key string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, key)
	}
	return nil
}

func (m *MockRateLimitRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if m.DeleteIdleBeforeFunc != nil {
		return m.DeleteIdleBeforeFunc(ctx, cutoff)
	}
	return 0, nil
}

// MockRateLimiter implements services.RateLimiter
type MockRateLimiter struct {
	IsAllowedFunc func(ctx context.Context, key string) (bool, *time.Duration)

	mu     sync.Mutex
	resets []string
}

func (m *MockRateLimiter) IsAllowed(ctx context.Context, key string) (bool, *time.Duration) {
	if m.IsAllowedFunc != nil {
		return m.IsAllowedFunc(ctx, key)
	}
	return true, nil
}

func (m *MockRateLimiter) Reset(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, key)
}

func (m *MockRateLimiter) Resets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resets...)
}

// recordingSink collects audit events in memory
type recordingSink struct {
	mu     sync.Mutex
	events []logger.AuditEvent
	err    error
}

func (s *recordingSink) Write(event logger.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Events() []logger.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]logger.AuditEvent(nil), s.events...)
}

func (s *recordingSink) OfType(eventType string) []logger.AuditEvent {
	var out []logger.AuditEvent
	for _, e := range s.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

// MockAuditLogRepository implements services.AuditLogRepository
type MockAuditLogRepository struct {
	CreateFunc func(ctx context.Context, log *models.AuditLog) error
}

func (m *MockAuditLogRepository) Create(ctx context.Context, log *models.AuditLog) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, log)
	}
	return nil
}

// MockFailedAttemptRecorder implements services.FailedAttemptRecorder
type MockFailedAttemptRecorder struct {
	mu       sync.Mutex
	failures map[string]int
	cleared  []string
}

func (m *MockFailedAttemptRecorder) RecordFailure(_ context.Context, username, ipAddress string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failures == nil {
		m.failures = make(map[string]int)
	}
	m.failures[username+"|"+ipAddress]++
	return nil
}

func (m *MockFailedAttemptRecorder) Clear(_ context.Context, username, ipAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, username+"|"+ipAddress)
	delete(m.failures, username+"|"+ipAddress)
	return nil
}

func (m *MockFailedAttemptRecorder) Failures(username, ipAddress string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures[username+"|"+ipAddress]
}

// MockSecondFactor implements services.SecondFactorVerifier
type MockSecondFactor struct {
	IsEnrolledFunc func(ctx context.Context, username string) (bool, error)
	VerifyFunc     func(ctx context.Context, username, code string) (bool, error)
}

func (m *MockSecondFactor) IsEnrolled(ctx context.Context, username string) (bool, error) {
	if m.IsEnrolledFunc != nil {
		return m.IsEnrolledFunc(ctx, username)
	}
	return false, nil
}

func (m *MockSecondFactor) Verify(ctx context.Context, username, code string) (bool, error) {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, username, code)
	}
	return false, nil
}

// recordingNotifier collects lockout alerts
type recordingNotifier struct {
	mu     sync.Mutex
	alerts []services.LockoutAlert
}

func (n *recordingNotifier) NotifyLockout(_ context.Context, alert services.LockoutAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *recordingNotifier) Alerts() []services.LockoutAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]services.LockoutAlert(nil), n.alerts...)
}

// MockSESClient implements services.SESClient
type MockSESClient struct {
	mu     sync.Mutex
	inputs []*ses.SendEmailInput
	err    error
}

func (m *MockSESClient) SendEmail(_ context.Context, params *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.inputs = append(m.inputs, params)
	return &ses.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func (m *MockSESClient) Inputs() []*ses.SendEmailInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*ses.SendEmailInput(nil), m.inputs...)
}
