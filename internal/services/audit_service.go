package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

// AuditSink receives one serialised record per event (the rotated file)
type AuditSink interface {
	Write(event logger.AuditEvent) error
}

// AuditLogRepository persists the queryable copy of each event
type AuditLogRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditService writes every event to the file sink, then to the store
// through a circuit breaker. Failures are counted and logged (throttled),
// never returned: the security decision that produced the event stands.
type AuditService struct {
	sink    AuditSink
	repo    AuditLogRepository
	breaker *gobreaker.CircuitBreaker
	clock   Clock
	metrics *metrics.Metrics
	logger  *slog.Logger

	fileFailures  rate.Sometimes
	storeFailures rate.Sometimes
}

// NewAuditService creates a new AuditService. repo may be nil when no
// store is configured.
func NewAuditService(sink AuditSink, repo AuditLogRepository, m *metrics.Metrics, log *slog.Logger) *AuditService {
	s := &AuditService{
		sink:          sink,
		repo:          repo,
		clock:         systemClock,
		metrics:       m,
		logger:        log,
		fileFailures:  rate.Sometimes{Interval: time.Minute},
		storeFailures: rate.Sometimes{Interval: time.Minute},
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("audit store breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return s
}

// SetClock replaces the time source (for testing)
func (s *AuditService) SetClock(clock Clock) {
	s.clock = clock
}

// LogLoginAttempt records a LOGIN_ATTEMPT event
func (s *AuditService) LogLoginAttempt(ctx context.Context, username string, success bool, ipAddress string, details map[string]any) {
	clean := logger.SanitizeDetails(details)

	event := logger.NewAuditEvent(models.AuditEventLoginAttempt, s.clock(), map[string]any{
		"username":   username,
		"success":    success,
		"ip_address": ipAddress,
		"details":    clean,
	})

	s.record(ctx, event, &models.AuditLog{
		Username:  &username,
		Success:   &success,
		IPAddress: &ipAddress,
		Details:   models.AuditDetails(clean),
	})
}

// LogSecurityEvent records a caller-named event with its details spread at
// the top level of the record
func (s *AuditService) LogSecurityEvent(ctx context.Context, eventType string, details map[string]any) {
	clean := logger.SanitizeDetails(details)
	event := logger.NewAuditEvent(eventType, s.clock(), clean)

	row := &models.AuditLog{Details: models.AuditDetails(clean)}
	if u, ok := clean["username"].(string); ok {
		row.Username = &u
	}
	if ip, ok := clean["ip_address"].(string); ok {
		row.IPAddress = &ip
	}
	s.record(ctx, event, row)
}

// LogConfigurationChange records a CONFIG_CHANGE event. Values of secret
// settings are redacted; everything else is kept verbatim.
func (s *AuditService) LogConfigurationChange(ctx context.Context, setting, oldValue, newValue string) {
	if logger.IsSecretSetting(setting) {
		oldValue, newValue = "[REDACTED]", "[REDACTED]"
	}

	fields := map[string]any{
		"setting":   setting,
		"old_value": oldValue,
		"new_value": newValue,
	}
	event := logger.NewAuditEvent(models.AuditEventConfigChange, s.clock(), fields)
	s.record(ctx, event, &models.AuditLog{Details: models.AuditDetails(fields)})
}

func (s *AuditService) record(ctx context.Context, event logger.AuditEvent, row *models.AuditLog) {
	s.metrics.AuditEvents.WithLabelValues(event.EventType).Inc()

	if err := s.sink.Write(event); err != nil {
		s.metrics.AuditWriteFailures.WithLabelValues("file").Inc()
		s.fileFailures.Do(func() {
			s.logger.ErrorContext(ctx, "failed to write audit file",
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
		})
	}

	if s.repo == nil {
		return
	}

	row.ID = event.ID
	row.Timestamp = event.Timestamp
	row.Action = event.EventType

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.repo.Create(ctx, row)
	})
	if err != nil {
		s.metrics.AuditWriteFailures.WithLabelValues("store").Inc()
		s.storeFailures.Do(func() {
			s.logger.ErrorContext(ctx, "failed to persist audit log",
				slog.String("event_type", event.EventType),
				slog.Any("error", err))
		})
	}
}
