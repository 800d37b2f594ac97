package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"

	"github.com/BradenHooton/sentinel/internal/metrics"
	"github.com/BradenHooton/sentinel/pkg/logger"
)

// LockoutAlert describes a rate-limit denial worth telling an operator about
type LockoutAlert struct {
	Username   string
	IPAddress  string
	RetryAfter time.Duration
	At         time.Time
}

// AlertNotifier delivers lockout alerts
type AlertNotifier interface {
	NotifyLockout(ctx context.Context, alert LockoutAlert) error
}

// SESClient is the subset of the SES API used for alerts
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESAlertService emails lockout alerts using AWS SES. Sends are throttled
// so a sustained attack produces a handful of mails, not one per attempt.
type SESAlertService struct {
	client      SESClient
	fromAddress string
	recipients  []string
	limiter     *rate.Limiter
	env         string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewSESAlertService creates an alert service using the default AWS
// credential chain
func NewSESAlertService(ctx context.Context, region, fromAddress string, recipients []string, env string, m *metrics.Metrics, logger *slog.Logger) (*SESAlertService, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESAlertServiceWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, env, m, logger), nil
}

// NewSESAlertServiceWithClient wires an existing SES client
func NewSESAlertServiceWithClient(client SESClient, fromAddress string, recipients []string, env string, m *metrics.Metrics, logger *slog.Logger) *SESAlertService {
	return &SESAlertService{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		limiter:     rate.NewLimiter(rate.Every(time.Minute), 3),
		env:         env,
		metrics:     m,
		logger:      logger,
	}
}

// NotifyLockout sends the alert unless the send budget is exhausted
func (s *SESAlertService) NotifyLockout(ctx context.Context, alert LockoutAlert) error {
	if len(s.recipients) == 0 {
		return nil
	}
	if !s.limiter.Allow() {
		s.metrics.AlertsSent.WithLabelValues("throttled").Inc()
		return nil
	}

	username := alert.Username
	if s.env == "production" {
		username = logger.MaskUsername(username)
	}

	textBody := fmt.Sprintf(`Repeated failed logins were blocked.

Account:     %s
Source:      %s
Time (UTC):  %s
Retry after: %s

No action is required if this was expected. Otherwise review the security audit log on this host.
`, username, alert.IPAddress, alert.At.UTC().Format(time.RFC3339), alert.RetryAfter)

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: s.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("Login rate limit triggered"),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.metrics.AlertsSent.WithLabelValues("failed").Inc()
		s.logger.Error("failed to send lockout alert via SES",
			slog.String("recipients", strings.Join(s.recipients, ",")),
			slog.Any("error", err))
		return fmt.Errorf("failed to send alert: %w", err)
	}

	s.metrics.AlertsSent.WithLabelValues("sent").Inc()
	s.logger.Info("lockout alert sent", slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// NoopAlertNotifier drops alerts; used when alerting is disabled
type NoopAlertNotifier struct{}

func (NoopAlertNotifier) NotifyLockout(context.Context, LockoutAlert) error { return nil }
