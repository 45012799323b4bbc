// Package sns delivers operator alerts to an AWS SNS topic.
//
// The message body is the JSON-encoded outbound.Alert. Subscribers can
// filter on the severity message attribute.
package sns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/stl/auto-repay/internal/pkg/retry"
	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Alerter implements outbound.Alerter
var _ outbound.Alerter = (*Alerter)(nil)

// maxSubjectLen is the SNS limit for email subjects.
const maxSubjectLen = 100

// Publisher is the subset of the SNS client used by Alerter.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Config holds configuration for the SNS alerter.
type Config struct {
	// TopicARN is the topic alerts are published to.
	TopicARN string

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Logger:         slog.Default(),
	}
}

// Alerter publishes alerts to SNS.
type Alerter struct {
	client Publisher
	config Config
	logger *slog.Logger
}

// NewAlerter creates a new SNS alerter.
func NewAlerter(client Publisher, config Config) (*Alerter, error) {
	if client == nil {
		return nil, errors.New("sns client is required")
	}
	if config.TopicARN == "" {
		return nil, errors.New("topic ARN is required")
	}

	defaults := ConfigDefaults()
	if config.MaxRetries == 0 {
		config.MaxRetries = defaults.MaxRetries
	}
	if config.InitialBackoff == 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Alerter{
		client: client,
		config: config,
		logger: config.Logger.With("component", "sns-alerter"),
	}, nil
}

// Alert publishes alert, retrying throttling and transient failures.
func (a *Alerter) Alert(ctx context.Context, alert outbound.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	subject := alert.Subject
	if len(subject) > maxSubjectLen {
		subject = subject[:maxSubjectLen]
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(a.config.TopicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Severity)),
			},
		},
	}
	if alert.Account != "" {
		input.MessageAttributes["account"] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(alert.Account),
		}
	}

	cfg := retry.Config{
		MaxRetries:     a.config.MaxRetries,
		InitialBackoff: a.config.InitialBackoff,
		MaxBackoff:     a.config.MaxBackoff,
		BackoffFactor:  2.0,
	}
	onRetry := func(attempt int, err error, backoff time.Duration) {
		a.logger.Warn("publish failed, retrying",
			"attempt", attempt,
			"maxRetries", a.config.MaxRetries,
			"backoff", backoff,
			"error", err,
			"subject", alert.Subject,
		)
	}
	err = retry.DoVoid(ctx, cfg, isRetryableError, onRetry, func() error {
		_, err := a.client.Publish(ctx, input)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert to SNS: %w", err)
	}
	return nil
}

// isRetryableError retries everything except context errors and rejected
// requests.
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var invalidParam *types.InvalidParameterException
	if errors.As(err, &invalidParam) {
		return false
	}
	var notFound *types.NotFoundException
	if errors.As(err, &notFound) {
		return false
	}
	var authErr *types.AuthorizationErrorException
	return !errors.As(err, &authErr)
}
