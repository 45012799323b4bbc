package sns

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *mockPublisher) Publish(ctx context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params)
	}
	return &sns.PublishOutput{MessageId: aws.String("test-message-id")}, nil
}

const testTopicARN = "arn:aws:sns:eu-west-1:123456789:auto-repay-alerts"

func fastConfig() Config {
	return Config{TopicARN: testTopicARN, MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func TestNewAlerter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		client  Publisher
		config  Config
		wantErr string
	}{
		{name: "nil client", client: nil, config: Config{TopicARN: testTopicARN}, wantErr: "sns client is required"},
		{name: "missing topic", client: &mockPublisher{}, config: Config{}, wantErr: "topic ARN is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAlerter(tt.client, tt.config)
			if err == nil || err.Error() != tt.wantErr {
				t.Fatalf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestNewAlerter_AppliesDefaults(t *testing.T) {
	a, err := NewAlerter(&mockPublisher{}, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.config.MaxRetries != 3 || a.config.InitialBackoff != 100*time.Millisecond || a.config.MaxBackoff != 5*time.Second {
		t.Errorf("defaults not applied: %+v", a.config)
	}
}

func TestAlert_Success(t *testing.T) {
	client := &mockPublisher{}
	a, _ := NewAlerter(client, fastConfig())

	alert := outbound.Alert{
		Severity: outbound.SeverityCritical,
		Subject:  "[Slippage Exceeded] auto-repay failed",
		Message:  "3 attempts failed",
		Account:  "Owner111",
	}
	if err := a.Alert(context.Background(), alert); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.calls) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.calls))
	}
	in := client.calls[0]
	if aws.ToString(in.TopicArn) != testTopicARN {
		t.Errorf("topic = %s", aws.ToString(in.TopicArn))
	}
	var got outbound.Alert
	if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &got); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if got != alert {
		t.Errorf("message = %+v, want %+v", got, alert)
	}
	if aws.ToString(in.MessageAttributes["severity"].StringValue) != "critical" {
		t.Errorf("severity attribute = %v", in.MessageAttributes["severity"])
	}
	if aws.ToString(in.MessageAttributes["account"].StringValue) != "Owner111" {
		t.Errorf("account attribute = %v", in.MessageAttributes["account"])
	}
}

func TestAlert_TruncatesSubject(t *testing.T) {
	client := &mockPublisher{}
	a, _ := NewAlerter(client, fastConfig())

	_ = a.Alert(context.Background(), outbound.Alert{Severity: outbound.SeverityWarning, Subject: strings.Repeat("x", 150)})
	if got := len(aws.ToString(client.calls[0].Subject)); got != maxSubjectLen {
		t.Errorf("subject length = %d, want %d", got, maxSubjectLen)
	}
	if _, ok := client.calls[0].MessageAttributes["account"]; ok {
		t.Error("account attribute should be omitted when empty")
	}
}

func TestAlert_Retries(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantErr   bool
		wantCalls int
	}{
		{
			name:      "throttled then success",
			errs:      []error{&types.ThrottledException{Message: aws.String("slow down")}, nil},
			wantCalls: 2,
		},
		{
			name:      "invalid parameter is not retried",
			errs:      []error{&types.InvalidParameterException{Message: aws.String("bad")}},
			wantErr:   true,
			wantCalls: 1,
		},
		{
			name:      "exhausted",
			errs:      []error{errors.New("network"), errors.New("network"), errors.New("network")},
			wantErr:   true,
			wantCalls: 3,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockPublisher{}
			client.publishFunc = func(context.Context, *sns.PublishInput) (*sns.PublishOutput, error) {
				err := tt.errs[len(client.calls)-1]
				if err != nil {
					return nil, err
				}
				return &sns.PublishOutput{}, nil
			}
			a, _ := NewAlerter(client, fastConfig())

			err := a.Alert(context.Background(), outbound.Alert{Severity: outbound.SeverityWarning, Subject: "low balance"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(client.calls) != tt.wantCalls {
				t.Errorf("expected %d calls, got %d", tt.wantCalls, len(client.calls))
			}
		})
	}
}
