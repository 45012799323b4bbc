// Package secretsmanager loads the bot's signing key from AWS Secrets Manager.
package secretsmanager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/stl/auto-repay/internal/pkg/keypair"
)

// DefaultSecretKey is the field read when the secret is a JSON object.
const DefaultSecretKey = "WALLET_KEYPAIR"

// SecretGetter is the subset of the Secrets Manager client used here.
type SecretGetter interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// KeypairLoader reads a keypair secret.
type KeypairLoader struct {
	client SecretGetter
	// field is the JSON object field holding the keypair.
	field string
}

// NewKeypairLoader creates a loader. An empty field means DefaultSecretKey.
func NewKeypairLoader(client SecretGetter, field string) (*KeypairLoader, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if field == "" {
		field = DefaultSecretKey
	}
	return &KeypairLoader{client: client, field: field}, nil
}

// Load fetches the current version of secretName and decodes it. The secret
// is either the keypair itself or a JSON object holding it under the
// configured field.
func (l *KeypairLoader) Load(ctx context.Context, secretName string) (solana.PrivateKey, error) {
	if secretName == "" {
		return nil, errors.New("secret name is required")
	}
	out, err := l.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId:     aws.String(secretName),
		VersionStage: aws.String("AWSCURRENT"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretName, err)
	}

	raw := strings.TrimSpace(aws.ToString(out.SecretString))
	if raw == "" {
		return nil, fmt.Errorf("secret %s has no string value", secretName)
	}
	if strings.HasPrefix(raw, "{") {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal([]byte(raw), &fields); err != nil {
			return nil, fmt.Errorf("secret %s is not valid JSON: %w", secretName, err)
		}
		value, ok := fields[l.field]
		if !ok {
			return nil, fmt.Errorf("secret %s has no %s field", secretName, l.field)
		}
		// The field may hold a base58 string or the byte array itself.
		var s string
		if err := json.Unmarshal(value, &s); err == nil {
			raw = s
		} else {
			raw = string(value)
		}
	}

	key, err := keypair.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("secret %s: %w", secretName, err)
	}
	return key, nil
}
