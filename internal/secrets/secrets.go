// Package secrets resolves provider API keys. A key is looked up in the
// process environment first and, when absent, in AWS Secrets Manager under the
// same name.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when no source holds the requested secret.
var ErrNotFound = errors.New("secret not found")

// SecretsManagerAPI is the subset of the Secrets Manager client the resolver uses.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Resolver implements contracts.SecretResolver.
type Resolver struct {
	mu        sync.Mutex
	lookupEnv func(string) (string, bool)
	sm        SecretsManagerAPI
	cache     map[string]string
}

// NewResolver creates a resolver. sm may be nil to disable the Secrets Manager fallback.
func NewResolver(sm SecretsManagerAPI) *Resolver {
	return &Resolver{
		lookupEnv: os.LookupEnv,
		sm:        sm,
		cache:     make(map[string]string),
	}
}

// NewAWSResolver creates a resolver backed by the default AWS credential chain.
func NewAWSResolver(ctx context.Context, region string) (*Resolver, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewResolver(secretsmanager.NewFromConfig(cfg)), nil
}

// Resolve returns the value stored under name.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty secret name", ErrNotFound)
	}

	if v, ok := r.lookupEnv(name); ok && strings.TrimSpace(v) != "" {
		log.Info().Str("secret", name).Str("source", "env").Msg("API key resolved")
		return strings.TrimSpace(v), nil
	}

	r.mu.Lock()
	cached, ok := r.cache[name]
	r.mu.Unlock()
	if ok {
		return cached, nil
	}

	if r.sm == nil {
		return "", fmt.Errorf("%w: %s is not set in the environment", ErrNotFound, name)
	}

	log.Info().Str("secret", name).Msg("Environment variable not set, checking AWS Secrets Manager")
	out, err := r.sm.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		log.Error().Err(err).Str("secret", name).Msg("Failed to retrieve secret")
		return "", fmt.Errorf("get secret %s: %w", name, err)
	}

	value := secretValue(name, aws.ToString(out.SecretString))
	if value == "" {
		return "", fmt.Errorf("%w: %s has no string value", ErrNotFound, name)
	}

	r.mu.Lock()
	r.cache[name] = value
	r.mu.Unlock()

	log.Info().Str("secret", name).Str("source", "secretsmanager").Msg("API key resolved")
	return value, nil
}

// secretValue accepts both a plain secret string and the key/value JSON form
// the AWS console produces, e.g. {"OpenAIApiKey": "sk-..."}.
func secretValue(name, raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw
	}
	var kv map[string]string
	if err := json.Unmarshal([]byte(raw), &kv); err != nil {
		return raw
	}
	if v, ok := kv[name]; ok {
		return strings.TrimSpace(v)
	}
	if len(kv) == 1 {
		for _, v := range kv {
			return strings.TrimSpace(v)
		}
	}
	return raw
}
