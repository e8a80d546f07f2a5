package secrets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
)

// secretsManagerAPI is the subset of the Secrets Manager client used here.
type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	CreateSecret(ctx context.Context, in *secretsmanager.CreateSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.CreateSecretOutput, error)
	DeleteSecret(ctx context.Context, in *secretsmanager.DeleteSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DeleteSecretOutput, error)
}

// AWSSecretsManagerProvider implements Provider using AWS Secrets Manager
type AWSSecretsManagerProvider struct {
	client   secretsManagerAPI
	prefix   string
	cacheMu  sync.RWMutex
	cache    map[string]cachedSecret
	cacheTTL time.Duration
}

func NewAWSSecretsManagerProvider(ctx context.Context, region, prefix string, cacheTTL time.Duration) (*AWSSecretsManagerProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newAWSProvider(secretsmanager.NewFromConfig(cfg), prefix, cacheTTL), nil
}

func newAWSProvider(client secretsManagerAPI, prefix string, cacheTTL time.Duration) *AWSSecretsManagerProvider {
	return &AWSSecretsManagerProvider{
		client:   client,
		prefix:   prefix,
		cache:    make(map[string]cachedSecret),
		cacheTTL: cacheTTL,
	}
}

func (p *AWSSecretsManagerProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.cacheMu.RLock()
	if cached, ok := p.cache[key]; ok && time.Now().Before(cached.expiresAt) {
		p.cacheMu.RUnlock()
		return cached.value, nil
	}
	p.cacheMu.RUnlock()

	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(p.prefix + key),
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", key, err)
	}

	value := aws.ToString(result.SecretString)
	if value == "" {
		return "", fmt.Errorf("%w: %s (empty)", ErrSecretNotFound, key)
	}

	p.cacheMu.Lock()
	p.cache[key] = cachedSecret{value: value, expiresAt: time.Now().Add(p.cacheTTL)}
	p.cacheMu.Unlock()

	return value, nil
}

func (p *AWSSecretsManagerProvider) SetSecret(ctx context.Context, key, value string) error {
	name := p.prefix + key

	_, err := p.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(name),
		SecretString: aws.String(value),
	})
	if err != nil {
		_, err = p.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
			Name:         aws.String(name),
			SecretString: aws.String(value),
		})
		if err != nil {
			return fmt.Errorf("failed to set secret %s: %w", key, err)
		}
	}

	p.invalidate(key)
	return nil
}

func (p *AWSSecretsManagerProvider) DeleteSecret(ctx context.Context, key string) error {
	_, err := p.client.DeleteSecret(ctx, &secretsmanager.DeleteSecretInput{
		SecretId:                   aws.String(p.prefix + key),
		ForceDeleteWithoutRecovery: aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to delete secret %s: %w", key, err)
	}

	p.invalidate(key)
	return nil
}

func (p *AWSSecretsManagerProvider) invalidate(key string) {
	p.cacheMu.Lock()
	delete(p.cache, key)
	p.cacheMu.Unlock()
}
