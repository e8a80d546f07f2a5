package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrSecretNotFound is returned when a provider has no value for a key.
var ErrSecretNotFound = errors.New("secret not found")

type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
	SetSecret(ctx context.Context, key, value string) error
	DeleteSecret(ctx context.Context, key string) error
}

// EnvProvider reads secrets from process environment variables.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider {
	return &EnvProvider{}
}

func (p *EnvProvider) GetSecret(ctx context.Context, key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
	}
	return value, nil
}

func (p *EnvProvider) SetSecret(ctx context.Context, key, value string) error {
	return os.Setenv(key, value)
}

func (p *EnvProvider) DeleteSecret(ctx context.Context, key string) error {
	return os.Unsetenv(key)
}

type cachedSecret struct {
	value     string
	expiresAt time.Time
}

// CachedProvider memoises another provider's reads for ttl.
type CachedProvider struct {
	provider Provider
	mu       sync.RWMutex
	cache    map[string]cachedSecret
	ttl      time.Duration
}

func NewCachedProvider(provider Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    make(map[string]cachedSecret),
		ttl:      ttl,
	}
}

func (p *CachedProvider) GetSecret(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok && time.Now().Before(cached.expiresAt) {
		return cached.value, nil
	}

	value, err := p.provider.GetSecret(ctx, key)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.cache[key] = cachedSecret{value: value, expiresAt: time.Now().Add(p.ttl)}
	p.mu.Unlock()

	return value, nil
}

func (p *CachedProvider) SetSecret(ctx context.Context, key, value string) error {
	p.invalidate(key)
	return p.provider.SetSecret(ctx, key, value)
}

func (p *CachedProvider) DeleteSecret(ctx context.Context, key string) error {
	p.invalidate(key)
	return p.provider.DeleteSecret(ctx, key)
}

func (p *CachedProvider) invalidate(key string) {
	p.mu.Lock()
	delete(p.cache, key)
	p.mu.Unlock()
}
