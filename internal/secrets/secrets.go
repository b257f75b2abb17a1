// Package secrets resolves credential references found in configuration.
//
// A configured value may name where the secret lives instead of holding it:
//
//	env:QDRANT_API_KEY       environment variable
//	file:/run/secrets/neo4j  whole file contents, trailing newline trimmed
//	secret:neo4j_password    key looked up through the Manager's providers
//
// Any other value is returned unchanged.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNotFound is returned when no provider holds a secret.
var ErrNotFound = errors.New("secret not found")

// Well-known secret keys.
const (
	KeyQdrantAPIKey  = "qdrant_api_key"
	KeyNeo4jPassword = "neo4j_password"
)

// Provider is a source of named secrets.
type Provider interface {
	// Get retrieves a secret by key.
	Get(ctx context.Context, key string) (string, error)
	// Name returns the provider name.
	Name() string
}

// Config configures the secrets manager.
type Config struct {
	// File is an optional JSON object of key/value secrets, consulted
	// before the environment.
	File string
	// EnvPrefix for environment variable names (default: "KBADMIN_")
	EnvPrefix string
}

// Manager looks secrets up through its providers in order and caches hits.
type Manager struct {
	providers []Provider
	cache     map[string]string
	cacheMu   sync.RWMutex
}

// NewManager creates a secrets manager. The environment provider is always
// present as the last resort.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var providers []Provider
	if cfg.File != "" {
		fp, err := NewFileProvider(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("create file provider: %w", err)
		}
		providers = append(providers, fp)
	}
	providers = append(providers, NewEnvProvider(cfg.EnvPrefix))

	return &Manager{
		providers: providers,
		cache:     make(map[string]string),
	}, nil
}

// Get retrieves a secret from the first provider that has it.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.cacheMu.RLock()
	val, ok := m.cache[key]
	m.cacheMu.RUnlock()
	if ok {
		return val, nil
	}

	for _, p := range m.providers {
		val, err := p.Get(ctx, key)
		if err == nil && val != "" {
			m.cacheMu.Lock()
			m.cache[key] = val
			m.cacheMu.Unlock()
			return val, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Resolve expands a configured value that may be a secret reference.
func (m *Manager) Resolve(ctx context.Context, value string) (string, error) {
	scheme, ref, ok := strings.Cut(value, ":")
	if !ok {
		return value, nil
	}
	switch scheme {
	case "env":
		v, found := os.LookupEnv(ref)
		if !found {
			return "", fmt.Errorf("%w: environment variable %s", ErrNotFound, ref)
		}
		return v, nil
	case "file":
		data, err := os.ReadFile(ref)
		if err != nil {
			return "", fmt.Errorf("reading secret file: %w", err)
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	case "secret":
		return m.Get(ctx, ref)
	default:
		return value, nil
	}
}

// EnvProvider reads secrets from environment variables.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an environment-based secrets provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "KBADMIN_"
	}
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	envKey := p.prefix + strings.ToUpper(key)
	if val := os.Getenv(envKey); val != "" {
		return val, nil
	}
	if val := os.Getenv(strings.ToUpper(key)); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("env var not found: %s", envKey)
}
