// Package backend opens the configured document store.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/kbadmin/internal/config"
	"github.com/efebarandurmaz/kbadmin/internal/secrets"
	"github.com/efebarandurmaz/kbadmin/internal/store"
	"github.com/efebarandurmaz/kbadmin/internal/store/neo4j"
	"github.com/efebarandurmaz/kbadmin/internal/store/qdrant"
)

// Open returns the store selected by cfg.Store.Backend. Credentials are
// resolved through the secrets package first.
func Open(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory, "":
		if cfg.Store.Fixture == "" {
			return store.NewMemory(), nil
		}
		m, err := store.LoadMemory(cfg.Store.Fixture)
		if err != nil {
			return nil, err
		}
		slog.Info("Loaded memory store fixture", "path", cfg.Store.Fixture)
		return m, nil
	case config.BackendQdrant:
		apiKey, err := resolve(ctx, cfg, cfg.Qdrant.APIKey)
		if err != nil {
			return nil, fmt.Errorf("qdrant api key: %w", err)
		}
		return qdrant.New(ctx, qdrant.Options{
			Host:     cfg.Qdrant.Host,
			Port:     cfg.Qdrant.Port,
			APIKey:   apiKey,
			PageSize: uint32(max(cfg.Qdrant.PageSize, 0)),
		})
	case config.BackendNeo4j:
		password, err := resolve(ctx, cfg, cfg.Neo4j.Password)
		if err != nil {
			return nil, fmt.Errorf("neo4j password: %w", err)
		}
		return neo4j.New(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, password)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func resolve(ctx context.Context, cfg *config.Config, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	m, err := secrets.NewManager(&secrets.Config{File: cfg.Secrets.File})
	if err != nil {
		return "", err
	}
	return m.Resolve(ctx, value)
}
