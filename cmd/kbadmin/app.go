package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/efebarandurmaz/kbadmin/internal/config"
	"github.com/efebarandurmaz/kbadmin/internal/knowledge"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/observability"
	"github.com/efebarandurmaz/kbadmin/internal/report"
	"github.com/efebarandurmaz/kbadmin/internal/store"
	"github.com/efebarandurmaz/kbadmin/internal/store/backend"
)

const version = "0.1.0"

// app holds the collaborators shared by every command.
type app struct {
	cfg     *config.Config
	store   store.Store
	kb      *knowledge.Reader
	svc     *metasync.Service
	audit   *observability.AuditLogger
	tracing *observability.TracerProvider
}

func loadConfig(path string) (*config.Config, error) {
	config.LoadDotEnv()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func openAudit(cfg *config.Config) (*observability.AuditLogger, error) {
	if cfg.Audit.Path == "" {
		return nil, nil
	}
	return observability.NewAuditLogger(&observability.AuditConfig{
		Enabled:    true,
		OutputPath: cfg.Audit.Path,
	})
}

// newApp loads configuration and opens the store. The knowledge database
// is opened only when withKB is set and sqlite.path is configured.
func newApp(ctx context.Context, configPath string, withKB bool) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)
	report.SetASCII(!report.IsTerminal(os.Stdout))

	a := &app{cfg: cfg}
	a.tracing, err = observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	a.store, err = backend.Open(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if withKB && cfg.SQLite.Path != "" {
		a.kb, err = knowledge.Open(cfg.SQLite.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.audit, err = openAudit(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.svc = metasync.New(a.store,
		metasync.Defaults{Key: cfg.Reconcile.Key, Copy: cfg.Reconcile.Copy},
		metasync.WithLockDir(cfg.Reconcile.LockDir),
		metasync.WithAudit(a.audit),
	)
	return a, nil
}

// Close releases everything newApp opened.
func (a *app) Close() {
	if a.audit != nil {
		_ = a.audit.Close()
	}
	if a.kb != nil {
		_ = a.kb.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("Closing store failed", "error", err)
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(context.Background()); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
	}
}

func withApp(ctx context.Context, configPath string, withKB bool, fn func(context.Context, *app) error) error {
	a, err := newApp(ctx, configPath, withKB)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}
