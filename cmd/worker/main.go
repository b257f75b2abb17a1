package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/efebarandurmaz/kbadmin/internal/config"
	"github.com/efebarandurmaz/kbadmin/internal/lifecycle"
	"github.com/efebarandurmaz/kbadmin/internal/metasync"
	"github.com/efebarandurmaz/kbadmin/internal/observability"
	"github.com/efebarandurmaz/kbadmin/internal/store/backend"
	temporalmod "github.com/efebarandurmaz/kbadmin/internal/temporal"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
)

func main() {
	configPath := "configs/kbadmin.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	config.LoadDotEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := observability.SetupLogging(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()
	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    cfg.Tracing.ServiceName + "-worker",
		ServiceVersion: "0.1.0",
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}

	shutdown := lifecycle.NewShutdownHandler(&lifecycle.ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		Logger:  logger,
	})
	shutdown.RegisterHook("tracing", lifecycle.PriorityTracing, tp.Shutdown)

	st, err := backend.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	shutdown.RegisterHook("store", lifecycle.PriorityStore, func(context.Context) error { return st.Close() })

	var audit *observability.AuditLogger
	if cfg.Audit.Path != "" {
		audit, err = observability.NewAuditLogger(&observability.AuditConfig{Enabled: true, OutputPath: cfg.Audit.Path})
		if err != nil {
			log.Fatalf("audit: %v", err)
		}
		shutdown.RegisterHook("audit", lifecycle.PriorityAudit, func(context.Context) error { return audit.Close() })
	}

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Service: metasync.New(st,
			metasync.Defaults{Key: cfg.Reconcile.Key, Copy: cfg.Reconcile.Copy},
			metasync.WithLockDir(cfg.Reconcile.LockDir),
			metasync.WithAudit(audit),
			metasync.WithLogger(logger),
		),
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	shutdown.RegisterHook("temporal-worker", lifecycle.PriorityWorker, func(context.Context) error {
		w.Stop()
		c.Close()
		return nil
	})

	slog.Info("Worker started", "task_queue", cfg.Temporal.TaskQueue, "backend", cfg.Store.Backend)

	shutdown.Start()
	shutdown.Wait()
	slog.Info("Worker stopped")
}
