package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func quietConfig() *ShutdownConfig {
	return &ShutdownConfig{Timeout: time.Second, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestDefaultShutdownConfig(t *testing.T) {
	cfg := DefaultShutdownConfig()
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %v", cfg.Timeout)
	}
	if len(cfg.Signals) != 2 {
		t.Fatalf("expected 2 signals, got %d", len(cfg.Signals))
	}
}

func TestNewShutdownHandler_Defaults(t *testing.T) {
	h := NewShutdownHandler(&ShutdownConfig{})
	if h.timeout != 30*time.Second {
		t.Fatalf("expected default timeout, got %v", h.timeout)
	}
	if h.logger == nil {
		t.Fatal("expected default logger")
	}
}

func TestShutdownHandler_HookOrder(t *testing.T) {
	h := NewShutdownHandler(quietConfig())

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	h.RegisterHook("audit", PriorityAudit, record("audit"))
	h.RegisterHook("http", PriorityHTTP, record("http"))
	h.RegisterHook("store", PriorityStore, record("store"))
	h.RegisterHook("worker", PriorityWorker, record("worker"))
	h.RegisterHook("store-2", PriorityStore, record("store-2"))

	h.Start()
	h.Shutdown()
	if !h.WaitWithTimeout(2 * time.Second) {
		t.Fatal("shutdown did not complete")
	}

	got := strings.Join(order, ",")
	if got != "http,worker,store,store-2,audit" {
		t.Errorf("expected priority order, got %s", got)
	}
}

func TestShutdownHandler_HookErrorContinues(t *testing.T) {
	var logs strings.Builder
	h := NewShutdownHandler(&ShutdownConfig{Timeout: time.Second, Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	ran := false
	h.RegisterHook("store", PriorityStore, func(context.Context) error { return errors.New("close failed") })
	h.RegisterHook("audit", PriorityAudit, func(context.Context) error { ran = true; return nil })

	h.Start()
	h.Shutdown()
	h.Wait()

	if !ran {
		t.Error("expected later hook to run after a failing one")
	}
	if !strings.Contains(logs.String(), "close failed") {
		t.Errorf("expected hook error logged, got %q", logs.String())
	}
}

func TestShutdownHandler_HookGetsDeadline(t *testing.T) {
	h := NewShutdownHandler(quietConfig())
	var hasDeadline bool
	h.RegisterHook("http", PriorityHTTP, func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	h.Start()
	h.Shutdown()
	<-h.Done()
	if !hasDeadline {
		t.Error("expected hook context to carry the shutdown timeout")
	}
}

func TestShutdownHandler_WaitWithTimeout_Timeout(t *testing.T) {
	h := NewShutdownHandler(quietConfig())
	h.Start()
	if h.WaitWithTimeout(20 * time.Millisecond) {
		t.Error("expected timeout without a shutdown")
	}
}

func TestShutdownHandler_ShutdownBeforeStart(t *testing.T) {
	h := NewShutdownHandler(quietConfig())
	h.Shutdown()
	select {
	case <-h.Done():
		t.Error("shutdown before Start should be ignored")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestShutdownHandler_DoubleShutdown(t *testing.T) {
	h := NewShutdownHandler(quietConfig())
	h.Start()
	h.Start()
	h.Shutdown()
	h.Shutdown()
	if !h.WaitWithTimeout(time.Second) {
		t.Fatal("shutdown did not complete")
	}
}
