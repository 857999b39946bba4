package app

import (
	"context"
	"net"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = freeAddr(t)
	cfg.ShutdownTimeout = 2 * time.Second
	cfg.Sync.Debounce = 20 * time.Millisecond
	return cfg
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()
	return addr
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)
	cfg.Store.Backend = "redis"

	if _, err := New(context.Background(), &cfg, &logger); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewRejectsBadTimezone(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)
	cfg.Window.Enabled = true
	cfg.Window.Timezone = "Not/AZone"

	if _, err := New(context.Background(), &cfg, &logger); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}

func TestBuildWindowDisabledIsNil(t *testing.T) {
	w, err := buildWindow(config.WindowConfig{})
	if err != nil {
		t.Fatalf("build window: %v", err)
	}
	if w != nil {
		t.Fatal("disabled window must be a nil interface")
	}

	w, err = buildWindow(config.WindowConfig{Enabled: true, Timezone: "UTC", DayStart: 3 * time.Hour})
	if err != nil || w == nil {
		t.Fatalf("expected window, got %v %v", w, err)
	}
}

func TestSQLiteBackendHandler(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)
	cfg.Store.Backend = config.BackendSQLite
	cfg.Store.SQLitePath = ":memory:"

	a, err := New(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.manager.Run(ctx)
	defer a.cleanup()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/health", nil))
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)

	a, err := New(context.Background(), &cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, err := stdhttp.Get("http://" + cfg.Addr + "/health")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
