package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/core"
	"github.com/vovakirdan/wirechat-sync/internal/docstore/memory"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/retry"
)

type testEnv struct {
	t       *testing.T
	ts      *httptest.Server
	store   *memory.Store
	auth    *auth.Service
	jwt     *auth.JWTConfig
	manager *core.Manager
	ctx     context.Context
}

// startTestServer runs a manager over an in-memory store behind a test HTTP server.
func startTestServer(t *testing.T, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.HTTP.RateLimitRPS = 0
	for _, fn := range mutate {
		fn(&cfg)
	}

	st := memory.New()
	jwtCfg := &auth.JWTConfig{Secret: []byte("test-secret"), Issuer: "test", TTL: time.Hour}
	authService := auth.NewService(st, jwtCfg)

	manager, err := core.NewManager(st, authService, core.Options{
		AppID:         "app1",
		AppName:       "wirechat",
		Stage:         "TEST",
		PinnedChannel: "Main",
		Debounce:      20 * time.Millisecond,
		Retry:         retry.NoRetry(),
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	go manager.Run(ctx)

	disabledLogger := zerolog.Nop()
	server := NewServer(manager, authService, metrics.New(), &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)

	t.Cleanup(func() {
		ts.Close()
		_ = manager.Teardown(context.Background())
		cancel()
		_ = st.Close()
	})

	return &testEnv{t: t, ts: ts, store: st, auth: authService, jwt: jwtCfg, manager: manager, ctx: ctx}
}

// do sends a JSON request and decodes the JSON response into out when non-nil.
func (e *testEnv) do(method, path, token string, body any, out any) int {
	e.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			e.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := stdhttp.NewRequestWithContext(e.ctx, method, e.ts.URL+path, &buf)
	if err != nil {
		e.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.ts.Client().Do(req)
	if err != nil {
		e.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			e.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// login starts an anonymous session for participantID and returns the token.
func (e *testEnv) login(participantID string) string {
	e.t.Helper()
	var resp SessionResponse
	if code := e.do(stdhttp.MethodPost, "/api/session/anonymous", "", AnonymousRequest{ParticipantID: participantID}, &resp); code != stdhttp.StatusOK {
		e.t.Fatalf("anonymous session: status %d", code)
	}
	if resp.Token == "" {
		e.t.Fatal("expected a token")
	}
	return resp.Token
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}
