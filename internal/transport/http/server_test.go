package http

import (
	"io"
	stdhttp "net/http"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/wirechat-sync/internal/auth"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/docstore"
	"github.com/vovakirdan/wirechat-sync/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t)

	var body map[string]string
	if code := env.do(stdhttp.MethodGet, "/health", "", nil, &body); code != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", code)
	}
	if body["status"] != "ok" || body["state"] != "idle" {
		t.Fatalf("unexpected health body: %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("expected runtime metrics in output")
	}
}

func TestChannelsRequireToken(t *testing.T) {
	env := startTestServer(t)

	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodGet, "/api/channels", "", nil, &errResp); code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := env.do(stdhttp.MethodGet, "/api/channels", "garbage", nil, &errResp); code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", code)
	}
	if errResp.Code != "unauthorized" {
		t.Fatalf("unexpected error code %q", errResp.Code)
	}
}

func TestChannelsBeforeSessionNotReady(t *testing.T) {
	env := startTestServer(t)

	token, err := auth.GenerateToken(env.jwt, "someone", "", true, time.Now())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodGet, "/api/channels", token, nil, &errResp); code != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if errResp.Code != "not_ready" {
		t.Fatalf("unexpected error code %q", errResp.Code)
	}
}

func TestAnonymousSessionLoadsChannels(t *testing.T) {
	env := startTestServer(t)

	var bad ErrorResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/anonymous", "", map[string]string{}, &bad); code != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 without participant, got %d", code)
	}

	token := env.login("alice")

	var chans []proto.Channel
	if code := env.do(stdhttp.MethodGet, "/api/channels", token, nil, &chans); code != stdhttp.StatusOK {
		t.Fatalf("list channels: status %d", code)
	}
	if len(chans) != 2 || chans[0].ID != "Main" || chans[1].ID != "alice" {
		t.Fatalf("expected [Main alice], got %+v", chans)
	}
	if !chans[0].Open || chans[1].Open {
		t.Fatalf("unexpected open flags: %+v", chans)
	}
}

func TestSignUpSession(t *testing.T) {
	env := startTestServer(t)

	req := SignUpRequest{Email: "Alice@Example.com", Password: "secret1", ParticipantID: "alice"}
	var resp SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signup", "", req, &resp); code != stdhttp.StatusOK {
		t.Fatalf("sign up: status %d", code)
	}
	if resp.Anonymous || resp.Token == "" || resp.App == nil || resp.App.ParticipantID != "alice" {
		t.Fatalf("unexpected session %+v", resp)
	}

	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signup", "", req, &errResp); code != stdhttp.StatusConflict {
		t.Fatalf("expected 409 for duplicate sign up, got %d", code)
	}

	wrong := SignInRequest{Email: "alice@example.com", Password: "nope123", ParticipantID: "alice"}
	if code := env.do(stdhttp.MethodPost, "/api/session/signin", "", wrong, &errResp); code != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", code)
	}
}

func TestMessagesFlow(t *testing.T) {
	env := startTestServer(t)
	token := env.login("alice")

	var ch proto.Channel
	create := CreateChannelRequest{ID: "team", Name: "Team", UserIDs: []string{"alice", "bob"}}
	if code := env.do(stdhttp.MethodPost, "/api/channels", token, create, &ch); code != stdhttp.StatusCreated {
		t.Fatalf("create channel: status %d", code)
	}
	if ch.ID != "team" || ch.Open {
		t.Fatalf("unexpected channel %+v", ch)
	}

	var ack proto.Ack
	if code := env.do(stdhttp.MethodPost, "/api/channels/team/messages", token, SendMessageRequest{Text: "hello"}, &ack); code != stdhttp.StatusCreated {
		t.Fatalf("send message: status %d", code)
	}
	if ack.ID == "" {
		t.Fatal("expected message id")
	}

	// A message from bob arrives through the store.
	bobPath := docstore.Join("wirechat-TEST/app1/channels/team/messages", "bob1")
	err := env.store.Set(env.ctx, bobPath, map[string]any{
		"created":    time.Now().Add(time.Second),
		"senderID":   "bob",
		"senderName": "Bob",
		"readBy":     map[string]time.Time{},
		"kind":       "text",
		"content":    "hey alice",
	})
	if err != nil {
		t.Fatalf("seed bob message: %v", err)
	}

	var msgs []proto.Message
	eventually(t, func() bool {
		msgs = nil
		env.do(stdhttp.MethodGet, "/api/channels/team/messages", token, nil, &msgs)
		return len(msgs) == 2
	}, "both messages cached")

	if msgs[0].ID != ack.ID || !msgs[0].FromMe || msgs[0].Text != "hello" {
		t.Fatalf("unexpected own message %+v", msgs[0])
	}
	if msgs[1].SenderID != "bob" || msgs[1].FromMe || msgs[1].ReadByMe {
		t.Fatalf("unexpected bob message %+v", msgs[1])
	}

	var readAck proto.Ack
	if code := env.do(stdhttp.MethodPost, "/api/channels/team/read", token, nil, &readAck); code != stdhttp.StatusOK {
		t.Fatalf("mark read: status %d", code)
	}
	if readAck.Count != 1 {
		t.Fatalf("expected one receipt, got %d", readAck.Count)
	}

	doc, err := env.store.Get(env.ctx, bobPath)
	if err != nil {
		t.Fatal(err)
	}
	if readBy, ok := doc.Data["readBy"].(map[string]time.Time); !ok || readBy["alice"].IsZero() {
		t.Fatalf("receipt not persisted: %v", doc.Data["readBy"])
	}
}

func TestSendMessageErrors(t *testing.T) {
	env := startTestServer(t)
	token := env.login("alice")

	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodPost, "/api/channels/nope/messages", token, SendMessageRequest{Text: "x"}, &errResp); code != stdhttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if errResp.Code != "channel_not_found" {
		t.Fatalf("unexpected code %q", errResp.Code)
	}

	both := SendMessageRequest{Text: "x", URL: "https://example.com"}
	if code := env.do(stdhttp.MethodPost, "/api/channels/Main/messages", token, both, &errResp); code != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for two payloads, got %d", code)
	}

	req := SendMessageRequest{Request: &proto.Request{Kind: "bogus", Name: "x"}}
	if code := env.do(stdhttp.MethodPost, "/api/channels/Main/messages", token, req, &errResp); code != stdhttp.StatusBadRequest {
		t.Fatalf("expected 400 for unknown request kind, got %d", code)
	}

	if code := env.do(stdhttp.MethodGet, "/api/channels/nope/messages", token, nil, &errResp); code != stdhttp.StatusNotFound {
		t.Fatalf("expected 404 listing unknown channel, got %d", code)
	}
}

func TestRateLimit(t *testing.T) {
	env := startTestServer(t, func(cfg *config.Config) {
		cfg.HTTP.RateLimitRPS = 0.001
		cfg.HTTP.RateLimitBurst = 1
	})

	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/anonymous", "", map[string]string{}, &errResp); code != stdhttp.StatusBadRequest {
		t.Fatalf("first request should pass the limiter, got %d", code)
	}
	if code := env.do(stdhttp.MethodPost, "/api/session/anonymous", "", map[string]string{}, &errResp); code != stdhttp.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := env.do(stdhttp.MethodGet, "/health", "", nil, nil); code != stdhttp.StatusOK {
		t.Fatalf("health is not rate limited, got %d", code)
	}
}

func TestSessionTokensStayWithTheirOwner(t *testing.T) {
	env := startTestServer(t)

	signup := SignUpRequest{Email: "alice@example.com", Password: "secret1", ParticipantID: "alice"}
	var alice SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signup", "", signup, &alice); code != stdhttp.StatusOK {
		t.Fatalf("sign up: status %d", code)
	}

	// An unauthenticated caller cannot switch the participant nor obtain alice's token.
	var errResp ErrorResponse
	code := env.do(stdhttp.MethodPost, "/api/session/anonymous", "", AnonymousRequest{ParticipantID: "eve"}, &errResp)
	if code != stdhttp.StatusConflict || errResp.Code != "participant_active" {
		t.Fatalf("expected 409 participant_active, got %d %+v", code, errResp)
	}
	errResp = ErrorResponse{}
	code = env.do(stdhttp.MethodPost, "/api/session/anonymous", "", AnonymousRequest{ParticipantID: "alice"}, &errResp)
	if code != stdhttp.StatusForbidden || errResp.Code != "forbidden" {
		t.Fatalf("expected 403 forbidden, got %d %+v", code, errResp)
	}

	var ack proto.Ack
	if code := env.do(stdhttp.MethodPost, "/api/channels/alice/messages", alice.Token, SendMessageRequest{Text: "still me"}, &ack); code != stdhttp.StatusCreated {
		t.Fatalf("send message: status %d", code)
	}
	doc, err := env.store.Get(env.ctx, docstore.Join("wirechat-TEST/app1/channels/alice/messages", ack.ID))
	if err != nil {
		t.Fatalf("get message: %v", err)
	}
	if doc.Data["senderID"] != "alice" {
		t.Fatalf("message attributed to %v", doc.Data["senderID"])
	}
}

func TestTokenMustMatchActiveParticipant(t *testing.T) {
	env := startTestServer(t)
	env.login("alice")

	eve, err := auth.GenerateParticipantToken(env.jwt, "eve-user", "", true, "eve", time.Now())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	unbound, err := auth.GenerateToken(env.jwt, "someone", "", true, time.Now())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	for _, token := range []string{eve, unbound} {
		var errResp ErrorResponse
		if code := env.do(stdhttp.MethodGet, "/api/channels", token, nil, &errResp); code != stdhttp.StatusForbidden {
			t.Fatalf("list channels: expected 403, got %d", code)
		}
		if errResp.Code != "forbidden" {
			t.Fatalf("unexpected code %q", errResp.Code)
		}
		if code := env.do(stdhttp.MethodPost, "/api/channels/Main/messages", token, SendMessageRequest{Text: "x"}, &errResp); code != stdhttp.StatusForbidden {
			t.Fatalf("send message: expected 403, got %d", code)
		}
		if code := env.do(stdhttp.MethodPost, "/api/channels/Main/read", token, nil, &errResp); code != stdhttp.StatusForbidden {
			t.Fatalf("mark read: expected 403, got %d", code)
		}
		if code := env.do(stdhttp.MethodGet, "/api/channels/Main/messages", token, nil, &errResp); code != stdhttp.StatusForbidden {
			t.Fatalf("list messages: expected 403, got %d", code)
		}
		create := CreateChannelRequest{ID: "side", UserIDs: []string{"eve"}}
		if code := env.do(stdhttp.MethodPost, "/api/channels", token, create, &errResp); code != stdhttp.StatusForbidden {
			t.Fatalf("create channel: expected 403, got %d", code)
		}
	}
	if _, err := env.store.Get(env.ctx, "wirechat-TEST/app1/channels/side"); err == nil {
		t.Fatal("forbidden create must not persist a channel")
	}
}

func TestSignOutReleasesParticipant(t *testing.T) {
	env := startTestServer(t)

	signup := SignUpRequest{Email: "alice@example.com", Password: "secret1", ParticipantID: "alice"}
	var alice SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signup", "", signup, &alice); code != stdhttp.StatusOK {
		t.Fatalf("sign up: status %d", code)
	}

	foreign, err := auth.GenerateParticipantToken(env.jwt, "eve-user", "", true, "eve", time.Now())
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signout", foreign, nil, &errResp); code != stdhttp.StatusForbidden {
		t.Fatalf("foreign sign out: expected 403, got %d", code)
	}
	if code := env.do(stdhttp.MethodPost, "/api/session/signout", alice.Token, nil, nil); code != stdhttp.StatusNoContent {
		t.Fatalf("sign out: status %d", code)
	}
	if code := env.do(stdhttp.MethodGet, "/api/channels", alice.Token, nil, &errResp); code != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected 503 after sign out, got %d", code)
	}

	var eve SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/anonymous", "", AnonymousRequest{ParticipantID: "eve"}, &eve); code != stdhttp.StatusOK {
		t.Fatalf("anonymous session: status %d", code)
	}
	if eve.Token == alice.Token || eve.UserID == alice.UserID || !eve.Anonymous {
		t.Fatalf("anonymous session reused alice's identity: %+v", eve)
	}
	if code := env.do(stdhttp.MethodGet, "/api/channels", alice.Token, nil, &errResp); code != stdhttp.StatusForbidden {
		t.Fatalf("alice's token must not act for eve, got %d", code)
	}

	// Alice takes her participant back with her own credentials once eve is gone.
	var eveOut ErrorResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signout", eve.Token, nil, &eveOut); code != stdhttp.StatusNoContent {
		t.Fatalf("eve sign out: status %d", code)
	}
	signin := SignInRequest{Email: "alice@example.com", Password: "secret1", ParticipantID: "alice"}
	var again SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signin", "", signin, &again); code != stdhttp.StatusOK {
		t.Fatalf("sign in: status %d", code)
	}
	if again.UserID != alice.UserID || again.App == nil || again.App.ParticipantID != "alice" {
		t.Fatalf("unexpected session %+v", again)
	}
}

func TestOwnerSwitchesParticipant(t *testing.T) {
	env := startTestServer(t)

	signup := SignUpRequest{Email: "alice@example.com", Password: "secret1", ParticipantID: "alice"}
	var first SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signup", "", signup, &first); code != stdhttp.StatusOK {
		t.Fatalf("sign up: status %d", code)
	}

	signin := SignInRequest{Email: "alice@example.com", Password: "secret1", ParticipantID: "alice-work"}
	var second SessionResponse
	if code := env.do(stdhttp.MethodPost, "/api/session/signin", "", signin, &second); code != stdhttp.StatusOK {
		t.Fatalf("sign in: status %d", code)
	}
	if second.App == nil || second.App.ParticipantID != "alice-work" {
		t.Fatalf("unexpected session %+v", second)
	}

	var errResp ErrorResponse
	if code := env.do(stdhttp.MethodGet, "/api/channels", first.Token, nil, &errResp); code != stdhttp.StatusForbidden {
		t.Fatalf("stale token: expected 403, got %d", code)
	}
	if code := env.do(stdhttp.MethodGet, "/api/channels", second.Token, nil, nil); code != stdhttp.StatusOK {
		t.Fatalf("current token: status %d", code)
	}
}
