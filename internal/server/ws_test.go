package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/Hien110/ecare-signaling/internal/config"
	"github.com/Hien110/ecare-signaling/internal/hub"
	"github.com/Hien110/ecare-signaling/internal/models"
)

type wsFixture struct {
	handlers *Handlers
	srv      *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := InitDatabase(":memory:")
	if err != nil {
		t.Fatalf("init database: %v", err)
	}
	cfg := &config.ServerConfig{JWTSecret: "test-secret", RingTTL: 30 * time.Second}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := New(cfg, db, hub.New(), NewRegistry(cfg.RingTTL), nil, logger)

	srv := httptest.NewServer(h.Router(nil))
	t.Cleanup(srv.Close)
	return &wsFixture{handlers: h, srv: srv}
}

// registerUser creates an account directly and returns its id and token.
func (f *wsFixture) registerUser(t *testing.T, username, name string) (string, string) {
	t.Helper()
	user := User{Username: username, Name: name}
	if err := f.handlers.db.Create(&user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user.ID, f.handlers.generateToken(user.ID)
}

func (f *wsFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env := models.Envelope{Type: event, Data: models.MustMarshal(payload)}
	raw, _ := json.Marshal(env)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	var env models.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("bad envelope: %v", err)
	}
	return env
}

func TestCallRelay(t *testing.T) {
	f := newWSFixture(t)
	aliceID, aliceToken := f.registerUser(t, "alice", "Alice")
	bobID, bobToken := f.registerUser(t, "bob", "Bob")

	alice := f.dial(t, aliceToken)
	bob := f.dial(t, bobToken)

	sendEnvelope(t, alice, models.EventCallRequest, models.CallRequestPayload{
		CallID: "c1",
		Kind:   models.CallKindDirect,
		Callee: models.PeerSnapshot{ID: bobID},
	})

	env := readEnvelope(t, bob)
	if env.Type != models.EventCallRing {
		t.Fatalf("expected call_ring, got %s", env.Type)
	}
	var ring models.RingPayload
	if err := json.Unmarshal(env.Data, &ring); err != nil {
		t.Fatalf("bad ring: %v", err)
	}
	if ring.CallID != "c1" || ring.Caller.ID != aliceID || ring.Caller.Name != "Alice" {
		t.Fatalf("caller snapshot not resolved: %+v", ring)
	}

	sendEnvelope(t, bob, models.EventCallRinging, models.CallSignal{CallID: "c1"})
	if env := readEnvelope(t, alice); env.Type != models.EventCallRinging {
		t.Fatalf("ringing ack not relayed: %s", env.Type)
	}

	sendEnvelope(t, bob, models.EventCallAccepted, models.CallSignal{CallID: "c1"})
	if env := readEnvelope(t, alice); env.Type != models.EventCallAccepted {
		t.Fatalf("accept not relayed: %s", env.Type)
	}

	ringState, err := f.handlers.registry.GetRing("c1")
	if err != nil || ringState.Status != RingStatusActive {
		t.Fatalf("accepted call not active in registry: %+v, %v", ringState, err)
	}

	sendEnvelope(t, alice, models.EventCallEnded, models.CallSignal{CallID: "c1"})
	if env := readEnvelope(t, bob); env.Type != models.EventCallEnded {
		t.Fatalf("end not relayed: %s", env.Type)
	}
	waitForResolved(t, "ring", func() bool { return !f.handlers.registry.RingLive("c1") })
}

// waitForResolved polls briefly: the relay enqueues the final frame just
// before the registry update, so the reader can get ahead by a tick.
func waitForResolved(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s never resolved", what)
}

func TestCallStatusProbe(t *testing.T) {
	f := newWSFixture(t)
	_, aliceToken := f.registerUser(t, "alice", "Alice")
	alice := f.dial(t, aliceToken)

	sendEnvelope(t, alice, models.EventCallStatus, models.CallSignal{CallID: "nope"})

	env := readEnvelope(t, alice)
	if env.Type != models.EventCallStatus {
		t.Fatalf("expected call_status reply, got %s", env.Type)
	}
	var status models.CallStatusPayload
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("bad status: %v", err)
	}
	if status.CallID != "nope" || status.Live {
		t.Fatalf("dead call reported live: %+v", status)
	}
}

func TestAlertEscalation(t *testing.T) {
	f := newWSFixture(t)
	_, aliceToken := f.registerUser(t, "alice", "Grandma")
	bobID, bobToken := f.registerUser(t, "bob", "Bob")
	carolID, carolToken := f.registerUser(t, "carol", "Carol")

	alice := f.dial(t, aliceToken)
	bob := f.dial(t, bobToken)
	carol := f.dial(t, carolToken)

	sendEnvelope(t, alice, models.EventAlertRaised, AlertRaisePayload{
		AlertEvent: models.AlertEvent{Message: "help"},
		Recipients: []string{bobID, carolID},
	})

	env := readEnvelope(t, bob)
	if env.Type != models.EventAlertRaised {
		t.Fatalf("first recipient not notified: %s", env.Type)
	}
	var alert models.AlertEvent
	if err := json.Unmarshal(env.Data, &alert); err != nil {
		t.Fatalf("bad alert: %v", err)
	}
	if alert.ID == "" || alert.Requester.Name != "Grandma" || alert.Message != "help" {
		t.Fatalf("alert incomplete: %+v", alert)
	}

	// Bob declines; the alert escalates to Carol.
	sendEnvelope(t, bob, models.EventAlertDeclined, models.CallSignal{CallID: alert.ID})
	if env := readEnvelope(t, carol); env.Type != models.EventAlertRaised {
		t.Fatalf("escalation to second recipient failed: %s", env.Type)
	}

	// Carol declines too; the list is exhausted and the requester is told.
	sendEnvelope(t, carol, models.EventAlertDeclined, models.CallSignal{CallID: alert.ID})
	if env := readEnvelope(t, alice); env.Type != models.EventAlertResolved {
		t.Fatalf("requester not told about exhaustion: %s", env.Type)
	}
	if f.handlers.registry.AlertLive(alert.ID) {
		t.Fatalf("exhausted alert still live")
	}
}

func TestWebSocketRequiresToken(t *testing.T) {
	f := newWSFixture(t)

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("unauthenticated upgrade succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
	if resp.Body != nil {
		_ = resp.Body.Close()
	}
}
