package connection

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hien110/ecare-signaling/internal/models"
)

type staticTokens struct {
	token string
	err   error
}

func (s *staticTokens) Token() (string, error) { return s.token, s.err }

type testServer struct {
	srv      *httptest.Server
	received chan []byte
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{
		received: make(chan []byte, 16),
		conns:    make(chan *websocket.Conn, 4),
	}
	upgrader := websocket.Upgrader{}
	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ts.conns <- conn
		go func() {
			for {
				_, payload, err := conn.ReadMessage()
				if err != nil {
					return
				}
				ts.received <- payload
			}
		}()
	}))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) next(t *testing.T) models.Envelope {
	t.Helper()
	select {
	case payload := <-ts.received:
		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("bad frame from client: %v", err)
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame from client")
		return models.Envelope{}
	}
}

func newTestManager(ts *testServer) *Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(ts.url(), &staticTokens{token: "tok"}, logger, time.Millisecond, 2)
}

func TestConnectTokenErrorPropagates(t *testing.T) {
	ts := newTestServer(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokenErr := errors.New("no session")
	m := NewManager(ts.url(), &staticTokens{err: tokenErr}, logger, time.Millisecond, 1)

	if err := m.Connect(); !errors.Is(err, tokenErr) {
		t.Fatalf("expected token error, got %v", err)
	}
	if m.Connected() {
		t.Fatalf("connected without a credential")
	}
}

func TestOfflineQueueFlushedFIFO(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Disconnect()

	if err := m.Send("call_ringing", models.CallSignal{CallID: "c1"}, false); err != nil {
		t.Fatalf("queued send: %v", err)
	}
	if err := m.Send("call_accepted", models.CallSignal{CallID: "c1"}, false); err != nil {
		t.Fatalf("queued send: %v", err)
	}
	// Best-effort sends never queue.
	if err := m.Send("call_status", nil, true); err != nil {
		t.Fatalf("best-effort send: %v", err)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if env := ts.next(t); env.Type != "call_ringing" {
		t.Fatalf("expected call_ringing first, got %s", env.Type)
	}
	if env := ts.next(t); env.Type != "call_accepted" {
		t.Fatalf("expected call_accepted second, got %s", env.Type)
	}

	select {
	case payload := <-ts.received:
		t.Fatalf("best-effort message was queued: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestQueueLargerThanSendBufferFullyDelivered(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Disconnect()

	// Far more than the pump buffer holds; the flush must wait for
	// space instead of dropping the overflow.
	const total = sendBuffer * 2
	for i := 0; i < total; i++ {
		if err := m.Send(fmt.Sprintf("evt_%03d", i), nil, false); err != nil {
			t.Fatalf("queued send %d: %v", i, err)
		}
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	for i := 0; i < total; i++ {
		env := ts.next(t)
		if want := fmt.Sprintf("evt_%03d", i); env.Type != want {
			t.Fatalf("message %d: got %s want %s", i, env.Type, want)
		}
	}
}

func TestSendRequeuedWhenPumpUnavailable(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)

	// Simulate the moment a teardown races a send: the connection still
	// looks live but the pump channel accepts nothing.
	m.mu.Lock()
	m.conn = &websocket.Conn{}
	m.send = make(chan []byte)
	m.mu.Unlock()

	if err := m.Send("call_rejected", models.CallSignal{CallID: "c1"}, false); err != nil {
		t.Fatalf("non-best-effort send errored instead of queueing: %v", err)
	}
	if err := m.Send("call_status", nil, true); !errors.Is(err, ErrNotDelivered) {
		t.Fatalf("best-effort send should report the miss, got %v", err)
	}

	m.mu.Lock()
	queued := len(m.queue)
	m.mu.Unlock()
	if queued != 1 {
		t.Fatalf("expected the reject alone in the queue, got %d entries", queued)
	}
}

type recordingSink struct {
	mu   sync.Mutex
	envs []models.Envelope
}

func (s *recordingSink) HandleRealtime(env models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
}

func TestInboundDispatch(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Disconnect()

	sink := &recordingSink{}
	m.SetSink(sink)

	got := make(chan json.RawMessage, 1)
	m.Subscribe("call_ring", func(data json.RawMessage) { got <- data })

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	serverConn := <-ts.conns

	env := models.Envelope{Type: "call_ring", Data: json.RawMessage(`{"call_id":"c1"}`)}
	payload, _ := json.Marshal(env)
	if err := serverConn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("server write: %v", err)
	}

	select {
	case data := <-got:
		var sig models.CallSignal
		if err := json.Unmarshal(data, &sig); err != nil || sig.CallID != "c1" {
			t.Fatalf("handler payload wrong: %s, %v", data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("subscriber never ran")
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.envs) != 1 || sink.envs[0].Type != "call_ring" {
		t.Fatalf("sink did not see the envelope: %+v", sink.envs)
	}
}

func TestDisconnectClearsQueueAndIsIdempotent(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)

	if err := m.Send("call_ringing", models.CallSignal{CallID: "c1"}, false); err != nil {
		t.Fatalf("queued send: %v", err)
	}
	m.Disconnect()
	m.Disconnect()

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Disconnect()

	select {
	case payload := <-ts.received:
		t.Fatalf("queue survived disconnect: %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestReconnectExhaustedPublished(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)
	defer m.Disconnect()

	exhausted := make(chan struct{}, 1)
	m.Subscribe(EventReconnectExhausted, func(json.RawMessage) {
		exhausted <- struct{}{}
	})

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	serverConn := <-ts.conns

	// Every further dial fails, so the backoff loop must give up after
	// maxAttempts and publish the synthetic event.
	m.mu.Lock()
	m.dialFn = func(string, http.Header) (*websocket.Conn, error) {
		return nil, errors.New("server gone")
	}
	m.mu.Unlock()

	_ = serverConn.Close()

	select {
	case <-exhausted:
	case <-time.After(3 * time.Second):
		t.Fatalf("reconnect_exhausted never published")
	}
}

func TestExplicitDisconnectSuppressesReconnect(t *testing.T) {
	ts := newTestServer(t)
	m := newTestManager(ts)

	if err := m.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	<-ts.conns
	m.Disconnect()

	time.Sleep(50 * time.Millisecond)

	select {
	case <-ts.conns:
		t.Fatalf("reconnected after explicit disconnect")
	default:
	}
	if m.Connected() {
		t.Fatalf("still connected after disconnect")
	}
}
