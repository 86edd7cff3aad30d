// Package connection owns the single realtime socket of the device:
// dialing, reconnect backoff, an offline outbound queue and a typed
// publish/subscribe bus for inbound signaling events.
package connection

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Hien110/ecare-signaling/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 70 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Synthetic event names published on the bus alongside wire events.
const (
	EventConnected          = "connected"
	EventDisconnected       = "disconnected"
	EventReconnectExhausted = "reconnect_exhausted"
)

// ErrNotDelivered reports a send that could not reach the write pump,
// either because the buffer is full or the socket is closing.
var ErrNotDelivered = errors.New("send not delivered")

// Handler is a subscriber for one event type. Handlers run on the read
// loop, matching the single dispatch-queue execution model: no two
// handlers run in parallel.
type Handler = func(data json.RawMessage)

// Sink receives every inbound envelope before subscribers, so the
// lifecycle dispatcher can arbitrate and deduplicate cross-channel
// deliveries.
type Sink interface {
	HandleRealtime(env models.Envelope)
}

// TokenSource yields the credential presented at dial time.
type TokenSource interface {
	Token() (string, error)
}

// Manager maintains one authenticated realtime connection. All methods
// are safe to call redundantly from UI actions, timers and background
// handlers.
type Manager struct {
	url    string
	tokens TokenSource
	logger *slog.Logger

	baseDelay   time.Duration
	maxAttempts int

	// dialFn is swapped in tests.
	dialFn func(url string, header http.Header) (*websocket.Conn, error)

	mu         sync.Mutex
	conn       *websocket.Conn
	send       chan []byte
	gen        int // connection generation; stale pumps must not tear down a successor
	queue      [][]byte
	subs       map[string][]Handler
	sink       Sink
	explicit   bool // disconnect() was called; no auto-reconnect
	reconnects bool // a reconnect loop is already running
}

func NewManager(url string, tokens TokenSource, logger *slog.Logger, baseDelay time.Duration, maxAttempts int) *Manager {
	return &Manager{
		url:         url,
		tokens:      tokens,
		logger:      logger.With("component", "connection"),
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		dialFn: func(url string, header http.Header) (*websocket.Conn, error) {
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			return conn, err
		},
		subs: make(map[string][]Handler),
	}
}

// SetSink wires the lifecycle dispatcher. Must be called before Connect.
func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

// Connect dials the signaling server. A prior connection is torn down
// first so two sockets never overlap. On success the offline queue is
// flushed in FIFO order, then "connected" is published.
func (m *Manager) Connect() error {
	token, err := m.tokens.Token()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	m.mu.Lock()
	m.explicit = false
	m.teardownLocked()
	m.mu.Unlock()

	conn, err := m.dialFn(m.url, header)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.conn = conn
	m.send = make(chan []byte, sendBuffer)
	m.gen++
	gen := m.gen
	send := m.send
	pending := m.queue
	m.queue = nil
	m.mu.Unlock()

	go m.writePump(conn, send)
	go m.readPump(conn, gen)

	if len(pending) > 0 {
		go m.flush(send, pending)
	}

	m.logger.Info("connected", "queued", len(pending))
	m.publish(EventConnected, nil)
	return nil
}

// flush replays the offline queue, oldest first. It blocks on the pump
// channel so a slow socket delays delivery rather than dropping it; a
// teardown mid-flush puts the remainder back at the front of the queue.
func (m *Manager) flush(send chan []byte, pending [][]byte) {
	for i, payload := range pending {
		if !blockingSend(send, payload) {
			m.requeueFront(pending[i:])
			m.logger.Warn("socket lost mid-flush, re-queued remainder", "count", len(pending)-i)
			return
		}
	}
	m.logger.Info("offline queue flushed", "count", len(pending))
}

func (m *Manager) requeueFront(payloads [][]byte) {
	m.mu.Lock()
	m.queue = append(append([][]byte{}, payloads...), m.queue...)
	m.mu.Unlock()
}

// Disconnect closes the socket, clears the outbound queue and all
// subscriptions, and suppresses auto-reconnect. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.explicit = true
	m.queue = nil
	m.subs = make(map[string][]Handler)
	m.teardownLocked()
	m.mu.Unlock()

	m.logger.Info("disconnected")
}

// Connected reports whether a live socket exists.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Subscribe registers a handler for an event type. Multiple handlers
// per event are supported; events with no handler are not an error.
func (m *Manager) Subscribe(event string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[event] = append(m.subs[event], h)
}

// Send transmits an envelope, or queues it if the socket is down.
// Best-effort senders that would rather drop than queue pass
// bestEffort=true.
func (m *Manager) Send(event string, data any, bestEffort bool) error {
	env := models.Envelope{Type: event}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return err
		}
		env.Data = raw
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}

	m.mu.Lock()
	send := m.send
	connected := m.conn != nil
	if !connected {
		if !bestEffort {
			m.queue = append(m.queue, payload)
		}
		m.mu.Unlock()
		if bestEffort {
			m.logger.Debug("best-effort send dropped while disconnected", "type", event)
		}
		return nil
	}
	m.mu.Unlock()

	if !trySend(send, payload) {
		if bestEffort {
			m.logger.Warn("best-effort send dropped, buffer full or socket closing", "type", event)
			return ErrNotDelivered
		}
		// A teardown raced the send, or the socket is too slow. The
		// payload goes to the queue instead of being lost.
		m.mu.Lock()
		m.queue = append(m.queue, payload)
		m.mu.Unlock()
		m.logger.Warn("send deferred to offline queue", "type", event)
	}
	return nil
}

// trySend writes to the pump channel without blocking. The channel may
// be closed by a concurrent teardown; recover turns that into a miss.
func trySend(send chan []byte, payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case send <- payload:
		return true
	default:
		return false
	}
}

// blockingSend waits for buffer space. A close during the wait panics
// the sender; recover turns that into a miss.
func blockingSend(send chan []byte, payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	send <- payload
	return true
}

func (m *Manager) readPump(conn *websocket.Conn, gen int) {
	defer func() {
		dropped := m.dropConn(gen)
		_ = conn.Close()
		if !dropped {
			return
		}
		m.publish(EventDisconnected, nil)
		m.maybeReconnect()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.logger.Debug("read error", "error", err)
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			m.logger.Debug("bad frame", "error", err)
			continue
		}

		m.mu.Lock()
		sink := m.sink
		handlers := append([]Handler(nil), m.subs[env.Type]...)
		m.mu.Unlock()

		if sink != nil {
			sink.HandleRealtime(env)
		}
		for _, h := range handlers {
			h(env.Data)
		}
	}
}

func (m *Manager) writePump(conn *websocket.Conn, send chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dropConn clears the current connection if it still belongs to the
// given generation. Returns false when a newer connection has already
// replaced it, in which case the caller must not reconnect.
func (m *Manager) dropConn(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.conn == nil {
		return false
	}
	m.conn = nil
	if m.send != nil {
		close(m.send)
		m.send = nil
	}
	return true
}

// maybeReconnect starts the backoff loop after a transport-level drop.
// Explicit disconnects never reconnect.
func (m *Manager) maybeReconnect() {
	m.mu.Lock()
	if m.explicit || m.reconnects {
		m.mu.Unlock()
		return
	}
	m.reconnects = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			m.reconnects = false
			m.mu.Unlock()
		}()

		for attempt := 1; attempt <= m.maxAttempts; attempt++ {
			time.Sleep(time.Duration(attempt) * m.baseDelay)

			m.mu.Lock()
			stop := m.explicit
			m.mu.Unlock()
			if stop {
				return
			}

			if err := m.Connect(); err != nil {
				m.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
				continue
			}
			m.logger.Info("reconnected", "attempt", attempt)
			return
		}

		m.logger.Error("reconnect attempts exhausted", "attempts", m.maxAttempts)
		m.publish(EventReconnectExhausted, nil)
	}()
}

func (m *Manager) publish(event string, data json.RawMessage) {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.subs[event]...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

func (m *Manager) teardownLocked() {
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.send != nil {
		close(m.send)
		m.send = nil
	}
	m.gen++
}
