package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Hien110/ecare-signaling/internal/models"
)

// Subscriber registers handlers on the realtime bus. Satisfied by the
// connection manager.
type Subscriber interface {
	Subscribe(event string, h func(data json.RawMessage))
}

// SocketProbe answers liveness questions by round-tripping a status
// query over the signaling socket. When the answer does not arrive in
// time the target is assumed live: a dead call then fails fast on the
// immediate rejection from the signaling layer instead of being
// silently swallowed here.
type SocketProbe struct {
	logger  *slog.Logger
	emitter Emitter
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan bool
}

func NewSocketProbe(emitter Emitter, sub Subscriber, timeout time.Duration, logger *slog.Logger) *SocketProbe {
	p := &SocketProbe{
		logger:  logger.With("component", "probe"),
		emitter: emitter,
		timeout: timeout,
		pending: make(map[string]chan bool),
	}
	sub.Subscribe(models.EventCallStatus, p.onCallStatus)
	sub.Subscribe(models.EventAlertStatus, p.onAlertStatus)
	return p
}

func (p *SocketProbe) CallLive(callID string) bool {
	return p.ask("call:"+callID, models.EventCallStatus, models.CallSignal{CallID: callID})
}

func (p *SocketProbe) AlertLive(alertID string) bool {
	return p.ask("alert:"+alertID, models.EventAlertStatus, models.AlertStatusPayload{AlertID: alertID})
}

func (p *SocketProbe) ask(key, event string, payload any) bool {
	ch := make(chan bool, 1)

	p.mu.Lock()
	p.pending[key] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, key)
		p.mu.Unlock()
	}()

	if err := p.emitter.Send(event, payload, true); err != nil {
		p.logger.Debug("status probe not sent, assuming live", "key", key, "error", err)
		return true
	}

	select {
	case live := <-ch:
		return live
	case <-time.After(p.timeout):
		p.logger.Debug("status probe timed out, assuming live", "key", key)
		return true
	}
}

func (p *SocketProbe) onCallStatus(data json.RawMessage) {
	var status models.CallStatusPayload
	if err := json.Unmarshal(data, &status); err != nil {
		return
	}
	p.answer("call:"+status.CallID, status.Live)
}

func (p *SocketProbe) onAlertStatus(data json.RawMessage) {
	var status models.AlertStatusPayload
	if err := json.Unmarshal(data, &status); err != nil {
		return
	}
	p.answer("alert:"+status.AlertID, status.Live)
}

func (p *SocketProbe) answer(key string, live bool) {
	p.mu.Lock()
	ch := p.pending[key]
	p.mu.Unlock()
	if ch != nil {
		select {
		case ch <- live:
		default:
		}
	}
}
