// Package dispatch arbitrates every inbound signal between the in-app
// call state machine (foreground) and the notification presenter
// (background or killed), and replays deferred notification actions
// when the app becomes active again.
package dispatch

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/Hien110/ecare-signaling/internal/call"
	"github.com/Hien110/ecare-signaling/internal/dedup"
	"github.com/Hien110/ecare-signaling/internal/ledger"
	"github.com/Hien110/ecare-signaling/internal/models"
	"github.com/Hien110/ecare-signaling/internal/notify"
	"github.com/Hien110/ecare-signaling/internal/push"
)

// Mode is the coarse execution context of the host app.
type Mode string

const (
	ModeForeground Mode = "foreground"
	ModeBackground Mode = "background"
	ModeRelaunched Mode = "killed_then_relaunched"
)

// Navigation screens requested after a replayed action.
const (
	ScreenCall        = "call"
	ScreenAlertDetail = "alert_detail"
)

// Navigator is the host navigation surface. It may be unavailable at
// headless-handler time; the dispatcher polls Ready rather than
// assuming it.
type Navigator interface {
	Ready() bool
	NavigateTo(screen string, params map[string]string)
}

// LivenessProbe asks the signaling layer whether a call or alert is
// still live before a deferred accept opens a dead call screen.
type LivenessProbe interface {
	CallLive(callID string) bool
	AlertLive(alertID string) bool
}

// Emitter sends signaling events; satisfied by the connection manager.
type Emitter interface {
	Send(event string, data any, bestEffort bool) error
}

// AlertListener receives alert events for the foreground UI.
type AlertListener func(alert models.AlertEvent)

// NoticeFunc surfaces a soft, dismissible message (stale resume etc).
type NoticeFunc func(message string)

// Dispatcher is the single funnel for realtime and push deliveries.
type Dispatcher struct {
	logger     *slog.Logger
	machine    *call.Machine
	presenter  *notify.Presenter
	suppressor *dedup.Suppressor
	ledger     *ledger.Ledger
	emitter    Emitter
	nav        Navigator
	probe      LivenessProbe

	pollInterval time.Duration
	maxAttempts  int

	mu       sync.Mutex
	mode     Mode
	onAlert  AlertListener
	onNotice NoticeFunc
	draining bool
}

func NewDispatcher(
	machine *call.Machine,
	presenter *notify.Presenter,
	suppressor *dedup.Suppressor,
	actionLedger *ledger.Ledger,
	emitter Emitter,
	nav Navigator,
	probe LivenessProbe,
	pollInterval time.Duration,
	maxAttempts int,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		logger:       logger.With("component", "dispatch"),
		machine:      machine,
		presenter:    presenter,
		suppressor:   suppressor,
		ledger:       actionLedger,
		emitter:      emitter,
		nav:          nav,
		probe:        probe,
		pollInterval: pollInterval,
		maxAttempts:  maxAttempts,
		mode:         ModeRelaunched,
	}
}

// SetAlertListener wires the foreground UI's alert callback.
func (d *Dispatcher) SetAlertListener(l AlertListener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onAlert = l
}

// SetNoticeFunc wires the soft-notice surface.
func (d *Dispatcher) SetNoticeFunc(f NoticeFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onNotice = f
}

// Mode returns the current execution mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// SetBackground records that the app left the foreground.
func (d *Dispatcher) SetBackground() {
	d.mu.Lock()
	d.mode = ModeBackground
	d.mu.Unlock()
	d.logger.Info("app backgrounded")
}

// SetForeground records the transition to foreground (app opened,
// switched back, or cold-launched from a notification tap) and drains
// the pending-action ledger in insertion order.
func (d *Dispatcher) SetForeground() {
	d.mu.Lock()
	d.mode = ModeForeground
	already := d.draining
	if !already {
		d.draining = true
	}
	d.mu.Unlock()

	d.logger.Info("app foregrounded")
	if already {
		return
	}
	go func() {
		defer func() {
			d.mu.Lock()
			d.draining = false
			d.mu.Unlock()
		}()
		d.drainPending()
	}()
}

// HandleRealtime receives every inbound socket envelope (connection
// manager sink). A failure handling one event never prevents the next.
func (d *Dispatcher) HandleRealtime(env models.Envelope) {
	switch env.Type {
	case models.EventCallRing:
		var ring models.RingPayload
		if err := json.Unmarshal(env.Data, &ring); err != nil {
			d.logger.Warn("bad ring payload", "error", err)
			return
		}
		d.presentRing(ring)

	case models.EventCallRinging:
		d.machine.PeerRinging(d.callID(env.Data))

	case models.EventCallAccepted:
		d.machine.PeerAccepted(d.callID(env.Data))

	case models.EventCallRejected:
		d.machine.PeerRejected(d.callID(env.Data))

	case models.EventCallCancelled:
		id := d.callID(env.Data)
		// Remember the resolution so a late ring via the push channel
		// cannot resurrect a cancelled call, and drop any stale alert.
		d.suppressor.MarkHandled("call:" + id)
		d.machine.PeerCancelled(id)
		d.presenter.DismissCall(id)

	case models.EventCallEnded:
		id := d.callID(env.Data)
		d.machine.PeerEnded(id)
		d.presenter.DismissCall(id)

	case models.EventAlertRaised:
		var alert models.AlertEvent
		if err := json.Unmarshal(env.Data, &alert); err != nil {
			d.logger.Warn("bad alert payload", "error", err)
			return
		}
		d.presentAlert(alert)

	case models.EventAlertResolved:
		var alert models.AlertEvent
		if err := json.Unmarshal(env.Data, &alert); err != nil {
			return
		}
		d.suppressor.MarkHandled("alert:" + alert.ID)
		d.presenter.DismissAlert(alert.ID)
		d.notifyAlert(alert)

	case models.EventWellnessCheck:
		var w models.WellnessPayload
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return
		}
		d.presentWellness(w)

	default:
		// Not every event concerns the dispatcher.
	}
}

// HandlePush receives raw push deliveries from the host bridge. The
// channel may re-deliver payloads and may race the socket in either
// direction; the suppressor decides the winner.
func (d *Dispatcher) HandlePush(raw []byte) {
	p, err := push.Decode(raw)
	if err != nil {
		d.logger.Warn("undecodable push payload dropped", "error", err)
		return
	}

	switch p.Type {
	case push.TypeDirectCall:
		d.presentRing(models.RingPayload{
			CallID:         p.CallID,
			ConversationID: p.ConversationID,
			Kind:           models.CallKindDirect,
			Caller:         p.Peer,
		})

	case push.TypeEmergencyCall:
		if p.AlertID != "" {
			d.presentAlert(models.AlertEvent{
				ID:          p.AlertID,
				RequesterID: p.Peer.ID,
				Requester:   p.Peer,
				Location:    p.Location,
				Message:     p.Message,
				CreatedAt:   time.Now(),
			})
			return
		}
		d.presentRing(models.RingPayload{
			CallID:         p.CallID,
			ConversationID: p.ConversationID,
			Kind:           models.CallKindEmergency,
			Caller:         p.Peer,
			Emergency:      p.Emergency,
		})

	case push.TypeCallCancelled:
		d.suppressor.MarkHandled(p.Key())
		d.machine.PeerCancelled(p.CallID)
		d.presenter.DismissCall(p.CallID)

	case push.TypeAlertResolved:
		d.suppressor.MarkHandled(p.Key())
		d.presenter.DismissAlert(p.AlertID)

	case push.TypeWellnessReminder:
		d.presentWellness(models.WellnessPayload{ReminderID: p.ReminderID, Message: p.Message})

	default:
		d.logger.Debug("push type ignored", "type", p.Type)
	}
}

// presentRing routes one logical ring to exactly one path. Foreground:
// the state machine owns it and the presenter is suppressed for the id.
// Otherwise the presenter owns it and a later socket twin is a no-op.
func (d *Dispatcher) presentRing(ring models.RingPayload) {
	if ring.CallID == "" {
		return
	}
	if !d.suppressor.HandleOnce("call:" + ring.CallID) {
		return
	}

	if d.Mode() == ModeForeground {
		d.machine.ReceiveIncoming(ring)
		return
	}
	d.presenter.ShowIncomingCall(ring)
}

func (d *Dispatcher) presentAlert(alert models.AlertEvent) {
	if alert.ID == "" {
		return
	}
	if !d.suppressor.HandleOnce("alert:" + alert.ID) {
		return
	}

	if d.Mode() == ModeForeground {
		d.notifyAlert(alert)
		return
	}
	d.presenter.ShowEmergencyAlert(alert)
}

// presentWellness routes to the presenter in any mode; the reminder is
// a system notification even while the app is open.
func (d *Dispatcher) presentWellness(w models.WellnessPayload) {
	if w.ReminderID == "" {
		return
	}
	if !d.suppressor.HandleOnce("wellness:" + w.ReminderID) {
		return
	}
	d.presenter.ShowWellnessReminder(w)
}

// drainPending replays the ledger in insertion order. Each action is
// deleted before its side effect runs; a failed replay re-persists the
// action for the next foreground transition instead of dropping it.
func (d *Dispatcher) drainPending() {
	actions, err := d.ledger.List()
	if err != nil {
		d.logger.Error("listing pending actions failed", "error", err)
		return
	}
	if len(actions) == 0 {
		return
	}

	d.logger.Info("draining pending actions", "count", len(actions))
	for _, action := range actions {
		if err := d.ledger.Delete(action.ID); err != nil {
			d.logger.Error("deleting pending action failed", "id", action.ID, "error", err)
			continue
		}
		if !d.replay(action) {
			if err := d.ledger.Append(action); err != nil {
				d.logger.Error("re-persisting pending action failed", "id", action.ID, "error", err)
			}
		}
	}
}

// replay runs one deferred action. Returns false when the action should
// be re-persisted for the next foreground transition.
func (d *Dispatcher) replay(action models.PendingAction) bool {
	d.logger.Info("replaying pending action", "kind", action.Kind, "call_id", action.CallID, "alert_id", action.AlertID)

	switch action.Kind {
	case models.PendingRejectCall:
		// The headless handler already emitted the reject; resend is
		// harmless (teardown is idempotent on the far side).
		_ = d.emitter.Send(models.EventCallRejected, models.CallSignal{CallID: action.CallID}, true)
		return true

	case models.PendingRejectAlertCall:
		_ = d.emitter.Send(models.EventAlertDeclined, models.CallSignal{CallID: action.AlertID}, true)
		return true

	case models.PendingAcceptCall:
		if !d.waitNavReady() {
			return false
		}
		if !d.probe.CallLive(action.CallID) {
			d.notice("The call from " + action.Peer.Name + " has already ended.")
			return true
		}
		d.machine.ReceiveIncoming(models.RingPayload{
			CallID:         action.CallID,
			ConversationID: action.ConversationID,
			Kind:           models.CallKindDirect,
			Caller:         action.Peer,
		})
		d.machine.Accept()
		d.nav.NavigateTo(ScreenCall, map[string]string{
			"call_id":         action.CallID,
			"conversation_id": action.ConversationID,
			"peer_id":         action.Peer.ID,
		})
		return true

	case models.PendingViewCall:
		if !d.waitNavReady() {
			return false
		}
		if !d.probe.CallLive(action.CallID) {
			d.notice("The call from " + action.Peer.Name + " has already ended.")
			return true
		}
		// Open the ringing screen only; accepting stays a user decision.
		d.machine.ReceiveIncoming(models.RingPayload{
			CallID:         action.CallID,
			ConversationID: action.ConversationID,
			Kind:           models.CallKindDirect,
			Caller:         action.Peer,
		})
		d.nav.NavigateTo(ScreenCall, map[string]string{
			"call_id":         action.CallID,
			"conversation_id": action.ConversationID,
			"peer_id":         action.Peer.ID,
		})
		return true

	case models.PendingAcceptAlertCall:
		if !d.waitNavReady() {
			return false
		}
		if !d.probe.AlertLive(action.AlertID) {
			d.notice("The emergency alert from " + action.Peer.Name + " is no longer active.")
			return true
		}
		_, err := d.machine.CreateOutgoing(action.Peer, models.CallKindEmergency, "", &models.EmergencyMeta{AlertID: action.AlertID})
		if err != nil {
			d.logger.Warn("emergency call from replay not started", "alert_id", action.AlertID, "error", err)
			return true
		}
		d.nav.NavigateTo(ScreenCall, map[string]string{
			"alert_id": action.AlertID,
			"peer_id":  action.Peer.ID,
		})
		return true

	case models.PendingViewAlertDetail:
		if !d.waitNavReady() {
			return false
		}
		d.nav.NavigateTo(ScreenAlertDetail, map[string]string{
			"alert_id": action.AlertID,
			"peer_id":  action.Peer.ID,
		})
		return true

	default:
		d.logger.Warn("unknown pending action dropped", "kind", action.Kind)
		return true
	}
}

// waitNavReady polls the navigation surface with a fixed interval and a
// fixed attempt cap. Never busy-waits indefinitely.
func (d *Dispatcher) waitNavReady() bool {
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if d.nav.Ready() {
			return true
		}
		time.Sleep(d.pollInterval)
	}
	d.logger.Warn("navigation not ready, deferring replay")
	return false
}

func (d *Dispatcher) callID(data json.RawMessage) string {
	var sig models.CallSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return ""
	}
	return sig.CallID
}

func (d *Dispatcher) notifyAlert(alert models.AlertEvent) {
	d.mu.Lock()
	l := d.onAlert
	d.mu.Unlock()
	if l != nil {
		l(alert)
	}
}

func (d *Dispatcher) notice(message string) {
	d.logger.Info("stale resume", "message", message)
	d.mu.Lock()
	f := d.onNotice
	d.mu.Unlock()
	if f != nil {
		f(message)
	}
}
