// Package call holds the authoritative in-memory state of the device's
// single active call and its lifecycle transitions.
package call

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/Hien110/ecare-signaling/internal/models"
)

// ErrCallAlreadyActive rejects a second concurrent call. Usage error,
// never retried.
var ErrCallAlreadyActive = errors.New("a call is already active")

// Emitter sends signaling events toward the peer. Satisfied by the
// connection manager.
type Emitter interface {
	Send(event string, data any, bestEffort bool) error
}

// MediaSession is the opaque media collaborator. Started on the
// transition into connected, stopped when leaving it.
type MediaSession interface {
	Start(callID string)
	Stop(callID string)
}

// Listener receives a snapshot after every status change, for the UI
// layer to render.
type Listener func(call models.Call)

// Machine enforces the single-call invariant and the transition rules.
// Teardown paths are no-ops when redundant, so UI buttons, timeouts and
// remote events may race each other safely.
type Machine struct {
	logger  *slog.Logger
	emitter Emitter
	media   MediaSession
	timeout time.Duration
	nowFn   func() time.Time

	mu       sync.Mutex
	active   *models.Call
	last     *models.Call // snapshot of the most recently ended call, one final UI read
	timer    *time.Timer
	listener Listener
}

func NewMachine(emitter Emitter, media MediaSession, timeout time.Duration, logger *slog.Logger) *Machine {
	return &Machine{
		logger:  logger.With("component", "call"),
		emitter: emitter,
		media:   media,
		timeout: timeout,
		nowFn:   time.Now,
	}
}

// SetListener wires the UI-facing status callback.
func (m *Machine) SetListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = l
}

// Current returns the active call snapshot, if any.
func (m *Machine) Current() (models.Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return models.Call{}, false
	}
	return *m.active, true
}

// Last returns the most recently terminated call. The active slot is
// cleared on terminal transitions so a new call can start; the UI reads
// the final state from here.
func (m *Machine) Last() (models.Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return models.Call{}, false
	}
	return *m.last, true
}

// CreateOutgoing starts a new outgoing call. Fails with
// ErrCallAlreadyActive while a non-terminal call exists.
func (m *Machine) CreateOutgoing(peer models.PeerSnapshot, kind models.CallKind, conversationID string, emergency *models.EmergencyMeta) (models.Call, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return models.Call{}, ErrCallAlreadyActive
	}

	id, err := gonanoid.New(16)
	if err != nil {
		m.mu.Unlock()
		return models.Call{}, err
	}

	call := &models.Call{
		ID:             id,
		ConversationID: conversationID,
		Kind:           kind,
		Direction:      models.CallDirectionOutgoing,
		Peer:           peer,
		Status:         models.CallStatusInitiating,
		Emergency:      emergency,
		StartedAt:      m.nowFn(),
	}
	m.active = call
	m.armTimerLocked(id)
	snapshot := *call
	m.mu.Unlock()

	m.logger.Info("outgoing call created", "call_id", id, "kind", kind, "peer", peer.ID)
	_ = m.emitter.Send(models.EventCallRequest, models.CallRequestPayload{
		CallID:         id,
		ConversationID: conversationID,
		Kind:           kind,
		Callee:         peer,
		Emergency:      emergency,
	}, false)
	m.notify(snapshot)
	return snapshot, nil
}

// ReceiveIncoming handles an inbound ring. A ring for the already
// active call id is ignored; a ring while another call is live answers
// busy without disturbing the active call.
func (m *Machine) ReceiveIncoming(ring models.RingPayload) {
	m.mu.Lock()
	if m.active != nil {
		busy := m.active.ID != ring.CallID
		m.mu.Unlock()
		if busy {
			m.logger.Info("ring while busy, declining", "call_id", ring.CallID)
			_ = m.emitter.Send(models.EventCallRejected, models.CallSignal{CallID: ring.CallID}, true)
		} else {
			m.logger.Debug("duplicate ring ignored", "call_id", ring.CallID)
		}
		return
	}

	call := &models.Call{
		ID:             ring.CallID,
		ConversationID: ring.ConversationID,
		Kind:           ring.Kind,
		Direction:      models.CallDirectionIncoming,
		Peer:           ring.Caller,
		Status:         models.CallStatusRinging,
		Emergency:      ring.Emergency,
		StartedAt:      m.nowFn(),
	}
	m.active = call
	m.armTimerLocked(call.ID)
	snapshot := *call
	m.mu.Unlock()

	m.logger.Info("incoming call", "call_id", ring.CallID, "kind", ring.Kind, "peer", ring.Caller.ID)
	_ = m.emitter.Send(models.EventCallRinging, models.CallSignal{CallID: ring.CallID}, true)
	m.notify(snapshot)
}

// Accept answers the ringing incoming call. No-op if there is none.
func (m *Machine) Accept() {
	m.mu.Lock()
	if m.active == nil || m.active.Status != models.CallStatusRinging || m.active.Direction != models.CallDirectionIncoming {
		m.mu.Unlock()
		return
	}
	m.active.Status = models.CallStatusConnected
	m.clearTimerLocked()
	snapshot := *m.active
	m.mu.Unlock()

	m.logger.Info("call accepted", "call_id", snapshot.ID)
	_ = m.emitter.Send(models.EventCallAccepted, models.CallSignal{CallID: snapshot.ID}, false)
	m.media.Start(snapshot.ID)
	m.notify(snapshot)
}

// Reject declines the ringing incoming call. No-op if redundant.
func (m *Machine) Reject() {
	m.terminate("", models.CallStatusRejected, models.EndReasonLocal, models.EventCallRejected, false)
}

// Cancel withdraws the outgoing call before the peer answered.
func (m *Machine) Cancel() {
	m.terminate("", models.CallStatusCancelled, models.EndReasonLocal, models.EventCallCancelled, false)
}

// End hangs up the connected call.
func (m *Machine) End() {
	m.terminate("", models.CallStatusEnded, models.EndReasonLocal, models.EventCallEnded, false)
}

// PeerRinging records the callee's ringing ack for the outgoing call.
func (m *Machine) PeerRinging(callID string) {
	m.mu.Lock()
	if m.active == nil || m.active.ID != callID || m.active.Status != models.CallStatusInitiating {
		m.mu.Unlock()
		return
	}
	m.active.Status = models.CallStatusRinging
	snapshot := *m.active
	m.mu.Unlock()

	m.notify(snapshot)
}

// PeerAccepted connects the outgoing call.
func (m *Machine) PeerAccepted(callID string) {
	m.mu.Lock()
	if m.active == nil || m.active.ID != callID || m.active.Status.IsTerminal() ||
		m.active.Direction != models.CallDirectionOutgoing || m.active.Status == models.CallStatusConnected {
		m.mu.Unlock()
		return
	}
	m.active.Status = models.CallStatusConnected
	m.clearTimerLocked()
	snapshot := *m.active
	m.mu.Unlock()

	m.logger.Info("peer accepted", "call_id", callID)
	m.media.Start(snapshot.ID)
	m.notify(snapshot)
}

// PeerRejected terminates the outgoing call as declined.
func (m *Machine) PeerRejected(callID string) {
	m.terminate(callID, models.CallStatusRejected, models.EndReasonDeclined, "", true)
}

// PeerCancelled terminates the incoming call: the caller withdrew.
func (m *Machine) PeerCancelled(callID string) {
	m.terminate(callID, models.CallStatusCancelled, models.EndReasonRemote, "", true)
}

// PeerEnded terminates the connected call from the remote side.
func (m *Machine) PeerEnded(callID string) {
	m.terminate(callID, models.CallStatusEnded, models.EndReasonRemote, "", true)
}

// TransportLost force-closes any non-terminal call when the socket is
// gone for good. The terminal signal is best-effort; local state closes
// regardless.
func (m *Machine) TransportLost() {
	m.terminate("", models.CallStatusEnded, models.EndReasonTransport, models.EventCallEnded, true)
}

// terminate moves the active call into a terminal state, emits the
// terminal event, stops media if it ran, notifies the listener and
// clears the active slot. callID empty means "whatever is active".
// Redundant invocations are no-ops.
func (m *Machine) terminate(callID string, status models.CallStatus, reason models.EndReason, emitEvent string, bestEffort bool) {
	m.mu.Lock()
	if m.active == nil || m.active.Status.IsTerminal() {
		m.mu.Unlock()
		return
	}
	if callID != "" && m.active.ID != callID {
		m.mu.Unlock()
		m.logger.Debug("terminal event for stale call ignored", "call_id", callID)
		return
	}

	wasConnected := m.active.Status == models.CallStatusConnected
	m.active.Status = status
	m.active.Reason = reason
	m.active.EndedAt = m.nowFn()
	m.clearTimerLocked()
	snapshot := *m.active
	m.last = &snapshot
	m.active = nil
	m.mu.Unlock()

	m.logger.Info("call terminated", "call_id", snapshot.ID, "status", status, "reason", reason)
	if emitEvent != "" {
		_ = m.emitter.Send(emitEvent, models.CallSignal{CallID: snapshot.ID}, bestEffort)
	}
	if wasConnected {
		m.media.Stop(snapshot.ID)
	}
	m.notify(snapshot)
}

// armTimerLocked schedules the ringing/initiating timeout for the call.
// One timer per call; any terminal transition clears it so a late fire
// can never hit a since-replaced call.
func (m *Machine) armTimerLocked(callID string) {
	m.clearTimerLocked()
	if m.timeout <= 0 {
		return
	}
	m.timer = time.AfterFunc(m.timeout, func() {
		m.timedOut(callID)
	})
}

func (m *Machine) clearTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Machine) timedOut(callID string) {
	m.mu.Lock()
	stale := m.active == nil || m.active.ID != callID || m.active.Status.IsTerminal() ||
		m.active.Status == models.CallStatusConnected
	m.mu.Unlock()
	if stale {
		return
	}
	m.logger.Info("call timed out", "call_id", callID)
	m.terminate(callID, models.CallStatusTimedOut, models.EndReasonNoAnswer, models.EventCallCancelled, true)
}

func (m *Machine) notify(call models.Call) {
	m.mu.Lock()
	l := m.listener
	m.mu.Unlock()
	if l != nil {
		l(call)
	}
}
