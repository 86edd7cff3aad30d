// Package notify renders system-level alerts that stay actionable even
// when the application process is not running. The actual OS surface is
// behind the Notifier bridge; this package owns categories, keys,
// payload round-tripping and headless action handling.
package notify

import (
	"log/slog"
	"time"

	"github.com/Hien110/ecare-signaling/internal/models"
)

// Category namespaces notifications. Each category is an independent
// channel with its own interruption policy and action set; an action in
// one category is never interpreted in another, even when raw ids
// collide.
type Category string

const (
	CategoryCall      Category = "call"
	CategoryEmergency Category = "emergency"
	CategoryWellness  Category = "wellness"
)

// Action identifiers on a notification button.
const (
	ActionAccept = "accept"
	ActionReject = "reject"
	ActionView   = "view"
	ActionImOK   = "im_ok"
)

// Data keys round-tripped through the OS notification. Headless action
// handlers rebuild their context from these alone; no in-process state
// survives to the handler.
const (
	dataCallID         = "call_id"
	dataConversationID = "conversation_id"
	dataAlertID        = "alert_id"
	dataReminderID     = "reminder_id"
	dataPeerID         = "peer_id"
	dataPeerName       = "peer_name"
	dataPeerPhone      = "peer_phone"
	dataPeerAvatar     = "peer_avatar"
)

// Notification is what the host bridge renders.
type Notification struct {
	Title   string
	Body    string
	Urgency string // "normal" or "high"; high for emergencies
	Actions []string
	Data    map[string]string
}

// Notifier is the OS bridge. Show replaces an existing notification
// with the same category+key; Dismiss of an unknown key is a no-op.
type Notifier interface {
	Show(category Category, key string, n Notification)
	Dismiss(category Category, key string)
}

// Emitter sends fire-and-forget signals; queued when the socket is
// down. Satisfied by the connection manager.
type Emitter interface {
	Send(event string, data any, bestEffort bool) error
}

// ActionLedger persists deferred decisions for the dispatcher to
// replay.
type ActionLedger interface {
	Append(action models.PendingAction) error
}

// Presenter owns the background/killed notification path.
type Presenter struct {
	logger   *slog.Logger
	notifier Notifier
	emitter  Emitter
	ledger   ActionLedger
}

func NewPresenter(notifier Notifier, emitter Emitter, ledger ActionLedger, logger *slog.Logger) *Presenter {
	return &Presenter{
		logger:   logger.With("component", "notify"),
		notifier: notifier,
		emitter:  emitter,
		ledger:   ledger,
	}
}

// ShowIncomingCall renders the incoming-call alert. Only invoked when
// the dispatcher decided the app is not in foreground; the in-app call
// UI is authoritative otherwise.
func (p *Presenter) ShowIncomingCall(ring models.RingPayload) {
	title := "Incoming video call"
	if ring.Kind == models.CallKindEmergency {
		title = "Incoming emergency call"
	}

	p.logger.Info("showing incoming call notification", "call_id", ring.CallID)
	p.notifier.Show(CategoryCall, ring.CallID, Notification{
		Title:   title,
		Body:    ring.Caller.Name + " is calling",
		Urgency: "high",
		Actions: []string{ActionAccept, ActionReject, ActionView},
		Data: map[string]string{
			dataCallID:         ring.CallID,
			dataConversationID: ring.ConversationID,
			dataPeerID:         ring.Caller.ID,
			dataPeerName:       ring.Caller.Name,
			dataPeerPhone:      ring.Caller.Phone,
			dataPeerAvatar:     ring.Caller.AvatarURL,
		},
	})
}

// ShowEmergencyAlert renders an SOS alert with maximum urgency.
func (p *Presenter) ShowEmergencyAlert(alert models.AlertEvent) {
	body := alert.Requester.Name + " needs help"
	if alert.Location != nil && alert.Location.Address != "" {
		body += " near " + alert.Location.Address
	}

	p.logger.Info("showing emergency alert notification", "alert_id", alert.ID)
	p.notifier.Show(CategoryEmergency, alert.ID, Notification{
		Title:   "SOS emergency alert",
		Body:    body,
		Urgency: "high",
		Actions: []string{ActionAccept, ActionReject, ActionView},
		Data: map[string]string{
			dataAlertID:    alert.ID,
			dataPeerID:     alert.Requester.ID,
			dataPeerName:   alert.Requester.Name,
			dataPeerPhone:  alert.Requester.Phone,
			dataPeerAvatar: alert.Requester.AvatarURL,
		},
	})
}

// ShowWellnessReminder renders the "are you OK" check.
func (p *Presenter) ShowWellnessReminder(w models.WellnessPayload) {
	body := w.Message
	if body == "" {
		body = "Are you OK? Tap to let your family know."
	}

	p.notifier.Show(CategoryWellness, w.ReminderID, Notification{
		Title:   "Wellness check",
		Body:    body,
		Urgency: "normal",
		Actions: []string{ActionImOK, ActionView},
		Data:    map[string]string{dataReminderID: w.ReminderID},
	})
}

// DismissCall removes a stale incoming-call alert, e.g. after the
// caller cancelled through the other channel.
func (p *Presenter) DismissCall(callID string) {
	p.notifier.Dismiss(CategoryCall, callID)
}

func (p *Presenter) DismissAlert(alertID string) {
	p.notifier.Dismiss(CategoryEmergency, alertID)
}

func (p *Presenter) DismissWellness(reminderID string) {
	p.notifier.Dismiss(CategoryWellness, reminderID)
}

// HandleAction runs a notification button press. There is no guarantee
// a navigable UI exists: the process may have been launched solely for
// this handler. Rejects complete over a queued emit; accepts persist a
// pending action for the dispatcher to finish once the app is active.
func (p *Presenter) HandleAction(category Category, key, action string, data map[string]string) {
	p.logger.Info("notification action", "category", category, "key", key, "action", action)

	switch category {
	case CategoryCall:
		p.handleCallAction(key, action, data)
	case CategoryEmergency:
		p.handleAlertAction(key, action, data)
	case CategoryWellness:
		p.handleWellnessAction(key, action)
	default:
		p.logger.Warn("action for unknown category ignored", "category", category)
	}
}

func (p *Presenter) handleCallAction(callID, action string, data map[string]string) {
	switch action {
	case ActionReject:
		// Completes without navigation: a queued socket emit is enough.
		_ = p.emitter.Send(models.EventCallRejected, models.CallSignal{CallID: callID}, false)
		p.appendAction(models.PendingRejectCall, data)
		p.notifier.Dismiss(CategoryCall, callID)
	case ActionAccept:
		// Media setup needs a mounted UI; defer the handshake.
		p.appendAction(models.PendingAcceptCall, data)
		p.notifier.Dismiss(CategoryCall, callID)
	case ActionView:
		// Looking is not answering; the ringing screen decides.
		p.appendAction(models.PendingViewCall, data)
		p.notifier.Dismiss(CategoryCall, callID)
	default:
		p.logger.Warn("unknown call action ignored", "action", action)
	}
}

func (p *Presenter) handleAlertAction(alertID, action string, data map[string]string) {
	switch action {
	case ActionReject:
		_ = p.emitter.Send(models.EventAlertDeclined, models.CallSignal{CallID: alertID}, false)
		p.appendAction(models.PendingRejectAlertCall, data)
		p.notifier.Dismiss(CategoryEmergency, alertID)
	case ActionAccept:
		p.appendAction(models.PendingAcceptAlertCall, data)
		p.notifier.Dismiss(CategoryEmergency, alertID)
	case ActionView:
		p.appendAction(models.PendingViewAlertDetail, data)
		p.notifier.Dismiss(CategoryEmergency, alertID)
	default:
		p.logger.Warn("unknown alert action ignored", "action", action)
	}
}

func (p *Presenter) handleWellnessAction(reminderID, action string) {
	switch action {
	case ActionImOK:
		_ = p.emitter.Send(models.EventWellnessAck, models.WellnessPayload{ReminderID: reminderID}, false)
		p.notifier.Dismiss(CategoryWellness, reminderID)
	case ActionView:
		p.notifier.Dismiss(CategoryWellness, reminderID)
	default:
		p.logger.Warn("unknown wellness action ignored", "action", action)
	}
}

func (p *Presenter) appendAction(kind models.PendingActionKind, data map[string]string) {
	action := models.PendingAction{
		Kind:           kind,
		CallID:         data[dataCallID],
		ConversationID: data[dataConversationID],
		AlertID:        data[dataAlertID],
		Peer: models.PeerSnapshot{
			ID:        data[dataPeerID],
			Name:      data[dataPeerName],
			Phone:     data[dataPeerPhone],
			AvatarURL: data[dataPeerAvatar],
		},
		CreatedAt: time.Now(),
	}
	if err := p.ledger.Append(action); err != nil {
		p.logger.Error("persisting pending action failed", "kind", kind, "error", err)
	}
}
