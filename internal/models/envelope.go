package models

import "encoding/json"

// Realtime event types. call_request travels caller->server; the server
// rings the callee with call_ring. The remaining call events carry the
// same type name in both directions.
const (
	EventCallRequest   = "call_request"
	EventCallRing      = "call_ring"
	EventCallRinging   = "call_ringing"
	EventCallAccepted  = "call_accepted"
	EventCallRejected  = "call_rejected"
	EventCallCancelled = "call_cancelled"
	EventCallEnded     = "call_ended"
	EventCallStatus    = "call_status"
	EventAlertStatus   = "alert_status"
	EventAlertRaised   = "alert_raised"
	EventAlertDeclined = "alert_declined"
	EventAlertResolved = "alert_resolved"
	EventWellnessCheck = "wellness_reminder"
	EventWellnessAck   = "wellness_ack"
)

// Envelope is the wire frame for realtime signaling.
type Envelope struct {
	Type string          `json:"type"`
	To   string          `json:"to,omitempty"`
	From string          `json:"from,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CallRequestPayload initiates a call toward a callee. The server
// resolves the caller's own snapshot before ringing the other side.
type CallRequestPayload struct {
	CallID         string         `json:"call_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Kind           CallKind       `json:"kind"`
	Callee         PeerSnapshot   `json:"callee"`
	Emergency      *EmergencyMeta `json:"emergency,omitempty"`
}

// RingPayload announces an incoming call to the callee.
type RingPayload struct {
	CallID         string         `json:"call_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Kind           CallKind       `json:"kind"`
	Caller         PeerSnapshot   `json:"caller"`
	Emergency      *EmergencyMeta `json:"emergency,omitempty"`
}

// CallSignal is the payload of accept/reject/cancel/end events.
type CallSignal struct {
	CallID string `json:"call_id"`
}

// CallStatusPayload answers a call_status probe.
type CallStatusPayload struct {
	CallID string `json:"call_id"`
	Live   bool   `json:"live"`
}

// AlertStatusPayload answers an alert_status probe.
type AlertStatusPayload struct {
	AlertID string `json:"alert_id"`
	Live    bool   `json:"live"`
}

// WellnessPayload is the "are you OK" reminder.
type WellnessPayload struct {
	ReminderID string `json:"reminder_id"`
	Message    string `json:"message,omitempty"`
}

func MustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
