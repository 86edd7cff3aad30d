package models

import "time"

// CallStatus is the lifecycle state of a call.
// Keep values stable because they cross the wire and the host bridge.
type CallStatus string

const (
	CallStatusInitiating CallStatus = "initiating"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusConnected  CallStatus = "connected"
	CallStatusRejected   CallStatus = "rejected"
	CallStatusCancelled  CallStatus = "cancelled"
	CallStatusEnded      CallStatus = "ended"
	CallStatusTimedOut   CallStatus = "timed_out"
)

func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusRejected, CallStatusCancelled, CallStatusEnded, CallStatusTimedOut:
		return true
	}
	return false
}

type CallKind string

const (
	CallKindDirect    CallKind = "direct"
	CallKindEmergency CallKind = "emergency"
)

type CallDirection string

const (
	CallDirectionOutgoing CallDirection = "outgoing"
	CallDirectionIncoming CallDirection = "incoming"
)

// EndReason distinguishes how a call reached a terminal state so the UI
// can render "no answer" / "declined" / "connection lost" instead of a
// generic failure.
type EndReason string

const (
	EndReasonLocal     EndReason = "local"
	EndReasonRemote    EndReason = "remote"
	EndReasonNoAnswer  EndReason = "no_answer"
	EndReasonDeclined  EndReason = "declined"
	EndReasonTransport EndReason = "transport_lost"
)

// PeerSnapshot is the peer identity captured at call creation. The live
// profile may change mid-call, so the call keeps its own copy.
type PeerSnapshot struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// EmergencyMeta carries the extra fields of an emergency call promoted
// from an SOS alert.
type EmergencyMeta struct {
	AlertID        string `json:"alert_id"`
	RecipientIndex int    `json:"recipient_index"`
	RecipientCount int    `json:"recipient_count"`
}

// Call is the single active realtime session of the device. At most one
// non-terminal Call exists at any time.
type Call struct {
	ID             string         `json:"call_id"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Kind           CallKind       `json:"kind"`
	Direction      CallDirection  `json:"direction"`
	Peer           PeerSnapshot   `json:"peer"`
	Status         CallStatus     `json:"status"`
	Reason         EndReason      `json:"reason,omitempty"`
	Emergency      *EmergencyMeta `json:"emergency,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	EndedAt        time.Time      `json:"ended_at,omitempty"`
}
