package models

import "time"

// PendingActionKind enumerates the decisions a user can take from a
// notification while no navigable UI exists yet.
type PendingActionKind string

const (
	PendingAcceptCall      PendingActionKind = "accept_call"
	PendingRejectCall      PendingActionKind = "reject_call"
	PendingViewCall        PendingActionKind = "view_call"
	PendingAcceptAlertCall PendingActionKind = "accept_alert_call"
	PendingRejectAlertCall PendingActionKind = "reject_alert_call"
	PendingViewAlertDetail PendingActionKind = "view_alert_detail"
)

// PendingAction is the durable record of a deferred user decision,
// replayed exactly once on the next transition to foreground.
type PendingAction struct {
	ID             string            `json:"id"`
	Kind           PendingActionKind `json:"kind"`
	CallID         string            `json:"call_id,omitempty"`
	ConversationID string            `json:"conversation_id,omitempty"`
	AlertID        string            `json:"alert_id,omitempty"`
	Peer           PeerSnapshot      `json:"peer"`
	CreatedAt      time.Time         `json:"created_at"`
}
