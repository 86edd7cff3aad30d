// Package push decodes payloads arriving over the platform push channel.
// The provider protocol is out of scope; a payload is whatever bytes the
// host bridge hands us, with a type discriminator inside.
package push

import (
	"encoding/json"
	"fmt"

	"github.com/Hien110/ecare-signaling/internal/models"
)

// Push payload types. The channel may re-deliver the same payload and
// may race the equivalent realtime event in either direction.
const (
	TypeDirectCall       = "direct_call"
	TypeEmergencyCall    = "emergency_call"
	TypeCallCancelled    = "call_cancelled"
	TypeAlertResolved    = "alert_resolved"
	TypeWellnessReminder = "wellness_reminder"
)

// Payload is the decoded push delivery.
type Payload struct {
	Type           string                `json:"type"`
	CallID         string                `json:"call_id,omitempty"`
	ConversationID string                `json:"conversation_id,omitempty"`
	AlertID        string                `json:"alert_id,omitempty"`
	ReminderID     string                `json:"reminder_id,omitempty"`
	Peer           models.PeerSnapshot   `json:"peer"`
	Location       *models.AlertLocation `json:"location,omitempty"`
	Message        string                `json:"message,omitempty"`
	Emergency      *models.EmergencyMeta `json:"emergency,omitempty"`
}

// Decode parses a raw push delivery. Unknown types are not an error;
// the dispatcher ignores them.
func Decode(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("decode push payload: %w", err)
	}
	if p.Type == "" {
		return Payload{}, fmt.Errorf("push payload has no type")
	}
	return p, nil
}

// Key returns the dedup identity of the payload: the call or alert it
// refers to, namespaced so id collisions across kinds cannot alias.
func (p Payload) Key() string {
	switch {
	case p.AlertID != "":
		return "alert:" + p.AlertID
	case p.CallID != "":
		return "call:" + p.CallID
	case p.ReminderID != "":
		return "wellness:" + p.ReminderID
	}
	return ""
}
