package models

import "time"

// AlertLocation is the best-effort position attached to an SOS alert.
// Both coordinates and the reverse-geocoded address may be absent.
type AlertLocation struct {
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Address   string   `json:"address,omitempty"`
}

// AlertEvent is a broadcast SOS signal. It is not owned by one device;
// accepting it promotes it into a Call of kind emergency.
type AlertEvent struct {
	ID          string         `json:"alert_id"`
	RequesterID string         `json:"requester_id"`
	Requester   PeerSnapshot   `json:"requester"`
	Location    *AlertLocation `json:"location,omitempty"`
	Message     string         `json:"message,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
