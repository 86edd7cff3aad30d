package server

import (
	"errors"
	"sync"
	"time"

	"github.com/Hien110/ecare-signaling/internal/models"
)

var (
	ErrRingNotFound  = errors.New("call not found")
	ErrAlertNotFound = errors.New("alert not found")
)

type RingStatus string

const (
	RingStatusRinging RingStatus = "ringing"
	RingStatusActive  RingStatus = "active"
)

// Ring is one live 1:1 call the server is brokering. Resolved rings are
// removed immediately; unanswered ones expire after the TTL so a
// liveness probe for a dead call answers false.
type Ring struct {
	CallID    string
	CallerID  string
	CalleeID  string
	Kind      models.CallKind
	Status    RingStatus
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Alert is one live SOS broadcast working through its ordered recipient
// list.
type Alert struct {
	Event      models.AlertEvent
	Recipients []string
	NextIdx    int
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Registry tracks live rings and alerts in memory with TTL expiry.
type Registry struct {
	mu     sync.Mutex
	rings  map[string]*Ring
	alerts map[string]*Alert
	ttl    time.Duration
	nowFn  func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	r := &Registry{
		rings:  make(map[string]*Ring),
		alerts: make(map[string]*Alert),
		ttl:    ttl,
		nowFn:  time.Now,
	}
	go r.cleanupLoop()
	return r
}

func (r *Registry) AddRing(callID, callerID, calleeID string, kind models.CallKind) {
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rings[callID] = &Ring{
		CallID:    callID,
		CallerID:  callerID,
		CalleeID:  calleeID,
		Kind:      kind,
		Status:    RingStatusRinging,
		CreatedAt: now,
		ExpiresAt: now.Add(r.ttl),
	}
}

func (r *Registry) GetRing(callID string) (Ring, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring, ok := r.rings[callID]
	if !ok || r.nowFn().After(ring.ExpiresAt) {
		return Ring{}, ErrRingNotFound
	}
	return *ring, nil
}

// Activate marks the ring answered. Active calls stop expiring on the
// ring TTL; they live until resolved.
func (r *Registry) Activate(callID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ring, ok := r.rings[callID]
	if !ok || r.nowFn().After(ring.ExpiresAt) {
		return ErrRingNotFound
	}
	ring.Status = RingStatusActive
	ring.ExpiresAt = r.nowFn().Add(24 * time.Hour)
	return nil
}

// Resolve removes the ring (rejected, cancelled or ended).
func (r *Registry) Resolve(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rings, callID)
}

// RingLive answers the device's stale-resume probe.
func (r *Registry) RingLive(callID string) bool {
	_, err := r.GetRing(callID)
	return err == nil
}

// Peer returns the other participant of the ring relative to userID.
func (ring Ring) Peer(userID string) string {
	if ring.CallerID == userID {
		return ring.CalleeID
	}
	return ring.CallerID
}

func (r *Registry) AddAlert(event models.AlertEvent, recipients []string) {
	now := r.nowFn()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[event.ID] = &Alert{
		Event:      event,
		Recipients: recipients,
		CreatedAt:  now,
		ExpiresAt:  now.Add(r.ttl),
	}
}

func (r *Registry) GetAlert(alertID string) (Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[alertID]
	if !ok || r.nowFn().After(alert.ExpiresAt) {
		return Alert{}, ErrAlertNotFound
	}
	return *alert, nil
}

// AdvanceAlert moves to the next recipient after a decline. Returns the
// next recipient id, or "" when the list is exhausted.
func (r *Registry) AdvanceAlert(alertID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	alert, ok := r.alerts[alertID]
	if !ok {
		return ""
	}
	alert.NextIdx++
	if alert.NextIdx >= len(alert.Recipients) {
		return ""
	}
	return alert.Recipients[alert.NextIdx]
}

func (r *Registry) ResolveAlert(alertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.alerts, alertID)
}

func (r *Registry) AlertLive(alertID string) bool {
	_, err := r.GetAlert(alertID)
	return err == nil
}

func (r *Registry) cleanupLoop() {
	ticker := time.NewTicker(r.ttl)
	defer ticker.Stop()
	for range ticker.C {
		now := r.nowFn()
		r.mu.Lock()
		for id, ring := range r.rings {
			if now.After(ring.ExpiresAt) {
				delete(r.rings, id)
			}
		}
		for id, alert := range r.alerts {
			if now.After(alert.ExpiresAt) {
				delete(r.alerts, id)
			}
		}
		r.mu.Unlock()
	}
}
