// Package dedup remembers recently handled call/alert identifiers so
// the same occurrence arriving over both the socket and the push
// channel is acted on exactly once.
package dedup

import (
	"log/slog"
	"sync"
	"time"
)

// DurableMarks mirrors handled ids into a store that survives process
// death. The in-memory set alone forgets everything on a kill.
type DurableMarks interface {
	WasHandled(id string, now time.Time) bool
	MarkHandled(id string, expiresAt time.Time) error
	PurgeExpired(now time.Time) error
}

// Suppressor is a set with per-entry expiry. Marking happens right
// after the decision to handle, before the side effect runs. This is a
// best-effort race guard for UI-layer deduplication, not a hard mutex.
type Suppressor struct {
	logger    *slog.Logger
	retention time.Duration
	nowFn     func() time.Time
	durable   DurableMarks

	mu      sync.Mutex
	entries map[string]time.Time // id -> expiresAt
}

// NewSuppressor creates a suppressor with the given retention window.
// durable may be nil.
func NewSuppressor(retention time.Duration, durable DurableMarks, logger *slog.Logger) *Suppressor {
	s := &Suppressor{
		logger:    logger.With("component", "dedup"),
		retention: retention,
		nowFn:     time.Now,
		durable:   durable,
		entries:   make(map[string]time.Time),
	}
	go s.cleanupLoop()
	return s
}

// HasHandled reports whether the id was handled within the retention
// window.
func (s *Suppressor) HasHandled(id string) bool {
	now := s.nowFn()

	s.mu.Lock()
	expiresAt, ok := s.entries[id]
	if ok && now.After(expiresAt) {
		delete(s.entries, id)
		ok = false
	}
	s.mu.Unlock()

	if ok {
		return true
	}
	if s.durable != nil && s.durable.WasHandled(id, now) {
		return true
	}
	return false
}

// MarkHandled records the id as handled.
func (s *Suppressor) MarkHandled(id string) {
	now := s.nowFn()
	expiresAt := now.Add(s.retention)

	s.mu.Lock()
	s.entries[id] = expiresAt
	s.mu.Unlock()

	if s.durable != nil {
		if err := s.durable.MarkHandled(id, expiresAt); err != nil {
			s.logger.Warn("durable mark failed", "id", id, "error", err)
		}
	}
}

// HandleOnce marks the id and reports whether this caller won: true on
// the first sighting, false for every duplicate within retention.
func (s *Suppressor) HandleOnce(id string) bool {
	if s.HasHandled(id) {
		s.logger.Debug("duplicate event suppressed", "id", id)
		return false
	}
	s.MarkHandled(id)
	return true
}

func (s *Suppressor) cleanupLoop() {
	ticker := time.NewTicker(s.retention)
	defer ticker.Stop()
	for range ticker.C {
		now := s.nowFn()

		s.mu.Lock()
		for id, expiresAt := range s.entries {
			if now.After(expiresAt) {
				delete(s.entries, id)
			}
		}
		s.mu.Unlock()

		if s.durable != nil {
			if err := s.durable.PurgeExpired(now); err != nil {
				s.logger.Warn("durable purge failed", "error", err)
			}
		}
	}
}
