package server

import (
	"errors"
	"testing"
	"time"

	"github.com/Hien110/ecare-signaling/internal/models"
)

func TestRingLifecycle(t *testing.T) {
	r := NewRegistry(30 * time.Second)

	r.AddRing("c1", "caller", "callee", models.CallKindDirect)

	ring, err := r.GetRing("c1")
	if err != nil {
		t.Fatalf("get ring: %v", err)
	}
	if ring.Status != RingStatusRinging {
		t.Fatalf("expected ringing, got %s", ring.Status)
	}
	if ring.Peer("caller") != "callee" || ring.Peer("callee") != "caller" {
		t.Fatalf("peer resolution broken")
	}

	if err := r.Activate("c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	ring, _ = r.GetRing("c1")
	if ring.Status != RingStatusActive {
		t.Fatalf("expected active, got %s", ring.Status)
	}

	r.Resolve("c1")
	if r.RingLive("c1") {
		t.Fatalf("resolved ring still live")
	}
	r.Resolve("c1") // redundant resolve is a no-op
}

func TestRingTTLExpiry(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	base := time.Unix(1700000000, 0)
	r.nowFn = func() time.Time { return base }

	r.AddRing("c1", "caller", "callee", models.CallKindDirect)
	if !r.RingLive("c1") {
		t.Fatalf("fresh ring not live")
	}

	r.nowFn = func() time.Time { return base.Add(time.Minute) }
	if r.RingLive("c1") {
		t.Fatalf("expired ring still live")
	}
	if _, err := r.GetRing("c1"); !errors.Is(err, ErrRingNotFound) {
		t.Fatalf("expected ErrRingNotFound, got %v", err)
	}
}

func TestActiveRingOutlivesRingTTL(t *testing.T) {
	r := NewRegistry(30 * time.Second)
	base := time.Unix(1700000000, 0)
	r.nowFn = func() time.Time { return base }

	r.AddRing("c1", "caller", "callee", models.CallKindDirect)
	if err := r.Activate("c1"); err != nil {
		t.Fatalf("activate: %v", err)
	}

	r.nowFn = func() time.Time { return base.Add(time.Hour) }
	if !r.RingLive("c1") {
		t.Fatalf("answered call expired on the ring TTL")
	}
}

func TestAlertAdvanceThroughRecipients(t *testing.T) {
	r := NewRegistry(time.Minute)

	r.AddAlert(models.AlertEvent{ID: "al1"}, []string{"u1", "u2", "u3"})

	if next := r.AdvanceAlert("al1"); next != "u2" {
		t.Fatalf("expected u2, got %q", next)
	}
	if next := r.AdvanceAlert("al1"); next != "u3" {
		t.Fatalf("expected u3, got %q", next)
	}
	if next := r.AdvanceAlert("al1"); next != "" {
		t.Fatalf("exhausted list returned %q", next)
	}

	if !r.AlertLive("al1") {
		t.Fatalf("alert resolved by exhaustion alone")
	}
	r.ResolveAlert("al1")
	if r.AlertLive("al1") {
		t.Fatalf("resolved alert still live")
	}
}

func TestAlertUnknownIDs(t *testing.T) {
	r := NewRegistry(time.Minute)

	if r.AlertLive("missing") {
		t.Fatalf("unknown alert reported live")
	}
	if next := r.AdvanceAlert("missing"); next != "" {
		t.Fatalf("advance on unknown alert returned %q", next)
	}
	if _, err := r.GetAlert("missing"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}
}
