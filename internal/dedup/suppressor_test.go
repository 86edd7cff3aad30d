package dedup

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleOnce(t *testing.T) {
	s := NewSuppressor(time.Minute, nil, testLogger())

	if !s.HandleOnce("call:c1") {
		t.Fatalf("first sighting must win")
	}
	if s.HandleOnce("call:c1") {
		t.Fatalf("duplicate within retention must lose")
	}
	if !s.HandleOnce("alert:c1") {
		t.Fatalf("same id in another namespace is a distinct event")
	}
}

func TestRetentionExpiry(t *testing.T) {
	s := NewSuppressor(time.Minute, nil, testLogger())

	base := time.Unix(1700000000, 0)
	s.nowFn = func() time.Time { return base }
	s.MarkHandled("call:c1")

	if !s.HasHandled("call:c1") {
		t.Fatalf("mark not visible inside retention window")
	}

	s.nowFn = func() time.Time { return base.Add(2 * time.Minute) }
	if s.HasHandled("call:c1") {
		t.Fatalf("mark survived past retention window")
	}
}

type fakeMarks struct {
	handled map[string]time.Time
}

func (f *fakeMarks) WasHandled(id string, now time.Time) bool {
	expiresAt, ok := f.handled[id]
	return ok && now.Before(expiresAt)
}

func (f *fakeMarks) MarkHandled(id string, expiresAt time.Time) error {
	f.handled[id] = expiresAt
	return nil
}

func (f *fakeMarks) PurgeExpired(now time.Time) error { return nil }

func TestDurableMirrorConsulted(t *testing.T) {
	marks := &fakeMarks{handled: map[string]time.Time{
		"call:survived": time.Now().Add(time.Minute),
	}}
	s := NewSuppressor(time.Minute, marks, testLogger())

	// Memory set is empty, as after a process restart. The durable
	// mirror still knows the id.
	if s.HandleOnce("call:survived") {
		t.Fatalf("durably marked id handled twice")
	}

	s.MarkHandled("call:new")
	if _, ok := marks.handled["call:new"]; !ok {
		t.Fatalf("new mark not mirrored durably")
	}
}
