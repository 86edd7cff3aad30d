package notify

import (
	"io"
	"log/slog"
	"testing"

	"github.com/Hien110/ecare-signaling/internal/models"
)

type shown struct {
	category Category
	key      string
	n        Notification
}

type fakeNotifier struct {
	shown     []shown
	dismissed []string // "category/key"
}

func (f *fakeNotifier) Show(category Category, key string, n Notification) {
	f.shown = append(f.shown, shown{category, key, n})
}

func (f *fakeNotifier) Dismiss(category Category, key string) {
	f.dismissed = append(f.dismissed, string(category)+"/"+key)
}

type sentEvent struct {
	event string
	data  any
}

type fakeEmitter struct {
	events []sentEvent
}

func (f *fakeEmitter) Send(event string, data any, bestEffort bool) error {
	f.events = append(f.events, sentEvent{event, data})
	return nil
}

type fakeLedger struct {
	actions []models.PendingAction
}

func (f *fakeLedger) Append(action models.PendingAction) error {
	f.actions = append(f.actions, action)
	return nil
}

func newTestPresenter() (*Presenter, *fakeNotifier, *fakeEmitter, *fakeLedger) {
	notifier := &fakeNotifier{}
	emitter := &fakeEmitter{}
	ledger := &fakeLedger{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPresenter(notifier, emitter, ledger, logger), notifier, emitter, ledger
}

func TestShowIncomingCallRoundTripsContext(t *testing.T) {
	p, notifier, _, _ := newTestPresenter()

	p.ShowIncomingCall(models.RingPayload{
		CallID:         "c1",
		ConversationID: "conv1",
		Kind:           models.CallKindDirect,
		Caller:         models.PeerSnapshot{ID: "u2", Name: "Bob", Phone: "555"},
	})

	if len(notifier.shown) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.shown))
	}
	got := notifier.shown[0]
	if got.category != CategoryCall || got.key != "c1" {
		t.Fatalf("wrong category/key: %s/%s", got.category, got.key)
	}
	if got.n.Data["call_id"] != "c1" || got.n.Data["peer_id"] != "u2" || got.n.Data["conversation_id"] != "conv1" {
		t.Fatalf("context not round-tripped: %+v", got.n.Data)
	}
}

func TestEmergencyKindChangesTitle(t *testing.T) {
	p, notifier, _, _ := newTestPresenter()

	p.ShowIncomingCall(models.RingPayload{CallID: "c1", Kind: models.CallKindEmergency, Caller: models.PeerSnapshot{Name: "Bob"}})

	if notifier.shown[0].n.Title != "Incoming emergency call" {
		t.Fatalf("got title %q", notifier.shown[0].n.Title)
	}
}

func TestRejectActionCompletesHeadless(t *testing.T) {
	p, notifier, emitter, ledger := newTestPresenter()

	data := map[string]string{"call_id": "c1", "peer_id": "u2"}
	p.HandleAction(CategoryCall, "c1", ActionReject, data)

	if len(emitter.events) != 1 || emitter.events[0].event != models.EventCallRejected {
		t.Fatalf("reject did not emit: %+v", emitter.events)
	}
	if len(ledger.actions) != 1 || ledger.actions[0].Kind != models.PendingRejectCall {
		t.Fatalf("reject not recorded: %+v", ledger.actions)
	}
	if len(notifier.dismissed) != 1 || notifier.dismissed[0] != "call/c1" {
		t.Fatalf("notification not dismissed: %v", notifier.dismissed)
	}
}

func TestAcceptActionDefersToLedger(t *testing.T) {
	p, notifier, emitter, ledger := newTestPresenter()

	data := map[string]string{"call_id": "c1", "conversation_id": "conv1", "peer_id": "u2", "peer_name": "Bob"}
	p.HandleAction(CategoryCall, "c1", ActionAccept, data)

	if len(emitter.events) != 0 {
		t.Fatalf("accept must not emit before the UI is up: %+v", emitter.events)
	}
	if len(ledger.actions) != 1 {
		t.Fatalf("expected one pending action, got %d", len(ledger.actions))
	}
	action := ledger.actions[0]
	if action.Kind != models.PendingAcceptCall || action.CallID != "c1" || action.Peer.Name != "Bob" {
		t.Fatalf("pending action lost context: %+v", action)
	}
	if len(notifier.dismissed) != 1 {
		t.Fatalf("notification not dismissed")
	}
}

func TestViewActionDoesNotAccept(t *testing.T) {
	p, notifier, emitter, ledger := newTestPresenter()

	data := map[string]string{"call_id": "c1", "peer_id": "u2"}
	p.HandleAction(CategoryCall, "c1", ActionView, data)

	if len(emitter.events) != 0 {
		t.Fatalf("view must not emit: %+v", emitter.events)
	}
	if len(ledger.actions) != 1 || ledger.actions[0].Kind != models.PendingViewCall {
		t.Fatalf("view persisted as the wrong kind: %+v", ledger.actions)
	}
	if len(notifier.dismissed) != 1 {
		t.Fatalf("notification not dismissed")
	}
}

func TestAlertActions(t *testing.T) {
	p, _, emitter, ledger := newTestPresenter()

	p.HandleAction(CategoryEmergency, "al1", ActionReject, map[string]string{"alert_id": "al1"})
	p.HandleAction(CategoryEmergency, "al1", ActionView, map[string]string{"alert_id": "al1"})

	if len(emitter.events) != 1 || emitter.events[0].event != models.EventAlertDeclined {
		t.Fatalf("decline not emitted: %+v", emitter.events)
	}
	if len(ledger.actions) != 2 {
		t.Fatalf("expected 2 pending actions, got %d", len(ledger.actions))
	}
	if ledger.actions[0].Kind != models.PendingRejectAlertCall || ledger.actions[1].Kind != models.PendingViewAlertDetail {
		t.Fatalf("wrong kinds: %+v", ledger.actions)
	}
}

func TestWellnessImOK(t *testing.T) {
	p, notifier, emitter, ledger := newTestPresenter()

	p.ShowWellnessReminder(models.WellnessPayload{ReminderID: "r1"})
	p.HandleAction(CategoryWellness, "r1", ActionImOK, nil)

	if len(emitter.events) != 1 || emitter.events[0].event != models.EventWellnessAck {
		t.Fatalf("ack not emitted: %+v", emitter.events)
	}
	if len(ledger.actions) != 0 {
		t.Fatalf("wellness ack must not persist an action")
	}
	if len(notifier.dismissed) != 1 || notifier.dismissed[0] != "wellness/r1" {
		t.Fatalf("reminder not dismissed: %v", notifier.dismissed)
	}
}

func TestUnknownCategoryIgnored(t *testing.T) {
	p, notifier, emitter, ledger := newTestPresenter()

	p.HandleAction(Category("mail"), "x", ActionAccept, nil)

	if len(emitter.events) != 0 || len(ledger.actions) != 0 || len(notifier.dismissed) != 0 {
		t.Fatalf("unknown category produced side effects")
	}
}
