package collab

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/presence"
)

func newTestHub(t *testing.T, sendBuffer int) (*Hub, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	sequence := 0
	hub, err := NewHub(HubConfig{
		Registry: presence.NewRegistry(presence.RegistryConfig{
			Clock: func() time.Time { return time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC) },
		}),
		Metrics:    metrics,
		SendBuffer: sendBuffer,
		NewConnectionID: func() string {
			sequence++
			return fmt.Sprintf("conn-%d", sequence)
		},
	})
	if err != nil {
		t.Fatalf("failed to construct hub: %v", err)
	}
	return hub, metrics
}

func receiveFrame(t *testing.T, session *Session) Envelope {
	t.Helper()
	select {
	case frame := <-session.Outbox():
		var envelope Envelope
		if err := json.Unmarshal(frame, &envelope); err != nil {
			t.Fatalf("failed to decode frame: %v", err)
		}
		return envelope
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("expected frame for %s", session.ID())
	}
	return Envelope{}
}

func receivePresence(t *testing.T, session *Session) []presence.State {
	t.Helper()
	envelope := receiveFrame(t, session)
	if envelope.Type != EventPresenceUpdate {
		t.Fatalf("expected %s, got %s", EventPresenceUpdate, envelope.Type)
	}
	var states []presence.State
	if err := json.Unmarshal(envelope.Payload, &states); err != nil {
		t.Fatalf("failed to decode presence payload: %v", err)
	}
	return states
}

func expectNoFrame(t *testing.T, session *Session) {
	t.Helper()
	select {
	case frame := <-session.Outbox():
		t.Fatalf("did not expect frame for %s, got %s", session.ID(), frame)
	default:
	}
}

func userIDs(states []presence.State) []string {
	ids := make([]string, 0, len(states))
	for _, state := range states {
		ids = append(ids, state.UserID)
	}
	return ids
}

func TestNewHubRequiresRegistry(t *testing.T) {
	if _, err := NewHub(HubConfig{}); err == nil {
		t.Fatalf("expected missing registry error")
	}
}

func TestPresenceScenarioTwoUsers(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})

	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A", UserName: "Alice", UserColor: "#f00"})
	if states := receivePresence(t, alice); len(states) != 1 || states[0].UserID != "A" {
		t.Fatalf("expected alice alone after join, got %v", userIDs(states))
	}

	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B", UserName: "Bob", UserColor: "#00f"})
	for _, session := range []*Session{alice, bob} {
		states := receivePresence(t, session)
		if ids := userIDs(states); len(ids) != 2 || ids[0] != "A" || ids[1] != "B" {
			t.Fatalf("expected [A B] for %s, got %v", session.ID(), ids)
		}
	}

	alice.Handle(CursorPayload{ProjectID: "p1", UserID: "A", Cursor: presence.Point{X: 10, Y: 20}})
	states := receivePresence(t, bob)
	if states[0].Cursor != (presence.Point{X: 10, Y: 20}) {
		t.Fatalf("expected alice cursor in bob's snapshot, got %+v", states[0].Cursor)
	}
	expectNoFrame(t, alice)

	alice.Handle(LeavePayload{ProjectID: "p1", UserID: "A"})
	if ids := userIDs(receivePresence(t, bob)); len(ids) != 1 || ids[0] != "B" {
		t.Fatalf("expected [B] after alice left, got %v", ids)
	}
	expectNoFrame(t, alice)
	if alice.State() != StateClosed {
		t.Fatalf("expected alice closed after leave, got %s", alice.State())
	}
	select {
	case <-alice.Done():
	default:
		t.Fatalf("expected done channel closed after leave")
	}
}

func TestCommentScenarioIncludesSender(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, alice)
	receivePresence(t, alice)
	receivePresence(t, bob)

	comment := json.RawMessage(`{"id":"c1","x":5,"y":5,"text":"hi","resolved":false,"replies":[]}`)
	alice.Handle(CommentPayload{ProjectID: "p1", Comment: comment})
	for _, session := range []*Session{alice, bob} {
		envelope := receiveFrame(t, session)
		if envelope.Type != EventCommentCreated {
			t.Fatalf("expected %s, got %s", EventCommentCreated, envelope.Type)
		}
		if string(envelope.Payload) != string(comment) {
			t.Fatalf("expected verbatim comment, got %s", envelope.Payload)
		}
	}

	updated := json.RawMessage(`{"id":"c1","x":5,"y":5,"text":"hi","resolved":true,"replies":[]}`)
	bob.Handle(CommentUpdatePayload{ProjectID: "p1", Comment: updated})
	for _, session := range []*Session{alice, bob} {
		envelope := receiveFrame(t, session)
		if envelope.Type != EventCommentUpdated || string(envelope.Payload) != string(updated) {
			t.Fatalf("unexpected update frame %s %s", envelope.Type, envelope.Payload)
		}
	}
}

func TestEventsBeforeJoinAreDropped(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	observer := hub.Open(Identity{})
	observer.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, observer)

	stranger := hub.Open(Identity{})
	stranger.Handle(CursorPayload{ProjectID: "p1", UserID: "A", Cursor: presence.Point{X: 1, Y: 1}})
	stranger.Handle(CommentPayload{ProjectID: "p1", Comment: json.RawMessage(`{"id":"c1"}`)})
	stranger.Handle(LeavePayload{ProjectID: "p1", UserID: "A"})

	expectNoFrame(t, observer)
	expectNoFrame(t, stranger)
	if stranger.State() != StateConnected {
		t.Fatalf("expected unjoined session to stay connected, got %s", stranger.State())
	}
	if hub.registry.Len("p1") != 1 {
		t.Fatalf("expected registry untouched, got %d entries", hub.registry.Len("p1"))
	}
}

func TestSecondJoinIsIgnored(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	session := hub.Open(Identity{})
	session.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	receivePresence(t, session)

	session.Handle(JoinPayload{ProjectID: "p2", UserID: "A"})
	expectNoFrame(t, session)
	if projectID, _ := session.Binding(); projectID != "p1" {
		t.Fatalf("expected binding to stay on p1, got %s", projectID)
	}
	if hub.registry.Len("p2") != 0 {
		t.Fatalf("expected no presence in p2")
	}
}

func TestForeignBindingIsDropped(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, alice)
	receivePresence(t, alice)
	receivePresence(t, bob)

	alice.Handle(CursorPayload{ProjectID: "p1", UserID: "B", Cursor: presence.Point{X: 9, Y: 9}})
	alice.Handle(ViewportPayload{ProjectID: "p2", UserID: "A", Viewport: presence.Viewport{Zoom: 2}})
	expectNoFrame(t, bob)

	for _, state := range hub.registry.Snapshot("p1") {
		if state.UserID == "B" && state.Cursor != (presence.Point{}) {
			t.Fatalf("expected bob's cursor untouched, got %+v", state.Cursor)
		}
	}
}

func TestLeaveForForeignBindingIsIgnored(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, alice)
	receivePresence(t, alice)
	receivePresence(t, bob)

	alice.Handle(LeavePayload{ProjectID: "p1", UserID: "B"})
	alice.Handle(LeavePayload{ProjectID: "p2", UserID: "A"})

	if alice.State() != StateJoined {
		t.Fatalf("expected alice still joined, got %s", alice.State())
	}
	if got := userIDs(hub.registry.Snapshot("p1")); len(got) != 2 {
		t.Fatalf("expected both users present, got %v", got)
	}
	expectNoFrame(t, bob)

	alice.Handle(LeavePayload{ProjectID: "p1", UserID: "A"})
	if alice.State() != StateClosed {
		t.Fatalf("expected alice closed after own leave, got %s", alice.State())
	}
	if got := userIDs(receivePresence(t, bob)); len(got) != 1 || got[0] != "B" {
		t.Fatalf("expected only bob after leave, got %v", got)
	}
}

func TestVerifiedIdentityOverridesJoinPayload(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	session := hub.Open(Identity{UserID: "user-42", UserName: "Ada", UserColor: "#123456"})
	session.Handle(JoinPayload{ProjectID: "p1", UserID: "spoofed"})

	states := receivePresence(t, session)
	if len(states) != 1 || states[0].UserID != "user-42" {
		t.Fatalf("expected verified user id, got %v", userIDs(states))
	}
	if states[0].UserName != "Ada" || states[0].UserColor != "#123456" {
		t.Fatalf("expected identity defaults, got %+v", states[0])
	}
}

func TestSelectionBroadcastExcludesSender(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, alice)
	receivePresence(t, alice)
	receivePresence(t, bob)

	card := "card-7"
	bob.Handle(SelectPayload{ProjectID: "p1", UserID: "B", SelectedObject: &card})
	states := receivePresence(t, alice)
	if states[1].SelectedObject == nil || *states[1].SelectedObject != card {
		t.Fatalf("expected bob's selection, got %+v", states[1].SelectedObject)
	}
	expectNoFrame(t, bob)

	bob.Handle(ViewportPayload{ProjectID: "p1", UserID: "B", Viewport: presence.Viewport{X: 1, Y: 2, Zoom: 1.5}})
	states = receivePresence(t, alice)
	if states[1].Viewport.Zoom != 1.5 || states[1].SelectedObject == nil {
		t.Fatalf("expected viewport update to keep selection, got %+v", states[1])
	}
}

func TestDisconnectRunsImplicitLeave(t *testing.T) {
	hub, metrics := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, alice)
	receivePresence(t, alice)
	receivePresence(t, bob)

	if got := testutil.ToFloat64(metrics.Connections); got != 2 {
		t.Fatalf("expected 2 connections, got %v", got)
	}

	bob.Close("disconnect")
	bob.Close("disconnect")
	if ids := userIDs(receivePresence(t, alice)); len(ids) != 1 || ids[0] != "A" {
		t.Fatalf("expected [A] after bob dropped, got %v", ids)
	}
	expectNoFrame(t, alice)

	bob.Handle(CursorPayload{ProjectID: "p1", UserID: "B"})
	expectNoFrame(t, alice)

	if got := testutil.ToFloat64(metrics.Connections); got != 1 {
		t.Fatalf("expected 1 connection after close, got %v", got)
	}
	if hub.Sessions() != 1 {
		t.Fatalf("expected 1 live session, got %d", hub.Sessions())
	}
}

func TestLastLeaveDiscardsRoom(t *testing.T) {
	hub, metrics := newTestHub(t, 8)
	session := hub.Open(Identity{})
	session.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	receivePresence(t, session)
	if got := testutil.ToFloat64(metrics.Rooms); got != 1 {
		t.Fatalf("expected 1 room, got %v", got)
	}

	session.Handle(LeavePayload{})
	if hub.registry.Rooms() != 0 || hub.rooms.Members("p1") != 0 {
		t.Fatalf("expected room discarded")
	}
	if got := testutil.ToFloat64(metrics.Rooms); got != 0 {
		t.Fatalf("expected 0 rooms, got %v", got)
	}
}

func TestFullOutboxDropsFrames(t *testing.T) {
	hub, metrics := newTestHub(t, 1)
	alice := hub.Open(Identity{})
	bob := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	receivePresence(t, alice)
	bob.Handle(JoinPayload{ProjectID: "p1", UserID: "B"})
	receivePresence(t, bob)

	for i := 0; i < 3; i++ {
		bob.Handle(CursorPayload{ProjectID: "p1", UserID: "B", Cursor: presence.Point{X: float64(i)}})
	}

	if got := testutil.ToFloat64(metrics.FramesDropped); got != 3 {
		t.Fatalf("expected 3 dropped frames, got %v", got)
	}
	receivePresence(t, alice)
	expectNoFrame(t, alice)
}

func TestShutdownClosesEverySession(t *testing.T) {
	hub, _ := newTestHub(t, 8)
	alice := hub.Open(Identity{})
	idle := hub.Open(Identity{})
	alice.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	receivePresence(t, alice)

	hub.Shutdown()

	for _, session := range []*Session{alice, idle} {
		if session.State() != StateClosed {
			t.Fatalf("expected %s closed, got %s", session.ID(), session.State())
		}
	}
	if hub.registry.Rooms() != 0 {
		t.Fatalf("expected registry emptied on shutdown")
	}
}

func TestEventCounterByType(t *testing.T) {
	hub, metrics := newTestHub(t, 8)
	session := hub.Open(Identity{})
	session.Handle(JoinPayload{ProjectID: "p1", UserID: "A"})
	session.Handle(CursorPayload{ProjectID: "p1", UserID: "A"})
	session.Handle(CursorPayload{ProjectID: "p1", UserID: "A"})

	if got := testutil.ToFloat64(metrics.Events.WithLabelValues(EventCursorMove)); got != 2 {
		t.Fatalf("expected 2 cursor events, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Events.WithLabelValues(EventJoin)); got != 1 {
		t.Fatalf("expected 1 join event, got %v", got)
	}
}
