package collab

import "testing"

type recordingSubscriber struct {
	id     string
	frames [][]byte
	full   bool
}

func (s *recordingSubscriber) ID() string {
	return s.id
}

func (s *recordingSubscriber) Deliver(frame []byte) bool {
	if s.full {
		return false
	}
	s.frames = append(s.frames, frame)
	return true
}

func TestBroadcasterDeliversToRoomMembers(t *testing.T) {
	broadcaster := NewBroadcaster()
	first := &recordingSubscriber{id: "one"}
	second := &recordingSubscriber{id: "two"}
	broadcaster.Add("p1", first)
	broadcaster.Add("p1", second)

	delivered, dropped := broadcaster.Broadcast("p1", []byte("frame"), "")
	if delivered != 2 || dropped != 0 {
		t.Fatalf("expected 2 delivered, got %d delivered %d dropped", delivered, dropped)
	}
	if len(first.frames) != 1 || len(second.frames) != 1 {
		t.Fatalf("expected each member to receive one frame")
	}
}

func TestBroadcasterExcludesSender(t *testing.T) {
	broadcaster := NewBroadcaster()
	sender := &recordingSubscriber{id: "sender"}
	peer := &recordingSubscriber{id: "peer"}
	broadcaster.Add("p1", sender)
	broadcaster.Add("p1", peer)

	broadcaster.Broadcast("p1", []byte("frame"), "sender")
	if len(sender.frames) != 0 {
		t.Fatalf("did not expect frame for excluded sender")
	}
	if len(peer.frames) != 1 {
		t.Fatalf("expected peer to receive frame")
	}
}

func TestBroadcasterIsolatedByProject(t *testing.T) {
	broadcaster := NewBroadcaster()
	inside := &recordingSubscriber{id: "inside"}
	outside := &recordingSubscriber{id: "outside"}
	broadcaster.Add("p1", inside)
	broadcaster.Add("p2", outside)

	broadcaster.Broadcast("p1", []byte("frame"), "")
	if len(outside.frames) != 0 {
		t.Fatalf("did not expect frame for another project")
	}
}

func TestBroadcasterCountsDropsAndForgetsEmptyRooms(t *testing.T) {
	broadcaster := NewBroadcaster()
	slow := &recordingSubscriber{id: "slow", full: true}
	broadcaster.Add("p1", slow)

	if _, dropped := broadcaster.Broadcast("p1", []byte("frame"), ""); dropped != 1 {
		t.Fatalf("expected dropped frame, got %d", dropped)
	}

	broadcaster.Remove("p1", "slow")
	if broadcaster.Members("p1") != 0 {
		t.Fatalf("expected empty room")
	}
	if delivered, dropped := broadcaster.Broadcast("p1", []byte("frame"), ""); delivered != 0 || dropped != 0 {
		t.Fatalf("expected no deliveries to removed room")
	}
}
