package collab

import "sync"

// Subscriber receives encoded frames for a room.
type Subscriber interface {
	ID() string
	// Deliver enqueues a frame without blocking and reports whether it was accepted.
	Deliver(frame []byte) bool
}

// Broadcaster keeps room membership and fans frames out to members.
type Broadcaster struct {
	mu    sync.RWMutex
	rooms map[string]map[string]Subscriber
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		rooms: make(map[string]map[string]Subscriber),
	}
}

func (b *Broadcaster) Add(projectID string, subscriber Subscriber) {
	if projectID == "" || subscriber == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	members, ok := b.rooms[projectID]
	if !ok {
		members = make(map[string]Subscriber)
		b.rooms[projectID] = members
	}
	members[subscriber.ID()] = subscriber
}

func (b *Broadcaster) Remove(projectID, subscriberID string) {
	b.mu.Lock()
	members := b.rooms[projectID]
	if members != nil {
		delete(members, subscriberID)
		if len(members) == 0 {
			delete(b.rooms, projectID)
		}
	}
	b.mu.Unlock()
}

// Broadcast delivers frame to every member of the room except excludeID.
// Members whose outbox is full miss the frame.
func (b *Broadcaster) Broadcast(projectID string, frame []byte, excludeID string) (delivered, dropped int) {
	b.mu.RLock()
	members := b.rooms[projectID]
	if len(members) == 0 {
		b.mu.RUnlock()
		return 0, 0
	}
	copies := make([]Subscriber, 0, len(members))
	for id, subscriber := range members {
		if excludeID != "" && id == excludeID {
			continue
		}
		copies = append(copies, subscriber)
	}
	b.mu.RUnlock()

	for _, subscriber := range copies {
		if subscriber.Deliver(frame) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}

// Members reports the number of subscribers in a room.
func (b *Broadcaster) Members(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[projectID])
}
