package collab

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/presence"
)

const defaultSendBuffer = 256

var errMissingRegistry = errors.New("presence registry is required")

type HubConfig struct {
	Registry        *presence.Registry
	Broadcaster     *Broadcaster
	Metrics         *Metrics
	Logger          *zap.Logger
	SendBuffer      int
	NewConnectionID func() string
}

// Hub owns every live session. Event handling is serialized so that each
// event's registry mutation and broadcast enqueue finish before the next
// event is applied.
type Hub struct {
	mu         sync.Mutex
	registry   *presence.Registry
	rooms      *Broadcaster
	metrics    *Metrics
	logger     *zap.Logger
	sendBuffer int
	newID      func() string
	sessions   map[string]*Session
}

func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Registry == nil {
		return nil, errMissingRegistry
	}
	rooms := cfg.Broadcaster
	if rooms == nil {
		rooms = NewBroadcaster()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sendBuffer := cfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	newID := cfg.NewConnectionID
	if newID == nil {
		newID = func() string {
			return uuid.NewString()
		}
	}
	return &Hub{
		registry:   cfg.Registry,
		rooms:      rooms,
		metrics:    cfg.Metrics,
		logger:     logger,
		sendBuffer: sendBuffer,
		newID:      newID,
		sessions:   make(map[string]*Session),
	}, nil
}

// Open registers a new connection in the Connected state.
func (h *Hub) Open(identity Identity) *Session {
	session := &Session{
		id:       h.newID(),
		hub:      h,
		identity: identity,
		outbox:   make(chan []byte, h.sendBuffer),
		done:     make(chan struct{}),
		state:    StateConnected,
	}
	h.mu.Lock()
	h.sessions[session.id] = session
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	h.logger.Debug("collab connection opened",
		zap.String("connection_id", session.id),
		zap.String("user_id", identity.UserID),
	)
	return session
}

// Shutdown closes every open session, running the implicit leave for each.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, session := range h.sessions {
		h.closeLocked(session, "shutdown")
	}
}

// Sessions reports the number of sessions not yet closed.
func (h *Hub) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

func (h *Hub) handle(s *Session, event Inbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.state == StateClosed {
		return
	}
	h.metrics.RecordEvent(event.Event())

	switch e := event.(type) {
	case JoinPayload:
		h.joinLocked(s, e)
	case LeavePayload:
		if !h.addressedLocked(s, event.Event(), e.ProjectID, e.UserID) {
			return
		}
		h.closeLocked(s, "leave")
	case CursorPayload:
		if !h.addressedLocked(s, event.Event(), e.ProjectID, e.UserID) {
			return
		}
		snapshot, ok := h.registry.UpdateCursor(s.projectID, s.userID, e.Cursor)
		h.presenceChangedLocked(s, snapshot, ok)
	case ViewportPayload:
		if !h.addressedLocked(s, event.Event(), e.ProjectID, e.UserID) {
			return
		}
		snapshot, ok := h.registry.UpdateViewport(s.projectID, s.userID, e.Viewport)
		h.presenceChangedLocked(s, snapshot, ok)
	case SelectPayload:
		if !h.addressedLocked(s, event.Event(), e.ProjectID, e.UserID) {
			return
		}
		snapshot, ok := h.registry.UpdateSelection(s.projectID, s.userID, e.SelectedObject)
		h.presenceChangedLocked(s, snapshot, ok)
	case CommentPayload:
		if !h.addressedLocked(s, event.Event(), e.ProjectID, "") {
			return
		}
		h.broadcastLocked(s.projectID, EventCommentCreated, e.Comment, "")
	case CommentUpdatePayload:
		if !h.addressedLocked(s, event.Event(), e.ProjectID, "") {
			return
		}
		h.broadcastLocked(s.projectID, EventCommentUpdated, e.Comment, "")
	default:
		h.logger.Warn("collab event not handled",
			zap.String("connection_id", s.id),
			zap.String("event", event.Event()),
		)
	}
}

func (h *Hub) joinLocked(s *Session, payload JoinPayload) {
	if s.state != StateConnected {
		h.logger.Debug("collab join ignored on joined session",
			zap.String("connection_id", s.id),
			zap.String("project_id", s.projectID),
		)
		return
	}

	userID := payload.UserID
	userName := strings.TrimSpace(payload.UserName)
	userColor := strings.TrimSpace(payload.UserColor)
	if s.identity.UserID != "" {
		userID = s.identity.UserID
		if userName == "" {
			userName = s.identity.UserName
		}
		if userColor == "" {
			userColor = s.identity.UserColor
		}
	}
	if userID == "" {
		h.logger.Warn("collab join rejected",
			zap.String("connection_id", s.id),
			zap.String("project_id", payload.ProjectID),
			zap.Error(ErrMissingUserID),
		)
		return
	}

	s.projectID = payload.ProjectID
	s.userID = userID
	s.state = StateJoined

	snapshot := h.registry.Join(s.projectID, s.userID, userName, userColor)
	h.rooms.Add(s.projectID, s)
	h.metrics.SetRooms(h.registry.Rooms())
	h.logger.Info("collab user joined",
		zap.String("connection_id", s.id),
		zap.String("project_id", s.projectID),
		zap.String("user_id", s.userID),
	)
	h.broadcastLocked(s.projectID, EventPresenceUpdate, snapshot, "")
}

// addressedLocked drops events on unjoined sessions and events naming a
// project or user other than the session's binding.
func (h *Hub) addressedLocked(s *Session, event, projectID, userID string) bool {
	if s.state != StateJoined {
		h.logger.Debug("collab event before join dropped",
			zap.String("connection_id", s.id),
			zap.String("event", event),
		)
		return false
	}
	if !s.addresses(projectID, userID) {
		h.logger.Debug("collab event for foreign binding dropped",
			zap.String("connection_id", s.id),
			zap.String("event", event),
			zap.String("project_id", projectID),
			zap.String("user_id", userID),
		)
		return false
	}
	return true
}

func (h *Hub) presenceChangedLocked(s *Session, snapshot []presence.State, applied bool) {
	if !applied {
		return
	}
	h.broadcastLocked(s.projectID, EventPresenceUpdate, snapshot, s.id)
}

func (h *Hub) close(s *Session, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeLocked(s, reason)
}

func (h *Hub) closeLocked(s *Session, reason string) {
	if s.state == StateClosed {
		return
	}
	wasJoined := s.state == StateJoined
	s.state = StateClosed
	delete(h.sessions, s.id)
	h.metrics.ConnectionClosed()

	if wasJoined {
		h.rooms.Remove(s.projectID, s.id)
		snapshot, removed := h.registry.Leave(s.projectID, s.userID)
		h.metrics.SetRooms(h.registry.Rooms())
		if removed {
			h.broadcastLocked(s.projectID, EventPresenceUpdate, snapshot, s.id)
		}
		h.logger.Info("collab user left",
			zap.String("connection_id", s.id),
			zap.String("project_id", s.projectID),
			zap.String("user_id", s.userID),
			zap.String("reason", reason),
		)
	}
	s.markDone()
}

func (h *Hub) broadcastLocked(projectID, event string, payload any, excludeID string) {
	frame, err := Encode(event, payload)
	if err != nil {
		h.logger.Error("collab frame encode failed",
			zap.String("project_id", projectID),
			zap.String("event", event),
			zap.Error(err),
		)
		return
	}
	delivered, dropped := h.rooms.Broadcast(projectID, frame, excludeID)
	h.metrics.RecordDelivery(delivered, dropped)
	if dropped > 0 {
		h.logger.Warn("collab outbox full, frames dropped",
			zap.String("project_id", projectID),
			zap.String("event", event),
			zap.Int("dropped", dropped),
		)
	}
}
