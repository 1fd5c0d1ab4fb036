package collab

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/presence"
)

// Client -> server events.
const (
	EventJoin           = "join"
	EventLeave          = "leave"
	EventCursorMove     = "cursor-move"
	EventViewportChange = "viewport-change"
	EventObjectSelect   = "object-select"
	EventCreateComment  = "create-comment"
	EventUpdateComment  = "update-comment"
)

// Server -> client events.
const (
	EventPresenceUpdate = "presence-update"
	EventCommentCreated = "comment-created"
	EventCommentUpdated = "comment-updated"
)

var (
	ErrMalformedFrame   = errors.New("collab: malformed frame")
	ErrUnknownEvent     = errors.New("collab: unknown event")
	ErrMissingProjectID = errors.New("collab: project id required")
	ErrMissingUserID    = errors.New("collab: user id required")
	ErrInvalidComment   = errors.New("collab: comment must be a json object")
)

// Envelope is the frame shape for both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound is a decoded client -> server event.
type Inbound interface {
	Event() string
}

type JoinPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	UserColor string `json:"userColor"`
}

type LeavePayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
}

type CursorPayload struct {
	ProjectID string         `json:"projectId"`
	UserID    string         `json:"userId"`
	Cursor    presence.Point `json:"cursor"`
}

type ViewportPayload struct {
	ProjectID string            `json:"projectId"`
	UserID    string            `json:"userId"`
	Viewport  presence.Viewport `json:"viewport"`
}

type SelectPayload struct {
	ProjectID      string  `json:"projectId"`
	UserID         string  `json:"userId"`
	SelectedObject *string `json:"selectedObject"`
}

// CommentPayload carries a whole comment object. The server relays Comment
// byte-for-byte and never interprets its fields.
type CommentPayload struct {
	ProjectID string          `json:"projectId"`
	Comment   json.RawMessage `json:"comment"`
}

// CommentUpdatePayload is CommentPayload tagged for update-comment.
type CommentUpdatePayload CommentPayload

func (JoinPayload) Event() string          { return EventJoin }
func (LeavePayload) Event() string         { return EventLeave }
func (CursorPayload) Event() string        { return EventCursorMove }
func (ViewportPayload) Event() string      { return EventViewportChange }
func (SelectPayload) Event() string        { return EventObjectSelect }
func (CommentPayload) Event() string       { return EventCreateComment }
func (CommentUpdatePayload) Event() string { return EventUpdateComment }

// Decode parses and validates one client frame.
func Decode(data []byte) (Inbound, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(envelope.Payload) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformedFrame)
	}

	switch envelope.Type {
	case EventJoin:
		var payload JoinPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		payload.ProjectID = strings.TrimSpace(payload.ProjectID)
		payload.UserID = strings.TrimSpace(payload.UserID)
		if payload.ProjectID == "" {
			return nil, ErrMissingProjectID
		}
		return payload, nil
	case EventLeave:
		var payload LeavePayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case EventCursorMove:
		var payload CursorPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case EventViewportChange:
		var payload ViewportPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case EventObjectSelect:
		var payload SelectPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	case EventCreateComment, EventUpdateComment:
		var payload CommentPayload
		if err := decodePayload(envelope.Payload, &payload); err != nil {
			return nil, err
		}
		if !isJSONObject(payload.Comment) {
			return nil, ErrInvalidComment
		}
		if envelope.Type == EventUpdateComment {
			return CommentUpdatePayload(payload), nil
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, envelope.Type)
	}
}

// Encode builds a frame for the given event.
func Encode(event string, payload any) ([]byte, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = encoded
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

func decodePayload(raw json.RawMessage, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
