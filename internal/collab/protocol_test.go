package collab

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeRecognizesEveryClientEvent(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
		event string
	}{
		{name: "join", frame: `{"type":"join","payload":{"projectId":"p1","userId":"A","userName":"Alice","userColor":"#f00"}}`, event: EventJoin},
		{name: "leave", frame: `{"type":"leave","payload":{"projectId":"p1","userId":"A"}}`, event: EventLeave},
		{name: "cursor", frame: `{"type":"cursor-move","payload":{"projectId":"p1","userId":"A","cursor":{"x":1,"y":2}}}`, event: EventCursorMove},
		{name: "viewport", frame: `{"type":"viewport-change","payload":{"projectId":"p1","userId":"A","viewport":{"x":0,"y":0,"zoom":2}}}`, event: EventViewportChange},
		{name: "select", frame: `{"type":"object-select","payload":{"projectId":"p1","userId":"A","selectedObject":null}}`, event: EventObjectSelect},
		{name: "create comment", frame: `{"type":"create-comment","payload":{"projectId":"p1","comment":{"id":"c1"}}}`, event: EventCreateComment},
		{name: "update comment", frame: `{"type":"update-comment","payload":{"projectId":"p1","comment":{"id":"c1"}}}`, event: EventUpdateComment},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			decoded, err := Decode([]byte(testCase.frame))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if decoded.Event() != testCase.event {
				t.Fatalf("expected %s, got %s", testCase.event, decoded.Event())
			}
		})
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	testCases := []struct {
		name  string
		frame string
		want  error
	}{
		{name: "not json", frame: `hello`, want: ErrMalformedFrame},
		{name: "missing payload", frame: `{"type":"join"}`, want: ErrMalformedFrame},
		{name: "unknown type", frame: `{"type":"teleport","payload":{}}`, want: ErrUnknownEvent},
		{name: "join without project", frame: `{"type":"join","payload":{"userId":"A"}}`, want: ErrMissingProjectID},
		{name: "cursor wrong shape", frame: `{"type":"cursor-move","payload":{"cursor":"left"}}`, want: ErrMalformedFrame},
		{name: "comment array", frame: `{"type":"create-comment","payload":{"projectId":"p1","comment":[1,2]}}`, want: ErrInvalidComment},
		{name: "comment missing", frame: `{"type":"update-comment","payload":{"projectId":"p1"}}`, want: ErrInvalidComment},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if _, err := Decode([]byte(testCase.frame)); !errors.Is(err, testCase.want) {
				t.Fatalf("expected %v, got %v", testCase.want, err)
			}
		})
	}
}

func TestDecodeKeepsSelectionNullDistinctFromMissing(t *testing.T) {
	decoded, err := Decode([]byte(`{"type":"object-select","payload":{"projectId":"p1","userId":"A","selectedObject":"card-1"}}`))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	selection, ok := decoded.(SelectPayload)
	if !ok {
		t.Fatalf("expected SelectPayload, got %T", decoded)
	}
	if selection.SelectedObject == nil || *selection.SelectedObject != "card-1" {
		t.Fatalf("unexpected selection %v", selection.SelectedObject)
	}
}

func TestEncodeRelaysRawPayloadVerbatim(t *testing.T) {
	raw := json.RawMessage(`{"id":"c1","custom":{"nested":true}}`)
	frame, err := Encode(EventCommentCreated, raw)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	want := `{"type":"comment-created","payload":{"id":"c1","custom":{"nested":true}}}`
	if string(frame) != want {
		t.Fatalf("expected %s, got %s", want, frame)
	}
}
