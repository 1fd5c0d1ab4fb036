package presence

import "time"

const defaultZoom = 1

// Point is a pointer position in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport is a canvas view transform.
type Viewport struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// State describes one user's live status within one project.
type State struct {
	UserID         string    `json:"userId"`
	UserName       string    `json:"userName"`
	UserColor      string    `json:"userColor"`
	Cursor         Point     `json:"cursor"`
	Viewport       Viewport  `json:"viewport"`
	SelectedObject *string   `json:"selectedObject"`
	LastActive     time.Time `json:"lastActive"`
}

func newState(userID, userName, userColor string, now time.Time) *State {
	return &State{
		UserID:     userID,
		UserName:   userName,
		UserColor:  userColor,
		Cursor:     Point{},
		Viewport:   Viewport{Zoom: defaultZoom},
		LastActive: now,
	}
}

// clone detaches the selection pointer so snapshots never alias registry memory.
func (s *State) clone() State {
	copied := *s
	if s.SelectedObject != nil {
		selected := *s.SelectedObject
		copied.SelectedObject = &selected
	}
	return copied
}
