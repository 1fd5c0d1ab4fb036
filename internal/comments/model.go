package comments

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	maxTextLength       = 8192
)

var (
	// ErrInvalidProjectID indicates that a project identifier is empty or exceeds storage bounds.
	ErrInvalidProjectID = errors.New("comments: invalid project id")
	// ErrInvalidCommentID indicates that a comment identifier is empty or exceeds storage bounds.
	ErrInvalidCommentID = errors.New("comments: invalid comment id")
	// ErrInvalidAuthor indicates that the author identity is incomplete.
	ErrInvalidAuthor = errors.New("comments: invalid author")
	// ErrInvalidText indicates that comment text is empty or too long.
	ErrInvalidText = errors.New("comments: invalid text")
	// ErrNotFound indicates that no comment matches the project and id.
	ErrNotFound = errors.New("comments: not found")
)

// Reply is a threaded answer to a spatial comment.
type Reply struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// SpatialComment is a comment pinned to a canvas position. The durable copy
// lives in the spatial_comments table; the live channel only relays whole
// objects of this shape.
type SpatialComment struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	ProjectID string    `gorm:"column:project_id;size:190;not null;index:idx_comments_project_created,priority:1" json:"projectId,omitempty"`
	UserID    string    `gorm:"column:user_id;size:190;not null" json:"userId"`
	UserName  string    `gorm:"column:user_name;size:320;not null;default:''" json:"userName"`
	UserColor string    `gorm:"column:user_color;size:32;not null;default:''" json:"userColor"`
	Text      string    `gorm:"column:text;type:text;not null" json:"text"`
	X         float64   `gorm:"column:x;not null;default:0" json:"x"`
	Y         float64   `gorm:"column:y;not null;default:0" json:"y"`
	Resolved  bool      `gorm:"column:resolved;not null;default:false" json:"resolved"`
	Replies   []Reply   `gorm:"column:replies;type:text;serializer:json" json:"replies"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_comments_project_created,priority:2" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updatedAt"`
}

// TableName provides the explicit table binding for GORM.
func (SpatialComment) TableName() string {
	return "spatial_comments"
}

// Author identifies who wrote a comment or reply.
type Author struct {
	UserID    string
	UserName  string
	UserColor string
}

// CreateRequest describes a new comment.
type CreateRequest struct {
	Author Author
	Text   string
	X      float64
	Y      float64
}

// UpdateRequest carries the full new state of a comment's mutable fields.
// Nil Replies leaves the stored thread untouched.
type UpdateRequest struct {
	Text     string
	X        float64
	Y        float64
	Resolved bool
	Replies  []Reply
}

// ReplyRequest describes a reply appended to a comment thread.
type ReplyRequest struct {
	Author Author
	Text   string
}

func validateIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

func validateText(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidText)
	}
	if len(trimmed) > maxTextLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidText, maxTextLength)
	}
	return trimmed, nil
}

func (a Author) validate() (Author, error) {
	userID, err := validateIdentifier(a.UserID, ErrInvalidAuthor)
	if err != nil {
		return Author{}, err
	}
	return Author{
		UserID:    userID,
		UserName:  strings.TrimSpace(a.UserName),
		UserColor: strings.TrimSpace(a.UserColor),
	}, nil
}
