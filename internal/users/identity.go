package users

import (
	"hash/fnv"
	"strings"
	"time"
)

// palette holds the cursor colors handed out to users whose token carries none.
var palette = []string{
	"#ef4444",
	"#f97316",
	"#eab308",
	"#22c55e",
	"#14b8a6",
	"#3b82f6",
	"#8b5cf6",
	"#ec4899",
}

// Identity records the last known display profile of a taskboard user.
type Identity struct {
	UserID      string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	DisplayName string    `gorm:"column:user_display_name;size:320;not null;default:''"`
	Color       string    `gorm:"column:user_color;size:32;not null;default:''"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user identities.
func (Identity) TableName() string {
	return "user_identities"
}

// Profile is what collaborators see of a user.
type Profile struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"userName"`
	Color       string `json:"userColor"`
}

// PaletteColor picks a stable color for a user id.
func PaletteColor(userID string) string {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(userID))
	return palette[hasher.Sum32()%uint32(len(palette))]
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
