package users

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/auth"
)

// ErrInvalidIdentity indicates the claims did not contain a usable identifier.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// ServiceConfig describes the dependencies required for profile resolution.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service resolves token claims into collaborator profiles and remembers them.
type Service struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	cache  sync.Map
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}, nil
}

// ResolveProfile upserts the identity named by claims and returns its profile.
// Claims win over stored values; a user without any color gets a palette color.
func (s *Service) ResolveProfile(claims auth.Claims) (Profile, error) {
	userID := normalize(claims.UserID)
	if userID == "" {
		userID = normalize(claims.Subject)
	}
	if userID == "" {
		return Profile{}, ErrInvalidIdentity
	}
	displayName := normalize(claims.UserDisplayName)
	color := normalize(claims.UserColor)

	if cached, ok := s.cache.Load(userID); ok {
		profile, ok := cached.(Profile)
		if ok && (displayName == "" || displayName == profile.DisplayName) && (color == "" || color == profile.Color) {
			return profile, nil
		}
	}

	var identity Identity
	err := s.db.Where("user_id = ?", userID).First(&identity).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		identity = Identity{
			UserID:      userID,
			DisplayName: displayName,
			Color:       color,
			LastSeenAt:  s.now().UTC(),
		}
		if identity.DisplayName == "" {
			identity.DisplayName = userID
		}
		if identity.Color == "" {
			identity.Color = PaletteColor(userID)
		}
		if err := s.db.Create(&identity).Error; err != nil {
			return Profile{}, err
		}
	case err != nil:
		return Profile{}, err
	default:
		updates := map[string]interface{}{
			"last_seen_at": s.now().UTC(),
		}
		if displayName != "" && displayName != identity.DisplayName {
			updates["user_display_name"] = displayName
			identity.DisplayName = displayName
		}
		if color != "" && color != identity.Color {
			updates["user_color"] = color
			identity.Color = color
		}
		if err := s.db.Model(&Identity{}).Where("user_id = ?", userID).Updates(updates).Error; err != nil {
			s.logger.Warn("user identity refresh failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	profile := Profile{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Color:       identity.Color,
	}
	s.cache.Store(userID, profile)
	return profile, nil
}
