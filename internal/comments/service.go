package comments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "comments.service.new"
	opList       = "comments.list"
	opGet        = "comments.get"
	opCreate     = "comments.create"
	opUpdate     = "comments.update"
	opAddReply   = "comments.add_reply"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type IDProvider interface {
	NewCommentID() (string, error)
	NewReplyID() (string, error)
}

// Service is the durable store for spatial comments. It is consulted for the
// initial canvas load and written by the CRUD API; the live channel never
// touches it.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// List returns every comment for the project, oldest first.
func (s *Service) List(ctx context.Context, projectID string) ([]SpatialComment, error) {
	project, err := validateIdentifier(projectID, ErrInvalidProjectID)
	if err != nil {
		return nil, err
	}

	var comments []SpatialComment
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", project).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("project_id", project))
		return nil, newServiceError(opList, "query_failed", err)
	}
	for index := range comments {
		comments[index].normalize()
	}
	return comments, nil
}

// Get loads one comment.
func (s *Service) Get(ctx context.Context, projectID, commentID string) (SpatialComment, error) {
	project, err := validateIdentifier(projectID, ErrInvalidProjectID)
	if err != nil {
		return SpatialComment{}, err
	}
	id, err := validateIdentifier(commentID, ErrInvalidCommentID)
	if err != nil {
		return SpatialComment{}, err
	}

	comment, err := s.load(s.db.WithContext(ctx), project, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SpatialComment{}, err
		}
		s.logError(opGet, "query_failed", err, zap.String("project_id", project), zap.String("comment_id", id))
		return SpatialComment{}, newServiceError(opGet, "query_failed", err)
	}
	return comment, nil
}

// Create stores a new comment with a server-assigned id.
func (s *Service) Create(ctx context.Context, projectID string, request CreateRequest) (SpatialComment, error) {
	project, err := validateIdentifier(projectID, ErrInvalidProjectID)
	if err != nil {
		return SpatialComment{}, err
	}
	author, err := request.Author.validate()
	if err != nil {
		return SpatialComment{}, err
	}
	text, err := validateText(request.Text)
	if err != nil {
		return SpatialComment{}, err
	}

	id, err := s.idProvider.NewCommentID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("project_id", project))
		return SpatialComment{}, newServiceError(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	comment := SpatialComment{
		ID:        id,
		ProjectID: project,
		UserID:    author.UserID,
		UserName:  author.UserName,
		UserColor: author.UserColor,
		Text:      text,
		X:         request.X,
		Y:         request.Y,
		Replies:   []Reply{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.WithContext(ctx).Create(&comment).Error; err != nil {
		s.logError(opCreate, "insert_failed", err, zap.String("project_id", project), zap.String("comment_id", id))
		return SpatialComment{}, newServiceError(opCreate, "insert_failed", err)
	}
	return comment, nil
}

// Update replaces the mutable fields of a comment with the caller's state.
func (s *Service) Update(ctx context.Context, projectID, commentID string, request UpdateRequest) (SpatialComment, error) {
	text, err := validateText(request.Text)
	if err != nil {
		return SpatialComment{}, err
	}
	return s.modify(ctx, opUpdate, projectID, commentID, func(comment *SpatialComment) error {
		comment.Text = text
		comment.X = request.X
		comment.Y = request.Y
		comment.Resolved = request.Resolved
		if request.Replies != nil {
			comment.Replies = append([]Reply(nil), request.Replies...)
		}
		return nil
	})
}

// AddReply appends a reply to the comment thread.
func (s *Service) AddReply(ctx context.Context, projectID, commentID string, request ReplyRequest) (SpatialComment, error) {
	author, err := request.Author.validate()
	if err != nil {
		return SpatialComment{}, err
	}
	text, err := validateText(request.Text)
	if err != nil {
		return SpatialComment{}, err
	}
	return s.modify(ctx, opAddReply, projectID, commentID, func(comment *SpatialComment) error {
		replyID, err := s.idProvider.NewReplyID()
		if err != nil {
			return newServiceError(opAddReply, "id_generation_failed", err)
		}
		comment.Replies = append(comment.Replies, Reply{
			ID:        replyID,
			UserID:    author.UserID,
			UserName:  author.UserName,
			Text:      text,
			CreatedAt: s.clock().UTC(),
		})
		return nil
	})
}

func (s *Service) modify(ctx context.Context, operation, projectID, commentID string, apply func(*SpatialComment) error) (SpatialComment, error) {
	project, err := validateIdentifier(projectID, ErrInvalidProjectID)
	if err != nil {
		return SpatialComment{}, err
	}
	id, err := validateIdentifier(commentID, ErrInvalidCommentID)
	if err != nil {
		return SpatialComment{}, err
	}

	var updated SpatialComment
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		comment, err := s.load(tx.Clauses(clause.Locking{Strength: "UPDATE"}), project, id)
		if err != nil {
			return err
		}
		if err := apply(&comment); err != nil {
			return err
		}
		comment.UpdatedAt = s.clock().UTC()
		if err := tx.Save(&comment).Error; err != nil {
			return newServiceError(operation, "save_failed", err)
		}
		updated = comment
		return nil
	})
	if txErr != nil {
		if errors.Is(txErr, ErrNotFound) {
			return SpatialComment{}, txErr
		}
		s.logError(operation, "transaction_failed", txErr, zap.String("project_id", project), zap.String("comment_id", id))
		var serviceErr *ServiceError
		if errors.As(txErr, &serviceErr) {
			return SpatialComment{}, txErr
		}
		return SpatialComment{}, newServiceError(operation, "transaction_failed", txErr)
	}
	return updated, nil
}

func (s *Service) load(db *gorm.DB, projectID, commentID string) (SpatialComment, error) {
	var comment SpatialComment
	err := db.Where("project_id = ? AND id = ?", projectID, commentID).Take(&comment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SpatialComment{}, fmt.Errorf("%w: %s", ErrNotFound, commentID)
	}
	if err != nil {
		return SpatialComment{}, err
	}
	comment.normalize()
	return comment, nil
}

// normalize keeps replies a JSON array even for rows written without any.
func (c *SpatialComment) normalize() {
	if c.Replies == nil {
		c.Replies = []Reply{}
	}
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("comments service error", attrs...)
}
