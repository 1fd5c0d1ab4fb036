package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/comments"
	"github.com/MarcoPoloResearchLab/taskboard/backend/internal/users"
)

type createCommentPayload struct {
	Text string  `json:"text"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type updateCommentPayload struct {
	Text     string           `json:"text"`
	X        float64          `json:"x"`
	Y        float64          `json:"y"`
	Resolved bool             `json:"resolved"`
	Replies  []comments.Reply `json:"replies"`
}

type replyPayload struct {
	Text string `json:"text"`
}

type listCommentsResponse struct {
	Comments []comments.SpatialComment `json:"comments"`
}

func (h *httpHandler) handleListComments(c *gin.Context) {
	listed, err := h.comments.List(c.Request.Context(), c.Param("projectId"))
	if err != nil {
		h.respondCommentError(c, err)
		return
	}
	c.JSON(http.StatusOK, listCommentsResponse{Comments: listed})
}

func (h *httpHandler) handleCreateComment(c *gin.Context) {
	profile, ok := profileFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request createCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	created, err := h.comments.Create(c.Request.Context(), c.Param("projectId"), comments.CreateRequest{
		Author: authorFromProfile(profile),
		Text:   request.Text,
		X:      request.X,
		Y:      request.Y,
	})
	if err != nil {
		h.respondCommentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (h *httpHandler) handleUpdateComment(c *gin.Context) {
	var request updateCommentPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.comments.Update(c.Request.Context(), c.Param("projectId"), c.Param("commentId"), comments.UpdateRequest{
		Text:     request.Text,
		X:        request.X,
		Y:        request.Y,
		Resolved: request.Resolved,
		Replies:  request.Replies,
	})
	if err != nil {
		h.respondCommentError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) handleAddReply(c *gin.Context) {
	profile, ok := profileFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	var request replyPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	updated, err := h.comments.AddReply(c.Request.Context(), c.Param("projectId"), c.Param("commentId"), comments.ReplyRequest{
		Author: authorFromProfile(profile),
		Text:   request.Text,
	})
	if err != nil {
		h.respondCommentError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *httpHandler) respondCommentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, comments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, comments.ErrInvalidProjectID),
		errors.Is(err, comments.ErrInvalidCommentID),
		errors.Is(err, comments.ErrInvalidAuthor),
		errors.Is(err, comments.ErrInvalidText):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		code := "comments_failed"
		var serviceErr *comments.ServiceError
		if errors.As(err, &serviceErr) {
			code = serviceErr.Code()
		}
		h.logger.Error("comments request failed", zap.String("code", code), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": code})
	}
}

func authorFromProfile(profile users.Profile) comments.Author {
	return comments.Author{
		UserID:    profile.UserID,
		UserName:  profile.DisplayName,
		UserColor: profile.Color,
	}
}
