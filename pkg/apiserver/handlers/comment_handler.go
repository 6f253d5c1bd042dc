package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/confops/confops/pkg/model"
	"github.com/confops/confops/pkg/store/postgres"
)

type CommentHandler struct {
	db     *postgres.Store
	logger *zap.Logger
}

func NewCommentHandler(db *postgres.Store, logger *zap.Logger) *CommentHandler {
	return &CommentHandler{db: db, logger: logger}
}

type commentCreateRequest struct {
	WorkflowID  uint   `json:"workflowId" binding:"required"`
	CommenterID string `json:"commenterId"`
	Comment     string `json:"comment" binding:"required"`
}

type commentResponse struct {
	ID          uint   `json:"id"`
	WorkflowID  uint   `json:"workflowId"`
	CommenterID string `json:"commenterId"`
	Comment     string `json:"comment"`
	CreatedAt   string `json:"createdAt"`
}

func (h *CommentHandler) List(c *gin.Context) {
	workflowID, ok := parseID(strings.TrimSpace(c.Query("workflowId")))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	if !workflowExists(c, h.db, h.logger, workflowID) {
		return
	}

	comments, err := postgres.NewCommentRepository(h.db.DB()).ListByWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		h.logger.Error("failed to list comments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list comments"})
		return
	}

	response := make([]commentResponse, 0, len(comments))
	for i := range comments {
		response = append(response, mapComment(&comments[i]))
	}

	c.JSON(http.StatusOK, response)
}

// Create appends to the discussion thread. Comments attach regardless of the
// workflow's status and are never edited afterwards.
func (h *CommentHandler) Create(c *gin.Context) {
	var req commentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if strings.TrimSpace(req.Comment) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "comment must not be empty"})
		return
	}

	commenterID := req.CommenterID
	if commenterID == "" {
		commenterID = principalFrom(c, "").ID
	}
	if commenterID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commenterId is required"})
		return
	}

	if !workflowExists(c, h.db, h.logger, req.WorkflowID) {
		return
	}

	comment := &model.WorkflowComment{
		WorkflowID:  req.WorkflowID,
		CommenterID: commenterID,
		Comment:     req.Comment,
	}
	if err := postgres.NewCommentRepository(h.db.DB()).Create(c.Request.Context(), comment); err != nil {
		h.logger.Error("failed to create comment", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create comment"})
		return
	}

	c.JSON(http.StatusCreated, mapComment(comment))
}

func mapComment(comment *model.WorkflowComment) commentResponse {
	return commentResponse{
		ID:          comment.ID,
		WorkflowID:  comment.WorkflowID,
		CommenterID: comment.CommenterID,
		Comment:     comment.Comment,
		CreatedAt:   comment.CreatedAt.UTC().Format(timeRFC3339Nano),
	}
}
