package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/confops/confops/pkg/engine"
	"github.com/confops/confops/pkg/model"
	"github.com/confops/confops/pkg/store/postgres"
	redisclient "github.com/confops/confops/pkg/store/redis"
)

type ReviewerHandler struct {
	db     *postgres.Store
	redis  *redisclient.Client
	engine *engine.Engine
	logger *zap.Logger
}

func NewReviewerHandler(db *postgres.Store, redis *redisclient.Client, eng *engine.Engine, logger *zap.Logger) *ReviewerHandler {
	return &ReviewerHandler{db: db, redis: redis, engine: eng, logger: logger}
}

type reviewerCreateRequest struct {
	WorkflowID uint   `json:"workflowId" binding:"required"`
	ReviewerID string `json:"reviewerId" binding:"required"`
	IsRequired *bool  `json:"isRequired"`
	UserID     string `json:"userId"`
}

type reviewerDecisionRequest struct {
	Status   string `json:"status" binding:"required"`
	Comments string `json:"comments"`
	UserID   string `json:"userId"`
}

type reviewerResponse struct {
	ID         uint    `json:"id"`
	WorkflowID uint    `json:"workflowId"`
	ReviewerID string  `json:"reviewerId"`
	IsRequired bool    `json:"isRequired"`
	Status     string  `json:"status"`
	ReviewedAt *string `json:"reviewedAt,omitempty"`
	Comments   string  `json:"comments,omitempty"`
	CreatedAt  string  `json:"createdAt"`
}

// List answers either "who must decide on this workflow" or "what is pending
// this principal's review". Exactly one of the two query parameters is
// accepted per call.
func (h *ReviewerHandler) List(c *gin.Context) {
	workflowID := strings.TrimSpace(c.Query("workflowId"))
	userID := strings.TrimSpace(c.Query("userId"))

	if (workflowID == "") == (userID == "") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly one of workflowId or userId is required"})
		return
	}

	repo := postgres.NewReviewerRepository(h.db.DB())

	var reviewers []model.WorkflowReviewer
	var err error
	if workflowID != "" {
		id, ok := parseID(workflowID)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflowId"})
			return
		}
		if !workflowExists(c, h.db, h.logger, id) {
			return
		}
		reviewers, err = repo.ListByWorkflow(c.Request.Context(), id)
	} else {
		reviewers, err = repo.ListByReviewer(c.Request.Context(), userID)
	}
	if err != nil {
		h.logger.Error("failed to list reviewers", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reviewers"})
		return
	}

	response := make([]reviewerResponse, 0, len(reviewers))
	for i := range reviewers {
		response = append(response, mapReviewer(&reviewers[i]))
	}

	c.JSON(http.StatusOK, response)
}

func (h *ReviewerHandler) Create(c *gin.Context) {
	var req reviewerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	required := true
	if req.IsRequired != nil {
		required = *req.IsRequired
	}

	actor := principalFrom(c, req.UserID)
	reviewer, err := h.engine.AddReviewer(c.Request.Context(), actor, req.WorkflowID, req.ReviewerID, required)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, mapReviewer(reviewer))
}

func (h *ReviewerHandler) Decide(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reviewer id"})
		return
	}

	var req reviewerDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	actor := principalFrom(c, req.UserID)
	reviewer, workflow, err := h.engine.RecordDecision(c.Request.Context(), actor, id, model.ReviewerStatus(req.Status), req.Comments)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	publishResolved(c.Request.Context(), h.db, h.redis, h.logger, workflow)

	c.JSON(http.StatusOK, gin.H{
		"reviewer": mapReviewer(reviewer),
		"workflow": mapWorkflow(workflow),
	})
}

func mapReviewer(reviewer *model.WorkflowReviewer) reviewerResponse {
	return reviewerResponse{
		ID:         reviewer.ID,
		WorkflowID: reviewer.WorkflowID,
		ReviewerID: reviewer.ReviewerID,
		IsRequired: reviewer.IsRequired,
		Status:     string(reviewer.Status),
		ReviewedAt: formatTime(reviewer.ReviewedAt),
		Comments:   reviewer.Comments,
		CreatedAt:  reviewer.CreatedAt.UTC().Format(timeRFC3339Nano),
	}
}
