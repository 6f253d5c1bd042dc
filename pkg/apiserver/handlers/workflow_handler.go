package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/confops/confops/pkg/engine"
	"github.com/confops/confops/pkg/model"
	"github.com/confops/confops/pkg/notify"
	"github.com/confops/confops/pkg/store/postgres"
	redisclient "github.com/confops/confops/pkg/store/redis"
)

type WorkflowHandler struct {
	db     *postgres.Store
	redis  *redisclient.Client
	engine *engine.Engine
	logger *zap.Logger
}

func NewWorkflowHandler(db *postgres.Store, redis *redisclient.Client, eng *engine.Engine, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{db: db, redis: redis, engine: eng, logger: logger}
}

type workflowCreateRequest struct {
	Title            string                 `json:"title" binding:"required"`
	Description      string                 `json:"description"`
	ItemType         string                 `json:"itemType" binding:"required"`
	ItemID           string                 `json:"itemId" binding:"required"`
	Priority         string                 `json:"priority"`
	DueDate          *time.Time             `json:"dueDate"`
	EstimatedCosts   string                 `json:"estimatedCosts"`
	Metadata         map[string]interface{} `json:"metadata"`
	Tags             []string               `json:"tags"`
	RequesterID      string                 `json:"requesterId"`
	ReviewerIDs      []string               `json:"reviewerIds"`
	RequiredFlags    []bool                 `json:"requiredFlags"`
	StakeholderIDs   []string               `json:"stakeholderIds"`
	StakeholderRoles []string               `json:"stakeholderRoles"`
}

type workflowUpdateRequest struct {
	Title          *string                `json:"title"`
	Description    *string                `json:"description"`
	Priority       *string                `json:"priority"`
	DueDate        *time.Time             `json:"dueDate"`
	EstimatedCosts *string                `json:"estimatedCosts"`
	Metadata       map[string]interface{} `json:"metadata"`
	Tags           []string               `json:"tags"`
	UserID         string                 `json:"userId"`
}

type statusOverrideRequest struct {
	Status string `json:"status" binding:"required"`
	UserID string `json:"userId"`
}

type workflowResponse struct {
	ID             uint        `json:"id"`
	Title          string      `json:"title"`
	Description    string      `json:"description,omitempty"`
	ItemType       string      `json:"itemType"`
	ItemID         string      `json:"itemId"`
	Status         string      `json:"status"`
	Priority       string      `json:"priority"`
	DueDate        *string     `json:"dueDate,omitempty"`
	EstimatedCosts string      `json:"estimatedCosts,omitempty"`
	RequesterID    string      `json:"requesterId"`
	Metadata       model.JSONB `json:"metadata,omitempty"`
	Tags           []string    `json:"tags,omitempty"`
	CreatedAt      string      `json:"createdAt"`
	UpdatedAt      string      `json:"updatedAt"`
}

type workflowDetailResponse struct {
	workflowResponse
	Reviewers    []reviewerResponse    `json:"reviewers"`
	Stakeholders []stakeholderResponse `json:"stakeholders"`
	Comments     []commentResponse     `json:"comments"`
	History      []historyResponse     `json:"history"`
}

func (h *WorkflowHandler) Create(c *gin.Context) {
	var req workflowCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	if len(req.RequiredFlags) > 0 && len(req.RequiredFlags) != len(req.ReviewerIDs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requiredFlags must match reviewerIds"})
		return
	}
	if len(req.StakeholderRoles) > 0 && len(req.StakeholderRoles) != len(req.StakeholderIDs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stakeholderRoles must match stakeholderIds"})
		return
	}

	reviewers := make([]engine.ReviewerInput, 0, len(req.ReviewerIDs))
	for i, id := range req.ReviewerIDs {
		required := true
		if len(req.RequiredFlags) > 0 {
			required = req.RequiredFlags[i]
		}
		reviewers = append(reviewers, engine.ReviewerInput{ReviewerID: id, Required: required})
	}

	stakeholders := make([]engine.StakeholderInput, 0, len(req.StakeholderIDs))
	for i, id := range req.StakeholderIDs {
		role := ""
		if len(req.StakeholderRoles) > 0 {
			role = req.StakeholderRoles[i]
		}
		stakeholders = append(stakeholders, engine.StakeholderInput{StakeholderID: id, Role: role})
	}

	actor := principalFrom(c, req.RequesterID)
	workflow, err := h.engine.Create(c.Request.Context(), actor, engine.CreateInput{
		Title:          req.Title,
		Description:    req.Description,
		ItemType:       model.ItemType(req.ItemType),
		ItemID:         req.ItemID,
		Priority:       model.Priority(req.Priority),
		DueDate:        req.DueDate,
		EstimatedCosts: req.EstimatedCosts,
		Metadata:       model.JSONB(req.Metadata),
		Tags:           req.Tags,
		Reviewers:      reviewers,
		Stakeholders:   stakeholders,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, mapWorkflow(workflow))
}

func (h *WorkflowHandler) List(c *gin.Context) {
	var filter postgres.ListFilter
	dimensions := 0

	if value := strings.TrimSpace(c.Query("status")); value != "" {
		status := model.WorkflowStatus(value)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
		filter.Status = &status
		dimensions++
	}
	itemType := strings.TrimSpace(c.Query("itemType"))
	itemID := strings.TrimSpace(c.Query("itemId"))
	if itemType != "" || itemID != "" {
		parsed := model.ItemType(itemType)
		if itemType != "" && !parsed.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid itemType"})
			return
		}
		if itemType != "" {
			filter.ItemType = &parsed
		}
		filter.ItemID = itemID
		dimensions++
	}
	if value := strings.TrimSpace(c.Query("requesterId")); value != "" {
		filter.RequesterID = value
		dimensions++
	}
	if dimensions > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "only one filter dimension may be used per call"})
		return
	}

	limit := parseLimit(c.Query("limit"), 20)
	offset := parseOffset(c.Query("offset"))

	repo := postgres.NewWorkflowRepository(h.db.DB())
	workflows, total, err := repo.List(c.Request.Context(), filter, limit, offset)
	if err != nil {
		h.logger.Error("failed to list workflows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list workflows"})
		return
	}

	response := make([]workflowResponse, 0, len(workflows))
	for i := range workflows {
		response = append(response, mapWorkflow(&workflows[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": response,
		"total":     total,
	})
}

func (h *WorkflowHandler) Get(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	repo := postgres.NewWorkflowRepository(h.db.DB())
	workflow, err := repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return
		}
		h.logger.Error("failed to get workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get workflow"})
		return
	}

	detail := workflowDetailResponse{
		workflowResponse: mapWorkflow(workflow),
		Reviewers:        make([]reviewerResponse, 0, len(workflow.Reviewers)),
		Stakeholders:     make([]stakeholderResponse, 0, len(workflow.Stakeholders)),
		Comments:         make([]commentResponse, 0, len(workflow.Comments)),
		History:          make([]historyResponse, 0, len(workflow.History)),
	}
	for i := range workflow.Reviewers {
		detail.Reviewers = append(detail.Reviewers, mapReviewer(&workflow.Reviewers[i]))
	}
	for i := range workflow.Stakeholders {
		detail.Stakeholders = append(detail.Stakeholders, mapStakeholder(&workflow.Stakeholders[i]))
	}
	for i := range workflow.Comments {
		detail.Comments = append(detail.Comments, mapComment(&workflow.Comments[i]))
	}
	for i := range workflow.History {
		detail.History = append(detail.History, mapHistory(&workflow.History[i]))
	}

	c.JSON(http.StatusOK, detail)
}

func (h *WorkflowHandler) Update(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var req workflowUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	var priority *model.Priority
	if req.Priority != nil {
		parsed := model.Priority(*req.Priority)
		priority = &parsed
	}

	actor := principalFrom(c, req.UserID)
	workflow, err := h.engine.Update(c.Request.Context(), actor, id, engine.UpdateInput{
		Title:          req.Title,
		Description:    req.Description,
		Priority:       priority,
		DueDate:        req.DueDate,
		EstimatedCosts: req.EstimatedCosts,
		Metadata:       model.JSONB(req.Metadata),
		Tags:           req.Tags,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, mapWorkflow(workflow))
}

func (h *WorkflowHandler) OverrideStatus(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	var req statusOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	actor := principalFrom(c, req.UserID)
	workflow, err := h.engine.OverrideStatus(c.Request.Context(), actor, id, model.WorkflowStatus(req.Status))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	publishResolved(c.Request.Context(), h.db, h.redis, h.logger, workflow)

	c.JSON(http.StatusOK, mapWorkflow(workflow))
}

func (h *WorkflowHandler) Delete(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	actor := principalFrom(c, c.Query("userId"))
	if err := h.engine.Delete(c.Request.Context(), actor, id); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// publishResolved hands terminal workflows to the notification bus. Delivery
// is flag-and-forget: failures are logged and never surfaced to the caller.
func publishResolved(ctx context.Context, db *postgres.Store, redis *redisclient.Client, logger *zap.Logger, workflow *model.ApprovalWorkflow) {
	if redis == nil || workflow == nil || workflow.Status == model.WorkflowPending {
		return
	}

	stakeholders, err := postgres.NewStakeholderRepository(db.DB()).ListByWorkflow(ctx, workflow.ID)
	if err != nil {
		logger.Error("failed to load stakeholders for notification", zap.Error(err))
		return
	}

	bus := notify.NewBus(redis.Client())
	if err := bus.PublishResolved(ctx, workflow, stakeholders); err != nil {
		logger.Error("failed to publish workflow event",
			zap.Uint("workflow_id", workflow.ID),
			zap.Error(err))
		return
	}

	// Published, so the relay must not sweep these rows up again.
	if err := postgres.NewStakeholderRepository(db.DB()).MarkWorkflowNotified(ctx, workflow.ID, time.Now().UTC()); err != nil {
		logger.Error("failed to mark stakeholders notified",
			zap.Uint("workflow_id", workflow.ID),
			zap.Error(err))
	}
}

func mapWorkflow(workflow *model.ApprovalWorkflow) workflowResponse {
	return workflowResponse{
		ID:             workflow.ID,
		Title:          workflow.Title,
		Description:    workflow.Description,
		ItemType:       string(workflow.ItemType),
		ItemID:         workflow.ItemID,
		Status:         string(workflow.Status),
		Priority:       string(workflow.Priority),
		DueDate:        formatTime(workflow.DueDate),
		EstimatedCosts: workflow.EstimatedCosts,
		RequesterID:    workflow.RequesterID,
		Metadata:       workflow.Metadata,
		Tags:           workflow.Tags,
		CreatedAt:      workflow.CreatedAt.UTC().Format(timeRFC3339Nano),
		UpdatedAt:      workflow.UpdatedAt.UTC().Format(timeRFC3339Nano),
	}
}
