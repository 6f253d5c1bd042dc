package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/confops/confops/pkg/model"
	"github.com/confops/confops/pkg/store/postgres"
)

type StakeholderHandler struct {
	db     *postgres.Store
	logger *zap.Logger
}

func NewStakeholderHandler(db *postgres.Store, logger *zap.Logger) *StakeholderHandler {
	return &StakeholderHandler{db: db, logger: logger}
}

type markNotifiedRequest struct {
	NotifiedAt *time.Time `json:"notifiedAt"`
}

type stakeholderResponse struct {
	ID            uint    `json:"id"`
	WorkflowID    uint    `json:"workflowId"`
	StakeholderID string  `json:"stakeholderId"`
	Role          string  `json:"role,omitempty"`
	Notified      bool    `json:"notified"`
	NotifiedAt    *string `json:"notifiedAt,omitempty"`
	CreatedAt     string  `json:"createdAt"`
}

func (h *StakeholderHandler) List(c *gin.Context) {
	workflowID, ok := parseID(strings.TrimSpace(c.Query("workflowId")))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflowId is required"})
		return
	}

	if !workflowExists(c, h.db, h.logger, workflowID) {
		return
	}

	stakeholders, err := postgres.NewStakeholderRepository(h.db.DB()).ListByWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		h.logger.Error("failed to list stakeholders", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list stakeholders"})
		return
	}

	response := make([]stakeholderResponse, 0, len(stakeholders))
	for i := range stakeholders {
		response = append(response, mapStakeholder(&stakeholders[i]))
	}

	c.JSON(http.StatusOK, response)
}

// MarkNotified records that an external dispatcher has delivered the outcome
// notification for this stakeholder.
func (h *StakeholderHandler) MarkNotified(c *gin.Context) {
	id, ok := parseID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid stakeholder id"})
		return
	}

	var req markNotifiedRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	when := time.Now().UTC()
	if req.NotifiedAt != nil {
		when = req.NotifiedAt.UTC()
	}

	stakeholder, err := postgres.NewStakeholderRepository(h.db.DB()).MarkNotified(c.Request.Context(), id, when)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "stakeholder not found"})
			return
		}
		h.logger.Error("failed to mark stakeholder notified", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mark stakeholder notified"})
		return
	}

	c.JSON(http.StatusOK, mapStakeholder(stakeholder))
}

func mapStakeholder(stakeholder *model.WorkflowStakeholder) stakeholderResponse {
	return stakeholderResponse{
		ID:            stakeholder.ID,
		WorkflowID:    stakeholder.WorkflowID,
		StakeholderID: stakeholder.StakeholderID,
		Role:          stakeholder.Role,
		Notified:      stakeholder.Notified,
		NotifiedAt:    formatTime(stakeholder.NotifiedAt),
		CreatedAt:     stakeholder.CreatedAt.UTC().Format(timeRFC3339Nano),
	}
}
